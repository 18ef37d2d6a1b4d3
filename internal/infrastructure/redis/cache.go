package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/account-relay/account-relay/internal/domain/account"
)

const keyPrefix = "account:"

// Cache implements account.Cache on Redis. Values are the JSON encoding
// of account.State under "account:<pubkey>" with a bounded TTL.
type Cache struct {
	client redis.UniversalClient
}

// NewCache connects to Redis and verifies the connection with a ping.
func NewCache(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{client: client}, nil
}

// NewCacheWithClient wraps an existing client (tests).
func NewCacheWithClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key account.Key) (*account.State, error) {
	raw, err := c.client.Get(ctx, keyPrefix+string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	st := &account.State{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return st, nil
}

func (c *Cache) Set(ctx context.Context, st *account.State, ttl time.Duration) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", st.Key, err)
	}
	if err := c.client.Set(ctx, keyPrefix+string(st.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", st.Key, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
