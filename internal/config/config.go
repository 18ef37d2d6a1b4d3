package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SlowPolicy selects what happens to a session whose outbound queue is full.
type SlowPolicy string

const (
	// SlowPolicyDropOldest evicts the oldest queued update to admit the new one.
	SlowPolicyDropOldest SlowPolicy = "drop_oldest"
	// SlowPolicyDisconnect forcibly closes the slow session.
	SlowPolicyDisconnect SlowPolicy = "disconnect"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL      string
	DatabaseMaxConns int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ServerAddr       string
	UpstreamWSURL    string
	UpstreamPrograms []string
	CacheTTL         time.Duration
	ResolveTimeout   time.Duration
	SessionQueueSize int
	SlowPolicy       SlowPolicy
	IngestWorkers    int
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "account_relay")
		pass := getenv("POSTGRES_PASSWORD", "account_relay_pass")
		db := getenv("POSTGRES_DB", "account_relay")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	upstream := os.Getenv("UPSTREAM_WS_URL")
	if upstream == "" {
		return nil, fmt.Errorf("UPSTREAM_WS_URL is required")
	}

	var programs []string
	for _, p := range strings.Split(getenv("UPSTREAM_PROGRAMS", ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			programs = append(programs, p)
		}
	}

	policy := SlowPolicy(getenv("SLOW_CONSUMER_POLICY", string(SlowPolicyDropOldest)))
	if policy != SlowPolicyDropOldest && policy != SlowPolicyDisconnect {
		return nil, fmt.Errorf("invalid SLOW_CONSUMER_POLICY %q", policy)
	}

	return &Config{
		DatabaseURL:      dsn,
		DatabaseMaxConns: parseInt(getenv("DATABASE_MAX_CONNECTIONS", "10"), 10),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          parseInt(getenv("REDIS_DB", "0"), 0),
		ServerAddr:       getenv("SERVER_ADDR", "0.0.0.0:8080"),
		UpstreamWSURL:    upstream,
		UpstreamPrograms: programs,
		CacheTTL:         parseDuration(getenv("CACHE_TTL", "1h"), time.Hour),
		ResolveTimeout:   parseDuration(getenv("RESOLVE_TIMEOUT", "2s"), 2*time.Second),
		SessionQueueSize: parseInt(getenv("SESSION_QUEUE_SIZE", "100"), 100),
		SlowPolicy:       policy,
		IngestWorkers:    parseInt(getenv("INGEST_WORKERS", "4"), 4),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
