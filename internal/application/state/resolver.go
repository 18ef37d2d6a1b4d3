package state

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/domain/account"
)

// Resolver answers "what is the current state of key K" by checking the
// live in-memory tier first, then the cache tier, then the durable tier.
// The live map is updated synchronously on apply while the external cache
// is refreshed asynchronously, so this ordering can never report a
// snapshot older than an update already broadcast.
type Resolver struct {
	store    *Store
	cache    account.Cache
	repo     account.Repository
	cacheTTL time.Duration
	timeout  time.Duration
	counters *Counters
	logger   zerolog.Logger
}

// NewResolver creates a resolver over the three tiers.
func NewResolver(store *Store, cache account.Cache, repo account.Repository, cacheTTL, timeout time.Duration, counters *Counters, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		cache:    cache,
		repo:     repo,
		cacheTTL: cacheTTL,
		timeout:  timeout,
		counters: counters,
		logger:   logger.With().Str("service", "resolver").Logger(),
	}
}

// Resolve returns the current snapshot for key tagged with its
// provenance, or (nil, SourceNone). External-tier lookups are bounded by
// the resolve timeout; a degraded tier is skipped, never waited on.
func (r *Resolver) Resolve(ctx context.Context, key account.Key) (*account.State, account.Source) {
	if st, ok := r.store.Get(key); ok {
		r.counters.ResolveLive.Add(1)
		return st, account.SourceLive
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	st, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		r.store.Hydrate(st)
		r.counters.ResolveCache.Add(1)
		return st, account.SourceCache
	case !errors.Is(err, account.ErrNotFound):
		r.logger.Warn().Err(err).Str("pubkey", string(key)).Msg("cache lookup failed, falling through")
	}

	st, err = r.repo.GetLatest(ctx, key)
	switch {
	case err == nil:
		r.store.Hydrate(st)
		go r.backfillCache(st)
		r.counters.ResolveDatabase.Add(1)
		return st, account.SourceDatabase
	case !errors.Is(err, account.ErrNotFound):
		r.logger.Warn().Err(err).Str("pubkey", string(key)).Msg("database lookup failed")
	}

	r.counters.ResolveMiss.Add(1)
	return nil, account.SourceNone
}

func (r *Resolver) backfillCache(st *account.State) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.cache.Set(ctx, st, r.cacheTTL); err != nil {
		r.logger.Warn().Err(err).Str("pubkey", string(st.Key)).Msg("cache backfill failed")
	}
}
