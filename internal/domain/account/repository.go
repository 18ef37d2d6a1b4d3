package account

import (
	"context"
	"time"
)

// Repository is the durable tier. It is the recovery path for cold starts
// and cache misses, never the source of truth for live traffic.
type Repository interface {
	// GetLatest returns the most recent persisted state for key, or
	// ErrNotFound.
	GetLatest(ctx context.Context, key Key) (*State, error)

	// UpsertLatest writes the latest-state row for st.Key. It must never
	// regress the stored slot (a delayed write loses to a newer one).
	UpsertLatest(ctx context.Context, st *State) error

	// AppendAudit records st in the append-only history keyed (key, slot).
	// Redelivery of the same slot is a no-op. The audit table is never
	// read for live resolution.
	AppendAudit(ctx context.Context, st *State) error
}

// Cache is the fast external tier: get/set by key with bounded expiry.
type Cache interface {
	// Get returns the cached state for key, or ErrNotFound.
	Get(ctx context.Context, key Key) (*State, error)

	// Set stores st under its key with the given TTL.
	Set(ctx context.Context, st *State, ttl time.Duration) error
}
