package state

import "sync/atomic"

// Counters are engine-wide observability counters. All fields are
// monotonically increasing; Snapshot is served on /statusz.
type Counters struct {
	Applied         atomic.Uint64
	Stale           atomic.Uint64
	PersistFailures atomic.Uint64
	CacheFailures   atomic.Uint64
	ResolveLive     atomic.Uint64
	ResolveCache    atomic.Uint64
	ResolveDatabase atomic.Uint64
	ResolveMiss     atomic.Uint64
}

func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"applied":          c.Applied.Load(),
		"stale":            c.Stale.Load(),
		"persist_failures": c.PersistFailures.Load(),
		"cache_failures":   c.CacheFailures.Load(),
		"resolve_live":     c.ResolveLive.Load(),
		"resolve_cache":    c.ResolveCache.Load(),
		"resolve_database": c.ResolveDatabase.Load(),
		"resolve_miss":     c.ResolveMiss.Load(),
	}
}
