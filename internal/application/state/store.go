package state

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/domain/account"
)

// Result reports the outcome of applying an update event.
type Result int

const (
	Applied Result = iota
	Stale
)

const (
	persistAttempts    = 3
	persistBaseBackoff = 200 * time.Millisecond
	persistMaxBackoff  = 2 * time.Second
	persistTimeout     = 5 * time.Second
)

// Store owns the authoritative in-memory map of account states and the
// write-behind path to the durable and cache tiers. Mutation is exclusive
// per key; distinct keys apply in parallel.
type Store struct {
	mu      sync.RWMutex
	entries map[account.Key]*entry

	repo     account.Repository
	cache    account.Cache
	cacheTTL time.Duration
	counters *Counters
	logger   zerolog.Logger

	wg sync.WaitGroup
}

type entry struct {
	mu    sync.Mutex
	state *account.State
}

// NewStore creates the state store.
func NewStore(repo account.Repository, cache account.Cache, cacheTTL time.Duration, counters *Counters, logger zerolog.Logger) *Store {
	return &Store{
		entries:  make(map[account.Key]*entry),
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		counters: counters,
		logger:   logger.With().Str("service", "state").Logger(),
	}
}

// Apply runs the per-key ordering rule for ev. The first event for a key
// always applies; afterwards only events with a higher slot do. Stale
// events mutate nothing and are not an error. On Applied the new state is
// persisted and cached in the background, off the critical path.
func (s *Store) Apply(ev account.UpdateEvent) (Result, *account.State) {
	e := s.entry(ev.Key)

	e.mu.Lock()
	if e.state != nil && ev.Slot <= e.state.Slot {
		last := e.state.Slot
		e.mu.Unlock()
		s.counters.Stale.Add(1)
		s.logger.Trace().
			Str("pubkey", string(ev.Key)).
			Uint64("slot", ev.Slot).
			Uint64("last_slot", last).
			Msg("stale update dropped")
		return Stale, nil
	}
	st := account.StateOf(ev)
	e.state = st
	e.mu.Unlock()

	s.counters.Applied.Add(1)

	s.wg.Add(1)
	go s.persist(st.Clone())

	return Applied, st
}

// Get reads the live tier. The returned state must not be mutated.
func (s *Store) Get(key account.Key) (*account.State, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	if st == nil {
		return nil, false
	}
	return st, true
}

// Hydrate seeds the live tier from a colder one. It never regresses a
// slot already applied, so a snapshot read can never shadow a newer
// update that raced it.
func (s *Store) Hydrate(st *account.State) {
	e := s.entry(st.Key)
	e.mu.Lock()
	if e.state == nil || st.Slot > e.state.Slot {
		e.state = st
	}
	e.mu.Unlock()
}

// Wait blocks until all in-flight background persists have finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) entry(key account.Key) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &entry{}
	s.entries[key] = e
	return e
}

// persist writes st to the durable tier with capped exponential backoff,
// then refreshes the cache tier. Failure never propagates: the in-memory
// map is the source of truth for live traffic and the durable tier only
// serves cold starts and cache misses.
func (s *Store) persist(st *account.State) {
	defer s.wg.Done()

	backoff := persistBaseBackoff
	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		lastErr = s.writeDurable(st)
		if lastErr == nil {
			break
		}
		if attempt < persistAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > persistMaxBackoff {
				backoff = persistMaxBackoff
			}
		}
	}
	if lastErr != nil {
		s.counters.PersistFailures.Add(1)
		s.logger.Error().Err(lastErr).
			Str("pubkey", string(st.Key)).
			Uint64("slot", st.Slot).
			Msg("persist failed after retries")
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, st, s.cacheTTL); err != nil {
		s.counters.CacheFailures.Add(1)
		s.logger.Warn().Err(err).
			Str("pubkey", string(st.Key)).
			Msg("cache refresh failed")
	}
}

func (s *Store) writeDurable(st *account.State) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.repo.UpsertLatest(ctx, st); err != nil {
		return err
	}
	return s.repo.AppendAudit(ctx, st)
}
