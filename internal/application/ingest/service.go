package ingest

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/application/state"
	"github.com/account-relay/account-relay/internal/domain/account"
	"github.com/account-relay/account-relay/internal/infrastructure/fanout"
)

// Service consumes events from the upstream feed, applies each through
// the state store and publishes the accepted ones. Events are sharded
// across workers by key hash: updates for one key stay in arrival order
// while distinct keys apply in parallel.
type Service struct {
	store       *state.Store
	broadcaster *fanout.Broadcaster
	workers     int
	logger      zerolog.Logger
}

func NewService(store *state.Store, broadcaster *fanout.Broadcaster, workers int, logger zerolog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		workers:     workers,
		logger:      logger.With().Str("service", "ingest").Logger(),
	}
}

// Run consumes events until the feed channel closes or ctx is cancelled,
// then drains events already handed to workers before returning.
func (s *Service) Run(ctx context.Context, events <-chan account.UpdateEvent) {
	shards := make([]chan account.UpdateEvent, s.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan account.UpdateEvent, 64)
		wg.Add(1)
		go func(ch <-chan account.UpdateEvent) {
			defer wg.Done()
			for ev := range ch {
				s.handle(ev)
			}
		}(shards[i])
	}

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			shards[s.shard(ev.Key)] <- ev
		}
	}
}

func (s *Service) handle(ev account.UpdateEvent) {
	res, st := s.store.Apply(ev)
	if res == state.Stale {
		return
	}
	s.logger.Debug().
		Str("pubkey", string(st.Key)).
		Uint64("slot", st.Slot).
		Str("account_type", st.TypeTag).
		Msg("update applied")
	s.broadcaster.Publish(st.Key, st)
}

func (s *Service) shard(key account.Key) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(s.workers))
}
