package fanout

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/domain/account"
)

// Counters track fan-out outcomes.
type Counters struct {
	Published atomic.Uint64
	Delivered atomic.Uint64
	Slow      atomic.Uint64
}

func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"published": c.Published.Load(),
		"delivered": c.Delivered.Load(),
		"slow":      c.Slow.Load(),
	}
}

// Broadcaster delivers an applied update to every session registered for
// its key. Enqueue is non-blocking per session, so one slow consumer never
// delays delivery to any other; the slow-consumer policy itself lives in
// the session's queue (drop-oldest by default, disconnect if configured).
type Broadcaster struct {
	registry *Registry
	counters *Counters
	logger   zerolog.Logger
}

func NewBroadcaster(registry *Registry, counters *Counters, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		counters: counters,
		logger:   logger.With().Str("service", "broadcast").Logger(),
	}
}

// Publish fans st out to the current subscribers of key. Delivery per
// session is at-most-once per applied update and slot-ordered within the
// key; there is no ordering across keys.
func (b *Broadcaster) Publish(key account.Key, st *account.State) {
	subs := b.registry.SubscribersOf(key)
	if len(subs) == 0 {
		return
	}
	b.counters.Published.Add(1)
	for _, sub := range subs {
		if sub.Deliver(st) {
			b.counters.Delivered.Add(1)
			continue
		}
		b.counters.Slow.Add(1)
		b.logger.Debug().
			Str("session", sub.ID().String()).
			Str("pubkey", string(key)).
			Msg("slow consumer")
	}
}
