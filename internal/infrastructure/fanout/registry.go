package fanout

import (
	"sync"

	"github.com/google/uuid"

	"github.com/account-relay/account-relay/internal/domain/account"
)

// Subscriber is a connected session as the fan-out layer sees it: an
// identity and a non-blocking delivery attempt onto its bounded queue.
// Deliver reports false when the update was not admitted intact (the
// session is a slow consumer).
type Subscriber interface {
	ID() uuid.UUID
	Deliver(st *account.State) bool
}

// Registry maps keys to interested sessions and sessions to their keys.
// Both directions live behind one mutex so no interleaving can observe a
// session present in one map and absent from the other.
type Registry struct {
	mu        sync.Mutex
	byKey     map[account.Key]map[uuid.UUID]Subscriber
	bySession map[uuid.UUID]map[account.Key]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:     make(map[account.Key]map[uuid.UUID]Subscriber),
		bySession: make(map[uuid.UUID]map[account.Key]struct{}),
	}
}

// Join registers sub's interest in key. Idempotent.
func (r *Registry) Join(key account.Key, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byKey[key]
	if !ok {
		subs = make(map[uuid.UUID]Subscriber)
		r.byKey[key] = subs
	}
	subs[sub.ID()] = sub

	keys, ok := r.bySession[sub.ID()]
	if !ok {
		keys = make(map[account.Key]struct{})
		r.bySession[sub.ID()] = keys
	}
	keys[key] = struct{}{}
}

// Leave removes sub's interest in key. No-op if absent.
func (r *Registry) Leave(key account.Key, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(key, sub.ID())
}

// Detach removes sub from every key it was subscribed to. Safe to call
// for a session that never completed a subscribe.
func (r *Registry) Detach(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.bySession[sub.ID()] {
		r.remove(key, sub.ID())
	}
	delete(r.bySession, sub.ID())
}

// SubscribersOf returns the sessions currently registered for key.
func (r *Registry) SubscribersOf(key account.Key) []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.byKey[key]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// SubscriptionCount returns the number of keys held by the session.
func (r *Registry) SubscriptionCount(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession[id])
}

// caller holds r.mu
func (r *Registry) remove(key account.Key, id uuid.UUID) {
	if subs, ok := r.byKey[key]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.byKey, key)
		}
	}
	if keys, ok := r.bySession[id]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.bySession, id)
		}
	}
}
