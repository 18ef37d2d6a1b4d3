package account

import (
	"encoding/json"
	"errors"
	"time"
)

// Key identifies a tracked account. It is opaque to the engine; equality
// is byte-exact and it is used as the map key everywhere.
type Key string

// Source tags a resolved snapshot or streamed update with its provenance.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceDatabase Source = "database"
	SourceNone     Source = "none"
)

var (
	ErrNotFound = errors.New("account state not found")
)

// State is the latest known state of one account. The same shape is held
// in memory, cached in Redis, persisted to Postgres, and sent on the wire.
type State struct {
	Key        Key             `json:"pubkey"`
	Slot       uint64          `json:"slot"`
	Owner      string          `json:"owner"`
	Lamports   uint64          `json:"lamports"`
	TypeTag    string          `json:"accountType"`
	Data       json.RawMessage `json:"data"`
	ObservedAt time.Time       `json:"observedAt"`
}

// UpdateEvent is one account change as delivered by the upstream feed.
// The feed guarantees neither ordering nor deduplication; the slot is the
// only ordering information and it is meaningful per key only.
type UpdateEvent struct {
	Key      Key             `json:"pubkey"`
	Slot     uint64          `json:"slot"`
	Owner    string          `json:"owner"`
	Lamports uint64          `json:"lamports"`
	TypeTag  string          `json:"accountType"`
	Data     json.RawMessage `json:"data"`
}

// StateOf builds the State an event would produce if applied now.
func StateOf(ev UpdateEvent) *State {
	return &State{
		Key:        ev.Key,
		Slot:       ev.Slot,
		Owner:      ev.Owner,
		Lamports:   ev.Lamports,
		TypeTag:    ev.TypeTag,
		Data:       ev.Data,
		ObservedAt: time.Now().UTC(),
	}
}

// Clone returns a copy safe to hand to another goroutine. The Data slice
// is shared; callers never mutate it.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
