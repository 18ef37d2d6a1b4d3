package ws

import (
	"github.com/account-relay/account-relay/internal/domain/account"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Command is a client request: subscribe to or unsubscribe from one key.
type Command struct {
	Action string `json:"action"`
	Pubkey string `json:"pubkey"`
}

// Response is both the one-shot snapshot reply to a subscribe and the
// shape of every streamed update (source is always "live" for those).
// State is null with source "none" when no state exists yet.
type Response struct {
	Pubkey string         `json:"pubkey"`
	Source account.Source `json:"source"`
	State  *account.State `json:"state"`
}

// Ack acknowledges an unsubscribe.
type Ack struct {
	Action string `json:"action"`
	Pubkey string `json:"pubkey"`
}

// ErrorReply is sent for malformed or unrecognized commands. The session
// stays alive.
type ErrorReply struct {
	Error string `json:"error"`
}
