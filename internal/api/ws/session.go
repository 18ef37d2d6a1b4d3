package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/application/state"
	"github.com/account-relay/account-relay/internal/config"
	"github.com/account-relay/account-relay/internal/domain/account"
	"github.com/account-relay/account-relay/internal/infrastructure/fanout"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Session is one connected client. It processes subscribe/unsubscribe
// commands serially on its read pump and owns the bounded outbound queue
// the broadcaster delivers into. Command replies are written synchronously
// by the read pump under writeMu, which the write pump also takes for
// every frame: a subscribe holds the lock across Join and Resolve, so an
// update queued while the snapshot is still resolving cannot reach the
// wire before the snapshot reply. The session lives exactly as long as
// the connection.
type Session struct {
	id       uuid.UUID
	conn     *websocket.Conn
	registry *fanout.Registry
	resolver *state.Resolver
	policy   config.SlowPolicy

	queueMu sync.Mutex
	updates chan *account.State

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func NewSession(conn *websocket.Conn, registry *fanout.Registry, resolver *state.Resolver, queueSize int, policy config.SlowPolicy, logger zerolog.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:       id,
		conn:     conn,
		registry: registry,
		resolver: resolver,
		policy:   policy,
		updates:  make(chan *account.State, queueSize),
		done:     make(chan struct{}),
		logger:   logger.With().Str("session", id.String()).Logger(),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// Deliver attempts a non-blocking enqueue of st onto the outbound queue.
// On a full queue the configured slow-consumer policy applies: drop-oldest
// evicts the head so the queue stays slot-ordered with the newest update
// admitted; disconnect closes the session. Returns false when the session
// lost an update (it is a slow consumer).
func (s *Session) Deliver(st *account.State) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.queueMu.Lock()
	select {
	case s.updates <- st:
		s.queueMu.Unlock()
		return true
	default:
	}

	if s.policy == config.SlowPolicyDisconnect {
		s.queueMu.Unlock()
		s.logger.Warn().Str("pubkey", string(st.Key)).Msg("outbound queue full, disconnecting slow consumer")
		s.Close()
		return false
	}

	// drop-oldest
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st:
	default:
	}
	s.queueMu.Unlock()
	return false
}

// Run serves the connection until the client disconnects.
func (s *Session) Run() {
	go s.writePump()
	s.readPump()
}

// Close detaches the session from every subscription and tears down the
// connection. Idempotent and safe from any state.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.logger.Info().Msg("session closed")
	})
	// Outside the once: a subscribe racing the close can re-register the
	// session after the first detach, and the read pump's final Close
	// must remove it again. Detach is idempotent.
	s.registry.Detach(s)
}

func (s *Session) readPump() {
	defer s.Close()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.logger.Warn().Err(err).Msg("malformed command")
			s.send(ErrorReply{Error: "malformed command"})
			continue
		}
		s.handle(cmd)
	}
}

func (s *Session) handle(cmd Command) {
	if cmd.Pubkey == "" {
		s.send(ErrorReply{Error: "pubkey is required"})
		return
	}
	key := account.Key(cmd.Pubkey)

	switch cmd.Action {
	case ActionSubscribe:
		select {
		case <-s.done:
			return
		default:
		}
		// Interest registers before the snapshot is resolved: an update
		// racing the lookup lands in the queue instead of being lost.
		// writeMu is held across both, so that update stays queued until
		// the snapshot reply is on the wire. The client treats a
		// slot-equal-or-lower repeat as a no-op.
		s.writeMu.Lock()
		s.registry.Join(key, s)
		st, src := s.resolver.Resolve(context.Background(), key)
		s.logger.Debug().
			Str("pubkey", cmd.Pubkey).
			Str("source", string(src)).
			Msg("subscription established")
		s.writeLocked(Response{Pubkey: cmd.Pubkey, Source: src, State: st})
		s.writeMu.Unlock()
	case ActionUnsubscribe:
		s.registry.Leave(key, s)
		s.send(Ack{Action: ActionUnsubscribe, Pubkey: cmd.Pubkey})
	default:
		s.send(ErrorReply{Error: "unknown action: " + cmd.Action})
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case st := <-s.updates:
			if !s.send(Response{Pubkey: string(st.Key), Source: account.SourceLive, State: st}) {
				return
			}
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) send(v any) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(v)
}

// caller holds s.writeMu
func (s *Session) writeLocked(v any) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}
