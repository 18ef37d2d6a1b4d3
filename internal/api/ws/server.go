package ws

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/application/state"
	"github.com/account-relay/account-relay/internal/config"
	"github.com/account-relay/account-relay/internal/infrastructure/fanout"
)

// Server exposes the client-facing WebSocket endpoint plus health and
// counter endpoints.
type Server struct {
	registry       *fanout.Registry
	resolver       *state.Resolver
	stateCounters  *state.Counters
	fanoutCounters *fanout.Counters
	queueSize      int
	policy         config.SlowPolicy
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
}

func NewServer(registry *fanout.Registry, resolver *state.Resolver, stateCounters *state.Counters, fanoutCounters *fanout.Counters, queueSize int, policy config.SlowPolicy, logger zerolog.Logger) *Server {
	return &Server{
		registry:       registry,
		resolver:       resolver,
		stateCounters:  stateCounters,
		fanoutCounters: fanoutCounters,
		queueSize:      queueSize,
		policy:         policy,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("service", "ws").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/statusz", s.handleStatus)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	sess := NewSession(conn, s.registry, s.resolver, s.queueSize, s.policy, s.logger)
	s.logger.Info().Str("session", sess.ID().String()).Str("remote", r.RemoteAddr).Msg("client connected")
	sess.Run()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]map[string]uint64{
		"state":  s.stateCounters.Snapshot(),
		"fanout": s.fanoutCounters.Snapshot(),
	})
}
