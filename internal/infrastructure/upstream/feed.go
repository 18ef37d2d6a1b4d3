package upstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/domain/account"
)

const (
	dialTimeout    = 10 * time.Second
	readTimeout    = 90 * time.Second
	reconnectBase  = time.Second
	reconnectMax   = 30 * time.Second
	feedBufferSize = 1024
)

// subscribeRequest asks the upstream service for account-change events
// of the configured programs.
type subscribeRequest struct {
	Action   string   `json:"action"`
	Programs []string `json:"programs"`
}

// Feed consumes the upstream account-change stream over a WebSocket and
// emits decoded events on its channel. Reconnection and backoff live
// here, outside the engine; the engine only sees a channel that closes
// when the feed is shut down.
type Feed struct {
	url      string
	programs []string
	out      chan account.UpdateEvent
	logger   zerolog.Logger
}

func NewFeed(url string, programs []string, logger zerolog.Logger) *Feed {
	return &Feed{
		url:      url,
		programs: programs,
		out:      make(chan account.UpdateEvent, feedBufferSize),
		logger:   logger.With().Str("service", "upstream").Logger(),
	}
}

// Events is the stream of decoded upstream events. Closed when Run returns.
func (f *Feed) Events() <-chan account.UpdateEvent {
	return f.out
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// capped exponential backoff on any connection failure.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.out)

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn().Err(err).Dur("backoff", backoff).Msg("upstream connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Action: "programSubscribe", Programs: f.programs}); err != nil {
		return err
	}
	f.logger.Info().Str("url", f.url).Strs("programs", f.programs).Msg("upstream feed connected")

	// Unblocks ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev account.UpdateEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			f.logger.Warn().Err(err).Msg("undecodable upstream message dropped")
			continue
		}
		if ev.Key == "" {
			continue
		}
		select {
		case f.out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
