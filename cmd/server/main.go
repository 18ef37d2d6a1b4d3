package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/account-relay/account-relay/internal/api/ws"
	"github.com/account-relay/account-relay/internal/application/ingest"
	"github.com/account-relay/account-relay/internal/application/state"
	"github.com/account-relay/account-relay/internal/config"
	"github.com/account-relay/account-relay/internal/infrastructure/fanout"
	"github.com/account-relay/account-relay/internal/infrastructure/postgres"
	rediscache "github.com/account-relay/account-relay/internal/infrastructure/redis"
	"github.com/account-relay/account-relay/internal/infrastructure/upstream"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	cache, err := rediscache.NewCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer cache.Close()

	// engine
	repo := postgres.NewAccountRepository(pool)
	stateCounters := &state.Counters{}
	fanoutCounters := &fanout.Counters{}
	store := state.NewStore(repo, cache, cfg.CacheTTL, stateCounters, logger)
	resolver := state.NewResolver(store, cache, repo, cfg.CacheTTL, cfg.ResolveTimeout, stateCounters, logger)
	registry := fanout.NewRegistry()
	broadcaster := fanout.NewBroadcaster(registry, fanoutCounters, logger)
	ingestSvc := ingest.NewService(store, broadcaster, cfg.IngestWorkers, logger)

	// upstream feed
	feedCtx, stopFeed := context.WithCancel(context.Background())
	feed := upstream.NewFeed(cfg.UpstreamWSURL, cfg.UpstreamPrograms, logger)
	go feed.Run(feedCtx)

	var ingestDone sync.WaitGroup
	ingestDone.Add(1)
	go func() {
		defer ingestDone.Done()
		ingestSvc.Run(context.Background(), feed.Events())
	}()

	// API server
	apiServer := ws.NewServer(registry, resolver, stateCounters, fanoutCounters, cfg.SessionQueueSize, cfg.SlowPolicy, logger)

	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	// Drain order: feed first, then in-flight applies and persists, then
	// client sessions.
	stopFeed()
	ingestDone.Wait()
	store.Wait()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	_ = httpServer.Close()
}
