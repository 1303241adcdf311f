package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/handlers"
	"github.com/mossy-p/call-signaling/internal/notifier"
	"github.com/mossy-p/call-signaling/internal/redis"
	"github.com/mossy-p/call-signaling/internal/registry"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/mossy-p/call-signaling/internal/session"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	reg := registry.New()
	sessions := session.NewTracker()

	var (
		remote   relay.Remote
		presence notifier.Presence
		bus      *redis.Bus
	)
	if cfg.Redis.Enabled {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer client.Close()

		bus = redis.NewBus(client, cfg.NodeID, cfg.Redis.PresenceTTL)
		remote, presence = bus, bus
		log.Info().Str("node", cfg.NodeID).Msg("Redis bus enabled")
	}

	r := relay.New(reg, sessions, cfg.Relay.OnTargetMissing, remote)
	n := notifier.New(reg, sessions, r, cfg.Relay.CallEndedScope, presence)

	if bus != nil {
		go func() {
			if err := bus.Run(ctx, r.HandleEnvelope); err != nil {
				log.Error().Err(err).Msg("Redis bus stopped")
				cancel()
			}
		}()
	}

	router := handlers.SetupRouter(cfg,
		handlers.NewSignalingHandler(ctx, n, r, cfg.WebSocket),
		&handlers.AdminHandler{NodeID: cfg.NodeID, Registry: reg, Sessions: sessions, Relay: r},
	)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("on_target_missing", string(cfg.Relay.OnTargetMissing)).
			Str("call_ended_scope", string(cfg.Relay.CallEndedScope)).
			Msg("Starting call signaling server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Int("clients", reg.Len()).Msg("Server exited")
}
