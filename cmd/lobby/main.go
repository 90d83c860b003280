package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/lobby/config"
	"github.com/mossy-p/lobby/internal/events"
	"github.com/mossy-p/lobby/internal/fanout"
	"github.com/mossy-p/lobby/internal/handlers"
	"github.com/mossy-p/lobby/internal/lobby"
	"github.com/mossy-p/lobby/internal/redis"
	"github.com/mossy-p/lobby/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}
	if cfg.IsProduction() {
		// JSON lines for the log collector
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	svcOpts := []lobby.Option{
		lobby.WithLimits(cfg.Lobby),
		lobby.WithLogger(log.With().Str("module", "lobby").Logger()),
	}
	var handlerOpts []handlers.HandlerOption

	var st store.Store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn().Msg("using in-memory room store; rooms are lost on restart")
		st = store.NewMemoryStore()
	default:
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer client.Close()
		log.Info().Str("addr", cfg.RedisAddr()).Msg("Redis connection established")

		st = store.NewRedisStore(client,
			store.WithRoomTTL(cfg.Redis.RoomTTL),
			store.WithMaxRetries(cfg.Redis.MaxRetries),
			store.WithWatchInterval(cfg.Redis.WatchInterval),
			store.WithLogger(log.With().Str("module", "store").Logger()),
		)
		handlerOpts = append(handlerOpts, handlers.WithHealthCheck(func(ctx context.Context) error {
			return redis.Ping(ctx, client)
		}))
	}

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS, log.With().Str("module", "events").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Drain()
		pub := events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, log.With().Str("module", "events").Logger())
		svcOpts = append(svcOpts, lobby.WithPublisher(pub))
		log.Info().Str("url", cfg.NATS.URL).Str("prefix", cfg.NATS.SubjectPrefix).Msg("publishing room events to NATS")
	}

	svc := lobby.NewService(st, svcOpts...)
	hub := fanout.NewHub(st, cfg.Fanout.SubscriberBuffer, log.With().Str("module", "fanout").Logger())
	defer hub.Close()

	h := handlers.NewHandler(svc, hub, log.With().Str("module", "http").Logger(), handlerOpts...)
	router := handlers.NewRouter(cfg, h)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("lobby server started")
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
	log.Info().Msg("Server exited gracefully")
}
