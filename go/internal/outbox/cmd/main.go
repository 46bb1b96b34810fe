package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/mcdev12/planningpoker/go/internal/outbox"
	"github.com/mcdev12/planningpoker/go/internal/store"
)

type config struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"debug"`
	Port            string        `env:"RELAY_PORT" envDefault:"8082"`
	HealthThreshold time.Duration `env:"RELAY_HEALTH_THRESHOLD" envDefault:"10m"`

	DB       dbconfig.Config
	NATS     changefeed.JetStreamConfig
	Relay    outbox.RelayConfig
	Listener outbox.ListenerConfig
}

func main() {
	// load .env
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DB.DSN()
	db, err := store.Open(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	log.Info().
		Str("host", cfg.DB.Host).
		Int("port", cfg.DB.Port).
		Str("database", cfg.DB.Database).
		Msg("connected to database")

	nc, js, err := changefeed.Connect(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer nc.Drain()

	publisher, err := changefeed.NewJetStreamPublisher(ctx, js, cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}

	repo := store.NewChangeRepository(db)
	relay := outbox.NewRelay(repo, publisher, outbox.NewPrometheusMetrics(prometheus.DefaultRegisterer),
		clockwork.NewRealClock(), cfg.Relay)

	cfg.Listener.DatabaseURL = dsn
	listener, err := outbox.NewListener(relay, cfg.Listener)
	if err != nil {
		log.Fatal().Err(err).Msg("create change listener")
	}

	mux := http.NewServeMux()
	mux.Handle("/health", outbox.NewHealthChecker(relay, listener, repo, db, nc, cfg.HealthThreshold))
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("relay HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("relay HTTP server failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msg("starting change relay")
		errCh <- listener.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("listener shutdown")
		}
	case err := <-errCh:
		log.Error().Err(err).Msg("listener exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay HTTP server shutdown failed")
	}
	log.Info().Msg("graceful shutdown complete")
}
