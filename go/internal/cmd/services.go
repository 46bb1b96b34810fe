package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/mcdev12/planningpoker/go/internal/api"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/gateway"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/store"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Services struct {
	API     *api.Handler
	Gateway *gateway.Service // nil when the gateway runs as its own process

	db   *sql.DB
	nats *nats.Conn
}

// Close releases the connections opened by setupServices.
func (s *Services) Close() {
	if s.nats != nil {
		s.nats.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
}

func setupServices(ctx context.Context, cfg EnvConfig, sizing []models.SizingType) (*Services, error) {
	switch cfg.Store {
	case storeMemory:
		return setupMemoryServices(sizing)
	case storePostgres:
		return setupPostgresServices(ctx, cfg, sizing)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// setupMemoryServices wires an in-process store whose changes feed the embedded gateway
// directly. State is lost on restart.
func setupMemoryServices(sizing []models.SizingType) (*Services, error) {
	mem := store.NewMemoryStore(nil)
	gw, err := gateway.NewService(gateway.DefaultConfig(), mem, gateway.FeedSource(mem.SubscribeAll, nil))
	if err != nil {
		return nil, err
	}
	log.Warn().Msg("Using in-memory store, sessions do not survive a restart")
	return &Services{
		API:     api.NewHandler(mem, sizing),
		Gateway: gw,
	}, nil
}

func setupPostgresServices(ctx context.Context, cfg EnvConfig, sizing []models.SizingType) (*Services, error) {
	database, err := setupDatabase(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	// Wire up dependency injection chain
	// Database layer → Store → HTTP handlers
	sessions := store.NewPostgresStore(database)
	services := &Services{
		API: api.NewHandler(sessions, sizing),
		db:  database,
	}
	if !cfg.EmbedGateway {
		return services, nil
	}

	nc, js, err := changefeed.Connect(cfg.NATS)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.nats = nc
	if err := changefeed.EnsureStream(ctx, js, cfg.NATS); err != nil {
		services.Close()
		return nil, err
	}

	// Durable consumers are shared work queues; every gateway process needs its own.
	consumer := cfg.Consumer
	if host, err := os.Hostname(); err == nil {
		consumer.ConsumerName = consumer.ConsumerName + "-" + host
	}
	gw, err := gateway.NewService(gateway.DefaultConfig(), sessions, gateway.JetStreamSource(js, consumer))
	if err != nil {
		services.Close()
		return nil, err
	}
	services.Gateway = gw
	return services, nil
}
