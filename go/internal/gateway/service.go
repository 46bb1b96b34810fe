package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the session gateway: it fans committed changes out to websocket clients
// and serves snapshots for clients that (re)connect.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventSource       EventSource
	stateHandler      *StateHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service fed by the source newSource builds.
func NewService(config Config, stateProvider StateProvider, newSource SourceFactory) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	source, err := newSource(connectionManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create event source: %w", err)
	}

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, stateProvider),
		eventSource:       source,
		stateHandler:      NewStateHandler(stateProvider),
	}, nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting session gateway service")

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventSource.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event source failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("session gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() Stats {
	return s.connectionManager.GetConnectionStats()
}
