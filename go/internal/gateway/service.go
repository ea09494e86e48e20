package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/docstore"
	"github.com/mcdev12/estimate/go/internal/identity"
	"github.com/mcdev12/estimate/go/internal/room"
)

// Service is the room gateway: websocket sessions plus the directory RPCs.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	directoryHandler  *DirectoryHandler
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService wires a gateway over store.
func NewService(config Config, store docstore.Store, directory *room.Directory, browsers identity.Backend) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, store, directory, browsers)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		directoryHandler:  NewDirectoryHandler(directory),
	}
}

// Start blocks until ctx is done and then drops every connection.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")
	<-ctx.Done()
	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop closes every websocket connection and its session.
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the websocket and directory routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	mux.Handle(s.directoryHandler.Handler())
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
