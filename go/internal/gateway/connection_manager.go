package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/docstore"
	"github.com/mcdev12/estimate/go/internal/identity"
	"github.com/mcdev12/estimate/go/internal/room"
)

// ConnectionManager owns every websocket connection and the room session behind it.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	store     docstore.Store
	directory *room.Directory
	browsers  identity.Backend
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool

	// StoreTimeout bounds each store call made on behalf of a client message.
	StoreTimeout time.Duration
	// ShareBaseURL is the public origin used in share text; empty disables it.
	ShareBaseURL string
	Session      room.SessionConfig
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
		StoreTimeout: 10 * time.Second,
		Session:      room.DefaultSessionConfig(),
	}
}

// NewConnectionManager creates a connection manager serving rooms from store.
func NewConnectionManager(config ConnectionConfig, store docstore.Store, directory *room.Directory, browsers identity.Backend) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:    config,
		clock:     clockwork.NewRealClock(),
		store:     store,
		directory: directory,
		browsers:  browsers,
	}
}

// UpgradeConnection upgrades an HTTP connection to a websocket and gives it a session.
// If roomID is set and the browser already has an identity and a remembered name,
// the connection rejoins that room right away.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sessionID, clientID, roomID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return err
	}

	ident := identity.NewManager(cm.browsers.Storage(sessionID, clientID))
	ctx, cancel := context.WithCancel(context.Background())
	lookupCtx, lookupCancel := context.WithTimeout(ctx, cm.config.StoreTimeout)
	session := room.NewSession(lookupCtx, cm.store, cm.directory, ident, cm.config.Session)
	lookupCancel()

	c := &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		ClientID:    clientID,
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
		send:        make(chan []byte, cm.config.SendBuffer),
		identity:    ident,
		session:     session,
		ctx:         ctx,
		cancel:      cancel,
	}

	cm.registerConnection(c)

	go c.writePump()
	go c.statePump()
	go func() {
		// Commands are read only once the rejoin has settled.
		if roomID != "" {
			c.rejoin(roomID)
		}
		c.readPump()
	}()

	log.Info().
		Str("connection_id", c.ID).
		Str("session_id", sessionID).
		Str("client_id", clientID).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes c and releases its session. It is safe to call
// from every pump.
func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[c]
	delete(cm.connections, c)
	cm.mu.Unlock()
	if !exists {
		return
	}

	c.cancel()
	c.session.Close()
	c.closeSend()

	log.Info().
		Str("connection_id", c.ID).
		Str("session_id", c.SessionID).
		Msg("connection unregistered")
}

// ConnectionStats summarizes live connections.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(conns),
		RoomConnections:  make(map[string]int),
	}
	for _, c := range conns {
		if roomID := c.session.State().RoomID; roomID != "" {
			stats.RoomConnections[roomID]++
		}
	}
	stats.ActiveRooms = len(stats.RoomConnections)
	return stats
}

// CloseAll drops every connection, for shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
		c.Conn.Close()
	}
}
