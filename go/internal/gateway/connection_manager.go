package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/militapp/militapp/go/internal/docstore"
)

// ConnectionManager fans document changes out to websocket watchers.
// Each watched path holds one store subscription shared by all its connections.
type ConnectionManager struct {
	store docstore.Store

	// Connection pools organized by document path
	pathConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	// Store subscriptions, reconciled against pathConnections
	watches map[string]docstore.Unsubscribe
	watchMu sync.Mutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	UserID  string
	Path    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a document change queued for delivery
type BroadcastMessage struct {
	Path  string
	Event docstore.ChangeEvent
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager watching store
func NewConnectionManager(store docstore.Store, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		store:           store,
		pathConnections: make(map[string]map[*Connection]bool),
		watches:         make(map[string]docstore.Unsubscribe),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.Close()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection and starts streaming path
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, path string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Path:        path,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)
	cm.syncWatch(path)

	go connection.writePump()
	go connection.readPump()

	// Replay the current document; watchers drop anything older than what they hold
	cm.sendSnapshot(r.Context(), connection)

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("path", path).
		Msg("websocket connection established")

	return nil
}

func (cm *ConnectionManager) sendSnapshot(ctx context.Context, conn *Connection) {
	doc, err := cm.store.Get(ctx, conn.Path)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			log.Error().Err(err).Str("path", conn.Path).Msg("failed to load document snapshot")
		}
		return
	}

	data, err := json.Marshal(docstore.NewChangeEvent(doc))
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal document snapshot")
		return
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.pathConnections[conn.Path][conn] {
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping snapshot")
	}
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.pathConnections[conn.Path] == nil {
		cm.pathConnections[conn.Path] = make(map[*Connection]bool)
	}
	cm.pathConnections[conn.Path][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("path", conn.Path).
		Int("total_connections", len(cm.pathConnections[conn.Path])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	removed := false
	if connections, exists := cm.pathConnections[conn.Path]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)
			removed = true

			if len(connections) == 0 {
				delete(cm.pathConnections, conn.Path)
			}
		}
	}
	cm.mu.Unlock()

	if !removed {
		return
	}
	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("path", conn.Path).
		Msg("connection unregistered")
	cm.syncWatch(conn.Path)
}

// syncWatch subscribes to path while it has connections and unsubscribes once it has none
func (cm *ConnectionManager) syncWatch(path string) {
	cm.watchMu.Lock()
	defer cm.watchMu.Unlock()

	cm.mu.RLock()
	wanted := len(cm.pathConnections[path]) > 0
	cm.mu.RUnlock()

	unsubscribe, watching := cm.watches[path]
	switch {
	case wanted && !watching:
		unsubscribe, err := cm.store.Subscribe(context.Background(), path, cm.BroadcastDocument)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to watch document")
			return
		}
		cm.watches[path] = unsubscribe
		log.Debug().Str("path", path).Msg("document watch started")
	case !wanted && watching:
		delete(cm.watches, path)
		unsubscribe()
		log.Debug().Str("path", path).Msg("document watch stopped")
	}
}

// BroadcastDocument queues doc for every connection watching its path
func (cm *ConnectionManager) BroadcastDocument(doc *docstore.Document) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Path: doc.Path, Event: docstore.NewChangeEvent(doc)}:
	default:
		log.Warn().Str("path", doc.Path).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	connections := cm.pathConnections[message.Path]
	for conn := range connections {
		select {
		case conn.Send <- eventData:
		default:
			slow = append(slow, conn)
		}
	}
	delivered := len(connections) - len(slow)
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", message.Event.Type).
		Str("path", message.Path).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// Close stops every store watch and disconnects all clients
func (cm *ConnectionManager) Close() {
	cm.mu.Lock()
	var all []*Connection
	for path, connections := range cm.pathConnections {
		for conn := range connections {
			close(conn.Send)
			all = append(all, conn)
		}
		delete(cm.pathConnections, path)
	}
	cm.mu.Unlock()

	for _, conn := range all {
		conn.Conn.Close()
	}

	cm.watchMu.Lock()
	defer cm.watchMu.Unlock()
	for path, unsubscribe := range cm.watches {
		delete(cm.watches, path)
		unsubscribe()
	}
}

// ConnectionStats summarizes active connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	WatchedPaths     int            `json:"watched_paths"`
	PathConnections  map[string]int `json:"path_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{PathConnections: make(map[string]int, len(cm.pathConnections))}
	for path, connections := range cm.pathConnections {
		stats.TotalConnections += len(connections)
		stats.PathConnections[path] = len(connections)
	}
	stats.WatchedPaths = len(cm.pathConnections)
	return stats
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
// Watchers never send commands.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
