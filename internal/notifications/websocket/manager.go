package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"clearhaven/redemption-platform/redemption-backend/internal/notifications"
)

// Manager handles WebSocket connections and broadcasts redemption events
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	UserID       string
	Conn         *websocket.Conn
	Send         chan notifications.Event
	LastActivity time.Time
}

// Hub manages the broadcast of events to connections
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.Event
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
}

// NewManager creates a new WebSocket manager
func NewManager(logger *zap.Logger) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.Event, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
	}

	go hub.run()

	return &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// In production, implement proper origin checking
				return true
			},
		},
	}
}

// Notify implements notifications.Sink. Broadcasts never block: if the hub
// buffer is full the event is dropped rather than stalling a state transition.
func (m *Manager) Notify(ctx context.Context, event notifications.Event) {
	select {
	case m.hub.broadcast <- event:
	default:
		m.logger.Warn("websocket broadcast buffer full, dropping event",
			zap.String("type", event.Type))
	}
}

// HandleConnection upgrades an HTTP request and registers the client
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = uuid.New().String()
	}

	connection := &Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan notifications.Event, 256),
		LastActivity: time.Now(),
	}

	m.hub.register <- connection

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump drains client messages and detects disconnects
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.hub.unregister <- conn
		conn.Conn.Close()
		m.mu.Lock()
		delete(m.connections, conn.ID)
		m.mu.Unlock()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.LastActivity = time.Now()
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump pushes events and pings to the client
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ConnectionCount returns the number of live client connections
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close shuts down the hub and all client connections
func (m *Manager) Close() {
	close(m.hub.stop)
}

// run dispatches hub events until stopped
func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
			}
		case event := <-h.broadcast:
			for conn := range h.connections {
				select {
				case conn.Send <- event:
				default:
					// Slow client, drop it
					delete(h.connections, conn)
					close(conn.Send)
				}
			}
		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				conn.Conn.Close()
			}
			return
		}
	}
}
