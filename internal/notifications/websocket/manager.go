package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Artifique/Agrilend-Backend/internal/auth"
	"github.com/Artifique/Agrilend-Backend/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Message is the frame pushed to in-app clients
type Message struct {
	Type      string              `json:"type"`
	Event     notifications.Event `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
}

// Manager keeps the open in-app connections per user and pushes events to them
type Manager struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]map[*Connection]struct{}
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID        string
	UserID    uuid.UUID
	Conn      *websocket.Conn
	Send      chan Message
	CreatedAt time.Time
	closeOnce sync.Once
}

// NewManager creates a new WebSocket manager. An empty allowedOrigins accepts any origin.
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Manager{
		connections: make(map[uuid.UUID]map[*Connection]struct{}),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Serve upgrades an authenticated request to an in-app notification stream
func (m *Manager) Serve(c *gin.Context) {
	userID, _, ok := auth.Caller(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	if _, err := m.HandleConnection(c.Writer, c.Request, userID); err != nil {
		m.logger.Warn("WebSocket upgrade failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// HandleConnection upgrades the request and starts the connection pumps
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:        uuid.NewString(),
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan Message, sendBuffer),
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	if m.connections[userID] == nil {
		m.connections[userID] = make(map[*Connection]struct{})
	}
	m.connections[userID][connection] = struct{}{}
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// Name implements notifications.Sender
func (m *Manager) Name() string {
	return "in_app"
}

// Send pushes event to every open connection of its user. Offline users are skipped.
func (m *Manager) Send(ctx context.Context, event notifications.Event) error {
	msg := Message{Type: "notification", Event: event, Timestamp: time.Now()}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for conn := range m.connections[event.UserID] {
		select {
		case conn.Send <- msg:
		default:
			m.logger.Warn("WebSocket send buffer full, message dropped",
				zap.String("connection_id", conn.ID),
				zap.String("user_id", event.UserID.String()))
		}
	}
	return nil
}

// ConnectionCount returns the number of open connections
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, conns := range m.connections {
		total += len(conns)
	}
	return total
}

// Close disconnects every client
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, conns := range m.connections {
		for conn := range conns {
			conn.close()
		}
		delete(m.connections, userID)
	}
}

func (m *Manager) remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.connections[conn.UserID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.connections, conn.UserID)
		}
	}
	conn.close()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// readPump only services control frames; clients do not send data
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.remove(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket closed unexpectedly", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
