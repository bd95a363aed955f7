package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sendBufferSize is the per-connection outbound queue. A connection that
// falls this far behind is treated as dead and evicted.
const sendBufferSize = 256

// Connection is one live client in a session's broadcast group. Outbound
// frames are queued on a buffered channel drained by the transport's write
// loop; the hub never blocks on a slow socket.
type Connection struct {
	ID string

	send      chan []byte
	closeOnce sync.Once
}

// NewConnection creates a connection with a fresh id
func NewConnection() *Connection {
	return &Connection{
		ID:   uuid.NewString(),
		send: make(chan []byte, sendBufferSize),
	}
}

// Outgoing returns the channel of frames queued for this connection. The
// channel is closed when the connection is unregistered.
func (c *Connection) Outgoing() <-chan []byte {
	return c.send
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub maintains the set of live connections per session id and fans
// messages out to them. It holds no session state of its own: a connection
// naming a session id joins that broadcast group, known participant or not.
type Hub struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]map[*Connection]struct{}
}

// NewHub creates a new broadcast hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[string]map[*Connection]struct{}),
	}
}

// Register adds a connection to a session's broadcast group, creating the
// group on first connection
func (h *Hub) Register(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group := h.sessions[sessionID]
	if group == nil {
		group = make(map[*Connection]struct{})
		h.sessions[sessionID] = group
	}
	group[conn] = struct{}{}

	h.logger.Info("connection registered",
		zap.String("session_id", sessionID),
		zap.String("connection_id", conn.ID),
		zap.Int("group_size", len(group)))
}

// Unregister removes a connection from a session's broadcast group and
// drops the group entirely once it is empty
func (h *Hub) Unregister(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if _, ok := group[conn]; !ok {
		return
	}

	delete(group, conn)
	conn.close()
	if len(group) == 0 {
		delete(h.sessions, sessionID)
	}

	h.logger.Info("connection unregistered",
		zap.String("session_id", sessionID),
		zap.String("connection_id", conn.ID),
		zap.Int("group_size", len(group)))
}

// Broadcast stamps the message with a server-side timestamp and delivers it
// to every connection in the session's group, the sender included. A session
// with no connections is a no-op. A connection whose queue is full is
// evicted; its failure never aborts delivery to the others.
func (h *Hub) Broadcast(sessionID string, message map[string]interface{}) {
	stamped := make(map[string]interface{}, len(message)+1)
	for k, v := range message {
		stamped[k] = v
	}
	// Server clock, never trusted from the client
	stamped["timestamp"] = time.Now().UnixMilli()

	data, err := json.Marshal(stamped)
	if err != nil {
		h.logger.Warn("failed to encode broadcast message",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	var evicted []*Connection

	h.mu.RLock()
	for conn := range h.sessions[sessionID] {
		select {
		case conn.send <- data:
		default:
			evicted = append(evicted, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range evicted {
		h.logger.Warn("evicting unresponsive connection",
			zap.String("session_id", sessionID),
			zap.String("connection_id", conn.ID))
		h.Unregister(conn, sessionID)
	}
}

// ConnectionCount returns the number of live connections in a session's group
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
