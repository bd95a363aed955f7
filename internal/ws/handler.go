package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Relayed messages can carry whole code buffers
	maxMessageSize = 1 << 20
)

// Handler upgrades HTTP requests to WebSocket connections and relays client
// messages into the hub. The hub is a pure relay: message shape beyond
// "JSON object" is application-defined and never interpreted here.
type Handler struct {
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. allowedOrigins mirrors the
// CORS configuration of the HTTP API; an entry of "*" allows any origin.
func NewHandler(hub *Hub, logger *zap.Logger, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients send no Origin header
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Serve handles GET /ws/sessions/:sessionId
func (h *Handler) Serve(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "sessionId is required"})
		return
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	conn := NewConnection()
	h.hub.Register(conn, sessionID)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn, sessionID)
}

// readPump relays every JSON object received from the client to the
// session's broadcast group. It owns the unregister on the way out.
func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection, sessionID string) {
	defer func() {
		h.hub.Unregister(conn, sessionID)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed",
					zap.String("session_id", sessionID),
					zap.String("connection_id", conn.ID),
					zap.Error(err))
			}
			return
		}

		var message map[string]interface{}
		if err := json.Unmarshal(data, &message); err != nil {
			h.logger.Warn("dropping non-object websocket message",
				zap.String("session_id", sessionID),
				zap.String("connection_id", conn.ID),
				zap.Error(err))
			continue
		}

		h.hub.Broadcast(sessionID, message)
	}
}

// writePump drains the connection's outbound queue onto the socket and keeps
// the peer alive with pings. A write failure closes the socket, which makes
// readPump unregister the connection.
func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := wsConn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
