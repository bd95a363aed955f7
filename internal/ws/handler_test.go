package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, allowedOrigins []string) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	handler := NewHandler(hub, zap.NewNop(), allowedOrigins)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/sessions/:sessionId", handler.Serve)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return hub, server
}

func dialSession(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServedMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var message map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &message))
	return message
}

func waitForConnections(t *testing.T, hub *Hub, sessionID string, count int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return hub.ConnectionCount(sessionID) == count
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeRelaysToAllClients(t *testing.T) {
	hub, server := newTestServer(t, []string{"*"})

	sender := dialSession(t, server, "abc123ff")
	receiver := dialSession(t, server, "abc123ff")
	waitForConnections(t, hub, "abc123ff", 2)

	before := time.Now().UnixMilli()
	err := sender.WriteJSON(map[string]interface{}{
		"type":      "code_change",
		"code":      "print(1)",
		"timestamp": 1,
	})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{sender, receiver} {
		message := readServedMessage(t, conn)
		assert.Equal(t, "code_change", message["type"])
		assert.Equal(t, "print(1)", message["code"])

		// Client timestamps are replaced with the server clock
		timestamp, ok := message["timestamp"].(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, int64(timestamp), before)
	}
}

func TestServeDropsNonObjectFrames(t *testing.T) {
	hub, server := newTestServer(t, []string{"*"})

	sender := dialSession(t, server, "abc123ff")
	receiver := dialSession(t, server, "abc123ff")
	waitForConnections(t, hub, "abc123ff", 2)

	// Neither frame is a JSON object; both are dropped without closing
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("[1,2,3]")))
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.NoError(t, sender.WriteJSON(map[string]interface{}{"type": "ping"}))

	message := readServedMessage(t, receiver)
	assert.Equal(t, "ping", message["type"])

	// The sender survived its bad frames and still receives broadcasts
	message = readServedMessage(t, sender)
	assert.Equal(t, "ping", message["type"])
	assert.Equal(t, 2, hub.ConnectionCount("abc123ff"))
}

func TestServeUnregistersOnDisconnect(t *testing.T) {
	hub, server := newTestServer(t, []string{"*"})

	leaver := dialSession(t, server, "abc123ff")
	stayer := dialSession(t, server, "abc123ff")
	waitForConnections(t, hub, "abc123ff", 2)

	require.NoError(t, leaver.Close())
	waitForConnections(t, hub, "abc123ff", 1)

	// The remaining connection keeps working
	require.NoError(t, stayer.WriteJSON(map[string]interface{}{"type": "ping"}))
	message := readServedMessage(t, stayer)
	assert.Equal(t, "ping", message["type"])
}

func TestServeScopesRelayToSession(t *testing.T) {
	hub, server := newTestServer(t, []string{"*"})

	sender := dialSession(t, server, "abc123ff")
	other := dialSession(t, server, "deadbeef")
	waitForConnections(t, hub, "abc123ff", 1)
	waitForConnections(t, hub, "deadbeef", 1)

	require.NoError(t, sender.WriteJSON(map[string]interface{}{"type": "ping"}))

	message := readServedMessage(t, sender)
	assert.Equal(t, "ping", message["type"])

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestServeRejectsDisallowedOrigin(t *testing.T) {
	_, server := newTestServer(t, []string{"http://localhost:3000"})

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/abc123ff"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.Nil(t, conn)
	if resp != nil {
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
