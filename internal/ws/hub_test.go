package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receiveMessage(t *testing.T, conn *Connection) map[string]interface{} {
	t.Helper()

	select {
	case data, ok := <-conn.Outgoing():
		require.True(t, ok, "connection closed before a message arrived")
		var message map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &message))
		return message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a broadcast")
		return nil
	}
}

func TestBroadcastReachesAllIncludingSender(t *testing.T) {
	hub := NewHub(zap.NewNop())

	sender := NewConnection()
	peer := NewConnection()
	hub.Register(sender, "abcd1234")
	hub.Register(peer, "abcd1234")

	before := time.Now().UnixMilli()
	hub.Broadcast("abcd1234", map[string]interface{}{
		"type": "code_change",
		"data": map[string]interface{}{"code": "print(1)"},
	})

	// The sender's own connection gets the message too
	for _, conn := range []*Connection{sender, peer} {
		message := receiveMessage(t, conn)
		assert.Equal(t, "code_change", message["type"])

		data, ok := message["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "print(1)", data["code"])

		timestamp, ok := message["timestamp"].(float64)
		require.True(t, ok, "timestamp must be injected")
		assert.GreaterOrEqual(t, int64(timestamp), before)
	}
}

func TestBroadcastOverwritesClientTimestamp(t *testing.T) {
	hub := NewHub(zap.NewNop())

	conn := NewConnection()
	hub.Register(conn, "abcd1234")

	before := time.Now().UnixMilli()
	hub.Broadcast("abcd1234", map[string]interface{}{
		"type":      "cursor",
		"timestamp": float64(42),
	})

	message := receiveMessage(t, conn)
	timestamp, ok := message["timestamp"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, int64(timestamp), before)
}

func TestBroadcastScopedToSession(t *testing.T) {
	hub := NewHub(zap.NewNop())

	inSession := NewConnection()
	elsewhere := NewConnection()
	hub.Register(inSession, "abcd1234")
	hub.Register(elsewhere, "ffff0000")

	hub.Broadcast("abcd1234", map[string]interface{}{"type": "ping"})

	receiveMessage(t, inSession)
	select {
	case <-elsewhere.Outgoing():
		t.Fatal("connection in another session received the message")
	default:
	}
}

func TestBroadcastWithoutConnectionsIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())

	// Must not panic or error
	hub.Broadcast("abcd1234", map[string]interface{}{"type": "ping"})
	assert.Equal(t, 0, hub.ConnectionCount("abcd1234"))
}

func TestUnregisterDropsEmptyGroup(t *testing.T) {
	hub := NewHub(zap.NewNop())

	a := NewConnection()
	b := NewConnection()
	hub.Register(a, "abcd1234")
	hub.Register(b, "abcd1234")
	assert.Equal(t, 2, hub.ConnectionCount("abcd1234"))

	hub.Unregister(a, "abcd1234")
	assert.Equal(t, 1, hub.ConnectionCount("abcd1234"))

	hub.Unregister(b, "abcd1234")
	assert.Equal(t, 0, hub.ConnectionCount("abcd1234"))

	// Unregistering twice is harmless
	hub.Unregister(b, "abcd1234")
	assert.Equal(t, 0, hub.ConnectionCount("abcd1234"))
}

func TestUnregisterClosesOutgoing(t *testing.T) {
	hub := NewHub(zap.NewNop())

	conn := NewConnection()
	hub.Register(conn, "abcd1234")
	hub.Unregister(conn, "abcd1234")

	_, ok := <-conn.Outgoing()
	assert.False(t, ok)
}

func TestFailedDeliveryEvictsConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())

	stalled := NewConnection()
	healthy := NewConnection()
	hub.Register(stalled, "abcd1234")
	hub.Register(healthy, "abcd1234")

	// Fill the stalled connection's queue so the next delivery fails
	for i := 0; i < sendBufferSize; i++ {
		stalled.send <- []byte("{}")
	}

	hub.Broadcast("abcd1234", map[string]interface{}{"type": "ping"})

	// The healthy sibling still got the message and the stalled one is gone
	receiveMessage(t, healthy)
	assert.Equal(t, 1, hub.ConnectionCount("abcd1234"))

	// A later broadcast no longer attempts the evicted connection
	hub.Broadcast("abcd1234", map[string]interface{}{"type": "ping"})
	receiveMessage(t, healthy)
	assert.Equal(t, 1, hub.ConnectionCount("abcd1234"))
}

func TestConcurrentRegisterBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := NewConnection()
			hub.Register(conn, "abcd1234")
			hub.Broadcast("abcd1234", map[string]interface{}{"type": "ping"})
			hub.Unregister(conn, "abcd1234")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.ConnectionCount("abcd1234"))
}
