package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveHub spins up a hub behind a test HTTP server and returns a dial
// function for real WebSocket clients.
func liveHub(t *testing.T) (*Hub, func() *ws.Conn) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock(), Options{})
	t.Cleanup(hub.Shutdown)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		hub.ServeConn(conn)
	}))
	t.Cleanup(server.Close)

	dial := func() *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return hub, dial
}

func readFrame(t *testing.T, conn *ws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func statusOf(t *testing.T, msg Message) StatusPayload {
	t.Helper()
	require.Equal(t, TypeConnectionStatus, msg.Type)
	var status StatusPayload
	decodePayload(t, msg.Data, &status)
	return status
}

func TestLiveHub_SubscribeAndPipelineBroadcast(t *testing.T) {
	hub, dial := liveHub(t)

	conn := dial()
	welcome := statusOf(t, readFrame(t, conn))
	require.Equal(t, "connected", welcome.Status)
	require.NotEmpty(t, welcome.ClientID)
	require.NotEmpty(t, welcome.ServerTime)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"type":"subscribe","channel":"pipeline"}`)))
	ack := statusOf(t, readFrame(t, conn))
	assert.Equal(t, "subscribed", ack.Status)
	assert.Equal(t, "pipeline", ack.Channel)
	assert.Equal(t, []string{"pipeline"}, ack.Subscriptions)

	hub.BroadcastPipelineUpdate("exec-1", map[string]any{"status": "running", "progress": 50})

	update := readFrame(t, conn)
	require.Equal(t, TypePipelineUpdate, update.Type)
	assert.Equal(t, map[string]any{
		"pipelineId": "exec-1",
		"status":     "running",
		"progress":   float64(50),
	}, update.Data)
	assert.NotEmpty(t, update.ID)
	assert.NotEmpty(t, update.Timestamp)

	entries := hub.History(ChannelPipeline)
	require.Len(t, entries, 1)
	assert.Equal(t, update.ID, entries[0].ID)
}

func TestLiveHub_FirehoseForUnsubscribedClients(t *testing.T) {
	hub, dial := liveHub(t)

	connA := dial()
	connB := dial()
	statusOf(t, readFrame(t, connA))
	statusOf(t, readFrame(t, connB))

	hub.BroadcastTestUpdate("suite-1", map[string]any{"status": "completed"})

	for _, conn := range []*ws.Conn{connA, connB} {
		update := readFrame(t, conn)
		require.Equal(t, TypeTestUpdate, update.Type)
		assert.Equal(t, map[string]any{
			"testSuiteId": "suite-1",
			"status":      "completed",
		}, update.Data)
	}
}

func TestLiveHub_ProtocolErrors(t *testing.T) {
	_, dial := liveHub(t)

	conn := dial()
	statusOf(t, readFrame(t, conn))

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{not json`)))
	errFrame := readFrame(t, conn)
	require.Equal(t, TypeError, errFrame.Type)
	var payload ErrorPayload
	decodePayload(t, errFrame.Data, &payload)
	assert.Equal(t, "Invalid message format", payload.Message)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"type":"shout"}`)))
	errFrame = readFrame(t, conn)
	require.Equal(t, TypeError, errFrame.Type)
	decodePayload(t, errFrame.Data, &payload)
	assert.Equal(t, "Unknown message type: shout", payload.Message)

	// The connection survives both protocol errors.
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"type":"ping"}`)))
	pong := statusOf(t, readFrame(t, conn))
	assert.Equal(t, "pong", pong.Status)
}

func TestLiveHub_DisconnectRemovesClient(t *testing.T) {
	hub, dial := liveHub(t)

	conn := dial()
	statusOf(t, readFrame(t, conn))
	require.Equal(t, 1, hub.Stats().TotalConnections)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.Stats().TotalConnections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLiveHub_ShutdownClosesClients(t *testing.T) {
	hub, dial := liveHub(t)

	conn := dial()
	statusOf(t, readFrame(t, conn))

	hub.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure))
}
