package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn for driving the hub without a network.
type fakeConn struct {
	mu         sync.Mutex
	frames     []Message
	raw        [][]byte
	pings      int
	sendErr    error
	notReady   bool
	closeCode  int
	terminated bool
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.frames = append(f.frames, msg)
	f.raw = append(f.raw, data)
	return nil
}

func (f *fakeConn) rawFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.raw))
	copy(out, f.raw)
	return out
}

func (f *fakeConn) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeConn) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = code
	f.notReady = true
	return nil
}

func (f *fakeConn) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	f.notReady = true
	return nil
}

func (f *fakeConn) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notReady
}

func (f *fakeConn) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// framesOfType returns received frames filtered by message type.
func (f *fakeConn) framesOfType(typ MessageType) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.frames {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// registerFake registers an in-memory connection directly with the hub
// goroutine and returns the assigned client id.
func registerFake(t *testing.T, h *Hub, conn Conn) string {
	t.Helper()
	replyCh := make(chan string, 1)
	require.True(t, h.post(registerCmd{conn: conn, replyCh: replyCh}))
	select {
	case id := <-replyCh:
		return id
	case <-time.After(time.Second):
		t.Fatal("register timed out")
		return ""
	}
}

func subscribeFake(h *Hub, id, channel string) {
	frame := fmt.Sprintf(`{"type":"subscribe","channel":%q}`, channel)
	h.post(inboundCmd{id: id, data: []byte(frame)})
}

func newTestHub(t *testing.T, clock clockwork.Clock, opts Options) *Hub {
	t.Helper()
	h := NewHub(clock, opts)
	t.Cleanup(h.Shutdown)
	return h
}

func TestHub_HistoryCap(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	for i := 0; i < 120; i++ {
		h.BroadcastPipelineUpdate("exec-1", map[string]any{"seq": i})
	}

	// History reads go through the same command channel, so this
	// observes all 120 publishes.
	entries := h.History(ChannelPipeline)
	require.Len(t, entries, 100)

	for i, msg := range entries {
		data, ok := msg.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 20+i, data["seq"])
		assert.Equal(t, "exec-1", data["pipelineId"])
		assert.Equal(t, TypePipelineUpdate, msg.Type)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestHub_HistoryUnknownChannel(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	entries := h.History("never-used-channel")
	assert.Empty(t, entries)
}

func TestHub_SubscriptionFilter(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	subscribed := &fakeConn{}
	firehose := &fakeConn{}
	subID := registerFake(t, h, subscribed)
	registerFake(t, h, firehose)
	subscribeFake(h, subID, ChannelPipeline)

	h.BroadcastPipelineUpdate("exec-1", map[string]any{"status": "running"})
	h.BroadcastTestUpdate("suite-1", map[string]any{"status": "completed"})
	h.Stats() // ordering barrier: all prior commands are processed

	assert.Len(t, subscribed.framesOfType(TypePipelineUpdate), 1)
	assert.Empty(t, subscribed.framesOfType(TypeTestUpdate))

	// A client with no subscriptions receives everything.
	assert.Len(t, firehose.framesOfType(TypePipelineUpdate), 1)
	assert.Len(t, firehose.framesOfType(TypeTestUpdate), 1)
}

func TestHub_UnsubscribeRestoresFirehose(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	id := registerFake(t, h, conn)
	subscribeFake(h, id, ChannelTesting)

	h.BroadcastPipelineUpdate("exec-1", map[string]any{})
	h.post(inboundCmd{id: id, data: []byte(`{"type":"unsubscribe","channel":"testing"}`)})
	h.BroadcastPipelineUpdate("exec-2", map[string]any{})
	h.Stats()

	// Filtered while subscribed to testing, firehose again afterwards.
	assert.Len(t, conn.framesOfType(TypePipelineUpdate), 1)

	statuses := conn.framesOfType(TypeConnectionStatus)
	last := statuses[len(statuses)-1]
	data, err := json.Marshal(last.Data)
	require.NoError(t, err)
	var status StatusPayload
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "unsubscribed", status.Status)
	assert.Empty(t, status.Subscriptions)
}

func TestHub_SubscriptionAckWireShape(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	id := registerFake(t, h, conn)
	subscribeFake(h, id, ChannelPipeline)
	h.post(inboundCmd{id: id, data: []byte(`{"type":"unsubscribe","channel":"pipeline"}`)})
	h.Stats()

	raws := conn.rawFrames()
	require.Len(t, raws, 3) // welcome, subscribe ack, unsubscribe ack

	// The welcome frame carries no subscription list.
	assert.NotContains(t, string(raws[0]), `"subscriptions"`)
	assert.Contains(t, string(raws[1]), `"subscriptions":["pipeline"]`)

	// Emptying the set still serializes the field, as [].
	assert.Contains(t, string(raws[2]), `"status":"unsubscribed"`)
	assert.Contains(t, string(raws[2]), `"subscriptions":[]`)
}

func TestHub_EmptyStringChannelAccepted(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	id := registerFake(t, h, conn)

	// An empty string is a valid (if useless) channel name; only
	// missing or non-string values are quietly ignored.
	h.post(inboundCmd{id: id, data: []byte(`{"type":"subscribe","channel":""}`)})
	h.Stats()

	statuses := conn.framesOfType(TypeConnectionStatus)
	require.Len(t, statuses, 2)
	var ack SubscriptionAck
	decodePayload(t, statuses[1].Data, &ack)
	assert.Equal(t, "subscribed", ack.Status)
	assert.Equal(t, []string{""}, ack.Subscriptions)

	// The subscription filters like any other channel.
	h.BroadcastPipelineUpdate("exec-1", map[string]any{})
	h.Stats()
	assert.Empty(t, conn.framesOfType(TypePipelineUpdate))
}

func TestHub_MalformedSubscribeIgnored(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	id := registerFake(t, h, conn)

	// Missing and non-string channel values change nothing and get no
	// reply.
	h.post(inboundCmd{id: id, data: []byte(`{"type":"subscribe"}`)})
	h.post(inboundCmd{id: id, data: []byte(`{"type":"subscribe","channel":42}`)})
	h.Stats()

	assert.Len(t, conn.framesOfType(TypeConnectionStatus), 1) // welcome only
	assert.Empty(t, conn.framesOfType(TypeError))
}

func TestHub_InvalidFrameAndUnknownType(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	id := registerFake(t, h, conn)

	h.post(inboundCmd{id: id, data: []byte(`not json`)})
	h.post(inboundCmd{id: id, data: []byte(`{"type":"dance"}`)})
	h.Stats()

	errs := conn.framesOfType(TypeError)
	require.Len(t, errs, 2)

	var first, second ErrorPayload
	decodePayload(t, errs[0].Data, &first)
	decodePayload(t, errs[1].Data, &second)
	assert.Equal(t, "Invalid message format", first.Message)
	assert.Equal(t, "Unknown message type: dance", second.Message)
}

func TestHub_ApplicationPing(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	id := registerFake(t, h, conn)

	h.post(inboundCmd{id: id, data: []byte(`{"type":"ping"}`)})
	h.Stats()

	statuses := conn.framesOfType(TypeConnectionStatus)
	require.Len(t, statuses, 2)
	var status StatusPayload
	decodePayload(t, statuses[1].Data, &status)
	assert.Equal(t, "pong", status.Status)
}

func TestHub_FanOutFailureIsolation(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conns := []*fakeConn{{}, {}, {}}
	for _, c := range conns {
		id := registerFake(t, h, c)
		subscribeFake(h, id, ChannelPipeline)
	}
	h.Stats()
	conns[1].setSendErr(fmt.Errorf("broken pipe"))

	h.BroadcastPipelineUpdate("exec-1", map[string]any{"status": "running"})
	stats := h.Stats()

	// The failing client is evicted; the other two still deliver.
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Len(t, conns[0].framesOfType(TypePipelineUpdate), 1)
	assert.Len(t, conns[2].framesOfType(TypePipelineUpdate), 1)
	assert.True(t, conns[1].terminated)

	h.BroadcastPipelineUpdate("exec-1", map[string]any{"status": "completed"})
	h.Stats()
	assert.Len(t, conns[0].framesOfType(TypePipelineUpdate), 2)
	assert.Empty(t, conns[1].framesOfType(TypePipelineUpdate))
}

func TestHub_NotReadyConnectionsSkipped(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	registerFake(t, h, conn)
	conn.mu.Lock()
	conn.notReady = true
	conn.mu.Unlock()

	h.BroadcastTestUpdate("suite-1", map[string]any{})
	stats := h.Stats()

	// Skipped, not evicted: only the reaper may remove a closed-but-
	// registered connection.
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 0, stats.OpenConnections)
	assert.Empty(t, conn.framesOfType(TypeTestUpdate))
}

func TestHub_HeartbeatReaping(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(t, clock, Options{HeartbeatInterval: 30 * time.Second})

	conn := &fakeConn{}
	registerFake(t, h, conn)

	// First sweep: the silent client is still within the two-interval
	// window, so it is probed, not removed.
	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return conn.pingCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, h.Stats().TotalConnections)

	// Second sweep: no pong observed for two full intervals — reaped.
	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return h.Stats().TotalConnections == 0 }, time.Second, time.Millisecond)
	assert.True(t, conn.terminated)
}

func TestHub_PongDefersReaping(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newTestHub(t, clock, Options{HeartbeatInterval: 30 * time.Second})

	conn := &fakeConn{}
	id := registerFake(t, h, conn)

	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return conn.pingCount() == 1 }, time.Second, time.Millisecond)

	// The pong resets the liveness window, so the next sweep probes
	// again instead of evicting.
	h.post(pongCmd{id: id})
	h.Stats()

	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return conn.pingCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, h.Stats().TotalConnections)
}

func TestHub_Stats(t *testing.T) {
	h := newTestHub(t, clockwork.NewRealClock(), Options{})

	a := &fakeConn{}
	b := &fakeConn{}
	idA := registerFake(t, h, a)
	idB := registerFake(t, h, b)
	subscribeFake(h, idA, ChannelPipeline)
	subscribeFake(h, idB, ChannelPipeline)
	subscribeFake(h, idB, ChannelTesting)

	stats := h.Stats()
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 2, stats.OpenConnections)
	assert.Equal(t, []string{ChannelPipeline, ChannelTesting}, stats.ActiveChannels)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)
}

func TestHub_ShutdownIdempotent(t *testing.T) {
	h := NewHub(clockwork.NewRealClock(), Options{})

	conn := &fakeConn{}
	registerFake(t, h, conn)

	h.Shutdown()
	h.Shutdown() // second call returns immediately, no panic

	assert.Equal(t, websocket.CloseNormalClosure, conn.closeCode)
	assert.Equal(t, Stats{}, h.Stats())
}

func TestMessageIDUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	now := time.Now()
	for i := 0; i < 10000; i++ {
		msg := newBroadcastMessage(TypePipelineUpdate, nil, now)
		_, dup := seen[msg.ID]
		require.False(t, dup, "duplicate message id %s", msg.ID)
		seen[msg.ID] = struct{}{}
	}
}

func decodePayload(t *testing.T, data any, out any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}
