package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/jelf-alter/personal-site/internal/metrics"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHistoryLimit      = 100
	commandBufferSize        = 256
)

// client is the hub's record of one live connection. Touched only from
// the hub goroutine.
type client struct {
	id            string
	conn          Conn
	subscriptions map[string]struct{}
	connectedAt   time.Time
	// lastPong drives liveness: a client is overdue once the clock has
	// advanced two heartbeat intervals past it without a transport pong.
	lastPong time.Time
}

func (c *client) subscriptionList() []string {
	list := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		list = append(list, ch)
	}
	sort.Strings(list)
	return list
}

// Stats is a point-in-time snapshot of the hub.
type Stats struct {
	TotalConnections int      `json:"totalConnections"`
	OpenConnections  int      `json:"openConnections"`
	ActiveChannels   []string `json:"activeChannels"`
	UptimeSeconds    float64  `json:"uptimeSeconds"`
}

// --- Command types ---

type hubCmd interface{ hubCmd() }

type registerCmd struct {
	conn    Conn
	replyCh chan string
}

func (registerCmd) hubCmd() {}

type unregisterCmd struct {
	id string
}

func (unregisterCmd) hubCmd() {}

type inboundCmd struct {
	id   string
	data []byte
}

func (inboundCmd) hubCmd() {}

type pongCmd struct {
	id string
}

func (pongCmd) hubCmd() {}

type publishCmd struct {
	channel string
	typ     MessageType
	data    map[string]any
}

func (publishCmd) hubCmd() {}

type statsCmd struct {
	replyCh chan Stats
}

func (statsCmd) hubCmd() {}

type historyCmd struct {
	channel string
	replyCh chan []Message
}

func (historyCmd) hubCmd() {}

type stopCmd struct{}

func (stopCmd) hubCmd() {}

// --- Hub ---

// Options tunes hub behavior; zero values pick the defaults (30s
// heartbeat, 100 retained messages per channel).
type Options struct {
	HeartbeatInterval time.Duration
	HistoryLimit      int
}

// Hub owns the connection registry, subscription index, and channel
// history. Construct one per process and inject it where needed.
type Hub struct {
	cmdCh   chan hubCmd
	done    chan struct{}
	clock   clockwork.Clock
	started time.Time

	heartbeatInterval time.Duration
	historyLimit      int

	clients map[string]*client
	history map[string][]Message
}

// NewHub creates a hub and starts its goroutine and heartbeat loop.
func NewHub(clock clockwork.Clock, opts Options) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	h := &Hub{
		cmdCh:             make(chan hubCmd, commandBufferSize),
		done:              make(chan struct{}),
		clock:             clock,
		started:           clock.Now(),
		heartbeatInterval: opts.HeartbeatInterval,
		historyLimit:      opts.HistoryLimit,
		clients:           make(map[string]*client),
		history:           make(map[string][]Message),
	}
	go h.run()
	return h
}

// post enqueues a command unless the hub has shut down.
func (h *Hub) post(cmd hubCmd) bool {
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) run() {
	ticker := h.clock.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				c.replyCh <- h.handleRegister(c.conn)
			case unregisterCmd:
				h.removeClient(c.id, false)
			case inboundCmd:
				h.handleInbound(c.id, c.data)
			case pongCmd:
				if cl, ok := h.clients[c.id]; ok {
					cl.lastPong = h.clock.Now()
				}
			case publishCmd:
				h.handlePublish(c)
			case statsCmd:
				c.replyCh <- h.snapshotStats()
			case historyCmd:
				c.replyCh <- h.snapshotHistory(c.channel)
			case stopCmd:
				h.handleStop()
				return
			}
		case <-ticker.Chan():
			h.handleSweep()
		}
	}
}

// --- Public API ---

// ServeConn registers a raw WebSocket connection and pumps inbound
// frames into the hub until the client disconnects. It blocks, so call
// it from the HTTP handler goroutine.
func (h *Hub) ServeConn(raw *websocket.Conn) {
	conn := newWSConn(raw, h.clock)

	replyCh := make(chan string, 1)
	if !h.post(registerCmd{conn: conn, replyCh: replyCh}) {
		_ = raw.Close()
		return
	}
	var id string
	select {
	case id = <-replyCh:
	case <-h.done:
		_ = raw.Close()
		return
	}

	raw.SetPongHandler(func(string) error {
		h.post(pongCmd{id: id})
		return nil
	})

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			break
		}
		h.post(inboundCmd{id: id, data: data})
	}

	conn.markDead()
	h.post(unregisterCmd{id: id})
}

// BroadcastPipelineUpdate publishes a pipeline event on the pipeline
// channel, merging the pipeline id into the payload. Best effort; no
// delivery acknowledgement.
func (h *Hub) BroadcastPipelineUpdate(pipelineID string, data map[string]any) {
	merged := mergeIdentifier(data, "pipelineId", pipelineID)
	h.post(publishCmd{channel: ChannelPipeline, typ: TypePipelineUpdate, data: merged})
}

// BroadcastTestUpdate publishes a test event on the testing channel,
// merging the suite id into the payload.
func (h *Hub) BroadcastTestUpdate(testSuiteID string, data map[string]any) {
	merged := mergeIdentifier(data, "testSuiteId", testSuiteID)
	h.post(publishCmd{channel: ChannelTesting, typ: TypeTestUpdate, data: merged})
}

// Stats returns a snapshot of the current hub state. After shutdown it
// returns the zero value.
func (h *Hub) Stats() Stats {
	replyCh := make(chan Stats, 1)
	if !h.post(statsCmd{replyCh: replyCh}) {
		return Stats{}
	}
	select {
	case s := <-replyCh:
		return s
	case <-h.done:
		return Stats{}
	}
}

// History returns the retained messages for a channel, oldest first.
// Channels never published to yield an empty slice.
func (h *Hub) History(channel string) []Message {
	replyCh := make(chan []Message, 1)
	if !h.post(historyCmd{channel: channel, replyCh: replyCh}) {
		return []Message{}
	}
	select {
	case msgs := <-replyCh:
		return msgs
	case <-h.done:
		return []Message{}
	}
}

// Shutdown stops the heartbeat loop, closes every open connection with
// a normal closure frame, and clears the registry. Safe to call more
// than once; later calls return immediately.
func (h *Hub) Shutdown() {
	h.post(stopCmd{})
	<-h.done
}

// --- Handlers (hub goroutine only) ---

func (h *Hub) handleRegister(conn Conn) string {
	now := h.clock.Now()
	cl := &client{
		id:            uuid.NewString(),
		conn:          conn,
		subscriptions: make(map[string]struct{}),
		connectedAt:   now,
		lastPong:      now,
	}
	h.clients[cl.id] = cl
	metrics.WSConnectedClients.Inc()

	h.send(cl, newMessage(TypeConnectionStatus, StatusPayload{
		Status:     "connected",
		ClientID:   cl.id,
		ServerTime: now.UTC().Format(time.RFC3339),
	}, now))

	slog.Debug("client connected", "client_id", cl.id, "total_clients", len(h.clients))
	return cl.id
}

func (h *Hub) handleInbound(id string, data []byte) {
	cl, ok := h.clients[id]
	if !ok {
		return
	}

	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.send(cl, newMessage(TypeError, ErrorPayload{Message: "Invalid message format"}, h.clock.Now()))
		return
	}

	switch frame.Type {
	case "subscribe":
		channel, ok := frame.Channel.(string)
		if !ok {
			return // missing or non-string channel is quietly ignored
		}
		cl.subscriptions[channel] = struct{}{}
		h.send(cl, newMessage(TypeConnectionStatus, SubscriptionAck{
			Status:        "subscribed",
			Channel:       channel,
			Subscriptions: cl.subscriptionList(),
		}, h.clock.Now()))
	case "unsubscribe":
		channel, ok := frame.Channel.(string)
		if !ok {
			return
		}
		delete(cl.subscriptions, channel)
		h.send(cl, newMessage(TypeConnectionStatus, SubscriptionAck{
			Status:        "unsubscribed",
			Channel:       channel,
			Subscriptions: cl.subscriptionList(),
		}, h.clock.Now()))
	case "ping":
		h.send(cl, newMessage(TypeConnectionStatus, StatusPayload{Status: "pong"}, h.clock.Now()))
	default:
		h.send(cl, newMessage(TypeError, ErrorPayload{
			Message: fmt.Sprintf("Unknown message type: %s", frame.Type),
		}, h.clock.Now()))
	}
}

func (h *Hub) handlePublish(c publishCmd) {
	msg := newBroadcastMessage(c.typ, c.data, h.clock.Now())

	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal broadcast message", "channel", c.channel, "error", err)
		return
	}

	for id, cl := range h.clients {
		// Clients with no subscriptions receive every channel.
		if len(cl.subscriptions) > 0 {
			if _, subscribed := cl.subscriptions[c.channel]; !subscribed {
				continue
			}
		}
		if !cl.conn.Ready() {
			continue
		}
		if err := cl.conn.Send(payload); err != nil {
			slog.Warn("send failed, evicting client", "client_id", id, "error", err)
			metrics.WSSendFailuresTotal.Inc()
			h.removeClient(id, false)
		}
	}

	h.appendHistory(c.channel, msg)
	metrics.WSMessagesBroadcastTotal.WithLabelValues(c.channel).Inc()
}

func (h *Hub) appendHistory(channel string, msg Message) {
	entries := append(h.history[channel], msg)
	if over := len(entries) - h.historyLimit; over > 0 {
		entries = entries[over:]
	}
	h.history[channel] = entries
}

// handleSweep is the heartbeat reaper. A client whose last pong is two
// or more intervals old is terminated and removed; everyone else gets a
// transport-level probe.
func (h *Hub) handleSweep() {
	now := h.clock.Now()
	for id, cl := range h.clients {
		if now.Sub(cl.lastPong) >= 2*h.heartbeatInterval {
			slog.Info("heartbeat timeout, terminating client", "client_id", id)
			metrics.WSHeartbeatEvictionsTotal.Inc()
			h.removeClient(id, false)
			continue
		}
		if cl.conn.Ready() {
			if err := cl.conn.Ping(); err != nil {
				h.removeClient(id, false)
			}
		}
	}
}

func (h *Hub) snapshotStats() Stats {
	open := 0
	channels := make(map[string]struct{})
	for _, cl := range h.clients {
		if cl.conn.Ready() {
			open++
		}
		for ch := range cl.subscriptions {
			channels[ch] = struct{}{}
		}
	}
	list := make([]string, 0, len(channels))
	for ch := range channels {
		list = append(list, ch)
	}
	sort.Strings(list)
	return Stats{
		TotalConnections: len(h.clients),
		OpenConnections:  open,
		ActiveChannels:   list,
		UptimeSeconds:    h.clock.Since(h.started).Seconds(),
	}
}

func (h *Hub) snapshotHistory(channel string) []Message {
	entries := h.history[channel]
	out := make([]Message, len(entries))
	copy(out, entries)
	return out
}

func (h *Hub) handleStop() {
	for id := range h.clients {
		h.removeClient(id, true)
	}
	slog.Info("hub stopped")
}

// removeClient is the single removal point shared by the close handler,
// the failed-send path, and the heartbeat reaper.
func (h *Hub) removeClient(id string, graceful bool) {
	cl, ok := h.clients[id]
	if !ok {
		return
	}
	if graceful && cl.conn.Ready() {
		_ = cl.conn.Close(websocket.CloseNormalClosure, "server shutting down")
	} else {
		_ = cl.conn.Terminate()
	}
	delete(h.clients, id)
	metrics.WSConnectedClients.Dec()
	slog.Debug("client removed", "client_id", id, "total_clients", len(h.clients))
}

// send marshals and delivers a frame to one client, evicting it when
// the transport write fails.
func (h *Hub) send(cl *client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal frame", "error", err)
		return
	}
	if err := cl.conn.Send(payload); err != nil {
		metrics.WSSendFailuresTotal.Inc()
		h.removeClient(cl.id, false)
	}
}

func mergeIdentifier(data map[string]any, key, value string) map[string]any {
	merged := make(map[string]any, len(data)+1)
	merged[key] = value
	for k, v := range data {
		merged[k] = v
	}
	return merged
}
