package ws

import (
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates server→client frames.
type MessageType string

const (
	TypePipelineUpdate   MessageType = "pipeline_update"
	TypeTestUpdate       MessageType = "test_update"
	TypeError            MessageType = "error"
	TypeConnectionStatus MessageType = "connection_status"
)

// Channel names the publish operations broadcast on.
const (
	ChannelPipeline = "pipeline"
	ChannelTesting  = "testing"
)

// Message is the unit of broadcast. Data holds a payload shaped by Type:
// ErrorPayload for error frames, StatusPayload for connection_status
// frames, and an open JSON object for pipeline/test updates (producers
// merge arbitrary fields). ID is set only for messages that enter
// history.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Timestamp string      `json:"timestamp"`
	ID        string      `json:"id,omitempty"`
}

// ErrorPayload is the data shape of error frames.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StatusPayload is the data shape of connection_status frames. Only the
// fields relevant to the particular status are populated.
type StatusPayload struct {
	Status        string   `json:"status"`
	ClientID      string   `json:"clientId,omitempty"`
	ServerTime    string   `json:"serverTime,omitempty"`
	Channel       string   `json:"channel,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// SubscriptionAck is the data shape of subscribe/unsubscribe replies.
// The subscriptions field always carries the current set, serialized as
// [] when the last subscription is removed.
type SubscriptionAck struct {
	Status        string   `json:"status"`
	Channel       string   `json:"channel"`
	Subscriptions []string `json:"subscriptions"`
}

// clientFrame is the client→server frame shape. Channel stays raw so a
// non-string value can be detected without failing the whole frame.
type clientFrame struct {
	Type    string `json:"type"`
	Channel any    `json:"channel"`
}

func newMessage(typ MessageType, data any, now time.Time) Message {
	return Message{
		Type:      typ,
		Data:      data,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// newBroadcastMessage stamps an id in addition to the timestamp; only
// published messages enter history and need one.
func newBroadcastMessage(typ MessageType, data any, now time.Time) Message {
	m := newMessage(typ, data, now)
	m.ID = uuid.NewString()
	return m
}
