package server

import (
	"time"

	"dmchat/internal/types"
)

const (
	EventConnected    = "connected"
	EventHeartbeat    = "heartbeat"
	EventNewMessage   = "new_message"
	EventContactAdded = "contact_added"
)

// ServerEvent is the envelope pushed to a client over its notification
// channel. Exactly one of the payload fields is set, according to Type.
type ServerEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   *types.Message `json:"message,omitempty"`
	Contact   *types.User    `json:"contact,omitempty"`
}

func ConnectedEvent() *ServerEvent {
	return &ServerEvent{
		Type:      EventConnected,
		Timestamp: Now(),
	}
}

func HeartbeatEvent() *ServerEvent {
	return &ServerEvent{
		Type:      EventHeartbeat,
		Timestamp: Now(),
	}
}

func NewMessageEvent(msg *types.Message) *ServerEvent {
	return &ServerEvent{
		Type:      EventNewMessage,
		Timestamp: Now(),
		Message:   msg,
	}
}

func ContactAddedEvent(contact *types.User) *ServerEvent {
	return &ServerEvent{
		Type:      EventContactAdded,
		Timestamp: Now(),
		Contact:   contact,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
