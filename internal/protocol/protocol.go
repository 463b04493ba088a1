// Package protocol defines the JSON messages exchanged over the event stream.
package protocol

import (
	"encoding/json"
	"fmt"

	"macrorec/internal/input"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeAuth is sent by client immediately after connection to authenticate
	TypeAuth MessageType = "auth"

	// TypeEvent carries one resolved input event from server to clients
	TypeEvent MessageType = "event"

	// TypeStatus is sent by server on connect and whenever recording starts or stops
	TypeStatus MessageType = "status"

	// TypeSuppress is sent by client to mute capture, e.g. during playback
	TypeSuppress MessageType = "suppress"

	// TypeError reports a rejected client message
	TypeError MessageType = "error"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// AuthPayload is the payload for TypeAuth
type AuthPayload struct {
	Token         string `json:"token"`
	ClientName    string `json:"client_name"`
	ClientVersion string `json:"client_version"`
}

// EventPayload is the payload for TypeEvent
type EventPayload struct {
	Kind  input.Kind  `json:"kind"`
	Event input.Event `json:"event"`
}

// StatusPayload is the payload for TypeStatus
type StatusPayload struct {
	Recording     bool   `json:"recording"`
	StopKey       string `json:"stop_key"`
	CaptureMethod string `json:"capture_method"`
}

// SuppressPayload is the payload for TypeSuppress
type SuppressPayload struct {
	DurationMs int64 `json:"duration_ms"`
}

// ErrorPayload is the payload for TypeError
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEventMessage wraps a resolved event
func NewEventMessage(ev input.Event) Message {
	return Message{
		Type:    TypeEvent,
		Payload: EventPayload{Kind: ev.Kind(), Event: ev},
	}
}

// DecodePayload re-marshals a generically decoded payload into dst
func DecodePayload(msg Message, dst interface{}) error {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return nil
}
