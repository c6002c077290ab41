// Package protocol defines the realtime channel's wire format. Every frame is
// a JSON text frame with an event name and an event-specific payload:
//
//	{"event": "private_message", "data": {...}}
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/homefix/messenger/internal/model"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server events.
const (
	EventJoin = "join" // data: user id string
	EventPing = "ping"
)

// Server -> Client events.
const (
	EventPrivateMessage = "private_message" // data: model.Message
	EventPong           = "pong"
	EventError          = "error" // data: ErrorPayload
)

// Local lifecycle events raised by the channel manager. They never appear
// on the wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw JSON payload for deferred
// decoding into a concrete type.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is sent by the server to report a rejected frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// Encode builds a frame for event carrying data. A nil data omits the field.
func Encode(event string, data interface{}) ([]byte, error) {
	if event == "" {
		return nil, fmt.Errorf("protocol: empty event name")
	}
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal %q payload: %w", event, err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses a frame into its Envelope. Frames without an event name are
// rejected.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	return env, nil
}

// DecodeMessage extracts the Message carried by a private_message envelope.
func DecodeMessage(env Envelope) (model.Message, error) {
	if env.Event != EventPrivateMessage {
		return model.Message{}, fmt.Errorf("protocol: expected %q, got %q", EventPrivateMessage, env.Event)
	}
	var msg model.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return model.Message{}, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	if msg.SenderID == "" {
		return model.Message{}, fmt.Errorf("protocol: %q payload missing sender_id", env.Event)
	}
	return msg, nil
}

// DecodeJoin extracts the user id carried by a join envelope.
func DecodeJoin(env Envelope) (string, error) {
	if env.Event != EventJoin {
		return "", fmt.Errorf("protocol: expected %q, got %q", EventJoin, env.Event)
	}
	var userID string
	if err := json.Unmarshal(env.Data, &userID); err != nil {
		return "", fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	return userID, nil
}
