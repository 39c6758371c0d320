package gateway

import "encoding/json"

// Frame types on the gateway socket.
const (
	frameEvent    = "event"
	frameRequest  = "req"
	frameResponse = "res"
)

// Well-known event and method names.
const (
	eventChallenge = "connect.challenge"
	methodConnect  = "connect"
	helloOK        = "hello-ok"
)

// Envelope is the wire format for every frame in both directions.
type Envelope struct {
	Type         string         `json:"type"`
	Event        string         `json:"event,omitempty"`
	Method       string         `json:"method,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Seq          int64          `json:"seq,omitempty"`
	StateVersion int64          `json:"stateVersion,omitempty"`
	ID           string         `json:"id,omitempty"`
	OK           *bool          `json:"ok,omitempty"`
	Error        *FrameError    `json:"error,omitempty"`
}

// FrameError is the error detail carried in a rejected response.
type FrameError struct {
	Message string `json:"message"`
}

// decodeEnvelope parses a raw frame. A nil return means the frame was
// malformed and must be dropped without affecting connection state.
func decodeEnvelope(data []byte) *Envelope {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if env.Type == "" {
		return nil
	}
	return &env
}

// Event is one inbound gateway event as delivered to subscribers.
type Event struct {
	Name         string
	Payload      map[string]any
	Seq          int64
	StateVersion int64
}
