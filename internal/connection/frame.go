package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FrameKind discriminates control frames from application payloads.
type FrameKind int

const (
	KindApplication FrameKind = iota
	KindPing
	KindPong
)

func (k FrameKind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	default:
		return "application"
	}
}

// Frame is a parsed inbound message.
// Control frames carry no event; application frames keep the full body.
type Frame struct {
	Kind  FrameKind
	Event string          // Value of the "event" field, empty if absent
	Body  json.RawMessage // Full JSON object as received
}

// IsControl reports whether the frame is a heartbeat frame.
func (f Frame) IsControl() bool {
	return f.Kind != KindApplication
}

// Decode unmarshals the frame body into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Body, v)
}

// envelope captures the discriminator fields. They are kept raw so that a
// non-string "event" does not fail the whole frame.
type envelope struct {
	Type  json.RawMessage `json:"type"`
	Event json.RawMessage `json:"event"`
}

// pingFrame is the outbound heartbeat.
var pingFrame = []byte(`{"type":"ping"}`)

// ParseFrame parses a raw message into a Frame.
// Every frame must be a JSON object.
func ParseFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, ErrMalformedFrame
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch rawString(env.Type) {
	case "ping":
		return Frame{Kind: KindPing, Body: json.RawMessage(trimmed)}, nil
	case "pong":
		return Frame{Kind: KindPong, Body: json.RawMessage(trimmed)}, nil
	}

	return Frame{
		Kind:  KindApplication,
		Event: rawString(env.Event),
		Body:  json.RawMessage(trimmed),
	}, nil
}

// rawString returns the string value of a raw JSON field, or "" when the
// field is absent or not a string.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
