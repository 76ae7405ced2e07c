// Package protocol defines the WebSocket message types exchanged between a
// perception process and the gimbal controller.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType names the payload carried by a Message
type MessageType string

// Perception → controller
const (
	TypeDetections MessageType = "detections" // full detection set for one frame
	TypePrimary    MessageType = "primary"    // preferred target change
)

// Controller → perception
const (
	TypeAck   MessageType = "ack"   // publish accepted, carries the store version
	TypeError MessageType = "error" // publish rejected
)

// Controller → dashboard
const TypeStatus MessageType = "status"

// Either direction
const (
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope every websocket frame is wrapped in.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage wraps data, stamped with the current time.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	return newMessageAt(time.Now(), msgType, data)
}

func newMessageAt(at time.Time, msgType MessageType, data any) (*Message, error) {
	msg := &Message{Type: msgType, Timestamp: at.UnixMilli()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", msgType, err)
	}
	msg.Data = raw
	return msg, nil
}

// Time returns the send time, or the zero time when the sender left it out.
func (m *Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// ParseData unmarshals the payload into v. A message without data leaves v
// untouched.
func (m *Message) ParseData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded frame
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a frame. A frame without a type is rejected.
func ParseMessage(data []byte) (*Message, error) {
	msg := new(Message)
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("parse message: missing type")
	}
	return msg, nil
}

// DetectionsData is one complete set of detections from a frame.
// Names and Boxes are index-parallel; each box is [top, right, bottom, left]
// in pixels.
type DetectionsData struct {
	Names   []string     `json:"names"`
	Boxes   [][4]float64 `json:"boxes"`
	Primary string       `json:"primary,omitempty"`
}

// Validate checks that names and boxes line up.
func (d *DetectionsData) Validate() error {
	if len(d.Names) != len(d.Boxes) {
		return fmt.Errorf("detections: %d names but %d boxes", len(d.Names), len(d.Boxes))
	}
	return nil
}

// PrimaryData names the preferred target
type PrimaryData struct {
	Name string `json:"name"`
}

// AckData confirms a publish
type AckData struct {
	Version uint64 `json:"version"`
}

// ErrorData explains a rejected message
type ErrorData struct {
	Error string `json:"error"`
}

// PingData is a round-trip probe. The envelope timestamp is the send time.
type PingData struct {
	ID string `json:"id"`
}

// PongData answers a ping with both timestamps so the sender can compute
// the round trip.
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
