package protocol

import "fmt"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewDetectionsMessage creates a detections message
func NewDetectionsMessage(names []string, boxes [][4]float64, primary string) (*Message, error) {
	return NewMessage(TypeDetections, DetectionsData{
		Names:   names,
		Boxes:   boxes,
		Primary: primary,
	})
}

// NewPrimaryMessage creates a primary target message
func NewPrimaryMessage(name string) (*Message, error) {
	return NewMessage(TypePrimary, PrimaryData{Name: name})
}

// NewAckMessage creates an ack for a published version
func NewAckMessage(version uint64) (*Message, error) {
	return NewMessage(TypeAck, AckData{Version: version})
}

// NewErrorMessage creates an error reply
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Error: err.Error()})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// validator is implemented by payloads that check their own invariants
type validator interface {
	Validate() error
}

// Decode unmarshals the data of m into a new T and validates it when T
// knows how.
func Decode[T any](m *Message) (*T, error) {
	v := new(T)
	if err := m.ParseData(v); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	if val, ok := any(v).(validator); ok {
		if err := val.Validate(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// GetDetectionsData extracts and validates detections from a message
func (m *Message) GetDetectionsData() (*DetectionsData, error) { return Decode[DetectionsData](m) }

// GetPrimaryData extracts the primary target from a message
func (m *Message) GetPrimaryData() (*PrimaryData, error) { return Decode[PrimaryData](m) }

// GetAckData extracts ack data from a message
func (m *Message) GetAckData() (*AckData, error) { return Decode[AckData](m) }

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) { return Decode[ErrorData](m) }

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) { return Decode[PingData](m) }

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) { return Decode[PongData](m) }
