package protocol

import (
	"encoding/json"
	"fmt"
)

// InputMessageType defines client-to-server message types
type InputMessageType string

const (
	// Merge request
	InputMergeStart InputMessageType = "merge.start" // Start a merge

	// Control
	InputCancel InputMessageType = "control.cancel" // Cancel current merge
)

// InputMessage represents a message from client. The payload is decoded
// according to the message type.
type InputMessage struct {
	Type      InputMessageType `json:"type"`
	ID        string           `json:"id"`        // Client-generated message ID
	SessionID string           `json:"sessionId"` // Session identifier
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// MergeStartPayload for merge.start. Either Values or Seed supplies the
// input; Values wins when both are set.
type MergeStartPayload struct {
	Workers   int     `json:"workers"`
	RunLength int     `json:"runLength"`
	Values    []int   `json:"values,omitempty"`
	Seed      *uint64 `json:"seed,omitempty"`
	MaxValue  int     `json:"maxValue,omitempty"` // Bound for generated values
}

// ParseInputMessage decodes a client frame
func ParseInputMessage(data []byte) (*InputMessage, error) {
	var msg InputMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	switch msg.Type {
	case InputMergeStart, InputCancel:
	case "":
		return nil, fmt.Errorf("message has no type")
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// MergeStart decodes the payload of a merge.start message
func (m *InputMessage) MergeStart() (*MergeStartPayload, error) {
	if m.Type != InputMergeStart {
		return nil, fmt.Errorf("message type %q carries no merge request", m.Type)
	}
	if len(m.Payload) == 0 {
		return nil, fmt.Errorf("merge.start requires a payload")
	}

	var payload MergeStartPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode merge.start payload: %w", err)
	}
	if payload.Values == nil && payload.Seed == nil {
		return nil, fmt.Errorf("merge.start requires values or a seed")
	}
	return &payload, nil
}
