package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingType = errors.New("message type missing")
)

// Envelope is the raw frame shape shared by both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw frame. Frames without a type are valid; the
// caller decides how to route them.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return env, nil
}

// Payload returns data when present, otherwise the full raw frame.
func (e Envelope) Payload(raw []byte) json.RawMessage {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return e.Data
	}
	return json.RawMessage(raw)
}

// Command is an outbound message.
type Command interface {
	CommandType() string
}

// Encode marshals a command into its envelope. Commands without a payload
// produce a frame with no data field.
func Encode(cmd Command) ([]byte, error) {
	env := Envelope{Type: cmd.CommandType()}

	if !isEmptyCommand(cmd) {
		data, err := json.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", cmd.CommandType(), err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

func isEmptyCommand(cmd Command) bool {
	switch cmd.(type) {
	case GetAssignments, *GetAssignments:
		return true
	}
	return false
}

// EncodeEnvelope marshals a pre-built envelope.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(env)
}
