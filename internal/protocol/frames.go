package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrUnknownType = errors.New("unknown frame type")
)

// Outbound frame types.
const (
	TypeConnectionInit = "connection_init"
	TypeStart          = "start"
	TypeStop           = "stop"
)

// Inbound frame types.
const (
	TypeConnectionAck = "connection_ack"
	TypeKeepAlive     = "ka"
	TypeData          = "data"
	TypeError         = "error"
	TypeComplete      = "complete"
)

// ProtocolError reports an inbound frame whose type is not part of the
// graphql-ws vocabulary.
type ProtocolError struct {
	Type string
	Raw  []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v (type %q)", ErrUnknownType, e.Type)
}

func (e *ProtocolError) Unwrap() error { return ErrUnknownType }

// Frame is a decoded inbound message from the server.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsTerminal reports whether the frame ends the subscription it belongs to.
func (f Frame) IsTerminal() bool {
	return f.Type == TypeError || f.Type == TypeComplete
}

// initFrame is the outbound connection_init frame. The payload carries the
// headers both as a nested map and as a top-level Authorization field; backend
// API versions differ in which one they read, and each ignores the other.
type initFrame struct {
	Type    string      `json:"type"`
	Payload initPayload `json:"payload"`
}

type initPayload struct {
	Headers       map[string]string `json:"headers"`
	Authorization *string           `json:"Authorization"`
}

// startFrame is the outbound start frame opening one operation.
type startFrame struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Payload startPayload `json:"payload"`
}

type startPayload struct {
	Headers   map[string]string `json:"headers"`
	Query     string            `json:"query"`
	Variables map[string]any    `json:"variables"`
}

// stopFrame is the outbound stop frame closing one operation.
type stopFrame struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// EncodeConnectionInit builds a connection_init frame. An empty authorization
// is encoded as JSON null so servers that require the field can tell it apart
// from a blank token.
func EncodeConnectionInit(headers map[string]string, authorization string) ([]byte, error) {
	var auth *string
	if authorization != "" {
		auth = &authorization
	}
	return json.Marshal(initFrame{
		Type: TypeConnectionInit,
		Payload: initPayload{
			Headers:       headers,
			Authorization: auth,
		},
	})
}

// EncodeStart builds a start frame for the given correlation id.
func EncodeStart(id string, headers map[string]string, query string, variables map[string]any) ([]byte, error) {
	return json.Marshal(startFrame{
		ID:   id,
		Type: TypeStart,
		Payload: startPayload{
			Headers:   headers,
			Query:     query,
			Variables: variables,
		},
	})
}

// EncodeStop builds a stop frame for the given correlation id.
func EncodeStop(id string) ([]byte, error) {
	return json.Marshal(stopFrame{ID: id, Type: TypeStop})
}

// Decode parses one raw inbound message and classifies it. A frame whose type
// is not part of the protocol vocabulary yields a *ProtocolError.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case TypeConnectionAck, TypeKeepAlive, TypeData, TypeError, TypeComplete:
		return f, nil
	}

	return Frame{}, &ProtocolError{Type: f.Type, Raw: raw}
}
