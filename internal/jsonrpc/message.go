// Package jsonrpc implements the JSON-RPC 2.0 envelope Cauce frames every
// message in, independent of which transport carries it.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// Message is the tagged union {Request, Response, Notification}. Which one
// it is is distinguished on parse by the presence of "id" and of
// "method" vs "result"/"error".
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *MessageID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MessageID is the JSON-RPC id, which may be a string or a number on the
// wire. It round-trips whichever form it was parsed from.
type MessageID struct {
	raw json.RawMessage
}

func NewStringID(s string) *MessageID {
	b, _ := json.Marshal(s)
	return &MessageID{raw: b}
}

func (m MessageID) MarshalJSON() ([]byte, error) {
	if m.raw == nil {
		return []byte("null"), nil
	}
	return m.raw, nil
}

func (m *MessageID) UnmarshalJSON(data []byte) error {
	m.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (m MessageID) String() string {
	var s string
	if err := json.Unmarshal(m.raw, &s); err == nil {
		return s
	}
	return string(m.raw)
}

// Kind reports which of the three message shapes this is.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "" && m.ID == nil:
		return KindNotification
	case m.ID != nil && (m.Result != nil || m.Error != nil):
		return KindResponse
	default:
		return KindInvalid
	}
}

// NewRequest builds a request frame.
func NewRequest(id *MessageID, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification frame (no id, no reply expected).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResultResponse builds a success response frame.
func NewResultResponse(id *MessageID, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response frame.
func NewErrorResponse(id *MessageID, rpcErr *Error) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: rpcErr}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return raw, nil
}

// Parse decodes a single JSON-RPC frame from raw bytes.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serializes the frame back to bytes, preserving the envelope.
func (m *Message) Encode() ([]byte, error) {
	if m.JSONRPC == "" {
		m.JSONRPC = Version
	}
	return json.Marshal(m)
}
