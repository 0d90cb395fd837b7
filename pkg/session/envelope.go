package session

import (
	"encoding/json"
)

// EnvelopeType discriminates wire messages.
type EnvelopeType string

const (
	TypeRequest     EnvelopeType = "request"
	TypeResponse    EnvelopeType = "response"
	TypeSubscribe   EnvelopeType = "subscribe"
	TypeUnsubscribe EnvelopeType = "unsubscribe"
	TypeLog         EnvelopeType = "log"
)

// OpExecute runs a script in the hosted content. Every other operation name
// is a native named operation.
const OpExecute = "execute"

// Log stream names.
const (
	StreamBackend  = "backend"
	StreamFrontend = "frontend"
)

// Envelope is the single wire message shape. Requests, subscribe and
// unsubscribe messages are answered by exactly one response with the same
// ID; log messages are unsolicited.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	ID        string          `json:"id,omitempty"`
	Operation string          `json:"op,omitempty"`
	Script    string          `json:"script,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *WireError      `json:"error,omitempty"`
	Stream    string          `json:"stream,omitempty"`
	Log       *WireLog        `json:"log,omitempty"`
}

// WireError is a transport-level failure. Script exceptions travel inside
// Result instead.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WireLog is one log line emitted by the remote side.
type WireLog struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	// Timestamp is Unix milliseconds from the remote clock; zero means
	// unknown.
	Timestamp int64 `json:"ts,omitempty"`
}

// Response builds the reply to req.
func Response(req Envelope, result json.RawMessage) Envelope {
	return Envelope{Type: TypeResponse, ID: req.ID, Result: result}
}

// ErrorResponse builds a failed reply to req.
func ErrorResponse(req Envelope, code, message string) Envelope {
	return Envelope{Type: TypeResponse, ID: req.ID, Error: &WireError{Code: code, Message: message}}
}
