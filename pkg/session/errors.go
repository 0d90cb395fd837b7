package session

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed     = errors.New("session closed")
	ErrTimeout           = errors.New("operation timeout")
	ErrDisconnected      = errors.New("session disconnected")
	ErrUnknownOperation  = errors.New("unknown remote operation")
	ErrUnsupported       = errors.New("operation not supported by transport")
	ErrAlreadySubscribed = errors.New("stream already subscribed")
)

// Wire error codes carried in response envelopes.
const (
	CodeUnknownOperation = "unknown_operation"
	CodeUnsupported      = "unsupported"
	CodeTimeout          = "timeout"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal"
)

// ProtocolError is a transport-level failure reported by the remote side
// that has no dedicated sentinel.
type ProtocolError struct {
	Code      string
	Message   string
	Operation string
}

func (e *ProtocolError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("remote error [%s] in %s: %s", e.Code, e.Operation, e.Message)
	}
	return fmt.Sprintf("remote error [%s]: %s", e.Code, e.Message)
}

// Err converts a wire error into a Go error. Known codes wrap the matching
// sentinel and always name the operation.
func (w *WireError) Err(operation string) error {
	if w == nil {
		return nil
	}
	switch w.Code {
	case CodeUnknownOperation:
		return fmt.Errorf("%w %q: %s", ErrUnknownOperation, operation, w.Message)
	case CodeUnsupported:
		return fmt.Errorf("%w: %s: %s", ErrUnsupported, operation, w.Message)
	case CodeTimeout:
		return fmt.Errorf("%w: %s: %s", ErrTimeout, operation, w.Message)
	default:
		return &ProtocolError{Code: w.Code, Message: w.Message, Operation: operation}
	}
}
