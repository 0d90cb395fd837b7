package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/appbridge/pkg/session"
)

var (
	// ErrUnserializable marks arguments that cannot be encoded as JSON.
	ErrUnserializable = errors.New("argument is not serializable")
	// ErrInvalidFunction marks function source that does not parse.
	ErrInvalidFunction = errors.New("invalid function source")
	// ErrMalformedResult marks a remote reply that is not a result payload.
	ErrMalformedResult = errors.New("malformed execution result")
)

// Category separates exceptions raised by the remote function from
// failures of the transport that carries it.
type Category string

const (
	CategoryRemote    Category = "remote"
	CategoryTransport Category = "transport"
)

// RemoteExecutionError is returned by Execute and Invoke for every failure
// past local validation.
type RemoteExecutionError struct {
	Category Category
	// Kind is the remote exception name (Error, TypeError,
	// SerializationError) or the transport failure kind.
	Kind      string
	Message   string
	Stack     string
	Operation string
	Err       error
}

// Error returns the original message, so a remote throw of Error(msg)
// surfaces as exactly msg.
func (e *RemoteExecutionError) Error() string {
	return e.Message
}

func (e *RemoteExecutionError) Unwrap() error {
	return e.Err
}

// IsRemote reports whether the remote function itself threw.
func (e *RemoteExecutionError) IsRemote() bool {
	return e.Category == CategoryRemote
}

func transportError(op string, err error) *RemoteExecutionError {
	return &RemoteExecutionError{
		Category:  CategoryTransport,
		Kind:      transportKind(err),
		Message:   err.Error(),
		Operation: op,
		Err:       err,
	}
}

func transportKind(err error) string {
	switch {
	case errors.Is(err, session.ErrUnknownOperation):
		return "UnknownOperation"
	case errors.Is(err, session.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, session.ErrSessionClosed):
		return "SessionClosed"
	case errors.Is(err, session.ErrDisconnected):
		return "Disconnected"
	case errors.Is(err, session.ErrUnsupported):
		return "Unsupported"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, ErrMalformedResult):
		return "MalformedResult"
	default:
		return "Protocol"
	}
}

// ClosureError lists free identifiers that would be undefined remotely.
type ClosureError struct {
	Names []string
}

func (e *ClosureError) Error() string {
	return fmt.Sprintf("function closes over undeclared variables: %s (pass them as arguments)", strings.Join(e.Names, ", "))
}
