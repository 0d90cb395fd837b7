package session

import (
	"context"

	"github.com/odvcencio/appbridge/pkg/capabilities"
)

// EstablishRequest asks a driver for one live session.
type EstablishRequest struct {
	// Instance is empty for single-instance runs.
	Instance     string
	Capabilities capabilities.Set
}

// Established is a live connection. SessionID may be empty, in which case
// the caller assigns one.
type Established struct {
	SessionID string
	Transport Transport
}

// Establisher is the driver collaborator: it turns capabilities into a
// connected transport.
type Establisher interface {
	Establish(ctx context.Context, req EstablishRequest) (Established, error)
}
