// Package session carries envelopes between the local bridge and one
// running target instance.
package session

import (
	"context"
)

// Transport moves envelopes to and from one target instance. Receive must
// return the same channel on every call and close it when the connection
// ends.
//
//go:generate mockgen -package=session -destination=mock_transport_test.go github.com/odvcencio/appbridge/pkg/session Transport
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Receive() <-chan Envelope
	Close() error
}
