package session

import (
	"context"

	"github.com/odvcencio/appbridge/pkg/target"
)

// Handle is one live session. The lifecycle controller owns it; the bridge
// and the log multiplexer only borrow it and fail fast once it is closed.
type Handle struct {
	SessionID string
	// InstanceID is empty for single-instance runs.
	InstanceID string
	Target     target.Descriptor

	remote *Remote
}

// NewHandle wraps a remote.
func NewHandle(sessionID, instanceID string, t target.Descriptor, remote *Remote) *Handle {
	return &Handle{SessionID: sessionID, InstanceID: instanceID, Target: t, remote: remote}
}

// Call forwards to the remote, or fails with ErrSessionClosed.
func (h *Handle) Call(ctx context.Context, env Envelope) (Envelope, error) {
	if h == nil || h.remote == nil {
		return Envelope{}, ErrSessionClosed
	}
	return h.remote.Call(ctx, env)
}

// Subscribe forwards to the remote, or fails with ErrSessionClosed.
func (h *Handle) Subscribe(ctx context.Context, stream, script string, fn func(WireLog)) (func(), error) {
	if h == nil || h.remote == nil {
		return nil, ErrSessionClosed
	}
	return h.remote.Subscribe(ctx, stream, script, fn)
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the session ends for any reason.
func (h *Handle) Done() <-chan struct{} {
	if h == nil || h.remote == nil {
		return closedDone
	}
	return h.remote.Done()
}

// Err is nil while the session is live.
func (h *Handle) Err() error {
	if h == nil || h.remote == nil {
		return ErrSessionClosed
	}
	return h.remote.Err()
}

// Pending reports in-flight requests.
func (h *Handle) Pending() int {
	if h == nil || h.remote == nil {
		return 0
	}
	return h.remote.Pending()
}

// Close ends the session. In-flight calls reject with ErrSessionClosed.
func (h *Handle) Close() error {
	if h == nil || h.remote == nil {
		return nil
	}
	return h.remote.Close()
}

// Label is the instance name, or the session id for single-instance runs.
func (h *Handle) Label() string {
	if h == nil {
		return ""
	}
	if h.InstanceID != "" {
		return h.InstanceID
	}
	return h.SessionID
}
