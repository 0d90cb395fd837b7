package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/appbridge/pkg/observability"
)

const unsubscribeTimeout = 2 * time.Second

// Remote correlates responses to requests by envelope ID, so completion
// order on the wire never matters. It also dispatches unsolicited log
// envelopes to per-stream handlers.
type Remote struct {
	transport Transport
	logger    *observability.Logger

	mu      sync.Mutex
	pending map[string]chan Envelope
	streams map[string]func(WireLog)
	closed  bool
	err     error
	done    chan struct{}
}

// NewRemote starts reading from t. The Remote owns t from now on.
func NewRemote(t Transport, logger *observability.Logger) *Remote {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Remote{
		transport: t,
		logger:    logger,
		pending:   make(map[string]chan Envelope),
		streams:   make(map[string]func(WireLog)),
		done:      make(chan struct{}),
	}
	go r.readLoop()
	return r
}

func (r *Remote) readLoop() {
	for env := range r.transport.Receive() {
		switch env.Type {
		case TypeResponse:
			r.mu.Lock()
			ch, ok := r.pending[env.ID]
			if ok {
				delete(r.pending, env.ID)
			}
			r.mu.Unlock()
			if !ok {
				r.logger.Debug("dropping response without pending request", "id", env.ID)
				continue
			}
			ch <- env
		case TypeLog:
			r.mu.Lock()
			fn := r.streams[env.Stream]
			r.mu.Unlock()
			if fn != nil && env.Log != nil {
				fn(*env.Log)
			}
		default:
			r.logger.Debug("ignoring envelope", "type", env.Type)
		}
	}
	r.shutdown(ErrDisconnected)
}

// Call sends env and waits for its response. Wire errors come back as Go
// errors wrapping the session sentinels.
func (r *Remote) Call(ctx context.Context, env Envelope) (Envelope, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Type == "" {
		env.Type = TypeRequest
	}
	op := operationName(env)

	ch := make(chan Envelope, 1)
	r.mu.Lock()
	if r.closed {
		err := r.err
		r.mu.Unlock()
		return Envelope{}, fmt.Errorf("%s: %w", op, err)
	}
	r.pending[env.ID] = ch
	r.mu.Unlock()

	if err := r.transport.Send(ctx, env); err != nil {
		r.forget(env.ID)
		if ctx.Err() != nil {
			return Envelope{}, contextError(ctx, op)
		}
		return Envelope{}, fmt.Errorf("%w: send %s: %v", ErrDisconnected, op, err)
	}

	select {
	case resp := <-ch:
		return resp, resp.Error.Err(op)
	case <-ctx.Done():
		r.forget(env.ID)
		return Envelope{}, contextError(ctx, op)
	case <-r.done:
		select {
		case resp := <-ch:
			return resp, resp.Error.Err(op)
		default:
		}
		return Envelope{}, fmt.Errorf("%s: %w", op, r.terminal())
	}
}

// Subscribe registers fn for a log stream and asks the remote to start
// emitting it. The returned cancel function removes fn and asks the remote
// to stop; it is safe to call more than once.
func (r *Remote) Subscribe(ctx context.Context, stream, script string, fn func(WireLog)) (func(), error) {
	r.mu.Lock()
	if r.closed {
		err := r.err
		r.mu.Unlock()
		return nil, err
	}
	if _, exists := r.streams[stream]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, stream)
	}
	r.streams[stream] = fn
	r.mu.Unlock()

	_, err := r.Call(ctx, Envelope{Type: TypeSubscribe, Stream: stream, Script: script})
	if err != nil {
		r.removeStream(stream)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.removeStream(stream)
			if r.Closed() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			defer cancel()
			if _, err := r.Call(ctx, Envelope{Type: TypeUnsubscribe, Stream: stream}); err != nil {
				r.logger.Debug("unsubscribe failed", "stream", stream, "error", err)
			}
		})
	}, nil
}

// Pending reports requests still waiting for a response.
func (r *Remote) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Done is closed once the remote is closed or disconnected.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Closed reports whether the remote stopped accepting calls.
func (r *Remote) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Err returns ErrSessionClosed or ErrDisconnected once the remote stopped,
// nil before.
func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close rejects every in-flight call with ErrSessionClosed and releases
// the transport.
func (r *Remote) Close() error {
	if !r.shutdown(ErrSessionClosed) {
		return nil
	}
	return r.transport.Close()
}

func (r *Remote) shutdown(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	r.err = err
	r.pending = make(map[string]chan Envelope)
	r.streams = make(map[string]func(WireLog))
	close(r.done)
	return true
}

func (r *Remote) terminal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		return ErrSessionClosed
	}
	return r.err
}

func (r *Remote) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *Remote) removeStream(stream string) {
	r.mu.Lock()
	delete(r.streams, stream)
	r.mu.Unlock()
}

func operationName(env Envelope) string {
	switch {
	case env.Operation != "":
		return env.Operation
	case env.Type == TypeSubscribe || env.Type == TypeUnsubscribe:
		return string(env.Type) + ":" + env.Stream
	default:
		return string(env.Type)
	}
}

func contextError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, ctx.Err())
	}
	return fmt.Errorf("%s: %w", op, ctx.Err())
}
