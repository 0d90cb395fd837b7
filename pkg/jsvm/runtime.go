// Package jsvm is an in-process hosted-content runtime. It speaks the
// session envelope protocol, so headless runs and tests can drive the
// bridge without a real application window.
package jsvm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/smallnest/chanx"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

const jobQueueSize = 64

// CommandHandler implements a native command reachable through
// ctx.invoke and named operations. args is the JSON argument object.
type CommandHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Options configures a Runtime.
type Options struct {
	Platform string
	Instance string
	Commands map[string]CommandHandler
	Logger   *observability.Logger
}

// Runtime owns one goja VM. Every VM access happens on the loop goroutine.
type Runtime struct {
	vm        *goja.Runtime
	parse     goja.Callable
	stringify goja.Callable
	ctxObject *goja.Object

	platform string
	instance string
	logger   *observability.Logger
	mocks    *MockStore

	jobs      chan func()
	stop      chan struct{}
	lifetime  context.Context
	cancel    context.CancelFunc
	out       *chanx.UnboundedChan[session.Envelope]
	closeOnce sync.Once

	mu       sync.Mutex
	closed   bool
	commands map[string]CommandHandler
	streams  map[string]bool
	waiters  map[string]chan settled
	events   map[string][]func(json.RawMessage)
	seq      uint64
}

type settled struct {
	value json.RawMessage
	err   error
}

// New starts a runtime and its event loop.
func New(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		vm:       goja.New(),
		platform: opts.Platform,
		instance: opts.Instance,
		logger:   logger.WithComponent("jsvm").WithInstance(opts.Instance),
		mocks:    NewMockStore(),
		jobs:     make(chan func(), jobQueueSize),
		stop:     make(chan struct{}),
		lifetime: lifetime,
		cancel:   cancel,
		out:      chanx.NewUnboundedChan[session.Envelope](lifetime, 16),
		commands: make(map[string]CommandHandler),
		streams:  make(map[string]bool),
		waiters:  make(map[string]chan settled),
		events:   make(map[string][]func(json.RawMessage)),
	}
	for name, handler := range opts.Commands {
		r.commands[name] = handler
	}
	if err := r.install(); err != nil {
		cancel()
		return nil, fmt.Errorf("install runtime globals: %w", err)
	}
	go r.loop()
	return r, nil
}

func (r *Runtime) loop() {
	for {
		select {
		case job := <-r.jobs:
			job()
		case <-r.stop:
			return
		}
	}
}

// post schedules job on the loop. It returns false once the runtime is
// closed or ctx is done.
func (r *Runtime) post(ctx context.Context, job func()) bool {
	select {
	case r.jobs <- job:
		return true
	case <-r.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// Run evaluates script on the loop and waits for it. It is the host's way
// of loading content, not part of the envelope protocol.
func (r *Runtime) Run(ctx context.Context, script string) error {
	errCh := make(chan error, 1)
	if !r.post(ctx, func() {
		_, err := r.vm.RunString(script)
		errCh <- err
	}) {
		return r.closedOr(ctx)
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return session.ErrSessionClosed
	}
}

// Register adds or replaces a native command.
func (r *Runtime) Register(name string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = handler
}

// Mocks exposes the runtime's mock store.
func (r *Runtime) Mocks() *MockStore {
	return r.mocks
}

// OnEvent registers fn for events emitted through ctx.emit.
func (r *Runtime) OnEvent(name string, fn func(payload json.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[name] = append(r.events[name], fn)
}

// LogBackend emits a native backend log line when the backend stream is
// subscribed. Lines logged before subscription are dropped, as they would
// be on a real target.
func (r *Runtime) LogBackend(level, message string) {
	r.emit(session.StreamBackend, level, message)
}

// Send implements session.Transport.
func (r *Runtime) Send(ctx context.Context, env session.Envelope) error {
	if r.isClosed() {
		return session.ErrSessionClosed
	}
	switch env.Type {
	case session.TypeRequest:
		if env.Operation == session.OpExecute || env.Operation == "" {
			if !r.post(ctx, func() { r.execute(env) }) {
				return r.closedOr(ctx)
			}
			return nil
		}
		go r.invokeNamed(env)
		return nil
	case session.TypeSubscribe:
		if !r.post(ctx, func() { r.subscribe(env) }) {
			return r.closedOr(ctx)
		}
		return nil
	case session.TypeUnsubscribe:
		r.mu.Lock()
		delete(r.streams, env.Stream)
		r.mu.Unlock()
		r.push(session.Response(env, nil))
		return nil
	default:
		return fmt.Errorf("unsupported envelope type %q", env.Type)
	}
}

// Receive implements session.Transport.
func (r *Runtime) Receive() <-chan session.Envelope {
	return r.out.Out
}

// Close stops the loop, interrupts any running script and closes the
// receive channel once buffered envelopes are drained.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.out.In)
		for id, ch := range r.waiters {
			ch <- settled{err: session.ErrSessionClosed}
			delete(r.waiters, id)
		}
		r.mu.Unlock()
		close(r.stop)
		r.vm.Interrupt(session.ErrSessionClosed)
		r.cancel()
	})
	return nil
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runtime) closedOr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return session.ErrSessionClosed
}

// push queues an outbound envelope without blocking.
func (r *Runtime) push(env session.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.out.In <- env
}

func (r *Runtime) emit(stream, level, message string) {
	r.mu.Lock()
	active := r.streams[stream]
	r.mu.Unlock()
	if !active {
		return
	}
	r.push(session.Envelope{
		Type:   session.TypeLog,
		Stream: stream,
		Log: &session.WireLog{
			Level:     level,
			Message:   message,
			Timestamp: time.Now().UnixMilli(),
		},
	})
}

// execute runs on the loop. The script is an expression producing a JSON
// string or a promise of one; that string becomes the response result.
func (r *Runtime) execute(env session.Envelope) {
	id, _ := json.Marshal(env.ID)
	wrapped := fmt.Sprintf(`Promise.resolve((
%s
)).then(function (s) { __appbridge_reply(%s, s); }, function (e) { __appbridge_reject(%s, String(e && e.message || e)); });`,
		env.Script, id, id)
	if _, err := r.vm.RunString(wrapped); err != nil {
		r.push(session.ErrorResponse(env, session.CodeBadRequest, err.Error()))
	}
}

// subscribe runs on the loop.
func (r *Runtime) subscribe(env session.Envelope) {
	switch env.Stream {
	case session.StreamBackend, session.StreamFrontend:
	default:
		r.push(session.ErrorResponse(env, session.CodeUnsupported, "unknown stream "+env.Stream))
		return
	}
	r.mu.Lock()
	r.streams[env.Stream] = true
	r.mu.Unlock()
	if env.Script != "" {
		if _, err := r.vm.RunString(env.Script); err != nil {
			r.mu.Lock()
			delete(r.streams, env.Stream)
			r.mu.Unlock()
			r.push(session.ErrorResponse(env, session.CodeBadRequest, err.Error()))
			return
		}
	}
	r.push(session.Response(env, nil))
}
