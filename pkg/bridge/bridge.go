// Package bridge ships JavaScript functions and their arguments into a
// target's runtime and reconstructs the result or the thrown error.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

// DefaultTimeout bounds a call whose context has no deadline.
const DefaultTimeout = 30 * time.Second

// Bridge executes functions on one session. It is safe for concurrent use;
// each call is correlated by its own request id.
type Bridge struct {
	handle       *session.Handle
	scope        *observability.Scope
	timeout      time.Duration
	globals      map[string]bool
	closureCheck bool
	syntaxCheck  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout replaces DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithGlobals extends the names the closure check accepts as defined in
// the target runtime.
func WithGlobals(names ...string) Option {
	return func(b *Bridge) {
		for _, n := range names {
			b.globals[n] = true
		}
	}
}

// WithoutClosureCheck disables the free-variable check. The syntax check
// still runs.
func WithoutClosureCheck() Option {
	return func(b *Bridge) {
		b.closureCheck = false
	}
}

// WithoutSyntaxCheck stops local parse failures from rejecting a function.
// The target runtime may accept syntax the local parser does not; if it
// does not, it reports the SyntaxError itself. Functions that do parse
// locally are still closure-checked.
func WithoutSyntaxCheck() Option {
	return func(b *Bridge) {
		b.syntaxCheck = false
	}
}

// WithScope threads logging, tracing and metrics into the bridge.
func WithScope(scope *observability.Scope) Option {
	return func(b *Bridge) {
		if scope != nil {
			b.scope = scope
		}
	}
}

// New creates a bridge borrowing h.
func New(h *session.Handle, opts ...Option) *Bridge {
	b := &Bridge{
		handle:       h,
		timeout:      DefaultTimeout,
		globals:      setOf(DefaultGlobals...),
		closureCheck: true,
		syntaxCheck:  true,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.scope = b.scope.OrDefault()
	return b
}

// Handle returns the borrowed session handle.
func (b *Bridge) Handle() *session.Handle {
	return b.handle
}

// Check validates fn locally: it must parse and, unless disabled, must not
// reference undeclared outer variables.
func (b *Bridge) Check(fn string) error {
	_, err := b.check(fn)
	return err
}

// check returns the local parse error it let through when the syntax
// check is off, and the rejection otherwise.
func (b *Bridge) check(fn string) (skipped, err error) {
	src := buildCheckSource(fn)
	prog, err := parser.ParseFile(nil, "execute", src, 0, parser.WithDisableSourceMaps)
	if err == nil && b.syntaxCheck {
		_, err = goja.CompileAST(prog, true)
	}
	if err != nil {
		if !b.syntaxCheck {
			return err, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFunction, err)
	}
	if !b.closureCheck {
		return nil, nil
	}
	if free := freeIdentifiers(prog, b.globals); len(free) > 0 {
		return nil, &ClosureError{Names: free}
	}
	return nil, nil
}

// Execute runs fn remotely as fn(ctx, ...args) and returns its awaited
// result. Objects decode to map[string]any, arrays to []any, numbers to
// float64 and JavaScript undefined to Undefined.
func (b *Bridge) Execute(ctx context.Context, fn string, args ...any) (any, error) {
	raw, err := b.execute(ctx, fn, args)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

// ExecuteAs runs fn and decodes its result into T. Undefined decodes as
// JSON null.
func ExecuteAs[T any](ctx context.Context, b *Bridge, fn string, args ...any) (T, error) {
	var out T
	value, err := b.Execute(ctx, fn, args...)
	if err != nil {
		return out, err
	}
	data, err := json.Marshal(plain(value))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode result into %T: %w", out, err)
	}
	return out, nil
}

func (b *Bridge) execute(ctx context.Context, fn string, args []any) (json.RawMessage, error) {
	ctx, span := b.scope.Tracer.Start(ctx, "bridge.execute", trace.WithAttributes(
		observability.AttrSessionID.String(b.handle.SessionID),
		observability.AttrInstance.String(b.handle.InstanceID),
		observability.AttrOperation.String(session.OpExecute),
	))
	defer span.End()
	logger := b.scope.Logger.WithSession(b.handle.SessionID, b.handle.InstanceID).WithContext(ctx)

	skipped, err := b.check(fn)
	if err != nil {
		b.record("rejected", 0)
		observability.RecordError(ctx, err)
		return nil, err
	}
	if skipped != nil {
		logger.Debug("local parser rejected function, deferring to target runtime", "error", skipped)
	}
	encoded, err := encodeArgs(args)
	if err != nil {
		b.record("rejected", 0)
		observability.RecordError(ctx, err)
		return nil, err
	}

	ctx, cancel := b.deadline(ctx)
	defer cancel()

	start := time.Now()
	resp, err := b.handle.Call(ctx, session.Envelope{
		Operation: session.OpExecute,
		Script:    buildScript(fn, encoded),
	})
	elapsed := time.Since(start)
	if err != nil {
		rerr := transportError(session.OpExecute, err)
		b.record("transport_error", elapsed)
		observability.RecordError(ctx, rerr)
		logger.Debug("execute failed", "kind", rerr.Kind, "error", err)
		return nil, rerr
	}

	var payload resultPayload
	if err := json.Unmarshal(resp.Result, &payload); err != nil {
		rerr := transportError(session.OpExecute, fmt.Errorf("%w: %v", ErrMalformedResult, err))
		b.record("transport_error", elapsed)
		observability.RecordError(ctx, rerr)
		return nil, rerr
	}
	if !payload.OK {
		rerr := &RemoteExecutionError{Category: CategoryRemote, Kind: "Error", Operation: session.OpExecute}
		if payload.Error != nil {
			rerr.Kind = payload.Error.Kind
			rerr.Message = payload.Error.Message
			rerr.Stack = payload.Error.Stack
		}
		b.record("remote_error", elapsed)
		observability.RecordError(ctx, rerr)
		return nil, rerr
	}
	b.record("ok", elapsed)
	return payload.Value, nil
}

// Invoke calls a named native operation directly, bypassing script
// injection. params is encoded as the JSON argument object.
func (b *Bridge) Invoke(ctx context.Context, op string, params any) (json.RawMessage, error) {
	ctx, span := b.scope.Tracer.Start(ctx, "bridge.invoke", trace.WithAttributes(
		observability.AttrSessionID.String(b.handle.SessionID),
		observability.AttrInstance.String(b.handle.InstanceID),
		observability.AttrOperation.String(op),
	))
	defer span.End()

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%w: %s params: %v", ErrUnserializable, op, err)
		}
		raw = data
	}

	ctx, cancel := b.deadline(ctx)
	defer cancel()

	start := time.Now()
	resp, err := b.handle.Call(ctx, session.Envelope{Operation: op, Params: raw})
	if err != nil {
		rerr := transportError(op, err)
		b.record("transport_error", time.Since(start))
		observability.RecordError(ctx, rerr)
		return nil, rerr
	}
	b.record("ok", time.Since(start))
	return resp.Result, nil
}

func (b *Bridge) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *Bridge) record(outcome string, elapsed time.Duration) {
	b.scope.Metrics.Executions.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		b.scope.Metrics.ExecutionLatency.Observe(elapsed.Seconds())
	}
}

// IsTransport reports whether err is a transport failure rather than a
// remote exception or a local rejection.
func IsTransport(err error) bool {
	var rerr *RemoteExecutionError
	return errors.As(err, &rerr) && rerr.Category == CategoryTransport
}
