// Package lifecycle orchestrates a test session: resolve the binary,
// compose capabilities, establish one session per instance, attach the
// bridge and log capture, and tear it all down again.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/appbridge/pkg/bridge"
	"github.com/odvcencio/appbridge/pkg/capabilities"
	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/locator"
	"github.com/odvcencio/appbridge/pkg/logs"
	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
	"github.com/odvcencio/appbridge/pkg/target"
)

// Options configures a Controller.
type Options struct {
	Target target.Descriptor
	// Layers are applied in order on top of the target's default layer.
	Layers      []capabilities.Layer
	Establisher session.Establisher
	// Instances names the app instances to launch. Empty means one
	// unnamed instance.
	Instances []string
	// Sink receives captured logs. Nil disables capture.
	Sink       logs.Sink
	LogOptions []logs.Option
	// BridgeOptions apply to every instance's bridge.
	BridgeOptions []bridge.Option
	// Locator overrides the controller's own locator, to share its cache.
	Locator *locator.Locator
	Scope   *observability.Scope
}

// Instance is one launched app instance.
type Instance struct {
	Name         string
	Handle       *session.Handle
	Bridge       *bridge.Bridge
	Capabilities capabilities.Set
}

// Controller owns every session it launches. Test code borrows bridges
// through Bridge and Instance; Teardown invalidates them.
type Controller struct {
	opts    Options
	scope   *observability.Scope
	logger  *observability.Logger
	locator *locator.Locator

	mu        sync.Mutex
	state     State
	binary    locator.ResolvedBinary
	caps      capabilities.Set
	instances map[string]*Instance
	order     []string
	mux       *logs.Multiplexer
}

// New validates opts and returns an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Establisher == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "lifecycle: an establisher is required")
	}
	if len(opts.Instances) == 0 {
		opts.Instances = []string{""}
	}
	seen := make(map[string]bool, len(opts.Instances))
	for _, name := range opts.Instances {
		if seen[name] {
			return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "lifecycle: duplicate instance").
				WithContext("instance", name)
		}
		seen[name] = true
	}
	if len(opts.Instances) > 1 && seen[""] {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "lifecycle: instances must be named when more than one is launched")
	}

	scope := opts.Scope.OrDefault()
	loc := opts.Locator
	if loc == nil {
		loc = locator.New(locator.WithScope(scope))
	}
	return &Controller{
		opts:    opts,
		scope:   scope,
		logger:  scope.Logger.WithComponent("lifecycle"),
		locator: loc,
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Scope returns the controller's observability scope.
func (c *Controller) Scope() *observability.Scope {
	return c.scope
}

func (c *Controller) transition(op string, from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return &StateError{Op: op, State: c.state}
	}
	c.state = to
	return nil
}

// Launch resolves the binary, composes capabilities and establishes every
// instance in parallel. Any hard failure tears down what was started and
// leaves the controller idle. Log capture failures are soft.
func (c *Controller) Launch(ctx context.Context) (err error) {
	if err := c.transition("launch", StateIdle, StateLaunching); err != nil {
		return err
	}
	ctx, span := c.scope.Tracer.Start(ctx, "lifecycle.launch", trace.WithAttributes(
		attribute.Int("appbridge.instances", len(c.opts.Instances)),
	))
	defer span.End()
	defer func() {
		if err != nil {
			observability.RecordError(ctx, err)
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
		}
	}()

	bin, layers := c.resolve(ctx)
	caps, err := capabilities.Compose(layers, bin)
	if err != nil {
		return err
	}

	var mux *logs.Multiplexer
	if c.opts.Sink != nil {
		mux = logs.New(c.opts.Sink, append([]logs.Option{logs.WithScope(c.scope)}, c.opts.LogOptions...)...)
	}

	started, err := c.establishAll(ctx, layers, bin)
	if err != nil {
		for _, inst := range started {
			if inst != nil {
				_ = inst.Handle.Close()
			}
		}
		if mux != nil {
			_ = mux.Close(context.WithoutCancel(ctx))
		}
		return err
	}

	instances := make(map[string]*Instance, len(started))
	for _, inst := range started {
		instances[inst.Name] = inst
		c.scope.Metrics.ActiveSessions.Inc()
		go c.watch(inst)
		if mux != nil {
			if cerr := mux.Attach(ctx, inst.Handle); cerr != nil {
				c.logger.WithSession(inst.Handle.SessionID, inst.Name).Debug("log capture partially unavailable", "error", cerr)
			}
		}
	}

	c.mu.Lock()
	c.binary = bin
	c.caps = caps
	c.instances = instances
	c.order = append([]string(nil), c.opts.Instances...)
	c.mux = mux
	c.state = StateActive
	c.mu.Unlock()
	c.logger.Info("session launched", "instances", len(instances))
	return nil
}

// Preview resolves the binary and composes the capabilities the named
// instance would launch with. Nothing is established and the state is
// unchanged.
func (c *Controller) Preview(ctx context.Context, instance string) (locator.ResolvedBinary, capabilities.Set, error) {
	bin, layers := c.resolve(ctx)
	caps, err := capabilities.Compose(instanceLayers(layers, instance, c.opts.Target), bin)
	return bin, caps, err
}

func (c *Controller) resolve(ctx context.Context) (locator.ResolvedBinary, []capabilities.Layer) {
	bin := c.locator.Resolve(ctx, c.opts.Target)
	if bin.Verified {
		c.logger.Info("binary resolved", "path", bin.Path, "attempts", len(bin.Attempts))
	} else {
		c.logger.Debug("binary not resolved", "attempts", len(bin.Attempts))
	}
	layers := append([]capabilities.Layer{capabilities.DefaultLayer(c.opts.Target)}, c.opts.Layers...)
	return bin, layers
}

// establishAll returns the instances in Options order. On error the slice
// holds whatever did start, with nil gaps.
func (c *Controller) establishAll(ctx context.Context, layers []capabilities.Layer, bin locator.ResolvedBinary) ([]*Instance, error) {
	out := make([]*Instance, len(c.opts.Instances))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range c.opts.Instances {
		g.Go(func() error {
			inst, err := c.establish(gctx, name, layers, bin)
			if err != nil {
				if name != "" {
					return fmt.Errorf("instance %q: %w", name, err)
				}
				return err
			}
			out[i] = inst
			return nil
		})
	}
	return out, g.Wait()
}

func (c *Controller) establish(ctx context.Context, name string, layers []capabilities.Layer, bin locator.ResolvedBinary) (*Instance, error) {
	caps, err := capabilities.Compose(instanceLayers(layers, name, c.opts.Target), bin)
	if err != nil {
		return nil, err
	}
	est, err := c.opts.Establisher.Establish(ctx, session.EstablishRequest{Instance: name, Capabilities: caps})
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}
	id := est.SessionID
	if id == "" {
		id = session.NewSessionID(name)
	}
	remote := session.NewRemote(est.Transport, c.scope.Logger.WithSession(id, name))
	h := session.NewHandle(id, name, c.opts.Target.Normalize(), remote)
	b := bridge.New(h, append(append([]bridge.Option(nil), c.opts.BridgeOptions...), bridge.WithScope(c.scope))...)
	c.logger.WithSession(id, name).Debug("session established")
	return &Instance{Name: name, Handle: h, Bridge: b, Capabilities: caps}, nil
}

// instanceLayers adds the instance name to desktop capabilities so the
// driver can tell instances apart.
func instanceLayers(layers []capabilities.Layer, name string, t target.Descriptor) []capabilities.Layer {
	if name == "" || t.Normalize().Platform == target.PlatformAndroid {
		return layers
	}
	out := append([]capabilities.Layer(nil), layers...)
	return append(out, capabilities.Layer{
		Name:   "instance",
		Values: map[string]any{capabilities.DesktopKey: map[string]any{"instance": name}},
	})
}

// watch logs sessions that end without Teardown.
func (c *Controller) watch(inst *Instance) {
	<-inst.Handle.Done()
	if errors.Is(inst.Handle.Err(), session.ErrDisconnected) {
		c.logger.WithSession(inst.Handle.SessionID, inst.Name).Warn("session disconnected")
	}
}

// Instance returns a launched instance. The single-instance run uses "".
func (c *Controller) Instance(name string) (*Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return nil, &StateError{Op: "instance", State: c.state}
	}
	inst, ok := c.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, name)
	}
	return inst, nil
}

// Bridge returns the bridge of a launched instance.
func (c *Controller) Bridge(name string) (*bridge.Bridge, error) {
	inst, err := c.Instance(name)
	if err != nil {
		return nil, err
	}
	return inst.Bridge, nil
}

// Instances lists launched instance names in launch order.
func (c *Controller) Instances() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return nil
	}
	return append([]string(nil), c.order...)
}

// Binary is the resolution used by the last successful Launch.
func (c *Controller) Binary() locator.ResolvedBinary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binary.Clone()
}

// Capabilities is the composed set of the last successful Launch, before
// per-instance additions.
func (c *Controller) Capabilities() capabilities.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Logs returns the log multiplexer, or nil when capture is disabled.
func (c *Controller) Logs() *logs.Multiplexer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mux
}

// Teardown closes every session, so in-flight executions reject with
// session.ErrSessionClosed, then detaches and flushes log capture. The
// controller returns to idle even when some step fails; the failures are
// joined in the result.
func (c *Controller) Teardown(ctx context.Context) error {
	if err := c.transition("teardown", StateActive, StateTearingDown); err != nil {
		return err
	}
	ctx, span := c.scope.Tracer.Start(ctx, "lifecycle.teardown")
	defer span.End()

	c.mu.Lock()
	instances := c.instances
	order := c.order
	mux := c.mux
	c.mu.Unlock()

	var errs []error
	for _, name := range order {
		inst := instances[name]
		if inst == nil {
			continue
		}
		if err := inst.Handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", inst.Handle.Label(), err))
		}
		c.scope.Metrics.ActiveSessions.Dec()
	}
	if mux != nil {
		for _, name := range order {
			mux.Detach(name)
		}
		if err := mux.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
		if err := mux.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close logs: %w", err))
		}
	}

	c.mu.Lock()
	c.instances = nil
	c.order = nil
	c.mux = nil
	c.state = StateIdle
	c.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		observability.RecordError(ctx, err)
	}
	c.logger.Info("session torn down", "instances", len(order))
	return err
}
