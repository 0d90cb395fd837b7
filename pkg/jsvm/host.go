package jsvm

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

// Host establishes one Runtime per instance. It stands in for a driver in
// headless runs and tests.
type Host struct {
	// Commands are registered on every runtime.
	Commands map[string]CommandHandler
	// Preload is evaluated in each runtime before it is handed out, like the
	// content a real window would load.
	Preload string
	// Setup runs after Preload, for per-instance customization.
	Setup  func(instance string, rt *Runtime) error
	Logger *observability.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// Establish implements session.Establisher.
func (h *Host) Establish(ctx context.Context, req session.EstablishRequest) (session.Established, error) {
	platform := req.Capabilities.String("platformName")
	rt, err := New(Options{
		Platform: platform,
		Instance: req.Instance,
		Commands: h.Commands,
		Logger:   h.Logger,
	})
	if err != nil {
		return session.Established{}, err
	}
	if h.Preload != "" {
		if err := rt.Run(ctx, h.Preload); err != nil {
			rt.Close()
			return session.Established{}, fmt.Errorf("preload: %w", err)
		}
	}
	if h.Setup != nil {
		if err := h.Setup(req.Instance, rt); err != nil {
			rt.Close()
			return session.Established{}, fmt.Errorf("setup %q: %w", req.Instance, err)
		}
	}

	h.mu.Lock()
	if h.runtimes == nil {
		h.runtimes = make(map[string]*Runtime)
	}
	h.runtimes[req.Instance] = rt
	h.mu.Unlock()

	return session.Established{SessionID: ulid.Make().String(), Transport: rt}, nil
}

// Runtime returns the runtime established for instance, if any.
func (h *Host) Runtime(instance string) (*Runtime, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rt, ok := h.runtimes[instance]
	return rt, ok
}
