package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/appbridge/pkg/bridge"
	"github.com/odvcencio/appbridge/pkg/capabilities"
	"github.com/odvcencio/appbridge/pkg/jsvm"
	"github.com/odvcencio/appbridge/pkg/session"
	"github.com/odvcencio/appbridge/pkg/target"
)

type testApp struct {
	mu       sync.Mutex
	hellos   []Hello
	runtimes map[string]*jsvm.Runtime
}

func (a *testApp) backend(ctx context.Context, hello Hello) (session.Transport, error) {
	if hello.Instance == "broken" {
		return nil, errors.New("no window for broken")
	}
	rt, err := jsvm.New(jsvm.Options{
		Platform: hello.Capabilities.String("platformName"),
		Instance: hello.Instance,
		Commands: map[string]jsvm.CommandHandler{
			"greet": func(_ context.Context, args json.RawMessage) (any, error) {
				var p struct{ Name string }
				_ = json.Unmarshal(args, &p)
				return "hello " + p.Name, nil
			},
		},
	})
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.hellos = append(a.hellos, hello)
	if a.runtimes == nil {
		a.runtimes = map[string]*jsvm.Runtime{}
	}
	a.runtimes[hello.Instance] = rt
	a.mu.Unlock()
	return rt, nil
}

func (a *testApp) runtime(instance string) *jsvm.Runtime {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runtimes[instance]
}

func startServer(t *testing.T, token string) (*testApp, string) {
	t.Helper()
	app := &testApp{}
	srv := httptest.NewServer(&Handler{NewBackend: app.backend, Token: token})
	t.Cleanup(srv.Close)
	return app, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func capsFor(t *testing.T, endpoint string) capabilities.Set {
	t.Helper()
	set, err := capabilities.NewSet(map[string]any{
		"platformName": "linux",
		capabilities.DesktopKey: map[string]any{
			"application": "/opt/app/bin/app",
			"endpoint":    endpoint,
		},
	})
	require.NoError(t, err)
	return set
}

func establish(t *testing.T, d *Dialer, instance string, caps capabilities.Set) *session.Handle {
	t.Helper()
	est, err := d.Establish(context.Background(), session.EstablishRequest{Instance: instance, Capabilities: caps})
	require.NoError(t, err)
	require.NotEmpty(t, est.SessionID)
	h := session.NewHandle(est.SessionID, instance, target.Descriptor{}, session.NewRemote(est.Transport, nil))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestDialer_ExecuteOverSocket(t *testing.T) {
	app, endpoint := startServer(t, "")
	h := establish(t, &Dialer{}, "", capsFor(t, endpoint))
	b := bridge.New(h)
	ctx := context.Background()

	got, err := b.Execute(ctx, `(ctx, a, b) => ({ sum: a + b, platform: ctx.platform })`, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 5.0, "platform": "linux"}, got)

	greeting, err := b.InvokeCommand(ctx, "greet", map[string]string{"name": "socket"})
	require.NoError(t, err)
	assert.Equal(t, "hello socket", greeting)

	_, err = b.Invoke(ctx, "wdio.nope", nil)
	assert.True(t, errors.Is(err, session.ErrUnknownOperation))

	app.mu.Lock()
	defer app.mu.Unlock()
	require.Len(t, app.hellos, 1)
	assert.Equal(t, "/opt/app/bin/app", app.hellos[0].Capabilities.String(capabilities.DesktopKey, "application"))
}

func TestDialer_LogStreamsOverSocket(t *testing.T) {
	app, endpoint := startServer(t, "")
	h := establish(t, &Dialer{}, "main", capsFor(t, endpoint))

	got := make(chan session.WireLog, 4)
	cancel, err := h.Subscribe(context.Background(), session.StreamBackend, "", func(l session.WireLog) { got <- l })
	require.NoError(t, err)
	defer cancel()

	app.runtime("main").LogBackend("warn", "disk almost full")
	select {
	case l := <-got:
		assert.Equal(t, "warn", l.Level)
		assert.Equal(t, "disk almost full", l.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("log not delivered")
	}
}

func TestDialer_ConcurrentInstances(t *testing.T) {
	_, endpoint := startServer(t, "")
	d := &Dialer{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"one", "two", "three"} {
		h := establish(t, d, name, capsFor(t, endpoint))
		wg.Add(1)
		go func(name string, b *bridge.Bridge) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				got, err := b.Execute(ctx, `(ctx, i) => ctx.instance + ":" + i`, i)
				assert.NoError(t, err)
				assert.Equal(t, name+":"+strconv.Itoa(i), got)
			}
		}(name, bridge.New(h))
	}
	wg.Wait()
}

func TestDialer_Token(t *testing.T) {
	_, endpoint := startServer(t, "s3cret")
	caps := capsFor(t, endpoint)

	_, err := (&Dialer{}).Establish(context.Background(), session.EstablishRequest{Capabilities: caps})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	establish(t, &Dialer{Token: "s3cret"}, "", caps)
}

func TestDialer_BackendFailureFailsHello(t *testing.T) {
	_, endpoint := startServer(t, "")
	_, err := (&Dialer{}).Establish(context.Background(), session.EstablishRequest{Instance: "broken", Capabilities: capsFor(t, endpoint)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no window for broken")
}

func TestDialer_EndpointResolution(t *testing.T) {
	d := &Dialer{Endpoints: map[string]string{"b": "ws://override"}}
	caps := capsFor(t, "ws://from-caps")

	ep, err := d.endpoint(session.EstablishRequest{Instance: "a", Capabilities: caps})
	require.NoError(t, err)
	assert.Equal(t, "ws://from-caps", ep)

	ep, err = d.endpoint(session.EstablishRequest{Instance: "b", Capabilities: caps})
	require.NoError(t, err)
	assert.Equal(t, "ws://override", ep)

	empty, _ := capabilities.NewSet(map[string]any{"platformName": "linux"})
	_, err = d.endpoint(session.EstablishRequest{Capabilities: empty})
	assert.ErrorContains(t, err, "appbridge:options.endpoint")
}

func TestTransport_ServerCloseDisconnectsInFlight(t *testing.T) {
	app, endpoint := startServer(t, "")
	h := establish(t, &Dialer{}, "x", capsFor(t, endpoint))
	b := bridge.New(h)

	errs := make(chan error, 1)
	go func() {
		_, err := b.Execute(context.Background(), `() => new Promise(() => {})`)
		errs <- err
	}()
	require.Eventually(t, func() bool { return h.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, app.runtime("x").Close())

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, session.ErrDisconnected), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight execute did not fail after the server went away")
	}
}
