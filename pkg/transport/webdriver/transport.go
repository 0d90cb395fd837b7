package webdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/chanx"

	"github.com/odvcencio/appbridge/pkg/logs"
	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	deleteTimeout       = 10 * time.Second
)

// Transport implements session.Transport on one WebDriver session. Each
// request runs as its own HTTP call; answers are queued on the receive
// channel as they complete.
type Transport struct {
	client       *client
	sessionID    string
	pollInterval time.Duration
	owned        bool
	logger       *observability.Logger

	lifetime  context.Context
	cancel    context.CancelFunc
	out       *chanx.UnboundedChan[session.Envelope]
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu      sync.Mutex
	closed  bool
	pollers map[string]context.CancelFunc
}

func newTransport(c *client, sessionID string, pollInterval time.Duration, owned bool, logger *observability.Logger) *Transport {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Transport{
		client:       c,
		sessionID:    sessionID,
		pollInterval: pollInterval,
		owned:        owned,
		logger:       logger,
		lifetime:     lifetime,
		cancel:       cancel,
		out:          chanx.NewUnboundedChan[session.Envelope](lifetime, 16),
		pollers:      make(map[string]context.CancelFunc),
	}
}

// SessionID is the WebDriver session id.
func (t *Transport) SessionID() string {
	return t.sessionID
}

// Send implements session.Transport.
func (t *Transport) Send(ctx context.Context, env session.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return session.ErrDisconnected
	}
	switch env.Type {
	case session.TypeRequest:
		t.spawn(func() { t.request(env) })
	case session.TypeSubscribe:
		t.spawn(func() { t.subscribe(env) })
	case session.TypeUnsubscribe:
		if stop, ok := t.pollers[env.Stream]; ok {
			stop()
			delete(t.pollers, env.Stream)
		}
		t.out.In <- session.Response(env, nil)
	default:
		t.out.In <- session.ErrorResponse(env, session.CodeBadRequest, "unexpected envelope type "+string(env.Type))
	}
	return nil
}

// spawn must be called with mu held.
func (t *Transport) spawn(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Receive implements session.Transport.
func (t *Transport) Receive() <-chan session.Envelope {
	return t.out.Out
}

// Close stops polling, waits for requests in flight and deletes the
// WebDriver session when this transport created it.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		for stream, stop := range t.pollers {
			stop()
			delete(t.pollers, stream)
		}
		t.mu.Unlock()
		t.cancel()
		t.wg.Wait()

		t.mu.Lock()
		close(t.out.In)
		t.mu.Unlock()

		if t.owned {
			ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
			defer cancel()
			if derr := t.client.deleteSession(ctx, t.sessionID); derr != nil && !sessionGone(derr) {
				err = derr
			}
		}
	})
	return err
}

func (t *Transport) push(env session.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.out.In <- env
}

// lost ends the transport after the server reported the session gone.
func (t *Transport) lost(err error) {
	t.logger.Warn("webdriver session lost", "session", t.sessionID, "error", err)
	go t.Close()
}

func (t *Transport) request(env session.Envelope) {
	var (
		res scriptResult
		err error
	)
	if env.Operation == session.OpExecute {
		err = t.client.executeAsync(t.lifetime, t.sessionID, executeScript(env.Script), nil, &res)
	} else {
		params := env.Params
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		err = t.client.executeAsync(t.lifetime, t.sessionID, invokeScript, []any{pluginCommand(env.Operation), params}, &res)
	}
	if err != nil {
		t.fail(env, err)
		return
	}
	if !res.OK {
		code := session.CodeInternal
		if env.Operation != session.OpExecute && unknownCommandPattern.MatchString(res.Message) {
			code = session.CodeUnknownOperation
		}
		t.push(session.ErrorResponse(env, code, res.Message))
		return
	}
	if res.Value == nil || !json.Valid([]byte(*res.Value)) {
		t.push(session.ErrorResponse(env, session.CodeBadRequest, "script result is not JSON"))
		return
	}
	t.push(session.Response(env, json.RawMessage(*res.Value)))
}

// fail answers env after an HTTP-level error.
func (t *Transport) fail(env session.Envelope, err error) {
	if errors.Is(err, context.Canceled) && t.lifetime.Err() != nil {
		return
	}
	if sessionGone(err) {
		t.lost(err)
		return
	}
	code := session.CodeInternal
	var wdErr *Error
	if errors.As(err, &wdErr) {
		switch wdErr.Code {
		case codeScriptTimeout:
			code = session.CodeTimeout
		case codeUnknownCommand:
			code = session.CodeUnsupported
		}
	}
	t.push(session.ErrorResponse(env, code, err.Error()))
}

func (t *Transport) subscribe(env session.Envelope) {
	if env.Stream != session.StreamFrontend {
		t.push(session.ErrorResponse(env, session.CodeUnsupported, "stream "+env.Stream+" is not reachable over webdriver"))
		return
	}
	if env.Script != "" {
		if err := t.client.executeSync(t.lifetime, t.sessionID, env.Script, nil, nil); err != nil {
			t.fail(env, err)
			return
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if _, ok := t.pollers[env.Stream]; ok {
		t.mu.Unlock()
		t.push(session.ErrorResponse(env, session.CodeBadRequest, session.ErrAlreadySubscribed.Error()))
		return
	}
	ctx, stop := context.WithCancel(t.lifetime)
	t.pollers[env.Stream] = stop
	t.spawn(func() { t.poll(ctx, env.Stream) })
	t.out.In <- session.Response(env, nil)
	t.mu.Unlock()
}

// poll drains the page's console buffer until ctx ends.
func (t *Transport) poll(ctx context.Context, stream string) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var batch drained
		if err := t.client.executeSync(ctx, t.sessionID, drainScript, nil, &batch); err != nil {
			if ctx.Err() != nil {
				return
			}
			if sessionGone(err) {
				t.lost(err)
				return
			}
			t.logger.Debug("console drain failed", "error", err)
			continue
		}
		if batch.Dropped > 0 {
			t.logger.Warn("console buffer overflowed between polls", "dropped", batch.Dropped)
			t.push(session.Envelope{
				Type:   session.TypeLog,
				Stream: stream,
				Log: &session.WireLog{
					Level:     "warn",
					Message:   fmt.Sprintf("appbridge: %d console entries dropped before they could be polled (buffer holds %d)", batch.Dropped, logs.ConsoleBufferSize),
					Timestamp: time.Now().UnixMilli(),
				},
			})
		}
		for _, e := range batch.Entries {
			t.push(session.Envelope{
				Type:   session.TypeLog,
				Stream: stream,
				Log:    &session.WireLog{Level: e.Level, Message: e.Message, Timestamp: int64(e.TS)},
			})
		}
	}
}
