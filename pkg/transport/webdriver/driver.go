package webdriver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

// Driver establishes sessions against a WebDriver server. It implements
// session.Establisher.
type Driver struct {
	// URL is the server root, e.g. http://127.0.0.1:4444.
	URL        string
	HTTPClient *http.Client
	// PollInterval paces console buffer draining for the frontend stream.
	PollInterval time.Duration
	// Retry paces new-session attempts while the server is still starting.
	// Only connection failures are retried.
	Retry  func() backoff.BackOff
	Logger *observability.Logger
}

func defaultRetry() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
		backoff.WithMaxElapsedTime(15*time.Second),
	)
}

// Establish implements session.Establisher.
func (d *Driver) Establish(ctx context.Context, req session.EstablishRequest) (session.Established, error) {
	if d.URL == "" {
		return session.Established{}, errors.New("webdriver: server URL is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithComponent("webdriver").WithInstance(req.Instance)

	c := newClient(d.URL, d.HTTPClient)
	retry := d.Retry
	if retry == nil {
		retry = defaultRetry
	}

	var created newSessionResult
	op := func() error {
		res, err := c.newSession(ctx, req.Capabilities.Map())
		if err != nil {
			var wdErr *Error
			if errors.As(err, &wdErr) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		created = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("webdriver not ready", "url", d.URL, "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(retry(), ctx), notify); err != nil {
		return session.Established{}, fmt.Errorf("webdriver new session at %s: %w", d.URL, err)
	}
	logger.Debug("webdriver session created", "webdriver_session", created.SessionID)

	t := newTransport(c, created.SessionID, d.PollInterval, true, logger)
	return session.Established{SessionID: created.SessionID, Transport: t}, nil
}

// Attach wraps a WebDriver session created elsewhere, for runners that own
// the session themselves. Closing the transport leaves the session alive.
func Attach(url, sessionID string, hc *http.Client, pollInterval time.Duration, logger *observability.Logger) *Transport {
	return newTransport(newClient(url, hc), sessionID, pollInterval, false, logger)
}
