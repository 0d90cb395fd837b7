package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/odvcencio/appbridge/pkg/capabilities"
	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

const defaultDialTimeout = 15 * time.Second

// Dialer establishes sessions by dialing the endpoint named in the
// capabilities (appbridge:options.endpoint). It implements
// session.Establisher.
type Dialer struct {
	// Endpoints overrides the endpoint per instance.
	Endpoints map[string]string
	// Token is sent as a bearer token when set.
	Token       string
	Header      http.Header
	DialTimeout time.Duration
	Logger      *observability.Logger
}

// Establish implements session.Establisher.
func (d *Dialer) Establish(ctx context.Context, req session.EstablishRequest) (session.Established, error) {
	endpoint, err := d.endpoint(req)
	if err != nil {
		return session.Established{}, err
	}

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := &ws.DialOptions{HTTPHeader: http.Header{}}
	for k, vs := range d.Header {
		for _, v := range vs {
			opts.HTTPHeader.Add(k, v)
		}
	}
	if d.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+d.Token)
	}
	conn, resp, err := ws.Dial(dialCtx, endpoint, opts)
	if err != nil {
		if resp != nil {
			return session.Established{}, fmt.Errorf("dial %s (%s): %w", endpoint, resp.Status, err)
		}
		return session.Established{}, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	t := NewTransport(conn, logger.WithInstance(req.Instance))
	id, err := handshake(dialCtx, t, Hello{Instance: req.Instance, Capabilities: req.Capabilities})
	if err != nil {
		_ = t.Close()
		return session.Established{}, fmt.Errorf("hello %s: %w", endpoint, err)
	}
	return session.Established{SessionID: id, Transport: t}, nil
}

func (d *Dialer) endpoint(req session.EstablishRequest) (string, error) {
	if ep := d.Endpoints[req.Instance]; ep != "" {
		return ep, nil
	}
	opts, err := req.Capabilities.Desktop()
	if err != nil {
		return "", err
	}
	if opts.Endpoint == "" {
		return "", fmt.Errorf("no websocket endpoint: set %s.endpoint", capabilities.DesktopKey)
	}
	return opts.Endpoint, nil
}
