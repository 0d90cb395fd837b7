// Package websocket carries session envelopes as JSON text frames, for
// targets that embed the bridge plugin behind a socket.
package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

const (
	pingInterval = 20 * time.Second
	pingTimeout  = 5 * time.Second
	readLimit    = 32 << 20
)

// Transport implements session.Transport over one websocket connection.
type Transport struct {
	conn   *ws.Conn
	logger *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	in     chan session.Envelope

	closeOnce sync.Once
}

// NewTransport takes ownership of conn and starts reading from it.
func NewTransport(conn *ws.Conn, logger *observability.Logger) *Transport {
	if logger == nil {
		logger = observability.NopLogger()
	}
	conn.SetReadLimit(readLimit)
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:   conn,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		in:     make(chan session.Envelope, 64),
	}
	go t.readLoop()
	go t.ping()
	return t
}

func (t *Transport) readLoop() {
	defer close(t.in)
	for {
		var env session.Envelope
		if err := wsjson.Read(t.ctx, t.conn, &env); err != nil {
			if !errors.Is(err, context.Canceled) && ws.CloseStatus(err) != ws.StatusNormalClosure {
				t.logger.Debug("websocket read ended", "error", err)
			}
			t.cancel()
			return
		}
		select {
		case t.in <- env:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Transport) ping() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(t.ctx, pingTimeout)
			_ = t.conn.Ping(ctx)
			cancel()
		}
	}
}

// Send writes env as one text frame.
func (t *Transport) Send(ctx context.Context, env session.Envelope) error {
	if t.ctx.Err() != nil {
		return session.ErrDisconnected
	}
	return wsjson.Write(ctx, t.conn, env)
}

// Receive returns the inbound envelopes; the channel closes with the
// connection.
func (t *Transport) Receive() <-chan session.Envelope {
	return t.in
}

// Close ends the connection with a normal closure. Closing a connection
// the peer already dropped is not an error.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if err := t.conn.Close(ws.StatusNormalClosure, "session closed"); err != nil {
			t.logger.Debug("websocket close", "error", err)
		}
		t.cancel()
	})
	return nil
}

// Done is closed when the connection ends.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}
