package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

const helloTimeout = 10 * time.Second

// Backend is what a Handler connects each socket to: usually an embedded
// runtime such as a jsvm.Runtime.
type Backend func(ctx context.Context, hello Hello) (session.Transport, error)

// Handler serves the app side of the protocol. Each connection performs
// the hello, gets its own backend and then has envelopes pumped both ways
// until either side closes.
type Handler struct {
	NewBackend Backend
	// Token, when set, must arrive as a bearer token.
	Token  string
	Logger *observability.Logger
	// AcceptOptions are passed to websocket.Accept.
	AcceptOptions *ws.AcceptOptions
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Token != "" && r.Header.Get("Authorization") != "Bearer "+h.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := ws.Accept(w, r, h.AcceptOptions)
	if err != nil {
		return
	}
	conn.SetReadLimit(readLimit)
	logger := h.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	ctx := r.Context()
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	var req session.Envelope
	err = wsjson.Read(helloCtx, conn, &req)
	cancel()
	if err != nil {
		conn.Close(ws.StatusPolicyViolation, "hello expected")
		return
	}
	hello, err := decodeHello(req)
	if err != nil {
		_ = wsjson.Write(ctx, conn, session.ErrorResponse(req, session.CodeBadRequest, err.Error()))
		conn.Close(ws.StatusPolicyViolation, "bad hello")
		return
	}
	backend, err := h.NewBackend(ctx, hello)
	if err != nil {
		_ = wsjson.Write(ctx, conn, session.ErrorResponse(req, session.CodeInternal, err.Error()))
		conn.Close(ws.StatusInternalError, "backend unavailable")
		return
	}
	defer backend.Close()

	sessionID := session.NewSessionID(hello.Instance)
	result, _ := json.Marshal(HelloResult{SessionID: sessionID})
	if err := wsjson.Write(ctx, conn, session.Response(req, result)); err != nil {
		return
	}
	logger.WithSession(sessionID, hello.Instance).Debug("websocket session started")

	t := NewTransport(conn, logger)
	defer t.Close()
	pump(ctx, t, backend)
}

// pump forwards envelopes between the socket and the backend until one of
// them ends.
func pump(ctx context.Context, socket *Transport, backend session.Transport) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for env := range backend.Receive() {
			if err := socket.Send(ctx, env); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case env, ok := <-socket.Receive():
			if !ok {
				return
			}
			if err := backend.Send(ctx, env); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				_ = socket.Send(ctx, session.ErrorResponse(env, session.CodeInternal, err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}
