package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odvcencio/appbridge/pkg/capabilities"
	"github.com/odvcencio/appbridge/pkg/session"
)

// OpHello opens every connection: the client names its instance and sends
// the composed capabilities, the server answers with a session id.
const OpHello = "appbridge.hello"

// Hello is the parameter object of OpHello.
type Hello struct {
	Instance     string           `json:"instance,omitempty"`
	Capabilities capabilities.Set `json:"capabilities"`
}

type helloParams struct {
	Instance     string         `json:"instance,omitempty"`
	Capabilities map[string]any `json:"capabilities"`
}

// HelloResult is the answer to OpHello.
type HelloResult struct {
	SessionID string `json:"session_id"`
}

func decodeHello(env session.Envelope) (Hello, error) {
	if env.Type != session.TypeRequest || env.Operation != OpHello {
		return Hello{}, fmt.Errorf("expected %s request, got %s %q", OpHello, env.Type, env.Operation)
	}
	var p helloParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &p); err != nil {
			return Hello{}, fmt.Errorf("decode hello: %w", err)
		}
	}
	set, err := capabilities.NewSet(p.Capabilities)
	if err != nil {
		return Hello{}, fmt.Errorf("decode hello capabilities: %w", err)
	}
	return Hello{Instance: p.Instance, Capabilities: set}, nil
}

// handshake sends the hello on t and waits for its response. Log envelopes
// arriving first are dropped.
func handshake(ctx context.Context, t *Transport, hello Hello) (string, error) {
	params, err := json.Marshal(hello)
	if err != nil {
		return "", err
	}
	req := session.Envelope{Type: session.TypeRequest, ID: "hello", Operation: OpHello, Params: params}
	if err := t.Send(ctx, req); err != nil {
		return "", fmt.Errorf("send hello: %w", err)
	}
	for {
		select {
		case env, ok := <-t.Receive():
			if !ok {
				return "", fmt.Errorf("%w: connection closed during hello", session.ErrDisconnected)
			}
			if env.Type != session.TypeResponse || env.ID != req.ID {
				continue
			}
			if err := env.Error.Err(OpHello); err != nil {
				return "", err
			}
			var res HelloResult
			if err := json.Unmarshal(env.Result, &res); err != nil {
				return "", fmt.Errorf("decode hello result: %w", err)
			}
			return res.SessionID, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
