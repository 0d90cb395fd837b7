package jsvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/odvcencio/appbridge/pkg/session"
)

// Named operations of the native bridge plugin.
const (
	OpSetMock      = "wdio.set-mock"
	OpGetMock      = "wdio.get-mock"
	OpClearMocks   = "wdio.clear-mocks"
	OpResetMocks   = "wdio.reset-mocks"
	OpRestoreMocks = "wdio.restore-mocks"
)

var errRuntimeClosed = errors.New("runtime closed")

type setMockParams struct {
	Command string     `json:"command"`
	Config  MockConfig `json:"config"`
}

type commandParams struct {
	Command string `json:"command"`
}

// invokeNamed answers a named-operation request. Runs off the loop.
func (r *Runtime) invokeNamed(env session.Envelope) {
	result, err := r.dispatch(r.lifetime, env.Operation, env.Params)
	if err != nil {
		code := session.CodeInternal
		if errors.Is(err, session.ErrUnknownOperation) {
			code = session.CodeUnknownOperation
		}
		r.push(session.ErrorResponse(env, code, err.Error()))
		return
	}
	r.push(session.Response(env, result))
}

func (r *Runtime) dispatch(ctx context.Context, op string, params json.RawMessage) (json.RawMessage, error) {
	switch op {
	case OpSetMock:
		var p setMockParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if p.Command == "" {
			p.Command = p.Config.Command
		}
		if p.Command == "" {
			return nil, fmt.Errorf("%s: command is required", op)
		}
		r.mocks.Set(p.Command, p.Config)
		return json.RawMessage("null"), nil
	case OpGetMock:
		var p commandParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		cfg, ok := r.mocks.Get(p.Command)
		if !ok {
			return json.RawMessage("null"), nil
		}
		return json.Marshal(cfg)
	case OpClearMocks:
		r.mocks.Clear()
		return json.RawMessage("null"), nil
	case OpResetMocks, OpRestoreMocks:
		r.mocks.Reset()
		return json.RawMessage("null"), nil
	default:
		return r.command(ctx, op, params)
	}
}

// command runs a native command, honoring mocks first.
func (r *Runtime) command(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if mock, ok := r.mocks.Get(name); ok {
		if mock.Implementation != "" {
			return r.callScript(ctx, mock.Implementation, args)
		}
		if len(mock.ReturnValue) == 0 {
			return json.RawMessage("null"), nil
		}
		return mock.ReturnValue, nil
	}

	r.mu.Lock()
	handler, ok := r.commands[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownOperation, name)
	}
	result, err := handler(ctx, args)
	if err != nil {
		return nil, err
	}
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(result)
}

func response(id string, result json.RawMessage) session.Envelope {
	return session.Envelope{Type: session.TypeResponse, ID: id, Result: result}
}

func errorResponse(id, code, message string) session.Envelope {
	return session.Envelope{Type: session.TypeResponse, ID: id, Error: &session.WireError{Code: code, Message: message}}
}
