package bridge

import (
	"context"
	"encoding/json"
)

// Named operations of the native bridge plugin.
const (
	OpSetMock      = "wdio.set-mock"
	OpGetMock      = "wdio.get-mock"
	OpClearMocks   = "wdio.clear-mocks"
	OpResetMocks   = "wdio.reset-mocks"
	OpRestoreMocks = "wdio.restore-mocks"
)

const (
	invokeCommandFn = `async (ctx, command, args) => ctx.invoke(command, args)`
	emitFn          = `async (ctx, event, payload) => { await ctx.emit(event, payload); }`
)

// MockConfig replaces a native command while mocks are active.
// Implementation is JavaScript function source called with the command's
// arguments; without it ReturnValue is returned.
type MockConfig struct {
	Command        string `json:"command"`
	ReturnValue    any    `json:"return_value,omitempty"`
	Implementation string `json:"implementation,omitempty"`
}

// InvokeCommand calls a native command through the runtime's invoke
// primitive, exactly as frontend code would.
func (b *Bridge) InvokeCommand(ctx context.Context, command string, args any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	return b.Execute(ctx, invokeCommandFn, command, args)
}

// Emit raises an application event from the frontend side.
func (b *Bridge) Emit(ctx context.Context, event string, payload any) error {
	_, err := b.Execute(ctx, emitFn, event, payload)
	return err
}

// SetMock installs or replaces the mock for cfg.Command.
func (b *Bridge) SetMock(ctx context.Context, cfg MockConfig) error {
	_, err := b.Invoke(ctx, OpSetMock, map[string]any{"command": cfg.Command, "config": cfg})
	return err
}

// GetMock returns the active mock for command, or nil.
func (b *Bridge) GetMock(ctx context.Context, command string) (*MockConfig, error) {
	raw, err := b.Invoke(ctx, OpGetMock, map[string]any{"command": command})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var cfg MockConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ClearMocks removes every mock.
func (b *Bridge) ClearMocks(ctx context.Context) error {
	_, err := b.Invoke(ctx, OpClearMocks, nil)
	return err
}

// ResetMocks removes every mock and any saved original handlers.
func (b *Bridge) ResetMocks(ctx context.Context) error {
	_, err := b.Invoke(ctx, OpResetMocks, nil)
	return err
}

// RestoreMocks removes every mock and restores original handlers.
func (b *Bridge) RestoreMocks(ctx context.Context) error {
	_, err := b.Invoke(ctx, OpRestoreMocks, nil)
	return err
}
