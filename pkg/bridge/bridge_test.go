package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/appbridge/pkg/jsvm"
	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
	"github.com/odvcencio/appbridge/pkg/target"
)

func newTestBridge(t *testing.T, commands map[string]jsvm.CommandHandler, opts ...Option) (*Bridge, *jsvm.Runtime) {
	t.Helper()
	rt, err := jsvm.New(jsvm.Options{Platform: "linux", Commands: commands})
	require.NoError(t, err)
	remote := session.NewRemote(rt, nil)
	h := session.NewHandle("session-1", "", target.Descriptor{Platform: target.PlatformLinux}, remote)
	t.Cleanup(func() { _ = h.Close() })
	return New(h, opts...), rt
}

func TestExecute_RoundTripsJSONValues(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	big := make([]int, 1000)
	for i := range big {
		big[i] = i
	}
	bigJSON, _ := json.Marshal(big)

	cases := []struct {
		name    string
		literal string
	}{
		{"number", `42`},
		{"string", `"s"`},
		{"bool", `true`},
		{"null", `null`},
		{"array", `[1,2,3]`},
		{"nested", `{"a":{"b":1}}`},
		{"large array", string(bigJSON)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var want any
			require.NoError(t, json.Unmarshal([]byte(tc.literal), &want))

			got, err := b.Execute(ctx, fmt.Sprintf("() => (%s)", tc.literal))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestExecute_ArgumentsPassThrough(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	got, err := b.Execute(ctx, `(ctx, a, b) => a + b`, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got)

	arg := map[string]any{"list": []any{1.0, "two", nil, map[string]any{"deep": true}}}
	got, err = b.Execute(ctx, `(ctx, x) => x`, arg)
	require.NoError(t, err)
	assert.Equal(t, arg, got)
}

func TestExecute_ExecuteAs(t *testing.T) {
	b, _ := newTestBridge(t, nil)

	sum, err := ExecuteAs[int](context.Background(), b, `(ctx, a, b) => a + b`, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 30, sum)

	type window struct {
		Title  string `json:"title"`
		Width  int    `json:"width"`
		Hidden *bool  `json:"hidden"`
	}
	w, err := ExecuteAs[window](context.Background(), b, `() => ({ title: "main", width: 800, hidden: undefined })`)
	require.NoError(t, err)
	assert.Equal(t, window{Title: "main", Width: 800}, w)
}

func TestExecute_Undefined(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	got, err := b.Execute(ctx, `(ctx, x) => typeof x`, Undefined)
	require.NoError(t, err)
	assert.Equal(t, "undefined", got)

	got, err = b.Execute(ctx, `() => undefined`)
	require.NoError(t, err)
	assert.Equal(t, Undefined, got)

	got, err = b.Execute(ctx, `() => [1, undefined, null]`)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, Undefined, nil}, got)
}

func TestExecute_TagKeyObjectsAreData(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	arg := map[string]any{"$appbridge": "undefined", "n": 1.0}

	got, err := b.Execute(context.Background(), `(ctx, o) => o`, arg)
	require.NoError(t, err)
	assert.Equal(t, arg, got)
}

func TestExecute_ProtoKeyStaysData(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	arg := map[string]any{"__proto__": map[string]any{"polluted": true}}

	got, err := b.Execute(context.Background(),
		`(ctx, o) => [Object.keys(o), ({}).polluted === undefined, Object.getPrototypeOf(o) === Object.prototype]`, arg)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"__proto__"}, true, true}, got)
}

func TestExecute_ThrownErrorsKeepMessage(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	for _, fn := range []string{
		`() => { throw new Error("boom") }`,
		`async () => { throw new Error("boom") }`,
		`() => Promise.reject(new Error("boom"))`,
		`() => new Promise((resolve, reject) => setTimeout(() => reject(new Error("boom")), 5))`,
	} {
		_, err := b.Execute(ctx, fn)
		require.Error(t, err, fn)
		assert.Equal(t, "boom", err.Error(), fn)

		var rerr *RemoteExecutionError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, CategoryRemote, rerr.Category)
		assert.Equal(t, "Error", rerr.Kind)
		assert.False(t, IsTransport(err))
	}
}

func TestExecute_ErrorKindsAndNonErrors(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	_, err := b.Execute(ctx, `() => null.field`)
	var rerr *RemoteExecutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "TypeError", rerr.Kind)

	_, err = b.Execute(ctx, `() => { throw "plain string" }`)
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "plain string", rerr.Message)
}

func TestExecute_RejectsUnserializableResults(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	cases := map[string]string{
		`() => (function () {})`:                                   "function at result",
		`() => ({ a: [1, Symbol("x")] })`:                          "symbol at result.a[1]",
		`() => { const o = {}; o.self = o; return o; }`:           "circular reference at result.self",
		`() => new Date()`:                                         "non-plain instance of Date",
		`() => new Map()`:                                          "non-plain instance of Map",
		`() => ({ n: NaN })`:                                       "non-finite number NaN at result.n",
		`() => { class Point { constructor() { this.x = 1 } } return new Point() }`: "non-plain instance of Point",
	}
	for fn, want := range cases {
		_, err := b.Execute(ctx, fn)
		var rerr *RemoteExecutionError
		require.ErrorAs(t, err, &rerr, fn)
		assert.Equal(t, "SerializationError", rerr.Kind, fn)
		assert.Contains(t, rerr.Message, want, fn)
	}
}

func TestExecute_SharedReferencesAreNotCircular(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	got, err := b.Execute(context.Background(), `() => { const s = { v: 1 }; return [s, s]; }`)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"v": 1.0}, map[string]any{"v": 1.0}}, got)
}

func TestExecute_ClosureCheck(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	_, err := b.Execute(ctx, `() => outerValue + 1`)
	var cerr *ClosureError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"outerValue"}, cerr.Names)

	lenient, _ := newTestBridge(t, nil, WithGlobals("outerValue"))
	_, err = lenient.Execute(ctx, `() => outerValue + 1`)
	var rerr *RemoteExecutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ReferenceError", rerr.Kind)

	unchecked, _ := newTestBridge(t, nil, WithoutClosureCheck())
	_, err = unchecked.Execute(ctx, `() => outerValue + 1`)
	require.ErrorAs(t, err, &rerr)
}

func TestExecute_SyntaxErrorIsLocal(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	_, err := b.Execute(context.Background(), `() => {`)
	assert.ErrorIs(t, err, ErrInvalidFunction)
}

func TestExecute_WithoutSyntaxCheckLetsRuntimeReport(t *testing.T) {
	b, _ := newTestBridge(t, nil, WithoutSyntaxCheck())
	_, err := b.Execute(context.Background(), `() => {`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidFunction)

	var rerr *RemoteExecutionError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Message, "SyntaxError")
}

func TestExecute_LabelsAndClassFieldsAreNotClosures(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	got, err := b.Execute(ctx, `() => { label: { break label; } return 2 }`)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = b.Execute(ctx, `() => { class C { x = 1; static y = 2; m() { return this.x + C.y } } return new C().m() }`)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

func TestExecute_UndefinedShapedArgumentsAreData(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()
	marker := map[string]any{"$appbridge": "undefined"}

	got, err := b.Execute(ctx, `(ctx, x) => typeof x === 'object' ? x : 'was ' + typeof x`, marker)
	require.NoError(t, err)
	assert.Equal(t, marker, got)

	got, err = b.Execute(ctx, `(ctx, x) => x`, map[string]any{"k": marker, "u": Undefined})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": marker, "u": Undefined}, got)
}

func TestExecute_NotAFunction(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	_, err := b.Execute(context.Background(), `42`)
	var rerr *RemoteExecutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "TypeError", rerr.Kind)
}

func TestExecute_UnserializableArgument(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	_, err := b.Execute(context.Background(), `(ctx, c) => c`, make(chan int))
	assert.ErrorIs(t, err, ErrUnserializable)
}

func TestExecute_ConcurrentCallsAreNotSwapped(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]any, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = b.Execute(ctx, `() => new Promise(r => setTimeout(() => r("slow"), 50))`)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		results[1], errs[1] = b.Execute(ctx, `() => "fast"`)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "slow", results[0])
	assert.Equal(t, "fast", results[1])
}

func TestExecute_TimeoutLeavesNoListener(t *testing.T) {
	b, _ := newTestBridge(t, nil, WithTimeout(30*time.Millisecond))

	_, err := b.Execute(context.Background(), `() => new Promise(() => {})`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrTimeout))
	assert.True(t, IsTransport(err))
	assert.Zero(t, b.Handle().Pending())
}

func TestExecute_CallerDeadlineWins(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Execute(ctx, `() => new Promise(() => {})`)
	assert.True(t, errors.Is(err, session.ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_SessionClosed(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	ctx := context.Background()

	errs := make(chan error, 1)
	go func() {
		_, err := b.Execute(ctx, `() => new Promise(() => {})`)
		errs <- err
	}()
	require.Eventually(t, func() bool { return b.Handle().Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, b.Handle().Close())

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, session.ErrSessionClosed), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("in-flight execute did not reject")
	}

	_, err := b.Execute(ctx, `() => 1`)
	assert.True(t, errors.Is(err, session.ErrSessionClosed))
}

func TestInvoke_UnknownOperation(t *testing.T) {
	b, _ := newTestBridge(t, nil)

	_, err := b.Invoke(context.Background(), "wdio.does-not-exist", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrUnknownOperation))
	assert.False(t, errors.Is(err, session.ErrTimeout))
	assert.Contains(t, err.Error(), "wdio.does-not-exist")

	var rerr *RemoteExecutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "UnknownOperation", rerr.Kind)
	assert.Equal(t, "wdio.does-not-exist", rerr.Operation)
}

func TestInvokeCommandAndEmit(t *testing.T) {
	b, rt := newTestBridge(t, map[string]jsvm.CommandHandler{
		"get_platform_info": func(context.Context, json.RawMessage) (any, error) {
			return map[string]string{"os": "linux"}, nil
		},
	})
	ctx := context.Background()

	got, err := b.InvokeCommand(ctx, "get_platform_info", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"os": "linux"}, got)

	_, err = b.InvokeCommand(ctx, "missing_command", nil)
	var rerr *RemoteExecutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, CategoryRemote, rerr.Category)
	assert.Contains(t, rerr.Message, "missing_command")

	received := make(chan string, 1)
	rt.OnEvent("ready", func(payload json.RawMessage) { received <- string(payload) })
	require.NoError(t, b.Emit(ctx, "ready", map[string]int{"n": 1}))
	select {
	case payload := <-received:
		assert.JSONEq(t, `{"n":1}`, payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMockOperations(t *testing.T) {
	b, _ := newTestBridge(t, map[string]jsvm.CommandHandler{
		"read_file": func(context.Context, json.RawMessage) (any, error) { return "real", nil },
	})
	ctx := context.Background()

	require.NoError(t, b.SetMock(ctx, MockConfig{Command: "read_file", ReturnValue: "mocked"}))
	got, err := b.InvokeCommand(ctx, "read_file", nil)
	require.NoError(t, err)
	assert.Equal(t, "mocked", got)

	mock, err := b.GetMock(ctx, "read_file")
	require.NoError(t, err)
	require.NotNil(t, mock)
	assert.Equal(t, "mocked", mock.ReturnValue)

	require.NoError(t, b.SetMock(ctx, MockConfig{Command: "read_file", Implementation: `(args) => "impl:" + args.path`}))
	got, err = b.InvokeCommand(ctx, "read_file", map[string]string{"path": "/etc/hosts"})
	require.NoError(t, err)
	assert.Equal(t, "impl:/etc/hosts", got)

	require.NoError(t, b.ClearMocks(ctx))
	mock, err = b.GetMock(ctx, "read_file")
	require.NoError(t, err)
	assert.Nil(t, mock)

	require.NoError(t, b.ResetMocks(ctx))
	require.NoError(t, b.RestoreMocks(ctx))
	got, err = b.InvokeCommand(ctx, "read_file", nil)
	require.NoError(t, err)
	assert.Equal(t, "real", got)
}

func TestExecute_RecordsMetrics(t *testing.T) {
	scope := observability.NewScope(nil, nil, nil)
	b, _ := newTestBridge(t, nil, WithScope(scope))
	ctx := context.Background()

	_, _ = b.Execute(ctx, `() => 1`)
	_, _ = b.Execute(ctx, `() => { throw new Error("x") }`)
	_, _ = b.Execute(ctx, `() => missing`)

	assert.Equal(t, 1.0, testutil.ToFloat64(scope.Metrics.Executions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(scope.Metrics.Executions.WithLabelValues("remote_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(scope.Metrics.Executions.WithLabelValues("rejected")))
}
