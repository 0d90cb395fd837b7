package jsvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/odvcencio/appbridge/pkg/session"
)

// install defines the globals hosted content sees. Runs before the loop
// starts, so direct VM access is safe here.
func (r *Runtime) install() error {
	jsonObj := r.vm.Get("JSON").ToObject(r.vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return errors.New("JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify is not callable")
	}
	r.parse = parse
	r.stringify = stringify

	console := r.vm.NewObject()
	for _, method := range []string{"trace", "debug", "log", "info", "warn", "error"} {
		if err := console.Set(method, func(goja.FunctionCall) goja.Value { return goja.Undefined() }); err != nil {
			return err
		}
	}

	ctxObj := r.vm.NewObject()
	for name, value := range map[string]any{
		"invoke":   r.jsInvoke,
		"emit":     r.jsEmitEvent,
		"platform": r.platform,
		"instance": r.instance,
	} {
		if err := ctxObj.Set(name, value); err != nil {
			return err
		}
	}
	r.ctxObject = ctxObj

	for name, value := range map[string]any{
		"console":               console,
		"setTimeout":            r.jsSetTimeout,
		"__appbridge_context":   func(goja.FunctionCall) goja.Value { return r.ctxObject },
		"__appbridge_reply":     r.jsReply,
		"__appbridge_reject":    r.jsReject,
		"__appbridge_emit":      r.jsEmitLog,
		"__appbridge_settle":    r.jsSettle,
		"__appbridge_settleErr": r.jsSettleErr,
	} {
		if err := r.vm.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) jsReply(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).String()
	raw := call.Argument(1)
	if goja.IsUndefined(raw) || goja.IsNull(raw) {
		r.push(errorResponse(id, session.CodeBadRequest, "script produced no result"))
		return goja.Undefined()
	}
	payload := raw.String()
	if !json.Valid([]byte(payload)) {
		r.push(errorResponse(id, session.CodeBadRequest, "script result is not JSON"))
		return goja.Undefined()
	}
	r.push(response(id, json.RawMessage(payload)))
	return goja.Undefined()
}

func (r *Runtime) jsReject(call goja.FunctionCall) goja.Value {
	r.push(errorResponse(call.Argument(0).String(), session.CodeInternal, call.Argument(1).String()))
	return goja.Undefined()
}

func (r *Runtime) jsEmitLog(call goja.FunctionCall) goja.Value {
	r.emit(call.Argument(0).String(), call.Argument(1).String(), call.Argument(2).String())
	return goja.Undefined()
}

// jsSetTimeout schedules fn on the loop. Timers that fire after Close are
// dropped.
func (r *Runtime) jsSetTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("setTimeout requires a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	extra := append([]goja.Value(nil), call.Arguments[min(2, len(call.Arguments)):]...)
	time.AfterFunc(delay, func() {
		r.post(r.lifetime, func() {
			if _, err := fn(goja.Undefined(), extra...); err != nil {
				r.logger.Debug("timer callback failed", "error", err)
			}
		})
	})
	return goja.Undefined()
}

// jsInvoke runs a native command off the loop and settles the returned
// promise back on it.
func (r *Runtime) jsInvoke(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	args, err := r.toJSON(call.Argument(1))
	if err != nil {
		panic(r.vm.NewTypeError(fmt.Sprintf("invoke %s: %v", name, err)))
	}
	promise, resolve, reject := r.vm.NewPromise()
	go func() {
		result, err := r.command(r.lifetime, name, args)
		r.post(r.lifetime, func() {
			if err != nil {
				reject(r.newError(err.Error()))
				return
			}
			value, perr := r.fromJSON(result)
			if perr != nil {
				reject(r.newError(perr.Error()))
				return
			}
			resolve(value)
		})
	}()
	return r.vm.ToValue(promise)
}

func (r *Runtime) jsEmitEvent(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	payload, err := r.toJSON(call.Argument(1))
	promise, resolve, reject := r.vm.NewPromise()
	if err != nil {
		reject(r.newError(err.Error()))
		return r.vm.ToValue(promise)
	}
	r.mu.Lock()
	listeners := append([]func(json.RawMessage){}, r.events[name]...)
	r.mu.Unlock()
	go func() {
		for _, fn := range listeners {
			fn(payload)
		}
	}()
	resolve(goja.Undefined())
	return r.vm.ToValue(promise)
}

func (r *Runtime) jsSettle(call goja.FunctionCall) goja.Value {
	r.settle(call.Argument(0).String(), settled{value: json.RawMessage(call.Argument(1).String())})
	return goja.Undefined()
}

func (r *Runtime) jsSettleErr(call goja.FunctionCall) goja.Value {
	r.settle(call.Argument(0).String(), settled{err: errors.New(call.Argument(1).String())})
	return goja.Undefined()
}

func (r *Runtime) settle(token string, result settled) {
	r.mu.Lock()
	ch, ok := r.waiters[token]
	delete(r.waiters, token)
	r.mu.Unlock()
	if ok {
		ch <- result
	}
}

// callScript evaluates fnSource as a function, calls it with args and
// waits for the (possibly async) result as JSON. Must not run on the loop.
func (r *Runtime) callScript(ctx context.Context, fnSource string, args json.RawMessage) (json.RawMessage, error) {
	ch := make(chan settled, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errRuntimeClosed
	}
	r.seq++
	token := strconv.FormatUint(r.seq, 10)
	r.waiters[token] = ch
	r.mu.Unlock()

	if len(args) == 0 {
		args = json.RawMessage("null")
	}
	argLiteral, _ := json.Marshal(string(args))
	src := fmt.Sprintf(`Promise.resolve().then(function () {
  return (
%s
  )(JSON.parse(%s));
}).then(function (v) {
  __appbridge_settle(%q, v === undefined ? "null" : JSON.stringify(v));
}, function (e) {
  __appbridge_settleErr(%q, String(e && e.message || e));
});`, fnSource, argLiteral, token, token)

	if !r.post(ctx, func() {
		if _, err := r.vm.RunString(src); err != nil {
			r.settle(token, settled{err: err})
		}
	}) {
		r.mu.Lock()
		delete(r.waiters, token)
		r.mu.Unlock()
		return nil, r.closedOr(ctx)
	}

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, token)
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

// toJSON serializes a JS value with JSON.stringify. undefined maps to null.
func (r *Runtime) toJSON(v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return json.RawMessage("null"), nil
	}
	out, err := r.stringify(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(out) {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(out.String()), nil
}

// fromJSON builds a plain JS value from JSON via JSON.parse so objects get
// Object.prototype.
func (r *Runtime) fromJSON(raw json.RawMessage) (goja.Value, error) {
	if len(raw) == 0 {
		return goja.Null(), nil
	}
	return r.parse(goja.Undefined(), r.vm.ToValue(string(raw)))
}

func (r *Runtime) newError(message string) goja.Value {
	ctor, ok := goja.AssertConstructor(r.vm.Get("Error"))
	if !ok {
		return r.vm.ToValue(message)
	}
	obj, err := ctor(nil, r.vm.ToValue(message))
	if err != nil {
		return r.vm.ToValue(message)
	}
	return obj
}
