package bridge

import (
	"encoding/json"
	"strings"
)

// envelopeHead and envelopeTail wrap the caller's function. The result is an
// expression evaluating to a promise of the JSON result payload.
const envelopeHead = `(async function () {
  "use strict";
  var __appbridge_fn = (
`

const envelopeTail = `
  );
  var __appbridge_g = typeof globalThis !== "undefined" ? globalThis : window;

  function __appbridge_missing(name) {
    return function () {
      return Promise.reject(new Error(name + " is not available in this runtime"));
    };
  }

  function __appbridge_ctx() {
    if (typeof __appbridge_g.__appbridge_context === "function") {
      return __appbridge_g.__appbridge_context();
    }
    var t = __appbridge_g.__TAURI__ || {};
    var core = t.core || t;
    var ev = t.event || {};
    return {
      invoke: typeof core.invoke === "function" ? core.invoke : __appbridge_missing("invoke"),
      emit: typeof ev.emit === "function" ? ev.emit : __appbridge_missing("emit"),
      tauri: t
    };
  }

  function __appbridge_revive(v) {
    if (Array.isArray(v)) {
      return v.map(__appbridge_revive);
    }
    if (v === null || typeof v !== "object") {
      return v;
    }
    var keys = Object.keys(v);
    if (keys.length === 1 && v["$appbridge"] === "undefined") {
      return undefined;
    }
    var src = v["$appbridge"] === "object" && v.value && typeof v.value === "object" ? v.value : v;
    var out = {};
    Object.keys(src).forEach(function (k) {
      Object.defineProperty(out, k, { value: __appbridge_revive(src[k]), enumerable: true, writable: true, configurable: true });
    });
    return out;
  }

  function __appbridge_serr(path, what) {
    var e = new Error("cannot serialize " + what + " at " + path);
    e.name = "SerializationError";
    return e;
  }

  function __appbridge_encode(value, path, seen) {
    if (value === undefined) {
      return { "$appbridge": "undefined" };
    }
    if (value === null) {
      return null;
    }
    var t = typeof value;
    if (t === "string" || t === "boolean") {
      return value;
    }
    if (t === "number") {
      if (!isFinite(value)) {
        throw __appbridge_serr(path, "non-finite number " + String(value));
      }
      return value;
    }
    if (t === "function" || t === "symbol" || t === "bigint") {
      throw __appbridge_serr(path, t);
    }
    if (seen.indexOf(value) !== -1) {
      throw __appbridge_serr(path, "circular reference");
    }
    seen.push(value);
    try {
      if (Array.isArray(value)) {
        var arr = new Array(value.length);
        for (var i = 0; i < value.length; i++) {
          arr[i] = __appbridge_encode(value[i], path + "[" + i + "]", seen);
        }
        return arr;
      }
      var proto = Object.getPrototypeOf(value);
      if (proto !== Object.prototype && proto !== null) {
        var ctor = value.constructor && value.constructor.name ? value.constructor.name : "object";
        throw __appbridge_serr(path, "non-plain instance of " + ctor);
      }
      var obj = {};
      var keys = Object.keys(value);
      for (var j = 0; j < keys.length; j++) {
        var k = keys[j];
        Object.defineProperty(obj, k, { value: __appbridge_encode(value[k], path + "." + k, seen), enumerable: true, writable: true, configurable: true });
      }
      if (Object.prototype.hasOwnProperty.call(value, "$appbridge")) {
        return { "$appbridge": "object", value: obj };
      }
      return obj;
    } finally {
      seen.pop();
    }
  }

  function __appbridge_error(e) {
    if (e instanceof Error || (e && typeof e === "object" && "message" in e)) {
      return { kind: String(e.name || "Error"), message: String(e.message), stack: e.stack ? String(e.stack) : "" };
    }
    return { kind: "Error", message: String(e), stack: "" };
  }

  try {
    if (typeof __appbridge_fn !== "function") {
      throw new TypeError("execute expects a function, got " + typeof __appbridge_fn);
    }
    var __appbridge_args = __appbridge_revive(JSON.parse(`

const envelopeEnd = `));
    var __appbridge_value = await __appbridge_fn.apply(null, [__appbridge_ctx()].concat(__appbridge_args));
    return JSON.stringify({ ok: true, value: __appbridge_encode(__appbridge_value, "result", []) });
  } catch (e) {
    return JSON.stringify({ ok: false, error: __appbridge_error(e) });
  }
})()`

// buildScript assembles the envelope around fn and the encoded arguments.
// The arguments go through JSON.parse so keys like __proto__ stay data.
func buildScript(fn string, args json.RawMessage) string {
	literal, _ := json.Marshal(string(args))
	var sb strings.Builder
	sb.Grow(len(envelopeHead) + len(fn) + len(envelopeTail) + len(literal) + len(envelopeEnd))
	sb.WriteString(envelopeHead)
	sb.WriteString(fn)
	sb.WriteString(envelopeTail)
	sb.Write(literal)
	sb.WriteString(envelopeEnd)
	return sb.String()
}

// buildCheckSource is what the local syntax check compiles: the function
// as a parenthesized expression, as it will appear remotely.
func buildCheckSource(fn string) string {
	return "(\n" + fn + "\n);"
}
