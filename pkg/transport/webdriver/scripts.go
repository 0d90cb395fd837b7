package webdriver

import (
	"fmt"
	"regexp"
	"strings"
)

// pluginPrefix marks operations served by the bridge plugin. The rest of
// the name maps to the plugin command: wdio.set-mock calls
// plugin:wdio|set_mock.
const pluginPrefix = "wdio."

// executeScript wraps a session execute expression for execute/async. The
// expression yields a JSON string, or a promise of one.
func executeScript(expr string) string {
	return fmt.Sprintf(`var __appbridge_done = arguments[arguments.length - 1];
Promise.resolve().then(function () {
  return (
%s
  );
}).then(function (s) {
  __appbridge_done({ ok: true, value: s });
}, function (e) {
  __appbridge_done({ ok: false, message: String(e && e.message || e) });
});`, expr)
}

// invokeScript calls a native command with arguments[0] as the command and
// arguments[1] as its argument object.
const invokeScript = `var __appbridge_done = arguments[arguments.length - 1];
var t = window.__TAURI__ || {};
var core = t.core || t;
if (typeof core.invoke !== "function") {
  __appbridge_done({ ok: false, message: "invoke is not available in this window" });
} else {
  Promise.resolve(core.invoke(arguments[0], arguments[1] || {})).then(function (v) {
    __appbridge_done({ ok: true, value: JSON.stringify(v === undefined ? null : v) });
  }, function (e) {
    __appbridge_done({ ok: false, message: String(e && e.message || e) });
  });
}`

// drainScript empties the console buffer installed by the capture script
// and reports how many entries it dropped since the last drain.
const drainScript = `var b = window.__appbridge_log_buffer || [];
var d = window.__appbridge_log_dropped || 0;
window.__appbridge_log_buffer = [];
window.__appbridge_log_dropped = 0;
return { entries: b, dropped: d };`

func pluginCommand(op string) string {
	if !strings.HasPrefix(op, pluginPrefix) {
		return op
	}
	return "plugin:wdio|" + strings.ReplaceAll(strings.TrimPrefix(op, pluginPrefix), "-", "_")
}

var unknownCommandPattern = regexp.MustCompile(`(?i)\b(command|plugin)\b.*\bnot (found|allowed)\b`)

// scriptResult is what the wrapped scripts pass to the async callback.
type scriptResult struct {
	OK      bool    `json:"ok"`
	Value   *string `json:"value"`
	Message string  `json:"message"`
}

// drained is what drainScript returns.
type drained struct {
	Entries []bufferedLog `json:"entries"`
	Dropped int           `json:"dropped"`
}

// bufferedLog is one console entry left by the capture script.
type bufferedLog struct {
	Level   string  `json:"level"`
	Message string  `json:"message"`
	TS      float64 `json:"ts"`
}
