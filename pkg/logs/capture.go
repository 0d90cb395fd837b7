package logs

import (
	"regexp"
	"strings"
	"time"
)

// ConsoleBufferSize bounds the console buffer the capture script keeps for
// polling transports. Older entries are dropped and counted in
// __appbridge_log_dropped.
const ConsoleBufferSize = 1000

// FrontendCaptureScript patches the hosted content's console so every call
// is forwarded to the frontend stream. Runtimes without a native emit hook
// get a bounded buffer instead, which a polling transport drains. Running
// it twice is harmless.
const FrontendCaptureScript = `(function () {
  var g = typeof globalThis !== "undefined" ? globalThis : window;
  if (g.__appbridge_console_patched) {
    return;
  }
  g.__appbridge_console_patched = true;
  g.__appbridge_log_buffer = g.__appbridge_log_buffer || [];
  g.__appbridge_log_dropped = g.__appbridge_log_dropped || 0;
  var levels = { trace: "trace", debug: "debug", log: "info", info: "info", warn: "warn", error: "error" };
  function text(args) {
    return Array.prototype.map.call(args, function (a) {
      if (typeof a === "string") {
        return a;
      }
      if (a instanceof Error) {
        return String(a.stack || a);
      }
      try {
        var s = JSON.stringify(a);
        return s === undefined ? String(a) : s;
      } catch (e) {
        return String(a);
      }
    }).join(" ");
  }
  g.console = g.console || {};
  Object.keys(levels).forEach(function (name) {
    var original = g.console[name];
    g.console[name] = function () {
      var msg = text(arguments);
      if (typeof g.__appbridge_emit === "function") {
        g.__appbridge_emit("frontend", levels[name], msg);
      } else {
        g.__appbridge_log_buffer.push({ level: levels[name], message: msg, ts: Date.now() });
        if (g.__appbridge_log_buffer.length > 1000) {
          g.__appbridge_log_buffer.shift();
          g.__appbridge_log_dropped++;
        }
      }
      if (typeof original === "function") {
        return original.apply(g.console, arguments);
      }
    };
  });
})();`

var (
	// [2024-05-01][10:11:12][app_lib][INFO] message
	pluginLogLine = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2})\]\[(\d{2}:\d{2}:\d{2})\]\[([^\]]*)\]\[(TRACE|DEBUG|INFO|WARN|ERROR)\]\s?(.*)$`)
	// [2024-05-01T10:11:12Z INFO  app_lib::module] message
	envLoggerLine = regexp.MustCompile(`^\[(\S+)\s+(TRACE|DEBUG|INFO|WARN|ERROR)\s+([^\]]*)\]\s?(.*)$`)
)

// BackendLine is a parsed line of native process output.
type BackendLine struct {
	Level   Level
	Time    time.Time
	Target  string
	Message string
}

// ParseBackendLine understands the tauri-plugin-log and env_logger output
// formats. Other lines are returned verbatim at info level with ok false.
func ParseBackendLine(line string) (parsed BackendLine, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if m := pluginLogLine.FindStringSubmatch(line); m != nil {
		level, _ := ParseLevel(m[4])
		ts, _ := time.ParseInLocation("2006-01-02 15:04:05", m[1]+" "+m[2], time.Local)
		return BackendLine{Level: level, Time: ts, Target: m[3], Message: m[5]}, true
	}
	if m := envLoggerLine.FindStringSubmatch(line); m != nil {
		level, _ := ParseLevel(m[2])
		ts, _ := time.Parse(time.RFC3339Nano, m[1])
		return BackendLine{Level: level, Time: ts, Target: strings.TrimSpace(m[3]), Message: m[4]}, true
	}
	return BackendLine{Level: LevelInfo, Message: line}, false
}
