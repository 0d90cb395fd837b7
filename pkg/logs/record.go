// Package logs captures the backend and frontend log streams of running
// instances and funnels them, tagged, into a sink without blocking the
// session.
package logs

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/appbridge/pkg/session"
)

// Level is a record severity. The zero value is LevelTrace.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"trace", "debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts the level names used by console APIs and the Rust log
// crate, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "verbose":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "log", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err", "fatal":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Source is the producer of a record.
type Source string

const (
	SourceBackend  Source = session.StreamBackend
	SourceFrontend Source = session.StreamFrontend
)

// Record is one captured log line. Ordering is defined by Seq within one
// (Instance, Source) pair only.
type Record struct {
	Source   Source    `json:"source"`
	Instance string    `json:"instance,omitempty"`
	Level    Level     `json:"level"`
	Time     time.Time `json:"time"`
	// RemoteTime is the producer's own clock, when it reported one.
	RemoteTime time.Time `json:"remote_time,omitzero"`
	Seq        uint64    `json:"seq"`
	Message    string    `json:"message"`
}

// Tag is the bracketed prefix identifying the record's stream, for example
// "[backend]" or "[frontend:second]".
func (r Record) Tag() string {
	return Tag(r.Source, r.Instance)
}

// Tag formats the stream tag for a source and instance.
func Tag(source Source, instance string) string {
	if instance == "" {
		return "[" + string(source) + "]"
	}
	return "[" + string(source) + ":" + instance + "]"
}

// String renders the record the way the console sink prints it.
func (r Record) String() string {
	return fmt.Sprintf("%s %-5s %s", r.Tag(), strings.ToUpper(r.Level.String()), r.Message)
}
