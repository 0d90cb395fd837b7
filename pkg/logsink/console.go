package logsink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/odvcencio/appbridge/pkg/logs"
)

// Console prints tagged lines. Colors follow the terminal's profile and
// are disabled by NO_COLOR or when w is not a terminal.
type Console struct {
	out io.Writer
	mu  sync.Mutex

	tagStyle    lipgloss.Style
	levelStyles map[logs.Level]lipgloss.Style
	timestamps  bool
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithTimestamps prefixes each line with the record's local time.
func WithTimestamps() ConsoleOption {
	return func(c *Console) {
		c.timestamps = true
	}
}

// WithColorProfile forces a color profile, mostly for tests.
func WithColorProfile(profile termenv.Profile) ConsoleOption {
	return func(c *Console) {
		c.setStyles(newRenderer(c.out, profile))
	}
}

// NewConsole writes to w, or stdout when w is nil.
func NewConsole(w io.Writer, opts ...ConsoleOption) *Console {
	if w == nil {
		w = os.Stdout
	}
	c := &Console{out: w}
	c.setStyles(newRenderer(w, termenv.NewOutput(w).EnvColorProfile()))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newRenderer(w io.Writer, profile termenv.Profile) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)
	return r
}

func (c *Console) setStyles(r *lipgloss.Renderer) {
	c.tagStyle = r.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
	c.levelStyles = map[logs.Level]lipgloss.Style{
		logs.LevelTrace: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}),
		logs.LevelDebug: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		logs.LevelInfo:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
		logs.LevelWarn:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		logs.LevelError: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).Bold(true),
	}
}

func (c *Console) Write(_ context.Context, batch []logs.Record) error {
	var sb strings.Builder
	for _, r := range batch {
		if c.timestamps {
			sb.WriteString(r.Time.Format("15:04:05.000"))
			sb.WriteByte(' ')
		}
		sb.WriteString(c.tagStyle.Render(r.Tag()))
		sb.WriteByte(' ')
		level := fmt.Sprintf("%-5s", strings.ToUpper(r.Level.String()))
		if style, ok := c.levelStyles[r.Level]; ok {
			level = style.Render(level)
		}
		sb.WriteString(level)
		sb.WriteByte(' ')
		sb.WriteString(r.Message)
		sb.WriteByte('\n')
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, sb.String())
	return err
}
