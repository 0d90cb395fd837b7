// Package terminal renders appbridge command output: colored status lines,
// markdown reports and a spinner for slow launches. Styling is dropped when
// the destination is not a terminal so piped output stays plain.
package terminal

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Writer provides styled status output with markdown rendering.
type Writer struct {
	out      io.Writer
	color    bool
	width    int
	markdown *glamour.TermRenderer
	mu       sync.Mutex

	plainStyle   lipgloss.Style
	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	keyStyle     lipgloss.Style
	headerStyle  lipgloss.Style
}

// Option configures a Writer.
type Option func(*Writer)

// WithColor forces styling on or off regardless of the destination.
func WithColor(on bool) Option {
	return func(w *Writer) { w.color = on }
}

// WithWidth sets the wrap width for markdown output.
func WithWidth(width int) Option {
	return func(w *Writer) {
		if width > 0 {
			w.width = width
		}
	}
}

// New creates a Writer for out. Color defaults to on when out is a terminal
// and NO_COLOR is unset.
func New(out io.Writer, opts ...Option) *Writer {
	w := &Writer{
		out:   out,
		color: IsTerminal(out) && os.Getenv("NO_COLOR") == "",
		width: terminalWidth(out),
	}
	for _, opt := range opts {
		opt(w)
	}

	profile := termenv.Ascii
	if w.color {
		profile = termenv.NewOutput(out, termenv.WithTTY(true)).EnvColorProfile()
	}
	r := lipgloss.NewRenderer(out)
	r.SetColorProfile(profile)

	w.plainStyle = r.NewStyle()
	w.errorStyle = r.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
		Bold(true)
	w.warnStyle = r.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"})
	w.successStyle = r.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"})
	w.infoStyle = r.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"})
	w.dimStyle = r.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
	w.keyStyle = r.NewStyle().Bold(true)
	w.headerStyle = r.NewStyle().
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"})

	style := glamour.WithStandardStyle("notty")
	if w.color {
		style = glamour.WithAutoStyle()
	}
	w.markdown, _ = glamour.NewTermRenderer(style, glamour.WithWordWrap(w.width))
	return w
}

// Color reports whether output is styled.
func (w *Writer) Color() bool {
	return w.color
}

// Println writes a plain line.
func (w *Writer) Println(format string, args ...any) {
	w.line(w.plainStyle, "", format, args...)
}

// Error prints an error line.
func (w *Writer) Error(format string, args ...any) {
	w.line(w.errorStyle, "error: ", format, args...)
}

// Warn prints a warning line.
func (w *Writer) Warn(format string, args ...any) {
	w.line(w.warnStyle, "warning: ", format, args...)
}

// Success prints a line prefixed with a check mark.
func (w *Writer) Success(format string, args ...any) {
	w.line(w.successStyle, "✓ ", format, args...)
}

// Info prints an informational line.
func (w *Writer) Info(format string, args ...any) {
	w.line(w.infoStyle, "", format, args...)
}

// Dim prints secondary text.
func (w *Writer) Dim(format string, args ...any) {
	w.line(w.dimStyle, "", format, args...)
}

func (w *Writer) line(style lipgloss.Style, prefix, format string, args ...any) {
	msg := prefix + fmt.Sprintf(format, args...)
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, style.Render(msg))
}

// Header prints a section header.
func (w *Writer) Header(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, w.headerStyle.Render(title))
}

// Fields prints aligned key/value pairs in key order.
func (w *Writer) Fields(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	pad := 0
	for k := range fields {
		keys = append(keys, k)
		pad = max(pad, len(k))
	}
	sort.Strings(keys)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, k := range keys {
		label := w.keyStyle.Render(k + ":")
		fmt.Fprintf(w.out, "  %s%s %s\n", label, strings.Repeat(" ", pad-len(k)), fields[k])
	}
}

// List prints a bulleted list.
func (w *Writer) List(items []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range items {
		fmt.Fprintln(w.out, "  • "+item)
	}
}

// Markdown renders md. Rendering failures fall back to the raw text.
func (w *Writer) Markdown(md string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.markdown == nil {
		fmt.Fprintln(w.out, md)
		return nil
	}
	rendered, err := w.markdown.Render(md)
	if err != nil {
		fmt.Fprintln(w.out, md)
		return err
	}
	fmt.Fprint(w.out, rendered)
	return nil
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 100
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width == 0 {
		return 100
	}
	return min(width, 120)
}
