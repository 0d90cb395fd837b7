package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// SpinnerFrames are the default animation frames.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a single status line while a launch or resolution runs.
// Off a terminal it draws nothing and only prints the final line.
type Spinner struct {
	out      io.Writer
	animate  bool
	interval time.Duration
	frames   []string

	mu      sync.Mutex
	message string
	started time.Time
	done    chan struct{}
	stopped chan struct{}

	frameStyle   lipgloss.Style
	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
}

// Spinner creates a spinner that writes to w's destination with w's styles.
func (w *Writer) Spinner(message string) *Spinner {
	return &Spinner{
		out:          w.out,
		animate:      w.color,
		interval:     80 * time.Millisecond,
		frames:       SpinnerFrames,
		message:      message,
		frameStyle:   w.infoStyle,
		successStyle: w.successStyle,
		errorStyle:   w.errorStyle,
	}
}

// SetMessage replaces the text shown next to the frame.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Start begins the animation. Calling Start twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	s.started = time.Now()
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	if !s.animate {
		close(s.stopped)
		return
	}
	go s.run(s.done, s.stopped)
}

func (s *Spinner) run(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := s.frames[i%len(s.frames)]
			msg := s.message
			elapsed := time.Since(s.started).Round(time.Second)
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r\033[K%s %s (%s)", s.frameStyle.Render(frame), msg, elapsed)
		}
	}
}

// Elapsed returns the time since Start.
func (s *Spinner) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Stop ends the animation and prints a success or failure line for err.
func (s *Spinner) Stop(err error) {
	s.mu.Lock()
	done, stopped := s.done, s.stopped
	s.done = nil
	msg := s.message
	s.mu.Unlock()
	if done == nil {
		return
	}
	close(done)
	<-stopped

	elapsed := s.Elapsed().Round(time.Millisecond)
	prefix := ""
	if s.animate {
		prefix = "\r\033[K"
	}
	if err != nil {
		fmt.Fprintf(s.out, "%s%s %s: %v\n", prefix, s.errorStyle.Render("✗"), msg, err)
		return
	}
	fmt.Fprintf(s.out, "%s%s %s (%s)\n", prefix, s.successStyle.Render("✓"), msg, elapsed)
}

// WithSpinner runs fn with a spinner active and reports its outcome.
func WithSpinner[T any](w *Writer, message string, fn func() (T, error)) (T, error) {
	s := w.Spinner(message)
	s.Start()
	result, err := fn()
	s.Stop(err)
	return result, err
}
