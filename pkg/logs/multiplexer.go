package logs

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/smallnest/chanx"
	"golang.org/x/time/rate"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/session"
)

const (
	defaultBatchSize     = 128
	initialQueueCapacity = 256
)

// Sink receives batches of records in acceptance order per source.
type Sink interface {
	Write(ctx context.Context, batch []Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []Record) error

func (f SinkFunc) Write(ctx context.Context, batch []Record) error {
	return f(ctx, batch)
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithMinLevel sets the lowest level that reaches the sink. Default info.
func WithMinLevel(level Level) Option {
	return func(m *Multiplexer) {
		m.minLevel = level
	}
}

// WithScope threads logging and metrics into the multiplexer.
func WithScope(scope *observability.Scope) Option {
	return func(m *Multiplexer) {
		if scope != nil {
			m.scope = scope
		}
	}
}

// WithBatchSize bounds how many records one sink write carries.
func WithBatchSize(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithRetry replaces the retry policy for failed sink writes. It is called
// once per batch.
func WithRetry(policy func() backoff.BackOff) Option {
	return func(m *Multiplexer) {
		if policy != nil {
			m.retry = policy
		}
	}
}

func defaultRetry() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.1),
		backoff.WithMaxElapsedTime(5*time.Second),
	)
}

type streamKey struct {
	instance string
	source   Source
}

// attachment holds one instance's listeners. Listener sets are per
// instance so detaching one never touches another.
type attachment struct {
	cancels  map[Source]func()
	readers  []io.Reader
	detached atomic.Bool
}

// queued is a record, or a flush marker when done is set.
type queued struct {
	rec  Record
	done chan struct{}
}

// Multiplexer tags, filters and forwards log records to one sink. Accepting
// a record never blocks on the sink: records go through an unbounded queue
// drained by a single writer goroutine.
type Multiplexer struct {
	sink      Sink
	scope     *observability.Scope
	minLevel  Level
	batchSize int
	retry     func() backoff.BackOff

	lifetime context.Context
	cancel   context.CancelFunc
	queue    *chanx.UnboundedChan[queued]
	done     chan struct{}

	// acceptMu orders sequence assignment with enqueueing and guards closed.
	acceptMu sync.Mutex
	closed   bool
	seqs     map[streamKey]uint64

	mu          sync.Mutex
	attachments map[string]*attachment
	warnings    map[streamKey]*rate.Sometimes

	lost    atomic.Uint64
	errOnce sync.Once
	sinkErr error
}

// New starts a multiplexer writing to sink.
func New(sink Sink, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		sink:        sink,
		minLevel:    LevelInfo,
		batchSize:   defaultBatchSize,
		retry:       defaultRetry,
		seqs:        make(map[streamKey]uint64),
		attachments: make(map[string]*attachment),
		warnings:    make(map[streamKey]*rate.Sometimes),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.scope = m.scope.OrDefault()
	m.lifetime, m.cancel = context.WithCancel(context.Background())
	m.queue = chanx.NewUnboundedChan[queued](m.lifetime, initialQueueCapacity)
	go m.run()
	return m
}

// MinLevel returns the configured filter level.
func (m *Multiplexer) MinLevel() Level {
	return m.minLevel
}

// Accept filters and enqueues one record, stamping Time and Seq. It
// reports whether the record was queued.
func (m *Multiplexer) Accept(rec Record) bool {
	if rec.Level < m.minLevel {
		m.count(rec.Source, "filtered")
		return false
	}
	m.acceptMu.Lock()
	defer m.acceptMu.Unlock()
	if m.closed {
		m.count(rec.Source, "dropped")
		return false
	}
	key := streamKey{instance: rec.Instance, source: rec.Source}
	m.seqs[key]++
	rec.Seq = m.seqs[key]
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	m.queue.In <- queued{rec: rec}
	m.count(rec.Source, "accepted")
	return true
}

// Attach subscribes both streams of h. Each source attaches on its own;
// failures come back as *CaptureError values joined together and are
// logged once per source.
func (m *Multiplexer) Attach(ctx context.Context, h *session.Handle) error {
	instance := h.InstanceID
	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		return ErrClosed
	}
	a := m.attachmentLocked(instance)
	m.mu.Unlock()

	var errs []error
	for _, source := range []Source{SourceBackend, SourceFrontend} {
		script := ""
		if source == SourceFrontend {
			script = FrontendCaptureScript
		}
		src := source
		cancel, err := h.Subscribe(ctx, string(source), script, func(w session.WireLog) {
			if a.detached.Load() {
				return
			}
			m.acceptWire(instance, src, w)
		})
		if err != nil {
			cerr := &CaptureError{Instance: instance, Source: source, Err: err}
			m.warnOnce(cerr)
			errs = append(errs, cerr)
			continue
		}
		m.mu.Lock()
		if prev := a.cancels[source]; prev != nil {
			prev()
		}
		a.cancels[source] = cancel
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

// AttachReader feeds native process output from r as backend records of
// instance until EOF or Detach. Lines are parsed by ParseBackendLine.
func (m *Multiplexer) AttachReader(instance string, r io.Reader) error {
	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		return ErrClosed
	}
	a := m.attachmentLocked(instance)
	a.readers = append(a.readers, r)
	m.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if a.detached.Load() {
				return
			}
			line, _ := ParseBackendLine(scanner.Text())
			if line.Message == "" {
				continue
			}
			m.Accept(Record{
				Source:     SourceBackend,
				Instance:   instance,
				Level:      line.Level,
				RemoteTime: line.Time,
				Message:    line.Message,
			})
		}
		if err := scanner.Err(); err != nil && !a.detached.Load() {
			m.warnOnce(&CaptureError{Instance: instance, Source: SourceBackend, Err: err})
		}
	}()
	return nil
}

// Detach removes only instance's listeners. Records already accepted still
// reach the sink.
func (m *Multiplexer) Detach(instance string) {
	m.mu.Lock()
	a, ok := m.attachments[instance]
	delete(m.attachments, instance)
	m.mu.Unlock()
	if !ok {
		return
	}
	a.detached.Store(true)
	for _, cancel := range a.cancels {
		cancel()
	}
	for _, r := range a.readers {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Attached lists instances with live listeners.
func (m *Multiplexer) Attached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.attachments))
	for name := range m.attachments {
		out = append(out, name)
	}
	return out
}

// Flush blocks until every record accepted before the call reached the
// sink, or the sink gave up on it.
func (m *Multiplexer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	m.acceptMu.Lock()
	if m.closed {
		m.acceptMu.Unlock()
		select {
		case <-m.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.queue.In <- queued{done: done}
	m.acceptMu.Unlock()

	select {
	case <-done:
		return nil
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lost reports records the sink never accepted.
func (m *Multiplexer) Lost() uint64 {
	return m.lost.Load()
}

// Err returns the first sink failure, as a *SinkError, or nil.
func (m *Multiplexer) Err() error {
	m.acceptMu.Lock()
	defer m.acceptMu.Unlock()
	return m.sinkErrLocked()
}

// Close detaches every instance, drains the queue into the sink and stops
// the writer. It returns the surfaced sink failure, if any.
func (m *Multiplexer) Close(ctx context.Context) error {
	m.mu.Lock()
	instances := make([]string, 0, len(m.attachments))
	for name := range m.attachments {
		instances = append(instances, name)
	}
	m.mu.Unlock()
	for _, name := range instances {
		m.Detach(name)
	}

	m.acceptMu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue.In)
	}
	m.acceptMu.Unlock()

	select {
	case <-m.done:
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
	m.cancel()
	return m.Err()
}

func (m *Multiplexer) run() {
	defer close(m.done)
	batch := make([]Record, 0, m.batchSize)
	var markers []chan struct{}

	for item := range m.queue.Out {
		m.collect(item, &batch, &markers)
	drain:
		for len(batch) < m.batchSize {
			select {
			case next, ok := <-m.queue.Out:
				if !ok {
					break drain
				}
				m.collect(next, &batch, &markers)
			default:
				break drain
			}
		}
		if len(batch) > 0 {
			m.write(batch)
			batch = batch[:0]
		}
		for _, done := range markers {
			close(done)
		}
		markers = markers[:0]
	}
}

func (m *Multiplexer) collect(item queued, batch *[]Record, markers *[]chan struct{}) {
	if item.done != nil {
		*markers = append(*markers, item.done)
		return
	}
	*batch = append(*batch, item.rec)
}

// write hands a batch to the sink with retries. A batch that still fails
// is counted lost; only the first failure is logged.
func (m *Multiplexer) write(batch []Record) {
	out := make([]Record, len(batch))
	copy(out, batch)

	attempt := func() error {
		return m.sink.Write(m.lifetime, out)
	}
	notify := func(err error, wait time.Duration) {
		m.scope.Logger.Debug("log sink write failed, retrying", "error", err, "backoff", wait)
	}
	err := backoff.RetryNotify(attempt, backoff.WithContext(m.retry(), m.lifetime), notify)
	if err == nil {
		for _, rec := range out {
			m.count(rec.Source, "written")
		}
		return
	}

	m.lost.Add(uint64(len(out)))
	for _, rec := range out {
		m.count(rec.Source, "lost")
	}
	m.errOnce.Do(func() {
		m.acceptMu.Lock()
		m.sinkErr = err
		m.acceptMu.Unlock()
		m.scope.Logger.Error("log sink failed; records are being dropped", "error", err, "batch", len(out))
	})
}

func (m *Multiplexer) sinkErrLocked() error {
	if m.sinkErr == nil {
		return nil
	}
	return &SinkError{Lost: m.lost.Load(), Err: m.sinkErr}
}

func (m *Multiplexer) acceptWire(instance string, source Source, w session.WireLog) {
	level, _ := ParseLevel(w.Level)
	rec := Record{Source: source, Instance: instance, Level: level, Message: w.Message}
	if w.Timestamp > 0 {
		rec.RemoteTime = time.UnixMilli(w.Timestamp)
	}
	m.Accept(rec)
}

// warnOnce logs a capture failure the first time it happens for its
// (instance, source) pair.
func (m *Multiplexer) warnOnce(err *CaptureError) {
	key := streamKey{instance: err.Instance, source: err.Source}
	m.mu.Lock()
	s, ok := m.warnings[key]
	if !ok {
		s = &rate.Sometimes{First: 1}
		m.warnings[key] = s
	}
	m.mu.Unlock()
	s.Do(func() {
		m.scope.Logger.WithInstance(err.Instance).Warn("log capture unavailable",
			"source", string(err.Source), "error", err.Err)
	})
}

func (m *Multiplexer) attachmentLocked(instance string) *attachment {
	a, ok := m.attachments[instance]
	if !ok {
		a = &attachment{cancels: make(map[Source]func())}
		m.attachments[instance] = a
	}
	return a
}

func (m *Multiplexer) isClosed() bool {
	m.acceptMu.Lock()
	defer m.acceptMu.Unlock()
	return m.closed
}

func (m *Multiplexer) count(source Source, disposition string) {
	m.scope.Metrics.LogRecords.WithLabelValues(string(source), disposition).Inc()
}
