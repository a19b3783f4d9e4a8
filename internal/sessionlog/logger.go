// Package sessionlog records the raw RX and TX byte streams of a session to
// append-only sinks.
//
// Each sink has its own bounded queue drained by one goroutine, so disk
// latency never reaches the caller and entries reach a sink in the order
// they were recorded. A sink that fails is disabled with a single warning;
// the session carries on without it.
package sessionlog

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/display"
)

var (
	// ErrFlushTimeout is returned by FlushAndClose when a sink did not
	// finish within the timeout.
	ErrFlushTimeout = errors.New("sessionlog: flush timed out")
	// ErrQueueFull is the cause of a drop warning.
	ErrQueueFull = errors.New("log queue full")
)

// LogError describes a sink failure. The sink is disabled afterwards.
type LogError struct {
	Sink string
	Op   string
	Err  error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("log %s: %s: %v", e.Sink, e.Op, e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }

// Warning is a user-visible logging problem.
type Warning struct {
	Sink string
	Err  error
}

func (w Warning) String() string {
	if errors.Is(w.Err, ErrQueueFull) {
		return fmt.Sprintf("log %s: queue full, dropping entries", w.Sink)
	}
	return fmt.Sprintf("%v; logging to %s disabled", w.Err, w.Sink)
}

// Entry is one recorded chunk.
type Entry struct {
	Source display.Source
	Time   time.Time
	Data   []byte
	Hex    bool
}

// Backend is the storage behind one sink. Backends are only called from
// the sink's worker goroutine.
type Backend interface {
	Name() string
	// Accepts reports whether entries from src belong in this backend.
	Accepts(src display.Source) bool
	Append(e Entry) error
	Flush() error
	Close() error
}

// Options configures the file sinks.
type Options struct {
	RxPath        string
	TxPath        string
	Timestamps    bool
	QueueSize     int
	FlushInterval time.Duration
}

// OptionsFrom extracts logger options from the session configuration.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		RxPath:        cfg.RxLogPath,
		TxPath:        cfg.TxLogPath,
		Timestamps:    cfg.LogTimestamps,
		QueueSize:     cfg.LogQueueSize,
		FlushInterval: cfg.LogFlushInterval,
	}
}

// SinkStatus is a snapshot of one sink for the status line.
type SinkStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Written int64  `json:"written"`
	Dropped int64  `json:"dropped"`
}

// ============================================================
// Logger
// ============================================================

// Logger fans recorded entries out to its sinks. Record, SetHex and
// FlushAndClose must be called from a single goroutine.
type Logger struct {
	sinks    []*sink
	warnings chan Warning
	hex      bool
	closed   bool
	once     sync.Once
	closeErr error
}

// Open creates the file sinks named by opts plus one sink per extra
// backend. An unopenable file fails the whole call; nothing is left open.
func Open(opts Options, extra ...Backend) (*Logger, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}

	var backends []Backend
	closeAll := func() {
		for _, b := range backends {
			b.Close()
		}
	}

	switch {
	case opts.RxPath != "" && opts.RxPath == opts.TxPath:
		f, err := openFile(opts.RxPath, opts.Timestamps, true, display.RX, display.TX)
		if err != nil {
			return nil, err
		}
		backends = append(backends, f)
	default:
		if opts.RxPath != "" {
			f, err := openFile(opts.RxPath, opts.Timestamps, false, display.RX)
			if err != nil {
				return nil, err
			}
			backends = append(backends, f)
		}
		if opts.TxPath != "" {
			f, err := openFile(opts.TxPath, opts.Timestamps, false, display.TX)
			if err != nil {
				closeAll()
				return nil, err
			}
			backends = append(backends, f)
		}
	}

	l := &Logger{warnings: make(chan Warning, 16)}
	for _, b := range backends {
		l.sinks = append(l.sinks, newSink(b, opts.QueueSize, 0, l.warn))
		log.Printf("[INFO] Logging %s to %s", sourcesLabel(b), b.Name())
	}
	for _, b := range extra {
		l.sinks = append(l.sinks, newSink(b, opts.QueueSize, opts.FlushInterval, l.warn))
	}
	return l, nil
}

func sourcesLabel(b Backend) string {
	switch {
	case b.Accepts(display.RX) && b.Accepts(display.TX):
		return "RX+TX"
	case b.Accepts(display.TX):
		return "TX"
	default:
		return "RX"
	}
}

// Active reports whether any sink is configured.
func (l *Logger) Active() bool { return l != nil && len(l.sinks) > 0 }

// Warnings delivers sink warnings. It is never closed.
func (l *Logger) Warnings() <-chan Warning { return l.warnings }

// SetHex selects the hex rendering for entries recorded from now on.
func (l *Logger) SetHex(hex bool) { l.hex = hex }

// Record queues data for every sink accepting src. It never blocks.
func (l *Logger) Record(src display.Source, data []byte, at time.Time) {
	if l == nil || l.closed || len(data) == 0 {
		return
	}
	e := Entry{Source: src, Time: at, Data: append([]byte(nil), data...), Hex: l.hex}
	for _, s := range l.sinks {
		if s.backend.Accepts(src) {
			s.enqueue(e)
		}
	}
}

// Status returns a snapshot of every sink.
func (l *Logger) Status() []SinkStatus {
	if l == nil {
		return nil
	}
	out := make([]SinkStatus, len(l.sinks))
	for i, s := range l.sinks {
		out[i] = SinkStatus{
			Name:    s.backend.Name(),
			Enabled: !s.disabled.Load(),
			Written: s.written.Load(),
			Dropped: s.dropped.Load(),
		}
	}
	return out
}

// FlushAndClose stops accepting entries, waits for every sink to write,
// sync and close, and gives up after timeout. Only the first call does
// any work; later calls return the first result.
func (l *Logger) FlushAndClose(timeout time.Duration) error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		l.closed = true
		done := make(chan struct{})
		for _, s := range l.sinks {
			close(s.queue)
		}
		go func() {
			for _, s := range l.sinks {
				<-s.done
			}
			close(done)
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			log.Printf("[WARN] Session log flush exceeded %s", timeout)
			l.closeErr = ErrFlushTimeout
		}
	})
	return l.closeErr
}

func (l *Logger) warn(w Warning) {
	log.Printf("[WARN] %s", w)
	select {
	case l.warnings <- w:
	default:
	}
}

// ============================================================
// sink
// ============================================================

type sink struct {
	backend  Backend
	queue    chan Entry
	interval time.Duration // 0 flushes whenever the queue drains
	warn     func(Warning)
	done     chan struct{}

	disabled    atomic.Bool
	written     atomic.Int64
	dropped     atomic.Int64
	overflowing bool // producer side only
}

func newSink(b Backend, queueSize int, interval time.Duration, warn func(Warning)) *sink {
	s := &sink{
		backend:  b,
		queue:    make(chan Entry, queueSize),
		interval: interval,
		warn:     warn,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *sink) enqueue(e Entry) {
	if s.disabled.Load() {
		return
	}
	select {
	case s.queue <- e:
		s.overflowing = false
	default:
		s.dropped.Add(1)
		if !s.overflowing {
			s.overflowing = true
			s.warn(Warning{Sink: s.backend.Name(), Err: ErrQueueFull})
		}
	}
}

// fail disables the sink and reports err once.
func (s *sink) fail(op string, err error) {
	if s.disabled.Swap(true) {
		return
	}
	name := s.backend.Name()
	s.warn(Warning{Sink: name, Err: &LogError{Sink: name, Op: op, Err: err}})
}

// run is the sink's worker: it appends entries in queue order and
// flushes either when the queue drains or on the interval ticker.
func (s *sink) run() {
	defer close(s.done)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	dirty := false
	flush := func() {
		if !dirty || s.disabled.Load() {
			return
		}
		dirty = false
		if err := s.backend.Flush(); err != nil {
			s.fail("flush", err)
		}
	}

	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				flush()
				if err := s.backend.Close(); err != nil && !s.disabled.Load() {
					s.fail("close", err)
				}
				return
			}
			if s.disabled.Load() {
				continue
			}
			if err := s.backend.Append(e); err != nil {
				s.fail("write", err)
				continue
			}
			s.written.Add(1)
			dirty = true
			if s.interval == 0 && len(s.queue) == 0 {
				flush()
			}

		case <-tick:
			flush()
		}
	}
}
