package device

import (
	"errors"
	"sync"
)

// ErrUnplugged is the cause carried by a Loopback's IOError.
var ErrUnplugged = errors.New("device unplugged")

// Loopback is an in-memory Channel that echoes every accepted write back
// as received data, like a serial adapter with TX wired to RX. It can
// also inject device output, simulate unplug and replug, and stall its
// outbound queue so overflow can be exercised.
type Loopback struct {
	name     string
	readable chan struct{}
	queueCap int

	mu       sync.Mutex
	rx       []byte
	stalled  bool
	queued   [][]byte
	sent     []byte
	plugged  bool
	failure  *IOError
	closed   bool
	reopened int
}

// NewLoopback creates a plugged-in loopback whose outbound queue holds
// queueCap writes while stalled.
func NewLoopback(name string, queueCap int) *Loopback {
	return &Loopback{
		name:     name,
		readable: make(chan struct{}, 1),
		queueCap: max(queueCap, 1),
		plugged:  true,
	}
}

func (l *Loopback) Name() string { return l.name }

func (l *Loopback) Readable() <-chan struct{} { return l.readable }

func (l *Loopback) PollRead() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if len(l.rx) > 0 {
		n := min(len(l.rx), maxPollChunk)
		out := append([]byte(nil), l.rx[:n]...)
		l.rx = l.rx[n:]
		if len(l.rx) > 0 || l.failure != nil {
			notify(l.readable)
		}
		return out, nil
	}
	if l.failure != nil {
		return nil, l.failure
	}
	return nil, nil
}

func (l *Loopback) EnqueueWrite(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.closed:
		return ErrClosed
	case l.failure != nil:
		return l.failure
	case l.stalled:
		if len(l.queued) >= l.queueCap {
			return ErrWriteOverflow
		}
		l.queued = append(l.queued, append([]byte(nil), b...))
		return nil
	}
	l.deliver(b)
	return nil
}

// deliver transmits b; with TX looped to RX it is received straight back.
func (l *Loopback) deliver(b []byte) {
	l.sent = append(l.sent, b...)
	l.rx = append(l.rx, b...)
	if len(b) > 0 {
		notify(l.readable)
	}
}

func (l *Loopback) Reconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if !l.plugged {
		return &PortError{Kind: NotFound, Path: l.name, Err: ErrUnplugged}
	}
	l.failure = nil
	l.rx = nil
	l.queued = nil
	l.reopened++
	return nil
}

// Close transmits any stalled writes, then closes.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if l.failure == nil {
		for _, b := range l.queued {
			l.sent = append(l.sent, b...)
		}
	}
	l.queued = nil
	l.closed = true
	return nil
}

// Inject makes b appear as device output.
func (l *Loopback) Inject(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.failure != nil {
		return
	}
	l.rx = append(l.rx, b...)
	notify(l.readable)
}

// Unplug simulates the device disappearing: pending writes are lost and
// the channel reports a persistent IOError until Plug and Reconnect.
func (l *Loopback) Unplug() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plugged = false
	l.queued = nil
	l.failure = &IOError{Op: "read", Path: l.name, Err: ErrUnplugged}
	notify(l.readable)
}

// Plug makes the device available again. The channel stays failed until
// Reconnect is called.
func (l *Loopback) Plug() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.plugged = true
}

// Stall stops draining the outbound queue.
func (l *Loopback) Stall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stalled = true
}

// Resume drains stalled writes in order and echoes them.
func (l *Loopback) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stalled = false
	for _, b := range l.queued {
		l.deliver(b)
	}
	l.queued = nil
}

// Sent returns every byte transmitted so far.
func (l *Loopback) Sent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.sent...)
}

// Reopened counts successful Reconnect calls.
func (l *Loopback) Reopened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reopened
}
