//go:build linux

package device

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Mr-Dark-debug/sermon/internal/config"
)

// cmspar selects mark/space parity; not every x/sys arch exports it.
const cmspar = 0x40000000

var baudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

var dataBitFlags = map[int]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}

// ============================================================
// Serial
// ============================================================

// Serial is a Channel backed by a Linux tty. Each successful open
// creates a conn with its own reader and writer goroutines; Reconnect
// replaces the conn while the Readable channel stays the same.
type Serial struct {
	cfg      config.Config
	readable chan struct{}

	mu     sync.Mutex
	conn   *conn
	lost   error // set when a reconnect attempt failed
	closed bool
}

// OpenSerial opens and configures cfg.Port. Failures are *PortError.
func OpenSerial(cfg config.Config) (*Serial, error) {
	s := &Serial{cfg: cfg, readable: make(chan struct{}, 1)}
	c, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.conn = c
	log.Printf("[INFO] Opened %s at %d baud (%s)", cfg.Port, cfg.Baud, cfg.Format)
	return s, nil
}

func openSerial(cfg config.Config) (Channel, error) {
	s, err := OpenSerial(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Serial) Name() string { return s.cfg.Port }

func (s *Serial) Readable() <-chan struct{} { return s.readable }

func (s *Serial) current() (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.conn == nil {
		return nil, s.lost
	}
	return s.conn, nil
}

// PollRead returns buffered input without blocking.
func (s *Serial) PollRead() ([]byte, error) {
	c, err := s.current()
	if c == nil {
		return nil, err
	}
	return c.poll()
}

// EnqueueWrite hands b to the writer goroutine.
func (s *Serial) EnqueueWrite(b []byte) error {
	c, err := s.current()
	if c == nil {
		return err
	}
	return c.enqueue(b)
}

// Reconnect drops the current connection, discarding queued writes, and
// opens the port again with the original configuration.
func (s *Serial) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		s.conn.close(0)
		s.conn = nil
	}
	c, err := s.dial()
	if err != nil {
		s.lost = &IOError{Op: "reconnect", Path: s.cfg.Port, Err: err}
		return err
	}
	s.conn, s.lost = c, nil
	log.Printf("[INFO] Reconnected to %s", s.cfg.Port)
	return nil
}

// Close drains queued writes for up to cfg.ShutdownTimeout, then
// releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	c := s.conn
	already := s.closed
	s.conn, s.closed = nil, true
	s.mu.Unlock()

	if already || c == nil {
		return nil
	}
	return c.close(s.cfg.ShutdownTimeout)
}

func (s *Serial) dial() (*conn, error) {
	path := s.cfg.Port
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, portError(path, err)
	}
	if err := configure(fd, s.cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("creating wakeup pipe: %w", err)
	}

	readQueue := max(s.cfg.ReadQueueSize, 1)
	writeQueue := max(s.cfg.WriteQueueSize, 1)
	c := &conn{
		path:    path,
		fd:      fd,
		pipeR:   pipe[0],
		pipeW:   pipe[1],
		rx:      make(chan []byte, readQueue),
		tx:      make(chan []byte, writeQueue),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
		notify:  func() { notify(s.readable) },
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// configure puts fd into exclusive raw mode with the requested frame and
// discards any input that arrived before the port was opened.
func configure(fd int, cfg config.Config) error {
	path := cfg.Port
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		return portError(path, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return portError(path, err)
	}

	speed, ok := baudRates[cfg.Baud]
	if !ok {
		return &PortError{Kind: ConfigUnsupported, Path: path, Err: fmt.Errorf("baud rate %d", cfg.Baud)}
	}
	size, ok := dataBitFlags[cfg.Format.DataBits]
	if !ok {
		return &PortError{Kind: ConfigUnsupported, Path: path, Err: fmt.Errorf("data bits %d", cfg.Format.DataBits)}
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR |
		unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY | unix.INPCK
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | cmspar | unix.CBAUD
	t.Cflag |= unix.CLOCAL | unix.CREAD | size | speed
	t.Ispeed = speed
	t.Ospeed = speed

	switch cfg.Format.Parity {
	case config.ParityNone:
	case config.ParityEven:
		t.Cflag |= unix.PARENB
	case config.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case config.ParityMark:
		t.Cflag |= unix.PARENB | unix.PARODD | cmspar
	case config.ParitySpace:
		t.Cflag |= unix.PARENB | cmspar
	default:
		return &PortError{Kind: ConfigUnsupported, Path: path, Err: fmt.Errorf("parity %q", rune(cfg.Format.Parity))}
	}
	if cfg.Format.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}

	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return portError(path, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return portError(path, err)
	}
	return nil
}

// portError maps an errno from open or ioctl onto the PortError kinds.
func portError(path string, err error) error {
	kind := ConfigUnsupported
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		kind = NotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		kind = PermissionDenied
	case errors.Is(err, unix.EBUSY):
		kind = Busy
	}
	return &PortError{Kind: kind, Path: path, Err: err}
}

// ============================================================
// conn
// ============================================================

// conn is one open file descriptor and its I/O goroutines.
type conn struct {
	path         string
	fd           int
	pipeR, pipeW int // self-pipe that wakes both loops on close

	rx chan []byte
	tx chan []byte

	done    chan struct{}
	drained chan struct{}
	notify  func()
	wg      sync.WaitGroup

	mu        sync.Mutex
	closing   bool
	err       atomic.Pointer[IOError]
	closeOnce sync.Once
}

func (c *conn) killed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// fail records the first persistent error and wakes the coordinator.
func (c *conn) fail(op string, err error) {
	if c.killed() {
		return
	}
	ioErr := &IOError{Op: op, Path: c.path, Err: err}
	if c.err.CompareAndSwap(nil, ioErr) {
		log.Printf("[WARN] %s %s: %v", op, c.path, err)
	}
	c.notify()
}

// readLoop moves device input into rx. When rx is full it blocks, which
// leaves further input in the kernel buffer instead of growing memory.
func (c *conn) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, 4096)
	pfd := []unix.PollFd{
		{Fd: int32(c.fd), Events: unix.POLLIN},
		{Fd: int32(c.pipeR), Events: unix.POLLIN},
	}
	for {
		pfd[0].Revents, pfd[1].Revents = 0, 0
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.fail("poll", err)
			return
		}
		if pfd[1].Revents != 0 {
			return
		}

		if pfd[0].Revents&unix.POLLIN != 0 {
			n, err := unix.Read(c.fd, buf)
			switch {
			case n > 0:
				select {
				case c.rx <- bytes.Clone(buf[:n]):
					c.notify()
				case <-c.done:
					return
				}
				continue
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				continue
			case err != nil:
				c.fail("read", err)
				return
			default:
				c.fail("read", ErrHangup)
				return
			}
		}
		if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			c.fail("read", ErrHangup)
			return
		}
	}
}

// writeLoop drains tx in order. After a failure it keeps consuming tx
// without writing so Close never waits on a dead device.
func (c *conn) writeLoop() {
	defer c.wg.Done()
	defer close(c.drained)

	for b := range c.tx {
		if c.err.Load() != nil {
			continue
		}
		if err := c.writeAll(b); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.fail("write", err)
		}
	}
}

func (c *conn) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(c.fd, b)
		if n > 0 {
			b = b[n:]
			continue
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil && !errors.Is(err, unix.EAGAIN):
			return err
		}

		pfd := []unix.PollFd{
			{Fd: int32(c.fd), Events: unix.POLLOUT},
			{Fd: int32(c.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil && !errors.Is(err, unix.EINTR) {
			return err
		}
		if pfd[1].Revents != 0 {
			return ErrClosed
		}
		if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return ErrHangup
		}
	}
	return nil
}

func (c *conn) poll() ([]byte, error) {
	// Load the error first: it is only set after the reader has queued
	// everything it read, so draining afterwards cannot lose data.
	failed := c.err.Load()

	var out []byte
drain:
	for len(out) < maxPollChunk {
		select {
		case b := <-c.rx:
			out = append(out, b...)
		default:
			break drain
		}
	}
	if len(out) > 0 {
		if len(c.rx) > 0 || failed != nil {
			c.notify()
		}
		return out, nil
	}
	if failed != nil {
		return nil, failed
	}
	return nil, nil
}

func (c *conn) enqueue(b []byte) error {
	if failed := c.err.Load(); failed != nil {
		return failed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrClosed
	}
	select {
	case c.tx <- bytes.Clone(b):
		return nil
	default:
		return ErrWriteOverflow
	}
}

// close stops accepting writes, waits up to grace for the writer to
// drain, then wakes both loops and releases the descriptors.
func (c *conn) close(grace time.Duration) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		close(c.tx)
		c.mu.Unlock()

		if grace > 0 && c.err.Load() == nil {
			timer := time.NewTimer(grace)
			select {
			case <-c.drained:
			case <-timer.C:
				log.Printf("[WARN] %s: abandoning %d queued writes after %s", c.path, len(c.tx), grace)
			}
			timer.Stop()
		}

		close(c.done)
		unix.Write(c.pipeW, []byte{1})
		c.wg.Wait()

		err = unix.Close(c.fd)
		unix.Close(c.pipeR)
		unix.Close(c.pipeW)
	})
	return err
}
