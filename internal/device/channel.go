// Package device abstracts the byte-oriented serial device behind the
// Channel contract: non-blocking reads, queued writes, and an explicit
// reconnect after the device is lost.
//
// Two implementations are provided: Serial drives a Linux tty through
// termios, and Loopback is an in-memory echo device used for -loopback
// sessions and tests.
package device

import "github.com/Mr-Dark-debug/sermon/internal/config"

// Channel is a duplex byte channel to one device.
//
// None of the methods block on device I/O. Readable is signalled when
// PollRead has data or a persistent error to report; the signal may be
// coalesced, so the reader drains PollRead until it returns nothing.
type Channel interface {
	// Name is the device path or a descriptive label.
	Name() string
	// Readable returns a capacity-1 notification channel.
	Readable() <-chan struct{}
	// PollRead returns newly received bytes, or nil when nothing is
	// pending. After a device failure it returns an *IOError.
	PollRead() ([]byte, error)
	// EnqueueWrite queues b for transmission. A full queue rejects the
	// write with ErrWriteOverflow.
	EnqueueWrite(b []byte) error
	// Reconnect re-runs open with the original configuration.
	Reconnect() error
	// Close drains queued writes within the configured grace period and
	// releases the device.
	Close() error
}

// maxPollChunk bounds how many bytes one PollRead hands out so a flood
// of input cannot monopolise a coordinator iteration.
const maxPollChunk = 4 * 1024

// Open opens the channel described by cfg: the loopback device when
// cfg.Loopback is set, the serial port otherwise.
func Open(cfg config.Config) (Channel, error) {
	if cfg.Loopback {
		return NewLoopback("loopback", cfg.WriteQueueSize), nil
	}
	return openSerial(cfg)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
