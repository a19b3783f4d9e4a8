package device

import (
	"errors"
	"fmt"
)

// PortErrorKind classifies why a port could not be opened.
type PortErrorKind int

const (
	NotFound PortErrorKind = iota + 1
	PermissionDenied
	Busy
	ConfigUnsupported
)

func (k PortErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case Busy:
		return "busy"
	case ConfigUnsupported:
		return "configuration unsupported"
	default:
		return "unknown"
	}
}

// PortError is returned by Open and Reconnect. It is fatal at startup.
type PortError struct {
	Kind PortErrorKind
	Path string
	Err  error
}

func (e *PortError) Error() string {
	if e.Path == "" {
		return "port " + e.Kind.String()
	}
	if e.Err == nil {
		return fmt.Sprintf("opening %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("opening %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// Is matches any PortError sentinel of the same kind, so callers can
// write errors.Is(err, device.ErrBusy).
func (e *PortError) Is(target error) bool {
	t, ok := target.(*PortError)
	return ok && t.Path == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &PortError{Kind: NotFound}
	ErrPermissionDenied  = &PortError{Kind: PermissionDenied}
	ErrBusy              = &PortError{Kind: Busy}
	ErrConfigUnsupported = &PortError{Kind: ConfigUnsupported}
)

// IOError is the persistent failure of an open channel, typically an
// unplugged device. Every PollRead and EnqueueWrite after it returns
// the same value until Reconnect succeeds.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

var (
	// ErrWriteOverflow rejects a write because the outbound queue is full.
	// The bytes are dropped and not retried.
	ErrWriteOverflow = errors.New("outbound queue full, write dropped")

	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("channel closed")

	// ErrHangup reports the device going away underneath an open channel.
	ErrHangup = errors.New("device hung up")
)

// IsIOError reports whether err is a persistent channel failure.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
