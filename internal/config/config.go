// Package config holds the resolved session configuration consumed by the
// sermon core. The command layer fills a Config from flags; everything
// below it only reads the struct.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Line Ending
// ============================================================

// LineEnding is the byte sequence that terminates a line, both for
// splitting received text and for encoding transmitted lines.
type LineEnding int

const (
	EndingNone LineEnding = iota
	EndingNL
	EndingCR
	EndingCRLF
)

// ParseLineEnding accepts none, nl, cr and crlf (case-insensitive).
func ParseLineEnding(s string) (LineEnding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return EndingNone, nil
	case "nl", "lf":
		return EndingNL, nil
	case "cr":
		return EndingCR, nil
	case "crlf":
		return EndingCRLF, nil
	default:
		return EndingNone, fmt.Errorf("unknown line ending %q (want none, nl, cr or crlf)", s)
	}
}

// Bytes returns the terminator sequence, nil for EndingNone.
func (e LineEnding) Bytes() []byte {
	switch e {
	case EndingNL:
		return []byte{'\n'}
	case EndingCR:
		return []byte{'\r'}
	case EndingCRLF:
		return []byte{'\r', '\n'}
	default:
		return nil
	}
}

func (e LineEnding) String() string {
	switch e {
	case EndingNL:
		return "nl"
	case EndingCR:
		return "cr"
	case EndingCRLF:
		return "crlf"
	default:
		return "none"
	}
}

// Describe is the human form shown in the startup banner and status line.
func (e LineEnding) Describe() string {
	switch e {
	case EndingNL:
		return `LF (\n)`
	case EndingCR:
		return `CR (\r)`
	case EndingCRLF:
		return `CRLF (\r\n)`
	default:
		return "None"
	}
}

// Encode appends the line ending to text.
func (e LineEnding) Encode(text string) []byte {
	out := make([]byte, 0, len(text)+2)
	out = append(out, text...)
	return append(out, e.Bytes()...)
}

// ============================================================
// Display Mode
// ============================================================

// Mode selects how received bytes are decoded for display.
type Mode int

const (
	ModeText Mode = iota
	ModeHex
)

func (m Mode) String() string {
	if m == ModeHex {
		return "hex"
	}
	return "text"
}

// ============================================================
// Frame Format
// ============================================================

// Parity of a serial character frame.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityEven  Parity = 'E'
	ParityOdd   Parity = 'O'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

// Format is the character frame, written as e.g. "8N1".
type Format struct {
	DataBits int    `json:"data_bits"`
	Parity   Parity `json:"parity"`
	StopBits int    `json:"stop_bits"`
}

// ParseFormat parses strings such as "8N1" or "7E2".
func ParseFormat(s string) (Format, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return Format{}, fmt.Errorf("invalid frame format %q (want e.g. 8N1)", s)
	}
	f := Format{
		DataBits: int(s[0] - '0'),
		Parity:   Parity(s[1]),
		StopBits: int(s[2] - '0'),
	}
	if err := f.Validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

// Validate checks the frame against what a UART can express.
func (f Format) Validate() error {
	if f.DataBits < 5 || f.DataBits > 8 {
		return fmt.Errorf("invalid data bits %d (must be 5..8)", f.DataBits)
	}
	switch f.Parity {
	case ParityNone, ParityEven, ParityOdd, ParityMark, ParitySpace:
	default:
		return fmt.Errorf("invalid parity %q (must be N, E, O, M or S)", rune(f.Parity))
	}
	if f.StopBits != 1 && f.StopBits != 2 {
		return fmt.Errorf("invalid stop bits %d (must be 1 or 2)", f.StopBits)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%d%c%d", f.DataBits, f.Parity, f.StopBits)
}

// ============================================================
// Config
// ============================================================

// Config is the resolved configuration for one console session.
type Config struct {
	// Port is the device path. Empty means "ask the user".
	Port   string `json:"port"`
	Baud   int    `json:"baud"`
	Format Format `json:"format"`

	LineEnding LineEnding `json:"line_ending"`
	Mode       Mode       `json:"mode"`

	// RxLogPath and TxLogPath may name the same file, in which case
	// both directions share one sink and every entry is tagged.
	RxLogPath     string `json:"rx_log_path"`
	TxLogPath     string `json:"tx_log_path"`
	LogTimestamps bool   `json:"log_timestamps"`

	// ArchivePath is an optional SQLite file recording the session.
	ArchivePath string `json:"archive_path"`

	ScrollbackSize int `json:"scrollback_size"`
	HistorySize    int `json:"history_size"`
	WriteQueueSize int `json:"write_queue_size"`
	ReadQueueSize  int `json:"read_queue_size"`
	MaxLineBytes   int `json:"max_line_bytes"`
	LogQueueSize   int `json:"log_queue_size"`

	TickInterval      time.Duration `json:"tick_interval"`
	IdleFlush         time.Duration `json:"idle_flush"`
	ReconnectInterval time.Duration `json:"reconnect_interval"`
	LogFlushInterval  time.Duration `json:"log_flush_interval"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`

	// MetricsAddr enables the HTTP metrics endpoint when non-empty.
	MetricsAddr  string `json:"metrics_addr"`
	DebugLogPath string `json:"debug_log_path"`

	// Loopback replaces the serial device with an in-memory echo channel.
	Loopback bool `json:"loopback"`
}

// DefaultConfig returns the defaults used when no flag overrides a field.
func DefaultConfig() Config {
	return Config{
		Baud:              115200,
		Format:            Format{DataBits: 8, Parity: ParityNone, StopBits: 1},
		LineEnding:        EndingNL,
		Mode:              ModeText,
		ScrollbackSize:    10000,
		HistorySize:       100,
		WriteQueueSize:    64,
		ReadQueueSize:     256,
		MaxLineBytes:      4096,
		LogQueueSize:      4096,
		TickInterval:      33 * time.Millisecond,
		IdleFlush:         200 * time.Millisecond,
		ReconnectInterval: 2 * time.Second,
		LogFlushInterval:  500 * time.Millisecond,
		ShutdownTimeout:   2 * time.Second,
	}
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("baud must be positive, got %d", c.Baud))
	}
	if err := c.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	positive := []struct {
		name string
		v    int
	}{
		{"scrollback", c.ScrollbackSize},
		{"history", c.HistorySize},
		{"write queue", c.WriteQueueSize},
		{"read queue", c.ReadQueueSize},
		{"max line bytes", c.MaxLineBytes},
		{"log queue", c.LogQueueSize},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s size must be positive, got %d", p.name, p.v))
		}
	}
	durations := []struct {
		name string
		v    time.Duration
	}{
		{"tick interval", c.TickInterval},
		{"idle flush", c.IdleFlush},
		{"log flush interval", c.LogFlushInterval},
		{"shutdown timeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.v))
		}
	}
	if c.ReconnectInterval < 0 {
		errs = append(errs, fmt.Errorf("reconnect interval must not be negative, got %s", c.ReconnectInterval))
	}
	return errors.Join(errs...)
}

// SharedLog reports whether RX and TX are logged to the same file.
func (c Config) SharedLog() bool {
	return c.RxLogPath != "" && c.RxLogPath == c.TxLogPath
}
