// Package display defines the records shown in the scrollback pane.
//
// A Record is created once by the decoder (or the coordinator for
// status lines) and never mutated afterwards; the scrollback store,
// renderer and loggers all share the same value.
package display

import "time"

// Source tags where a record came from.
type Source int

const (
	RX Source = iota
	TX
	System
)

func (s Source) String() string {
	switch s {
	case RX:
		return "RX"
	case TX:
		return "TX"
	default:
		return "SYSTEM"
	}
}

// Kind distinguishes decoded text, hex rows and status lines.
type Kind int

const (
	KindText Kind = iota
	KindHex
	KindStatus
)

// HexRowWidth is the number of bytes in a full hex row.
const HexRowWidth = 16

// Record is one line of scrollback.
type Record struct {
	Source Source
	Kind   Kind
	Time   time.Time

	// Text is display-ready: control and invalid bytes are escaped
	// for text records, hex rows are fully formatted.
	Text string

	// Raw holds the exact bytes the record was decoded from,
	// excluding the line terminator.
	Raw []byte

	// Offset is the session byte offset of the first byte of a hex row.
	Offset int64

	// Partial is set when the record was flushed before a terminator
	// arrived; Continued marks the record that picks up after it.
	Partial   bool
	Continued bool
}

// Status builds a SYSTEM status record.
func Status(at time.Time, text string) Record {
	return Record{Source: System, Kind: KindStatus, Time: at, Text: text}
}

// Join reassembles the byte stream of consecutive text records from a
// single source, inserting sep after every record that was terminated.
func Join(records []Record, sep []byte) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, r.Raw...)
		if !r.Partial {
			out = append(out, sep...)
		}
	}
	return out
}
