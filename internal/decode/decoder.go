// Package decode turns raw byte chunks into display records.
//
// Text mode splits on the configured line ending and holds unterminated
// bytes per source until a terminator, an idle flush or a shutdown flush.
// Hex mode emits 16-byte rows labelled with a running byte offset.
// Decoding never fails; any byte sequence has a representation.
package decode

import (
	"bytes"
	"time"
	"unicode/utf8"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/display"
)

// pending is the per-source state carried between Feed calls.
type pending struct {
	buf       []byte
	last      time.Time // arrival of the newest pending byte
	continued bool      // next text record continues a partial one
	offset    int64     // hex offset of buf[0]
}

// Decoder holds per-source partial state. It is not safe for concurrent
// use; the coordinator is its only caller.
type Decoder struct {
	mode    config.Mode
	ending  config.LineEnding
	term    []byte
	maxLine int
	idle    time.Duration

	sources [2]pending // indexed by display.RX and display.TX
}

// New creates a decoder. maxLine bounds how many unterminated bytes a
// source may hold before they are emitted as a partial record.
func New(mode config.Mode, ending config.LineEnding, maxLine int, idle time.Duration) *Decoder {
	if maxLine <= 0 {
		maxLine = 4096
	}
	return &Decoder{
		mode:    mode,
		ending:  ending,
		term:    ending.Bytes(),
		maxLine: maxLine,
		idle:    idle,
	}
}

// Mode returns the active display mode.
func (d *Decoder) Mode() config.Mode { return d.mode }

// Pending returns the number of buffered bytes for src.
func (d *Decoder) Pending(src display.Source) int {
	p := d.state(src)
	if p == nil {
		return 0
	}
	return len(p.buf)
}

func (d *Decoder) state(src display.Source) *pending {
	if src != display.RX && src != display.TX {
		return nil
	}
	return &d.sources[src]
}

// Feed decodes data from src that arrived at the given time and returns
// any records it completes.
func (d *Decoder) Feed(data []byte, src display.Source, at time.Time) []display.Record {
	p := d.state(src)
	if p == nil || len(data) == 0 {
		return nil
	}
	p.buf = append(p.buf, data...)
	p.last = at

	if d.mode == config.ModeHex {
		return d.hexRows(p, src, at, false)
	}
	return d.textLines(p, src, at)
}

// FlushIdle emits the pending bytes of every source that has been quiet
// for at least the idle interval.
func (d *Decoder) FlushIdle(now time.Time) []display.Record {
	var out []display.Record
	for i := range d.sources {
		p := &d.sources[i]
		if len(p.buf) > 0 && now.Sub(p.last) >= d.idle {
			out = append(out, d.flush(p, display.Source(i), p.last)...)
		}
	}
	return out
}

// FlushSource emits whatever src has pending, regardless of idle time.
func (d *Decoder) FlushSource(src display.Source, at time.Time) []display.Record {
	p := d.state(src)
	if p == nil || len(p.buf) == 0 {
		return nil
	}
	return d.flush(p, src, at)
}

// Flush emits all pending bytes of all sources. Used at shutdown and on
// disconnect so partial data is never silently dropped.
func (d *Decoder) Flush(at time.Time) []display.Record {
	var out []display.Record
	for i := range d.sources {
		out = append(out, d.FlushSource(display.Source(i), at)...)
	}
	return out
}

// SetMode flushes pending state under the old mode, then switches.
func (d *Decoder) SetMode(mode config.Mode, at time.Time) []display.Record {
	if mode == d.mode {
		return nil
	}
	out := d.Flush(at)
	d.mode = mode
	return out
}

func (d *Decoder) flush(p *pending, src display.Source, at time.Time) []display.Record {
	if d.mode == config.ModeHex {
		return d.hexRows(p, src, at, true)
	}
	rec := d.textRecord(p, src, at, p.buf, true)
	p.buf = p.buf[:0]
	return []display.Record{rec}
}

// ============================================================
// Text Mode
// ============================================================

func (d *Decoder) textLines(p *pending, src display.Source, at time.Time) []display.Record {
	var out []display.Record
	rest := p.buf

	if len(d.term) > 0 {
		for {
			idx := bytes.Index(rest, d.term)
			if idx < 0 {
				break
			}
			out = append(out, d.textRecord(p, src, at, rest[:idx], false))
			rest = rest[idx+len(d.term):]
		}
	}

	for len(rest) >= d.maxLine {
		cut := splitPoint(rest, d.maxLine)
		out = append(out, d.textRecord(p, src, at, rest[:cut], true))
		rest = rest[cut:]
	}

	p.buf = append(p.buf[:0], rest...)
	return out
}

// textRecord copies line out of the pending buffer into a new record and
// advances the continuation flag.
func (d *Decoder) textRecord(p *pending, src display.Source, at time.Time, line []byte, partial bool) display.Record {
	raw := bytes.Clone(line)
	shown := raw
	if d.ending == config.EndingNL && !partial {
		shown = bytes.TrimSuffix(shown, []byte{'\r'})
	}
	rec := display.Record{
		Source:    src,
		Kind:      display.KindText,
		Time:      at,
		Text:      Escape(shown),
		Raw:       raw,
		Partial:   partial,
		Continued: p.continued,
	}
	p.continued = partial
	return rec
}

// splitPoint returns a cut at or slightly below max that does not split
// a UTF-8 sequence.
func splitPoint(b []byte, max int) int {
	if max >= len(b) {
		return max
	}
	for cut := max; cut > 0 && cut > max-utf8.UTFMax; cut-- {
		if utf8.RuneStart(b[cut]) {
			return cut
		}
	}
	return max
}

// ============================================================
// Hex Mode
// ============================================================

func (d *Decoder) hexRows(p *pending, src display.Source, at time.Time, final bool) []display.Record {
	var out []display.Record
	rest := p.buf
	for len(rest) >= display.HexRowWidth || (final && len(rest) > 0) {
		n := min(len(rest), display.HexRowWidth)
		row := bytes.Clone(rest[:n])
		out = append(out, display.Record{
			Source:  src,
			Kind:    display.KindHex,
			Time:    at,
			Text:    HexRow(p.offset, row),
			Raw:     row,
			Offset:  p.offset,
			Partial: n < display.HexRowWidth,
		})
		p.offset += int64(n)
		rest = rest[n:]
	}
	p.buf = append(p.buf[:0], rest...)
	return out
}
