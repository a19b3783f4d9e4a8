package sessionlog

import (
	"bufio"
	"fmt"
	"os"

	"github.com/Mr-Dark-debug/sermon/internal/decode"
	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/pkg/timeutil"
)

// fileBackend appends entries to a plain text file.
//
// Line format: an optional "[2006-01-02 15:04:05.000] " prefix, an
// "RX "/"TX " tag when both directions share the file, then the raw bytes
// or, in hex mode, space-separated hex pairs. Prefixed or hex entries end
// with a newline.
type fileBackend struct {
	path       string
	f          *os.File
	w          *bufio.Writer
	timestamps bool
	tagged     bool
	sources    [3]bool
	buf        []byte
}

func openFile(path string, timestamps, tagged bool, sources ...display.Source) (*fileBackend, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	fb := &fileBackend{
		path:       path,
		f:          f,
		w:          bufio.NewWriterSize(f, 64*1024),
		timestamps: timestamps,
		tagged:     tagged,
	}
	for _, s := range sources {
		fb.sources[s] = true
	}
	return fb, nil
}

func (fb *fileBackend) Name() string { return fb.path }

func (fb *fileBackend) Accepts(src display.Source) bool {
	return int(src) < len(fb.sources) && fb.sources[src]
}

func (fb *fileBackend) Append(e Entry) error {
	fb.buf = formatEntry(fb.buf[:0], e, fb.timestamps, fb.tagged)
	_, err := fb.w.Write(fb.buf)
	return err
}

func (fb *fileBackend) Flush() error {
	return fb.w.Flush()
}

// Close flushes, syncs and closes the file.
func (fb *fileBackend) Close() error {
	err := fb.w.Flush()
	if serr := fb.f.Sync(); err == nil {
		err = serr
	}
	if cerr := fb.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func formatEntry(b []byte, e Entry, timestamps, tagged bool) []byte {
	framed := timestamps || tagged || e.Hex
	if timestamps {
		b = append(b, '[')
		b = timeutil.AppendTimestampFull(b, e.Time)
		b = append(b, "] "...)
	}
	if tagged {
		b = append(b, e.Source.String()...)
		b = append(b, ' ')
	}
	if e.Hex {
		b = append(b, decode.HexBytes(e.Data)...)
	} else {
		b = append(b, e.Data...)
	}
	if framed && (len(b) == 0 || b[len(b)-1] != '\n') {
		b = append(b, '\n')
	}
	return b
}
