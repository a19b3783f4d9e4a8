package sessionlog

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/pkg/timeutil"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestTimestampsIncreaseAndBytesAreUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.log")
	l, err := Open(Options{RxPath: path, Timestamps: true})
	require.NoError(t, err)

	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	l.Record(display.RX, []byte("temp=21.5\n"), t0)
	l.Record(display.RX, []byte("temp=21.6\n"), t0.Add(500*time.Millisecond))
	require.NoError(t, l.FlushAndClose(time.Second))

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var stamps []time.Time
	for i, want := range []string{"temp=21.5", "temp=21.6"} {
		line := lines[i]
		require.True(t, strings.HasPrefix(line, "["), line)
		end := strings.Index(line, "] ")
		require.Positive(t, end)
		ts, err := time.ParseInLocation(timeutil.FullLayout, line[1:end], time.Local)
		require.NoError(t, err)
		stamps = append(stamps, ts)
		assert.Equal(t, want, line[end+2:])
	}
	assert.True(t, stamps[1].After(stamps[0]), "timestamps strictly increase")
	assert.Equal(t, 500*time.Millisecond, stamps[1].Sub(stamps[0]))
}

func TestRawLogIsByteExact(t *testing.T) {
	dir := t.TempDir()
	rx := filepath.Join(dir, "rx.log")
	tx := filepath.Join(dir, "tx.log")
	l, err := Open(Options{RxPath: rx, TxPath: tx})
	require.NoError(t, err)

	now := time.Now()
	chunks := [][]byte{[]byte("par"), []byte("tial\r\nnext"), {0x00, 0xFF, '\n'}}
	for _, c := range chunks {
		l.Record(display.RX, c, now)
	}
	l.Record(display.TX, []byte("AT\r\n"), now)
	require.NoError(t, l.FlushAndClose(time.Second))

	got, err := os.ReadFile(rx)
	require.NoError(t, err)
	assert.Equal(t, "partial\r\nnext\x00\xff\n", string(got))

	got, err = os.ReadFile(tx)
	require.NoError(t, err)
	assert.Equal(t, "AT\r\n", string(got))
}

func TestSharedFileTagsDirectionAndHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	l, err := Open(Options{RxPath: path, TxPath: path})
	require.NoError(t, err)
	require.Len(t, l.Status(), 1, "one sink for a shared path")

	now := time.Now()
	l.Record(display.TX, []byte("ping\n"), now)
	l.Record(display.RX, []byte("pong"), now)
	l.SetHex(true)
	l.Record(display.RX, []byte{0xDE, 0xAD}, now)
	require.NoError(t, l.FlushAndClose(time.Second))

	assert.Equal(t, []string{"TX ping", "RX pong", "RX DE AD"}, readLines(t, path))
}

func TestAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	l, err := Open(Options{RxPath: path})
	require.NoError(t, err)
	l.Record(display.RX, []byte("new\n"), time.Now())
	require.NoError(t, l.FlushAndClose(time.Second))
	assert.Equal(t, []string{"old", "new"}, readLines(t, path))
}

func TestOpenFailsForUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	rx := filepath.Join(dir, "rx.log")
	_, err := Open(Options{RxPath: rx, TxPath: filepath.Join(dir, "missing", "tx.log")})
	require.Error(t, err)
}

// ============================================================
// Backend fakes
// ============================================================

type fakeBackend struct {
	name    string
	mu      sync.Mutex
	entries []Entry
	flushes int
	closed  bool
	failAt  int // first Append that fails, 0 never
	appends int
	gate    chan struct{}
}

func (f *fakeBackend) Name() string                { return f.name }
func (f *fakeBackend) Accepts(display.Source) bool { return true }

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) snapshot() ([]Entry, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, f.flushes, f.closed
}

func (f *fakeBackend) Append(e Entry) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.failAt > 0 && f.appends >= f.failAt {
		return errors.New("disk full")
	}
	f.entries = append(f.entries, e)
	return nil
}

func TestFailingSinkIsDisabledWithOneWarning(t *testing.T) {
	fb := &fakeBackend{name: "archive", failAt: 2}
	l, err := Open(Options{}, fb)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 5; i++ {
		l.Record(display.RX, []byte{byte('0' + i)}, now)
	}

	var w Warning
	select {
	case w = <-l.Warnings():
	case <-time.After(time.Second):
		t.Fatal("no warning")
	}
	var logErr *LogError
	require.ErrorAs(t, w.Err, &logErr)
	assert.Equal(t, "archive", logErr.Sink)
	assert.Contains(t, w.String(), "disabled")

	require.NoError(t, l.FlushAndClose(time.Second))
	select {
	case extra := <-l.Warnings():
		t.Fatalf("second warning: %v", extra)
	default:
	}

	entries, _, closed := fb.snapshot()
	assert.Len(t, entries, 1)
	assert.True(t, closed)
	assert.False(t, l.Status()[0].Enabled)
}

func TestOverflowWarnsOncePerEpisode(t *testing.T) {
	fb := &fakeBackend{name: "slow", gate: make(chan struct{})}
	l, err := Open(Options{QueueSize: 2}, fb)
	require.NoError(t, err)

	now := time.Now()
	// The worker takes the first entry and blocks in Append; two more fill
	// the queue and the rest are dropped under a single warning.
	l.Record(display.RX, []byte("a"), now)
	require.Eventually(t, func() bool { return len(l.sinks[0].queue) == 0 }, time.Second, time.Millisecond)
	for _, s := range []string{"b", "c", "d", "e", "f"} {
		l.Record(display.RX, []byte(s), now)
	}
	assert.Len(t, l.Warnings(), 1)
	assert.EqualValues(t, 3, l.Status()[0].Dropped)

	close(fb.gate)
	require.Eventually(t, func() bool { return len(l.sinks[0].queue) == 0 }, time.Second, time.Millisecond)
	l.Record(display.RX, []byte("g"), now)
	require.NoError(t, l.FlushAndClose(time.Second))

	w := <-l.Warnings()
	assert.ErrorIs(t, w.Err, ErrQueueFull)
	entries, _, _ := fb.snapshot()
	var got []string
	for _, e := range entries {
		got = append(got, string(e.Data))
	}
	assert.Equal(t, []string{"a", "b", "c", "g"}, got, "accepted entries keep their order")
}

func TestFlushAndCloseTimesOutOnHungSink(t *testing.T) {
	fb := &fakeBackend{name: "hung", gate: make(chan struct{})}
	defer close(fb.gate)
	l, err := Open(Options{}, fb)
	require.NoError(t, err)

	l.Record(display.TX, []byte("stuck"), time.Now())
	start := time.Now()
	assert.ErrorIs(t, l.FlushAndClose(50*time.Millisecond), ErrFlushTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// Closed loggers ignore new entries and keep the first result.
	l.Record(display.TX, []byte("late"), time.Now())
	assert.ErrorIs(t, l.FlushAndClose(time.Second), ErrFlushTimeout)
}

func TestIntervalSinkFlushesOnTicker(t *testing.T) {
	fb := &fakeBackend{name: "batched"}
	l, err := Open(Options{FlushInterval: 10 * time.Millisecond}, fb)
	require.NoError(t, err)

	l.Record(display.RX, []byte("x"), time.Now())
	require.Eventually(t, func() bool {
		_, flushes, _ := fb.snapshot()
		return flushes > 0
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, l.FlushAndClose(time.Second))
}

func TestNoSinks(t *testing.T) {
	l, err := Open(Options{})
	require.NoError(t, err)
	assert.False(t, l.Active())
	l.Record(display.RX, []byte("ignored"), time.Now())
	assert.NoError(t, l.FlushAndClose(time.Second))
}
