package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Mr-Dark-debug/sermon/internal/database"
	"github.com/Mr-Dark-debug/sermon/internal/metrics"
)

// seedArchive writes one closed session with a short exchange.
func seedArchive(t *testing.T) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sermon.db")
	store, err := database.NewDBService(path)
	if err != nil {
		t.Fatalf("NewDBService: %v", err)
	}
	defer store.Close()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixNano()
	sess := &database.Session{
		Port: "/dev/ttyUSB0", Baud: 115200, Format: "8N1", LineEnding: "nl", Mode: "text",
		StartTime: start, Status: database.StatusRunning,
	}
	if err := store.InsertSession(sess); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	records := []*database.Record{
		{SessionID: sess.SessionID, Timestamp: start + int64(time.Second), Direction: "TX", Data: []byte("version\n")},
		{SessionID: sess.SessionID, Timestamp: start + int64(1100*time.Millisecond), Direction: "RX", Data: []byte("fw 1.2.3\r\n")},
		{SessionID: sess.SessionID, Timestamp: start + int64(2*time.Second), Direction: "RX", Data: []byte{0xde, 0xad, 0xbe, 0xef}},
	}
	if err := store.BatchInsertRecords(records); err != nil {
		t.Fatalf("BatchInsertRecords: %v", err)
	}
	if err := store.EndSession(sess.SessionID, start+int64(3*time.Second), database.StatusClosed); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	return path, sess.SessionID
}

func runCtl(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestSessionsCommand(t *testing.T) {
	db, _ := seedArchive(t)

	out, errOut, code := runCtl(t, "sessions", "-db", db)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"/dev/ttyUSB0", "115200 8N1 text", "closed", "3.0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("sessions output missing %q:\n%s", want, out)
		}
	}

	out, _, code = runCtl(t, "sessions", "-db", db, "-json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	var sessions []database.Session
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != database.StatusClosed {
		t.Errorf("unexpected sessions %+v", sessions)
	}

	out, _, _ = runCtl(t, "sessions", "-db", db, "-status", "interrupted")
	if !strings.Contains(out, "No sessions.") {
		t.Errorf("expected no interrupted sessions, got %q", out)
	}
}

func TestRecordsCommand(t *testing.T) {
	db, id := seedArchive(t)
	sid := itoa(id)

	out, _, code := runCtl(t, "records", "-db", db, "-session", sid)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "[2024-0") || !strings.Contains(lines[0], "TX version") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[2], `\xDE\xAD\xBE\xEF`) {
		t.Errorf("binary data should be escaped: %q", lines[2])
	}

	out, _, _ = runCtl(t, "records", "-db", db, "-session", sid, "-direction", "rx", "-format", "hex")
	if strings.Contains(out, "TX") {
		t.Errorf("direction filter ignored:\n%s", out)
	}
	if !strings.Contains(out, "0000  DE AD BE EF") {
		t.Errorf("hex dump missing row:\n%s", out)
	}

	_, errOut, code := runCtl(t, "records", "-db", db)
	if code != 1 || !strings.Contains(errOut, "-session is required") {
		t.Errorf("expected usage error, got %d %q", code, errOut)
	}
}

func TestSearchCommand(t *testing.T) {
	db, _ := seedArchive(t)

	out, _, code := runCtl(t, "search", "-db", db, "1.2.3")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(out, "RX fw 1.2.3") {
		t.Errorf("search output %q", out)
	}

	out, _, _ = runCtl(t, "search", "-db", db, "nothing-like-this")
	if !strings.Contains(out, "No matches.") {
		t.Errorf("expected no matches, got %q", out)
	}
}

func TestAnalyzeCommand(t *testing.T) {
	db, id := seedArchive(t)

	out, errOut, code := runCtl(t, "analyze", "-db", db, "-session", itoa(id))
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "# Serial Session Report") {
		t.Errorf("unexpected report:\n%s", out)
	}
	if !strings.Contains(out, "| RX Bytes | 14 |") {
		t.Errorf("report missing RX byte count:\n%s", out)
	}

	out, _, code = runCtl(t, "analyze", "-db", db, "-session", itoa(id), "-format", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	var report map[string]any
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if _, ok := report["throughput"]; !ok {
		t.Error("JSON report missing throughput")
	}
}

func TestStatusCommand(t *testing.T) {
	c := metrics.NewCounters(time.Now())
	c.Received(123456, time.Now())
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	out, _, code := runCtl(t, "status", "-addr", addr)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(out, "running (connected)") || !strings.Contains(out, "123,456") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	srv.Close()
	out, _, code = runCtl(t, "status", "-addr", addr)
	if code != 1 || !strings.Contains(out, "No sermon console") {
		t.Errorf("expected unreachable report, got %d %q", code, out)
	}
}

func TestMissingArchive(t *testing.T) {
	_, errOut, code := runCtl(t, "sessions", "-db", filepath.Join(t.TempDir(), "absent.db"))
	if code != 1 || !strings.Contains(errOut, "no archive at") {
		t.Errorf("expected a missing archive error, got %d %q", code, errOut)
	}
}

func TestUsageAndVersion(t *testing.T) {
	if _, _, code := runCtl(t); code != 1 {
		t.Errorf("no command: exit %d", code)
	}
	if _, _, code := runCtl(t, "frobnicate"); code != 1 {
		t.Errorf("unknown command: exit %d", code)
	}
	out, _, code := runCtl(t, "version")
	if code != 0 || !strings.HasPrefix(out, "Sermonctl v") {
		t.Errorf("version: %d %q", code, out)
	}
	if _, _, code := runCtl(t, "records", "-help"); code != 0 {
		t.Errorf("-help: exit %d", code)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
