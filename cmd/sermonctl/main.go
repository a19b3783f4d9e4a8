// Sermonctl gives command-line access to archived sermon sessions.
//
// Usage:
//
//	sermonctl <command> [flags]
//
// Commands:
//
//	sessions  List archived sessions
//	records   Dump the traffic of a session
//	search    Find records containing a string
//	analyze   Run throughput analysis on a session
//	status    Query a running console's metrics endpoint
//	version   Print version information
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Mr-Dark-debug/sermon/internal/analysis"
	"github.com/Mr-Dark-debug/sermon/internal/database"
	"github.com/Mr-Dark-debug/sermon/internal/decode"
	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/internal/metrics"
	"github.com/Mr-Dark-debug/sermon/pkg/jsonutil"
	"github.com/Mr-Dark-debug/sermon/pkg/timeutil"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage marks errors that were already reported with usage text.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	homeDir, _ := os.UserHomeDir()
	defaultDB := filepath.Join(homeDir, ".sermon", "sermon.db")

	var err error
	switch args[0] {
	case "sessions":
		err = cmdSessions(args[1:], defaultDB, stdout, stderr)
	case "records":
		err = cmdRecords(args[1:], defaultDB, stdout, stderr)
	case "search":
		err = cmdSearch(args[1:], defaultDB, stdout, stderr)
	case "analyze":
		err = cmdAnalyze(args[1:], defaultDB, stdout, stderr)
	case "status":
		err = cmdStatus(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "Sermonctl v%s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 1
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Sermonctl: archived serial sessions

Usage:
  sermonctl <command> [flags]

Commands:
  sessions   List archived sessions
  records    Dump the traffic of a session (text, hex or json)
  search     Find records containing a string
  analyze    Run throughput analysis on a session
  status     Query a running console's metrics endpoint
  version    Print version information

Run 'sermonctl <command> -help' for details on each command.`)
}

func openStore(path string) (*database.DBService, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no archive at %s (start sermon with -db %s)", path, path)
	}
	store, err := database.NewDBService(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// ============================================================
// sessions
// ============================================================

// cmdSessions lists archived sessions, newest first.
func cmdSessions(args []string, defaultDB string, stdout, stderr io.Writer) error {
	fs := newFlagSet("sessions", stderr)
	dbPath := fs.String("db", defaultDB, "Path to SQLite database")
	port := fs.String("port", "", "Filter by port")
	status := fs.String("status", "", "Filter by status: running, closed, interrupted")
	limit := fs.Int("limit", 20, "Maximum results")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := database.SessionFilter{Limit: *limit}
	if *port != "" {
		filter.Port = port
	}
	if *status != "" {
		filter.Status = status
	}
	sessions, err := store.QuerySessions(filter)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if *asJSON {
		return jsonutil.WriteIndented(stdout, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions.")
		return nil
	}

	p := message.NewPrinter(language.English)
	now := time.Now()
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPORT\tSETTINGS\tSTARTED\tDURATION\tSTATUS\tRX BYTES\tTX BYTES")
	for _, s := range sessions {
		stats, err := store.GetSessionStats(s.SessionID)
		if err != nil {
			return fmt.Errorf("session %d stats: %w", s.SessionID, err)
		}
		duration := "-"
		if s.EndTime != nil {
			duration = timeutil.FormatDuration(time.Duration(*s.EndTime - s.StartTime))
		}
		p.Fprintf(tw, "%d\t%s\t%d %s %s\t%s\t%s\t%s\t%d\t%d\n",
			s.SessionID, jsonutil.TruncateString(s.Port, 32), s.Baud, s.Format, s.Mode,
			timeutil.RelativeTime(timeutil.FromNano(s.StartTime), now),
			duration, s.Status, stats.RxBytes, stats.TxBytes)
	}
	return tw.Flush()
}

// ============================================================
// records
// ============================================================

// cmdRecords dumps the records of one session.
func cmdRecords(args []string, defaultDB string, stdout, stderr io.Writer) error {
	fs := newFlagSet("records", stderr)
	dbPath := fs.String("db", defaultDB, "Path to SQLite database")
	sessionID := fs.Int64("session", 0, "Session ID (required)")
	direction := fs.String("direction", "", "Only RX or TX records")
	format := fs.String("format", "text", "Output format: text, hex, json")
	limit := fs.Int("limit", 0, "Maximum records (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == 0 {
		fmt.Fprintln(stderr, "Error: -session is required")
		fs.Usage()
		return errUsage
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := database.RecordFilter{SessionID: *sessionID, Limit: *limit}
	if *direction != "" {
		d := strings.ToUpper(*direction)
		filter.Direction = &d
	}
	records, err := store.QueryRecords(filter)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return writeRecords(stdout, records, *format)
}

func writeRecords(w io.Writer, records []*database.Record, format string) error {
	switch format {
	case "json":
		return jsonutil.WriteIndented(w, records)
	case "text":
		for _, r := range records {
			fmt.Fprintf(w, "[%s] %s %s\n", stamp(r), r.Direction, decode.Escape(r.Data))
		}
	case "hex":
		for _, r := range records {
			fmt.Fprintf(w, "[%s] %s %d bytes\n", stamp(r), r.Direction, len(r.Data))
			for off := 0; off < len(r.Data); off += display.HexRowWidth {
				end := min(off+display.HexRowWidth, len(r.Data))
				fmt.Fprintf(w, "  %s\n", decode.HexRow(int64(off), r.Data[off:end]))
			}
		}
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
	return nil
}

func stamp(r *database.Record) string {
	return timeutil.FormatTimestampFull(timeutil.FromNano(r.Timestamp))
}

// ============================================================
// search
// ============================================================

// cmdSearch finds records whose bytes contain the query string.
func cmdSearch(args []string, defaultDB string, stdout, stderr io.Writer) error {
	fs := newFlagSet("search", stderr)
	dbPath := fs.String("db", defaultDB, "Path to SQLite database")
	sessionID := fs.Int64("session", 0, "Restrict to one session (0 searches all)")
	limit := fs.Int("limit", 50, "Maximum results")
	format := fs.String("format", "text", "Output format: text, hex, json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one search string is required")
		fs.Usage()
		return errUsage
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.SearchRecords(*sessionID, []byte(fs.Arg(0)), *limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(records) == 0 && *format != "json" {
		fmt.Fprintln(stdout, "No matches.")
		return nil
	}
	return writeRecords(stdout, records, *format)
}

// ============================================================
// analyze
// ============================================================

// cmdAnalyze runs the full analysis suite on a session and outputs a report.
func cmdAnalyze(args []string, defaultDB string, stdout, stderr io.Writer) error {
	fs := newFlagSet("analyze", stderr)
	dbPath := fs.String("db", defaultDB, "Path to SQLite database")
	sessionID := fs.Int64("session", 0, "Session ID to analyze (required)")
	gap := fs.Duration("silence", analysis.DefaultSilenceGap, "Shortest RX gap reported as a silence")
	outputFormat := fs.String("format", "markdown", "Output format: markdown, json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == 0 {
		fmt.Fprintln(stderr, "Error: -session is required")
		fs.Usage()
		return errUsage
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	analyzer := analysis.NewAnalyzer(store)
	analyzer.SetSilenceGap(*gap)
	report, err := analyzer.FullAnalysis(*sessionID)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	switch *outputFormat {
	case "json":
		return jsonutil.WriteIndented(stdout, report)
	case "markdown":
		fmt.Fprint(stdout, analyzer.FormatReport(report))
		return nil
	default:
		return fmt.Errorf("unknown format: %s", *outputFormat)
	}
}

// ============================================================
// status
// ============================================================

// cmdStatus shows a running console's counters via its metrics endpoint.
func cmdStatus(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("status", stderr)
	addr := fs.String("addr", "127.0.0.1:9877", "Metrics address given to sermon -metrics")
	if err := fs.Parse(args); err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/metrics", *addr)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintln(stdout, "⚠ No sermon console is serving metrics.")
		fmt.Fprintln(stdout, "  Start one with: sermon -metrics "+*addr)
		fmt.Fprintf(stdout, "  (tried: %s)\n", url)
		return errUsage
	}
	defer resp.Body.Close()

	var m metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return fmt.Errorf("decoding metrics: %w", err)
	}

	state := "connected"
	if !m.Connected {
		state = "disconnected"
	}
	p := message.NewPrinter(language.English)
	fmt.Fprintf(stdout, "✅ Sermon console is running (%s).\n\n", state)
	p.Fprintf(stdout, "  Bytes received:      %d\n", m.BytesRX)
	p.Fprintf(stdout, "  Bytes sent:          %d\n", m.BytesTX)
	p.Fprintf(stdout, "  Lines received:      %d\n", m.RecordsRX)
	p.Fprintf(stdout, "  Write overflows:     %d\n", m.Overflows)
	p.Fprintf(stdout, "  Disconnects:         %d\n", m.Disconnects)
	p.Fprintf(stdout, "  Log drops:           %d\n", m.LogDrops)
	fmt.Fprintf(stdout, "  Uptime:              %s\n", timeutil.FormatDuration(time.Duration(m.Uptime)*time.Second))
	return nil
}
