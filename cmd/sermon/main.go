// Sermon is an interactive serial console.
//
// Usage:
//
//	sermon [flags]
//
// Flags:
//
//	--port         Serial device path (prompted for when omitted)
//	--baud         Baud rate (default: 115200)
//	--format       Character frame (default: 8N1)
//	--line-ending  none, nl, cr or crlf (default: nl)
//	--hex          Show received data as hex rows
//	--log          Append received bytes to this file
//	--tx-log       Append transmitted bytes to this file
//	--log-ts       Prefix logged chunks with timestamps
//	--db           Archive the session to this SQLite database
//	--metrics      Serve session metrics on this HTTP address
//	--list         List serial ports and exit
//	--loopback     Use an in-memory echo device instead of a port
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Mr-Dark-debug/sermon/internal/archive"
	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/database"
	"github.com/Mr-Dark-debug/sermon/internal/device"
	"github.com/Mr-Dark-debug/sermon/internal/engine"
	"github.com/Mr-Dark-debug/sermon/internal/metrics"
	"github.com/Mr-Dark-debug/sermon/internal/sessionlog"
	"github.com/Mr-Dark-debug/sermon/internal/tui"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options are the flags that are not part of config.Config.
type options struct {
	list        bool
	version     bool
	format      string
	lineEnding  string
	hex         bool
	explicitSet map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (config.Config, options, error) {
	cfg := config.DefaultConfig()
	var opts options

	fs := flag.NewFlagSet("sermon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "Serial device path (prompted for when omitted)")
	fs.StringVar(&cfg.Port, "p", cfg.Port, "Shorthand for -port")
	fs.IntVar(&cfg.Baud, "baud", cfg.Baud, "Baud rate")
	fs.IntVar(&cfg.Baud, "b", cfg.Baud, "Shorthand for -baud")
	fs.StringVar(&opts.format, "format", cfg.Format.String(), "Character frame: data bits, parity (N/E/O/M/S), stop bits")
	fs.StringVar(&opts.lineEnding, "line-ending", cfg.LineEnding.String(), "Line ending: none, nl, cr or crlf")
	fs.BoolVar(&opts.hex, "hex", false, "Show received data as hex rows")
	fs.StringVar(&cfg.RxLogPath, "log", "", "Append received bytes to this file")
	fs.StringVar(&cfg.TxLogPath, "tx-log", "", "Append transmitted bytes to this file")
	fs.BoolVar(&cfg.LogTimestamps, "log-ts", false, "Prefix logged chunks and scrollback lines with timestamps")
	fs.StringVar(&cfg.ArchivePath, "db", "", "Archive the session to this SQLite database")
	fs.IntVar(&cfg.ScrollbackSize, "scrollback", cfg.ScrollbackSize, "Scrollback capacity in lines")
	fs.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "Input history length")
	fs.IntVar(&cfg.WriteQueueSize, "write-queue", cfg.WriteQueueSize, "Outbound queue capacity in writes")
	fs.IntVar(&cfg.ReadQueueSize, "read-queue", cfg.ReadQueueSize, "Inbound queue capacity in chunks")
	fs.IntVar(&cfg.MaxLineBytes, "max-line", cfg.MaxLineBytes, "Longest unterminated line held before it is shown")
	fs.DurationVar(&cfg.IdleFlush, "idle-flush", cfg.IdleFlush, "Show an unterminated line after this much silence")
	fs.DurationVar(&cfg.ReconnectInterval, "reconnect", cfg.ReconnectInterval, "Automatic reconnect interval (0 disables)")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "Serve session metrics on this HTTP address")
	fs.StringVar(&cfg.DebugLogPath, "debug-log", "", "Write diagnostics to this file")
	fs.BoolVar(&cfg.Loopback, "loopback", false, "Use an in-memory echo device instead of a serial port")
	fs.BoolVar(&opts.list, "list", false, "List serial ports and exit")
	fs.BoolVar(&opts.version, "version", false, "Print version information")

	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	opts.explicitSet = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { opts.explicitSet[f.Name] = true })

	var err error
	if cfg.Format, err = config.ParseFormat(opts.format); err != nil {
		return cfg, opts, err
	}
	if cfg.LineEnding, err = config.ParseLineEnding(opts.lineEnding); err != nil {
		return cfg, opts, err
	}
	if opts.hex {
		cfg.Mode = config.ModeHex
	}
	return cfg, opts, cfg.Validate()
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "sermon: %v\n", err)
		return 2
	}

	if opts.version {
		fmt.Fprintf(stdout, "Sermon v%s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		return 0
	}

	if opts.list {
		ports, err := device.ListPorts()
		if err != nil {
			fmt.Fprintf(stderr, "sermon: listing ports: %v\n", err)
			return 1
		}
		printPorts(stdout, ports)
		return 0
	}

	if cfg.Port == "" && !cfg.Loopback {
		ports, err := device.ListPorts()
		if err != nil {
			fmt.Fprintf(stderr, "sermon: listing ports: %v\n", err)
			return 1
		}
		if cfg.Port, err = choosePort(ports, bufio.NewReader(stdin), stdout); err != nil {
			fmt.Fprintf(stderr, "sermon: %v\n", err)
			return 1
		}
	}

	printBanner(stdout, cfg, opts.explicitSet)

	// Diagnostics must never reach the terminal while the UI owns it.
	if cfg.DebugLogPath != "" {
		f, err := tea.LogToFile(cfg.DebugLogPath, "sermon")
		if err != nil {
			fmt.Fprintf(stderr, "sermon: opening debug log: %v\n", err)
			return 1
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	if err := session(cfg, stdout); err != nil {
		fmt.Fprintf(stderr, "sermon: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Disconnected. Bye!")
	return 0
}

// session opens every resource, runs the console until it terminates, and
// releases everything in reverse order.
func session(cfg config.Config, stdout io.Writer) error {
	ch, err := device.Open(cfg)
	if err != nil {
		return err
	}

	var (
		backends []sessionlog.Backend
		arch     *archive.Backend
	)
	if cfg.ArchivePath != "" {
		if dir := filepath.Dir(cfg.ArchivePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				ch.Close()
				return fmt.Errorf("creating archive directory %s: %w", dir, err)
			}
		}
		store, err := database.NewDBService(cfg.ArchivePath)
		if err != nil {
			ch.Close()
			return fmt.Errorf("opening archive: %w", err)
		}
		defer store.Close()

		arch, err = archive.Start(store, cfg, Version, time.Now())
		if err != nil {
			ch.Close()
			return err
		}
		backends = append(backends, arch)
	}

	logger, err := sessionlog.Open(sessionlog.OptionsFrom(cfg), backends...)
	if err != nil {
		ch.Close()
		for _, b := range backends {
			b.Close()
		}
		return fmt.Errorf("opening session log: %w", err)
	}

	counters := metrics.NewCounters(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		addr, err := counters.Serve(ctx, cfg.MetricsAddr)
		if err != nil {
			logger.FlushAndClose(cfg.ShutdownTimeout)
			ch.Close()
			return err
		}
		fmt.Fprintf(stdout, "Metrics: http://%s/metrics\n", addr)
	}

	fmt.Fprintln(stdout, "Connected. Type to send; press Ctrl-C to exit.")

	mailbox := tui.NewMailbox()
	coord := engine.New(cfg, ch, logger, counters, time.Now, mailbox.Publish)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			coord.Shutdown()
		case <-ctx.Done():
		}
	}()

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	p := tea.NewProgram(tui.NewModel(coord, mailbox), tea.WithAltScreen())
	_, uiErr := p.Run()

	// The UI may exit on its own (a terminal error); the coordinator still
	// gets its orderly shutdown.
	if uiErr != nil && arch != nil {
		arch.SetStatus(database.StatusInterrupted)
	}
	coord.Shutdown()
	runErr := <-done
	if errors.Is(runErr, sessionlog.ErrFlushTimeout) && arch != nil {
		if err := arch.Abandon(time.Now()); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}
	if uiErr != nil {
		return fmt.Errorf("running UI: %w", uiErr)
	}
	return runErr
}
