package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/device"
)

var errNoPorts = errors.New("no serial ports detected. Plug your device in and try again")

// printPorts writes the numbered port list shown by -list and the chooser.
func printPorts(w io.Writer, ports []device.PortInfo) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found.")
		return
	}
	fmt.Fprintln(w, "Available ports:")
	for i, p := range ports {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, p.Describe())
	}
}

// choosePort picks the port to open when none was given. USB adapters
// are preferred when any are present; a single candidate is selected
// without asking. An empty or unparseable answer selects the first port.
func choosePort(ports []device.PortInfo, in *bufio.Reader, out io.Writer) (string, error) {
	if usb := device.USBOnly(ports); len(usb) > 0 {
		ports = usb
	}
	switch len(ports) {
	case 0:
		return "", errNoPorts
	case 1:
		fmt.Fprintf(out, "Auto-selected sole port: %s\n", ports[0].Path)
		return ports[0].Path, nil
	}

	printPorts(out, ports)
	fmt.Fprintf(out, "\nSelect port [1-%d] (Enter for 1): ", len(ports))
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading port choice: %w", err)
	}

	sel, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		sel = 1
	}
	sel = min(max(sel, 1), len(ports))
	path := ports[sel-1].Path
	fmt.Fprintf(out, "Using port: %s\n", path)
	return path, nil
}

// printBanner echoes the effective settings before the UI starts; values
// left at their default say so.
func printBanner(w io.Writer, cfg config.Config, explicit map[string]bool) {
	def := func(names ...string) string {
		for _, n := range names {
			if explicit[n] {
				return ""
			}
		}
		return " (default)"
	}

	port := cfg.Port
	if cfg.Loopback {
		port = "loopback"
	}
	fmt.Fprintf(w, "Using port: %s\n", port)
	fmt.Fprintf(w, "Baud: %d %s%s\n", cfg.Baud, cfg.Format, def("baud", "b"))
	fmt.Fprintf(w, "Line ending: %s%s\n", cfg.LineEnding.Describe(), def("line-ending"))
	if cfg.Mode == config.ModeHex {
		fmt.Fprintln(w, "RX view: HEX")
	}
	if cfg.LogTimestamps {
		fmt.Fprintln(w, "Timestamps in logs: ON")
	}
	if cfg.ArchivePath != "" {
		fmt.Fprintf(w, "Archive: %s\n", cfg.ArchivePath)
	}
}
