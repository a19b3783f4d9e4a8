package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/device"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, opts, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Baud != 115200 || cfg.LineEnding != config.EndingNL || cfg.Mode != config.ModeText {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Format.String() != "8N1" {
		t.Errorf("expected 8N1, got %s", cfg.Format)
	}
	if len(opts.explicitSet) != 0 {
		t.Errorf("no flags were set, got %v", opts.explicitSet)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	cfg, opts, err := parseFlags([]string{
		"-p", "/dev/ttyACM0", "-b", "9600", "-format", "7e2", "-line-ending", "crlf",
		"-hex", "-log", "rx.log", "-tx-log", "rx.log", "-log-ts", "-scrollback", "500",
		"-write-queue", "8", "-reconnect", "0s",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Port != "/dev/ttyACM0" || cfg.Baud != 9600 {
		t.Errorf("port/baud not applied: %+v", cfg)
	}
	if cfg.Format.String() != "7E2" || cfg.LineEnding != config.EndingCRLF || cfg.Mode != config.ModeHex {
		t.Errorf("format/ending/mode not applied: %+v", cfg)
	}
	if !cfg.SharedLog() || !cfg.LogTimestamps {
		t.Error("expected a shared timestamped log")
	}
	if cfg.ScrollbackSize != 500 || cfg.WriteQueueSize != 8 || cfg.ReconnectInterval != 0 {
		t.Errorf("sizes not applied: %+v", cfg)
	}
	if !opts.explicitSet["b"] || !opts.explicitSet["line-ending"] {
		t.Errorf("explicit flags not recorded: %v", opts.explicitSet)
	}
}

func TestParseFlagsRejectsBadValues(t *testing.T) {
	for _, args := range [][]string{
		{"-line-ending", "lfcr"},
		{"-format", "9N1"},
		{"-baud", "0"},
		{"-scrollback", "-1"},
		{"-idle-flush", "0s"},
	} {
		if _, _, err := parseFlags(args, io.Discard); err == nil {
			t.Errorf("expected an error for %v", args)
		}
	}
}

func TestRunExitCodes(t *testing.T) {
	var out bytes.Buffer
	if code := run([]string{"-version"}, strings.NewReader(""), &out, io.Discard); code != 0 {
		t.Errorf("-version exit code %d", code)
	}
	if !strings.HasPrefix(out.String(), "Sermon v"+Version) {
		t.Errorf("unexpected version output %q", out.String())
	}

	if code := run([]string{"-bogus"}, strings.NewReader(""), io.Discard, io.Discard); code != 2 {
		t.Errorf("unknown flag exit code %d, want 2", code)
	}
	if code := run([]string{"-h"}, strings.NewReader(""), io.Discard, io.Discard); code != 0 {
		t.Errorf("-h exit code %d, want 0", code)
	}
}

func TestRunReportsPortErrors(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"-port", "/dev/does-not-exist-sermon", "-debug-log", t.TempDir() + "/debug.log"},
		strings.NewReader(""), io.Discard, &stderr)
	if code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "/dev/does-not-exist-sermon") {
		t.Errorf("error should name the path: %q", stderr.String())
	}
}

func TestChoosePort(t *testing.T) {
	usb := device.PortInfo{Path: "/dev/ttyUSB0", VID: "0403", PID: "6001"}
	acm := device.PortInfo{Path: "/dev/ttyACM0", VID: "2341", PID: "0043", Product: "Arduino Uno"}
	builtin := device.PortInfo{Path: "/dev/ttyS0"}

	tests := []struct {
		name   string
		ports  []device.PortInfo
		answer string
		want   string
	}{
		{"sole port", []device.PortInfo{builtin}, "", "/dev/ttyS0"},
		{"usb preferred", []device.PortInfo{builtin, usb}, "", "/dev/ttyUSB0"},
		{"enter picks first", []device.PortInfo{usb, acm}, "\n", "/dev/ttyUSB0"},
		{"numbered choice", []device.PortInfo{usb, acm}, "2\n", "/dev/ttyACM0"},
		{"out of range clamps", []device.PortInfo{usb, acm}, "9\n", "/dev/ttyACM0"},
		{"garbage picks first", []device.PortInfo{usb, acm}, "x\n", "/dev/ttyUSB0"},
		{"eof picks first", []device.PortInfo{usb, acm}, "", "/dev/ttyUSB0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := choosePort(tt.ports, bufio.NewReader(strings.NewReader(tt.answer)), &out)
			if err != nil {
				t.Fatalf("choosePort: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := choosePort(nil, bufio.NewReader(strings.NewReader("")), io.Discard); !errors.Is(err, errNoPorts) {
		t.Errorf("expected errNoPorts, got %v", err)
	}
}

func TestPrintPorts(t *testing.T) {
	var out bytes.Buffer
	printPorts(&out, []device.PortInfo{
		{Path: "/dev/ttyACM0", VID: "2341", PID: "0043", Manufacturer: "Arduino", Product: "Uno"},
	})
	if !strings.Contains(out.String(), "[1] /dev/ttyACM0 (2341:0043) Arduino Uno") {
		t.Errorf("unexpected listing %q", out.String())
	}

	out.Reset()
	printPorts(&out, nil)
	if !strings.Contains(out.String(), "No serial ports found.") {
		t.Errorf("unexpected empty listing %q", out.String())
	}
}

func TestPrintBanner(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Port = "/dev/ttyUSB0"
	cfg.Mode = config.ModeHex
	cfg.LogTimestamps = true
	cfg.ReconnectInterval = time.Second

	var out bytes.Buffer
	printBanner(&out, cfg, map[string]bool{"baud": true})
	got := out.String()
	for _, want := range []string{
		"Using port: /dev/ttyUSB0",
		"Baud: 115200 8N1\n",
		`Line ending: LF (\n) (default)`,
		"RX view: HEX",
		"Timestamps in logs: ON",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("banner missing %q:\n%s", want, got)
		}
	}
}
