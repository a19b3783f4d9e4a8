// Package metrics tracks session counters and optionally exposes them
// over HTTP for external monitoring.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// Counters are updated by the coordinator and read concurrently by the
// status line and the HTTP endpoints.
type Counters struct {
	started time.Time

	BytesRX       atomic.Int64
	BytesTX       atomic.Int64
	RecordsRX     atomic.Int64
	RecordsTX     atomic.Int64
	Overflows     atomic.Int64
	Disconnects   atomic.Int64
	Reconnects    atomic.Int64
	LogFailures   atomic.Int64
	LogDrops      atomic.Int64
	Renders       atomic.Int64
	Evictions     atomic.Int64
	connected     atomic.Bool
	lastReceiveNs atomic.Int64
}

// NewCounters starts the uptime clock at now.
func NewCounters(now time.Time) *Counters {
	c := &Counters{started: now}
	c.connected.Store(true)
	return c
}

// SetConnected records the device state.
func (c *Counters) SetConnected(ok bool) { c.connected.Store(ok) }

// Received accounts n received bytes at t.
func (c *Counters) Received(n int, t time.Time) {
	c.BytesRX.Add(int64(n))
	c.lastReceiveNs.Store(t.UnixNano())
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BytesRX     int64 `json:"bytes_rx"`
	BytesTX     int64 `json:"bytes_tx"`
	RecordsRX   int64 `json:"records_rx"`
	RecordsTX   int64 `json:"records_tx"`
	Overflows   int64 `json:"write_overflows"`
	Disconnects int64 `json:"disconnects"`
	Reconnects  int64 `json:"reconnects"`
	LogFailures int64 `json:"log_failures"`
	LogDrops    int64 `json:"log_drops"`
	Renders     int64 `json:"renders"`
	Evictions   int64 `json:"evictions"`
	Connected   bool  `json:"connected"`
	LastRXUnix  int64 `json:"last_rx_unix_ns,omitempty"`
	Uptime      int64 `json:"uptime_seconds"`
}

// Snapshot copies the counters; uptime is measured to now.
func (c *Counters) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		BytesRX:     c.BytesRX.Load(),
		BytesTX:     c.BytesTX.Load(),
		RecordsRX:   c.RecordsRX.Load(),
		RecordsTX:   c.RecordsTX.Load(),
		Overflows:   c.Overflows.Load(),
		Disconnects: c.Disconnects.Load(),
		Reconnects:  c.Reconnects.Load(),
		LogFailures: c.LogFailures.Load(),
		LogDrops:    c.LogDrops.Load(),
		Renders:     c.Renders.Load(),
		Evictions:   c.Evictions.Load(),
		Connected:   c.connected.Load(),
		LastRXUnix:  c.lastReceiveNs.Load(),
		Uptime:      int64(now.Sub(c.started).Seconds()),
	}
}

// ============================================================
// HTTP exposition
// ============================================================

// Handler serves /health, /metrics (Prometheus text format) and
// /api/metrics (JSON).
func (c *Counters) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if !c.connected.Load() {
			status = "disconnected"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m := c.Snapshot(time.Now())
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeCounter(w, "sermon_bytes_received_total", "Bytes received from the device", m.BytesRX)
		writeCounter(w, "sermon_bytes_transmitted_total", "Bytes queued to the device", m.BytesTX)
		writeCounter(w, "sermon_records_received_total", "Display records decoded from received data", m.RecordsRX)
		writeCounter(w, "sermon_records_transmitted_total", "Display records for transmitted data", m.RecordsTX)
		writeCounter(w, "sermon_write_overflows_total", "Writes rejected by a full outbound queue", m.Overflows)
		writeCounter(w, "sermon_disconnects_total", "Device losses", m.Disconnects)
		writeCounter(w, "sermon_reconnects_total", "Successful reconnects", m.Reconnects)
		writeCounter(w, "sermon_log_failures_total", "Log sinks disabled after a failure", m.LogFailures)
		writeCounter(w, "sermon_log_drops_total", "Log entries dropped by a full queue", m.LogDrops)
		writeCounter(w, "sermon_renders_total", "Frames rendered", m.Renders)
		writeCounter(w, "sermon_scrollback_evictions_total", "Records evicted from scrollback", m.Evictions)
		connected := int64(0)
		if m.Connected {
			connected = 1
		}
		writeGauge(w, "sermon_connected", "1 while the device is connected", connected)
		writeGauge(w, "sermon_uptime_seconds", "Uptime in seconds", m.Uptime)
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Snapshot(time.Now()))
	})

	return mux
}

func writeCounter(w http.ResponseWriter, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}

func writeGauge(w http.ResponseWriter, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}

// Serve listens on addr and serves the endpoints until ctx is done. The
// listener is bound before Serve returns so address errors surface at
// startup.
func (c *Counters) Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	go func() {
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] Metrics server: %v", err)
		}
	}()

	log.Printf("[INFO] Metrics server listening on http://%s/metrics", ln.Addr())
	return ln.Addr(), nil
}
