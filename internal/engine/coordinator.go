// Package engine implements the Coordinator: the single control loop that
// multiplexes device input, key events, ticks and log warnings, and
// drives the decoder, scrollback, session log and renderer.
//
// Every piece of session state is owned by the Coordinator and touched
// only from the goroutine running Run (or calling Dispatch directly in
// tests). Other goroutines talk to it through Post and Shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/decode"
	"github.com/Mr-Dark-debug/sermon/internal/device"
	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/internal/input"
	"github.com/Mr-Dark-debug/sermon/internal/metrics"
	"github.com/Mr-Dark-debug/sermon/internal/render"
	"github.com/Mr-Dark-debug/sermon/internal/scrollback"
	"github.com/Mr-Dark-debug/sermon/internal/sessionlog"
)

// ============================================================
// State
// ============================================================

// State is the coordinator lifecycle state.
type State int32

const (
	Running State = iota
	Disconnected
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Disconnected:
		return "disconnected"
	case ShuttingDown:
		return "shutting down"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ============================================================
// Events
// ============================================================

// EventKind tags an Event.
type EventKind int

const (
	EventPortReadable EventKind = iota
	EventKey
	EventTick
	EventShutdown
	EventResize
	EventLogWarning
)

// Event is one unit of work for the coordinator. Only the fields
// belonging to Kind are read.
type Event struct {
	Kind    EventKind
	Key     input.Key
	Width   int
	Height  int
	Warning sessionlog.Warning
}

// FrameSink receives every rendered frame. It is called on the
// coordinator goroutine and must not block.
type FrameSink func(render.Frame)

const (
	eventQueueSize = 256
	// minPollBudget is the least one readable signal drains before other
	// sources get a turn.
	minPollBudget = 4 * 1024

	defaultWidth  = 80
	defaultHeight = 24
)

// ============================================================
// Coordinator
// ============================================================

// Coordinator owns the session.
type Coordinator struct {
	cfg      config.Config
	channel  device.Channel
	logger   *sessionlog.Logger
	counters *metrics.Counters
	now      func() time.Time
	sink     FrameSink

	state   atomic.Int32
	decoder *decode.Decoder
	store   *scrollback.Store
	editor  *input.Editor

	width, height int
	pollBudget    int
	dirty         bool
	warning       string
	lastAttempt   time.Time
	closeErr      error

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a coordinator in the Running state around an open channel.
// logger, counters, clock and sink may be nil.
func New(cfg config.Config, ch device.Channel, logger *sessionlog.Logger, counters *metrics.Counters, clock func() time.Time, sink FrameSink) *Coordinator {
	if clock == nil {
		clock = time.Now
	}
	if counters == nil {
		counters = metrics.NewCounters(clock())
	}
	if sink == nil {
		sink = func(render.Frame) {}
	}

	c := &Coordinator{
		cfg:        cfg,
		channel:    ch,
		logger:     logger,
		counters:   counters,
		now:        clock,
		sink:       sink,
		decoder:    decode.New(cfg.Mode, cfg.LineEnding, cfg.MaxLineBytes, cfg.IdleFlush),
		store:      scrollback.New(cfg.ScrollbackSize),
		editor:     input.NewEditor(cfg.LineEnding, cfg.HistorySize),
		width:      defaultWidth,
		height:     defaultHeight,
		pollBudget: pollBudget(cfg),
		dirty:      true,
		events:     make(chan Event, eventQueueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.state.Store(int32(Running))
	c.editor.SetPageSize(c.paneHeight())
	if logger != nil {
		logger.SetHex(cfg.Mode == config.ModeHex)
	}
	counters.SetConnected(true)

	c.appendRecords(display.Status(clock(), fmt.Sprintf("connected to %s @ %d %s", ch.Name(), cfg.Baud, cfg.Format)))
	return c
}

// State is safe to call from any goroutine.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		log.Printf("[INFO] Session state %s -> %s", old, s)
	}
}

// Done is closed once the coordinator reaches Terminated.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Post queues an event for Run without blocking. It reports false when
// the queue is full and the event was dropped.
func (c *Coordinator) Post(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Shutdown asks Run to shut down. Safe to call repeatedly from any
// goroutine; it never blocks.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Run drives the coordinator until Terminated. Cancelling ctx requests a
// shutdown; Run still flushes and closes everything before returning.
// The error reports a session log that could not be flushed in time.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.cfg.TickInterval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var warnings <-chan sessionlog.Warning
	if c.logger != nil {
		warnings = c.logger.Warnings()
	}

	log.Printf("[INFO] Coordinator started on %s (tick %s)", c.channel.Name(), interval)
	c.draw()

	for c.State() != Terminated {
		select {
		case <-ctx.Done():
			c.Dispatch(Event{Kind: EventShutdown})
		case <-c.stop:
			c.Dispatch(Event{Kind: EventShutdown})
		case <-c.channel.Readable():
			c.Dispatch(Event{Kind: EventPortReadable})
		case ev := <-c.events:
			c.Dispatch(ev)
		case w := <-warnings:
			c.Dispatch(Event{Kind: EventLogWarning, Warning: w})
		case <-ticker.C:
			c.Dispatch(Event{Kind: EventTick})
		}
		c.serviceReady(warnings)
	}
	return c.closeErr
}

// serviceReady gives every other source that is already ready one turn,
// in a fixed order, so a busy source cannot starve the rest.
func (c *Coordinator) serviceReady(warnings <-chan sessionlog.Warning) {
	if c.State() == Terminated {
		return
	}
	select {
	case <-c.channel.Readable():
		c.Dispatch(Event{Kind: EventPortReadable})
	default:
	}
	select {
	case ev := <-c.events:
		c.Dispatch(ev)
	default:
	}
	select {
	case w := <-warnings:
		c.Dispatch(Event{Kind: EventLogWarning, Warning: w})
	default:
	}
}

// Dispatch applies one event. It is the only place session state changes.
func (c *Coordinator) Dispatch(ev Event) {
	if c.State() == Terminated {
		return
	}
	switch ev.Kind {
	case EventPortReadable:
		c.pollPort()
	case EventKey:
		c.handleKey(ev.Key)
	case EventTick:
		c.tick()
	case EventShutdown:
		c.shutdown()
	case EventResize:
		c.resize(ev.Width, ev.Height)
	case EventLogWarning:
		c.logWarning(ev.Warning)
	}
}

// ============================================================
// Event handlers
// ============================================================

// pollBudget is roughly one tick of traffic at the configured baud rate
// (ten bits per byte on the wire).
func pollBudget(cfg config.Config) int {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	perTick := int64(cfg.Baud) / 10 * int64(tick) / int64(time.Second)
	return max(int(perTick), minPollBudget)
}

// pollPort drains at most pollBudget bytes. The channel signals Readable
// again while data remains, so the rest waits for the next turn.
func (c *Coordinator) pollPort() {
	for taken := 0; taken < c.pollBudget && c.State() == Running; {
		data, err := c.channel.PollRead()
		if err != nil {
			if device.IsIOError(err) {
				c.disconnect(err)
			} else if !errors.Is(err, device.ErrClosed) {
				log.Printf("[WARN] Poll failed: %v", err)
			}
			return
		}
		if len(data) == 0 {
			return
		}
		taken += len(data)
		now := c.now()
		c.counters.Received(len(data), now)
		c.logger.Record(display.RX, data, now)
		c.appendRecords(c.decoder.Feed(data, display.RX, now)...)
	}
}

func (c *Coordinator) handleKey(k input.Key) {
	res := c.editor.HandleKey(k)
	if res.Changed {
		c.dirty = true
	}
	switch res.Action {
	case input.ActionSubmit:
		c.submit(res.Outgoing)
	case input.ActionScroll:
		c.store.Scroll(res.Delta)
	case input.ActionScrollTop:
		c.store.ScrollToTop()
	case input.ActionScrollBottom:
		c.store.ScrollToBottom()
	case input.ActionAutoscroll:
		c.store.EnableAutoscroll()
	case input.ActionReconnect:
		c.reconnect(true)
	case input.ActionToggleMode:
		c.toggleMode()
	case input.ActionShutdown:
		c.shutdown()
		return
	case input.ActionNone:
		return
	}
	c.dirty = true
}

// submit sends one line. The TX record is only created once the channel
// accepted the bytes, so rejected bytes never appear as transmitted.
func (c *Coordinator) submit(out input.Outgoing) {
	now := c.now()
	if len(out.Bytes) == 0 {
		return
	}
	if c.State() != Running {
		c.notice(now, fmt.Sprintf("not connected, %q not sent", out.Text))
		return
	}

	err := c.channel.EnqueueWrite(out.Bytes)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrWriteOverflow):
		c.counters.Overflows.Add(1)
		c.notice(now, fmt.Sprintf("write overflow, %d bytes dropped", len(out.Bytes)))
		return
	case device.IsIOError(err):
		c.disconnect(err)
		return
	default:
		c.notice(now, fmt.Sprintf("write failed: %v", err))
		return
	}

	c.counters.BytesTX.Add(int64(len(out.Bytes)))
	c.logger.Record(display.TX, out.Bytes, now)
	recs := c.decoder.Feed(out.Bytes, display.TX, now)
	recs = append(recs, c.decoder.FlushSource(display.TX, now)...)
	c.appendRecords(recs...)
}

func (c *Coordinator) disconnect(err error) {
	if c.State() != Running {
		return
	}
	now := c.now()
	c.setState(Disconnected)
	c.counters.Disconnects.Add(1)
	c.counters.SetConnected(false)
	c.lastAttempt = now
	log.Printf("[WARN] Device lost: %v", err)

	c.appendRecords(c.decoder.FlushSource(display.RX, now)...)
	c.notice(now, fmt.Sprintf("disconnected: %v", err))
}

// reconnect re-opens the channel. Automatic attempts fail quietly; an
// explicit request always reports its outcome.
func (c *Coordinator) reconnect(explicit bool) {
	now := c.now()
	if c.State() != Disconnected {
		if explicit {
			c.appendRecords(display.Status(now, "already connected"))
		}
		return
	}
	c.lastAttempt = now
	if err := c.channel.Reconnect(); err != nil {
		log.Printf("[DEBUG] Reconnect to %s failed: %v", c.channel.Name(), err)
		if explicit {
			c.notice(now, fmt.Sprintf("reconnect failed: %v", err))
		}
		return
	}

	c.setState(Running)
	c.counters.Reconnects.Add(1)
	c.counters.SetConnected(true)
	c.warning = ""
	log.Printf("[INFO] Reconnected to %s", c.channel.Name())
	c.appendRecords(display.Status(now, fmt.Sprintf("reconnected to %s", c.channel.Name())))
}

func (c *Coordinator) toggleMode() {
	now := c.now()
	mode := config.ModeHex
	if c.decoder.Mode() == config.ModeHex {
		mode = config.ModeText
	}
	c.appendRecords(c.decoder.SetMode(mode, now)...)
	if c.logger != nil {
		c.logger.SetHex(mode == config.ModeHex)
	}
	c.appendRecords(display.Status(now, fmt.Sprintf("display mode: %s", mode)))
}

func (c *Coordinator) tick() {
	now := c.now()
	switch c.State() {
	case Running:
		c.appendRecords(c.decoder.FlushIdle(now)...)
	case Disconnected:
		if c.cfg.ReconnectInterval > 0 && now.Sub(c.lastAttempt) >= c.cfg.ReconnectInterval {
			c.reconnect(false)
		}
	}

	c.counters.Evictions.Store(c.store.Evicted())
	var dropped int64
	for _, s := range c.logger.Status() {
		dropped += s.Dropped
	}
	c.counters.LogDrops.Store(dropped)

	if c.dirty {
		c.draw()
	}
}

func (c *Coordinator) resize(width, height int) {
	if width > 0 {
		c.width = width
	}
	if height > 0 {
		c.height = height
	}
	c.editor.SetPageSize(c.paneHeight())
	c.dirty = true
}

func (c *Coordinator) logWarning(w sessionlog.Warning) {
	if !errors.Is(w.Err, sessionlog.ErrQueueFull) {
		c.counters.LogFailures.Add(1)
	}
	c.notice(c.now(), w.String())
}

// shutdown flushes decoder partials into scrollback, closes the logger
// and the channel within the shutdown timeout, and draws the final frame.
func (c *Coordinator) shutdown() {
	if c.State() >= ShuttingDown {
		return
	}
	now := c.now()
	c.setState(ShuttingDown)
	c.appendRecords(c.decoder.Flush(now)...)

	timeout := c.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if err := c.logger.FlushAndClose(timeout); err != nil {
		log.Printf("[WARN] Closing session log: %v", err)
		c.closeErr = fmt.Errorf("closing session log: %w", err)
	}
	if err := closeWithin(c.channel, timeout); err != nil {
		log.Printf("[WARN] Closing %s: %v", c.channel.Name(), err)
	}

	c.counters.SetConnected(false)
	c.setState(Terminated)
	c.draw()
	close(c.done)
}

// closeWithin closes ch, giving up after timeout so an unresponsive
// device cannot hang the exit.
func closeWithin(ch device.Channel, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- ch.Close() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return fmt.Errorf("close timed out after %s", timeout)
	}
}

// ============================================================
// Scrollback and rendering
// ============================================================

func (c *Coordinator) appendRecords(recs ...display.Record) {
	for _, r := range recs {
		c.store.Append(r)
		switch r.Source {
		case display.RX:
			c.counters.RecordsRX.Add(1)
		case display.TX:
			c.counters.RecordsTX.Add(1)
		}
	}
	if len(recs) > 0 {
		c.dirty = true
	}
}

// notice appends a status line and keeps it as the current warning.
func (c *Coordinator) notice(at time.Time, text string) {
	c.warning = text
	c.appendRecords(display.Status(at, text))
}

func (c *Coordinator) paneHeight() int {
	return max(c.height-render.Chrome, 1)
}

func (c *Coordinator) draw() {
	records, first := c.store.Window(c.paneHeight())
	snap := c.counters.Snapshot(c.now())
	state := c.State()

	frame := render.Project(render.View{
		Records:     records,
		First:       first,
		Total:       c.store.Len(),
		Evicted:     c.store.Evicted(),
		Scroll:      c.store.View(),
		Input:       c.editor.Text(),
		InputCursor: c.editor.Cursor(),
		Port:        c.channel.Name(),
		Baud:        c.cfg.Baud,
		Format:      c.cfg.Format.String(),
		Mode:        c.decoder.Mode(),
		LineEnding:  c.cfg.LineEnding,
		State:       state.String(),
		Connected:   state == Running,
		BytesRX:     snap.BytesRX,
		BytesTX:     snap.BytesTX,
		Warning:     c.warning,
		Sinks:       c.logger.Status(),
		Width:       c.width,
		Timestamps:  c.cfg.LogTimestamps,
	})
	c.counters.Renders.Add(1)
	c.dirty = false
	c.sink(frame)
}
