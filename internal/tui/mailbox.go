package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Mr-Dark-debug/sermon/internal/render"
)

// Mailbox hands frames from the coordinator to the UI. It holds only the
// newest frame, so a slow terminal skips frames instead of stalling the
// coordinator.
type Mailbox struct {
	mu    sync.Mutex
	frame render.Frame
	have  bool
	ready chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Publish replaces the pending frame. It never blocks and is meant to be
// passed to the coordinator as its FrameSink.
func (b *Mailbox) Publish(f render.Frame) {
	b.mu.Lock()
	b.frame = f
	b.have = true
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Latest returns the newest frame, if one was published.
func (b *Mailbox) Latest() (render.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.have
}

type frameMsg render.Frame

type terminatedMsg struct {
	frame render.Frame
	ok    bool
}

// waitForFrame blocks until a frame is published or the session ends.
func waitForFrame(b *Mailbox, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.ready:
			f, _ := b.Latest()
			return frameMsg(f)
		case <-done:
			f, ok := b.Latest()
			return terminatedMsg{frame: f, ok: ok}
		}
	}
}
