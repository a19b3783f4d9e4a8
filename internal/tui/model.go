package tui

import (
	"log"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/sermon/internal/engine"
	"github.com/Mr-Dark-debug/sermon/internal/input"
	"github.com/Mr-Dark-debug/sermon/internal/render"
)

// ────────────────────────────────────────────────────────────
// Model
// ────────────────────────────────────────────────────────────

// Session is the side of the coordinator the UI talks to.
type Session interface {
	Post(engine.Event) bool
	Done() <-chan struct{}
}

// Model is the root BubbleTea model. It only draws frames and forwards
// input; every decision is made by the coordinator.
type Model struct {
	session Session
	mailbox *Mailbox

	frame  render.Frame
	width  int
	height int

	keys keyMap
	help help.Model

	dropped int
}

// NewModel creates a model drawing frames published to mailbox.
func NewModel(session Session, mailbox *Mailbox) Model {
	return Model{
		session: session,
		mailbox: mailbox,
		keys:    newKeyMap(input.Bindings),
		help:    help.New(),
	}
}

// ────────────────────────────────────────────────────────────
// Init / Update
// ────────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return waitForFrame(m.mailbox, m.session.Done())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.post(engine.Event{Kind: engine.EventResize, Width: msg.Width, Height: msg.Height})
		return m, nil

	case tea.KeyMsg:
		m.post(engine.Event{Kind: engine.EventKey, Key: translateKey(msg)})
		return m, nil

	case frameMsg:
		m.frame = render.Frame(msg)
		return m, waitForFrame(m.mailbox, m.session.Done())

	case terminatedMsg:
		if msg.ok {
			m.frame = msg.frame
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) post(ev engine.Event) {
	if !m.session.Post(ev) {
		m.dropped++
		log.Printf("[WARN] UI event dropped, coordinator queue full (%d so far)", m.dropped)
	}
}

// ────────────────────────────────────────────────────────────
// View
// ────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 || m.frame.Width == 0 {
		return "Connecting..."
	}

	paneHeight := max(m.height-render.Chrome, 1)
	return lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(m.frame, m.width),
		renderPane(m.frame, paneHeight),
		renderInput(m.frame),
		renderStatus(m.frame, m.width),
		renderFooter(&m),
	)
}
