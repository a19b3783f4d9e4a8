// Package input implements the line editor that turns normalized key
// events into edits of the input buffer or into control actions.
package input

import (
	"unicode"

	"github.com/Mr-Dark-debug/sermon/internal/config"
)

// MaxInputRunes bounds the length of the unsent line.
const MaxInputRunes = 4096

// Key is a keyboard event normalized by the UI layer. Name uses the
// terminal toolkit's spelling ("enter", "ctrl+a", "pgup"); plain text
// arrives with Name "runes" and the typed characters in Runes.
type Key struct {
	Name  string
	Runes []rune
	Paste bool
}

// Action is what the coordinator must do after a key was handled.
type Action int

const (
	ActionNone Action = iota
	ActionSubmit
	ActionScroll
	ActionScrollTop
	ActionScrollBottom
	ActionAutoscroll
	ActionReconnect
	ActionToggleMode
	ActionShutdown
)

func (a Action) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionScroll:
		return "scroll"
	case ActionScrollTop:
		return "scroll-top"
	case ActionScrollBottom:
		return "scroll-bottom"
	case ActionAutoscroll:
		return "autoscroll"
	case ActionReconnect:
		return "reconnect"
	case ActionToggleMode:
		return "toggle-mode"
	case ActionShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Outgoing is a submitted line: the text as typed and the bytes to send
// with the line ending applied.
type Outgoing struct {
	Text  string
	Bytes []byte
}

// Result reports the outcome of HandleKey.
type Result struct {
	Action Action
	// Delta is the scroll distance for ActionScroll.
	Delta    int
	Outgoing Outgoing
	// Changed is true when the input buffer was edited.
	Changed bool
}

// Editor owns the input buffer and submission history.
type Editor struct {
	buf    []rune
	cursor int

	history    []string
	maxHistory int
	// histPos indexes history while browsing; len(history) means "draft".
	histPos int
	draft   []rune

	ending   config.LineEnding
	pageSize int
}

// NewEditor creates an editor keeping at most maxHistory submitted lines.
func NewEditor(ending config.LineEnding, maxHistory int) *Editor {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Editor{ending: ending, maxHistory: maxHistory, pageSize: 10}
}

// SetPageSize sets the distance of pgup/pgdown; it follows the height of
// the scrollback pane.
func (e *Editor) SetPageSize(n int) {
	if n > 0 {
		e.pageSize = n
	}
}

// Text returns the current unsent line.
func (e *Editor) Text() string { return string(e.buf) }

// Cursor returns the edit position in runes.
func (e *Editor) Cursor() int { return e.cursor }

// History returns submitted lines, oldest first.
func (e *Editor) History() []string {
	return append([]string(nil), e.history...)
}

// HandleKey applies one key event.
func (e *Editor) HandleKey(k Key) Result {
	switch k.Name {
	case "ctrl+c", "ctrl+d", "esc":
		return Result{Action: ActionShutdown}
	case "ctrl+a":
		return Result{Action: ActionAutoscroll}
	case "ctrl+r":
		return Result{Action: ActionReconnect}
	case "ctrl+t":
		return Result{Action: ActionToggleMode}
	case "shift+up":
		return Result{Action: ActionScroll, Delta: -1}
	case "shift+down":
		return Result{Action: ActionScroll, Delta: 1}
	case "pgup":
		return Result{Action: ActionScroll, Delta: -e.pageSize}
	case "pgdown":
		return Result{Action: ActionScroll, Delta: e.pageSize}
	case "ctrl+home":
		return Result{Action: ActionScrollTop}
	case "ctrl+end":
		return Result{Action: ActionScrollBottom}
	case "enter":
		return e.submit()
	case "up":
		return e.edited(e.historyPrev())
	case "down":
		return e.edited(e.historyNext())
	case "left":
		return e.edited(e.move(e.cursor - 1))
	case "right":
		return e.edited(e.move(e.cursor + 1))
	case "home":
		return e.edited(e.move(0))
	case "end", "ctrl+e":
		return e.edited(e.move(len(e.buf)))
	case "backspace":
		return e.edited(e.backspace())
	case "delete":
		return e.edited(e.deleteForward())
	case "ctrl+u":
		return e.edited(e.clear())
	case "ctrl+w":
		return e.edited(e.deleteWord())
	case "space":
		return e.edited(e.insert([]rune{' '}))
	case "tab":
		return e.edited(e.insert([]rune{'\t'}))
	case "runes":
		return e.edited(e.insert(k.Runes))
	}
	return Result{}
}

func (e *Editor) edited(changed bool) Result {
	return Result{Changed: changed}
}

func (e *Editor) submit() Result {
	text := string(e.buf)
	e.pushHistory(text)
	e.buf = e.buf[:0]
	e.cursor = 0
	e.histPos = len(e.history)
	e.draft = nil
	return Result{
		Action:   ActionSubmit,
		Changed:  true,
		Outgoing: Outgoing{Text: text, Bytes: e.ending.Encode(text)},
	}
}

func (e *Editor) pushHistory(text string) {
	if text == "" {
		return
	}
	if n := len(e.history); n > 0 && e.history[n-1] == text {
		return
	}
	e.history = append(e.history, text)
	if over := len(e.history) - e.maxHistory; over > 0 {
		e.history = append(e.history[:0], e.history[over:]...)
	}
}

func (e *Editor) insert(rs []rune) bool {
	clean := make([]rune, 0, len(rs))
	for _, r := range rs {
		if r == '\t' || unicode.IsPrint(r) {
			clean = append(clean, r)
		}
	}
	if room := MaxInputRunes - len(e.buf); len(clean) > room {
		clean = clean[:room]
	}
	if len(clean) == 0 {
		return false
	}
	tail := append([]rune(nil), e.buf[e.cursor:]...)
	e.buf = append(append(e.buf[:e.cursor], clean...), tail...)
	e.cursor += len(clean)
	return true
}

func (e *Editor) move(pos int) bool {
	pos = max(0, min(pos, len(e.buf)))
	if pos == e.cursor {
		return false
	}
	e.cursor = pos
	return true
}

func (e *Editor) backspace() bool {
	if e.cursor == 0 {
		return false
	}
	e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
	e.cursor--
	return true
}

func (e *Editor) deleteForward() bool {
	if e.cursor >= len(e.buf) {
		return false
	}
	e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
	return true
}

func (e *Editor) clear() bool {
	if len(e.buf) == 0 {
		return false
	}
	e.buf = e.buf[:0]
	e.cursor = 0
	return true
}

func (e *Editor) deleteWord() bool {
	if e.cursor == 0 {
		return false
	}
	start := e.cursor
	for start > 0 && unicode.IsSpace(e.buf[start-1]) {
		start--
	}
	for start > 0 && !unicode.IsSpace(e.buf[start-1]) {
		start--
	}
	e.buf = append(e.buf[:start], e.buf[e.cursor:]...)
	e.cursor = start
	return true
}

func (e *Editor) historyPrev() bool {
	if e.histPos == 0 || len(e.history) == 0 {
		return false
	}
	if e.histPos == len(e.history) {
		e.draft = append([]rune(nil), e.buf...)
	}
	e.histPos--
	e.load([]rune(e.history[e.histPos]))
	return true
}

func (e *Editor) historyNext() bool {
	if e.histPos >= len(e.history) {
		return false
	}
	e.histPos++
	if e.histPos == len(e.history) {
		e.load(e.draft)
		e.draft = nil
		return true
	}
	e.load([]rune(e.history[e.histPos]))
	return true
}

func (e *Editor) load(rs []rune) {
	e.buf = append(e.buf[:0], rs...)
	e.cursor = len(e.buf)
}
