package input

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/sermon/internal/config"
)

func typeText(e *Editor, s string) {
	for _, r := range s {
		if r == ' ' {
			e.HandleKey(Key{Name: "space"})
			continue
		}
		e.HandleKey(Key{Name: "runes", Runes: []rune{r}})
	}
}

func TestSubmitEncodesLineEnding(t *testing.T) {
	e := NewEditor(config.EndingCRLF, 10)
	typeText(e, "AT I")

	res := e.HandleKey(Key{Name: "enter"})
	require.Equal(t, ActionSubmit, res.Action)
	assert.Equal(t, "AT I", res.Outgoing.Text)
	assert.Equal(t, []byte("AT I\r\n"), res.Outgoing.Bytes)
	assert.Equal(t, "", e.Text())
	assert.Equal(t, 0, e.Cursor())
}

func TestSubmitEmptyLineStillSends(t *testing.T) {
	e := NewEditor(config.EndingNL, 10)
	res := e.HandleKey(Key{Name: "enter"})
	assert.Equal(t, ActionSubmit, res.Action)
	assert.Equal(t, []byte("\n"), res.Outgoing.Bytes)
	assert.Empty(t, e.History())
}

func TestCursorEditing(t *testing.T) {
	e := NewEditor(config.EndingNL, 10)
	typeText(e, "helo")
	e.HandleKey(Key{Name: "left"})
	typeText(e, "l")
	assert.Equal(t, "hello", e.Text())
	assert.Equal(t, 4, e.Cursor())

	e.HandleKey(Key{Name: "home"})
	e.HandleKey(Key{Name: "delete"})
	assert.Equal(t, "ello", e.Text())

	e.HandleKey(Key{Name: "end"})
	e.HandleKey(Key{Name: "backspace"})
	assert.Equal(t, "ell", e.Text())

	e.HandleKey(Key{Name: "home"})
	res := e.HandleKey(Key{Name: "backspace"})
	assert.False(t, res.Changed)
}

func TestDeleteWordAndClear(t *testing.T) {
	e := NewEditor(config.EndingNL, 10)
	typeText(e, "set baud 9600  ")
	e.HandleKey(Key{Name: "ctrl+w"})
	assert.Equal(t, "set baud ", e.Text())

	e.HandleKey(Key{Name: "ctrl+u"})
	assert.Equal(t, "", e.Text())
}

func TestHistoryNavigationKeepsDraft(t *testing.T) {
	e := NewEditor(config.EndingNL, 10)
	for _, line := range []string{"one", "two", "three"} {
		typeText(e, line)
		e.HandleKey(Key{Name: "enter"})
	}
	typeText(e, "dra")

	e.HandleKey(Key{Name: "up"})
	assert.Equal(t, "three", e.Text())
	e.HandleKey(Key{Name: "up"})
	e.HandleKey(Key{Name: "up"})
	assert.Equal(t, "one", e.Text())
	res := e.HandleKey(Key{Name: "up"})
	assert.False(t, res.Changed)
	assert.Equal(t, "one", e.Text())

	e.HandleKey(Key{Name: "down"})
	assert.Equal(t, "two", e.Text())
	e.HandleKey(Key{Name: "down"})
	e.HandleKey(Key{Name: "down"})
	assert.Equal(t, "dra", e.Text())
	assert.Equal(t, 3, e.Cursor())
}

func TestHistoryBoundedAndDeduplicated(t *testing.T) {
	e := NewEditor(config.EndingNL, 3)
	for _, line := range []string{"a", "b", "b", "c", "d"} {
		typeText(e, line)
		e.HandleKey(Key{Name: "enter"})
	}
	assert.Equal(t, []string{"b", "c", "d"}, e.History())
}

func TestControlActions(t *testing.T) {
	e := NewEditor(config.EndingNL, 10)
	e.SetPageSize(25)
	cases := []struct {
		key    string
		action Action
		delta  int
	}{
		{"ctrl+a", ActionAutoscroll, 0},
		{"ctrl+c", ActionShutdown, 0},
		{"ctrl+d", ActionShutdown, 0},
		{"esc", ActionShutdown, 0},
		{"ctrl+r", ActionReconnect, 0},
		{"ctrl+t", ActionToggleMode, 0},
		{"shift+up", ActionScroll, -1},
		{"shift+down", ActionScroll, 1},
		{"pgup", ActionScroll, -25},
		{"pgdown", ActionScroll, 25},
		{"ctrl+home", ActionScrollTop, 0},
		{"ctrl+end", ActionScrollBottom, 0},
	}
	for _, tc := range cases {
		res := e.HandleKey(Key{Name: tc.key})
		assert.Equal(t, tc.action, res.Action, tc.key)
		assert.Equal(t, tc.delta, res.Delta, tc.key)
		assert.False(t, res.Changed, tc.key)
	}
	assert.Equal(t, "", e.Text(), "control actions never edit the buffer")
}

func TestPasteAndLimits(t *testing.T) {
	e := NewEditor(config.EndingNL, 10)
	e.HandleKey(Key{Name: "runes", Runes: []rune("a\x1bb"), Paste: true})
	assert.Equal(t, "ab", e.Text(), "control runes are dropped")

	e.HandleKey(Key{Name: "ctrl+u"})
	e.HandleKey(Key{Name: "runes", Runes: []rune(strings.Repeat("x", MaxInputRunes+50))})
	assert.Len(t, []rune(e.Text()), MaxInputRunes)
}

func TestBindingsCoverHandledKeys(t *testing.T) {
	e := NewEditor(config.EndingNL, 10)
	for _, b := range Bindings {
		for _, k := range b.Keys {
			res := e.HandleKey(Key{Name: k})
			if k == "enter" {
				assert.Equal(t, ActionSubmit, res.Action)
				continue
			}
			if k == "up" || k == "down" || k == "ctrl+u" {
				continue
			}
			assert.NotEqual(t, ActionNone, res.Action, k)
		}
	}
}
