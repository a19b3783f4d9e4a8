package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Mr-Dark-debug/sermon/internal/input"
)

// translateKey normalizes a BubbleTea key press into the editor's
// vocabulary. Typed and pasted text arrives as "runes".
func translateKey(msg tea.KeyMsg) input.Key {
	switch msg.Type {
	case tea.KeyRunes:
		return input.Key{Name: "runes", Runes: msg.Runes, Paste: msg.Paste}
	case tea.KeySpace:
		return input.Key{Name: "space"}
	}
	return input.Key{Name: msg.String()}
}

// keyMap exposes the editor's control keys to the bubbles help view.
type keyMap struct {
	all   []key.Binding
	short []key.Binding
}

func newKeyMap(bindings []input.Binding) keyMap {
	var k keyMap
	for _, b := range bindings {
		kb := key.NewBinding(key.WithKeys(b.Keys...), key.WithHelp(b.Help, b.Desc))
		k.all = append(k.all, kb)
		if b.Short {
			k.short = append(k.short, kb)
		}
	}
	return k
}

func (k keyMap) ShortHelp() []key.Binding { return k.short }

func (k keyMap) FullHelp() [][]key.Binding {
	var cols [][]key.Binding
	for i := 0; i < len(k.all); i += 4 {
		cols = append(cols, k.all[i:min(i+4, len(k.all))])
	}
	return cols
}
