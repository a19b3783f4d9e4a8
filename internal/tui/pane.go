package tui

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/internal/render"
)

// renderPane draws the scrollback lines, padded to height rows so the
// footer stays at the bottom of the screen.
func renderPane(f render.Frame, height int) string {
	if height <= 0 {
		return ""
	}
	if len(f.Lines) == 0 {
		return padLines(emptyStateStyle.Render("Waiting for data..."), height)
	}

	lines := make([]string, 0, height)
	start := max(len(f.Lines)-height, 0)
	for _, l := range f.Lines[start:] {
		lines = append(lines, renderLine(l))
	}
	return padLines(strings.Join(lines, "\n"), height)
}

func renderLine(l render.Line) string {
	var sb strings.Builder
	if l.Time != "" {
		sb.WriteString(lineTimeStyle.Render(l.Time))
		sb.WriteByte(' ')
	}
	sb.WriteString(tagStyle(l.Source).Render(render.Tag(l.Source)))
	sb.WriteByte(' ')

	switch {
	case l.Cursor:
		sb.WriteString(lineCursorStyle.Render(l.Text))
	case l.Kind == display.KindHex:
		sb.WriteString(lineHexStyle.Render(l.Text))
	case l.Kind == display.KindStatus:
		sb.WriteString(lineSystemStyle.Render(l.Text))
	default:
		sb.WriteString(lineTextStyle.Render(l.Text))
	}
	return sb.String()
}

func tagStyle(src display.Source) lipgloss.Style {
	switch src {
	case display.RX:
		return tagRXStyle
	case display.TX:
		return tagTXStyle
	default:
		return tagSystemStyle
	}
}

// renderInput draws the prompt and the visible part of the input with a
// block cursor at the frame's cursor column.
func renderInput(f render.Frame) string {
	prompt := promptStyle.Render("> ")
	if !f.Connected {
		return prompt + inputDisabledStyle.Render(f.Input)
	}
	before, at, after := splitAtColumn(f.Input, f.InputCursor)
	if at == "" {
		at = " "
	}
	return prompt + inputStyle.Render(before) + inputCursorStyle.Render(at) + inputStyle.Render(after)
}

// splitAtColumn splits s around the rune occupying cell column col.
func splitAtColumn(s string, col int) (before, at, after string) {
	w := 0
	for i := 0; i < len(s); {
		r, n := utf8.DecodeRuneInString(s[i:])
		if w >= col {
			return s[:i], s[i : i+n], s[i+n:]
		}
		w += runewidth.RuneWidth(r)
		i += n
	}
	return s, "", ""
}

func padLines(s string, height int) string {
	n := strings.Count(s, "\n") + 1
	if n >= height {
		return s
	}
	return s + strings.Repeat("\n", height-n)
}
