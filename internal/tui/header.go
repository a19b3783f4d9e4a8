package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Mr-Dark-debug/sermon/internal/render"
)

// renderHeader produces the top bar:
//
//	SERMON │ sermon /dev/ttyUSB0 @ 115200 8N1            412/9,837
func renderHeader(f render.Frame, width int) string {
	brand := headerBrandStyle.Render("SERMON")
	sep := headerSepStyle.Render("│")
	left := brand + sep + headerMetaStyle.Render(f.Title)

	var right string
	if f.Position != "" {
		right = headerMetaStyle.Render(f.Position)
	}
	return headerBarStyle.Width(width).Render(spread(left, right, width))
}

// renderStatus produces the status bar: session details on the left,
// indicators on the right.
func renderStatus(f render.Frame, width int) string {
	left := statusStyle.Render(f.Status)

	var parts []string
	for _, ind := range f.Indicators {
		parts = append(parts, indicatorStyleFor(ind).Render(ind))
	}
	right := strings.Join(parts, "")

	// Indicators win when the line is too narrow for both.
	if lipgloss.Width(left)+lipgloss.Width(right) > width {
		left = ""
	}
	return lipgloss.NewStyle().
		Background(colorBgSurface).
		Width(width).
		Render(spread(left, right, width))
}

func indicatorStyleFor(ind string) lipgloss.Style {
	switch {
	case ind == "DISCONNECTED":
		return indicatorAlertStyle
	case strings.HasPrefix(ind, "LOG"), strings.HasSuffix(ind, "evicted"):
		return indicatorWarnStyle
	default:
		return indicatorStyle
	}
}

// renderFooter shows the latest warning, if any, and the key hints.
func renderFooter(m *Model) string {
	hints := m.help.ShortHelpView(m.keys.ShortHelp())
	var left string
	if m.frame.Warning != "" {
		left = warningStyle.Render(m.frame.Warning)
	}
	if lipgloss.Width(left)+lipgloss.Width(hints)+1 > m.width {
		hints = ""
	}
	return spread(left, hints, m.width)
}

// spread places left and right at the edges of a line of the given width.
func spread(left, right string, width int) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return left + strings.Repeat(" ", gap) + right
}
