package tui

import "github.com/charmbracelet/lipgloss"

// ────────────────────────────────────────────────────────────
// Color palette (GitHub dark)
// ────────────────────────────────────────────────────────────
//
// All colors are defined here. No ad-hoc color literals anywhere.

var (
	// Base
	colorBg        = lipgloss.Color("#0d1117")
	colorBgSurface = lipgloss.Color("#1c2128")

	// Text
	colorText      = lipgloss.Color("#e6edf3")
	colorTextDim   = lipgloss.Color("#8b949e")
	colorTextMuted = lipgloss.Color("#484f58")

	// Accents
	colorBlue   = lipgloss.Color("#58a6ff")
	colorGreen  = lipgloss.Color("#3fb950")
	colorRed    = lipgloss.Color("#f85149")
	colorYellow = lipgloss.Color("#d29922")
	colorPurple = lipgloss.Color("#bc8cff")
	colorCyan   = lipgloss.Color("#76e3ea")

	// Structural
	colorHighlight = lipgloss.Color("#1f6feb")
)

// ────────────────────────────────────────────────────────────
// Component Styles
// ────────────────────────────────────────────────────────────

// Header bar
var (
	headerBarStyle = lipgloss.NewStyle().
			Background(colorBgSurface).
			Foreground(colorText)

	headerBrandStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorBlue).
				Background(colorBgSurface).
				Padding(0, 1)

	headerSepStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Background(colorBgSurface)

	headerMetaStyle = lipgloss.NewStyle().
			Foreground(colorTextDim).
			Background(colorBgSurface).
			Padding(0, 1)
)

// Scrollback lines
var (
	lineTextStyle = lipgloss.NewStyle().
			Foreground(colorText)

	lineCursorStyle = lipgloss.NewStyle().
			Background(colorHighlight).
			Foreground(colorText).
			Bold(true)

	lineTimeStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	tagRXStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	tagTXStyle = lipgloss.NewStyle().
			Foreground(colorPurple)

	tagSystemStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	lineHexStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	lineSystemStyle = lipgloss.NewStyle().
			Foreground(colorTextDim).
			Italic(true)

	emptyStateStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Padding(0, 1)
)

// Input line
var (
	promptStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	inputStyle = lipgloss.NewStyle().
			Foreground(colorText)

	inputCursorStyle = lipgloss.NewStyle().
				Background(colorBlue).
				Foreground(colorBg)

	inputDisabledStyle = lipgloss.NewStyle().
				Foreground(colorTextMuted)
)

// Footer / status bar
var (
	statusStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorBgSurface).
			Padding(0, 1)

	indicatorStyle = lipgloss.NewStyle().
			Foreground(colorTextDim).
			Background(colorBgSurface).
			Padding(0, 1)

	indicatorAlertStyle = lipgloss.NewStyle().
				Foreground(colorRed).
				Background(colorBgSurface).
				Bold(true).
				Padding(0, 1)

	indicatorWarnStyle = lipgloss.NewStyle().
				Foreground(colorYellow).
				Background(colorBgSurface).
				Padding(0, 1)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorRed)
)
