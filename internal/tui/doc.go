// Package tui draws sermon frames with Charmbracelet's BubbleTea, Lipgloss
// and Bubbles libraries.
//
// The package holds no session state. Key presses and window sizes are
// translated and posted to the coordinator; the coordinator publishes
// frames into a Mailbox and the model redraws whatever frame is newest.
//
// Component architecture:
//
//	model.go: root model, message routing, Init/Update/View
//	mailbox.go: latest-frame handoff from the coordinator goroutine
//	keys.go: key translation and the bubbles help key map
//	theme.go: centralized color + style definitions
//	header.go: title bar, status bar and footer hints
//	pane.go: scrollback lines and the input line
package tui
