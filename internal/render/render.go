// Package render projects the console state into a Frame: plain strings
// and flags that any terminal toolkit can draw. Project is a pure
// function; identical Views always produce identical Frames.
package render

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/internal/scrollback"
	"github.com/Mr-Dark-debug/sermon/internal/sessionlog"
	"github.com/Mr-Dark-debug/sermon/pkg/timeutil"
)

// Chrome is the number of rows the frame uses besides the scrollback
// lines: title, status, input and help.
const Chrome = 4

const (
	ellipsis   = "…"
	promptText = "> "
)

// View is everything the renderer reads.
type View struct {
	// Records is the visible window, ending at the cursor; First is the
	// absolute store index of Records[0].
	Records []display.Record
	First   int
	Total   int
	Evicted int64
	Scroll  scrollback.ViewState

	Input       string
	InputCursor int // in runes

	Port       string
	Baud       int
	Format     string
	Mode       config.Mode
	LineEnding config.LineEnding
	State      string
	Connected  bool

	BytesRX int64
	BytesTX int64
	Warning string
	Sinks   []sessionlog.SinkStatus

	Width      int
	Timestamps bool
}

// Line is one drawn scrollback row.
type Line struct {
	Index  int
	Source display.Source
	Kind   display.Kind
	Time   string
	Text   string
	Cursor bool // highlighted while browsing
	Cut    bool // text was truncated to fit
}

// Frame is a complete screen description.
type Frame struct {
	Title       string
	Lines       []Line
	Input       string
	InputCursor int // cell column inside Input
	Status      string
	Indicators  []string
	Position    string
	Autoscroll  bool
	State       string
	Connected   bool
	Warning     string
	Width       int
}

// Project builds the frame for v.
func Project(v View) Frame {
	width := max(v.Width, 20)
	f := Frame{
		Title:      title(v),
		Autoscroll: v.Scroll.Autoscroll,
		State:      v.State,
		Connected:  v.Connected,
		Warning:    v.Warning,
		Width:      width,
	}

	for i, r := range v.Records {
		f.Lines = append(f.Lines, projectLine(r, v.First+i, v, width))
	}

	f.Input, f.InputCursor = inputWindow(v.Input, v.InputCursor, width-runewidth.StringWidth(promptText))
	f.Status = runewidth.Truncate(status(v), width, ellipsis)
	f.Indicators = indicators(v)
	if v.Total > 0 {
		f.Position = fmt.Sprintf("%d/%d", v.Scroll.Cursor+1, v.Total)
	}
	return f
}

func title(v View) string {
	port := v.Port
	if port == "" {
		port = "(no port)"
	}
	return fmt.Sprintf("sermon %s @ %d %s", port, v.Baud, v.Format)
}

func projectLine(r display.Record, index int, v View, width int) Line {
	l := Line{
		Index:  index,
		Source: r.Source,
		Kind:   r.Kind,
		Cursor: !v.Scroll.Autoscroll && index == v.Scroll.Cursor,
	}
	prefix := 0
	if v.Timestamps && !r.Time.IsZero() {
		l.Time = timeutil.FormatTimestamp(r.Time)
		prefix += len(l.Time) + 1
	}
	prefix += len(Tag(r.Source)) + 1

	text := r.Text
	if r.Partial && r.Kind == display.KindText {
		text += ellipsis
	}
	avail := max(width-prefix, 1)
	if runewidth.StringWidth(text) > avail {
		text = runewidth.Truncate(text, avail, ellipsis)
		l.Cut = true
	}
	l.Text = text
	return l
}

// Tag is the fixed-width source label drawn before each line.
func Tag(src display.Source) string {
	switch src {
	case display.RX:
		return "RX"
	case display.TX:
		return "TX"
	default:
		return "--"
	}
}

// inputWindow returns the visible part of the input and the cursor
// column, scrolling horizontally so the cursor stays on screen.
func inputWindow(text string, cursor, avail int) (string, int) {
	runes := []rune(text)
	cursor = min(max(cursor, 0), len(runes))
	avail = max(avail, 2)

	start := 0
	for runewidth.StringWidth(string(runes[start:cursor])) > avail-1 {
		start++
	}
	visible := runewidth.Truncate(string(runes[start:]), avail, "")
	return visible, runewidth.StringWidth(string(runes[start:cursor]))
}

func status(v View) string {
	p := message.NewPrinter(language.English)
	state := v.State
	if state == "" {
		state = "running"
	}
	parts := []string{
		fmt.Sprintf("%s %d %s", v.Port, v.Baud, v.Format),
		v.Mode.String(),
		v.LineEnding.Describe(),
		state,
		p.Sprintf("RX %d B  TX %d B", v.BytesRX, v.BytesTX),
	}
	return strings.Join(parts, " │ ")
}

func indicators(v View) []string {
	var out []string
	if !v.Connected {
		out = append(out, "DISCONNECTED")
	}
	if v.Scroll.Autoscroll {
		out = append(out, "FOLLOW")
	} else {
		out = append(out, "SCROLL")
	}
	if v.Mode == config.ModeHex {
		out = append(out, "HEX")
	}
	p := message.NewPrinter(language.English)
	for _, s := range v.Sinks {
		switch {
		case !s.Enabled:
			out = append(out, fmt.Sprintf("LOG OFF %s", s.Name))
		case s.Dropped > 0:
			out = append(out, p.Sprintf("LOG %s dropped %d", s.Name, s.Dropped))
		}
	}
	if v.Evicted > 0 {
		out = append(out, p.Sprintf("%d evicted", v.Evicted))
	}
	return out
}
