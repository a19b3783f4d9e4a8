package render

import (
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/sermon/internal/config"
	"github.com/Mr-Dark-debug/sermon/internal/display"
	"github.com/Mr-Dark-debug/sermon/internal/scrollback"
	"github.com/Mr-Dark-debug/sermon/internal/sessionlog"
)

var t0 = time.Date(2024, 2, 3, 4, 5, 6, 7_000_000, time.UTC)

func baseView() View {
	return View{
		Records: []display.Record{
			{Source: display.TX, Kind: display.KindText, Time: t0, Text: "ping"},
			{Source: display.RX, Kind: display.KindText, Time: t0, Text: "ping"},
		},
		First:      0,
		Total:      2,
		Scroll:     scrollback.ViewState{Cursor: 1, Autoscroll: true},
		Port:       "/dev/ttyUSB0",
		Baud:       115200,
		Format:     "8N1",
		Mode:       config.ModeText,
		LineEnding: config.EndingNL,
		State:      "running",
		Connected:  true,
		BytesRX:    1234567,
		BytesTX:    5,
		Width:      80,
	}
}

func TestProjectIsDeterministic(t *testing.T) {
	v := baseView()
	assert.Equal(t, Project(v), Project(v))
}

func TestProjectBasics(t *testing.T) {
	f := Project(baseView())

	assert.Equal(t, "sermon /dev/ttyUSB0 @ 115200 8N1", f.Title)
	require.Len(t, f.Lines, 2)
	assert.Equal(t, display.TX, f.Lines[0].Source)
	assert.Equal(t, "ping", f.Lines[0].Text)
	assert.Empty(t, f.Lines[0].Time, "timestamps off")
	assert.False(t, f.Lines[1].Cursor, "no highlight while following")
	assert.Equal(t, "2/2", f.Position)
	assert.Contains(t, f.Status, "RX 1,234,567 B")
	assert.Contains(t, f.Status, `LF (\n)`)
	assert.Equal(t, []string{"FOLLOW"}, f.Indicators)
}

func TestCursorHighlightWhenBrowsing(t *testing.T) {
	v := baseView()
	v.Scroll = scrollback.ViewState{Cursor: 0, Autoscroll: false}
	v.Records = v.Records[:1]

	f := Project(v)
	require.Len(t, f.Lines, 1)
	assert.True(t, f.Lines[0].Cursor)
	assert.Equal(t, "1/2", f.Position)
	assert.Contains(t, f.Indicators, "SCROLL")
}

func TestLongLinesAreTruncatedToWidth(t *testing.T) {
	v := baseView()
	v.Width = 30
	v.Timestamps = true
	v.Records = []display.Record{{
		Source: display.RX, Kind: display.KindText, Time: t0,
		Text: strings.Repeat("温度", 20),
	}}

	f := Project(v)
	l := f.Lines[0]
	assert.Equal(t, "04:05:06.007", l.Time)
	assert.True(t, l.Cut)
	assert.True(t, strings.HasSuffix(l.Text, "…"))
	assert.LessOrEqual(t, runewidth.StringWidth(l.Text), 30-len("04:05:06.007 ")-len("RX "))
}

func TestPartialLinesAreMarked(t *testing.T) {
	v := baseView()
	v.Records = []display.Record{{Source: display.RX, Kind: display.KindText, Text: "waiting", Partial: true}}
	f := Project(v)
	assert.Equal(t, "waiting…", f.Lines[0].Text)
}

func TestInputScrollsToKeepCursorVisible(t *testing.T) {
	v := baseView()
	v.Width = 20
	v.Input = strings.Repeat("a", 40) + "END"
	v.InputCursor = len([]rune(v.Input))

	f := Project(v)
	assert.True(t, strings.HasSuffix(f.Input, "END"))
	assert.LessOrEqual(t, f.InputCursor, 20-len(promptText)-1)
	assert.Equal(t, runewidth.StringWidth(f.Input), f.InputCursor)

	v.InputCursor = 0
	f = Project(v)
	assert.Equal(t, 0, f.InputCursor)
	assert.True(t, strings.HasPrefix(f.Input, "aaa"))
}

func TestIndicators(t *testing.T) {
	v := baseView()
	v.Connected = false
	v.State = "disconnected"
	v.Mode = config.ModeHex
	v.Evicted = 1500
	v.Sinks = []sessionlog.SinkStatus{
		{Name: "rx.log", Enabled: false},
		{Name: "archive", Enabled: true, Dropped: 3},
		{Name: "tx.log", Enabled: true},
	}

	f := Project(v)
	assert.Equal(t, []string{
		"DISCONNECTED", "FOLLOW", "HEX", "LOG OFF rx.log", "LOG archive dropped 3", "1,500 evicted",
	}, f.Indicators)
	assert.Contains(t, f.Status, "disconnected")
	assert.Contains(t, f.Status, "hex")
	assert.False(t, f.Connected)
}

func TestEmptyStore(t *testing.T) {
	v := baseView()
	v.Records = nil
	v.Total = 0
	v.Scroll = scrollback.ViewState{Cursor: -1, Autoscroll: true}
	f := Project(v)
	assert.Empty(t, f.Lines)
	assert.Empty(t, f.Position)
}
