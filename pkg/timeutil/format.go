// Package timeutil provides the time formats shared by the session logs,
// the console status line and the archive CLI.
//
// The archive stores timestamps as Unix nanoseconds (int64); FromNano and
// ToNano convert at that boundary.
package timeutil

import (
	"fmt"
	"time"
)

const (
	// ClockLayout is used next to scrollback records. Format: "HH:MM:SS.mmm"
	ClockLayout = "15:04:05.000"
	// FullLayout prefixes log file lines. Format: "2006-01-02 15:04:05.000"
	FullLayout = "2006-01-02 15:04:05.000"
)

// FromNano converts a Unix nanosecond timestamp to time.Time.
func FromNano(ns int64) time.Time {
	return time.Unix(0, ns)
}

// ToNano converts a time.Time to Unix nanoseconds.
func ToNano(t time.Time) int64 {
	return t.UnixNano()
}

// FormatTimestamp formats t for the scrollback view.
func FormatTimestamp(t time.Time) string {
	return t.Format(ClockLayout)
}

// FormatTimestampFull formats t with its date.
func FormatTimestampFull(t time.Time) string {
	return t.Format(FullLayout)
}

// AppendTimestampFull appends the FullLayout form of t to b without
// allocating an intermediate string.
func AppendTimestampFull(b []byte, t time.Time) []byte {
	return t.AppendFormat(b, FullLayout)
}

// FormatDuration formats a duration to a human-readable string.
// Examples: "450ms", "1.2s", "2m 15.3s", "1h 02m"
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	if d < time.Hour {
		minutes := int(seconds / 60)
		remaining := seconds - float64(minutes*60)
		return fmt.Sprintf("%dm %.1fs", minutes, remaining)
	}
	return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
}

// RelativeTime returns a human-readable age relative to now.
// Examples: "just now", "5s ago", "2m ago", "1h ago"
func RelativeTime(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Second:
		return "just now"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%dd ago", days)
	}
}
