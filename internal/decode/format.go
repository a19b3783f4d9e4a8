package decode

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Mr-Dark-debug/sermon/internal/display"
)

const tabWidth = 4

// Escape renders bytes as display text. Printable UTF-8 passes through,
// tabs become spaces, and everything else is shown as \xNN per byte.
func Escape(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == '\t':
			sb.WriteString(strings.Repeat(" ", tabWidth))
		case r == utf8.RuneError && size <= 1:
			fmt.Fprintf(&sb, `\x%02X`, b[0])
		case !unicode.IsPrint(r) && r != ' ':
			for _, c := range b[:size] {
				fmt.Fprintf(&sb, `\x%02X`, c)
			}
		default:
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}

// HexRow formats up to 16 bytes as
//
//	0010  48 65 6C 6C 6F 0D 0A                               |Hello..|
//
// Short rows are padded so the ASCII gutter stays aligned.
func HexRow(offset int64, row []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04X  ", offset)
	for i := 0; i < display.HexRowWidth; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if i < len(row) {
			fmt.Fprintf(&sb, "%02X", row[i])
		} else {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("  |")
	for _, c := range row {
		if c >= 0x20 && c < 0x7f {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('.')
		}
	}
	sb.WriteByte('|')
	return sb.String()
}

// HexBytes formats bytes as space-separated uppercase pairs, the form
// used by hex-mode log files.
func HexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
