// Package jsonutil holds the JSON helpers shared by the archive and the
// sermonctl command line.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// RawKey holds the undecoded text when a metadata blob is not a JSON object.
const RawKey = "_raw"

// WriteIndented writes v as two-space indented JSON followed by a newline.
func WriteIndented(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// EncodeStringMap returns nil for a nil map so the column stays NULL.
func EncodeStringMap(m map[string]string) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling map: %w", err)
	}
	s := string(b)
	return &s, nil
}

// DecodeStringMap parses a metadata blob. Text that is not a JSON object of
// strings is kept under RawKey rather than dropped.
func DecodeStringMap(s string) map[string]string {
	m := make(map[string]string)
	if s == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]string{RawKey: s}
	}
	return m
}

// TruncateString cuts s to maxLen bytes, ending in "..." when it was cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
