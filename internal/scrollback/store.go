// Package scrollback implements the bounded record history and the view
// cursor that the renderer projects from.
//
// Indices are absolute within the store: 0 is the oldest retained record
// and Len()-1 the newest. Eviction shifts every index down, so the
// cursor is adjusted and clamped whenever records fall off the front.
package scrollback

import "github.com/Mr-Dark-debug/sermon/internal/display"

// ViewState is the cursor into the store plus the autoscroll flag.
// Cursor is -1 only while the store is empty.
type ViewState struct {
	Cursor     int
	Autoscroll bool
}

// Store is a fixed-capacity FIFO of records. It is owned by the
// coordinator and is not safe for concurrent use.
type Store struct {
	ring    []display.Record
	head    int // index in ring of the oldest record
	size    int
	evicted int64

	view ViewState
}

// New creates a store that retains at most max records.
func New(max int) *Store {
	if max <= 0 {
		max = 1
	}
	return &Store{
		ring: make([]display.Record, max),
		view: ViewState{Cursor: -1, Autoscroll: true},
	}
}

// Len is the number of retained records.
func (s *Store) Len() int { return s.size }

// Evicted counts records dropped from the front since creation.
func (s *Store) Evicted() int64 { return s.evicted }

// View returns a copy of the current view state.
func (s *Store) View() ViewState { return s.view }

// At returns the record at absolute index i.
func (s *Store) At(i int) display.Record {
	return s.ring[(s.head+i)%len(s.ring)]
}

// Append adds r as the newest record, evicting the oldest when full.
func (s *Store) Append(r display.Record) {
	if s.size == len(s.ring) {
		s.ring[s.head] = r
		s.head = (s.head + 1) % len(s.ring)
		s.evicted++
		if !s.view.Autoscroll {
			s.view.Cursor = clamp(s.view.Cursor-1, 0, s.size-1)
		}
	} else {
		s.ring[(s.head+s.size)%len(s.ring)] = r
		s.size++
	}
	if s.view.Autoscroll || s.view.Cursor < 0 {
		s.view.Cursor = s.size - 1
	}
}

// Scroll moves the cursor by delta, clamped to the retained range. Any
// move that leaves the cursor above the newest record turns autoscroll
// off; scrolling onto the newest record leaves the flag unchanged.
func (s *Store) Scroll(delta int) {
	if s.size == 0 {
		return
	}
	s.view.Cursor = clamp(s.view.Cursor+delta, 0, s.size-1)
	if s.view.Cursor < s.size-1 {
		s.view.Autoscroll = false
	}
}

// ScrollToTop moves to the oldest record and disables autoscroll.
func (s *Store) ScrollToTop() {
	if s.size == 0 {
		return
	}
	s.view.Cursor = 0
	if s.size > 1 {
		s.view.Autoscroll = false
	}
}

// ScrollToBottom moves to the newest record without re-enabling
// autoscroll, so the view stays put when new records arrive.
func (s *Store) ScrollToBottom() {
	if s.size == 0 {
		return
	}
	s.view.Cursor = s.size - 1
	s.view.Autoscroll = false
}

// EnableAutoscroll turns autoscroll on and jumps to the newest record.
func (s *Store) EnableAutoscroll() {
	s.view.Autoscroll = true
	s.view.Cursor = s.size - 1
}

// Window returns up to height records ending at the cursor, and the
// absolute index of the first one.
func (s *Store) Window(height int) ([]display.Record, int) {
	if s.size == 0 || height <= 0 {
		return nil, 0
	}
	end := s.view.Cursor + 1
	start := max(0, end-height)
	return s.Slice(start, end), start
}

// Slice copies records in [from, to), clamped to the retained range.
func (s *Store) Slice(from, to int) []display.Record {
	from = clamp(from, 0, s.size)
	to = clamp(to, from, s.size)
	out := make([]display.Record, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, s.At(i))
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
