package pipeline

import (
	"math/bits"

	"github.com/bmharper/ringbuffer"
	"github.com/teslashibe/go-attention/pkg/attention"
)

// AverageStats are mean per-frame counts over a window with the share of
// each band in percent.
type AverageStats struct {
	Frames             int     `json:"frames"`
	Attending          float64 `json:"attending"`
	PartiallyAttending float64 `json:"partially_attending"`
	NotAttending       float64 `json:"not_attending"`
	Total              float64 `json:"total"`

	AttendingPct          float64 `json:"attending_pct"`
	PartiallyAttendingPct float64 `json:"partially_attending_pct"`
	NotAttendingPct       float64 `json:"not_attending_pct"`
}

// Window keeps the last Size per-frame counts. Not safe for concurrent use.
type Window struct {
	size     int
	capacity int // RingP size, a power of two above size
	ring     ringbuffer.RingP[attention.Counts]
}

// NewWindow creates a window of the given size.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	// RingP holds one item less than its size
	capacity := 1 << bits.Len(uint(size))
	return &Window{
		size:     size,
		capacity: capacity,
		ring:     ringbuffer.NewRingP[attention.Counts](capacity),
	}
}

// Add records one frame's counts.
func (w *Window) Add(c attention.Counts) {
	w.ring.Add(c)
}

// Len returns how many frames are held, at most Size.
func (w *Window) Len() int {
	return min(w.ring.Len(), w.size)
}

// Recent returns up to n of the newest counts, oldest first. n <= 0 means all.
func (w *Window) Recent(n int) []attention.Counts {
	have := w.Len()
	if n <= 0 || n > have {
		n = have
	}
	out := make([]attention.Counts, 0, n)
	for i := w.ring.Len() - n; i < w.ring.Len(); i++ {
		out = append(out, w.ring.Peek(i))
	}
	return out
}

// Average computes AverageStats over the newest n frames. n <= 0 means all.
func (w *Window) Average(n int) AverageStats {
	recent := w.Recent(n)
	if len(recent) == 0 {
		return AverageStats{}
	}

	var sum attention.Counts
	for _, c := range recent {
		sum = sum.Add(c)
	}
	frames := float64(len(recent))

	s := AverageStats{
		Frames:             len(recent),
		Attending:          float64(sum.Attending) / frames,
		PartiallyAttending: float64(sum.PartiallyAttending) / frames,
		NotAttending:       float64(sum.NotAttending) / frames,
		Total:              float64(sum.Total) / frames,
	}
	if s.Total > 0 {
		s.AttendingPct = s.Attending / s.Total * 100
		s.PartiallyAttendingPct = s.PartiallyAttending / s.Total * 100
		s.NotAttendingPct = s.NotAttending / s.Total * 100
	}
	return s
}

// Reset drops every recorded frame.
func (w *Window) Reset() {
	w.ring = ringbuffer.NewRingP[attention.Counts](w.capacity)
}
