// Package tracking assigns persistent identities to per-frame person
// detections using greedy IoU association.
package tracking

import (
	"slices"
	"sync"

	"github.com/teslashibe/go-attention/pkg/vision"
)

// Track is one persistent identity.
type Track struct {
	ID        int        `json:"id"`
	Box       vision.Box `json:"box"`
	LastFrame uint64     `json:"last_frame"` // Frame index of the last match
	Misses    int        `json:"misses"`     // Consecutive unmatched frames
	Hits      int        `json:"hits"`       // Total matched frames
}

// Tracker matches detections to tracks frame by frame.
//
// Matching is greedy in descending IoU order, not a globally optimal
// assignment. Ties are broken by lower track id, then by lower detection
// index, so results are deterministic.
type Tracker struct {
	config Config

	mu          sync.Mutex
	tracks      []*Track // Ordered by ascending id
	nextID      int
	frame       uint64
	disappeared []int
	onRetire    func(id int)
}

// New creates a tracker with the given configuration.
func New(config Config) *Tracker {
	if config.DisappearFrames < 1 {
		config.DisappearFrames = 1
	}
	return &Tracker{
		config: config,
		nextID: 1,
	}
}

// OnRetire registers a callback invoked once for every retired identity,
// before the Update call that retired it returns. Dependents holding
// per-identity state must purge it here.
func (t *Tracker) OnRetire(fn func(id int)) {
	t.mu.Lock()
	t.onRetire = fn
	t.mu.Unlock()
}

// SetIoUThreshold changes the matching threshold for subsequent frames.
func (t *Tracker) SetIoUThreshold(iou float64) {
	t.mu.Lock()
	t.config.IoUThreshold = iou
	t.mu.Unlock()
}

type candidate struct {
	iou     float64
	trackID int
	track   int // index into tracks
	det     int // index into detections
}

// Update assigns identities to the detections of one frame and returns them
// in input order with ID filled in.
func (t *Tracker) Update(dets []vision.Detection) []vision.Detection {
	t.mu.Lock()

	t.frame++
	t.disappeared = t.disappeared[:0]

	out := make([]vision.Detection, len(dets))
	copy(out, dets)

	var pairs []candidate
	for ti, tr := range t.tracks {
		for di := range out {
			iou := tr.Box.IoU(out[di].Box)
			if iou > 0 && iou >= t.config.IoUThreshold {
				pairs = append(pairs, candidate{iou: iou, trackID: tr.ID, track: ti, det: di})
			}
		}
	}
	slices.SortFunc(pairs, func(a, b candidate) int {
		switch {
		case a.iou > b.iou:
			return -1
		case a.iou < b.iou:
			return 1
		case a.trackID != b.trackID:
			return a.trackID - b.trackID
		default:
			return a.det - b.det
		}
	})

	trackMatched := make([]bool, len(t.tracks))
	detMatched := make([]bool, len(out))
	for _, p := range pairs {
		if trackMatched[p.track] || detMatched[p.det] {
			continue
		}
		trackMatched[p.track] = true
		detMatched[p.det] = true

		tr := t.tracks[p.track]
		tr.Box = out[p.det].Box
		tr.LastFrame = t.frame
		tr.Misses = 0
		tr.Hits++
		out[p.det].ID = tr.ID
	}

	// Age unmatched tracks, retiring the ones that hit the threshold
	kept := t.tracks[:0]
	for ti, tr := range t.tracks {
		if !trackMatched[ti] {
			tr.Misses++
			if tr.Misses >= t.config.DisappearFrames {
				t.disappeared = append(t.disappeared, tr.ID)
				continue
			}
		}
		kept = append(kept, tr)
	}
	clear(t.tracks[len(kept):])
	t.tracks = kept

	for di := range out {
		if detMatched[di] {
			continue
		}
		tr := &Track{
			ID:        t.nextID,
			Box:       out[di].Box,
			LastFrame: t.frame,
			Hits:      1,
		}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		out[di].ID = tr.ID
	}

	retired := slices.Clone(t.disappeared)
	onRetire := t.onRetire
	t.mu.Unlock()

	if onRetire != nil {
		for _, id := range retired {
			onRetire(id)
		}
	}
	return out
}

// DisappearedIDs returns the identities retired by the most recent Update.
func (t *Tracker) DisappearedIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.disappeared)
}

// Tracks returns a snapshot of the active tracks ordered by id.
func (t *Tracker) Tracks() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = *tr
	}
	return out
}

// Len returns the number of active tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Reset drops every track and restarts the id counter. Called whenever a
// stream restarts so ids from the previous run cannot collide.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.nextID = 1
	t.frame = 0
	t.disappeared = nil
}
