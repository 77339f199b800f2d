// Package track defines the per-frame input supplied by the upstream
// detector/tracker collaborator, together with the sanitization applied
// before any state machine sees a frame.
package track

import (
	"math"
	"time"
)

// Role classifies a tracked person. The staff/customer split is resolved
// upstream by zone and line geometry; this core only consumes the result.
type Role string

const (
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// Track is one person in one frame. Identity is stable across frames for as
// long as the upstream tracker can hold it; occlusion shows up here as the
// id simply missing from a frame.
type Track struct {
	ID   string  `json:"id"`
	Role Role    `json:"role"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	// Zone is the queue zone this track currently occupies, empty when the
	// person is outside every configured zone.
	Zone string `json:"zone,omitempty"`
}

// Frame is one time step of the pipeline: the full track list for one camera
// stream plus the encoded image payload the clip writer records.
type Frame struct {
	StreamID string  `json:"stream_id"`
	TimeUnix float64 `json:"frame_time_unix"`
	Tracks   []Track `json:"tracks"`
	// Image is the encoded frame from the capture collaborator. The core
	// treats it as opaque bytes; it may be empty for analytics-only runs.
	Image []byte `json:"image,omitempty"`

	// Time is TimeUnix converted (and possibly corrected) by the pipeline.
	Time time.Time `json:"-"`
}

// Dist returns the euclidean distance between two track centroids.
func Dist(a, b Track) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Sanitize drops malformed tracks from a frame: non-finite coordinates,
// empty ids, unknown roles, and duplicate ids (first occurrence wins).
// A dropped track is indistinguishable from an occlusion downstream.
// Returns the number of tracks dropped.
func Sanitize(f *Frame) int {
	kept := f.Tracks[:0]
	seen := make(map[string]bool, len(f.Tracks))
	dropped := 0
	for _, tr := range f.Tracks {
		switch {
		case tr.ID == "":
			dropped++
		case tr.Role != RoleStaff && tr.Role != RoleCustomer:
			dropped++
		case !finite(tr.X) || !finite(tr.Y):
			dropped++
		case seen[tr.ID]:
			dropped++
		default:
			seen[tr.ID] = true
			kept = append(kept, tr)
		}
	}
	f.Tracks = kept
	return dropped
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MinTimeDelta is the synthetic step applied to non-monotonic frame times.
const MinTimeDelta = time.Millisecond

// TimeCorrector enforces strictly increasing frame times for one stream.
// A frame stamped at or before its predecessor is moved forward by
// MinTimeDelta past the previous frame, which prevents negative durations
// in every downstream state machine.
type TimeCorrector struct {
	last time.Time
}

// Correct fills f.Time from f.TimeUnix, nudging it forward if the stream
// went non-monotonic. Returns true when a correction was applied.
func (tc *TimeCorrector) Correct(f *Frame) bool {
	ts := time.Unix(0, int64(f.TimeUnix*1e9))
	corrected := false
	if !tc.last.IsZero() && !ts.After(tc.last) {
		ts = tc.last.Add(MinTimeDelta)
		corrected = true
	}
	tc.last = ts
	f.Time = ts
	return corrected
}
