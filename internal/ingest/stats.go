// Package ingest feeds frames into the pipeline from NDJSON streams, UDP
// datagrams, or recorded pcap captures.
package ingest

import (
	"sync"
	"time"

	"github.com/floorsight-data/floorsight/internal/monitoring"
)

// FrameStats tracks ingest counters across sources. Safe for concurrent use.
type FrameStats struct {
	mu        sync.Mutex
	frames    int64
	bytes     int64
	malformed int64
	rejected  int64
	since     time.Time
}

func NewFrameStats() *FrameStats {
	return &FrameStats{since: time.Now()}
}

// AddFrame records one decoded frame of the given wire size.
func (s *FrameStats) AddFrame(bytes int) {
	s.mu.Lock()
	s.frames++
	s.bytes += int64(bytes)
	s.mu.Unlock()
}

// AddMalformed records a payload that did not decode.
func (s *FrameStats) AddMalformed() {
	s.mu.Lock()
	s.malformed++
	s.mu.Unlock()
}

// AddRejected records a decoded frame the pipeline refused.
func (s *FrameStats) AddRejected() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

// Snapshot returns the counters since the last snapshot and resets them.
func (s *FrameStats) Snapshot() (frames, bytes, malformed, rejected int64, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	frames, bytes, malformed, rejected = s.frames, s.bytes, s.malformed, s.rejected
	window = now.Sub(s.since)
	s.frames, s.bytes, s.malformed, s.rejected = 0, 0, 0, 0
	s.since = now
	return
}

// LogStats emits one stats line and resets the window.
func (s *FrameStats) LogStats() {
	frames, bytes, malformed, rejected, window := s.Snapshot()
	secs := window.Seconds()
	if secs <= 0 {
		secs = 1
	}
	monitoring.Logf("ingest: %d frames (%.1f/s), %d KB, %d malformed, %d rejected",
		frames, float64(frames)/secs, bytes/1024, malformed, rejected)
}
