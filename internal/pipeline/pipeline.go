// Package pipeline wires the per-stream trackers, the segment controller
// and the stores into a frame-in, events-out processing path.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/floorsight-data/floorsight/internal/analytics"
	"github.com/floorsight-data/floorsight/internal/config"
	"github.com/floorsight-data/floorsight/internal/event"
	"github.com/floorsight-data/floorsight/internal/fsutil"
	"github.com/floorsight-data/floorsight/internal/interaction"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/queue"
	"github.com/floorsight-data/floorsight/internal/segment"
	"github.com/floorsight-data/floorsight/internal/track"
	"github.com/floorsight-data/floorsight/internal/unattended"
	"github.com/floorsight-data/floorsight/internal/upload"
)

// Stats counts what a stream has processed.
type Stats struct {
	Frames         int
	DroppedTracks  int
	Events         int
	Segments       int
	StorageErrors  int
	CorrectedTimes int
}

// Stream processes one camera feed. All per-entity state lives here, so
// streams never share trackers. Not safe for concurrent use; the Manager
// serializes frames per stream.
type Stream struct {
	id string

	corrector    track.TimeCorrector
	interactions *interaction.Tracker
	unattended   *unattended.Monitor
	queues       *queue.Tracker
	controller   *segment.Controller

	store *analytics.Store
	pool  *upload.Pool

	stats Stats
}

// NewStream builds the trackers for one stream from the tuning config.
func NewStream(id string, cfg *config.TuningConfig, store *analytics.Store, pool *upload.Pool, fsys fsutil.FileSystem) (*Stream, error) {
	triggers := make(map[event.Kind]bool)
	for _, k := range cfg.GetSegmentTriggers() {
		triggers[event.Kind(k)] = true
	}

	controller, err := segment.New(id, segment.Config{
		Dir:           cfg.GetSegmentDir(),
		Triggers:      triggers,
		PrerollWindow: cfg.GetSegmentPrerollWindow(),
		PrerollFrames: cfg.GetSegmentPrerollFrames(),
		MinDuration:   cfg.GetSegmentMinDuration(),
		MaxDuration:   cfg.GetSegmentMaxDuration(),
		GracePeriod:   cfg.GetSegmentGracePeriod(),
	}, fsys)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", id, err)
	}

	return &Stream{
		id: id,
		interactions: interaction.New(id, interaction.Config{
			Threshold:         cfg.GetInteractionThreshold(),
			MinDuration:       cfg.GetMinInteractionDuration(),
			EndGrace:          cfg.GetInteractionEndGracePeriod(),
			MaxDuration:       cfg.GetMaxInteractionDuration(),
			StabilityFraction: cfg.GetInteractionStability(),
		}),
		unattended: unattended.New(id, unattended.Config{
			StaffRadius:       cfg.GetUnattendedThreshold(),
			ConfirmationTimer: cfg.GetUnattendedConfirmationTimer(),
			GracePeriod:       cfg.GetUnattendedGracePeriod(),
		}),
		queues: queue.New(id, queue.Config{
			ValidationPeriod:   cfg.GetQueueValidationPeriod(),
			StabilityThreshold: cfg.GetQueueStabilityThreshold(),
			Capacity:           cfg.GetQueueCapacity(),
			ExitGrace:          cfg.GetQueueExitGrace(),
			ServedWindow:       cfg.GetQueueServedWindow(),
			ArchiveHorizon:     cfg.GetQueueArchiveHorizon(),
		}),
		controller: controller,
		store:      store,
		pool:       pool,
	}, nil
}

// ProcessFrame runs one frame through the trackers, persists the emitted
// events and feeds the segment controller. Storage problems are counted
// and logged but do not stop the stream.
func (s *Stream) ProcessFrame(f *track.Frame) []event.Event {
	s.stats.Frames++
	s.stats.DroppedTracks += track.Sanitize(f)
	if s.corrector.Correct(f) {
		s.stats.CorrectedTimes++
	}
	now := f.Time

	events := s.interactions.Update(f.Tracks, now)
	active := s.interactions.ActiveCustomers()
	events = append(events, s.unattended.Update(f.Tracks, active, now)...)
	events = append(events, s.queues.Update(f.Tracks, active, now)...)
	s.stats.Events += len(events)

	for _, e := range events {
		var err error
		switch {
		case e.IsStart():
			err = s.store.StartEpisode(e)
		case e.IsEnd():
			err = s.store.EndEpisode(e)
		}
		if err != nil {
			s.stats.StorageErrors++
			monitoring.Logf("pipeline: persist %s %s: %v", e.Kind, e.ID, err)
		}
	}

	segs, err := s.controller.Update(*f, events, now)
	if err != nil {
		s.stats.StorageErrors++
		monitoring.Logf("pipeline: stream %s segment storage: %v", s.id, err)
	}
	s.submit(segs)

	return events
}

// Close finalizes any in-flight clip and hands it to the uploader.
func (s *Stream) Close(now time.Time) error {
	segs, err := s.controller.Close(now)
	s.submit(segs)
	return err
}

// Stats returns a copy of the stream counters.
func (s *Stream) Stats() Stats { return s.stats }

func (s *Stream) submit(segs []segment.Segment) {
	for _, seg := range segs {
		s.stats.Segments++
		if s.pool != nil {
			s.pool.Enqueue(seg)
		}
	}
}

// Manager routes frames to per-stream pipelines, creating them lazily as
// new stream ids show up.
type Manager struct {
	cfg   *config.TuningConfig
	store *analytics.Store
	pool  *upload.Pool
	fs    fsutil.FileSystem

	mu      sync.Mutex
	streams map[string]*Stream
}

func NewManager(cfg *config.TuningConfig, store *analytics.Store, pool *upload.Pool, fsys fsutil.FileSystem) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		pool:    pool,
		fs:      fsys,
		streams: make(map[string]*Stream),
	}
}

// ProcessFrame routes one frame by its stream id. Frames for the same
// stream must arrive from a single goroutine; different streams may be
// fed concurrently.
func (m *Manager) ProcessFrame(f *track.Frame) ([]event.Event, error) {
	if f.StreamID == "" {
		return nil, fmt.Errorf("pipeline: frame without stream id")
	}
	s, err := m.stream(f.StreamID)
	if err != nil {
		return nil, err
	}
	return s.ProcessFrame(f), nil
}

func (m *Manager) stream(id string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	s, err := NewStream(id, m.cfg, m.store, m.pool, m.fs)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("pipeline: stream %s started", id)
	m.streams[id] = s
	return s, nil
}

// Close finalizes every stream's in-flight clip.
func (m *Manager) Close(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, s := range m.streams {
		if err := s.Close(now); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stream %s: %w", id, err)
		}
	}
	return firstErr
}

// Stats returns the per-stream counters keyed by stream id.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.streams))
	for id, s := range m.streams {
		out[id] = s.Stats()
	}
	return out
}
