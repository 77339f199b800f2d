// Package segment records evidence clips around triggering events. A
// controller buffers recent frames so a clip can begin shortly before the
// event that triggered it, and finalizes clips once every triggering
// episode has ended.
package segment

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/floorsight-data/floorsight/internal/event"
	"github.com/floorsight-data/floorsight/internal/fsutil"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/track"
)

// State is the controller's recording state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	// StateGrace is entered when the last open trigger episode ends; the
	// clip keeps recording briefly so it captures the aftermath, and a
	// new trigger inside the window reuses it instead of opening another.
	StateGrace State = "grace"
)

// Config carries the controller tuning knobs.
type Config struct {
	// Dir is the directory clip files are written into.
	Dir string
	// Triggers is the set of event kinds that open a recording. End kinds
	// are derived: the matching Ended/Left kind releases the trigger.
	Triggers map[event.Kind]bool
	// PrerollWindow bounds how far back buffered frames are replayed into
	// a new clip.
	PrerollWindow time.Duration
	// PrerollFrames caps the preroll buffer size.
	PrerollFrames int
	// MinDuration discards clips shorter than this.
	MinDuration time.Duration
	// MaxDuration splits a clip that grows past this.
	MaxDuration time.Duration
	// GracePeriod is how long recording continues after the last open
	// trigger ends.
	GracePeriod time.Duration
}

// Segment is a finalized clip ready for upload.
type Segment struct {
	ID       string
	StreamID string
	Path     string
	Start    time.Time
	End      time.Time
	Frames   int
	// TriggerEventIDs are the episode ids that triggered or extended the
	// clip, in the order they attached.
	TriggerEventIDs []string
}

type recording struct {
	id     string
	path   string
	writer *ClipWriter
	start  time.Time
	last   time.Time

	open       map[string]bool // trigger episode ids still running
	triggerIDs []string        // every trigger id, attachment order
	graceSince time.Time
}

// Controller runs the recording state machine for one stream. Not safe
// for concurrent use.
type Controller struct {
	cfg      Config
	streamID string
	fs       fsutil.FileSystem
	preroll  *Ring[track.Frame]
	state    State
	cur      *recording
}

func New(streamID string, cfg Config, fsys fsutil.FileSystem) (*Controller, error) {
	if err := fsys.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment dir %s: %w", cfg.Dir, err)
	}
	return &Controller{
		cfg:      cfg,
		streamID: streamID,
		fs:       fsys,
		preroll:  NewRing[track.Frame](cfg.PrerollFrames),
		state:    StateIdle,
	}, nil
}

// State returns the current recording state.
func (c *Controller) State() State { return c.state }

// Update feeds one frame and the events emitted for it. It returns any
// clips finalized by this frame. Storage failures abandon the current
// clip and are returned, but the controller stays usable: the next
// trigger opens a fresh recording.
func (c *Controller) Update(frame track.Frame, events []event.Event, now time.Time) ([]Segment, error) {
	var done []Segment

	for _, e := range events {
		switch {
		case e.IsStart() && c.cfg.Triggers[e.Kind]:
			if err := c.attach(e, now); err != nil {
				return done, c.abandon(err)
			}
		case e.IsEnd() && c.cur != nil && c.cur.open[e.ID]:
			delete(c.cur.open, e.ID)
			if len(c.cur.open) == 0 {
				c.state = StateGrace
				c.cur.graceSince = now
			}
		}
	}

	if c.cur != nil {
		if err := c.cur.writer.WriteFrame(frame.Time, frame.Image); err != nil {
			return done, c.abandon(err)
		}
		c.cur.last = frame.Time

		switch {
		case c.state == StateGrace && now.Sub(c.cur.graceSince) >= c.cfg.GracePeriod:
			if seg, ok := c.finalize(now); ok {
				done = append(done, seg)
			}
		case now.Sub(c.cur.start) >= c.cfg.MaxDuration:
			seg, err := c.split(now)
			if err != nil {
				return done, err
			}
			if seg != nil {
				done = append(done, *seg)
			}
		}
	}

	c.preroll.Push(frame)
	return done, nil
}

// Close finalizes any in-flight clip, for shutdown.
func (c *Controller) Close(now time.Time) ([]Segment, error) {
	if c.cur == nil {
		return nil, nil
	}
	if seg, ok := c.finalize(now); ok {
		return []Segment{seg}, nil
	}
	return nil, nil
}

// attach routes a trigger event into the current recording, opening one
// if the controller is idle.
func (c *Controller) attach(e event.Event, now time.Time) error {
	if c.cur == nil {
		rec, err := c.openRecording(now)
		if err != nil {
			return err
		}
		c.cur = rec
	}
	c.state = StateRecording
	if !c.cur.open[e.ID] {
		c.cur.open[e.ID] = true
		c.cur.triggerIDs = append(c.cur.triggerIDs, e.ID)
	}
	return nil
}

// openRecording creates a clip file and replays the preroll buffer into it.
func (c *Controller) openRecording(now time.Time) (*recording, error) {
	id := uuid.New().String()
	path := filepath.Join(c.cfg.Dir, fmt.Sprintf("%s_%d_%s.clip", c.streamID, now.UnixMilli(), id[:8]))
	w, err := NewClipWriter(c.fs, path)
	if err != nil {
		return nil, err
	}

	rec := &recording{
		id:     id,
		path:   path,
		writer: w,
		start:  now,
		last:   now,
		open:   make(map[string]bool),
	}
	cutoff := now.Add(-c.cfg.PrerollWindow)
	for _, f := range c.preroll.Items() {
		if f.Time.Before(cutoff) {
			continue
		}
		if err := w.WriteFrame(f.Time, f.Image); err != nil {
			w.Close()
			c.fs.Remove(path)
			return nil, err
		}
		if f.Time.Before(rec.start) {
			rec.start = f.Time
		}
	}
	monitoring.Logf("segment: recording %s opened (%d preroll frames)", path, w.Frames())
	return rec, nil
}

// finalize closes the current clip. Clips shorter than MinDuration are
// noise and are deleted instead of returned.
func (c *Controller) finalize(now time.Time) (Segment, bool) {
	rec := c.cur
	c.cur = nil
	c.state = StateIdle

	if err := rec.writer.Close(); err != nil {
		monitoring.Logf("segment: close %s: %v", rec.path, err)
		c.fs.Remove(rec.path)
		return Segment{}, false
	}
	if rec.last.Sub(rec.start) < c.cfg.MinDuration {
		monitoring.Debugf("segment: discarding short clip %s (%v)", rec.path, rec.last.Sub(rec.start))
		c.fs.Remove(rec.path)
		return Segment{}, false
	}

	monitoring.Logf("segment: finalized %s (%d frames, %v)", rec.path, rec.writer.Frames(), rec.last.Sub(rec.start))
	return Segment{
		ID:              rec.id,
		StreamID:        c.streamID,
		Path:            rec.path,
		Start:           rec.start,
		End:             rec.last,
		Frames:          rec.writer.Frames(),
		TriggerEventIDs: rec.triggerIDs,
	}, true
}

// split finalizes an over-long clip and, when trigger episodes are still
// open, continues into a fresh one without preroll so coverage has no gap.
func (c *Controller) split(now time.Time) (*Segment, error) {
	prev := c.cur
	wasGrace := c.state == StateGrace
	openIDs := make([]string, 0, len(prev.open))
	for id := range prev.open {
		openIDs = append(openIDs, id)
	}
	sort.Strings(openIDs)

	seg, ok := c.finalize(now)

	if len(openIDs) > 0 || wasGrace {
		id := uuid.New().String()
		path := filepath.Join(c.cfg.Dir, fmt.Sprintf("%s_%d_%s.clip", c.streamID, now.UnixMilli(), id[:8]))
		w, err := NewClipWriter(c.fs, path)
		if err != nil {
			if ok {
				return &seg, err
			}
			return nil, err
		}
		c.cur = &recording{
			id:         id,
			path:       path,
			writer:     w,
			start:      now,
			last:       now,
			open:       make(map[string]bool),
			triggerIDs: openIDs,
			graceSince: prev.graceSince,
		}
		for _, tid := range openIDs {
			c.cur.open[tid] = true
		}
		if wasGrace && len(openIDs) == 0 {
			c.state = StateGrace
		} else {
			c.state = StateRecording
		}
	}

	if !ok {
		return nil, nil
	}
	return &seg, nil
}

// abandon drops the current recording after a storage failure.
func (c *Controller) abandon(err error) error {
	if c.cur != nil {
		c.cur.writer.Close()
		c.fs.Remove(c.cur.path)
		monitoring.Logf("segment: abandoning %s: %v", c.cur.path, err)
		c.cur = nil
	}
	c.state = StateIdle
	return err
}
