package analytics

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/floorsight-data/floorsight/internal/event"
)

var base = time.Unix(1_700_000_000, 0)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analytics.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func interactionPair(id string, start, end time.Time) (event.Event, event.Event) {
	return event.Event{
			ID:         id,
			Kind:       event.InteractionStarted,
			StreamID:   "cam1",
			StaffID:    "s1",
			CustomerID: "c1",
			Time:       start,
			Start:      start,
		}, event.Event{
			ID:       id,
			Kind:     event.InteractionEnded,
			StreamID: "cam1",
			Time:     end,
			Start:    start,
			End:      end,
			Duration: end.Sub(start),
			Reason:   event.ReasonProximityLost,
		}
}

func TestMigrationsApply(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Fatal("schema dirty after Open")
	}
	if version == 0 {
		t.Fatal("no migrations applied")
	}
}

func TestEpisodeLifecycle(t *testing.T) {
	s := openTestStore(t)
	started, ended := interactionPair("ep1", base, base.Add(20*time.Second))

	if err := s.StartEpisode(started); err != nil {
		t.Fatal(err)
	}
	rec, err := s.GetRecord("ep1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Open() {
		t.Error("record should be open before the episode ends")
	}
	if rec.StaffID != "s1" || rec.CustomerID != "c1" {
		t.Errorf("participants = %s/%s", rec.StaffID, rec.CustomerID)
	}

	if err := s.EndEpisode(ended); err != nil {
		t.Fatal(err)
	}
	rec, err = s.GetRecord("ep1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Open() {
		t.Error("record still open after EndEpisode")
	}
	if rec.Duration != 20*time.Second {
		t.Errorf("duration = %v, want 20s", rec.Duration)
	}
	if rec.Reason != event.ReasonProximityLost {
		t.Errorf("reason = %q", rec.Reason)
	}
}

func TestEndUnknownEpisode(t *testing.T) {
	s := openTestStore(t)
	_, ended := interactionPair("ghost", base, base.Add(time.Second))
	if err := s.EndEpisode(ended); !errors.Is(err, ErrUnknownEpisode) {
		t.Errorf("err = %v, want ErrUnknownEpisode", err)
	}
}

func TestLinkEvidenceIsWriteOnce(t *testing.T) {
	s := openTestStore(t)
	started, _ := interactionPair("ep1", base, base.Add(20*time.Second))
	if err := s.StartEpisode(started); err != nil {
		t.Fatal(err)
	}

	// Evidence can attach while the episode is still open.
	ok, err := s.LinkEvidence("ep1", "ref-1", "https://cdn/ref-1", "inc-9", base.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first link rejected")
	}

	// A retried or duplicate upload must not overwrite the first clip.
	ok, err = s.LinkEvidence("ep1", "ref-2", "", "", base.Add(11*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second link overwrote evidence")
	}

	rec, err := s.GetRecord("ep1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.UploadedRef != "ref-1" {
		t.Errorf("uploaded_ref = %q, want the first upload kept", rec.UploadedRef)
	}
	if rec.IncidentID != "inc-9" {
		t.Errorf("incident_id = %q", rec.IncidentID)
	}

	if _, err := s.LinkEvidence("ghost", "ref", "", "", base); !errors.Is(err, ErrUnknownEpisode) {
		t.Errorf("err = %v for unknown episode, want ErrUnknownEpisode", err)
	}
}

func TestLinkerSkipsUnknownEpisodes(t *testing.T) {
	s := openTestStore(t)
	started, _ := interactionPair("ep1", base, base.Add(20*time.Second))
	if err := s.StartEpisode(started); err != nil {
		t.Fatal(err)
	}

	l := NewLinker(s)
	ev := Evidence{
		SegmentID:   "seg1",
		EventIDs:    []string{"ep1", "ghost"},
		UploadedRef: "ref-1",
		Time:        base.Add(30 * time.Second),
	}
	if err := l.Apply(ev); err != nil {
		t.Fatal(err)
	}
	// Idempotent: a redelivered completion changes nothing.
	if err := l.Apply(ev); err != nil {
		t.Fatal(err)
	}

	rec, err := s.GetRecord("ep1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.UploadedRef != "ref-1" {
		t.Errorf("uploaded_ref = %q", rec.UploadedRef)
	}
}

func seedSummaryData(t *testing.T, s *Store) {
	t.Helper()

	for i, dur := range []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second} {
		id := string(rune('a' + i))
		start := base.Add(time.Duration(i) * time.Minute)
		started, ended := interactionPair("int-"+id, start, start.Add(dur))
		if err := s.StartEpisode(started); err != nil {
			t.Fatal(err)
		}
		if err := s.EndEpisode(ended); err != nil {
			t.Fatal(err)
		}
	}

	outcomes := []string{event.ResolutionServed, event.ResolutionServed, event.ResolutionAbandoned}
	for i, res := range outcomes {
		id := "q-" + string(rune('a'+i))
		start := base.Add(time.Duration(i) * time.Minute)
		if err := s.StartEpisode(event.Event{
			ID: id, Kind: event.QueueJoined, StreamID: "cam1",
			CustomerID: "c1", Zone: "checkout", Start: start, Position: i + 1,
		}); err != nil {
			t.Fatal(err)
		}
		if err := s.EndEpisode(event.Event{
			ID: id, Kind: event.QueueLeft, Start: start,
			End: start.Add(time.Minute), Duration: time.Minute, Resolution: res,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.LinkEvidence("int-a", "ref-1", "", "", base); err != nil {
		t.Fatal(err)
	}
}

func TestSummarize(t *testing.T) {
	s := openTestStore(t)
	seedSummaryData(t, s)

	sum, err := s.Summarize(base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if sum.SchemaVersion != SchemaVersion {
		t.Errorf("schema_version = %q, want %q", sum.SchemaVersion, SchemaVersion)
	}
	if sum.Interactions.Count != 3 {
		t.Errorf("interaction count = %d, want 3", sum.Interactions.Count)
	}
	if sum.Interactions.MeanSeconds != 20 {
		t.Errorf("interaction mean = %.1f, want 20", sum.Interactions.MeanSeconds)
	}
	if sum.Interactions.MinSeconds != 10 || sum.Interactions.MaxSeconds != 30 {
		t.Errorf("interaction min/max = %.0f/%.0f, want 10/30",
			sum.Interactions.MinSeconds, sum.Interactions.MaxSeconds)
	}
	if sum.QueueOutcomes[event.ResolutionServed] != 2 {
		t.Errorf("served = %d, want 2", sum.QueueOutcomes[event.ResolutionServed])
	}
	if sum.QueueOutcomes[event.ResolutionAbandoned] != 1 {
		t.Errorf("abandoned = %d, want 1", sum.QueueOutcomes[event.ResolutionAbandoned])
	}
	if sum.EvidenceCount != 1 {
		t.Errorf("evidence = %d, want 1", sum.EvidenceCount)
	}

	// All seeded episodes start within one hour of each other.
	if len(sum.Hourly) != 1 {
		t.Fatalf("hourly buckets = %d, want 1", len(sum.Hourly))
	}
	if b := sum.Hourly[0]; b.Interactions != 3 || b.Queues != 3 || b.Unattended != 0 {
		t.Errorf("hourly bucket = %+v", b)
	}

	// A window before the data is empty.
	empty, err := s.Summarize(base.Add(-2*time.Hour), base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if empty.Interactions.Count != 0 || empty.EvidenceCount != 0 {
		t.Errorf("expected empty window, got %+v", empty)
	}
}

func TestWriteSummaryJSON(t *testing.T) {
	s := openTestStore(t)
	seedSummaryData(t, s)

	var buf bytes.Buffer
	if err := s.WriteSummary(&buf, base.Add(-time.Hour), base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if decoded["schema_version"] != SchemaVersion {
		t.Errorf("schema_version = %v", decoded["schema_version"])
	}
	if _, ok := decoded["queue_outcomes"]; !ok {
		t.Error("queue_outcomes missing from export")
	}
}

func TestSummaryWorkerRunOnce(t *testing.T) {
	s := openTestStore(t)
	seedSummaryData(t, s)

	w := NewSummaryWorker(s, 24*365*time.Hour)
	sum, err := w.RunOnce(base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Interactions.Count != 3 {
		t.Errorf("interaction count = %d, want 3", sum.Interactions.Count)
	}

	// The window was persisted; re-running the same window replaces it.
	if _, err := w.RunOnce(base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	var rows, count int
	err = s.QueryRow(`
		SELECT COUNT(*), MAX(episode_count) FROM analytics_summaries
		WHERE kind = ?`, string(event.InteractionStarted)).Scan(&rows, &count)
	if err != nil {
		t.Fatal(err)
	}
	if rows != 1 || count != 3 {
		t.Errorf("persisted summaries = %d rows, count %d; want 1 row, count 3", rows, count)
	}
}

func TestSchemaMetaVersion(t *testing.T) {
	s := openTestStore(t)
	v, err := s.MetaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != SchemaVersion {
		t.Errorf("schema_meta version = %q, want %q", v, SchemaVersion)
	}
}
