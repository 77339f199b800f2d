package interaction

import (
	"testing"
	"time"

	"github.com/floorsight-data/floorsight/internal/event"
	"github.com/floorsight-data/floorsight/internal/track"
)

var testConfig = Config{
	Threshold:         100,
	MinDuration:       5 * time.Second,
	EndGrace:          2 * time.Second,
	MaxDuration:       60 * time.Second,
	StabilityFraction: 0.7,
}

var base = time.Unix(1_700_000_000, 0)

func at(secs float64) time.Time {
	return base.Add(time.Duration(secs * float64(time.Second)))
}

func pair(near bool) []track.Track {
	cx := 50.0
	if !near {
		cx = 500.0
	}
	return []track.Track{
		{ID: "s1", Role: track.RoleStaff, X: 0, Y: 0},
		{ID: "c1", Role: track.RoleCustomer, X: cx, Y: 0},
	}
}

// run advances the tracker at 10 fps from fromSecs (inclusive) to toSecs
// (exclusive), feeding the given tracks, and collects emitted events.
func run(t *Tracker, tracks []track.Track, fromSecs, toSecs float64) []event.Event {
	var out []event.Event
	for s := fromSecs; s < toSecs; s += 0.1 {
		out = append(out, t.Update(tracks, at(s))...)
	}
	return out
}

func kinds(events []event.Event) []event.Kind {
	var ks []event.Kind
	for _, e := range events {
		ks = append(ks, e.Kind)
	}
	return ks
}

func TestContinuousInteraction(t *testing.T) {
	tr := New("cam1", testConfig)

	events := run(tr, pair(true), 0, 20)
	// Proximity lost at t=20; grace expires at t=22.
	events = append(events, run(tr, pair(false), 20, 23)...)

	if len(events) != 2 {
		t.Fatalf("events = %v, want Started+Ended", kinds(events))
	}

	started, ended := events[0], events[1]
	if started.Kind != event.InteractionStarted || ended.Kind != event.InteractionEnded {
		t.Fatalf("kinds = %v", kinds(events))
	}
	if started.ID != ended.ID {
		t.Errorf("episode id mismatch: %s vs %s", started.ID, ended.ID)
	}
	if got := started.Time.Sub(base).Seconds(); got < 4.9 || got > 5.6 {
		t.Errorf("Started at t=%.1fs, want ~5s", got)
	}
	if got := ended.Duration.Seconds(); got < 19 || got > 21 {
		t.Errorf("duration = %.1fs, want ~20s", got)
	}
	if ended.Reason != event.ReasonProximityLost {
		t.Errorf("reason = %s, want %s", ended.Reason, event.ReasonProximityLost)
	}
}

func TestGraceBridgesBriefDrop(t *testing.T) {
	tr := New("cam1", testConfig)

	events := run(tr, pair(true), 0, 10)
	// Proximity lost t=10..11 (shorter than the 2s grace), then resumes.
	events = append(events, run(tr, pair(false), 10, 11)...)
	events = append(events, run(tr, pair(true), 11, 20)...)
	events = append(events, run(tr, pair(false), 20, 23)...)

	if len(events) != 2 {
		t.Fatalf("events = %v, want exactly Started+Ended (continuity law)", kinds(events))
	}
	ended := events[1]
	if got := ended.Start.Sub(base).Seconds(); got > 0.2 {
		t.Errorf("episode start = t=%.1fs, want original ~0s", got)
	}
	if got := ended.Duration.Seconds(); got < 19 || got > 21 {
		t.Errorf("duration = %.1fs, want ~20s across the drop", got)
	}
}

func TestMaxDurationForcesSplit(t *testing.T) {
	tr := New("cam1", testConfig)

	events := run(tr, pair(true), 0, 90)
	events = append(events, run(tr, pair(false), 90, 93)...)

	want := []event.Kind{
		event.InteractionStarted,
		event.InteractionEnded, // forced at 60s
		event.InteractionStarted,
		event.InteractionEnded,
	}
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", got, want)
		}
	}

	forced := events[1]
	if forced.Reason != event.ReasonTimeout {
		t.Errorf("forced end reason = %s, want %s", forced.Reason, event.ReasonTimeout)
	}
	if got := forced.Duration.Seconds(); got < 59 || got > 61 {
		t.Errorf("forced episode duration = %.1fs, want ~60s", got)
	}
	// Replacement episode opens in the same frame: continuous coverage.
	if !events[2].Time.Equal(forced.Time) {
		t.Errorf("replacement started at %v, want %v", events[2].Time, forced.Time)
	}
	if events[2].ID == events[0].ID {
		t.Error("replacement episode reused the previous event id")
	}
}

func TestUnstableProximityNeverConfirms(t *testing.T) {
	tr := New("cam1", testConfig)

	// Alternate near/far every 0.5s: fraction hovers near 0.5 < 0.7, and
	// the 2s grace keeps bridging, so no episode ever confirms.
	var events []event.Event
	for s := 0.0; s < 30; s += 1.0 {
		events = append(events, run(tr, pair(true), s, s+0.5)...)
		events = append(events, run(tr, pair(false), s+0.5, s+1.0)...)
	}

	if len(events) != 0 {
		t.Errorf("events = %v, want none for unstable proximity", kinds(events))
	}
}

func TestCustomerBindsToNearestStaff(t *testing.T) {
	tr := New("cam1", testConfig)

	tracks := []track.Track{
		{ID: "s1", Role: track.RoleStaff, X: 80, Y: 0},
		{ID: "s2", Role: track.RoleStaff, X: 20, Y: 0},
		{ID: "c1", Role: track.RoleCustomer, X: 0, Y: 0},
	}
	events := run(tr, tracks, 0, 10)

	if len(events) != 1 {
		t.Fatalf("events = %v, want a single Started", kinds(events))
	}
	if events[0].StaffID != "s2" {
		t.Errorf("bound staff = %s, want nearest s2", events[0].StaffID)
	}
	if tr.LiveEpisodes() != 1 {
		t.Errorf("live episodes = %d, want 1 (one per customer)", tr.LiveEpisodes())
	}
}

func TestActiveCustomersIncludesCooling(t *testing.T) {
	tr := New("cam1", testConfig)

	run(tr, pair(true), 0, 10)
	if !tr.ActiveCustomers()["c1"] {
		t.Fatal("c1 should be active after 10s of proximity")
	}

	// Within the grace period the customer still counts as attended.
	run(tr, pair(false), 10, 11)
	if !tr.ActiveCustomers()["c1"] {
		t.Error("c1 should remain active while cooling inside the grace period")
	}

	run(tr, pair(false), 11, 13)
	if tr.ActiveCustomers()["c1"] {
		t.Error("c1 should not be active after the grace period expires")
	}
}

func TestOcclusionCountsAgainstContinuity(t *testing.T) {
	tr := New("cam1", testConfig)

	// Customer vanishes entirely (occlusion) rather than moving away.
	staffOnly := []track.Track{{ID: "s1", Role: track.RoleStaff, X: 0, Y: 0}}

	events := run(tr, pair(true), 0, 10)
	events = append(events, run(tr, staffOnly, 10, 13)...)

	if len(events) != 2 || events[1].Kind != event.InteractionEnded {
		t.Fatalf("events = %v, want Started then Ended via occlusion", kinds(events))
	}
	// End time is the last frame the pair was actually seen together.
	if got := events[1].End.Sub(base).Seconds(); got > 10.1 {
		t.Errorf("end = t=%.1fs, want ~10s (last seen)", got)
	}
}
