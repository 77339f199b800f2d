// Package queue tracks customer dwell inside designated queue zones and
// turns it into QueueJoined/QueueLeft events with live positions.
package queue

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/floorsight-data/floorsight/internal/event"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/track"
)

// EntryState is the lifecycle of one customer inside a queue zone.
type EntryState string

const (
	// StateTentative is a customer recently seen in the zone whose
	// membership has not been validated yet. No events are emitted for
	// tentative entries.
	StateTentative EntryState = "tentative"
	// StateWaiting is a validated member holding a position.
	StateWaiting EntryState = "waiting"
	// StateOverflow is a validated member beyond the zone capacity. It
	// holds a position past the capacity and is promoted to waiting as
	// earlier members leave.
	StateOverflow EntryState = "overflow"
)

// Config carries the queue tuning knobs. See config.TuningConfig for the
// defaults and the on-disk representation.
type Config struct {
	// ValidationPeriod is how long a customer must dwell in the zone
	// before membership is confirmed.
	ValidationPeriod time.Duration
	// StabilityThreshold is the minimum fraction of frames the customer
	// must actually be observed in the zone during validation.
	StabilityThreshold float64
	// Capacity is the number of waiting positions; members beyond it are
	// tracked as overflow.
	Capacity int
	// ExitGrace is how long a member may go unseen before it is treated
	// as having left the zone.
	ExitGrace time.Duration
	// ServedWindow is how long after leaving we wait for a staff
	// interaction before classifying the departure as abandoned.
	ServedWindow time.Duration
	// ArchiveHorizon caps how long a member may wait; members past it are
	// compacted into the zone's archive aggregate.
	ArchiveHorizon time.Duration
}

// ArchiveStats is the compacted aggregate of archived waits for one zone.
// Durations are in seconds.
type ArchiveStats struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
}

func (a *ArchiveStats) merge(durations []float64) {
	if len(durations) == 0 {
		return
	}
	mn, mx := durations[0], durations[0]
	for _, d := range durations[1:] {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
	}
	mean := stat.Mean(durations, nil)
	if a.Count == 0 {
		a.Count, a.Min, a.Max, a.Mean = len(durations), mn, mx, mean
		return
	}
	if mn < a.Min {
		a.Min = mn
	}
	if mx > a.Max {
		a.Max = mx
	}
	// Weighted merge of the two means.
	n := float64(a.Count)
	m := float64(len(durations))
	a.Mean = (a.Mean*n + mean*m) / (n + m)
	a.Count += len(durations)
}

type entry struct {
	eventID    string
	customerID string
	state      EntryState
	joined     time.Time
	lastSeen   time.Time
	position   int
	framesIn   int
	framesSeen int
}

func (e *entry) fraction() float64 {
	if e.framesSeen == 0 {
		return 0
	}
	return float64(e.framesIn) / float64(e.framesSeen)
}

// pendingLeave holds a departed member while we wait to learn whether the
// departure led to a staff interaction.
type pendingLeave struct {
	entry    *entry
	leftAt   time.Time
	deadline time.Time
}

type zoneQueue struct {
	zone      string
	tentative map[string]*entry
	members   map[string]*entry
	order     []*entry // members by join time; index+1 is the position
	pending   []*pendingLeave
	archive   ArchiveStats
}

// Tracker runs one queue state machine per zone for a single stream.
// It is not safe for concurrent use; the owning pipeline serializes frames.
type Tracker struct {
	cfg      Config
	streamID string
	zones    map[string]*zoneQueue
}

func New(streamID string, cfg Config) *Tracker {
	return &Tracker{
		cfg:      cfg,
		streamID: streamID,
		zones:    make(map[string]*zoneQueue),
	}
}

// Update feeds one frame of tracks. activeCustomers marks customers
// currently inside a confirmed staff interaction; it decides whether a
// departure counts as served. Events are returned in emission order.
func (t *Tracker) Update(tracks []track.Track, activeCustomers map[string]bool, now time.Time) []event.Event {
	present := make(map[string]map[string]bool) // zone -> customer ids
	for _, tr := range tracks {
		if tr.Role != track.RoleCustomer || tr.Zone == "" {
			continue
		}
		if present[tr.Zone] == nil {
			present[tr.Zone] = make(map[string]bool)
		}
		present[tr.Zone][tr.ID] = true
	}
	for zone := range present {
		if _, ok := t.zones[zone]; !ok {
			t.zones[zone] = &zoneQueue{
				zone:      zone,
				tentative: make(map[string]*entry),
				members:   make(map[string]*entry),
			}
		}
	}

	var events []event.Event
	for _, zone := range t.sortedZones() {
		events = append(events, t.updateZone(t.zones[zone], present[zone], activeCustomers, now)...)
	}
	return events
}

func (t *Tracker) updateZone(zq *zoneQueue, present map[string]bool, active map[string]bool, now time.Time) []event.Event {
	var events []event.Event

	// Advance tentative entries: confirm, expire, or keep counting.
	for _, cid := range sortedEntryIDs(zq.tentative) {
		e := zq.tentative[cid]
		e.framesSeen++
		if present[cid] {
			e.framesIn++
			e.lastSeen = now
		} else if now.Sub(e.lastSeen) >= t.cfg.ExitGrace {
			delete(zq.tentative, cid)
			continue
		}
		if now.Sub(e.joined) < t.cfg.ValidationPeriod {
			continue
		}
		delete(zq.tentative, cid)
		if e.fraction() < t.cfg.StabilityThreshold {
			monitoring.Debugf("queue: %s failed validation in zone %s (%.0f%% presence)", cid, zq.zone, e.fraction()*100)
			continue
		}
		e.eventID = uuid.New().String()
		zq.members[cid] = e
		zq.order = append(zq.order, e)
		sort.Slice(zq.order, func(i, j int) bool {
			if !zq.order[i].joined.Equal(zq.order[j].joined) {
				return zq.order[i].joined.Before(zq.order[j].joined)
			}
			return zq.order[i].customerID < zq.order[j].customerID
		})
		t.renumber(zq)
		monitoring.Logf("queue: %s joined zone %s at position %d (stream %s)", cid, zq.zone, e.position, t.streamID)
		events = append(events, event.Event{
			ID:         e.eventID,
			Kind:       event.QueueJoined,
			StreamID:   t.streamID,
			CustomerID: cid,
			Zone:       zq.zone,
			Time:       now,
			Start:      e.joined,
			Position:   e.position,
			Overflow:   e.state == StateOverflow,
		})
	}

	// Detect departures among confirmed members.
	var departed []*entry
	for _, e := range zq.order {
		if present[e.customerID] {
			e.lastSeen = now
			continue
		}
		if now.Sub(e.lastSeen) >= t.cfg.ExitGrace {
			departed = append(departed, e)
		}
	}
	for _, e := range departed {
		t.remove(zq, e)
		zq.pending = append(zq.pending, &pendingLeave{
			entry:    e,
			leftAt:   e.lastSeen,
			deadline: e.lastSeen.Add(t.cfg.ServedWindow),
		})
	}
	if len(departed) > 0 {
		t.renumber(zq)
	}

	// Resolve departures: a staff interaction inside the window means the
	// customer was served; otherwise they abandoned the queue.
	var unresolved []*pendingLeave
	for _, pl := range zq.pending {
		switch {
		case active[pl.entry.customerID]:
			events = append(events, t.left(zq, pl.entry, pl.leftAt, now, event.ResolutionServed))
		case now.After(pl.deadline):
			events = append(events, t.left(zq, pl.entry, pl.leftAt, now, event.ResolutionAbandoned))
		default:
			unresolved = append(unresolved, pl)
		}
	}
	zq.pending = unresolved

	// Compact members past the archive horizon into the zone aggregate.
	var archived []*entry
	for _, e := range zq.order {
		if now.Sub(e.joined) >= t.cfg.ArchiveHorizon {
			archived = append(archived, e)
		}
	}
	if len(archived) > 0 {
		durations := make([]float64, 0, len(archived))
		for _, e := range archived {
			t.remove(zq, e)
			durations = append(durations, now.Sub(e.joined).Seconds())
			events = append(events, t.left(zq, e, now, now, event.ResolutionArchived))
		}
		zq.archive.merge(durations)
		t.renumber(zq)
		monitoring.Logf("queue: archived %d long waits in zone %s (total %d)", len(archived), zq.zone, zq.archive.Count)
	}

	// Start tracking customers newly seen in the zone.
	for _, cid := range sortedIDs(present) {
		if _, ok := zq.members[cid]; ok {
			continue
		}
		if _, ok := zq.tentative[cid]; ok {
			continue
		}
		zq.tentative[cid] = &entry{
			customerID: cid,
			state:      StateTentative,
			joined:     now,
			lastSeen:   now,
			framesIn:   1,
			framesSeen: 1,
		}
	}

	return events
}

// renumber reassigns positions by join order and reconciles the waiting
// and overflow split against the configured capacity.
func (t *Tracker) renumber(zq *zoneQueue) {
	for i, e := range zq.order {
		e.position = i + 1
		if t.cfg.Capacity > 0 && e.position > t.cfg.Capacity {
			e.state = StateOverflow
		} else {
			e.state = StateWaiting
		}
	}
}

func (t *Tracker) remove(zq *zoneQueue, e *entry) {
	delete(zq.members, e.customerID)
	for i, o := range zq.order {
		if o == e {
			zq.order = append(zq.order[:i], zq.order[i+1:]...)
			break
		}
	}
}

func (t *Tracker) left(zq *zoneQueue, e *entry, end, now time.Time, resolution string) event.Event {
	monitoring.Logf("queue: %s left zone %s after %v (%s)", e.customerID, zq.zone, end.Sub(e.joined), resolution)
	return event.Event{
		ID:         e.eventID,
		Kind:       event.QueueLeft,
		StreamID:   t.streamID,
		CustomerID: e.customerID,
		Zone:       zq.zone,
		Time:       now,
		Start:      e.joined,
		End:        end,
		Duration:   end.Sub(e.joined),
		Position:   e.position,
		Resolution: resolution,
	}
}

// Depth returns the number of confirmed members in the zone, overflow
// included.
func (t *Tracker) Depth(zone string) int {
	zq, ok := t.zones[zone]
	if !ok {
		return 0
	}
	return len(zq.order)
}

// Positions returns customer id by position for the zone, front first.
func (t *Tracker) Positions(zone string) []string {
	zq, ok := t.zones[zone]
	if !ok {
		return nil
	}
	out := make([]string, len(zq.order))
	for i, e := range zq.order {
		out[i] = e.customerID
	}
	return out
}

// Archived returns the compacted aggregate of archived waits for the zone.
func (t *Tracker) Archived(zone string) ArchiveStats {
	zq, ok := t.zones[zone]
	if !ok {
		return ArchiveStats{}
	}
	return zq.archive
}

func (t *Tracker) sortedZones() []string {
	zones := make([]string, 0, len(t.zones))
	for z := range t.zones {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

func sortedEntryIDs(m map[string]*entry) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedIDs(m map[string]bool) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
