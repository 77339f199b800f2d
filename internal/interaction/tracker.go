// Package interaction tracks staff-customer proximity episodes. Each
// (staff, customer) pair runs an independent timed state machine:
//
//	Candidate -> Active -> Cooling -> Ended
//
// with a stability-checked debounce on the way in and a grace period on the
// way out, so detector noise and brief occlusions never split an episode.
package interaction

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/floorsight-data/floorsight/internal/event"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/track"
)

// PairState is the lifecycle state of one staff-customer episode.
type PairState string

const (
	StateCandidate PairState = "candidate" // Proximity seen, awaiting confirmation
	StateActive    PairState = "active"    // Confirmed interaction, Started emitted
	StateCooling   PairState = "cooling"   // Proximity lost, grace running
	StateEnded     PairState = "ended"     // Terminal, episode removed
)

// Config holds the tracker's tuning parameters.
type Config struct {
	Threshold         float64       // pair-forming proximity radius
	MinDuration       time.Duration // Candidate -> Active debounce
	EndGrace          time.Duration // Cooling -> Ended deadline
	MaxDuration       time.Duration // forced-split ceiling per episode
	StabilityFraction float64       // required in-threshold share of the confirmation window
}

type pairKey struct {
	StaffID    string
	CustomerID string
}

// episode is one continuous (grace-bridged) interaction between a pair.
// The stability fraction is tracked with two counters: the confirmation
// window is exactly [start, now], so the cumulative in-threshold share
// equals a sliding-window fraction over that window.
type episode struct {
	key     pairKey
	eventID string // assigned when Started is emitted
	state   PairState
	prior   PairState // state to resume when cooling is interrupted

	start     time.Time // first proximity of this episode
	lastSeen  time.Time // last in-threshold frame
	coolSince time.Time

	framesNear int
	framesSeen int
}

func (ep *episode) fraction() float64 {
	if ep.framesSeen == 0 {
		return 0
	}
	return float64(ep.framesNear) / float64(ep.framesSeen)
}

// Tracker runs the pair state machines for one camera stream. It is not
// safe for concurrent use; the pipeline drives it strictly per frame.
type Tracker struct {
	cfg      Config
	streamID string

	episodes   map[pairKey]*episode
	byCustomer map[string]pairKey // enforces one live episode per customer
}

// New creates a Tracker for one stream.
func New(streamID string, cfg Config) *Tracker {
	return &Tracker{
		cfg:        cfg,
		streamID:   streamID,
		episodes:   make(map[pairKey]*episode),
		byCustomer: make(map[string]pairKey),
	}
}

// Update advances every pair state machine by one frame and returns the
// events emitted by this frame. Missing tracks count against proximity
// continuity exactly like an occlusion.
func (t *Tracker) Update(tracks []track.Track, now time.Time) []event.Event {
	staff := make(map[string]track.Track)
	customers := make(map[string]track.Track)
	for _, tr := range tracks {
		switch tr.Role {
		case track.RoleStaff:
			staff[tr.ID] = tr
		case track.RoleCustomer:
			customers[tr.ID] = tr
		}
	}

	var events []event.Event

	// Advance existing episodes in a deterministic order.
	for _, key := range t.sortedKeys() {
		ep := t.episodes[key]
		s, sOK := staff[key.StaffID]
		c, cOK := customers[key.CustomerID]
		near := sOK && cOK && track.Dist(s, c) <= t.cfg.Threshold

		ep.framesSeen++
		if near {
			ep.framesNear++
			ep.lastSeen = now
		}

		switch ep.state {
		case StateCandidate:
			if !near {
				ep.prior = StateCandidate
				ep.state = StateCooling
				ep.coolSince = now
				continue
			}
			if now.Sub(ep.start) >= t.cfg.MinDuration && ep.fraction() >= t.cfg.StabilityFraction {
				ep.state = StateActive
				ep.eventID = uuid.New().String()
				events = append(events, t.started(ep, now))
			}

		case StateActive:
			if !near {
				ep.prior = StateActive
				ep.state = StateCooling
				ep.coolSince = now
				continue
			}
			if now.Sub(ep.start) >= t.cfg.MaxDuration {
				// Forced split: end this episode and, since proximity still
				// holds, open the replacement directly in Active so coverage
				// has no gap.
				events = append(events, t.ended(ep, now, now, event.ReasonTimeout))
				fresh := &episode{
					key:        key,
					eventID:    uuid.New().String(),
					state:      StateActive,
					start:      now,
					lastSeen:   now,
					framesNear: 1,
					framesSeen: 1,
				}
				t.episodes[key] = fresh
				events = append(events, t.started(fresh, now))
			}

		case StateCooling:
			if near {
				// Same episode resumes; nothing was lost.
				ep.state = ep.prior
				continue
			}
			if now.Sub(ep.coolSince) >= t.cfg.EndGrace {
				if ep.prior == StateActive {
					events = append(events, t.ended(ep, ep.lastSeen, now, event.ReasonProximityLost))
				} else {
					monitoring.Debugf("interaction: candidate %s/%s expired unconfirmed", key.StaffID, key.CustomerID)
				}
				ep.state = StateEnded
				delete(t.episodes, key)
				delete(t.byCustomer, key.CustomerID)
			}
		}
	}

	// Form new candidates for customers with no live episode. Ties are
	// broken by nearest staff, so an existing episode (which skips this
	// loop entirely) always wins over reassignment.
	for _, cid := range sortedIDs(customers) {
		if _, busy := t.byCustomer[cid]; busy {
			continue
		}
		c := customers[cid]
		bestID := ""
		bestDist := 0.0
		for _, sid := range sortedIDs(staff) {
			d := track.Dist(staff[sid], c)
			if d > t.cfg.Threshold {
				continue
			}
			if bestID == "" || d < bestDist {
				bestID = sid
				bestDist = d
			}
		}
		if bestID == "" {
			continue
		}
		key := pairKey{StaffID: bestID, CustomerID: cid}
		t.episodes[key] = &episode{
			key:        key,
			state:      StateCandidate,
			start:      now,
			lastSeen:   now,
			framesNear: 1,
			framesSeen: 1,
		}
		t.byCustomer[cid] = key
	}

	return events
}

// ActiveCustomers returns the customers currently inside a confirmed
// episode. A cooling episode that was Active still counts: the grace
// period bridges it, so the customer is not yet unattended.
func (t *Tracker) ActiveCustomers() map[string]bool {
	active := make(map[string]bool)
	for key, ep := range t.episodes {
		if ep.state == StateActive || (ep.state == StateCooling && ep.prior == StateActive) {
			active[key.CustomerID] = true
		}
	}
	return active
}

// LiveEpisodes returns the number of non-terminal episodes, for stats.
func (t *Tracker) LiveEpisodes() int {
	return len(t.episodes)
}

func (t *Tracker) started(ep *episode, now time.Time) event.Event {
	monitoring.Logf("interaction started: staff %s customer %s (stream %s)", ep.key.StaffID, ep.key.CustomerID, t.streamID)
	return event.Event{
		ID:         ep.eventID,
		Kind:       event.InteractionStarted,
		StreamID:   t.streamID,
		StaffID:    ep.key.StaffID,
		CustomerID: ep.key.CustomerID,
		Time:       now,
		Start:      ep.start,
	}
}

func (t *Tracker) ended(ep *episode, end, now time.Time, reason string) event.Event {
	monitoring.Logf("interaction ended: staff %s customer %s duration %v reason %s", ep.key.StaffID, ep.key.CustomerID, end.Sub(ep.start), reason)
	return event.Event{
		ID:         ep.eventID,
		Kind:       event.InteractionEnded,
		StreamID:   t.streamID,
		StaffID:    ep.key.StaffID,
		CustomerID: ep.key.CustomerID,
		Time:       now,
		Start:      ep.start,
		End:        end,
		Duration:   end.Sub(ep.start),
		Reason:     reason,
	}
}

func (t *Tracker) sortedKeys() []pairKey {
	keys := make([]pairKey, 0, len(t.episodes))
	for k := range t.episodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StaffID != keys[j].StaffID {
			return keys[i].StaffID < keys[j].StaffID
		}
		return keys[i].CustomerID < keys[j].CustomerID
	})
	return keys
}

func sortedIDs(m map[string]track.Track) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
