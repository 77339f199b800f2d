// Package unattended detects customers who go without staff attention
// for too long and emits UnattendedStarted/UnattendedEnded events.
package unattended

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/floorsight-data/floorsight/internal/event"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/track"
)

// CustomerState is the attention lifecycle of one customer.
type CustomerState string

const (
	// StateAttended is a customer with staff attention: either inside a
	// confirmed interaction or with a staff member within StaffRadius.
	StateAttended CustomerState = "attended"
	// StatePending is a customer without attention whose confirmation
	// timer is still running.
	StatePending CustomerState = "pending"
	// StateUnattended is a confirmed unattended episode.
	StateUnattended CustomerState = "unattended"
)

// Config carries the monitor tuning knobs.
type Config struct {
	// StaffRadius is the distance within which a staff member counts as
	// attending a customer even without a confirmed interaction.
	StaffRadius float64
	// ConfirmationTimer is how long a customer must go without attention
	// before an unattended episode is confirmed.
	ConfirmationTimer time.Duration
	// GracePeriod plays two roles: attention must be sustained this long
	// to close an episode, and a customer unseen this long is dropped.
	GracePeriod time.Duration
}

type customer struct {
	id      string
	eventID string
	state   CustomerState

	firstSeen time.Time
	lastSeen  time.Time

	pendingSince  time.Time // when attention was last lost
	episodeStart  time.Time // when the episode was confirmed
	attendedSince time.Time // start of the current sustained-attention run
}

// Monitor runs the unattended state machine for every customer on one
// stream. Not safe for concurrent use.
type Monitor struct {
	cfg       Config
	streamID  string
	customers map[string]*customer
}

func New(streamID string, cfg Config) *Monitor {
	return &Monitor{
		cfg:       cfg,
		streamID:  streamID,
		customers: make(map[string]*customer),
	}
}

// Update feeds one frame. activeCustomers marks customers inside a
// confirmed staff interaction; they always count as attended.
func (m *Monitor) Update(tracks []track.Track, activeCustomers map[string]bool, now time.Time) []event.Event {
	staff := make([]track.Track, 0, 4)
	seen := make(map[string]track.Track)
	for _, tr := range tracks {
		switch tr.Role {
		case track.RoleStaff:
			staff = append(staff, tr)
		case track.RoleCustomer:
			seen[tr.ID] = tr
		}
	}

	for id := range seen {
		if _, ok := m.customers[id]; !ok {
			m.customers[id] = &customer{
				id:        id,
				state:     StateAttended,
				firstSeen: now,
				lastSeen:  now,
			}
		}
	}

	var events []event.Event
	for _, id := range m.sortedIDs() {
		c := m.customers[id]
		tr, present := seen[id]

		if !present {
			// Track dropout. Brief gaps are bridged; a customer gone
			// beyond the grace period is closed out and forgotten.
			if now.Sub(c.lastSeen) < m.cfg.GracePeriod {
				continue
			}
			if c.state == StateUnattended {
				events = append(events, m.ended(c, c.lastSeen, now, event.ReasonTrackLost))
			}
			delete(m.customers, id)
			continue
		}
		c.lastSeen = now

		attended := activeCustomers[id] || staffNear(staff, tr, m.cfg.StaffRadius)

		switch c.state {
		case StateAttended:
			if !attended {
				c.state = StatePending
				c.pendingSince = now
			}

		case StatePending:
			if attended {
				c.state = StateAttended
				continue
			}
			if now.Sub(c.pendingSince) >= m.cfg.ConfirmationTimer {
				c.state = StateUnattended
				c.eventID = uuid.New().String()
				c.episodeStart = now
				c.attendedSince = time.Time{}
				events = append(events, m.started(c, now))
			}

		case StateUnattended:
			if !attended {
				c.attendedSince = time.Time{}
				continue
			}
			if c.attendedSince.IsZero() {
				c.attendedSince = now
			}
			// A staff member walking past is not attention; it has to be
			// sustained before the episode closes.
			if now.Sub(c.attendedSince) >= m.cfg.GracePeriod {
				events = append(events, m.ended(c, c.attendedSince, now, ""))
				c.state = StateAttended
				c.eventID = ""
			}
		}
	}

	return events
}

// Unattended returns the customers currently in a confirmed episode.
func (m *Monitor) Unattended() map[string]bool {
	out := make(map[string]bool)
	for id, c := range m.customers {
		if c.state == StateUnattended {
			out[id] = true
		}
	}
	return out
}

func (m *Monitor) started(c *customer, now time.Time) event.Event {
	monitoring.Logf("unattended: customer %s confirmed unattended (stream %s)", c.id, m.streamID)
	return event.Event{
		ID:         c.eventID,
		Kind:       event.UnattendedStarted,
		StreamID:   m.streamID,
		CustomerID: c.id,
		Time:       now,
		Start:      c.episodeStart,
	}
}

func (m *Monitor) ended(c *customer, end, now time.Time, reason string) event.Event {
	monitoring.Logf("unattended: customer %s episode over after %v", c.id, end.Sub(c.episodeStart))
	return event.Event{
		ID:         c.eventID,
		Kind:       event.UnattendedEnded,
		StreamID:   m.streamID,
		CustomerID: c.id,
		Time:       now,
		Start:      c.episodeStart,
		End:        end,
		Duration:   end.Sub(c.episodeStart),
		Reason:     reason,
	}
}

func (m *Monitor) sortedIDs() []string {
	ids := make([]string, 0, len(m.customers))
	for id := range m.customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func staffNear(staff []track.Track, c track.Track, radius float64) bool {
	for _, s := range staff {
		if track.Dist(s, c) <= radius {
			return true
		}
	}
	return false
}
