// Package event defines the business events emitted by the trackers and
// consumed by the segment controller and the analytics store.
package event

import "time"

// Kind identifies one event type. Started/Ended pairs share the same
// event ID, which is also the analytics record key.
type Kind string

const (
	InteractionStarted Kind = "interaction_started"
	InteractionEnded   Kind = "interaction_ended"
	QueueJoined        Kind = "queue_joined"
	QueueLeft          Kind = "queue_left"
	UnattendedStarted  Kind = "unattended_started"
	UnattendedEnded    Kind = "unattended_ended"
)

// End-of-episode reasons and queue resolutions.
const (
	ReasonProximityLost = "proximity_lost"
	ReasonTimeout       = "timeout"
	ReasonTrackLost     = "track_lost"

	ResolutionServed    = "served"
	ResolutionAbandoned = "abandoned"
	ResolutionArchived  = "archived"
)

// Event is one tracker emission. Only the fields relevant to the Kind are
// populated; the zero values are meaningful absences.
type Event struct {
	ID         string // episode id, shared by the Started/Ended pair
	Kind       Kind
	StreamID   string
	StaffID    string
	CustomerID string
	Zone       string
	Time       time.Time // emission time

	// Episode bounds, set on Ended kinds.
	Start    time.Time
	End      time.Time
	Duration time.Duration

	// Queue-specific.
	Position int
	Overflow bool

	// QueueLeft resolution or interaction/unattended end reason.
	Resolution string
	Reason     string
}

// IsStart reports whether the event opens an episode.
func (e Event) IsStart() bool {
	switch e.Kind {
	case InteractionStarted, QueueJoined, UnattendedStarted:
		return true
	}
	return false
}

// IsEnd reports whether the event closes an episode.
func (e Event) IsEnd() bool {
	switch e.Kind {
	case InteractionEnded, QueueLeft, UnattendedEnded:
		return true
	}
	return false
}

// StartKind returns the Kind that opens episodes closed by k, or k itself
// when k is already a start kind.
func (k Kind) StartKind() Kind {
	switch k {
	case InteractionEnded:
		return InteractionStarted
	case QueueLeft:
		return QueueJoined
	case UnattendedEnded:
		return UnattendedStarted
	}
	return k
}
