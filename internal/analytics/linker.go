package analytics

import (
	"errors"
	"time"

	"github.com/floorsight-data/floorsight/internal/monitoring"
)

// Evidence describes one uploaded clip and the episodes it covers.
type Evidence struct {
	SegmentID   string
	EventIDs    []string
	UploadedRef string
	URL         string
	IncidentID  string
	Time        time.Time
}

// Linker fans uploaded evidence out to the episode records it covers.
type Linker struct {
	store *Store
}

func NewLinker(store *Store) *Linker {
	return &Linker{store: store}
}

// Apply links the evidence onto every covered episode. Episodes already
// carrying evidence keep their first clip; unknown episode ids are logged
// and skipped. The first database error aborts the fan-out.
func (l *Linker) Apply(ev Evidence) error {
	linked := 0
	for _, id := range ev.EventIDs {
		ok, err := l.store.LinkEvidence(id, ev.UploadedRef, ev.URL, ev.IncidentID, ev.Time)
		if errors.Is(err, ErrUnknownEpisode) {
			monitoring.Logf("linker: segment %s references unknown episode %s", ev.SegmentID, id)
			continue
		}
		if err != nil {
			return err
		}
		if ok {
			linked++
		}
	}
	monitoring.Debugf("linker: segment %s linked to %d/%d episodes", ev.SegmentID, linked, len(ev.EventIDs))
	return nil
}
