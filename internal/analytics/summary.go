package analytics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/floorsight-data/floorsight/internal/event"
)

// KindSummary aggregates the closed episodes of one kind. Durations are
// seconds.
type KindSummary struct {
	Count       int     `json:"count"`
	MeanSeconds float64 `json:"mean_seconds"`
	MinSeconds  float64 `json:"min_seconds"`
	MaxSeconds  float64 `json:"max_seconds"`
	P95Seconds  float64 `json:"p95_seconds"`
}

// HourlyBucket is the per-hour episode-start breakdown inside a window.
type HourlyBucket struct {
	Hour         time.Time `json:"hour"`
	Interactions int       `json:"interactions"`
	Queues       int       `json:"queues"`
	Unattended   int       `json:"unattended"`
}

// Summary is one reporting window over the store.
type Summary struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`

	Interactions KindSummary `json:"interactions"`
	Queues       KindSummary `json:"queues"`
	Unattended   KindSummary `json:"unattended"`

	QueueOutcomes map[string]int `json:"queue_outcomes"`
	EvidenceCount int            `json:"evidence_count"`
	Hourly        []HourlyBucket `json:"hourly,omitempty"`
}

// Summarize aggregates closed episodes whose start falls in [from, to).
func (s *Store) Summarize(from, to time.Time) (Summary, error) {
	out := Summary{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		From:          from,
		To:            to,
	}

	kinds := []struct {
		kind event.Kind
		dst  *KindSummary
	}{
		{event.InteractionStarted, &out.Interactions},
		{event.QueueJoined, &out.Queues},
		{event.UnattendedStarted, &out.Unattended},
	}
	for _, k := range kinds {
		durations, err := s.ClosedDurations(k.kind, from, to)
		if err != nil {
			return Summary{}, err
		}
		*k.dst = summarizeDurations(durations)
	}

	outcomes, err := s.CountByResolution(from, to)
	if err != nil {
		return Summary{}, err
	}
	out.QueueOutcomes = outcomes

	evidence, err := s.CountEvidence(from, to)
	if err != nil {
		return Summary{}, err
	}
	out.EvidenceCount = evidence

	hourly, err := s.CountHourly(from, to)
	if err != nil {
		return Summary{}, err
	}
	hours := make([]int64, 0, len(hourly))
	for h := range hourly {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i] < hours[j] })
	for _, h := range hours {
		counts := hourly[h]
		out.Hourly = append(out.Hourly, HourlyBucket{
			Hour:         time.UnixMilli(h).UTC(),
			Interactions: counts[event.InteractionStarted],
			Queues:       counts[event.QueueJoined],
			Unattended:   counts[event.UnattendedStarted],
		})
	}

	return out, nil
}

// SaveSummary persists the window's per-kind aggregates. Re-running the
// same window replaces the previous rows.
func (s *Store) SaveSummary(sum Summary) error {
	rows := []struct {
		kind event.Kind
		ks   KindSummary
	}{
		{event.InteractionStarted, sum.Interactions},
		{event.QueueJoined, sum.Queues},
		{event.UnattendedStarted, sum.Unattended},
	}
	for _, r := range rows {
		_, err := s.Exec(`
			INSERT OR REPLACE INTO analytics_summaries
			(window_start_ms, window_end_ms, kind, episode_count,
			 mean_secs, min_secs, max_secs, p95_secs, generated_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sum.From.UnixMilli(), sum.To.UnixMilli(), string(r.kind),
			r.ks.Count, r.ks.MeanSeconds, r.ks.MinSeconds, r.ks.MaxSeconds,
			r.ks.P95Seconds, sum.GeneratedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("save summary for %s: %w", r.kind, err)
		}
	}
	return nil
}

// WriteSummary exports the window as versioned JSON.
func (s *Store) WriteSummary(w io.Writer, from, to time.Time) error {
	summary, err := s.Summarize(from, to)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// summarizeDurations expects durations sorted ascending, as
// ClosedDurations returns them.
func summarizeDurations(durations []float64) KindSummary {
	if len(durations) == 0 {
		return KindSummary{}
	}
	return KindSummary{
		Count:       len(durations),
		MeanSeconds: stat.Mean(durations, nil),
		MinSeconds:  durations[0],
		MaxSeconds:  durations[len(durations)-1],
		P95Seconds:  stat.Quantile(0.95, stat.Empirical, durations, nil),
	}
}
