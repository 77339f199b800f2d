package analytics

import (
	"time"

	"github.com/floorsight-data/floorsight/internal/monitoring"
)

// SummaryWorker periodically summarizes the most recent reporting window
// and logs the headline numbers. Runs until Stop is called.
type SummaryWorker struct {
	Store    *Store
	Interval time.Duration
	StopChan chan struct{}
}

func NewSummaryWorker(store *Store, interval time.Duration) *SummaryWorker {
	return &SummaryWorker{
		Store:    store,
		Interval: interval,
		StopChan: make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *SummaryWorker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.RunOnce(time.Now()); err != nil {
					monitoring.Logf("summary worker: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *SummaryWorker) Stop() {
	close(w.StopChan)
}

// RunOnce summarizes the window ending at now and persists the result.
func (w *SummaryWorker) RunOnce(now time.Time) (Summary, error) {
	summary, err := w.Store.Summarize(now.Add(-w.Interval), now)
	if err != nil {
		return Summary{}, err
	}
	if err := w.Store.SaveSummary(summary); err != nil {
		return Summary{}, err
	}
	monitoring.Logf("summary: %d interactions (mean %.1fs), %d queue waits (mean %.1fs), %d unattended, %d with evidence",
		summary.Interactions.Count, summary.Interactions.MeanSeconds,
		summary.Queues.Count, summary.Queues.MeanSeconds,
		summary.Unattended.Count, summary.EvidenceCount)
	return summary, nil
}
