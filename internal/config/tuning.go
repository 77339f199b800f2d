// Package config holds the tuning parameters for the event pipeline.
// The schema uses pointer fields so a partial JSON file is safe: fields
// omitted from the file fall back to the Get* defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig is the root configuration for one deployment. Durations are
// strings like "500ms" or "30s".
type TuningConfig struct {
	// Interaction params
	InteractionThreshold      *float64 `json:"interaction_threshold,omitempty"`
	MinInteractionDuration    *string  `json:"min_interaction_duration,omitempty"`
	InteractionEndGracePeriod *string  `json:"interaction_end_grace_period,omitempty"`
	MaxInteractionDuration    *string  `json:"max_interaction_duration,omitempty"`
	InteractionStability      *float64 `json:"interaction_stability,omitempty"`

	// Unattended params
	UnattendedThreshold         *float64 `json:"unattended_threshold,omitempty"`
	UnattendedConfirmationTimer *string  `json:"unattended_confirmation_timer,omitempty"`
	UnattendedGracePeriod       *string  `json:"unattended_grace_period,omitempty"`

	// Queue params
	QueueValidationPeriod   *string  `json:"queue_validation_period,omitempty"`
	QueueStabilityThreshold *float64 `json:"queue_stability_threshold,omitempty"`
	QueueCapacity           *int     `json:"queue_capacity,omitempty"`
	QueueArchiveHorizon     *string  `json:"queue_archive_horizon,omitempty"`
	QueueExitGrace          *string  `json:"queue_exit_grace,omitempty"`
	QueueServedWindow       *string  `json:"queue_served_window,omitempty"`

	// Segment params
	SegmentPrerollWindow *string `json:"segment_preroll_window,omitempty"`
	SegmentPrerollFrames *int    `json:"segment_preroll_frames,omitempty"`
	SegmentMinDuration   *string `json:"segment_min_duration,omitempty"`
	SegmentMaxDuration   *string `json:"segment_max_duration,omitempty"`
	SegmentGracePeriod   *string `json:"segment_grace_period,omitempty"`
	SegmentDir           *string `json:"segment_dir,omitempty"`

	// SegmentTriggers selects which event kinds open a recording. Empty
	// means the defaults: interaction_started and unattended_started.
	SegmentTriggers []string `json:"segment_triggers,omitempty"`

	// Upload params
	UploadWorkers    *int    `json:"upload_workers,omitempty"`
	UploadQueueDepth *int    `json:"upload_queue_depth,omitempty"`
	UploadAttempts   *int    `json:"upload_attempts,omitempty"`
	UploadBackoff    *string `json:"upload_backoff,omitempty"`
	UploadURL        *string `json:"upload_url,omitempty"`
	IncidentURL      *string `json:"incident_url,omitempty"`
	APIKey           *string `json:"api_key,omitempty"`
	BranchID         *string `json:"branch_id,omitempty"`
	Location         *string `json:"location,omitempty"`

	// Analytics params
	SummaryInterval *string `json:"summary_interval,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset, so every
// accessor reports its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the JSON file retain their default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	fractions := map[string]*float64{
		"interaction_stability":     c.InteractionStability,
		"queue_stability_threshold": c.QueueStabilityThreshold,
	}
	for name, v := range fractions {
		if v != nil && (*v <= 0 || *v > 1) {
			return fmt.Errorf("%s must be in (0, 1], got %f", name, *v)
		}
	}

	distances := map[string]*float64{
		"interaction_threshold": c.InteractionThreshold,
		"unattended_threshold":  c.UnattendedThreshold,
	}
	for name, v := range distances {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	counts := map[string]*int{
		"queue_capacity":         c.QueueCapacity,
		"segment_preroll_frames": c.SegmentPrerollFrames,
		"upload_workers":         c.UploadWorkers,
		"upload_queue_depth":     c.UploadQueueDepth,
		"upload_attempts":        c.UploadAttempts,
	}
	for name, v := range counts {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	durations := map[string]*string{
		"min_interaction_duration":      c.MinInteractionDuration,
		"interaction_end_grace_period":  c.InteractionEndGracePeriod,
		"max_interaction_duration":      c.MaxInteractionDuration,
		"unattended_confirmation_timer": c.UnattendedConfirmationTimer,
		"unattended_grace_period":       c.UnattendedGracePeriod,
		"queue_validation_period":       c.QueueValidationPeriod,
		"queue_archive_horizon":         c.QueueArchiveHorizon,
		"queue_exit_grace":              c.QueueExitGrace,
		"queue_served_window":           c.QueueServedWindow,
		"segment_preroll_window":        c.SegmentPrerollWindow,
		"segment_min_duration":          c.SegmentMinDuration,
		"segment_max_duration":          c.SegmentMaxDuration,
		"segment_grace_period":          c.SegmentGracePeriod,
		"upload_backoff":                c.UploadBackoff,
		"summary_interval":              c.SummaryInterval,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if min, max := c.GetSegmentMinDuration(), c.GetSegmentMaxDuration(); min >= max {
		return fmt.Errorf("segment_min_duration (%v) must be below segment_max_duration (%v)", min, max)
	}
	if min, max := c.GetMinInteractionDuration(), c.GetMaxInteractionDuration(); min >= max {
		return fmt.Errorf("min_interaction_duration (%v) must be below max_interaction_duration (%v)", min, max)
	}

	return nil
}

func (c *TuningConfig) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetInteractionThreshold returns the pair-forming proximity radius.
func (c *TuningConfig) GetInteractionThreshold() float64 {
	if c.InteractionThreshold == nil {
		return 300.0
	}
	return *c.InteractionThreshold
}

// GetMinInteractionDuration returns the debounce before an interaction starts.
func (c *TuningConfig) GetMinInteractionDuration() time.Duration {
	return c.duration(c.MinInteractionDuration, 5*time.Second)
}

// GetInteractionEndGracePeriod returns the proximity-loss grace before an
// interaction (or a segment's trigger set) is declared over.
func (c *TuningConfig) GetInteractionEndGracePeriod() time.Duration {
	return c.duration(c.InteractionEndGracePeriod, 2*time.Second)
}

// GetMaxInteractionDuration returns the forced-split ceiling for one episode.
func (c *TuningConfig) GetMaxInteractionDuration() time.Duration {
	return c.duration(c.MaxInteractionDuration, 10*time.Minute)
}

// GetInteractionStability returns the required in-threshold fraction of the
// confirmation window.
func (c *TuningConfig) GetInteractionStability() float64 {
	if c.InteractionStability == nil {
		return 0.7
	}
	return *c.InteractionStability
}

// GetUnattendedThreshold returns the staff-proximity radius that counts as
// attendance for the unattended monitor.
func (c *TuningConfig) GetUnattendedThreshold() float64 {
	if c.UnattendedThreshold == nil {
		return 300.0
	}
	return *c.UnattendedThreshold
}

// GetUnattendedConfirmationTimer returns the debounce before a customer is
// declared unattended.
func (c *TuningConfig) GetUnattendedConfirmationTimer() time.Duration {
	return c.duration(c.UnattendedConfirmationTimer, 30*time.Second)
}

// GetUnattendedGracePeriod returns how long staff presence must be sustained
// to clear an unattended state.
func (c *TuningConfig) GetUnattendedGracePeriod() time.Duration {
	return c.duration(c.UnattendedGracePeriod, 15*time.Second)
}

// GetQueueValidationPeriod returns the walk-through suppression window.
func (c *TuningConfig) GetQueueValidationPeriod() time.Duration {
	return c.duration(c.QueueValidationPeriod, 3*time.Second)
}

// GetQueueStabilityThreshold returns the required presence fraction of the
// validation window.
func (c *TuningConfig) GetQueueStabilityThreshold() float64 {
	if c.QueueStabilityThreshold == nil {
		return 0.6
	}
	return *c.QueueStabilityThreshold
}

// GetQueueCapacity returns the live queue size beyond which joiners are
// flagged overflow.
func (c *TuningConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 50
	}
	return *c.QueueCapacity
}

// GetQueueArchiveHorizon returns the age at which live waiting entries are
// compacted into the aggregate archive.
func (c *TuningConfig) GetQueueArchiveHorizon() time.Duration {
	return c.duration(c.QueueArchiveHorizon, time.Hour)
}

// GetQueueExitGrace returns the sustained-absence window before a zone exit
// counts as leaving the queue.
func (c *TuningConfig) GetQueueExitGrace() time.Duration {
	return c.duration(c.QueueExitGrace, 2*time.Second)
}

// GetQueueServedWindow returns how long after leaving a queue an interaction
// start still resolves the departure as served.
func (c *TuningConfig) GetQueueServedWindow() time.Duration {
	return c.duration(c.QueueServedWindow, 10*time.Second)
}

// GetSegmentPrerollWindow returns the pre-trigger footage window.
func (c *TuningConfig) GetSegmentPrerollWindow() time.Duration {
	return c.duration(c.SegmentPrerollWindow, time.Second)
}

// GetSegmentPrerollFrames returns the pre-roll ring capacity in frames.
func (c *TuningConfig) GetSegmentPrerollFrames() int {
	if c.SegmentPrerollFrames == nil {
		return 60
	}
	return *c.SegmentPrerollFrames
}

// GetSegmentMinDuration returns the noise-clip discard floor.
func (c *TuningConfig) GetSegmentMinDuration() time.Duration {
	return c.duration(c.SegmentMinDuration, 3*time.Second)
}

// GetSegmentMaxDuration returns the forced-split ceiling for one clip file.
func (c *TuningConfig) GetSegmentMaxDuration() time.Duration {
	return c.duration(c.SegmentMaxDuration, time.Minute)
}

// GetSegmentGracePeriod returns how long a recording runs on after its
// last trigger episode ends.
func (c *TuningConfig) GetSegmentGracePeriod() time.Duration {
	return c.duration(c.SegmentGracePeriod, 5*time.Second)
}

// GetSegmentTriggers returns the event kinds that open a recording.
func (c *TuningConfig) GetSegmentTriggers() []string {
	if len(c.SegmentTriggers) == 0 {
		return []string{"interaction_started", "unattended_started"}
	}
	return c.SegmentTriggers
}

// GetSegmentDir returns the local clip directory.
func (c *TuningConfig) GetSegmentDir() string {
	if c.SegmentDir == nil || *c.SegmentDir == "" {
		return "segments"
	}
	return *c.SegmentDir
}

// GetUploadWorkers returns the upload pool size.
func (c *TuningConfig) GetUploadWorkers() int {
	if c.UploadWorkers == nil {
		return 2
	}
	return *c.UploadWorkers
}

// GetUploadQueueDepth returns the bounded upload queue capacity.
func (c *TuningConfig) GetUploadQueueDepth() int {
	if c.UploadQueueDepth == nil {
		return 16
	}
	return *c.UploadQueueDepth
}

// GetUploadAttempts returns the bounded retry budget per segment.
func (c *TuningConfig) GetUploadAttempts() int {
	if c.UploadAttempts == nil {
		return 3
	}
	return *c.UploadAttempts
}

// GetUploadBackoff returns the initial retry backoff (doubled per attempt).
func (c *TuningConfig) GetUploadBackoff() time.Duration {
	return c.duration(c.UploadBackoff, 2*time.Second)
}

// GetUploadURL returns the clip upload endpoint.
func (c *TuningConfig) GetUploadURL() string {
	if c.UploadURL == nil {
		return ""
	}
	return *c.UploadURL
}

// GetIncidentURL returns the incident report endpoint.
func (c *TuningConfig) GetIncidentURL() string {
	if c.IncidentURL == nil {
		return ""
	}
	return *c.IncidentURL
}

// GetAPIKey returns the upload API key.
func (c *TuningConfig) GetAPIKey() string {
	if c.APIKey == nil {
		return ""
	}
	return *c.APIKey
}

// GetBranchID returns the branch identifier stamped on incident reports.
func (c *TuningConfig) GetBranchID() string {
	if c.BranchID == nil {
		return ""
	}
	return *c.BranchID
}

// GetLocation returns the reported location stamped on incident reports.
func (c *TuningConfig) GetLocation() string {
	if c.Location == nil {
		return ""
	}
	return *c.Location
}

// GetSummaryInterval returns the summary worker period.
func (c *TuningConfig) GetSummaryInterval() time.Duration {
	return c.duration(c.SummaryInterval, 15*time.Minute)
}
