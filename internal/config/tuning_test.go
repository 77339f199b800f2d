package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetMinInteractionDuration(); got != 5*time.Second {
		t.Errorf("GetMinInteractionDuration = %v, want 5s", got)
	}
	if got := cfg.GetInteractionThreshold(); got != 300.0 {
		t.Errorf("GetInteractionThreshold = %v, want 300", got)
	}
	if got := cfg.GetQueueCapacity(); got != 50 {
		t.Errorf("GetQueueCapacity = %d, want 50", got)
	}
	if got := cfg.GetUploadAttempts(); got != 3 {
		t.Errorf("GetUploadAttempts = %d, want 3", got)
	}
	if got := cfg.GetSegmentDir(); got != "segments" {
		t.Errorf("GetSegmentDir = %q, want segments", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{
		"min_interaction_duration": "2s",
		"queue_capacity": 10,
		"interaction_stability": 0.8
	}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	if got := cfg.GetMinInteractionDuration(); got != 2*time.Second {
		t.Errorf("GetMinInteractionDuration = %v, want 2s", got)
	}
	if got := cfg.GetQueueCapacity(); got != 10 {
		t.Errorf("GetQueueCapacity = %d, want 10", got)
	}
	if got := cfg.GetInteractionStability(); got != 0.8 {
		t.Errorf("GetInteractionStability = %v, want 0.8", got)
	}
	// Untouched fields keep defaults.
	if got := cfg.GetUnattendedConfirmationTimer(); got != 30*time.Second {
		t.Errorf("GetUnattendedConfirmationTimer = %v, want 30s", got)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad duration", `{"queue_validation_period": "three seconds"}`},
		{"fraction above one", `{"queue_stability_threshold": 1.5}`},
		{"zero capacity", `{"queue_capacity": 0}`},
		{"negative threshold", `{"interaction_threshold": -10}`},
		{"min above max", `{"segment_min_duration": "2m", "segment_max_duration": "1m"}`},
		{"not json", `segment_min_duration = 3s`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := LoadTuningConfig(path); err == nil {
				t.Errorf("LoadTuningConfig accepted %s", tc.name)
			}
		})
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("LoadTuningConfig accepted a .yaml path")
	}
}
