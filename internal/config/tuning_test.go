package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadTuningConfig(t *testing.T) {
	path := writeConfig(t, "test_config.json", `{
  "warmup_frames": 5,
  "max_inference_window": "10s",
  "stimulator": "sleep_deprivation",
  "channel_map": {"1": 3, "2": 4},
  "grid_rows": 1
}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetWarmupFrames() != 5 {
		t.Errorf("GetWarmupFrames() = %d, want 5", cfg.GetWarmupFrames())
	}
	if cfg.GetMaxInferenceWindow() != 10*time.Second {
		t.Errorf("GetMaxInferenceWindow() = %v, want 10s", cfg.GetMaxInferenceWindow())
	}
	if cfg.GetStimulator() != "sleep_deprivation" {
		t.Errorf("GetStimulator() = %q", cfg.GetStimulator())
	}
	if m := cfg.GetChannelMap(); len(m) != 2 || m[1] != 3 || m[2] != 4 {
		t.Errorf("GetChannelMap() = %v", m)
	}
	// omitted fields fall back to defaults
	if cfg.GetMaxHistoryWindow() != 250*time.Second {
		t.Errorf("GetMaxHistoryWindow() = %v, want 250s", cfg.GetMaxHistoryWindow())
	}
	if cfg.GetGridCols() != 2 {
		t.Errorf("GetGridCols() = %d, want 2", cfg.GetGridCols())
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetMaxHistoryWindow() != 250*time.Second {
		t.Errorf("GetMaxHistoryWindow() = %v", cfg.GetMaxHistoryWindow())
	}
	if cfg.GetMaxInferenceWindow() != 30*time.Second {
		t.Errorf("GetMaxInferenceWindow() = %v", cfg.GetMaxInferenceWindow())
	}
	if cfg.GetReferenceFrames() != 6 {
		t.Errorf("GetReferenceFrames() = %d", cfg.GetReferenceFrames())
	}
	if cfg.GetROIBuilder() != "target_grid" {
		t.Errorf("GetROIBuilder() = %q", cfg.GetROIBuilder())
	}
	if cfg.GetSchedule() != "" {
		t.Errorf("GetSchedule() = %q", cfg.GetSchedule())
	}
	if cfg.GetChannelMap() != nil {
		t.Errorf("GetChannelMap() = %v, want nil", cfg.GetChannelMap())
	}
	if cfg.GetMaxDuration() != 0 {
		t.Errorf("GetMaxDuration() = %v, want 0", cfg.GetMaxDuration())
	}
	if cfg.GetTraceStride() != 1 || cfg.GetTracePoints() != 20000 {
		t.Errorf("trace defaults = %d/%d", cfg.GetTraceStride(), cfg.GetTracePoints())
	}
}

func TestGetDuration_BadValueFallsBack(t *testing.T) {
	cfg := &TuningConfig{MinInactiveTime: ptrString("not-a-duration")}
	if got := cfg.GetMinInactiveTime(); got != 120*time.Second {
		t.Errorf("GetMinInactiveTime() = %v, want default", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr string
	}{
		{"empty is valid", &TuningConfig{}, ""},
		{"bad duration", &TuningConfig{MaxInferenceWindow: ptrString("soon")}, "max_inference_window"},
		{"negative duration", &TuningConfig{SnapshotPeriod: ptrString("-1s")}, "snapshot_period"},
		{"half lives inverted", &TuningConfig{MinHalfLife: ptrString("1h"), MaxHalfLife: ptrString("1m")}, "exceeds"},
		{"diff threshold zero", &TuningConfig{DiffThreshold: ptrInt(0)}, "diff_threshold"},
		{"fill above one", &TuningConfig{MinBlobFill: ptrFloat64(1.5)}, "min_blob_fill"},
		{"adapt factor below one", &TuningConfig{HalfLifeAdaptFactor: ptrFloat64(0.9)}, "half_life_adapt_factor"},
		{"zero rows", &TuningConfig{GridRows: ptrInt(0)}, "grid_rows"},
		{"unknown builder", &TuningConfig{ROIBuilder: ptrString("magic")}, "roi_builder"},
		{"unknown polarity", &TuningConfig{MarkerPolarity: ptrString("grey")}, "marker_polarity"},
		{"unknown stimulator", &TuningConfig{Stimulator: ptrString("zap")}, "stimulator"},
		{"zero trace points", &TuningConfig{TracePoints: ptrInt(0)}, "trace_points"},
		{"bad channel key", &TuningConfig{ChannelMap: map[string]int{"one": 1}}, "channel_map"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	path := writeConfig(t, "bad.json", `{"warmup_frames": "many"}`)
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected parse error")
	}

	path = writeConfig(t, "invalid.json", `{"diff_threshold": 999}`)
	if _, err := LoadTuningConfig(path); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	path := writeConfig(t, "config.yaml", "warmup_frames: 3\n")
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected error for non-.json file")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	path := writeConfig(t, "huge.json", `{"schedule": "`+strings.Repeat(" ", 1024*1024)+`"}`)
	if _, err := LoadTuningConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := EmptyTuningConfig()

	// the defaults file and the getter fallbacks must agree
	if cfg.GetWarmupFrames() != empty.GetWarmupFrames() {
		t.Errorf("warmup_frames file=%d getter=%d", cfg.GetWarmupFrames(), empty.GetWarmupFrames())
	}
	if cfg.GetMaxHistoryWindow() != empty.GetMaxHistoryWindow() {
		t.Errorf("max_history_window file=%v getter=%v", cfg.GetMaxHistoryWindow(), empty.GetMaxHistoryWindow())
	}
	if cfg.GetMaxInferenceWindow() != empty.GetMaxInferenceWindow() {
		t.Errorf("max_inference_window file=%v getter=%v", cfg.GetMaxInferenceWindow(), empty.GetMaxInferenceWindow())
	}
	if cfg.GetFlushEveryFrames() != empty.GetFlushEveryFrames() {
		t.Errorf("flush_every_frames file=%d getter=%d", cfg.GetFlushEveryFrames(), empty.GetFlushEveryFrames())
	}
	if cfg.GetLeftMargin() != empty.GetLeftMargin() || cfg.GetVerticalFill() != empty.GetVerticalFill() {
		t.Error("grid geometry defaults disagree")
	}
	if cfg.GetBaudRate() != empty.GetBaudRate() || cfg.GetStimulator() != empty.GetStimulator() {
		t.Error("hardware defaults disagree")
	}
	if cfg.GetTracePoints() != empty.GetTracePoints() || cfg.GetTraceStride() != empty.GetTraceStride() {
		t.Error("trace defaults disagree")
	}
}
