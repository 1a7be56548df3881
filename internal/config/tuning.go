package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds every tunable of a tracking run. All fields are
// optional; the Get* accessors supply the defaults for omitted fields.
type TuningConfig struct {
	// Adaptive background model
	WarmupFrames        *int     `json:"warmup_frames,omitempty"`
	WarmupHalfLife      *string  `json:"warmup_half_life,omitempty"` // duration string like "200ms"
	MinHalfLife         *string  `json:"min_half_life,omitempty"`
	MaxHalfLife         *string  `json:"max_half_life,omitempty"`
	HalfLifeAdaptFactor *float64 `json:"half_life_adapt_factor,omitempty"`
	DiffThreshold       *int     `json:"diff_threshold,omitempty"`
	MinBlobArea         *float64 `json:"min_blob_area,omitempty"`
	MaxBlobAreaFraction *float64 `json:"max_blob_area_fraction,omitempty"`
	MinBlobFill         *float64 `json:"min_blob_fill,omitempty"`
	MergeProportion     *float64 `json:"merge_proportion,omitempty"`
	ObjectHistory       *int     `json:"object_history,omitempty"`

	// Tracking unit
	MaxHistoryWindow   *string `json:"max_history_window,omitempty"`
	MaxInferenceWindow *string `json:"max_inference_window,omitempty"`

	// ROI builder
	ROIBuilder            *string  `json:"roi_builder,omitempty"` // "target_grid" or "mask"
	ReferenceFrames       *int     `json:"reference_frames,omitempty"`
	GridRows              *int     `json:"grid_rows,omitempty"`
	GridCols              *int     `json:"grid_cols,omitempty"`
	TopMargin             *float64 `json:"top_margin,omitempty"`
	BottomMargin          *float64 `json:"bottom_margin,omitempty"`
	LeftMargin            *float64 `json:"left_margin,omitempty"`
	RightMargin           *float64 `json:"right_margin,omitempty"`
	HorizontalFill        *float64 `json:"horizontal_fill,omitempty"`
	VerticalFill          *float64 `json:"vertical_fill,omitempty"`
	MarkerPolarity        *string  `json:"marker_polarity,omitempty"`
	MarkerThreshold       *int     `json:"marker_threshold,omitempty"`
	MinMarkerArea         *float64 `json:"min_marker_area,omitempty"`
	MaxMarkerAreaFraction *float64 `json:"max_marker_area_fraction,omitempty"`

	// Result writer
	FlushEveryFrames *int    `json:"flush_every_frames,omitempty"`
	SnapshotPeriod   *string `json:"snapshot_period,omitempty"`

	// Stimulator
	Stimulator        *string        `json:"stimulator,omitempty"` // "none", "sleep_deprivation", "middle_crossing"
	Schedule          *string        `json:"schedule,omitempty"`
	VelocityThreshold *float64       `json:"velocity_threshold,omitempty"` // ROI widths per second
	MinInactiveTime   *string        `json:"min_inactive_time,omitempty"`
	StimulusDuration  *string        `json:"stimulus_duration,omitempty"`
	RefractoryPeriod  *string        `json:"refractory_period,omitempty"`
	ChannelMap        map[string]int `json:"channel_map,omitempty"` // roi idx -> actuator channel

	// Hardware
	SerialPort    *string `json:"serial_port,omitempty"`
	BaudRate      *int    `json:"baud_rate,omitempty"`
	DispatchQueue *int    `json:"dispatch_queue,omitempty"`

	// Monitor
	MaxDuration *string `json:"max_duration,omitempty"`

	// Drawers
	TraceStride *int `json:"trace_stride,omitempty"` // keep one frame in N
	TracePoints *int `json:"trace_points,omitempty"` // per ROI, oldest dropped first
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
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

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"warmup_half_life":     c.WarmupHalfLife,
		"min_half_life":        c.MinHalfLife,
		"max_half_life":        c.MaxHalfLife,
		"max_history_window":   c.MaxHistoryWindow,
		"max_inference_window": c.MaxInferenceWindow,
		"snapshot_period":      c.SnapshotPeriod,
		"min_inactive_time":    c.MinInactiveTime,
		"stimulus_duration":    c.StimulusDuration,
		"refractory_period":    c.RefractoryPeriod,
		"max_duration":         c.MaxDuration,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.MinHalfLife != nil && c.MaxHalfLife != nil && c.GetMinHalfLife() > c.GetMaxHalfLife() {
		return fmt.Errorf("min_half_life %s exceeds max_half_life %s", *c.MinHalfLife, *c.MaxHalfLife)
	}
	if c.DiffThreshold != nil && (*c.DiffThreshold < 1 || *c.DiffThreshold > 254) {
		return fmt.Errorf("diff_threshold must be between 1 and 254, got %d", *c.DiffThreshold)
	}
	if c.MarkerThreshold != nil && (*c.MarkerThreshold < 0 || *c.MarkerThreshold > 254) {
		return fmt.Errorf("marker_threshold must be between 0 and 254, got %d", *c.MarkerThreshold)
	}
	for name, v := range map[string]*float64{
		"max_blob_area_fraction":   c.MaxBlobAreaFraction,
		"min_blob_fill":            c.MinBlobFill,
		"max_marker_area_fraction": c.MaxMarkerAreaFraction,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	if c.HalfLifeAdaptFactor != nil && *c.HalfLifeAdaptFactor < 1 {
		return fmt.Errorf("half_life_adapt_factor must be >= 1, got %f", *c.HalfLifeAdaptFactor)
	}
	for name, v := range map[string]*int{
		"warmup_frames":      c.WarmupFrames,
		"object_history":     c.ObjectHistory,
		"reference_frames":   c.ReferenceFrames,
		"grid_rows":          c.GridRows,
		"grid_cols":          c.GridCols,
		"flush_every_frames": c.FlushEveryFrames,
		"dispatch_queue":     c.DispatchQueue,
		"trace_stride":       c.TraceStride,
		"trace_points":       c.TracePoints,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.ROIBuilder != nil {
		switch *c.ROIBuilder {
		case "target_grid", "mask":
		default:
			return fmt.Errorf("unknown roi_builder %q", *c.ROIBuilder)
		}
	}
	if c.MarkerPolarity != nil && *c.MarkerPolarity != "bright" && *c.MarkerPolarity != "dark" {
		return fmt.Errorf("marker_polarity must be bright or dark, got %q", *c.MarkerPolarity)
	}
	if c.Stimulator != nil {
		switch *c.Stimulator {
		case "none", "sleep_deprivation", "middle_crossing":
		default:
			return fmt.Errorf("unknown stimulator %q", *c.Stimulator)
		}
	}
	for k := range c.ChannelMap {
		if _, err := strconv.Atoi(k); err != nil {
			return fmt.Errorf("channel_map key %q is not an roi index", k)
		}
	}
	return nil
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getString(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// GetWarmupFrames returns the number of frames learned at the warm-up rate.
func (c *TuningConfig) GetWarmupFrames() int { return getInt(c.WarmupFrames, 20) }

func (c *TuningConfig) GetWarmupHalfLife() time.Duration {
	return getDuration(c.WarmupHalfLife, 200*time.Millisecond)
}

func (c *TuningConfig) GetMinHalfLife() time.Duration {
	return getDuration(c.MinHalfLife, 10*time.Second)
}

func (c *TuningConfig) GetMaxHalfLife() time.Duration {
	return getDuration(c.MaxHalfLife, 10*time.Minute)
}

func (c *TuningConfig) GetHalfLifeAdaptFactor() float64 {
	return getFloat(c.HalfLifeAdaptFactor, 1.05)
}

func (c *TuningConfig) GetDiffThreshold() int { return getInt(c.DiffThreshold, 20) }

func (c *TuningConfig) GetMinBlobArea() float64 { return getFloat(c.MinBlobArea, 10) }

func (c *TuningConfig) GetMaxBlobAreaFraction() float64 {
	return getFloat(c.MaxBlobAreaFraction, 0.25)
}

func (c *TuningConfig) GetMinBlobFill() float64 { return getFloat(c.MinBlobFill, 0.2) }

func (c *TuningConfig) GetMergeProportion() float64 { return getFloat(c.MergeProportion, 1.0) }

func (c *TuningConfig) GetObjectHistory() int { return getInt(c.ObjectHistory, 50) }

// GetMaxHistoryWindow returns how much time a tracking unit keeps in its history.
func (c *TuningConfig) GetMaxHistoryWindow() time.Duration {
	return getDuration(c.MaxHistoryWindow, 250*time.Second)
}

// GetMaxInferenceWindow returns how long a lost subject's last position is carried forward.
func (c *TuningConfig) GetMaxInferenceWindow() time.Duration {
	return getDuration(c.MaxInferenceWindow, 30*time.Second)
}

func (c *TuningConfig) GetROIBuilder() string { return getString(c.ROIBuilder, "target_grid") }

func (c *TuningConfig) GetReferenceFrames() int { return getInt(c.ReferenceFrames, 6) }

func (c *TuningConfig) GetGridRows() int { return getInt(c.GridRows, 10) }

func (c *TuningConfig) GetGridCols() int { return getInt(c.GridCols, 2) }

func (c *TuningConfig) GetTopMargin() float64 { return getFloat(c.TopMargin, 0.063) }

func (c *TuningConfig) GetBottomMargin() float64 { return getFloat(c.BottomMargin, 0.063) }

func (c *TuningConfig) GetLeftMargin() float64 { return getFloat(c.LeftMargin, -0.033) }

func (c *TuningConfig) GetRightMargin() float64 { return getFloat(c.RightMargin, -0.033) }

func (c *TuningConfig) GetHorizontalFill() float64 { return getFloat(c.HorizontalFill, 0.975) }

func (c *TuningConfig) GetVerticalFill() float64 { return getFloat(c.VerticalFill, 0.7) }

func (c *TuningConfig) GetMarkerPolarity() string { return getString(c.MarkerPolarity, "bright") }

// GetMarkerThreshold returns the marker threshold; 0 selects Otsu's method.
func (c *TuningConfig) GetMarkerThreshold() int { return getInt(c.MarkerThreshold, 0) }

func (c *TuningConfig) GetMinMarkerArea() float64 { return getFloat(c.MinMarkerArea, 4) }

func (c *TuningConfig) GetMaxMarkerAreaFraction() float64 {
	return getFloat(c.MaxMarkerAreaFraction, 0.01)
}

// GetFlushEveryFrames returns how many frames the result writer buffers between flushes.
func (c *TuningConfig) GetFlushEveryFrames() int { return getInt(c.FlushEveryFrames, 250) }

func (c *TuningConfig) GetSnapshotPeriod() time.Duration {
	return getDuration(c.SnapshotPeriod, 5*time.Minute)
}

func (c *TuningConfig) GetStimulator() string { return getString(c.Stimulator, "none") }

// GetSchedule returns the actuation schedule; empty means always active.
func (c *TuningConfig) GetSchedule() string { return getString(c.Schedule, "") }

func (c *TuningConfig) GetVelocityThreshold() float64 {
	return getFloat(c.VelocityThreshold, 0.06)
}

func (c *TuningConfig) GetMinInactiveTime() time.Duration {
	return getDuration(c.MinInactiveTime, 120*time.Second)
}

func (c *TuningConfig) GetStimulusDuration() time.Duration {
	return getDuration(c.StimulusDuration, time.Second)
}

func (c *TuningConfig) GetRefractoryPeriod() time.Duration {
	return getDuration(c.RefractoryPeriod, 10*time.Second)
}

// GetChannelMap returns the roi idx -> channel map. Nil means channel = idx.
func (c *TuningConfig) GetChannelMap() map[int]int {
	if len(c.ChannelMap) == 0 {
		return nil
	}
	out := make(map[int]int, len(c.ChannelMap))
	for k, v := range c.ChannelMap {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[idx] = v
	}
	return out
}

// GetSerialPort returns the actuator port; empty means auto-discover.
func (c *TuningConfig) GetSerialPort() string { return getString(c.SerialPort, "") }

func (c *TuningConfig) GetBaudRate() int { return getInt(c.BaudRate, 115200) }

func (c *TuningConfig) GetDispatchQueue() int { return getInt(c.DispatchQueue, 16) }

// GetMaxDuration returns the run length limit; 0 means unlimited.
func (c *TuningConfig) GetMaxDuration() time.Duration {
	return getDuration(c.MaxDuration, 0)
}

func (c *TuningConfig) GetTraceStride() int { return getInt(c.TraceStride, 1) }

// GetTracePoints returns how many positions each ROI's trace retains.
func (c *TuningConfig) GetTracePoints() int { return getInt(c.TracePoints, 20000) }
