package background

import (
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/config"
)

// Config holds the tunables of the adaptive model. Build one with
// DefaultConfig or ConfigFromTuning and adjust with the With* methods.
type Config struct {
	// Learning-rate schedule
	WarmupFrames   int           // frames learned at WarmupHalfLife (default: 20)
	WarmupHalfLife time.Duration // half-life during warm-up (default: 200ms)
	MinHalfLife    time.Duration // fastest post-warm-up half-life (default: 10s)
	MaxHalfLife    time.Duration // slowest post-warm-up half-life (default: 10m)
	AdaptFactor    float64       // per-frame half-life multiplier (default: 1.05)

	// Foreground extraction
	DiffThreshold uint8 // grey-level difference counted as foreground (default: 20)

	// Blob acceptance
	MinArea         float64 // pixels (default: 10)
	MaxAreaFraction float64 // of the ROI area (default: 0.25)
	MinFill         float64 // blob area / fitted rect area (default: 0.2)
	MergeProportion float64 // merge when centres closer than this x longest axis (default: 1.0)

	ObjectHistory int // object-model ring buffer capacity (default: 50)
}

// DefaultConfig returns a Config loaded from the canonical tuning defaults
// file. Panics if the file cannot be found.
func DefaultConfig() *Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) *Config {
	return &Config{
		WarmupFrames:    cfg.GetWarmupFrames(),
		WarmupHalfLife:  cfg.GetWarmupHalfLife(),
		MinHalfLife:     cfg.GetMinHalfLife(),
		MaxHalfLife:     cfg.GetMaxHalfLife(),
		AdaptFactor:     cfg.GetHalfLifeAdaptFactor(),
		DiffThreshold:   uint8(cfg.GetDiffThreshold()),
		MinArea:         cfg.GetMinBlobArea(),
		MaxAreaFraction: cfg.GetMaxBlobAreaFraction(),
		MinFill:         cfg.GetMinBlobFill(),
		MergeProportion: cfg.GetMergeProportion(),
		ObjectHistory:   cfg.GetObjectHistory(),
	}
}

func (c *Config) WithWarmup(frames int, halfLife time.Duration) *Config {
	c.WarmupFrames, c.WarmupHalfLife = frames, halfLife
	return c
}

func (c *Config) WithHalfLifeRange(minHL, maxHL time.Duration) *Config {
	c.MinHalfLife, c.MaxHalfLife = minHL, maxHL
	return c
}

func (c *Config) WithDiffThreshold(v uint8) *Config {
	c.DiffThreshold = v
	return c
}

func (c *Config) WithAreaBounds(minArea, maxFraction float64) *Config {
	c.MinArea, c.MaxAreaFraction = minArea, maxFraction
	return c
}

func (c *Config) WithMinFill(v float64) *Config {
	c.MinFill = v
	return c
}

func (c *Config) WithMergeProportion(v float64) *Config {
	c.MergeProportion = v
	return c
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.WarmupFrames < 0 {
		return fmt.Errorf("WarmupFrames must be non-negative, got %d", c.WarmupFrames)
	}
	if c.WarmupHalfLife <= 0 || c.MinHalfLife <= 0 || c.MaxHalfLife <= 0 {
		return fmt.Errorf("half-lives must be positive")
	}
	if c.MinHalfLife > c.MaxHalfLife {
		return fmt.Errorf("MinHalfLife %v exceeds MaxHalfLife %v", c.MinHalfLife, c.MaxHalfLife)
	}
	if c.AdaptFactor < 1 {
		return fmt.Errorf("AdaptFactor must be >= 1, got %f", c.AdaptFactor)
	}
	if c.DiffThreshold == 0 {
		return fmt.Errorf("DiffThreshold must be positive")
	}
	if c.MinArea < 0 || c.MaxAreaFraction <= 0 || c.MaxAreaFraction > 1 {
		return fmt.Errorf("area bounds invalid: min %f, max fraction %f", c.MinArea, c.MaxAreaFraction)
	}
	if c.MinFill < 0 || c.MinFill > 1 {
		return fmt.Errorf("MinFill must be in [0,1], got %f", c.MinFill)
	}
	if c.MergeProportion < 0 {
		return fmt.Errorf("MergeProportion must be non-negative, got %f", c.MergeProportion)
	}
	if c.ObjectHistory < 1 {
		return fmt.Errorf("ObjectHistory must be positive, got %d", c.ObjectHistory)
	}
	return nil
}
