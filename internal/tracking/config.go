package tracking

import (
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/config"
)

// Config bounds the time windows a Unit keeps and infers over.
type Config struct {
	MaxHistoryWindow   time.Duration // span kept between oldest and newest sample (default: 250s)
	MaxInferenceWindow time.Duration // how long a lost subject is carried forward (default: 30s)
}

// DefaultConfig returns the tracking configuration from the canonical
// tuning defaults file.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MaxHistoryWindow:   cfg.GetMaxHistoryWindow(),
		MaxInferenceWindow: cfg.GetMaxInferenceWindow(),
	}
}

func (c Config) Validate() error {
	if c.MaxHistoryWindow <= 0 {
		return fmt.Errorf("MaxHistoryWindow must be positive, got %v", c.MaxHistoryWindow)
	}
	if c.MaxInferenceWindow < 0 {
		return fmt.Errorf("MaxInferenceWindow must be non-negative, got %v", c.MaxInferenceWindow)
	}
	return nil
}
