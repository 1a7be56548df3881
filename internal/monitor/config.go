package monitor

import (
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/config"
)

type Config struct {
	// MaxDuration stops the run once frame time passes this far beyond the
	// first frame. 0 runs until the source is exhausted or Stop is called.
	MaxDuration time.Duration
}

func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{MaxDuration: cfg.GetMaxDuration()}
}

func (c Config) Validate() error {
	if c.MaxDuration < 0 {
		return fmt.Errorf("MaxDuration must be non-negative, got %v", c.MaxDuration)
	}
	return nil
}
