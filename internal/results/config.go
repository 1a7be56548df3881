package results

import (
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/config"
)

// Config controls how often buffered records reach the store.
type Config struct {
	FlushEveryFrames int           // frames buffered between commits (default: 250)
	SnapshotPeriod   time.Duration // minimum spacing of stored frame snapshots; 0 disables
}

func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		FlushEveryFrames: cfg.GetFlushEveryFrames(),
		SnapshotPeriod:   cfg.GetSnapshotPeriod(),
	}
}

func (c Config) Validate() error {
	if c.FlushEveryFrames < 1 {
		return fmt.Errorf("FlushEveryFrames must be at least 1, got %d", c.FlushEveryFrames)
	}
	if c.SnapshotPeriod < 0 {
		return fmt.Errorf("SnapshotPeriod must be non-negative, got %v", c.SnapshotPeriod)
	}
	return nil
}
