package stimulator

import (
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/config"
)

// Kind names a decision strategy.
type Kind string

const (
	KindNone             Kind = "none"
	KindSleepDeprivation Kind = "sleep_deprivation"
	KindMiddleCrossing   Kind = "middle_crossing"
)

// Config parameterises every decision strategy; each reads the fields it needs.
type Config struct {
	Kind              Kind
	Schedule          string        // schedule.Scheduler ranges, "" for always
	VelocityThreshold float64       // ROI lengths per second counted as movement (default: 0.06)
	MinInactiveTime   time.Duration // inactivity before a sleep-deprivation pulse (default: 120s)
	StimulusDuration  time.Duration // pulse length (default: 1s)
	RefractoryPeriod  time.Duration // minimum time between pulses on one ROI (default: 10s)
	ChannelMap        map[int]int   // roi idx -> actuator channel; unmapped ROIs use their idx
}

func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Kind:              Kind(cfg.GetStimulator()),
		Schedule:          cfg.GetSchedule(),
		VelocityThreshold: cfg.GetVelocityThreshold(),
		MinInactiveTime:   cfg.GetMinInactiveTime(),
		StimulusDuration:  cfg.GetStimulusDuration(),
		RefractoryPeriod:  cfg.GetRefractoryPeriod(),
		ChannelMap:        cfg.GetChannelMap(),
	}
}

func (c Config) Validate() error {
	switch c.Kind {
	case KindNone, KindSleepDeprivation, KindMiddleCrossing:
	default:
		return fmt.Errorf("unknown stimulator %q", c.Kind)
	}
	if c.VelocityThreshold < 0 {
		return fmt.Errorf("VelocityThreshold must be non-negative, got %g", c.VelocityThreshold)
	}
	if c.MinInactiveTime < 0 || c.RefractoryPeriod < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if c.Kind != KindNone && c.StimulusDuration <= 0 {
		return fmt.Errorf("StimulusDuration must be positive, got %v", c.StimulusDuration)
	}
	return nil
}

// channel maps an ROI index to its actuator channel.
func (c Config) channel(idx int) int {
	if ch, ok := c.ChannelMap[idx]; ok {
		return ch
	}
	return idx
}
