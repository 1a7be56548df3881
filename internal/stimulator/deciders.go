package stimulator

import (
	"github.com/banshee-data/ethotrack/internal/hardware"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/tracking"
)

// Default never acts.
type Default struct{}

func (Default) Decide(*tracking.Unit) (bool, hardware.Command) { return false, hardware.Command{} }

// SleepDeprivation pulses the ROI's channel once the subject has not
// exceeded VelocityThreshold for MinInactiveTime. Velocity is the logged
// xy distance of a sample divided by the time since the sample before it.
// Times are frame timestamps, so replayed video behaves like live capture.
type SleepDeprivation struct {
	cfg       Config
	lastFired int64
	hasFired  bool
}

func NewSleepDeprivation(cfg Config) *SleepDeprivation {
	return &SleepDeprivation{cfg: cfg}
}

func (d *SleepDeprivation) Decide(u *tracking.Unit) (bool, hardware.Command) {
	now, ok := u.Last()
	if !ok {
		return false, hardware.Command{}
	}
	if d.hasFired && now.T-d.lastFired < d.cfg.RefractoryPeriod.Milliseconds() {
		return false, hardware.Command{}
	}
	if !d.inactive(u, now.T) {
		return false, hardware.Command{}
	}
	d.lastFired, d.hasFired = now.T, true
	return true, hardware.Command{Channel: d.cfg.channel(u.ROI().Idx()), Duration: d.cfg.StimulusDuration}
}

// inactive reports whether history covers the last MinInactiveTime and
// no sample in that span moved faster than the threshold.
func (d *SleepDeprivation) inactive(u *tracking.Unit, now int64) bool {
	since := now - d.cfg.MinInactiveTime.Milliseconds()
	moved, covered := false, false
	var newer tracking.Sample
	first := true
	u.WalkBack(func(s tracking.Sample) bool {
		if !first {
			if dt := newer.T - s.T; dt > 0 {
				dist := observation.DecodeDistance(newer.Point.Value(observation.HeaderXYDist))
				if dist/(float64(dt)/1000) > d.cfg.VelocityThreshold {
					moved = true
					return false
				}
			}
		}
		if s.T <= since {
			covered = true
			return false
		}
		newer, first = s, false
		return true
	})
	return covered && !moved
}

// MiddleCrossing pulses when the subject's x crosses the ROI midline
// between two consecutive observed samples.
type MiddleCrossing struct {
	cfg       Config
	lastFired int64
	hasFired  bool
}

func NewMiddleCrossing(cfg Config) *MiddleCrossing {
	return &MiddleCrossing{cfg: cfg}
}

func (d *MiddleCrossing) Decide(u *tracking.Unit) (bool, hardware.Command) {
	last := u.LastPositions(2)
	if len(last) < 2 {
		return false, hardware.Command{}
	}
	cur, prev := last[0], last[1]
	if cur.Point.IsInferred() || prev.Point.IsInferred() {
		return false, hardware.Command{}
	}
	if d.hasFired && cur.T-d.lastFired < d.cfg.RefractoryPeriod.Milliseconds() {
		return false, hardware.Command{}
	}
	mid := int64(u.ROI().Rect().Dx() / 2)
	a, b := prev.Point.Value(observation.HeaderX), cur.Point.Value(observation.HeaderX)
	if (a < mid) == (b < mid) {
		return false, hardware.Command{}
	}
	d.lastFired, d.hasFired = cur.T, true
	return true, hardware.Command{Channel: d.cfg.channel(u.ROI().Idx()), Duration: d.cfg.StimulusDuration}
}
