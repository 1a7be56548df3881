// Package stimulator couples tracking state to actuation. A Stimulator is
// bound to one tracking unit; on every frame it checks its schedule, asks
// its Decider whether to act on the unit's history and hands positive
// decisions to the hardware layer without waiting for them.
package stimulator

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/hardware"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/schedule"
	"github.com/banshee-data/ethotrack/internal/timeutil"
	"github.com/banshee-data/ethotrack/internal/tracking"
)

var logf = monitoring.Component("stimulator")

// Decider judges a unit's history. Apart from that history a Decider may
// hold its own refractory state (the time it last fired), so a Decider
// serves exactly one unit. Decide runs on the frame loop and must not block.
type Decider interface {
	Decide(u *tracking.Unit) (bool, hardware.Command)
}

// Stimulator is the decision-and-dispatch unit for one tracking unit.
type Stimulator struct {
	unit    *tracking.Unit
	decider Decider
	sched   *schedule.Scheduler
	hw      hardware.Interface
	clock   timeutil.Clock

	fired int
	last  hardware.Command
}

var _ tracking.Interactor = (*Stimulator)(nil)

// Bind creates a Stimulator and attaches it to u. A nil sched is always open.
func Bind(u *tracking.Unit, d Decider, sched *schedule.Scheduler, hw hardware.Interface, clock timeutil.Clock) (*Stimulator, error) {
	if u == nil || d == nil {
		return nil, fmt.Errorf("stimulator needs a unit and a decider")
	}
	if hw == nil {
		hw = hardware.Disabled{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Stimulator{unit: u, decider: d, sched: sched, hw: hw, clock: clock}
	u.Bind(s)
	return s, nil
}

// Apply runs one decision. It reports whether a command was handed to
// the hardware and which.
func (s *Stimulator) Apply() (bool, hardware.Command) {
	if s.sched != nil && !s.sched.CheckTimeRange(s.clock.Now()) {
		return false, hardware.Command{}
	}
	ok, cmd := s.decider.Decide(s.unit)
	if !ok {
		return false, hardware.Command{}
	}
	if err := s.hw.Send(cmd); err != nil {
		if errors.Is(err, hardware.ErrQueueFull) {
			logf("%v: dropped %v, dispatcher busy", s.unit.ROI(), cmd)
		} else {
			logf("%v: dispatch %v: %v", s.unit.ROI(), cmd, err)
		}
		return false, hardware.Command{}
	}
	s.fired++
	s.last = cmd
	return true, cmd
}

// Interact implements tracking.Interactor.
func (s *Stimulator) Interact() bool {
	ok, _ := s.Apply()
	return ok
}

// Fired counts commands handed to the hardware.
func (s *Stimulator) Fired() int { return s.fired }

// Unit returns the bound tracking unit.
func (s *Stimulator) Unit() *tracking.Unit { return s.unit }

// NewDecider returns the strategy cfg.Kind names.
func NewDecider(cfg Config) (Decider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindSleepDeprivation:
		return NewSleepDeprivation(cfg), nil
	case KindMiddleCrossing:
		return NewMiddleCrossing(cfg), nil
	}
	return Default{}, nil
}

// BindAll gives every unit its own Decider of cfg.Kind, sharing one
// scheduler and hardware interface.
func BindAll(units []*tracking.Unit, cfg Config, hw hardware.Interface, clock timeutil.Clock, loc *time.Location) ([]*Stimulator, error) {
	sched, err := schedule.New(cfg.Schedule, loc)
	if err != nil {
		return nil, err
	}
	out := make([]*Stimulator, 0, len(units))
	for _, u := range units {
		d, err := NewDecider(cfg)
		if err != nil {
			return nil, err
		}
		s, err := Bind(u, d, sched, hw, clock)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	logf("bound %s stimulator to %d units, schedule %v", cfg.Kind, len(out), sched)
	return out, nil
}
