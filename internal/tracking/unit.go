// Package tracking turns per-frame localisations from an adaptive
// background model into a stream of DataPoints for one ROI.
//
// A Unit moves between three states. A fresh detection makes it Active. A
// missed detection within MaxInferenceWindow of the last real one carries
// the previous position forward flagged is_inferred (Inferred). Beyond that
// window, or before the first detection, the unit emits nothing (Lost).
package tracking

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/banshee-data/ethotrack/internal/background"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/roi"
	"github.com/banshee-data/ethotrack/internal/vision"
)

var logf = monitoring.Component("tracker")

// State is the lifecycle state after the most recent Track call.
type State string

const (
	StateNone     State = ""
	StateActive   State = "active"
	StateInferred State = "inferred"
	StateLost     State = "lost"
)

// Localizer finds the subject in a cropped ROI image.
// *background.Model is the production implementation.
type Localizer interface {
	Apply(t int64, img *image.Gray) (background.Result, error)
}

// Interactor is the decision unit optionally bound to a Unit. Interact
// reports whether it acted on the unit this frame.
type Interactor interface {
	Interact() bool
}

// Unit tracks one ROI. Track must be called from a single goroutine;
// the read accessors are safe to call concurrently with it.
type Unit struct {
	roi   *roi.ROI
	model Localizer
	cfg   Config

	mu           sync.RWMutex
	hist         history
	state        State
	lastT        int64
	started      bool
	lastDetected int64
	detected     bool
	interactor   Interactor
}

// New builds a Unit around an existing Localizer.
func New(r *roi.ROI, cfg Config, model Localizer) (*Unit, error) {
	if r == nil {
		return nil, fmt.Errorf("tracking unit needs an roi")
	}
	if model == nil {
		return nil, fmt.Errorf("tracking unit for %v needs a localizer", r)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracking config: %w", err)
	}
	return &Unit{
		roi:   r,
		model: model,
		cfg:   cfg,
		hist:  history{window: cfg.MaxHistoryWindow.Milliseconds()},
	}, nil
}

// NewWithBackground builds a Unit whose Localizer is an adaptive background
// model sized and masked to r.
func NewWithBackground(r *roi.ROI, cfg Config, bg *background.Config, prims vision.Primitives) (*Unit, error) {
	if r == nil {
		return nil, fmt.Errorf("tracking unit needs an roi")
	}
	model, err := background.NewModel(bg, r.Rect().Size(), r.Mask(), prims)
	if err != nil {
		return nil, fmt.Errorf("background model for %v: %w", r, err)
	}
	return New(r, cfg, model)
}

// Track processes the frame captured at t milliseconds. It returns nil
// with a nil error when the subject is lost. Errors are reserved for
// misuse: timestamps going backwards or an ROI that does not fit the frame.
func (u *Unit) Track(t int64, frame *image.Gray) (*observation.DataPoint, error) {
	if u.started && t < u.lastT {
		return nil, fmt.Errorf("%v: timestamp %d precedes previous %d", u.roi, t, u.lastT)
	}
	crop, err := u.roi.Crop(frame)
	if err != nil {
		return nil, err
	}
	res, err := u.model.Apply(t, crop)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", u.roi, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.started, u.lastT = true, t

	if res.Detected {
		dp := u.observe(res.Detection)
		u.state = StateActive
		u.detected, u.lastDetected = true, t
		u.hist.push(Sample{T: t, Point: dp})
		return dp, nil
	}

	last, ok := u.hist.last()
	if ok && u.detected && t-u.lastDetected <= u.cfg.MaxInferenceWindow.Milliseconds() {
		dp := last.Point.Copy()
		dp.Set(observation.LogDistance(observation.HeaderXYDist, 0))
		dp.Set(observation.Bool(observation.HeaderIsInferred, true))
		u.state = StateInferred
		u.hist.push(Sample{T: t, Point: dp})
		return dp, nil
	}

	if u.state != StateLost && u.state != StateNone {
		logf("%v lost after %d ms without a detection", u.roi, t-u.lastDetected)
	}
	u.state = StateLost
	return nil, nil
}

// observe builds the DataPoint for a fresh detection. Positions are
// relative to the ROI origin; xy_dist is the distance moved since the
// previous sample as a fraction of the ROI's longest side.
func (u *Unit) observe(d background.Detection) *observation.DataPoint {
	x, y := math.Round(d.X), math.Round(d.Y)
	dist := 0.0
	if prev, ok := u.hist.last(); ok {
		px := float64(prev.Point.Value(observation.HeaderX))
		py := float64(prev.Point.Value(observation.HeaderY))
		dist = math.Hypot(d.X-px, d.Y-py) / float64(u.roi.Longest())
	}
	return observation.NewDataPoint(
		observation.Int(observation.HeaderX, observation.TypeDistance, int64(x)),
		observation.Int(observation.HeaderY, observation.TypeDistance, int64(y)),
		observation.Int(observation.HeaderWidth, observation.TypeDistance, int64(math.Round(d.Width))),
		observation.Int(observation.HeaderHeight, observation.TypeDistance, int64(math.Round(d.Height))),
		observation.Int(observation.HeaderPhi, observation.TypeAngle, int64(math.Round(d.Angle))%180),
		observation.LogDistance(observation.HeaderXYDist, dist),
		observation.Bool(observation.HeaderIsInferred, false),
	)
}

// ROI returns the region this unit tracks.
func (u *Unit) ROI() *roi.ROI { return u.roi }

func (u *Unit) State() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// History returns a copy of the retained samples, oldest first. The
// DataPoints are shared with the unit.
func (u *Unit) History() []Sample {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hist.snapshot()
}

// Len is the number of retained samples.
func (u *Unit) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hist.len()
}

// Span is newest minus oldest retained timestamp, in milliseconds.
func (u *Unit) Span() int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	first, ok := u.hist.first()
	if !ok {
		return 0
	}
	last, _ := u.hist.last()
	return last.T - first.T
}

// Last returns the newest sample.
func (u *Unit) Last() (Sample, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hist.last()
}

// LastPositions returns up to n of the newest samples, newest first.
func (u *Unit) LastPositions(n int) []Sample {
	out := make([]Sample, 0, max(n, 0))
	u.WalkBack(func(s Sample) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, s)
		return true
	})
	return out
}

// WalkBack calls fn on retained samples newest first until it returns
// false. fn must not call back into the unit.
func (u *Unit) WalkBack(fn func(Sample) bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	u.hist.walkBack(fn)
}

// Bind attaches the interactor that decides on this unit's history.
func (u *Unit) Bind(i Interactor) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.interactor = i
}

// Interact runs the bound interactor, if any.
func (u *Unit) Interact() bool {
	u.mu.RLock()
	i := u.interactor
	u.mu.RUnlock()
	if i == nil {
		return false
	}
	return i.Interact()
}
