// Package monitor runs the per-frame loop: pull a frame, track every ROI,
// let each bound stimulator act, then hand the results to the drawer and
// the result writer.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/banshee-data/ethotrack/internal/camera"
	"github.com/banshee-data/ethotrack/internal/drawer"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/roi"
	"github.com/banshee-data/ethotrack/internal/tracking"
)

var logf = monitoring.Component("monitor")

// ResultWriter is the part of *results.Writer the loop drives.
type ResultWriter interface {
	Write(t int64, r *roi.ROI, dp *observation.DataPoint) error
	Tick(ctx context.Context, t int64, frame *image.Gray) error
	Close(ctx context.Context, t int64, frame *image.Gray) error
}

// StopReason records why Run returned.
type StopReason string

const (
	StopNone        StopReason = ""
	StopExhausted   StopReason = "source exhausted"
	StopRequested   StopReason = "stop requested"
	StopCancelled   StopReason = "context cancelled"
	StopMaxDuration StopReason = "max duration reached"
	StopError       StopReason = "error"
)

// Status is a snapshot of loop progress.
type Status struct {
	Running      bool
	Frames       int64
	FirstT       int64
	LastT        int64
	Detections   int64
	Interactions int64
	UnitErrors   int64
	Reason       StopReason
}

type Monitor struct {
	cfg    Config
	src    camera.Source
	units  []*tracking.Unit
	writer ResultWriter
	drawer drawer.Drawer

	// OnFrame, when set, is called after every processed frame from the
	// loop goroutine. It must not block.
	OnFrame func(Status)

	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	status Status
}

// New validates the wiring. A nil drawer draws nothing.
func New(cfg Config, src camera.Source, units []*tracking.Unit, w ResultWriter, d drawer.Drawer) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	if src == nil {
		return nil, errors.New("monitor needs a frame source")
	}
	if w == nil {
		return nil, errors.New("monitor needs a result writer")
	}
	if len(units) == 0 {
		return nil, errors.New("monitor needs at least one tracking unit")
	}
	seen := make(map[int]bool, len(units))
	for _, u := range units {
		idx := u.ROI().Idx()
		if seen[idx] {
			return nil, fmt.Errorf("two tracking units share roi idx %d", idx)
		}
		seen[idx] = true
	}
	if d == nil {
		d = drawer.Null{}
	}
	return &Monitor{
		cfg:    cfg,
		src:    src,
		units:  units,
		writer: w,
		drawer: d,
		stop:   make(chan struct{}),
	}, nil
}

func (m *Monitor) Units() []*tracking.Unit { return m.units }

// Stop asks a running loop to return after the current frame.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) stopRequested() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// Run drives the loop until the source is exhausted, Stop is called, ctx
// is done, or MaxDuration of frame time has passed. Those all return nil.
// A camera or persistence failure ends the run with an error. Every exit
// path closes the result writer, flushing what is buffered, and the drawer.
func (m *Monitor) Run(ctx context.Context) (err error) {
	m.mu.Lock()
	m.status = Status{Running: true}
	m.mu.Unlock()

	var (
		lastT     int64
		lastFrame *image.Gray
		reason    StopReason
	)
	defer func() {
		// the writer must flush even when ctx is what ended the run
		if cerr := m.writer.Close(context.WithoutCancel(ctx), lastT, lastFrame); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close results: %w", cerr))
		}
		if derr := m.drawer.Close(); derr != nil {
			logf("drawer close: %v", derr)
		}
		if err != nil {
			reason = StopError
		}
		m.mu.Lock()
		m.status.Running = false
		m.status.Reason = reason
		st := m.status
		m.mu.Unlock()
		logf("stopped after %d frames (%s)", st.Frames, reason)
	}()

	var (
		t0      int64
		started bool
	)
	for {
		if ctx.Err() != nil {
			reason = StopCancelled
			return nil
		}
		if m.stopRequested() {
			reason = StopRequested
			return nil
		}

		f, ferr := m.src.Next(ctx)
		if ferr != nil {
			switch {
			case errors.Is(ferr, io.EOF):
				reason = StopExhausted
				return nil
			case ctx.Err() != nil:
				reason = StopCancelled
				return nil
			}
			return fmt.Errorf("camera: %w", ferr)
		}

		if !started {
			t0, started = f.T, true
		}
		if m.cfg.MaxDuration > 0 && f.T-t0 > m.cfg.MaxDuration.Milliseconds() {
			reason = StopMaxDuration
			return nil
		}

		if err := m.processFrame(ctx, f); err != nil {
			return err
		}
		lastT, lastFrame = f.T, f.Image

		if m.OnFrame != nil {
			m.OnFrame(m.Status())
		}
	}
}

func (m *Monitor) processFrame(ctx context.Context, f camera.Frame) error {
	positions := make(map[int]*observation.DataPoint, len(m.units))
	var detections, interactions, unitErrors int64

	for _, u := range m.units {
		dp, err := track(u, f)
		if err != nil {
			unitErrors++
			logf("frame %d: %v", f.T, err)
			continue
		}
		if dp == nil {
			continue
		}
		detections++

		acted, err := interact(u)
		if err != nil {
			unitErrors++
			logf("frame %d: %v", f.T, err)
		}
		if acted {
			interactions++
		}

		dp = dp.Copy()
		dp.Set(observation.Bool(observation.HeaderHasInteracted, acted))
		positions[u.ROI().Idx()] = dp

		if err := m.writer.Write(f.T, u.ROI(), dp); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}

	if err := m.drawer.Draw(f.T, f.Image, positions, m.units); err != nil {
		logf("frame %d: draw: %v", f.T, err)
	}
	if err := m.writer.Tick(ctx, f.T, f.Image); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}

	m.mu.Lock()
	if m.status.Frames == 0 {
		m.status.FirstT = f.T
	}
	m.status.Frames++
	m.status.LastT = f.T
	m.status.Detections += detections
	m.status.Interactions += interactions
	m.status.UnitErrors += unitErrors
	m.mu.Unlock()
	return nil
}

// track runs one unit, turning a panic into an error for that frame.
func track(u *tracking.Unit, f camera.Frame) (dp *observation.DataPoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			dp, err = nil, fmt.Errorf("%v: tracking panicked: %v", u.ROI(), r)
		}
	}()
	return u.Track(f.T, f.Image)
}

func interact(u *tracking.Unit) (acted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			acted, err = false, fmt.Errorf("%v: stimulator panicked: %v", u.ROI(), r)
		}
	}()
	return u.Interact(), nil
}
