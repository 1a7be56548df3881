// Package drawer renders tracking output for people: trajectory plots, an
// interactive chart page, and (with OpenCV) an annotated video.
package drawer

import (
	"errors"
	"image"
	"sort"
	"sync"

	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/tracking"
)

var logf = monitoring.Component("drawer")

// Drawer consumes every processed frame. positions is keyed by ROI idx and
// holds only the ROIs that produced a DataPoint this frame. Drawers never
// mutate the units they are given.
type Drawer interface {
	Draw(t int64, frame *image.Gray, positions map[int]*observation.DataPoint, units []*tracking.Unit) error
	Close() error
}

// Null discards everything.
type Null struct{}

func (Null) Draw(int64, *image.Gray, map[int]*observation.DataPoint, []*tracking.Unit) error {
	return nil
}
func (Null) Close() error { return nil }

// Multi fans each frame out to several drawers. Errors are joined; one
// failing drawer does not starve the others.
type Multi []Drawer

func (m Multi) Draw(t int64, frame *image.Gray, positions map[int]*observation.DataPoint, units []*tracking.Unit) error {
	var errs []error
	for _, d := range m {
		if err := d.Draw(t, frame, positions, units); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, d := range m {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Point is one frame-coordinate position of a subject.
type Point struct {
	T          int64
	X, Y       float64
	Inferred   bool
	Interacted bool
}

// DefaultTracePoints is the per-ROI retention of NewTrace when limit is
// not positive.
const DefaultTracePoints = 20000

// ring holds the newest limit points in arrival order once full.
type ring struct {
	buf  []Point
	head int
}

func (r *ring) push(p Point, limit int) {
	if len(r.buf) < limit {
		r.buf = append(r.buf, p)
		return
	}
	r.buf[r.head] = p
	r.head = (r.head + 1) % limit
}

func (r *ring) slice() []Point {
	out := make([]Point, 0, len(r.buf))
	out = append(out, r.buf[r.head:]...)
	return append(out, r.buf[:r.head]...)
}

// Trace accumulates frame-coordinate positions per ROI, keeping at most
// limit points each and dropping the oldest first. It may be shared by
// several drawers; a frame time already recorded is skipped.
type Trace struct {
	mu     sync.Mutex
	every  int
	limit  int
	frames int
	lastT  int64
	seen   bool
	bounds image.Rectangle
	points map[int]*ring
}

// NewTrace keeps one frame in every (1 keeps all) and at most limit points
// per ROI.
func NewTrace(every, limit int) *Trace {
	if limit <= 0 {
		limit = DefaultTracePoints
	}
	return &Trace{every: max(every, 1), limit: limit, points: make(map[int]*ring)}
}

func (tr *Trace) record(t int64, frame *image.Gray, positions map[int]*observation.DataPoint, units []*tracking.Unit) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.seen && t == tr.lastT {
		return
	}
	tr.lastT, tr.seen = t, true
	if frame != nil {
		tr.bounds = frame.Bounds()
	}
	tr.frames++
	if (tr.frames-1)%tr.every != 0 {
		return
	}
	for _, u := range units {
		r := u.ROI()
		dp, ok := positions[r.Idx()]
		if !ok || dp == nil {
			continue
		}
		off := r.Offset()
		rg := tr.points[r.Idx()]
		if rg == nil {
			rg = &ring{}
			tr.points[r.Idx()] = rg
		}
		rg.push(Point{
			T:          t,
			X:          float64(dp.Value(observation.HeaderX) + int64(off.X)),
			Y:          float64(dp.Value(observation.HeaderY) + int64(off.Y)),
			Inferred:   dp.IsInferred(),
			Interacted: dp.Value(observation.HeaderHasInteracted) != 0,
		}, tr.limit)
	}
}

// Indices returns the ROI indices with at least one point, ascending.
func (tr *Trace) Indices() []int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]int, 0, len(tr.points))
	for idx := range tr.points {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Points returns a copy of the retained points for idx, oldest first.
func (tr *Trace) Points(idx int) []Point {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	rg, ok := tr.points[idx]
	if !ok {
		return []Point{}
	}
	return rg.slice()
}

func (tr *Trace) Bounds() image.Rectangle {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.bounds
}
