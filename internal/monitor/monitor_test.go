package monitor

import (
	"context"
	"errors"
	"image"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ethotrack/internal/background"
	"github.com/banshee-data/ethotrack/internal/camera"
	"github.com/banshee-data/ethotrack/internal/db"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/results"
	"github.com/banshee-data/ethotrack/internal/roi"
	"github.com/banshee-data/ethotrack/internal/testutil"
	"github.com/banshee-data/ethotrack/internal/tracking"
	"github.com/banshee-data/ethotrack/internal/vision"
)

func init() {
	monitoring.SetLogger(nil)
}

const frameMs = 40

var trackCfg = tracking.Config{MaxHistoryWindow: time.Minute, MaxInferenceWindow: time.Second}

// twoROIs splits a 120x60 frame into left and right halves.
func twoROIs(t *testing.T) []*roi.ROI {
	t.Helper()
	left, err := roi.New([]image.Point{{0, 0}, {59, 0}, {59, 59}, {0, 59}})
	require.NoError(t, err)
	right, err := roi.New([]image.Point{{60, 0}, {119, 0}, {119, 59}, {60, 59}})
	require.NoError(t, err)
	rois := []*roi.ROI{right, left}
	roi.Sort(rois)
	return rois
}

// scripted reports a fixed detection on every frame, or panics when asked.
type scripted struct {
	x, y  float64
	panic bool
}

func (s *scripted) Apply(int64, *image.Gray) (background.Result, error) {
	if s.panic {
		panic("corrupt model")
	}
	return background.Found(background.Detection{X: s.x, Y: s.y, Width: 6, Height: 4}), nil
}

type fixedInteractor struct{ acted bool }

func (f fixedInteractor) Interact() bool { return f.acted }

type panicInteractor struct{}

func (panicInteractor) Interact() bool { panic("serial port vanished") }

func scriptedUnits(t *testing.T, locs ...tracking.Localizer) []*tracking.Unit {
	t.Helper()
	rois := twoROIs(t)
	var units []*tracking.Unit
	for i, loc := range locs {
		u, err := tracking.New(rois[i], trackCfg, loc)
		require.NoError(t, err)
		units = append(units, u)
	}
	return units
}

func blankFrames(n int) []camera.Frame {
	frames := make([]camera.Frame, n)
	for i := range frames {
		frames[i] = camera.Frame{T: int64(i * frameMs), Image: testutil.Gray(120, 60, 30)}
	}
	return frames
}

type recordingWriter struct {
	mu       sync.Mutex
	writes   map[int][]*observation.DataPoint
	times    map[int][]int64
	ticks    int
	closes   int
	closeCtx context.Context
	failTick error
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{writes: make(map[int][]*observation.DataPoint), times: make(map[int][]int64)}
}

func (w *recordingWriter) Write(t int64, r *roi.ROI, dp *observation.DataPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes[r.Idx()] = append(w.writes[r.Idx()], dp)
	w.times[r.Idx()] = append(w.times[r.Idx()], t)
	return nil
}

func (w *recordingWriter) Tick(context.Context, int64, *image.Gray) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ticks++
	return w.failTick
}

func (w *recordingWriter) Close(ctx context.Context, _ int64, _ *image.Gray) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	w.closeCtx = ctx
	return nil
}

func TestRun_EndToEndTwoROIs(t *testing.T) {
	rois := twoROIs(t)
	bg := &background.Config{
		WarmupFrames:    5,
		WarmupHalfLife:  200 * time.Millisecond,
		MinHalfLife:     10 * time.Second,
		MaxHalfLife:     10 * time.Minute,
		AdaptFactor:     1.05,
		DiffThreshold:   20,
		MinArea:         10,
		MaxAreaFraction: 0.25,
		MinFill:         0.2,
		MergeProportion: 1.0,
		ObjectHistory:   20,
	}
	var units []*tracking.Unit
	for _, r := range rois {
		u, err := tracking.NewWithBackground(r, trackCfg, bg, vision.Native{})
		require.NoError(t, err)
		units = append(units, u)
	}

	// Frame 0 is the empty arena. From frame 1 one animal walks right in
	// the left ROI while another walks left in the right ROI.
	const n = 30
	type truth struct{ lx, ly, rx, ry int }
	want := make([]truth, n+1)
	frames := []camera.Frame{{T: 0, Image: testutil.Gray(120, 60, 30)}}
	for i := 1; i <= n; i++ {
		img := testutil.Gray(120, 60, 30)
		want[i] = truth{lx: 10 + i, ly: 20, rx: 110 - i, ry: 40}
		testutil.Disk(img, want[i].lx, want[i].ly, 5, 220)
		testutil.Disk(img, want[i].rx, want[i].ry, 5, 220)
		frames = append(frames, camera.Frame{T: int64(i * frameMs), Image: img})
	}

	store, err := db.OpenDB(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	w, err := results.Open(ctx, store, results.Config{FlushEveryFrames: 7}, results.Run{
		Start: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
		Frame: image.Rect(0, 0, 120, 60),
		ROIs:  rois,
	})
	require.NoError(t, err)

	m, err := New(Config{}, camera.NewSliceSource(frames), units, w, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx))

	st := m.Status()
	assert.False(t, st.Running)
	assert.Equal(t, StopExhausted, st.Reason)
	assert.Equal(t, int64(n+1), st.Frames)
	assert.Equal(t, int64(2*n), st.Detections)
	assert.Zero(t, st.UnitErrors)

	xCol, err := db.ColumnName(observation.HeaderX)
	require.NoError(t, err)
	yCol, _ := db.ColumnName(observation.HeaderY)
	infCol, _ := db.ColumnName(observation.HeaderIsInferred)
	actCol, _ := db.ColumnName(observation.HeaderHasInteracted)

	for _, r := range rois {
		rows, err := store.Series(ctx, r.Idx())
		require.NoError(t, err)
		require.Len(t, rows, n, "roi %d", r.Idx())
		off := r.Offset()
		for k, row := range rows {
			i := k + 1
			assert.Equal(t, int64(i*frameMs), row.T)
			gx, gy := want[i].lx, want[i].ly
			if r.Idx() == 2 {
				gx, gy = want[i].rx, want[i].ry
			}
			assert.InDelta(t, gx-off.X, row.Values[xCol], 1.5, "roi %d frame %d x", r.Idx(), i)
			assert.InDelta(t, gy-off.Y, row.Values[yCol], 1.5, "roi %d frame %d y", r.Idx(), i)
			assert.Equal(t, int64(0), row.Values[infCol], "roi %d frame %d inferred", r.Idx(), i)
			assert.Equal(t, int64(0), row.Values[actCol])
		}
	}
}

func TestRun_InteractionRecorded(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10}, &scripted{x: 20, y: 20})
	units[0].Bind(fixedInteractor{acted: true})

	w := newRecordingWriter()
	m, err := New(Config{}, camera.NewSliceSource(blankFrames(3)), units, w, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	require.Len(t, w.writes[1], 3)
	require.Len(t, w.writes[2], 3)
	assert.Equal(t, int64(1), w.writes[1][0].Value(observation.HeaderHasInteracted))
	assert.Equal(t, int64(0), w.writes[2][0].Value(observation.HeaderHasInteracted))
	assert.Equal(t, int64(3), m.Status().Interactions)
	assert.Equal(t, 3, w.ticks)
	assert.Equal(t, 1, w.closes)

	// the unit's own history is not annotated
	last, ok := units[0].Last()
	require.True(t, ok)
	_, has := last.Point.Get(observation.HeaderHasInteracted)
	assert.False(t, has)
}

func TestRun_UnitPanicIsolated(t *testing.T) {
	units := scriptedUnits(t, &scripted{panic: true}, &scripted{x: 20, y: 20})
	w := newRecordingWriter()
	m, err := New(Config{}, camera.NewSliceSource(blankFrames(4)), units, w, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	assert.Empty(t, w.writes[1])
	assert.Len(t, w.writes[2], 4)
	assert.Equal(t, int64(4), m.Status().UnitErrors)
}

func TestRun_StimulatorPanicIsolated(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10})
	units[0].Bind(panicInteractor{})
	w := newRecordingWriter()
	m, err := New(Config{}, camera.NewSliceSource(blankFrames(2)), units, w, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	require.Len(t, w.writes[1], 2, "data point still recorded")
	assert.Equal(t, int64(0), w.writes[1][0].Value(observation.HeaderHasInteracted))
	assert.Equal(t, int64(2), m.Status().UnitErrors)
}

func TestRun_BadFrameIsPerFrameError(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10}, &scripted{x: 20, y: 20})
	frames := blankFrames(3)
	// too narrow for the right-hand roi
	frames[1].Image = testutil.Gray(80, 60, 30)

	w := newRecordingWriter()
	m, err := New(Config{}, camera.NewSliceSource(frames), units, w, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	assert.Len(t, w.writes[1], 3)
	assert.Equal(t, []int64{0, 80}, w.times[2])
	assert.Equal(t, int64(1), m.Status().UnitErrors)
}

func TestRun_MaxDurationOnFrameTime(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10})
	w := newRecordingWriter()
	m, err := New(Config{MaxDuration: 200 * time.Millisecond}, camera.NewSliceSource(blankFrames(20)), units, w, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	st := m.Status()
	assert.Equal(t, StopMaxDuration, st.Reason)
	// frames at 0..200 ms inclusive
	assert.Equal(t, int64(6), st.Frames)
	assert.Equal(t, int64(200), st.LastT)
	assert.Equal(t, 1, w.closes)
}

func TestRun_StopFromOnFrame(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10})
	w := newRecordingWriter()
	m, err := New(Config{}, camera.NewSliceSource(blankFrames(50)), units, w, nil)
	require.NoError(t, err)
	m.OnFrame = func(s Status) {
		if s.Frames == 5 {
			m.Stop()
		}
	}
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, StopRequested, m.Status().Reason)
	assert.Equal(t, int64(5), m.Status().Frames)
	m.Stop() // idempotent
}

func TestRun_CancelStillClosesWriter(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10})
	w := newRecordingWriter()
	m, err := New(Config{}, camera.NewSliceSource(blankFrames(50)), units, w, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.OnFrame = func(s Status) {
		if s.Frames == 3 {
			cancel()
		}
	}
	require.NoError(t, m.Run(ctx))
	assert.Equal(t, StopCancelled, m.Status().Reason)
	assert.Equal(t, 1, w.closes)
	require.NotNil(t, w.closeCtx)
	assert.NoError(t, w.closeCtx.Err(), "close runs with a live context")
}

func TestRun_PersistenceFailureAborts(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10})
	w := newRecordingWriter()
	w.failTick = errors.New("disk full")
	m, err := New(Config{}, camera.NewSliceSource(blankFrames(10)), units, w, nil)
	require.NoError(t, err)

	err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StopError, m.Status().Reason)
	assert.Equal(t, 1, w.ticks)
	assert.Equal(t, 1, w.closes)
}

type brokenSource struct{ *camera.SliceSource }

func (brokenSource) Next(context.Context) (camera.Frame, error) {
	return camera.Frame{}, errors.New("usb reset")
}

func TestRun_CameraErrorAborts(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10, y: 10})
	w := newRecordingWriter()
	m, err := New(Config{}, brokenSource{camera.NewSliceSource(nil)}, units, w, nil)
	require.NoError(t, err)
	err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usb reset")
	assert.Equal(t, 1, w.closes)
}

func TestNew_Validation(t *testing.T) {
	units := scriptedUnits(t, &scripted{}, &scripted{})
	src := camera.NewSliceSource(nil)
	w := newRecordingWriter()

	_, err := New(Config{MaxDuration: -time.Second}, src, units, w, nil)
	assert.Error(t, err)
	_, err = New(Config{}, nil, units, w, nil)
	assert.Error(t, err)
	_, err = New(Config{}, src, units, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{}, src, nil, w, nil)
	assert.Error(t, err)
	_, err = New(Config{}, src, []*tracking.Unit{units[0], units[0]}, w, nil)
	assert.Error(t, err)

	m, err := New(Config{}, src, units, w, nil)
	require.NoError(t, err)
	assert.Len(t, m.Units(), 2)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.MaxDuration)
}

func TestScriptedPositionsAreROIRelative(t *testing.T) {
	units := scriptedUnits(t, &scripted{x: 10.4, y: 3.6}, &scripted{x: 10.4, y: 3.6})
	w := newRecordingWriter()
	m, err := New(Config{}, camera.NewSliceSource(blankFrames(1)), units, w, nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))
	for idx := 1; idx <= 2; idx++ {
		require.Len(t, w.writes[idx], 1)
		assert.Equal(t, int64(10), w.writes[idx][0].Value(observation.HeaderX))
		assert.Equal(t, int64(4), w.writes[idx][0].Value(observation.HeaderY))
		assert.False(t, math.IsNaN(float64(w.writes[idx][0].Value(observation.HeaderXYDist))))
	}
}
