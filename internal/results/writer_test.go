package results

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ethotrack/internal/db"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/roi"
	"github.com/banshee-data/ethotrack/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func testROIs(t *testing.T) []*roi.ROI {
	t.Helper()
	a, err := roi.New([]image.Point{{0, 0}, {49, 0}, {49, 39}, {0, 39}})
	require.NoError(t, err)
	b, err := roi.New([]image.Point{{50, 0}, {99, 0}, {99, 39}, {50, 39}})
	require.NoError(t, err)
	rois := []*roi.ROI{b, a}
	roi.Sort(rois)
	return rois
}

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.OpenDB(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dp(x int64) *observation.DataPoint {
	return observation.NewDataPoint(
		observation.Int(observation.HeaderX, observation.TypeDistance, x),
		observation.Bool(observation.HeaderIsInferred, false),
	)
}

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestOpen_WritesMetadataOnce(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rois := testROIs(t)

	w, err := Open(ctx, store, Config{FlushEveryFrames: 10}, Run{Start: start, Frame: image.Rect(0, 0, 100, 40), ROIs: rois})
	require.NoError(t, err)
	_, err = uuid.Parse(w.RunID())
	require.NoError(t, err)

	meta, err := store.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", meta["frame_width"])
	assert.Equal(t, "40", meta["frame_height"])
	assert.Equal(t, "2", meta["roi_count"])
	assert.Equal(t, "2026-03-01T09:00:00Z", meta["date_time"])
	assert.Equal(t, strconv.FormatInt(start.Unix(), 10), meta["start_unix"])
	assert.Equal(t, w.RunID(), meta["run_id"])
	assert.NotEmpty(t, meta["version"])

	m, err := store.ROIMap(ctx)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, 1, m[0].Idx)
	assert.Equal(t, 50, m[1].X)
	assert.Equal(t, "[[50,0],[99,0],[99,39],[50,39]]", m[1].Polygon)
	assert.False(t, m[0].Value.Valid)

	_, err = Open(ctx, store, Config{FlushEveryFrames: 10}, Run{Start: start, Frame: image.Rect(0, 0, 100, 40), ROIs: rois})
	assert.ErrorIs(t, err, db.ErrRunExists)
}

func TestWriter_FlushesEveryNFrames(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rois := testROIs(t)
	w, err := Open(ctx, store, Config{FlushEveryFrames: 3}, Run{Start: start, Frame: image.Rect(0, 0, 100, 40), ROIs: rois})
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, w.Write(i*40, rois[0], dp(i)))
		require.NoError(t, w.Write(i*40, rois[1], dp(10+i)))
		require.NoError(t, w.Tick(ctx, i*40, nil))
	}
	s := w.Stats()
	assert.Equal(t, int64(10), s.Written)
	assert.Equal(t, int64(6), s.Committed)
	assert.Equal(t, 4, s.Pending)
	assert.Equal(t, 1, s.Flushes)

	rows, err := store.Series(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	require.NoError(t, w.Close(ctx, 160, nil))
	rows, err = store.Series(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, r := range rows {
		assert.Equal(t, int64(i+1), r.ID)
		assert.Equal(t, int64(i*40), r.T)
		assert.Equal(t, int64(10+i), r.Values["x"])
	}
}

func TestOpen_SilentROIStillHasSeries(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rois := testROIs(t)
	w, err := Open(ctx, store, Config{FlushEveryFrames: 1}, Run{Start: start, Frame: image.Rect(0, 0, 100, 40), ROIs: rois})
	require.NoError(t, err)

	// only the first ROI ever sees an animal
	for i := int64(0); i < 3; i++ {
		require.NoError(t, w.Write(i*40, rois[0], dp(i)))
		require.NoError(t, w.Tick(ctx, i*40, nil))
	}
	require.NoError(t, w.Close(ctx, 120, nil))

	idxs, err := store.SeriesIndices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, idxs)

	rows, err := store.Series(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	vars, err := store.VarMap(ctx)
	require.NoError(t, err)
	assert.Len(t, vars, len(observation.Schema()))
}

func TestWriter_WriteCopiesDataPoint(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rois := testROIs(t)
	w, err := Open(ctx, store, Config{FlushEveryFrames: 100}, Run{Start: start, ROIs: rois})
	require.NoError(t, err)

	p := dp(1)
	require.NoError(t, w.Write(0, rois[0], p))
	p.Set(observation.Int(observation.HeaderX, observation.TypeDistance, 99))
	require.NoError(t, w.Close(ctx, 0, nil))

	rows, err := store.Series(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Values["x"])
}

func TestWriter_NilDataPointIgnored(t *testing.T) {
	w, err := Open(context.Background(), &fakeStore{}, Config{FlushEveryFrames: 1}, Run{Start: start})
	require.NoError(t, err)
	require.NoError(t, w.Write(0, testROIs(t)[0], nil))
	assert.Zero(t, w.Stats().Written)
}

func TestWriter_Snapshots(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rois := testROIs(t)
	w, err := Open(ctx, store, Config{FlushEveryFrames: 1, SnapshotPeriod: time.Second}, Run{Start: start, ROIs: rois})
	require.NoError(t, err)

	frame := testutil.Gray(100, 40, 30)
	testutil.Disk(frame, 20, 20, 5, 200)
	for i := int64(0); i < 30; i++ {
		require.NoError(t, w.Write(i*100, rois[0], dp(i)))
		require.NoError(t, w.Tick(ctx, i*100, frame))
	}
	require.NoError(t, w.Close(ctx, 2900, frame))

	times, err := store.SnapshotTimes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1000, 2000}, times)
	assert.Equal(t, 3, w.Stats().Snapshots)

	raw, err := store.Snapshot(ctx, 1000)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, frame.Bounds(), img.Bounds())
}

func TestWriter_FailedFlushKeepsBuffer(t *testing.T) {
	store := &fakeStore{failInsert: errors.New("disk full")}
	ctx := context.Background()
	rois := testROIs(t)
	w, err := Open(ctx, store, Config{FlushEveryFrames: 1}, Run{Start: start, ROIs: rois})
	require.NoError(t, err)

	require.NoError(t, w.Write(0, rois[0], dp(1)))
	err = w.Tick(ctx, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, w.Stats().Pending)

	store.failInsert = nil
	require.NoError(t, w.Write(40, rois[0], dp(2)))
	require.NoError(t, w.Flush(ctx, 40, nil))
	require.Len(t, store.batches, 1)
	recs := store.batches[0].Series[1]
	require.Len(t, recs, 2)
	assert.Equal(t, []int64{1, 2}, []int64{recs[0].ID, recs[1].ID})
	assert.Zero(t, w.Stats().Pending)
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()
	rois := testROIs(t)
	w, err := Open(ctx, store, Config{FlushEveryFrames: 100}, Run{Start: start, ROIs: rois})
	require.NoError(t, err)

	require.NoError(t, w.Write(0, rois[1], dp(3)))
	require.NoError(t, w.Close(ctx, 0, nil))
	require.NoError(t, w.Close(ctx, 0, nil))
	assert.Len(t, store.batches, 1)

	assert.ErrorIs(t, w.Write(40, rois[1], dp(4)), ErrClosed)
	assert.ErrorIs(t, w.Tick(ctx, 40, nil), ErrClosed)
	assert.ErrorIs(t, w.Flush(ctx, 40, nil), ErrClosed)
}

func TestWriter_CloseReportsFailedFlush(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()
	rois := testROIs(t)
	w, err := Open(ctx, store, Config{FlushEveryFrames: 100}, Run{Start: start, ROIs: rois})
	require.NoError(t, err)
	require.NoError(t, w.Write(0, rois[0], dp(3)))

	store.failInsert = errors.New("locked")
	assert.Error(t, w.Close(ctx, 0, nil))
	assert.NoError(t, w.Close(ctx, 0, nil))
}

func TestWriter_EmptyFlushSkipsStore(t *testing.T) {
	store := &fakeStore{}
	w, err := Open(context.Background(), store, Config{FlushEveryFrames: 1}, Run{Start: start})
	require.NoError(t, err)
	require.NoError(t, w.Tick(context.Background(), 0, nil))
	assert.Empty(t, store.batches)
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), &fakeStore{}, Config{}, Run{Start: start})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 250, cfg.FlushEveryFrames)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotPeriod)
}

type fakeStore struct {
	meta       map[string]string
	batches    []db.Batch
	failInsert error
}

func (f *fakeStore) WriteRun(_ context.Context, meta map[string]string, _ []db.ROIRecord, _ []observation.Variable) error {
	f.meta = meta
	return nil
}

func (f *fakeStore) InsertBatch(_ context.Context, b db.Batch) error {
	if f.failInsert != nil {
		return f.failInsert
	}
	f.batches = append(f.batches, b)
	return nil
}
