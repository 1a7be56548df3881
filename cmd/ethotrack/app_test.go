package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ethotrack/internal/config"
	"github.com/banshee-data/ethotrack/internal/db"
	"github.com/banshee-data/ethotrack/internal/drawer"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
	log.SetOutput(io.Discard)
}

const testTuning = `{
  "warmup_frames": 5,
  "warmup_half_life": "200ms",
  "min_half_life": "10s",
  "max_half_life": "10m",
  "half_life_adapt_factor": 1.05,
  "diff_threshold": 20,
  "min_blob_area": 10,
  "max_blob_area_fraction": 0.25,
  "min_blob_fill": 0.2,
  "object_history": 20,
  "max_history_window": "1m",
  "max_inference_window": "1s",
  "flush_every_frames": 7,
  "snapshot_period": "0s"
}`

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// writeSession lays out a 120x60 recording: a blank first frame followed by
// one disk walking right in the left half and one walking left in the
// right half, plus a two-level mask splitting the frame down the middle.
func writeSession(t *testing.T, n int) (dir, mask, cfg string) {
	t.Helper()
	root := t.TempDir()
	dir = filepath.Join(root, "frames")
	require.NoError(t, os.Mkdir(dir, 0o755))

	writePNG(t, filepath.Join(dir, "frame_0000.png"), testutil.Gray(120, 60, 30))
	for i := 1; i <= n; i++ {
		img := testutil.Gray(120, 60, 30)
		testutil.Disk(img, 10+i, 20, 5, 220)
		testutil.Disk(img, 110-i, 40, 5, 220)
		writePNG(t, filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i)), img)
	}

	m := testutil.Gray(120, 60, 0)
	testutil.Rect(m, image.Rect(0, 0, 60, 60), 100)
	testutil.Rect(m, image.Rect(60, 0, 120, 60), 200)
	mask = filepath.Join(root, "mask.png")
	writePNG(t, mask, m)

	cfg = filepath.Join(root, "tuning.json")
	require.NoError(t, os.WriteFile(cfg, []byte(testTuning), 0o644))
	return dir, mask, cfg
}

func TestRun_FramesDirWithMask(t *testing.T) {
	const n = 20
	dir, mask, cfgPath := writeSession(t, n)
	out := t.TempDir()
	o := options{
		configPath:    cfgPath,
		framesDir:     dir,
		frameInterval: 40 * time.Millisecond,
		maskPath:      mask,
		dbPath:        filepath.Join(out, "run.db"),
		plotPath:      filepath.Join(out, "plot.png"),
		chartPath:     filepath.Join(out, "chart.html"),
	}
	require.NoError(t, o.validate())
	require.NoError(t, run(context.Background(), o))

	store, err := db.OpenDB(o.dbPath)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	meta, err := store.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", meta["roi_count"])
	assert.Equal(t, "120", meta["frame_width"])

	rois, err := store.ROIMap(ctx)
	require.NoError(t, err)
	require.Len(t, rois, 2)
	assert.Equal(t, int64(100), rois[0].Value.Int64)
	assert.Equal(t, int64(200), rois[1].Value.Int64)
	assert.Equal(t, 60, rois[1].X)

	xCol, err := db.ColumnName(observation.HeaderX)
	require.NoError(t, err)
	for _, idx := range []int{1, 2} {
		rows, err := store.Series(ctx, idx)
		require.NoError(t, err)
		require.NotEmpty(t, rows, "roi %d", idx)
		last := rows[len(rows)-1]
		assert.Equal(t, int64(n*40), last.T, "roi %d", idx)
		if idx == 1 {
			assert.InDelta(t, 10+n, last.Values[xCol], 1.5)
		} else {
			assert.InDelta(t, 110-n-60, last.Values[xCol], 1.5)
		}
	}

	for _, p := range []string{o.plotPath, o.chartPath} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.NotZero(t, info.Size(), p)
	}
}

func TestRun_SecondRunOnSameDBFails(t *testing.T) {
	dir, mask, cfgPath := writeSession(t, 3)
	o := options{
		configPath:    cfgPath,
		framesDir:     dir,
		frameInterval: 40 * time.Millisecond,
		maskPath:      mask,
		dbPath:        filepath.Join(t.TempDir(), "run.db"),
	}
	require.NoError(t, run(context.Background(), o))
	err := run(context.Background(), o)
	assert.ErrorIs(t, err, db.ErrRunExists)
}

func TestRun_CancelledBeforeCalibration(t *testing.T) {
	dir, mask, cfgPath := writeSession(t, 5)
	o := options{
		configPath:    cfgPath,
		framesDir:     dir,
		frameInterval: 40 * time.Millisecond,
		maskPath:      mask,
		dbPath:        filepath.Join(t.TempDir(), "run.db"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// ROI building already observes the cancelled context.
	err := run(ctx, o)
	assert.Error(t, err)
}

func TestRun_MissingMaskFile(t *testing.T) {
	dir, _, cfgPath := writeSession(t, 2)
	o := options{
		configPath:    cfgPath,
		framesDir:     dir,
		frameInterval: 40 * time.Millisecond,
		maskPath:      filepath.Join(t.TempDir(), "nope.png"),
		dbPath:        filepath.Join(t.TempDir(), "run.db"),
	}
	err := run(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read mask")
}

func TestOptions_Validate(t *testing.T) {
	base := options{framesDir: "f", dbPath: "x.db", frameInterval: time.Second}
	require.NoError(t, base.validate())

	cases := map[string]func(o *options){
		"no source":      func(o *options) { o.framesDir = "" },
		"two sources":    func(o *options) { o.videoPath = "v.avi" },
		"no db":          func(o *options) { o.dbPath = "" },
		"zero interval":  func(o *options) { o.frameInterval = 0 },
		"negative limit": func(o *options) { o.duration = -time.Second },
		"bad timezone":   func(o *options) { o.timezone = "Not/AZone" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := base
			mutate(&o)
			assert.Error(t, o.validate())
		})
	}
}

func TestOptions_TuningOverrides(t *testing.T) {
	o := options{
		maskPath:   "mask.png",
		duration:   90 * time.Second,
		schedule:   "2026-01-01 00:00:00 > 2026-01-02 00:00:00",
		stimulator: "middle_crossing",
		serialPort: "auto",
	}
	cfg, err := o.tuning()
	require.NoError(t, err)
	assert.Equal(t, "mask", cfg.GetROIBuilder())
	assert.Equal(t, 90*time.Second, cfg.GetMaxDuration())
	assert.Equal(t, o.schedule, cfg.GetSchedule())
	assert.Equal(t, "middle_crossing", cfg.GetStimulator())
	assert.Equal(t, "auto", cfg.GetSerialPort())

	_, err = options{stimulator: "electric_fence"}.tuning()
	assert.Error(t, err)

	_, err = options{configPath: "tuning.yaml"}.tuning()
	assert.Error(t, err)
}

func TestOptions_DrawersOnlyWhenAsked(t *testing.T) {
	cfg := config.EmptyTuningConfig()

	draw, chart, err := options{}.drawers(cfg)
	require.NoError(t, err)
	assert.Empty(t, draw)
	assert.Nil(t, chart)

	draw, chart, err = options{listen: "127.0.0.1:0"}.drawers(cfg)
	require.NoError(t, err)
	assert.Len(t, draw, 1)
	assert.NotNil(t, chart)

	draw, chart, err = options{plotPath: "plot.png"}.drawers(cfg)
	require.NoError(t, err)
	assert.Len(t, draw, 1)
	assert.Nil(t, chart)

	draw, chart, err = options{plotPath: "plot.png", chartPath: "chart.html"}.drawers(cfg)
	require.NoError(t, err)
	assert.Len(t, draw, 2)
	require.NotNil(t, chart)
	assert.Same(t, chart.Trace(), draw[0].(interface{ Trace() *drawer.Trace }).Trace())
}
