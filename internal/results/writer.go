// Package results buffers per-ROI DataPoints and commits them to the
// result store in batches.
package results

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ethotrack/internal/db"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/roi"
	"github.com/banshee-data/ethotrack/internal/version"
)

var logf = monitoring.Component("results")

// ErrClosed is returned by Write and Flush after Close.
var ErrClosed = errors.New("result writer closed")

// Store is the durable side of a Writer. *db.DB implements it.
type Store interface {
	WriteRun(ctx context.Context, meta map[string]string, rois []db.ROIRecord, vars []observation.Variable) error
	InsertBatch(ctx context.Context, b db.Batch) error
}

// Run describes the session recorded by a Writer.
type Run struct {
	Start time.Time
	Frame image.Rectangle
	ROIs  []*roi.ROI
}

// Stats counts records through the writer.
type Stats struct {
	Written   int64
	Committed int64
	Pending   int
	Flushes   int
	Snapshots int
}

type Writer struct {
	mu    sync.Mutex
	store Store
	cfg   Config
	runID string

	buf     map[int][]db.Record
	nextID  map[int]int64
	pending int
	frames  int

	lastSnapshot int64
	hasSnapshot  bool

	stats  Stats
	closed bool
}

// Open writes the run metadata, the ROI map and one empty series per ROI
// to store and returns a Writer ready for records. The metadata is written
// exactly once per store.
func Open(ctx context.Context, store Store, cfg Config, run Run) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid results config: %w", err)
	}
	w := &Writer{
		store:  store,
		cfg:    cfg,
		runID:  uuid.NewString(),
		buf:    make(map[int][]db.Record),
		nextID: make(map[int]int64),
	}

	rois := make([]db.ROIRecord, 0, len(run.ROIs))
	for _, r := range run.ROIs {
		rec, err := roiRecord(r)
		if err != nil {
			return nil, err
		}
		rois = append(rois, rec)
	}
	meta := map[string]string{
		"run_id":       w.runID,
		"version":      version.String(),
		"date_time":    run.Start.UTC().Format(time.RFC3339),
		"start_unix":   strconv.FormatInt(run.Start.Unix(), 10),
		"frame_width":  strconv.Itoa(run.Frame.Dx()),
		"frame_height": strconv.Itoa(run.Frame.Dy()),
		"roi_count":    strconv.Itoa(len(run.ROIs)),
	}
	if err := store.WriteRun(ctx, meta, rois, observation.Schema()); err != nil {
		return nil, fmt.Errorf("write run metadata: %w", err)
	}
	logf("run %s: %d rois, frame %dx%d", w.runID, len(rois), run.Frame.Dx(), run.Frame.Dy())
	return w, nil
}

func roiRecord(r *roi.ROI) (db.ROIRecord, error) {
	poly := make([][2]int, 0, len(r.Polygon()))
	for _, p := range r.Polygon() {
		poly = append(poly, [2]int{p.X, p.Y})
	}
	polyJSON, err := json.Marshal(poly)
	if err != nil {
		return db.ROIRecord{}, fmt.Errorf("encode roi %d polygon: %w", r.Idx(), err)
	}
	rect := r.Rect()
	rec := db.ROIRecord{
		Idx:     r.Idx(),
		X:       rect.Min.X,
		Y:       rect.Min.Y,
		W:       rect.Dx(),
		H:       rect.Dy(),
		Polygon: string(polyJSON),
	}
	if v, ok := r.Value(); ok {
		rec.Value = sql.NullInt64{Int64: int64(v), Valid: true}
	}
	return rec, nil
}

func (w *Writer) RunID() string { return w.runID }

// Write buffers one DataPoint for r. dp is copied.
func (w *Writer) Write(t int64, r *roi.ROI, dp *observation.DataPoint) error {
	if dp == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	idx := r.Idx()
	w.nextID[idx]++
	w.buf[idx] = append(w.buf[idx], db.Record{ID: w.nextID[idx], T: t, Point: dp.Copy()})
	w.pending++
	w.stats.Written++
	return nil
}

// Tick marks the end of a frame. Every FlushEveryFrames ticks it flushes,
// attaching frame as a snapshot when one is due.
func (w *Writer) Tick(ctx context.Context, t int64, frame *image.Gray) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.frames++
	due := w.frames >= w.cfg.FlushEveryFrames
	w.mu.Unlock()
	if !due {
		return nil
	}
	return w.Flush(ctx, t, frame)
}

// Flush commits every buffered record, and a snapshot of frame when one
// is due, in a single store transaction. The buffer is cleared only once
// the commit succeeds, so a failed flush loses nothing and a retried one
// re-commits nothing.
func (w *Writer) Flush(ctx context.Context, t int64, frame *image.Gray) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.flushLocked(ctx, t, frame)
}

func (w *Writer) flushLocked(ctx context.Context, t int64, frame *image.Gray) error {
	batch := db.Batch{Series: w.buf}
	if frame != nil && w.snapshotDue(t) {
		img, err := encodePNG(frame)
		if err != nil {
			logf("snapshot at %d skipped: %v", t, err)
		} else {
			batch.Snapshot = &db.Snapshot{T: t, PNG: img}
		}
	}
	if batch.Len() == 0 && batch.Snapshot == nil {
		w.frames = 0
		return nil
	}

	start := time.Now()
	if err := w.store.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("flush %d records: %w", w.pending, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		logf("slow flush: %d records took %v", w.pending, elapsed)
	}

	w.stats.Committed += int64(w.pending)
	w.stats.Flushes++
	if batch.Snapshot != nil {
		w.lastSnapshot, w.hasSnapshot = t, true
		w.stats.Snapshots++
	}
	w.buf = make(map[int][]db.Record, len(w.buf))
	w.pending = 0
	w.frames = 0
	return nil
}

func (w *Writer) snapshotDue(t int64) bool {
	if w.cfg.SnapshotPeriod <= 0 {
		return false
	}
	return !w.hasSnapshot || t-w.lastSnapshot >= w.cfg.SnapshotPeriod.Milliseconds()
}

// Close flushes what is buffered and releases the writer. Later calls
// return nil. The writer is closed even when the final flush fails.
func (w *Writer) Close(ctx context.Context, t int64, frame *image.Gray) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.flushLocked(ctx, t, frame)
	w.closed = true
	if err != nil {
		logf("run %s closed with %d unflushed records: %v", w.runID, w.pending, err)
		return err
	}
	logf("run %s closed: %d records committed in %d flushes", w.runID, w.stats.Committed, w.stats.Flushes)
	return nil
}

func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Pending = w.pending
	return s
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
