package drawer

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ethotrack/internal/fsutil"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/tracking"
)

// ChartDrawer renders an interactive HTML page of x and y over time per
// ROI. The page is written on Close and can be served live while the
// run is in progress.
type ChartDrawer struct {
	fs    fsutil.FileSystem
	path  string
	trace *Trace
}

var _ Drawer = (*ChartDrawer)(nil)

// NewChartDrawer writes to path on Close; an empty path only serves live.
func NewChartDrawer(fs fsutil.FileSystem, path string, trace *Trace) *ChartDrawer {
	if trace == nil {
		trace = NewTrace(1, 0)
	}
	return &ChartDrawer{fs: fs, path: path, trace: trace}
}

func (d *ChartDrawer) Draw(t int64, frame *image.Gray, positions map[int]*observation.DataPoint, units []*tracking.Unit) error {
	d.trace.record(t, frame, positions, units)
	return nil
}

func (d *ChartDrawer) Trace() *Trace { return d.trace }

// Render writes the page for the current trace to w.
func (d *ChartDrawer) Render(w io.Writer) error {
	page := components.NewPage().SetPageTitle("Tracking")
	page.AddCharts(
		d.series("x", "x (px)", func(p Point) float64 { return p.X }),
		d.series("y", "y (px)", func(p Point) float64 { return p.Y }),
		d.positions(),
	)
	return page.Render(w)
}

func (d *ChartDrawer) series(name, axis string, value func(Point) float64) *charts.Scatter {
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s over time", name)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: axis, NameLocation: "middle", NameGap: 35}),
	)
	for _, idx := range d.trace.Indices() {
		pts := d.trace.Points(idx)
		data := make([]opts.ScatterData, 0, len(pts))
		for _, p := range pts {
			data = append(data, opts.ScatterData{Value: []interface{}{float64(p.T) / 1000, value(p)}})
		}
		sc.AddSeries(fmt.Sprintf("roi %d", idx), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	return sc
}

func (d *ChartDrawer) positions() *charts.Scatter {
	b := d.trace.Bounds()
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Positions", Subtitle: fmt.Sprintf("frame %dx%d", b.Dx(), b.Dy())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: b.Min.X, Max: b.Max.X, Name: "x (px)"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: b.Min.Y, Max: b.Max.Y, Name: "y (px)", Inverse: opts.Bool(true)}),
	)
	for _, idx := range d.trace.Indices() {
		pts := d.trace.Points(idx)
		data := make([]opts.ScatterData, 0, len(pts))
		for _, p := range pts {
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		}
		sc.AddSeries(fmt.Sprintf("roi %d", idx), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	}
	return sc
}

// ServeHTTP renders the live page.
func (d *ChartDrawer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (d *ChartDrawer) Close() error {
	if d.path == "" {
		return nil
	}
	if dir := filepath.Dir(d.path); dir != "." {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create chart directory: %w", err)
		}
	}
	f, err := d.fs.Create(d.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", d.path, err)
	}
	if err := d.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render %s: %w", d.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logf("chart page written to %s", d.path)
	return nil
}
