package drawer

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/ethotrack/internal/fsutil"
	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/tracking"
)

// PlotDrawer writes one PNG of every ROI's trajectory in frame
// coordinates when closed. Interactions are marked with crosses.
type PlotDrawer struct {
	fs    fsutil.FileSystem
	path  string
	trace *Trace
	size  vg.Length
}

var _ Drawer = (*PlotDrawer)(nil)

// NewPlotDrawer records every frame into a default-sized trace when trace is nil.
func NewPlotDrawer(fs fsutil.FileSystem, path string, trace *Trace) *PlotDrawer {
	if trace == nil {
		trace = NewTrace(1, 0)
	}
	return &PlotDrawer{fs: fs, path: path, trace: trace, size: 8 * vg.Inch}
}

func (d *PlotDrawer) Draw(t int64, frame *image.Gray, positions map[int]*observation.DataPoint, units []*tracking.Unit) error {
	d.trace.record(t, frame, positions, units)
	return nil
}

func (d *PlotDrawer) Trace() *Trace { return d.trace }

// Close renders the plot.
func (d *PlotDrawer) Close() error {
	p, err := d.plot()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(d.path); dir != "." {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create plot directory: %w", err)
		}
	}

	b := d.trace.Bounds()
	h := d.size
	if b.Dx() > 0 {
		h = d.size * vg.Length(b.Dy()) / vg.Length(b.Dx())
	}
	wt, err := p.WriterTo(d.size, h, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	f, err := d.fs.Create(d.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", d.path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logf("trajectory plot written to %s", d.path)
	return nil
}

func (d *PlotDrawer) plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Trajectories"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px, from bottom)"

	b := d.trace.Bounds()
	if !b.Empty() {
		p.X.Min, p.X.Max = float64(b.Min.X), float64(b.Max.X)
		p.Y.Min, p.Y.Max = 0, float64(b.Dy())
	}

	idxs := d.trace.Indices()
	colors := generateColors(len(idxs))
	for i, idx := range idxs {
		pts := d.trace.Points(idx)
		line := make(plotter.XYs, 0, len(pts))
		var hits plotter.XYs
		for _, pt := range pts {
			xy := plotter.XY{X: pt.X, Y: float64(b.Max.Y) - pt.Y}
			line = append(line, xy)
			if pt.Interacted {
				hits = append(hits, xy)
			}
		}

		l, err := plotter.NewLine(line)
		if err != nil {
			return nil, fmt.Errorf("roi %d line: %w", idx, err)
		}
		l.Color = colors[i]
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(fmt.Sprintf("roi %d", idx), l)

		if len(hits) > 0 {
			s, err := plotter.NewScatter(hits)
			if err != nil {
				return nil, fmt.Errorf("roi %d interactions: %w", idx, err)
			}
			s.GlyphStyle.Color = colors[i]
			s.GlyphStyle.Shape = draw.CrossGlyph{}
			s.GlyphStyle.Radius = vg.Points(3)
			p.Add(s)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// generateColors spreads n hues evenly around the colour wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	rf := hueToRGB(p, q, h+1.0/3.0)
	gf := hueToRGB(p, q, h)
	bf := hueToRGB(p, q, h-1.0/3.0)
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
