package roi

import (
	"fmt"
	"image"
	"math"

	"github.com/banshee-data/ethotrack/internal/config"
	"github.com/banshee-data/ethotrack/internal/vision"
)

// Polarity selects whether calibration markers are brighter or darker than
// their surroundings.
type Polarity string

const (
	Bright Polarity = "bright"
	Dark   Polarity = "dark"
)

// TargetGridConfig lays out a rows x cols grid inside the parallelogram
// spanned by three calibration markers. Margins and fills are fractions of
// the marker frame; negative margins place cells beyond the markers.
type TargetGridConfig struct {
	NRows, NCols   int
	TopMargin      float64
	BottomMargin   float64
	LeftMargin     float64
	RightMargin    float64
	HorizontalFill float64
	VerticalFill   float64

	ExpectedMarkers int
	Polarity        Polarity
	// MarkerThreshold of 0 picks a threshold with Otsu's method.
	MarkerThreshold uint8
	MinMarkerArea   float64
	// MaxMarkerAreaFraction bounds marker area as a fraction of the image.
	MaxMarkerAreaFraction float64
}

// DefaultTargetGridConfig is a 10 x 2 tube layout.
func DefaultTargetGridConfig() TargetGridConfig {
	return TargetGridConfig{
		NRows:                 10,
		NCols:                 2,
		TopMargin:             0.063,
		BottomMargin:          0.063,
		LeftMargin:            -0.033,
		RightMargin:           -0.033,
		HorizontalFill:        0.975,
		VerticalFill:          0.7,
		ExpectedMarkers:       3,
		Polarity:              Bright,
		MinMarkerArea:         4,
		MaxMarkerAreaFraction: 0.01,
	}
}

// TargetGridConfigFromTuning builds a TargetGridConfig from a loaded TuningConfig.
func TargetGridConfigFromTuning(cfg *config.TuningConfig) TargetGridConfig {
	return TargetGridConfig{
		NRows:                 cfg.GetGridRows(),
		NCols:                 cfg.GetGridCols(),
		TopMargin:             cfg.GetTopMargin(),
		BottomMargin:          cfg.GetBottomMargin(),
		LeftMargin:            cfg.GetLeftMargin(),
		RightMargin:           cfg.GetRightMargin(),
		HorizontalFill:        cfg.GetHorizontalFill(),
		VerticalFill:          cfg.GetVerticalFill(),
		ExpectedMarkers:       3,
		Polarity:              Polarity(cfg.GetMarkerPolarity()),
		MarkerThreshold:       uint8(cfg.GetMarkerThreshold()),
		MinMarkerArea:         cfg.GetMinMarkerArea(),
		MaxMarkerAreaFraction: cfg.GetMaxMarkerAreaFraction(),
	}
}

func (c TargetGridConfig) Validate() error {
	if c.NRows < 1 || c.NCols < 1 {
		return fmt.Errorf("grid must have at least one row and column, got %dx%d", c.NRows, c.NCols)
	}
	if c.ExpectedMarkers != 3 {
		return fmt.Errorf("target grid needs exactly 3 markers, configured %d", c.ExpectedMarkers)
	}
	if c.HorizontalFill <= 0 || c.VerticalFill <= 0 {
		return fmt.Errorf("fills must be positive, got %g and %g", c.HorizontalFill, c.VerticalFill)
	}
	if c.LeftMargin+c.RightMargin >= 1 || c.TopMargin+c.BottomMargin >= 1 {
		return fmt.Errorf("margins leave no room for cells")
	}
	if c.Polarity != Bright && c.Polarity != Dark {
		return fmt.Errorf("unknown marker polarity %q", c.Polarity)
	}
	if c.MaxMarkerAreaFraction <= 0 || c.MaxMarkerAreaFraction > 1 {
		return fmt.Errorf("max marker area fraction must be in (0,1], got %g", c.MaxMarkerAreaFraction)
	}
	return nil
}

// TargetGridBuilder finds three fiducial markers and derives one ROI per
// grid cell from the affine frame they define.
type TargetGridBuilder struct {
	cfg   TargetGridConfig
	prims vision.Primitives
}

var _ Builder = (*TargetGridBuilder)(nil)

func NewTargetGridBuilder(cfg TargetGridConfig, prims vision.Primitives) (*TargetGridBuilder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target grid config: %w", err)
	}
	if prims == nil {
		prims = vision.Default
	}
	return &TargetGridBuilder{cfg: cfg, prims: prims}, nil
}

type pt struct{ x, y float64 }

func (p pt) sub(q pt) pt        { return pt{p.x - q.x, p.y - q.y} }
func (p pt) scale(k float64) pt { return pt{p.x * k, p.y * k} }
func (p pt) dist(q pt) float64  { return math.Hypot(p.x-q.x, p.y-q.y) }
func (p pt) round() image.Point { return image.Pt(int(math.Round(p.x)), int(math.Round(p.y))) }

func (b *TargetGridBuilder) FromImage(ref *image.Gray) ([]image.Point, []*ROI, error) {
	markers, err := b.findMarkers(ref)
	if err != nil {
		return nil, nil, err
	}
	a, bb, c := orderMarkers(markers)

	// (gx, gy) in the unit square; A=(1,0), B=(1,1), C=(0,1)
	toImage := func(gx, gy float64) pt {
		return bb.sub(bb.sub(c).scale(1 - gx)).sub(bb.sub(a).scale(1 - gy))
	}

	frame := ref.Bounds()
	var rois []*ROI
	for _, cell := range b.cells() {
		poly := make([]image.Point, len(cell))
		for i, p := range cell {
			poly[i] = toImage(p.x, p.y).round()
		}
		r, err := New(poly)
		if err != nil {
			return nil, nil, &CalibrationError{Reason: err.Error(), Image: ref}
		}
		if !r.Rect().In(frame) {
			return nil, nil, &CalibrationError{
				Reason: fmt.Sprintf("grid cell %v extends outside the %v frame", r.Rect(), frame),
				Image:  ref,
			}
		}
		rois = append(rois, r)
	}
	Sort(rois)

	refs := []image.Point{a.round(), bb.round(), c.round()}
	logf("target grid: markers A=%v B=%v C=%v, %d rois", refs[0], refs[1], refs[2], len(rois))
	return refs, rois, nil
}

func (b *TargetGridBuilder) findMarkers(ref *image.Gray) ([]pt, error) {
	src := ref
	if b.cfg.Polarity == Dark {
		src = vision.NewLike(ref)
		vision.Invert(ref, src)
	}
	th := b.cfg.MarkerThreshold
	if th == 0 {
		th = vision.Otsu(src)
	}

	bin := vision.NewLike(src)
	tmp := vision.NewLike(src)
	b.prims.Threshold(src, th, bin)
	b.prims.Erode(bin, tmp)
	b.prims.Dilate(tmp, bin)

	w, h := ref.Bounds().Dx(), ref.Bounds().Dy()
	maxArea := b.cfg.MaxMarkerAreaFraction * float64(w*h)
	origin := ref.Bounds().Min

	var found []pt
	for _, blob := range b.prims.FindBlobs(bin) {
		if blob.Area < b.cfg.MinMarkerArea || blob.Area > maxArea {
			continue
		}
		found = append(found, pt{blob.Rect.CX + float64(origin.X), blob.Rect.CY + float64(origin.Y)})
	}
	if len(found) != b.cfg.ExpectedMarkers {
		return nil, &CalibrationError{
			Reason:   "unexpected number of calibration markers",
			Found:    len(found),
			Expected: b.cfg.ExpectedMarkers,
			Image:    ref,
		}
	}
	return found, nil
}

// orderMarkers labels three markers: B is not on the longest side, A is the
// end of the longest side nearer to B, C is the other end.
func orderMarkers(m []pt) (a, b, c pt) {
	pairs := [3][3]int{{0, 1, 2}, {0, 2, 1}, {1, 2, 0}}
	longest := pairs[0]
	for _, p := range pairs[1:] {
		if m[p[0]].dist(m[p[1]]) > m[longest[0]].dist(m[longest[1]]) {
			longest = p
		}
	}
	b = m[longest[2]]
	a, c = m[longest[0]], m[longest[1]]
	if c.dist(b) < a.dist(b) {
		a, c = c, a
	}
	return a, b, c
}

// cells returns each grid cell as four corners in unit-square coordinates,
// columns outermost.
func (b *TargetGridBuilder) cells() [][]pt {
	cfg := b.cfg
	xs := centres(cfg.NCols, cfg.LeftMargin, cfg.RightMargin)
	ys := centres(cfg.NRows, cfg.TopMargin, cfg.BottomMargin)
	hx := cfg.HorizontalFill / float64(cfg.NCols) / 2
	hy := cfg.VerticalFill / float64(cfg.NRows) / 2

	var out [][]pt
	for _, x := range xs {
		for _, y := range ys {
			out = append(out, []pt{
				{x - hx, y - hy}, {x + hx, y - hy}, {x + hx, y + hy}, {x - hx, y + hy},
			})
		}
	}
	return out
}

func centres(n int, m0, m1 float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(2*i+1)*(1-m0-m1)/float64(2*n) + m0
	}
	return out
}
