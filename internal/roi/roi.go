// Package roi describes the regions of a frame that each house one tracked
// animal, and builds them from a calibration image.
package roi

import (
	"fmt"
	"image"
	"sort"

	"github.com/banshee-data/ethotrack/internal/vision"
)

// ROI is one immutable region of interest. Idx is assigned by the builder
// after sorting and is 1-based.
type ROI struct {
	polygon  []image.Point
	rect     image.Rectangle
	mask     *image.Gray
	idx      int
	value    int
	hasValue bool
}

// New builds an ROI from a polygon of at least three vertices.
func New(polygon []image.Point) (*ROI, error) {
	if len(polygon) < 3 {
		return nil, fmt.Errorf("roi polygon needs at least 3 vertices, got %d", len(polygon))
	}
	rect := vision.PolygonBounds(polygon)
	if rect.Dx() < 2 || rect.Dy() < 2 {
		return nil, fmt.Errorf("roi polygon %v is degenerate", polygon)
	}
	poly := make([]image.Point, len(polygon))
	copy(poly, polygon)
	return &ROI{
		polygon: poly,
		rect:    rect,
		mask:    vision.FillPolygon(rect, poly),
	}, nil
}

// NewFromMask builds an ROI whose shape is the non-zero pixels of mask.
// The polygon is the bounding rectangle of the mask.
func NewFromMask(mask *image.Gray, value int) (*ROI, error) {
	r := mask.Bounds()
	if r.Dx() < 2 || r.Dy() < 2 {
		return nil, fmt.Errorf("roi mask %v is degenerate", r)
	}
	return &ROI{
		polygon: []image.Point{
			r.Min, {X: r.Max.X - 1, Y: r.Min.Y},
			r.Max.Sub(image.Pt(1, 1)), {X: r.Min.X, Y: r.Max.Y - 1},
		},
		rect:     r,
		mask:     mask,
		value:    value,
		hasValue: true,
	}, nil
}

// WithValue returns a copy of r carrying an explicit identity.
func (r *ROI) WithValue(v int) *ROI {
	c := *r
	c.value, c.hasValue = v, true
	return &c
}

func (r *ROI) Idx() int { return r.idx }

// Value is the marker-assigned identity; ok is false for position-ordered ROIs.
func (r *ROI) Value() (v int, ok bool) { return r.value, r.hasValue }

// Rect is the axis-aligned bounding rectangle in frame coordinates.
func (r *ROI) Rect() image.Rectangle { return r.rect }

// Offset is the top-left of Rect; ROI-relative positions add it back.
func (r *ROI) Offset() image.Point { return r.rect.Min }

func (r *ROI) Polygon() []image.Point {
	out := make([]image.Point, len(r.polygon))
	copy(out, r.polygon)
	return out
}

// Mask is 255 inside the region, 0 elsewhere, with bounds equal to Rect.
func (r *ROI) Mask() *image.Gray { return r.mask }

// Longest is the longer side of Rect, the scale for relative distances.
func (r *ROI) Longest() int { return max(r.rect.Dx(), r.rect.Dy()) }

// Crop returns a view of frame restricted to Rect. No pixels are copied.
func (r *ROI) Crop(frame *image.Gray) (*image.Gray, error) {
	if !r.rect.In(frame.Bounds()) {
		return nil, fmt.Errorf("roi %d rect %v outside frame %v", r.idx, r.rect, frame.Bounds())
	}
	return frame.SubImage(r.rect).(*image.Gray), nil
}

func (r *ROI) String() string {
	if r.hasValue {
		return fmt.Sprintf("roi %d (value %d) %v", r.idx, r.value, r.rect)
	}
	return fmt.Sprintf("roi %d %v", r.idx, r.rect)
}

// Sort orders rois and assigns 1-based indices. When every ROI carries a
// value they are ordered by value; otherwise by rectangle x then y.
func Sort(rois []*ROI) {
	byValue := len(rois) > 0
	for _, r := range rois {
		if !r.hasValue {
			byValue = false
			break
		}
	}
	sort.SliceStable(rois, func(i, j int) bool {
		a, b := rois[i], rois[j]
		if byValue && a.value != b.value {
			return a.value < b.value
		}
		if a.rect.Min.X != b.rect.Min.X {
			return a.rect.Min.X < b.rect.Min.X
		}
		return a.rect.Min.Y < b.rect.Min.Y
	})
	for i, r := range rois {
		r.idx = i + 1
	}
}
