package roi

import (
	"fmt"
	"image"
	"image/color"

	"github.com/banshee-data/ethotrack/internal/vision"
)

var gray255 = color.Gray{Y: 255}

// MaskBuilder derives ROIs from a label image: every connected area of one
// non-zero grey level becomes an ROI whose value is that level. Each area's
// bounding box must be at least 2x2 pixels; a smaller area fails the whole
// build rather than silently yielding fewer ROIs than levels.
type MaskBuilder struct {
	mask  *image.Gray
	prims vision.Primitives
}

var _ Builder = (*MaskBuilder)(nil)

func NewMaskBuilder(mask *image.Gray, prims vision.Primitives) *MaskBuilder {
	if prims == nil {
		prims = vision.Default
	}
	return &MaskBuilder{mask: mask, prims: prims}
}

// FromImage ignores the pixels of ref; when ref is non-nil its size must
// match the mask. Reference points are the region centres.
func (b *MaskBuilder) FromImage(ref *image.Gray) ([]image.Point, []*ROI, error) {
	if b.mask == nil {
		return nil, nil, fmt.Errorf("mask builder has no mask image")
	}
	if ref != nil && ref.Bounds().Size() != b.mask.Bounds().Size() {
		return nil, nil, fmt.Errorf("mask is %v but frames are %v", b.mask.Bounds().Size(), ref.Bounds().Size())
	}

	var (
		rois []*ROI
		refs []image.Point
	)
	for _, region := range b.prims.FindRegions(b.mask) {
		m := image.NewGray(region.Bounds)
		for _, p := range region.Points {
			m.SetGray(p.X, p.Y, gray255)
		}
		r, err := NewFromMask(m, int(region.Level))
		if err != nil {
			return nil, nil, &CalibrationError{
				Reason: fmt.Sprintf("mask region of level %d at %v is smaller than 2x2", region.Level, region.Bounds),
				Image:  b.mask,
			}
		}
		rois = append(rois, r)
	}
	Sort(rois)
	for _, r := range rois {
		rect := r.Rect()
		refs = append(refs, image.Pt((rect.Min.X+rect.Max.X)/2, (rect.Min.Y+rect.Max.Y)/2))
	}
	logf("mask: %d rois", len(rois))
	return refs, rois, nil
}
