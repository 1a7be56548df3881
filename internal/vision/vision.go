// Package vision provides the low-level image primitives the tracker is
// built on: differencing, thresholding, 3x3 morphology, connected blob
// extraction and rotated-rectangle fitting over *image.Gray.
//
// Native is a dependency-free implementation. Building with -tags gocv adds
// OpenCV, which routes the hot paths through gocv.
package vision

import (
	"image"
	"math"
)

// RotatedRect is a rectangle of arbitrary orientation. After NormalizeRect,
// Width >= Height and Angle is in [0, 180) degrees.
type RotatedRect struct {
	CX, CY        float64
	Width, Height float64
	Angle         float64
}

// NormalizeRect makes Width the longer side. When the raw first side is the
// shorter one the sides are swapped and 90 degrees are subtracted from the
// angle; the angle is then wrapped into [0, 180).
func NormalizeRect(r RotatedRect) RotatedRect {
	if r.Width < r.Height {
		r.Width, r.Height = r.Height, r.Width
		r.Angle -= 90
	}
	r.Angle = math.Mod(r.Angle, 180)
	if r.Angle < 0 {
		r.Angle += 180
	}
	if r.Angle >= 180 {
		r.Angle = 0
	}
	return r
}

// Blob is one connected foreground region.
type Blob struct {
	// Points are the pixels (Native) or contour vertices (OpenCV) of the
	// region, in the coordinate space of the image it was found in.
	Points []image.Point
	Area   float64
	Bounds image.Rectangle
	Rect   RotatedRect
}

// Fill is the fraction of the fitted rectangle covered by the blob.
func (b Blob) Fill() float64 {
	a := b.Rect.Width * b.Rect.Height
	if a <= 0 {
		return 0
	}
	return math.Min(1, b.Area/a)
}

// Region is a connected area of identical non-zero grey level.
type Region struct {
	Level uint8
	Blob
}

// Primitives is the vision collaborator consumed by the ROI builder and the
// background model. All functions are pure; dst images must match src size.
type Primitives interface {
	// AbsDiff writes |a-b| into dst.
	AbsDiff(a, b, dst *image.Gray)
	// Threshold writes 255 where src > thresh and 0 elsewhere.
	Threshold(src *image.Gray, thresh uint8, dst *image.Gray)
	// Erode and Dilate apply a 3x3 rectangular structuring element.
	Erode(src, dst *image.Gray)
	Dilate(src, dst *image.Gray)
	// FindBlobs returns the 8-connected non-zero regions of mask, each with
	// its normalised minimum-area rectangle.
	FindBlobs(mask *image.Gray) []Blob
	// MinAreaRect fits a normalised rotated rectangle to pts.
	MinAreaRect(pts []image.Point) RotatedRect
	// FindRegions labels connected areas of identical non-zero level.
	FindRegions(img *image.Gray) []Region
}

// Default is the implementation used when none is configured.
var Default Primitives = Native{}
