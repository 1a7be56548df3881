//go:build gocv

package vision

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/ethotrack/internal/monitoring"
)

// OpenCV routes differencing, thresholding, morphology and contour
// extraction through gocv. Region labelling falls back to Native.
type OpenCV struct {
	Native
}

var _ Primitives = OpenCV{}

func init() {
	Default = OpenCV{}
}

func toMat(img *image.Gray) (gocv.Mat, bool) {
	w, h := size(img)
	packed := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(packed.Pix[y*packed.Stride:y*packed.Stride+w], img.Pix[y*img.Stride:y*img.Stride+w])
	}
	m, err := gocv.ImageGrayToMatGray(packed)
	if err != nil {
		monitoring.Logf("[vision] mat conversion failed: %v", err)
		return m, false
	}
	return m, true
}

func fromMat(m gocv.Mat, dst *image.Gray) {
	img, err := m.ToImage()
	if err != nil {
		monitoring.Logf("[vision] image conversion failed: %v", err)
		return
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return
	}
	w, h := size(dst)
	for y := 0; y < h; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], g.Pix[y*g.Stride:y*g.Stride+w])
	}
}

func (o OpenCV) AbsDiff(a, b, dst *image.Gray) {
	ma, okA := toMat(a)
	mb, okB := toMat(b)
	defer ma.Close()
	defer mb.Close()
	if !okA || !okB {
		o.Native.AbsDiff(a, b, dst)
		return
	}
	out := gocv.NewMat()
	defer out.Close()
	gocv.AbsDiff(ma, mb, &out)
	fromMat(out, dst)
}

func (o OpenCV) Threshold(src *image.Gray, thresh uint8, dst *image.Gray) {
	m, ok := toMat(src)
	defer m.Close()
	if !ok {
		o.Native.Threshold(src, thresh, dst)
		return
	}
	out := gocv.NewMat()
	defer out.Close()
	gocv.Threshold(m, &out, float32(thresh), 255, gocv.ThresholdBinary)
	fromMat(out, dst)
}

func (o OpenCV) Erode(src, dst *image.Gray)  { o.morph(src, dst, true) }
func (o OpenCV) Dilate(src, dst *image.Gray) { o.morph(src, dst, false) }

func (o OpenCV) morph(src, dst *image.Gray, erode bool) {
	m, ok := toMat(src)
	defer m.Close()
	if !ok {
		morph3x3(src, dst, erode)
		return
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	out := gocv.NewMat()
	defer out.Close()
	if erode {
		gocv.Erode(m, &out, kernel)
	} else {
		gocv.Dilate(m, &out, kernel)
	}
	fromMat(out, dst)
}

func (o OpenCV) FindBlobs(mask *image.Gray) []Blob {
	m, ok := toMat(mask)
	defer m.Close()
	if !ok {
		return o.Native.FindBlobs(mask)
	}
	contours := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	origin := mask.Bounds().Min
	blobs := make([]Blob, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		pts := c.ToPoints()
		for j := range pts {
			pts[j] = pts[j].Add(origin)
		}
		area := gocv.ContourArea(c)
		if area == 0 {
			area = float64(len(pts))
		}
		blobs = append(blobs, Blob{
			Points: pts,
			Area:   area,
			Bounds: gocv.BoundingRect(c).Add(origin),
			Rect:   o.MinAreaRect(pts),
		})
	}
	return blobs
}

func (OpenCV) MinAreaRect(pts []image.Point) RotatedRect {
	if len(pts) < 3 {
		return fitRect(pts)
	}
	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()
	rr := gocv.MinAreaRect(pv)
	return NormalizeRect(RotatedRect{
		CX:     float64(rr.Center.X),
		CY:     float64(rr.Center.Y),
		Width:  float64(rr.Width),
		Height: float64(rr.Height),
		Angle:  rr.Angle,
	})
}
