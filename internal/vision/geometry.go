package vision

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// fitRect fits a rectangle aligned with the principal axes of pts. Each
// point is treated as a unit pixel, so a single point yields a 1x1 rect.
func fitRect(pts []image.Point) RotatedRect {
	n := float64(len(pts))
	if n == 0 {
		return RotatedRect{}
	}

	var mx, my float64
	for _, p := range pts {
		mx += float64(p.X)
		my += float64(p.Y)
	}
	mx /= n
	my /= n

	var sxx, syy, sxy float64
	for _, p := range pts {
		dx, dy := float64(p.X)-mx, float64(p.Y)-my
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}

	// principal axis defaults to +x for degenerate (collinear or single) sets
	ux, uy := 1.0, 0.0
	var es mat.EigenSym
	if sxx+syy > 0 && es.Factorize(mat.NewSymDense(2, []float64{sxx / n, sxy / n, sxy / n, syy / n}), true) {
		var vecs mat.Dense
		es.VectorsTo(&vecs)
		// eigenvalues ascend, so column 1 is the major axis
		ux, uy = vecs.At(0, 1), vecs.At(1, 1)
	}
	vx, vy := -uy, ux

	amin, amax := math.Inf(1), math.Inf(-1)
	bmin, bmax := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		dx, dy := float64(p.X)-mx, float64(p.Y)-my
		a := dx*ux + dy*uy
		b := dx*vx + dy*vy
		amin, amax = math.Min(amin, a), math.Max(amax, a)
		bmin, bmax = math.Min(bmin, b), math.Max(bmax, b)
	}
	ac, bc := (amin+amax)/2, (bmin+bmax)/2

	return NormalizeRect(RotatedRect{
		CX:     mx + ac*ux + bc*vx,
		CY:     my + ac*uy + bc*vy,
		Width:  amax - amin + 1,
		Height: bmax - bmin + 1,
		Angle:  math.Atan2(uy, ux) * 180 / math.Pi,
	})
}

// PolygonBounds returns the smallest rectangle containing every vertex as a pixel.
func PolygonBounds(poly []image.Point) image.Rectangle {
	if len(poly) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: poly[0], Max: poly[0].Add(image.Pt(1, 1))}
	for _, p := range poly[1:] {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}

// FillPolygon rasterises poly into a mask covering bounds. Pixels inside or
// on the boundary are 255. The mask's origin is bounds.Min.
func FillPolygon(bounds image.Rectangle, poly []image.Point) *image.Gray {
	mask := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if insidePolygon(poly, x, y) {
				mask.SetGray(x, y, gray255)
			}
		}
	}
	return mask
}

func insidePolygon(poly []image.Point, x, y int) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if onSegment(a, b, x, y) {
			return true
		}
		if (a.Y > y) != (b.Y > y) {
			xc := float64(b.X-a.X)*float64(y-a.Y)/float64(b.Y-a.Y) + float64(a.X)
			if float64(x) < xc {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b image.Point, x, y int) bool {
	cross := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
	if cross != 0 {
		return false
	}
	return x >= min(a.X, b.X) && x <= max(a.X, b.X) && y >= min(a.Y, b.Y) && y <= max(a.Y, b.Y)
}
