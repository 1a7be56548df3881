package vision

import (
	"image"
)

// Native implements Primitives in pure Go.
type Native struct{}

var _ Primitives = Native{}

// at returns the pixel at offset (x, y) from the image origin.
func at(img *image.Gray, x, y int) uint8 {
	return img.Pix[(y)*img.Stride+x]
}

func set(img *image.Gray, x, y int, v uint8) {
	img.Pix[y*img.Stride+x] = v
}

func size(img *image.Gray) (int, int) {
	r := img.Bounds()
	return r.Dx(), r.Dy()
}

func (Native) AbsDiff(a, b, dst *image.Gray) {
	w, h := size(a)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			va, vb := at(a, x, y), at(b, x, y)
			if va > vb {
				set(dst, x, y, va-vb)
			} else {
				set(dst, x, y, vb-va)
			}
		}
	}
}

func (Native) Threshold(src *image.Gray, thresh uint8, dst *image.Gray) {
	w, h := size(src)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if at(src, x, y) > thresh {
				set(dst, x, y, 255)
			} else {
				set(dst, x, y, 0)
			}
		}
	}
}

func (Native) Erode(src, dst *image.Gray) { morph3x3(src, dst, true) }

func (Native) Dilate(src, dst *image.Gray) { morph3x3(src, dst, false) }

// morph3x3 takes the min (erode) or max (dilate) over each 3x3
// neighbourhood. Pixels outside the image do not take part. src and dst
// may not alias.
func morph3x3(src, dst *image.Gray, erode bool) {
	w, h := size(src)
	for y := 0; y < h; y++ {
		y0, y1 := max(y-1, 0), min(y+1, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-1, 0), min(x+1, w-1)
			v := at(src, x, y)
			for yy := y0; yy <= y1; yy++ {
				for xx := x0; xx <= x1; xx++ {
					n := at(src, xx, yy)
					if erode && n < v || !erode && n > v {
						v = n
					}
				}
			}
			set(dst, x, y, v)
		}
	}
}

func (n Native) FindBlobs(mask *image.Gray) []Blob {
	var blobs []Blob
	for _, pts := range components(mask, func(a, b uint8) bool { return a != 0 && b != 0 }) {
		blobs = append(blobs, n.blobFromPixels(mask, pts))
	}
	return blobs
}

func (n Native) FindRegions(img *image.Gray) []Region {
	var regions []Region
	for _, pts := range components(img, func(a, b uint8) bool { return a != 0 && a == b }) {
		p := pts[0].Sub(img.Bounds().Min)
		regions = append(regions, Region{
			Level: at(img, p.X, p.Y),
			Blob:  n.blobFromPixels(img, pts),
		})
	}
	return regions
}

func (n Native) blobFromPixels(img *image.Gray, pts []image.Point) Blob {
	b := Blob{
		Points: pts,
		Area:   float64(len(pts)),
		Rect:   n.MinAreaRect(pts),
	}
	b.Bounds = image.Rectangle{Min: pts[0], Max: pts[0].Add(image.Pt(1, 1))}
	for _, p := range pts[1:] {
		b.Bounds = b.Bounds.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return b
}

func (Native) MinAreaRect(pts []image.Point) RotatedRect {
	return fitRect(pts)
}

// components flood-fills 8-connected groups of pixels for which joins holds
// between neighbours. Points are returned in image coordinates, groups in
// raster order of their first pixel.
func components(img *image.Gray, joins func(a, b uint8) bool) [][]image.Point {
	w, h := size(img)
	origin := img.Bounds().Min
	seen := make([]bool, w*h)
	var out [][]image.Point
	var stack []int

	for start := 0; start < w*h; start++ {
		sx, sy := start%w, start/w
		if seen[start] || !joins(at(img, sx, sy), at(img, sx, sy)) {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		var pts []image.Point
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			v := at(img, x, y)
			pts = append(pts, image.Pt(x+origin.X, y+origin.Y))
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if !seen[j] && joins(v, at(img, nx, ny)) {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		out = append(out, pts)
	}
	return out
}
