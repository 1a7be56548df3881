package vision

import (
	"fmt"
	"image"
	"image/color"
	"sort"
)

var gray255 = color.Gray{Y: 255}

// Median returns the per-pixel median of frames, all of which must share
// the same size. For an even count the two middle values are averaged.
func Median(frames []*image.Gray) (*image.Gray, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("median of zero frames")
	}
	w, h := size(frames[0])
	for i, f := range frames[1:] {
		if fw, fh := size(f); fw != w || fh != h {
			return nil, fmt.Errorf("frame %d is %dx%d, want %dx%d", i+1, fw, fh, w, h)
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	vals := make([]int, len(frames))
	mid := len(frames) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for i, f := range frames {
				vals[i] = int(at(f, x, y))
			}
			sort.Ints(vals)
			m := vals[mid]
			if len(vals)%2 == 0 {
				m = (vals[mid-1] + vals[mid] + 1) / 2
			}
			set(out, x, y, uint8(m))
		}
	}
	return out, nil
}

// Otsu returns the threshold that maximises between-class variance of the
// grey-level histogram of img.
func Otsu(img *image.Gray) uint8 {
	var hist [256]float64
	w, h := size(img)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[at(img, x, y)]++
		}
	}
	total := float64(w * h)
	if total == 0 {
		return 0
	}

	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}

	var wB, sumB, best float64
	var thresh uint8
	for i := 0; i < 256; i++ {
		wB += hist[i]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * hist[i]
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thresh = uint8(i)
		}
	}
	return thresh
}

// Invert writes 255-src into dst.
func Invert(src, dst *image.Gray) {
	w, h := size(src)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			set(dst, x, y, 255-at(src, x, y))
		}
	}
}

// NewLike allocates a zero-origin grey image the size of img.
func NewLike(img *image.Gray) *image.Gray {
	w, h := size(img)
	return image.NewGray(image.Rect(0, 0, w, h))
}
