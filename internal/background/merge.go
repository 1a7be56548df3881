package background

import (
	"image"
	"math"

	"github.com/banshee-data/ethotrack/internal/vision"
)

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	uf.parent[rb] = ra
	return true
}

// mergeBlobs joins fragments whose centres are closer than proportion times
// the longest axis of the pair's larger (by area) blob. Merged blobs are refitted and the pass
// repeats until nothing merges, since a merge can bring a third fragment
// into range.
func mergeBlobs(blobs []vision.Blob, proportion float64, prims vision.Primitives) []vision.Blob {
	if proportion <= 0 {
		return blobs
	}
	for len(blobs) > 1 {
		uf := newUnionFind(len(blobs))
		merged := false
		for i := range blobs {
			for j := i + 1; j < len(blobs); j++ {
				a, b := blobs[i].Rect, blobs[j].Rect
				limit := proportion * longestAxis(blobs[i], blobs[j])
				if math.Hypot(a.CX-b.CX, a.CY-b.CY) < limit && uf.union(i, j) {
					merged = true
				}
			}
		}
		if !merged {
			return blobs
		}

		groups := make(map[int][]int)
		var roots []int
		for i := range blobs {
			r := uf.find(i)
			if _, ok := groups[r]; !ok {
				roots = append(roots, r)
			}
			groups[r] = append(groups[r], i)
		}
		next := make([]vision.Blob, 0, len(roots))
		for _, r := range roots {
			next = append(next, combine(blobs, groups[r], prims))
		}
		blobs = next
	}
	return blobs
}

// longestAxis is the longer side of whichever of a and b has the larger
// area; ties go to a.
func longestAxis(a, b vision.Blob) float64 {
	big := a
	if b.Area > a.Area {
		big = b
	}
	return math.Max(big.Rect.Width, big.Rect.Height)
}

func combine(blobs []vision.Blob, members []int, prims vision.Primitives) vision.Blob {
	if len(members) == 1 {
		return blobs[members[0]]
	}
	var out vision.Blob
	for k, i := range members {
		b := blobs[i]
		out.Points = append(out.Points, b.Points...)
		out.Area += b.Area
		if k == 0 {
			out.Bounds = b.Bounds
		} else {
			out.Bounds = out.Bounds.Union(b.Bounds)
		}
	}
	out.Rect = prims.MinAreaRect(out.Points)
	return out
}

// grow returns r expanded by n pixels on every side, clipped to within.
func grow(r image.Rectangle, n int, within image.Rectangle) image.Rectangle {
	return image.Rect(r.Min.X-n, r.Min.Y-n, r.Max.X+n, r.Max.Y+n).Intersect(within)
}
