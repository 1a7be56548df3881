// Package background implements the adaptive background model that
// localises the tracked animal inside one ROI.
//
// Each call blends the frame into a running background estimate, thresholds
// the absolute difference, extracts and merges blobs, and returns the blob
// that passes the acceptance predicates and best matches the recent
// appearance history. The learning rate is expressed as a half-life: short
// during warm-up, then adapted between MinHalfLife and MaxHalfLife (longer
// while the animal is found, shorter while it is not). Pixels under the
// accepted blob are never learned, so a resting animal is not absorbed.
package background

import (
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/ethotrack/internal/vision"
)

// Detection is the fitted rectangle of the accepted blob, relative to the
// ROI origin. Width >= Height and Angle is in [0, 180).
type Detection struct {
	X, Y          float64
	Width, Height float64
	Angle         float64
	Area          float64
}

// Result is either a Detection or NotDetected.
type Result struct {
	Detection Detection
	Detected  bool
}

// NotDetected is the result when no blob is accepted.
var NotDetected = Result{}

// Found wraps d as a positive result.
func Found(d Detection) Result { return Result{Detection: d, Detected: true} }

// Model is the per-ROI background estimate. It is not safe for concurrent use.
type Model struct {
	cfg   Config
	prims vision.Primitives
	size  image.Point
	mask  *image.Gray
	area  float64

	// arena, allocated once at the ROI size
	bg    []float32
	bgImg *image.Gray
	diff  *image.Gray
	bin   *image.Gray
	tmp   *image.Gray

	frames   int
	lastT    int64
	halfLife time.Duration
	objects  *ObjectModel
}

// NewModel allocates a model for an ROI of the given size. mask, if
// non-nil, must be that size; pixels where it is zero are ignored.
func NewModel(cfg *Config, size image.Point, mask *image.Gray, prims vision.Primitives) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid background config: %w", err)
	}
	if size.X < 1 || size.Y < 1 {
		return nil, fmt.Errorf("invalid roi size %v", size)
	}
	if mask != nil && mask.Bounds().Size() != size {
		return nil, fmt.Errorf("mask size %v does not match roi size %v", mask.Bounds().Size(), size)
	}
	if prims == nil {
		prims = vision.Default
	}

	area := float64(size.X * size.Y)
	if mask != nil {
		area = 0
		for y := 0; y < size.Y; y++ {
			for _, v := range mask.Pix[y*mask.Stride : y*mask.Stride+size.X] {
				if v != 0 {
					area++
				}
			}
		}
	}

	r := image.Rectangle{Max: size}
	return &Model{
		cfg:      *cfg,
		prims:    prims,
		size:     size,
		mask:     mask,
		area:     area,
		bg:       make([]float32, size.X*size.Y),
		bgImg:    image.NewGray(r),
		diff:     image.NewGray(r),
		bin:      image.NewGray(r),
		tmp:      image.NewGray(r),
		halfLife: cfg.WarmupHalfLife,
		objects:  NewObjectModel(cfg.ObjectHistory),
	}, nil
}

// Apply processes one cropped frame captured at t milliseconds.
func (m *Model) Apply(t int64, img *image.Gray) (Result, error) {
	if img.Bounds().Size() != m.size {
		return NotDetected, fmt.Errorf("frame crop is %v, model expects %v", img.Bounds().Size(), m.size)
	}

	if m.frames == 0 {
		m.seed(img)
		m.frames, m.lastT = 1, t
		return NotDetected, nil
	}
	dt := max(t-m.lastT, 0)
	m.frames++
	m.lastT = t

	m.prims.AbsDiff(img, m.bgImg, m.diff)
	m.applyMask(m.diff)
	m.prims.Threshold(m.diff, m.cfg.DiffThreshold, m.bin)
	m.prims.Erode(m.bin, m.tmp)
	m.prims.Dilate(m.tmp, m.bin)

	blobs := mergeBlobs(m.prims.FindBlobs(m.bin), m.cfg.MergeProportion, m.prims)
	best, ok := m.choose(m.accept(blobs))

	res := NotDetected
	exclude := image.Rectangle{}
	if ok {
		res = Found(Detection{
			X:      best.Rect.CX,
			Y:      best.Rect.CY,
			Width:  best.Rect.Width,
			Height: best.Rect.Height,
			Angle:  best.Rect.Angle,
			Area:   best.Area,
		})
		exclude = grow(best.Bounds, 2, m.bin.Bounds())
		m.objects.Add(Features{T: t, Area: best.Area, Aspect: best.Rect.Width / math.Max(best.Rect.Height, 1)})
	}

	m.learn(img, dt, exclude)
	m.adapt(ok)
	return res, nil
}

func (m *Model) seed(img *image.Gray) {
	for y := 0; y < m.size.Y; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+m.size.X]
		for x, v := range row {
			m.bg[y*m.size.X+x] = float32(v)
			m.bgImg.Pix[y*m.bgImg.Stride+x] = v
		}
	}
}

func (m *Model) applyMask(img *image.Gray) {
	if m.mask == nil {
		return
	}
	for y := 0; y < m.size.Y; y++ {
		for x := 0; x < m.size.X; x++ {
			if m.mask.Pix[y*m.mask.Stride+x] == 0 {
				img.Pix[y*img.Stride+x] = 0
			}
		}
	}
}

// accept keeps blobs that satisfy the area and fill predicates.
func (m *Model) accept(blobs []vision.Blob) []vision.Blob {
	maxArea := m.cfg.MaxAreaFraction * m.area
	out := blobs[:0]
	for _, b := range blobs {
		if b.Area < m.cfg.MinArea || b.Area > maxArea || b.Fill() < m.cfg.MinFill {
			continue
		}
		out = append(out, b)
	}
	return out
}

// choose picks the candidate closest to the object model, largest first on ties.
func (m *Model) choose(cands []vision.Blob) (vision.Blob, bool) {
	switch len(cands) {
	case 0:
		return vision.Blob{}, false
	case 1:
		return cands[0], true
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Area > cands[j].Area })
	if m.objects.Size() == 0 {
		return cands[0], true
	}
	best, bestD := 0, math.Inf(1)
	for i, c := range cands {
		d := m.objects.Distance(Features{Area: c.Area, Aspect: c.Rect.Width / math.Max(c.Rect.Height, 1)})
		if d < bestD {
			best, bestD = i, d
		}
	}
	return cands[best], true
}

// learn blends img into the background at the current half-life, skipping
// masked-out pixels and the exclude rectangle.
func (m *Model) learn(img *image.Gray, dtMillis int64, exclude image.Rectangle) {
	hl := float64(m.halfLife.Milliseconds())
	if dtMillis == 0 || hl <= 0 {
		return
	}
	alpha := float32(1 - math.Exp(-math.Ln2*float64(dtMillis)/hl))
	for y := 0; y < m.size.Y; y++ {
		for x := 0; x < m.size.X; x++ {
			if image.Pt(x, y).In(exclude) {
				continue
			}
			if m.mask != nil && m.mask.Pix[y*m.mask.Stride+x] == 0 {
				continue
			}
			i := y*m.size.X + x
			m.bg[i] += alpha * (float32(img.Pix[y*img.Stride+x]) - m.bg[i])
			m.bgImg.Pix[y*m.bgImg.Stride+x] = uint8(m.bg[i] + 0.5)
		}
	}
}

func (m *Model) adapt(found bool) {
	if m.frames <= m.cfg.WarmupFrames {
		m.halfLife = m.cfg.WarmupHalfLife
		return
	}
	if m.frames == m.cfg.WarmupFrames+1 {
		m.halfLife = m.cfg.MinHalfLife
	}
	hl := float64(m.halfLife)
	if found {
		hl *= m.cfg.AdaptFactor
	} else {
		hl /= m.cfg.AdaptFactor
	}
	hl = math.Max(float64(m.cfg.MinHalfLife), math.Min(float64(m.cfg.MaxHalfLife), hl))
	m.halfLife = time.Duration(hl)
}

// HalfLife is the learning half-life that will apply to the next frame.
func (m *Model) HalfLife() time.Duration { return m.halfLife }

// Frames is the number of frames processed, including the seed frame.
func (m *Model) Frames() int { return m.frames }

// Background returns the current background estimate. The image is owned
// by the model and overwritten on the next Apply.
func (m *Model) Background() *image.Gray { return m.bgImg }

// Objects exposes the appearance history.
func (m *Model) Objects() *ObjectModel { return m.objects }
