// Package camera provides frame sources: a timestamped, restartable sequence
// of greyscale frames.
package camera

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"io"
)

// Frame is one greyscale image captured T milliseconds after the start of
// the sequence.
type Frame struct {
	T     int64
	Image *image.Gray
}

// Source yields frames until it returns io.EOF.
type Source interface {
	// Next blocks until the next frame is available.
	Next(ctx context.Context) (Frame, error)
	// Restart rewinds to the first frame.
	Restart() error
	// Bounds is the geometry of every frame the source yields.
	Bounds() image.Rectangle
	Close() error
}

// ToGray converts any image into a zero-origin *image.Gray.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// SliceSource replays an in-memory frame sequence.
type SliceSource struct {
	frames []Frame
	pos    int
}

var _ Source = (*SliceSource)(nil)

func NewSliceSource(frames []Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *SliceSource) Restart() error {
	s.pos = 0
	return nil
}

func (s *SliceSource) Bounds() image.Rectangle {
	if len(s.frames) == 0 {
		return image.Rectangle{}
	}
	return s.frames[0].Image.Bounds()
}

func (s *SliceSource) Close() error { return nil }

// Uniform returns a w x h frame filled with v.
func Uniform(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(g, g.Bounds(), &image.Uniform{C: color.Gray{Y: v}}, image.Point{}, draw.Src)
	return g
}
