package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"path"
	"strings"
	"time"

	// decoders for image.Decode
	_ "image/jpeg"
	_ "image/png"

	"github.com/banshee-data/ethotrack/internal/fsutil"
)

// ImageDirSource replays the PNG/JPEG files of a directory in name order,
// stamping them at a fixed frame interval.
type ImageDirSource struct {
	fs       fsutil.FileSystem
	dir      string
	names    []string
	interval time.Duration
	pos      int
	bounds   image.Rectangle
}

var _ Source = (*ImageDirSource)(nil)

// NewImageDirSource lists dir and decodes the first image to learn the frame size.
func NewImageDirSource(fsys fsutil.FileSystem, dir string, interval time.Duration) (*ImageDirSource, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("frame interval must be positive, got %v", interval)
	}
	all, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames in %s: %w", dir, err)
	}
	var names []string
	for _, n := range all {
		switch strings.ToLower(path.Ext(n)) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}

	s := &ImageDirSource{fs: fsys, dir: dir, names: names, interval: interval}
	first, err := s.decode(0)
	if err != nil {
		return nil, err
	}
	s.bounds = first.Bounds()
	return s, nil
}

func (s *ImageDirSource) decode(i int) (*image.Gray, error) {
	name := path.Join(s.dir, s.names[i])
	data, err := s.fs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %s: %w", name, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", name, err)
	}
	return ToGray(img), nil
}

func (s *ImageDirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.names) {
		return Frame{}, io.EOF
	}
	img, err := s.decode(s.pos)
	if err != nil {
		return Frame{}, err
	}
	if img.Bounds() != s.bounds {
		return Frame{}, fmt.Errorf("frame %s is %v, want %v", s.names[s.pos], img.Bounds(), s.bounds)
	}
	f := Frame{T: int64(s.pos) * s.interval.Milliseconds(), Image: img}
	s.pos++
	return f, nil
}

func (s *ImageDirSource) Restart() error {
	s.pos = 0
	return nil
}

func (s *ImageDirSource) Bounds() image.Rectangle { return s.bounds }
func (s *ImageDirSource) Close() error            { return nil }
