package roi

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/banshee-data/ethotrack/internal/camera"
	"github.com/banshee-data/ethotrack/internal/monitoring"
	"github.com/banshee-data/ethotrack/internal/vision"
)

var logf = monitoring.Component("roi")

// DefaultReferenceFrames is how many initial frames are combined into the
// reference image when building from a stream.
const DefaultReferenceFrames = 6

// Builder turns a reference image into a sorted ROI set. Implementations
// never return a partial set.
type Builder interface {
	// FromImage returns the detected reference points and the sorted ROIs.
	FromImage(ref *image.Gray) ([]image.Point, []*ROI, error)
}

// Build reads up to frames initial frames from src, takes their per-pixel
// median as the reference and hands it to b. The source is rewound
// afterwards so tracking starts from the first frame.
func Build(ctx context.Context, b Builder, src camera.Source, frames int) ([]image.Point, []*ROI, error) {
	if frames <= 0 {
		frames = DefaultReferenceFrames
	}
	var imgs []*image.Gray
	for len(imgs) < frames {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read reference frame: %w", err)
		}
		imgs = append(imgs, f.Image)
	}
	if len(imgs) == 0 {
		return nil, nil, &CalibrationError{Reason: "source produced no frames"}
	}

	ref, err := vision.Median(imgs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build reference image: %w", err)
	}
	if err := src.Restart(); err != nil {
		logf("source restart after calibration failed: %v", err)
	}
	logf("reference image from %d frames", len(imgs))
	return b.FromImage(ref)
}
