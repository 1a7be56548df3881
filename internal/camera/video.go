//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"gocv.io/x/gocv"
)

// VideoSource reads frames from a video file or capture device through
// OpenCV. File timestamps come from the container; device timestamps are
// milliseconds since the first frame.
type VideoSource struct {
	vc     *gocv.VideoCapture
	live   bool
	start  time.Time
	bounds image.Rectangle
	bgr    gocv.Mat
	gray   gocv.Mat
}

var _ Source = (*VideoSource)(nil)

// OpenVideoFile opens a recorded video.
func OpenVideoFile(path string) (*VideoSource, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	return newVideoSource(vc, false)
}

// OpenDevice opens a capture device, e.g. 0 for /dev/video0.
func OpenDevice(id int) (*VideoSource, error) {
	vc, err := gocv.VideoCaptureDevice(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", id, err)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return newVideoSource(vc, true)
}

func newVideoSource(vc *gocv.VideoCapture, live bool) (*VideoSource, error) {
	w := int(vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if w <= 0 || h <= 0 {
		vc.Close()
		return nil, fmt.Errorf("capture reports invalid frame size %dx%d", w, h)
	}
	return &VideoSource{
		vc:     vc,
		live:   live,
		bounds: image.Rect(0, 0, w, h),
		bgr:    gocv.NewMat(),
		gray:   gocv.NewMat(),
	}, nil
}

func (s *VideoSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if ok := s.vc.Read(&s.bgr); !ok || s.bgr.Empty() {
		return Frame{}, io.EOF
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}

	var t int64
	if s.live {
		t = time.Since(s.start).Milliseconds()
	} else {
		t = int64(s.vc.Get(gocv.VideoCapturePosMsec))
	}

	if s.bgr.Channels() == 1 {
		s.bgr.CopyTo(&s.gray)
	} else {
		gocv.CvtColor(s.bgr, &s.gray, gocv.ColorBGRToGray)
	}
	img, err := s.gray.ToImage()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to convert frame: %w", err)
	}
	return Frame{T: t, Image: ToGray(img)}, nil
}

// Restart rewinds a file; on a device it only resets the time origin.
func (s *VideoSource) Restart() error {
	s.start = time.Time{}
	if s.live {
		return nil
	}
	s.vc.Set(gocv.VideoCapturePosFrames, 0)
	return nil
}

func (s *VideoSource) Bounds() image.Rectangle { return s.bounds }

func (s *VideoSource) Close() error {
	s.bgr.Close()
	s.gray.Close()
	return s.vc.Close()
}
