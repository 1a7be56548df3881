//go:build gocv

package drawer

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/ethotrack/internal/observation"
	"github.com/banshee-data/ethotrack/internal/tracking"
)

var (
	roiColor      = color.RGBA{R: 0, G: 160, B: 255, A: 255}
	detectedColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	inferredColor = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	actedColor    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// VideoDrawer writes an annotated colour video: ROI outlines, the
// subject's position per ROI, and a red ring on frames with an
// interaction. The writer opens on the first frame.
type VideoDrawer struct {
	path string
	fps  float64

	vw  *gocv.VideoWriter
	bgr gocv.Mat
}

var _ Drawer = (*VideoDrawer)(nil)

func NewVideoDrawer(path string, fps float64) *VideoDrawer {
	if fps <= 0 {
		fps = 25
	}
	return &VideoDrawer{path: path, fps: fps, bgr: gocv.NewMat()}
}

func (d *VideoDrawer) Draw(t int64, frame *image.Gray, positions map[int]*observation.DataPoint, units []*tracking.Unit) error {
	if frame == nil {
		return nil
	}
	b := frame.Bounds()
	if d.vw == nil {
		vw, err := gocv.VideoWriterFile(d.path, "MJPG", d.fps, b.Dx(), b.Dy(), true)
		if err != nil {
			return fmt.Errorf("failed to open video writer %s: %w", d.path, err)
		}
		d.vw = vw
	}

	gray, err := gocv.ImageGrayToMatGray(frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer gray.Close()
	gocv.CvtColor(gray, &d.bgr, gocv.ColorGrayToBGR)

	for _, u := range units {
		r := u.ROI()
		gocv.Rectangle(&d.bgr, r.Rect().Sub(b.Min), roiColor, 1)
		dp, ok := positions[r.Idx()]
		if !ok || dp == nil {
			continue
		}
		c := image.Pt(int(dp.Value(observation.HeaderX)), int(dp.Value(observation.HeaderY))).
			Add(r.Offset()).Sub(b.Min)
		col := detectedColor
		if dp.IsInferred() {
			col = inferredColor
		}
		gocv.Circle(&d.bgr, c, 3, col, -1)
		if dp.Value(observation.HeaderHasInteracted) != 0 {
			gocv.Circle(&d.bgr, c, 8, actedColor, 2)
		}
	}
	gocv.PutText(&d.bgr, fmt.Sprintf("t=%.1fs", float64(t)/1000), image.Pt(5, 15),
		gocv.FontHersheyPlain, 1, detectedColor, 1)

	return d.vw.Write(d.bgr)
}

func (d *VideoDrawer) Close() error {
	d.bgr.Close()
	if d.vw == nil {
		return nil
	}
	logf("video written to %s", d.path)
	return d.vw.Close()
}
