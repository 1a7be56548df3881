package roi

import (
	"fmt"
	"image"
)

// CalibrationError reports that a reference image could not be turned into
// a complete ROI set. Image is the reference that was analysed.
type CalibrationError struct {
	Reason   string
	Found    int
	Expected int
	Image    *image.Gray
}

func (e *CalibrationError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("calibration failed: %s (found %d, expected %d)", e.Reason, e.Found, e.Expected)
	}
	return "calibration failed: " + e.Reason
}
