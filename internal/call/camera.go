package call

import "github.com/drtelemed/drsdk/internal/domain"

// Capture target resolution.
const (
	TargetWidth  = 1280
	TargetHeight = 720
)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// SelectFormat picks the format closest to the target resolution by
// |dw|+|dh|. Later formats win ties.
func SelectFormat(formats []domain.CameraFormat) (domain.CameraFormat, bool) {
	var (
		best  domain.CameraFormat
		found bool
		diff  int
	)
	for _, f := range formats {
		d := abs(TargetWidth-f.Width) + abs(TargetHeight-f.Height)
		if !found || d <= diff {
			best, diff, found = f, d, true
		}
	}
	return best, found
}

// SelectFPS returns the highest frame rate any of the format's ranges allows.
func SelectFPS(format domain.CameraFormat) int {
	var fps float64
	for _, r := range format.FrameRates {
		if r.Max > fps {
			fps = r.Max
		}
	}
	return int(fps)
}
