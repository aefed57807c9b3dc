package safety

import (
	"gonum.org/v1/gonum/stat"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// The vehicle has no depth sensor, so the obstacle check is visual: a
// surface close enough to matter fills the central region of the view with
// dense luminance structure.
type ObstacleDetector struct {
	// CoverageRatio is the fraction of structure-bearing pixels in the
	// central region above which the view counts as blocked.
	CoverageRatio float64
	// EdgeThreshold is the normalized gradient magnitude (0..1) a pixel
	// must exceed to count as structure.
	EdgeThreshold float64
}

// ObstacleReading is one evaluation of the central region.
type ObstacleReading struct {
	Blocked bool
	// Density is the measured structure fraction, compared against
	// CoverageRatio.
	Density float64
	// MeanGradient is the average normalized gradient, logged for tuning.
	MeanGradient float64
}

// Detect evaluates the central 40% x 40% of the frame. Frames too small to
// carry a gradient are never blocked.
func (d ObstacleDetector) Detect(f *vision.Frame) ObstacleReading {
	if f == nil || f.W < 8 || f.H < 8 {
		return ObstacleReading{}
	}

	x0, x1 := int(float64(f.W)*0.3), int(float64(f.W)*0.7)
	y0, y1 := int(float64(f.H)*0.3), int(float64(f.H)*0.7)

	mags := make([]float64, 0, (x1-x0)*(y1-y0))
	strong := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			gx := absDiff(f.At(x+1, y), f.At(x, y))
			gy := absDiff(f.At(x, y+1), f.At(x, y))
			mag := float64(gx+gy) / (2 * 255)
			mags = append(mags, mag)
			if mag >= d.EdgeThreshold {
				strong++
			}
		}
	}

	density := float64(strong) / float64(len(mags))
	return ObstacleReading{
		Blocked:      density > d.CoverageRatio,
		Density:      density,
		MeanGradient: stat.Mean(mags, nil),
	}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
