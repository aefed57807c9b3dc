package safety

import (
	"gonum.org/v1/gonum/stat"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// Landmark is one tracked body point in normalized image coordinates
// (0..1, origin top-left, y downward), with the tracker's visibility score.
type Landmark struct {
	X          float64
	Y          float64
	Visibility float64
}

// Pose is the upper-body landmark set the gesture check needs. Sides are
// the subject's own left and right, as delivered by pose trackers.
type Pose struct {
	LeftShoulder  Landmark
	RightShoulder Landmark
	LeftElbow     Landmark
	RightElbow    Landmark
	LeftWrist     Landmark
	RightWrist    Landmark
}

// PoseEstimator extracts a pose from a frame. ok is false when no person
// is in view.
type PoseEstimator interface {
	Estimate(f *vision.Frame) (Pose, bool)
}

// EstimatorFunc adapts a function to the PoseEstimator interface.
type EstimatorFunc func(f *vision.Frame) (Pose, bool)

func (fn EstimatorFunc) Estimate(f *vision.Frame) (Pose, bool) { return fn(f) }

// minLandmarkVisibility gates the gesture check: below this, the pose is
// too uncertain to score at all.
const minLandmarkVisibility = 0.5

// CrossedArmsConfidence scores how strongly the pose reads as the
// crossed-arms abort gesture, 0..1. Three criteria contribute:
//
//	wrists crossed over the body midline   0.4
//	wrists held at chest height            0.3
//	elbows above the wrists (the X shape)  0.3
//
// The sum is scaled by the mean visibility of wrists and shoulders, so a
// half-occluded subject cannot reach a high score.
func CrossedArmsConfidence(p Pose) float64 {
	if p.LeftWrist.Visibility < minLandmarkVisibility ||
		p.RightWrist.Visibility < minLandmarkVisibility ||
		p.LeftShoulder.Visibility < minLandmarkVisibility ||
		p.RightShoulder.Visibility < minLandmarkVisibility {
		return 0
	}

	score := 0.0

	centerX := (p.LeftShoulder.X + p.RightShoulder.X) / 2
	if p.LeftWrist.X > centerX && p.RightWrist.X < centerX {
		score += 0.4
	}

	shoulderY := (p.LeftShoulder.Y + p.RightShoulder.Y) / 2
	wristY := (p.LeftWrist.Y + p.RightWrist.Y) / 2
	if wristY > shoulderY && wristY < shoulderY+0.3 {
		score += 0.3
	}

	if p.LeftElbow.Y < p.LeftWrist.Y && p.RightElbow.Y < p.RightWrist.Y {
		score += 0.3
	}

	vis := stat.Mean([]float64{
		p.LeftWrist.Visibility,
		p.RightWrist.Visibility,
		p.LeftShoulder.Visibility,
		p.RightShoulder.Visibility,
	}, nil)
	return score * vis
}
