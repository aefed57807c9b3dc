package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// crossedPose is a clean crossed-arms posture: wrists over the midline at
// chest height, elbows above the wrists, everything fully visible.
func crossedPose() Pose {
	return Pose{
		LeftShoulder:  Landmark{X: 0.6, Y: 0.40, Visibility: 1},
		RightShoulder: Landmark{X: 0.4, Y: 0.40, Visibility: 1},
		LeftElbow:     Landmark{X: 0.65, Y: 0.45, Visibility: 1},
		RightElbow:    Landmark{X: 0.35, Y: 0.45, Visibility: 1},
		LeftWrist:     Landmark{X: 0.58, Y: 0.55, Visibility: 1},
		RightWrist:    Landmark{X: 0.42, Y: 0.55, Visibility: 1},
	}
}

func TestCrossedArmsFullConfidence(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, CrossedArmsConfidence(crossedPose()), 1e-9)
}

func TestCrossedArmsVisibilityGate(t *testing.T) {
	t.Parallel()

	p := crossedPose()
	p.LeftWrist.Visibility = 0.4
	assert.Zero(t, CrossedArmsConfidence(p), "an occluded wrist voids the check")

	p = crossedPose()
	p.RightShoulder.Visibility = 0.1
	assert.Zero(t, CrossedArmsConfidence(p))
}

func TestCrossedArmsVisibilityScaling(t *testing.T) {
	t.Parallel()

	p := crossedPose()
	p.LeftWrist.Visibility = 0.6
	p.RightWrist.Visibility = 0.6
	p.LeftShoulder.Visibility = 0.6
	p.RightShoulder.Visibility = 0.6
	assert.InDelta(t, 0.6, CrossedArmsConfidence(p), 1e-9,
		"full posture score scaled by mean visibility")
}

func TestUncrossedArmsScoreLow(t *testing.T) {
	t.Parallel()

	// Arms hanging at the sides: not crossed, wrists far below the chest
	// band, elbows above wrists. Only the elbow criterion can contribute.
	p := Pose{
		LeftShoulder:  Landmark{X: 0.6, Y: 0.40, Visibility: 1},
		RightShoulder: Landmark{X: 0.4, Y: 0.40, Visibility: 1},
		LeftElbow:     Landmark{X: 0.65, Y: 0.55, Visibility: 1},
		RightElbow:    Landmark{X: 0.35, Y: 0.55, Visibility: 1},
		LeftWrist:     Landmark{X: 0.68, Y: 0.75, Visibility: 1},
		RightWrist:    Landmark{X: 0.32, Y: 0.75, Visibility: 1},
	}
	assert.InDelta(t, 0.3, CrossedArmsConfidence(p), 1e-9)
}

func TestCrossedArmsPartialCriteria(t *testing.T) {
	t.Parallel()

	// Crossed and at chest height, but elbows below the wrists.
	p := crossedPose()
	p.LeftElbow.Y = 0.60
	p.RightElbow.Y = 0.60
	assert.InDelta(t, 0.7, CrossedArmsConfidence(p), 1e-9)

	// Crossed with elbows up, but wrists above the shoulders.
	p = crossedPose()
	p.LeftWrist.Y = 0.30
	p.RightWrist.Y = 0.30
	p.LeftElbow.Y = 0.25
	p.RightElbow.Y = 0.25
	assert.InDelta(t, 0.7, CrossedArmsConfidence(p), 1e-9)
}
