package flight

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

func newTestNav(t *testing.T, cfg NavConfig) (*Navigator, *Simulator) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	sim := NewSimulator(clock.New(), logger)
	if cfg.TakeoffHeightCm == 0 {
		cfg.TakeoffHeightCm = 100
	}
	if cfg.SpeedCmS == 0 {
		cfg.SpeedCmS = 50
	}
	return NewNavigator(sim, clock.New(), logger, cfg), sim
}

func TestTakeoffClimbsToWorkingHeight(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{TakeoffHeightCm: 120})
	require.NoError(t, nav.Takeoff(context.Background()))

	assert.True(t, nav.Airborne())
	assert.Equal(t, 120, nav.Position().Z)
	assert.Equal(t, 120, sim.Position().Z)
	// The airframe lifts to 80cm on its own; the navigator climbs the rest.
	assert.Equal(t, []string{"speed 50", "takeoff", "move 0 0 40"}, sim.Journal())
}

func TestTakeoffRetries(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{TakeoffAttempts: 2})
	sim.FailNext("takeoff", errors.New("motor check failed"))
	require.NoError(t, nav.Takeoff(context.Background()))
	assert.True(t, nav.Airborne())

	nav2, sim2 := newTestNav(t, NavConfig{TakeoffAttempts: 1})
	sim2.FailNext("takeoff", errors.New("motor check failed"))
	err := nav2.Takeoff(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "motor check failed")
	assert.False(t, nav2.Airborne())
}

func TestNavigateNextChunksLongLegs(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{TakeoffHeightCm: 100})
	require.NoError(t, nav.Takeoff(context.Background()))

	nav.LoadPlan([]mission.Waypoint{
		{Label: "far-rack", Target: mission.Position{X: 1250, Y: 40, Z: 150}},
	})
	require.True(t, nav.HasNext())

	wp, err := nav.NavigateNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "far-rack", wp.Label)
	assert.False(t, nav.HasNext())

	assert.Equal(t, mission.Position{X: 1250, Y: 40, Z: 150}, nav.Position())
	assert.Equal(t, nav.Position(), sim.Position())

	// Height first, then X in <=500cm chunks, then Y.
	assert.Equal(t, []string{
		"speed 50", "takeoff", "move 0 0 20",
		"move 0 0 50",
		"move 500 0 0", "move 500 0 0", "move 250 0 0",
		"move 0 40 0",
	}, sim.Journal())
}

func TestSubMinimumResidueSkipped(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{TakeoffHeightCm: 100, ToleranceCm: 20})
	require.NoError(t, nav.Takeoff(context.Background()))

	nav.LoadPlan([]mission.Waypoint{{Target: mission.Position{X: 515, Z: 100}}})
	_, err := nav.NavigateNext(context.Background())
	require.NoError(t, err, "a 15cm residue is within tolerance")
	assert.Equal(t, 500, nav.Position().X)
	assert.Equal(t, 500, sim.Position().X)
}

func TestSubMinimumLegSkippedEntirely(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{TakeoffHeightCm: 100})
	require.NoError(t, nav.Takeoff(context.Background()))
	before := len(sim.Journal())

	nav.LoadPlan([]mission.Waypoint{{Target: mission.Position{X: 15, Z: 100}}})
	_, err := nav.NavigateNext(context.Background())
	require.NoError(t, err)
	assert.Len(t, sim.Journal(), before, "no move command for a 15cm leg")
}

func TestReturnHomeKeepsHeight(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{TakeoffHeightCm: 100})
	require.NoError(t, nav.Takeoff(context.Background()))
	nav.LoadPlan([]mission.Waypoint{{Target: mission.Position{X: 200, Y: 150, Z: 120}}})
	_, err := nav.NavigateNext(context.Background())
	require.NoError(t, err)

	require.NoError(t, nav.ReturnHome(context.Background()))
	assert.Equal(t, mission.Position{X: 0, Y: 0, Z: 120}, nav.Position())
	assert.Equal(t, mission.Position{X: 0, Y: 0, Z: 120}, sim.Position())
}

func TestLand(t *testing.T) {
	t.Parallel()

	nav, _ := newTestNav(t, NavConfig{})
	require.NoError(t, nav.Takeoff(context.Background()))
	require.NoError(t, nav.Land(context.Background()))
	assert.False(t, nav.Airborne())
	assert.Equal(t, 0, nav.Position().Z)
}

func TestEmergencyLandFallsBackToMotorCut(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{})
	require.NoError(t, nav.Takeoff(context.Background()))

	sim.FailNext("land", errors.New("land rejected"))
	require.NoError(t, nav.EmergencyLand(context.Background()))
	assert.False(t, nav.Airborne())
	assert.Contains(t, sim.Journal(), "emergency")
}

func TestMoveFaultLeavesHonestPosition(t *testing.T) {
	t.Parallel()

	nav, sim := newTestNav(t, NavConfig{TakeoffHeightCm: 100})
	require.NoError(t, nav.Takeoff(context.Background()))

	// First move of the leg is the 50cm climb; fail the first X chunk.
	sim.FailNext("move", nil)
	sim.FailNext("move", errors.New("motor stall"))
	nav.LoadPlan([]mission.Waypoint{{Target: mission.Position{X: 1000, Z: 150}}})

	_, err := nav.NavigateNext(context.Background())
	require.Error(t, err)
	assert.Equal(t, mission.Position{X: 0, Y: 0, Z: 150}, nav.Position(),
		"position reflects only executed chunks")
	assert.False(t, nav.HasNext(), "the waypoint was consumed")
}

func TestNavigateNextExhausted(t *testing.T) {
	t.Parallel()

	nav, _ := newTestNav(t, NavConfig{})
	nav.LoadPlan(nil)
	_, err := nav.NavigateNext(context.Background())
	assert.Error(t, err)
}

func TestInterMoveDelayHonorsContext(t *testing.T) {
	t.Parallel()

	logger := golog.NewTestLogger(t)
	sim := NewSimulator(clock.New(), logger)
	nav := NewNavigator(sim, clock.New(), logger, NavConfig{
		TakeoffHeightCm: 100,
		SpeedCmS:        50,
		InterMoveDelay:  time.Hour,
	})
	require.NoError(t, nav.Takeoff(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first chunk go out, then cancel during the pause.
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	nav.LoadPlan([]mission.Waypoint{{Target: mission.Position{X: 1000, Z: 100}}})
	done := make(chan error, 1)
	go func() {
		_, err := nav.NavigateNext(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("navigation did not abandon the inter-move delay")
	}
}
