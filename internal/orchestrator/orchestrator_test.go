package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uatomic "go.uber.org/atomic"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/detect"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/flight"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/missionlog"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/photocapture"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/safety"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/storage"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

func crossedArms() safety.Pose {
	return safety.Pose{
		LeftShoulder:  safety.Landmark{X: 0.6, Y: 0.40, Visibility: 1},
		RightShoulder: safety.Landmark{X: 0.4, Y: 0.40, Visibility: 1},
		LeftElbow:     safety.Landmark{X: 0.65, Y: 0.45, Visibility: 1},
		RightElbow:    safety.Landmark{X: 0.35, Y: 0.45, Visibility: 1},
		LeftWrist:     safety.Landmark{X: 0.58, Y: 0.55, Visibility: 1},
		RightWrist:    safety.Landmark{X: 0.42, Y: 0.55, Visibility: 1},
	}
}

// fixture assembles a full mission stack around the flight simulator.
// Knob fields may be changed before build.
type fixture struct {
	t   *testing.T
	clk clock.Clock

	sim *flight.Simulator
	nav *flight.Navigator
	rec *missionlog.Memory

	gesture  *uatomic.Bool
	obstacle *uatomic.Bool

	waypoints     []mission.Waypoint
	angles        []mission.PhotoAngle
	decoder       detect.Decoder
	camera        vision.Source
	withMonitor   bool
	hover         time.Duration
	detectTimeout time.Duration
	settle        time.Duration
	returnHome    bool
	minBattery    int
	missionID     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		t:        t,
		clk:      clock.New(),
		gesture:  uatomic.NewBool(false),
		obstacle: uatomic.NewBool(false),
		waypoints: []mission.Waypoint{
			{Label: "rack-a", Target: mission.Position{X: 400, Y: 0, Z: 100}},
			{Label: "rack-b", Target: mission.Position{X: 400, Y: 90, Z: 100}},
		},
		angles: []mission.PhotoAngle{
			{Name: "front", Rotation: 0},
			{Name: "left45", Rotation: -45},
		},
		decoder: detect.DecoderFunc(func(*vision.Frame) (string, bool) {
			return "RACK-12", true
		}),
		withMonitor:   true,
		hover:         10 * time.Millisecond,
		detectTimeout: 400 * time.Millisecond,
		returnHome:    true,
		minBattery:    20,
		missionID:     "m-test",
	}
}

func (f *fixture) build() *Orchestrator {
	t := f.t
	logger := golog.NewTestLogger(t)

	f.sim = flight.NewSimulator(f.clk, logger)
	// The working height matches the simulator liftoff height, so takeoff
	// issues no climb move and the first "move" belongs to navigation.
	f.nav = flight.NewNavigator(f.sim, f.clk, logger, flight.NavConfig{
		TakeoffHeightCm: 80,
		SpeedCmS:        50,
		ToleranceCm:     20,
		TakeoffAttempts: 1,
	})
	f.nav.LoadPlan(f.waypoints)

	var mon *safety.Monitor
	if f.withMonitor {
		monCam := vision.SourceFunc(func() (*vision.Frame, bool) {
			if f.obstacle.Load() {
				return vision.Checker(64, 64, 1), true
			}
			return vision.Uniform(64, 64, 128), true
		})
		est := safety.EstimatorFunc(func(*vision.Frame) (safety.Pose, bool) {
			if f.gesture.Load() {
				return crossedArms(), true
			}
			return safety.Pose{}, false
		})
		mon = safety.NewMonitor(monCam, est, safety.Config{
			PollInterval:      5 * time.Millisecond,
			ObstacleEnabled:   true,
			CoverageRatio:     0.3,
			EdgeThreshold:     0.25,
			GestureEnabled:    true,
			GestureConfidence: 0.7,
		}, f.clk, logger)
	}

	var ident *detect.Identifier
	if f.decoder != nil {
		ident = detect.NewIdentifier(f.decoder, 5*time.Millisecond, f.clk, logger)
	}
	camera := f.camera
	if camera == nil {
		camera = vision.Static(vision.Uniform(64, 48, 100))
	}

	store, err := storage.NewPhotoStore(t.TempDir(), "UNKNOWN", 85, f.clk, logger)
	require.NoError(t, err)
	seq := photocapture.NewSequencer(f.nav, store, camera, f.angles, f.settle, f.clk, logger)
	f.rec = missionlog.NewMemory()

	return New(Deps{
		Nav:     f.nav,
		Monitor: mon,
		Ident:   ident,
		Camera:  camera,
		Seq:     seq,
		Rec:     f.rec,
		Clock:   f.clk,
		Logger:  logger,
	}, Config{
		MissionID:      f.missionID,
		MinBatteryPct:  f.minBattery,
		HoverStability: f.hover,
		DetectTimeout:  f.detectTimeout,
		DetectPoll:     5 * time.Millisecond,
		FallbackLabel:  "UNKNOWN",
		ReturnHome:     f.returnHome,
	})
}

func start(orch *Orchestrator, ctx context.Context) <-chan mission.Outcome {
	ch := make(chan mission.Outcome, 1)
	go func() { ch <- orch.Run(ctx) }()
	return ch
}

func finish(t *testing.T, ch <-chan mission.Outcome) mission.Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(15 * time.Second):
		t.Fatal("mission did not finish")
		return mission.Outcome{}
	}
}

func waitFor(t *testing.T, orch *Orchestrator, cond func(Status) bool, what string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(orch.Status())
	}, 10*time.Second, 2*time.Millisecond, what)
}

func transitions(rec *missionlog.Memory) []string {
	var out []string
	for _, e := range rec.Entries() {
		if e.Kind == mission.LogTransition {
			out = append(out, e.Detail)
		}
	}
	return out
}

func abortEntries(rec *missionlog.Memory) []mission.LogEntry {
	var out []mission.LogEntry
	for _, e := range rec.Entries() {
		if e.Kind == mission.LogAbort {
			out = append(out, e)
		}
	}
	return out
}

func TestMissionFlowCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	qr, err := detect.EncodeQRFrame("RACK-12", 200)
	require.NoError(t, err)
	f.camera = vision.Static(qr)
	f.decoder = detect.NewQRDecoder()
	orch := f.build()

	out := finish(t, start(orch, context.Background()))

	require.Equal(t, mission.OutcomeCompleted, out.Status, "reason: %s err: %v", out.Reason, out.Err)
	assert.Empty(t, out.Reason)
	assert.NoError(t, out.Err)
	assert.Equal(t, "m-test", out.MissionID)
	assert.False(t, out.Ended.Before(out.Started))

	require.Len(t, out.Artifacts, 4, "2 stops x 2 angles")
	for _, a := range out.Artifacts {
		assert.Equal(t, "RACK-12", a.StructureID)
		assert.FileExists(t, a.Path)
	}
	assert.Equal(t, 1, out.Artifacts[0].Stop)
	assert.Equal(t, 2, out.Artifacts[2].Stop)

	assert.False(t, f.sim.Airborne())
	pos := f.sim.Position()
	assert.Zero(t, pos.X, "returned home")
	assert.Zero(t, pos.Y, "returned home")
	assert.Zero(t, f.sim.Heading(), "entry heading restored at every stop")
	assert.Equal(t, mission.Idle, orch.Status().State)

	trs := transitions(f.rec)
	require.NotEmpty(t, trs)
	assert.Contains(t, trs[0], "IDLE -> TAKEOFF")
	assert.Contains(t, trs[len(trs)-1], "LANDING -> IDLE")
	assert.Empty(t, abortEntries(f.rec))
	assert.Len(t, f.rec.Artifacts(), 4)
}

func TestEmergencyGestureAbortsMission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.hover = 250 * time.Millisecond
	orch := f.build()

	ch := start(orch, context.Background())
	waitFor(t, orch, func(s Status) bool {
		return s.Stop == 2 && s.State == mission.Stopping
	}, "second stop hover")
	f.gesture.Store(true)
	out := finish(t, ch)

	require.Equal(t, mission.OutcomeAborted, out.Status)
	assert.Equal(t, safety.ReasonEmergencyGesture, out.Reason)
	require.Len(t, out.Artifacts, 2, "only the first stop was photographed")
	for _, a := range out.Artifacts {
		assert.Equal(t, 1, a.Stop)
	}

	assert.False(t, f.sim.Airborne())
	assert.Contains(t, f.sim.Journal(), "land")

	aborts := abortEntries(f.rec)
	require.Len(t, aborts, 1, "one interrupt per episode")
	assert.Contains(t, aborts[0].Detail, safety.ReasonEmergencyGesture)
	assert.Contains(t, transitions(f.rec), "STOPPING -> LANDING: emergency")
}

func TestDetectionTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.withMonitor = false
	f.waypoints = f.waypoints[:1]
	f.angles = f.angles[:1]
	f.detectTimeout = 80 * time.Millisecond
	f.decoder = detect.DecoderFunc(func(*vision.Frame) (string, bool) {
		return "", false
	})
	orch := f.build()

	out := finish(t, start(orch, context.Background()))

	require.Equal(t, mission.OutcomeCompleted, out.Status, "reason: %s err: %v", out.Reason, out.Err)
	require.Len(t, out.Artifacts, 1)
	assert.Equal(t, "UNKNOWN", out.Artifacts[0].StructureID)
	assert.Contains(t, out.Artifacts[0].Path, "UNKNOWN_STOP1")
	assert.GreaterOrEqual(t, out.Ended.Sub(out.Started), 80*time.Millisecond,
		"identification must run until the timeout")

	var sawTimeout bool
	for _, e := range f.rec.Entries() {
		if e.Kind == mission.LogWarning {
			assert.Contains(t, e.Detail, "timed out")
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout, "timeout warning recorded")
	assert.Contains(t, transitions(f.rec),
		"DETECTING -> PHOTOGRAPHING: identification timed out, using UNKNOWN")
}

func TestObstacleAbortsNavigation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	orch := f.build()
	f.sim.SetLatency(50 * time.Millisecond)

	ch := start(orch, context.Background())
	waitFor(t, orch, func(s Status) bool {
		return s.State == mission.Navigating
	}, "first navigation leg")
	f.obstacle.Store(true)
	out := finish(t, ch)

	require.Equal(t, mission.OutcomeAborted, out.Status)
	assert.Equal(t, safety.ReasonObstacle, out.Reason)
	assert.Empty(t, out.Artifacts)
	assert.False(t, f.sim.Airborne())
	assert.Contains(t, transitions(f.rec), "NAVIGATING -> LANDING: obstacle")
}

func TestOperatorCancelAborts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	orch := f.build()
	f.sim.SetLatency(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := start(orch, ctx)
	waitFor(t, orch, func(s Status) bool {
		return s.State == mission.Navigating
	}, "first navigation leg")
	cancel()
	out := finish(t, ch)

	require.Equal(t, mission.OutcomeAborted, out.Status)
	assert.Equal(t, ReasonOperatorCancel, out.Reason)
	assert.False(t, f.sim.Airborne(), "landing runs on its own context")
	assert.Contains(t, f.sim.Journal(), "land")

	aborts := abortEntries(f.rec)
	require.Len(t, aborts, 1)
	assert.Equal(t, ReasonOperatorCancel, aborts[0].Detail)
}

func TestFlightFaultForcesLanding(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	orch := f.build()
	f.sim.FailNext("move", errors.New("motor stall"))

	out := finish(t, start(orch, context.Background()))

	require.Equal(t, mission.OutcomeAborted, out.Status)
	assert.Contains(t, out.Reason, "flight fault")
	assert.Contains(t, out.Reason, "motor stall")
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "motor stall")
	assert.Empty(t, out.Artifacts)
	assert.False(t, f.sim.Airborne())
}

func TestPreflightRejectsLowBattery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	orch := f.build()
	f.sim.SetBattery(15)

	out := orch.Run(context.Background())

	require.Equal(t, mission.OutcomeFailed, out.Status)
	assert.Equal(t, "preflight failed", out.Reason)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "battery 15% below the 20% floor")
	assert.NotContains(t, f.sim.Journal(), "takeoff")
	assert.Equal(t, mission.Failed, orch.Status().State)
}

func TestPreflightRejectsEmptyPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.waypoints = nil
	orch := f.build()

	out := orch.Run(context.Background())

	require.Equal(t, mission.OutcomeFailed, out.Status)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "no waypoints")
	assert.Empty(t, f.sim.Journal())
}

func TestInterruptDuringPhotographingKeepsEarlierPhotos(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.waypoints = f.waypoints[:1]
	f.angles = []mission.PhotoAngle{
		{Name: "front", Rotation: 0},
		{Name: "left45", Rotation: -45},
		{Name: "right45", Rotation: 45},
	}
	f.settle = 150 * time.Millisecond
	orch := f.build()

	ch := start(orch, context.Background())
	waitFor(t, orch, func(s Status) bool {
		return s.State == mission.Photographing
	}, "capture sequence")
	// Let the front shot land and the turn to left45 begin settling.
	time.Sleep(40 * time.Millisecond)
	f.gesture.Store(true)
	out := finish(t, ch)

	require.Equal(t, mission.OutcomeAborted, out.Status)
	assert.Equal(t, safety.ReasonEmergencyGesture, out.Reason)
	require.Len(t, out.Artifacts, 1)
	assert.Equal(t, "front", out.Artifacts[0].Angle)
	assert.Equal(t, 315, f.sim.Heading(), "abandoned sequence leaves the heading as-is")
	assert.False(t, f.sim.Airborne())
}

func TestThreeStopMixedIdentification(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.waypoints = []mission.Waypoint{
		{Label: "bay-1", Target: mission.Position{X: 150, Y: 0, Z: 100}},
		{Label: "bay-2", Target: mission.Position{X: 150, Y: 120, Z: 100}},
		{Label: "bay-3", Target: mission.Position{X: 0, Y: 120, Z: 100}},
	}
	f.angles = []mission.PhotoAngle{
		{Name: "front", Rotation: 0},
		{Name: "left45", Rotation: -45},
		{Name: "right45", Rotation: 45},
	}
	f.detectTimeout = 60 * time.Millisecond

	// The decoder resolves stops 1 and 3 and stays silent at stop 2, which
	// must fall back to the unknown label at the timeout.
	var orch *Orchestrator
	f.decoder = detect.DecoderFunc(func(*vision.Frame) (string, bool) {
		switch orch.Status().Stop {
		case 1:
			return "STRUCT_A1", true
		case 3:
			return "STRUCT_A3", true
		default:
			return "", false
		}
	})
	orch = f.build()

	out := finish(t, start(orch, context.Background()))

	require.Equal(t, mission.OutcomeCompleted, out.Status, "reason: %s err: %v", out.Reason, out.Err)
	require.Len(t, out.Artifacts, 9, "3 stops x 3 angles")

	type shot struct {
		Stop      int
		Structure string
		Angle     string
	}
	got := make([]shot, 0, len(out.Artifacts))
	for _, a := range out.Artifacts {
		got = append(got, shot{Stop: a.Stop, Structure: a.StructureID, Angle: a.Angle})
	}
	want := []shot{
		{Stop: 1, Structure: "STRUCT_A1", Angle: "front"},
		{Stop: 1, Structure: "STRUCT_A1", Angle: "left45"},
		{Stop: 1, Structure: "STRUCT_A1", Angle: "right45"},
		{Stop: 2, Structure: "UNKNOWN", Angle: "front"},
		{Stop: 2, Structure: "UNKNOWN", Angle: "left45"},
		{Stop: 2, Structure: "UNKNOWN", Angle: "right45"},
		{Stop: 3, Structure: "STRUCT_A3", Angle: "front"},
		{Stop: 3, Structure: "STRUCT_A3", Angle: "left45"},
		{Stop: 3, Structure: "STRUCT_A3", Angle: "right45"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("artifact tags mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, mission.Idle, orch.Status().State)
	assert.Zero(t, f.sim.Heading())
	assert.False(t, f.sim.Airborne())
}

func TestRunIsSingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.waypoints = f.waypoints[:1]
	f.angles = f.angles[:1]
	f.missionID = ""
	orch := f.build()

	first := finish(t, start(orch, context.Background()))
	require.Equal(t, mission.OutcomeCompleted, first.Status, "reason: %s err: %v", first.Reason, first.Err)
	assert.NotEmpty(t, first.MissionID, "an id is assigned when none is configured")

	second := orch.Run(context.Background())
	require.Equal(t, mission.OutcomeFailed, second.Status)
	assert.Equal(t, "orchestrator reused", second.Reason)
}
