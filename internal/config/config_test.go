package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Flight.TakeoffHeightCm)
	assert.Equal(t, 50, cfg.Flight.MovementSpeedCmS)
	assert.Equal(t, 3, cfg.Flight.TakeoffAttempts)
	assert.Equal(t, 30, cfg.Flight.WaypointToleranceCm)
	assert.Equal(t, 2*time.Second, cfg.Flight.HoverStabilityDelay())
	assert.Equal(t, 3*time.Second, cfg.Detection.Timeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Detection.PollInterval())
	assert.Equal(t, "UNKNOWN", cfg.Detection.FallbackLabel)
	assert.Equal(t, 500*time.Millisecond, cfg.Safety.PollInterval())
	assert.InDelta(t, 0.7, cfg.Safety.GestureConfidence, 1e-9)
	assert.True(t, cfg.Safety.ObstacleEnabled)
	assert.True(t, cfg.Mission.ReturnHome)

	angles := cfg.Angles()
	require.Len(t, angles, 3)
	assert.Equal(t, mission.PhotoAngle{Name: "front", Rotation: 0}, angles[0])
	assert.Equal(t, mission.PhotoAngle{Name: "left45", Rotation: -45}, angles[1])
	assert.Equal(t, mission.PhotoAngle{Name: "right45", Rotation: 45}, angles[2])
}

func TestParseOverridesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
flight:
  takeoff_height_cm: 120
  min_battery_percent: 30
detection:
  timeout_sec: 5.5
  fallback_label: NOID
safety:
  obstacle_enabled: false
mission:
  return_home: false
  waypoints:
    - {label: rack-a, x: 200, y: 0, z: 120}
    - {x: 200, y: 150, z: 120}
`))
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Flight.TakeoffHeightCm)
	assert.Equal(t, 30, cfg.Flight.MinBatteryPercent)
	assert.Equal(t, 50, cfg.Flight.MovementSpeedCmS, "untouched fields keep defaults")
	assert.Equal(t, 5500*time.Millisecond, cfg.Detection.Timeout())
	assert.Equal(t, "NOID", cfg.Detection.FallbackLabel)
	assert.False(t, cfg.Safety.ObstacleEnabled)
	assert.True(t, cfg.Safety.GestureEnabled)
	assert.False(t, cfg.Mission.ReturnHome)

	wps := cfg.Waypoints()
	require.Len(t, wps, 2)
	assert.Equal(t, "rack-a", wps[0].Label)
	assert.Equal(t, mission.Position{X: 200, Y: 150, Z: 120}, wps[1].Target)
	assert.Equal(t, "wp2", wps[1].Label, "unlabeled waypoints get ordinal labels")
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("flight:\n  takeoff_hieght_cm: 120\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takeoff_hieght_cm")
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Flight.TakeoffHeightCm = 10
	cfg.Flight.MovementSpeedCmS = 300
	cfg.Photo.Angles = []Angle{{Name: "front", RotationDeg: 0}, {Name: "front", RotationDeg: 200}}
	cfg.Detection.TimeoutSec = 0
	cfg.Safety.GestureConfidence = 1.5
	cfg.Mission.Waypoints = []WaypointSpec{{X: 100, Y: 0, Z: 10}}
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	problems := multierr.Errors(errorsCause(err))
	assert.GreaterOrEqual(t, len(problems), 7, "every section's problem is reported: %v", err)
}

// errorsCause unwraps the "invalid config" wrapper to reach the multierr.
func errorsCause(err error) error {
	type causer interface{ Cause() error }
	if c, ok := err.(causer); ok {
		return c.Cause()
	}
	return err
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mission.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
photo:
  output_dir: /tmp/inspection-photos
  jpeg_quality: 75
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/inspection-photos", cfg.Photo.OutputDir)
	assert.Equal(t, 75, cfg.Photo.JPEGQuality)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWaypointsStandalonePlan(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "waypoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
return_home: true
waypoints:
  - {label: conveyor, x: 300, y: 0, z: 110}
  - {label: press, x: 300, y: 200, z: 110}
`), 0o644))

	m, err := LoadWaypoints(path)
	require.NoError(t, err)
	assert.True(t, m.ReturnHome)
	require.Len(t, m.Waypoints, 2)
	assert.Equal(t, WaypointSpec{Label: "press", X: 300, Y: 200, Z: 110}, m.Waypoints[1])
}

func TestLoadWaypointsRejectsBadPlans(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("return_home: true\n"), 0o644))
	_, err := LoadWaypoints(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no waypoints")

	low := filepath.Join(dir, "low.yaml")
	require.NoError(t, os.WriteFile(low, []byte("waypoints:\n  - {x: 100, y: 0, z: 10}\n"), 0o644))
	_, err = LoadWaypoints(low)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum flight height")

	_, err = LoadWaypoints(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateAngleBounds(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Photo.Angles = nil
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Photo.Angles = []Angle{{Name: "spin", RotationDeg: 270}}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Detection.PollIntervalMs = 10_000
	assert.Error(t, cfg.Validate(), "poll interval longer than timeout")
}
