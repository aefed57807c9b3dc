// Package config defines the operator-facing YAML configuration and its
// defaults. Loading never partially applies: a file either parses and
// validates as a whole or the previous configuration stands.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

// Config is the full mission configuration tree.
type Config struct {
	Flight    Flight    `yaml:"flight"`
	Photo     Photo     `yaml:"photo"`
	Detection Detection `yaml:"detection"`
	Safety    Safety    `yaml:"safety"`
	Mission   Mission   `yaml:"mission"`
	Logging   Logging   `yaml:"logging"`
}

// Flight tunes the vehicle and navigation layer.
type Flight struct {
	TakeoffHeightCm     int     `yaml:"takeoff_height_cm"`
	MovementSpeedCmS    int     `yaml:"movement_speed_cm_s"`
	HoverStabilitySec   float64 `yaml:"hover_stability_delay_sec"`
	TakeoffAttempts     int     `yaml:"takeoff_attempts"`
	WaypointToleranceCm int     `yaml:"waypoint_tolerance_cm"`
	MinBatteryPercent   int     `yaml:"min_battery_percent"`
	InterMoveDelaySec   float64 `yaml:"inter_move_delay_sec"`
	CommandTimeoutSec   float64 `yaml:"command_timeout_sec"`
}

// HoverStabilityDelay is the settle time after arriving at a waypoint.
func (f Flight) HoverStabilityDelay() time.Duration {
	return secs(f.HoverStabilitySec)
}

// InterMoveDelay is the pause between chunked movement commands.
func (f Flight) InterMoveDelay() time.Duration {
	return secs(f.InterMoveDelaySec)
}

// CommandTimeout bounds a single vehicle command round trip.
func (f Flight) CommandTimeout() time.Duration {
	return secs(f.CommandTimeoutSec)
}

// Angle is one entry of the capture sequence.
type Angle struct {
	Name        string `yaml:"name"`
	RotationDeg int    `yaml:"rotation_deg"`
}

// Photo tunes the multi-angle capture sequence.
type Photo struct {
	Angles          []Angle `yaml:"angles"`
	RotateSettleSec float64 `yaml:"rotate_settle_sec"`
	OutputDir       string  `yaml:"output_dir"`
	JPEGQuality     int     `yaml:"jpeg_quality"`
}

// RotateSettleDelay is the stabilization pause after each rotation before
// the shutter fires.
func (p Photo) RotateSettleDelay() time.Duration {
	return secs(p.RotateSettleSec)
}

// Detection tunes structure identification at each stop.
type Detection struct {
	TimeoutSec     float64 `yaml:"timeout_sec"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	FallbackLabel  string  `yaml:"fallback_label"`
}

func (d Detection) Timeout() time.Duration      { return secs(d.TimeoutSec) }
func (d Detection) PollInterval() time.Duration { return millis(d.PollIntervalMs) }

// Safety tunes the concurrent safety monitor.
type Safety struct {
	PollIntervalMs        int     `yaml:"poll_interval_ms"`
	ObstacleEnabled       bool    `yaml:"obstacle_enabled"`
	ObstacleCoverageRatio float64 `yaml:"obstacle_coverage_ratio"`
	ObstacleEdgeThreshold float64 `yaml:"obstacle_edge_threshold"`
	GestureEnabled        bool    `yaml:"gesture_enabled"`
	GestureConfidence     float64 `yaml:"gesture_confidence"`
	FrameMaxAgeMs         int     `yaml:"frame_max_age_ms"`
	AbortOnDegraded       bool    `yaml:"abort_on_degraded"`
}

func (s Safety) PollInterval() time.Duration { return millis(s.PollIntervalMs) }
func (s Safety) FrameMaxAge() time.Duration  { return millis(s.FrameMaxAgeMs) }

// WaypointSpec is one stop of the operator's mission plan, in centimeters
// relative to the takeoff origin.
type WaypointSpec struct {
	Label string `yaml:"label"`
	X     int    `yaml:"x"`
	Y     int    `yaml:"y"`
	Z     int    `yaml:"z"`
}

// Mission is the flight plan itself. It can live inside the main config
// file or in a standalone plan document loaded with LoadWaypoints.
type Mission struct {
	ReturnHome bool           `yaml:"return_home"`
	Waypoints  []WaypointSpec `yaml:"waypoints"`
}

func (m Mission) validate() error {
	var errs error
	for i, w := range m.Waypoints {
		if w.Z < 30 {
			errs = multierr.Append(errs, fmt.Errorf("mission.waypoints[%d] z=%dcm below minimum flight height 30cm", i, w.Z))
		}
	}
	return errs
}

// Logging selects the log level and output shape.
type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when a field (or the whole file)
// is absent. Values match the reference vehicle: a Tello-class quadcopter
// inspecting at 1m working height.
func Default() Config {
	return Config{
		Flight: Flight{
			TakeoffHeightCm:     100,
			MovementSpeedCmS:    50,
			HoverStabilitySec:   2.0,
			TakeoffAttempts:     3,
			WaypointToleranceCm: 30,
			MinBatteryPercent:   20,
			InterMoveDelaySec:   0.5,
			CommandTimeoutSec:   10.0,
		},
		Photo: Photo{
			Angles: []Angle{
				{Name: "front", RotationDeg: 0},
				{Name: "left45", RotationDeg: -45},
				{Name: "right45", RotationDeg: 45},
			},
			RotateSettleSec: 1.0,
			OutputDir:       "photos",
			JPEGQuality:     90,
		},
		Detection: Detection{
			TimeoutSec:     3.0,
			PollIntervalMs: 100,
			FallbackLabel:  "UNKNOWN",
		},
		Safety: Safety{
			PollIntervalMs:        500,
			ObstacleEnabled:       true,
			ObstacleCoverageRatio: 0.3,
			ObstacleEdgeThreshold: 0.25,
			GestureEnabled:        true,
			GestureConfidence:     0.7,
			FrameMaxAgeMs:         1000,
			AbortOnDegraded:       false,
		},
		Mission: Mission{
			ReturnHome: true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads and validates the YAML file at path, applied over Default.
// Unknown keys are rejected so a typoed field cannot silently fall back.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// LoadWaypoints reads a standalone flight plan document: `return_home`
// plus the ordered `waypoints` list. It replaces the mission section of
// the main config when the operator keeps the two files separate.
func LoadWaypoints(path string) (Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mission{}, errors.Wrap(err, "read waypoints")
	}
	var m Mission
	if err := unmarshalStrict(data, &m); err != nil {
		return Mission{}, errors.Wrapf(err, "waypoints %s", path)
	}
	if len(m.Waypoints) == 0 {
		return Mission{}, errors.Errorf("waypoints %s: no waypoints listed", path)
	}
	if err := m.validate(); err != nil {
		return Mission{}, errors.Wrapf(err, "waypoints %s", path)
	}
	return m, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := unmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unmarshalStrict(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(v)
	if err == io.EOF {
		// An empty file keeps the defaults.
		return nil
	}
	return err
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var errs error

	f := c.Flight
	if f.TakeoffHeightCm < 30 || f.TakeoffHeightCm > 500 {
		errs = multierr.Append(errs, fmt.Errorf("flight.takeoff_height_cm %d outside 30..500", f.TakeoffHeightCm))
	}
	if f.MovementSpeedCmS < 10 || f.MovementSpeedCmS > 100 {
		errs = multierr.Append(errs, fmt.Errorf("flight.movement_speed_cm_s %d outside 10..100", f.MovementSpeedCmS))
	}
	if f.HoverStabilitySec < 0 {
		errs = multierr.Append(errs, fmt.Errorf("flight.hover_stability_delay_sec %v negative", f.HoverStabilitySec))
	}
	if f.TakeoffAttempts < 1 {
		errs = multierr.Append(errs, fmt.Errorf("flight.takeoff_attempts %d must be at least 1", f.TakeoffAttempts))
	}
	if f.WaypointToleranceCm < 0 {
		errs = multierr.Append(errs, fmt.Errorf("flight.waypoint_tolerance_cm %d negative", f.WaypointToleranceCm))
	}
	if f.MinBatteryPercent < 0 || f.MinBatteryPercent > 100 {
		errs = multierr.Append(errs, fmt.Errorf("flight.min_battery_percent %d outside 0..100", f.MinBatteryPercent))
	}
	if f.CommandTimeoutSec <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("flight.command_timeout_sec %v must be positive", f.CommandTimeoutSec))
	}

	p := c.Photo
	if len(p.Angles) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("photo.angles must list at least one angle"))
	}
	seen := map[string]bool{}
	for i, a := range p.Angles {
		if a.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("photo.angles[%d] has no name", i))
			continue
		}
		if seen[a.Name] {
			errs = multierr.Append(errs, fmt.Errorf("photo.angles name %q duplicated", a.Name))
		}
		seen[a.Name] = true
		if a.RotationDeg < -180 || a.RotationDeg > 180 {
			errs = multierr.Append(errs, fmt.Errorf("photo.angles %q rotation %d outside -180..180", a.Name, a.RotationDeg))
		}
	}
	if p.OutputDir == "" {
		errs = multierr.Append(errs, fmt.Errorf("photo.output_dir must not be empty"))
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		errs = multierr.Append(errs, fmt.Errorf("photo.jpeg_quality %d outside 1..100", p.JPEGQuality))
	}
	if p.RotateSettleSec < 0 {
		errs = multierr.Append(errs, fmt.Errorf("photo.rotate_settle_sec %v negative", p.RotateSettleSec))
	}

	d := c.Detection
	if d.TimeoutSec <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("detection.timeout_sec %v must be positive", d.TimeoutSec))
	}
	if d.PollIntervalMs <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("detection.poll_interval_ms %d must be positive", d.PollIntervalMs))
	}
	if d.PollInterval() > d.Timeout() {
		errs = multierr.Append(errs, fmt.Errorf("detection.poll_interval_ms %d exceeds timeout", d.PollIntervalMs))
	}
	if d.FallbackLabel == "" {
		errs = multierr.Append(errs, fmt.Errorf("detection.fallback_label must not be empty"))
	}

	s := c.Safety
	if s.PollIntervalMs <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("safety.poll_interval_ms %d must be positive", s.PollIntervalMs))
	}
	if s.ObstacleCoverageRatio <= 0 || s.ObstacleCoverageRatio > 1 {
		errs = multierr.Append(errs, fmt.Errorf("safety.obstacle_coverage_ratio %v outside (0,1]", s.ObstacleCoverageRatio))
	}
	if s.ObstacleEdgeThreshold <= 0 || s.ObstacleEdgeThreshold >= 1 {
		errs = multierr.Append(errs, fmt.Errorf("safety.obstacle_edge_threshold %v outside (0,1)", s.ObstacleEdgeThreshold))
	}
	if s.GestureConfidence <= 0 || s.GestureConfidence > 1 {
		errs = multierr.Append(errs, fmt.Errorf("safety.gesture_confidence %v outside (0,1]", s.GestureConfidence))
	}
	if s.FrameMaxAgeMs < 0 {
		errs = multierr.Append(errs, fmt.Errorf("safety.frame_max_age_ms %d negative", s.FrameMaxAgeMs))
	}

	errs = multierr.Append(errs, c.Mission.validate())

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.level %q not one of debug, info, warn, error", c.Logging.Level))
	}

	return errors.Wrap(errs, "invalid config")
}

// Waypoints converts the plan to domain waypoints, preserving order.
func (c Config) Waypoints() []mission.Waypoint {
	wps := make([]mission.Waypoint, 0, len(c.Mission.Waypoints))
	for i, w := range c.Mission.Waypoints {
		label := w.Label
		if label == "" {
			label = fmt.Sprintf("wp%d", i+1)
		}
		wps = append(wps, mission.Waypoint{
			Label:  label,
			Target: mission.Position{X: w.X, Y: w.Y, Z: w.Z},
		})
	}
	return wps
}

// Angles converts the capture sequence to domain angles, preserving order.
func (c Config) Angles() []mission.PhotoAngle {
	out := make([]mission.PhotoAngle, 0, len(c.Photo.Angles))
	for _, a := range c.Photo.Angles {
		out = append(out, mission.PhotoAngle{Name: a.Name, Rotation: a.RotationDeg})
	}
	return out
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
