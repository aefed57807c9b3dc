// Package mission holds the domain types shared by the flight, safety,
// capture and orchestration layers: waypoints, photo artifacts, detection
// results and the mission outcome record.
package mission

import (
	"fmt"
	"time"
)

// Position is a displacement from the takeoff origin, in centimeters.
// X is forward, Y is left, Z is up, matching the vehicle's body frame
// at takeoff.
type Position struct {
	X int
	Y int
	Z int
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d, %d)cm", p.X, p.Y, p.Z)
}

// Add returns p displaced by (dx, dy, dz).
func (p Position) Add(dx, dy, dz int) Position {
	return Position{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// Waypoint is one inspection stop of the mission plan.
type Waypoint struct {
	// Label names the stop in logs and operator output. Optional.
	Label string
	// Target is the stop's position relative to the takeoff origin.
	Target Position
}

func (w Waypoint) String() string {
	if w.Label == "" {
		return w.Target.String()
	}
	return fmt.Sprintf("%s %s", w.Label, w.Target)
}

// PhotoAngle is one heading offset of the capture sequence. Rotation is
// relative to the heading the vehicle had when it arrived at the stop,
// in degrees, clockwise positive.
type PhotoAngle struct {
	Name     string
	Rotation int
}

// DetectionResult is the outcome of structure identification at one stop.
type DetectionResult struct {
	// StructureID is the decoded identifier, or the configured fallback
	// label when identification timed out.
	StructureID string
	// Identified reports whether StructureID came from a real detection.
	Identified bool
}

// PhotoArtifact records one photo persisted to disk.
type PhotoArtifact struct {
	// Path is the absolute location of the saved image.
	Path string
	// StructureID tags the photographed structure (possibly the fallback label).
	StructureID string
	// Stop is the 1-based waypoint ordinal the photo was taken at.
	Stop int
	// Angle is the capture angle name, e.g. "front".
	Angle string
	// TakenAt is the capture wall-clock time.
	TakenAt time.Time
}

// OutcomeStatus classifies how a mission run ended.
type OutcomeStatus int

const (
	// OutcomeCompleted means every waypoint was visited and the vehicle
	// landed normally.
	OutcomeCompleted OutcomeStatus = iota
	// OutcomeAborted means the mission was cut short after takeoff, by a
	// safety interrupt or an unrecoverable flight fault, and the vehicle
	// was brought down.
	OutcomeAborted
	// OutcomeFailed means the mission never got airborne, or the vehicle
	// could not be brought down.
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(s))
	}
}

// Outcome is the final report of a mission run.
type Outcome struct {
	// MissionID is the run identifier, assigned at start.
	MissionID string
	Status    OutcomeStatus
	// Reason explains an abort or failure ("emergency", "obstacle",
	// "flight fault: ..."); empty for a completed run.
	Reason string
	// Artifacts lists every photo persisted before the run ended,
	// including photos from waypoints completed before an abort.
	Artifacts []PhotoArtifact
	// Err carries the terminal error for failed and fault-aborted runs.
	Err error
	// Started and Ended bound the run in wall-clock time.
	Started time.Time
	Ended   time.Time
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return fmt.Sprintf("%s, %d photo(s)", o.Status, len(o.Artifacts))
	}
	return fmt.Sprintf("%s (%s), %d photo(s)", o.Status, o.Reason, len(o.Artifacts))
}
