package mission

import "fmt"

// State is the mission phase. Exactly one state is active at a time; the
// orchestrator owns the transitions.
type State int

const (
	// Idle: on the ground, before takeoff or after a normal landing.
	Idle State = iota
	// Takeoff: liftoff and climb to working height.
	Takeoff
	// Navigating: en route to the next waypoint (or the return-home leg).
	Navigating
	// Stopping: holding position at a waypoint until stabilized.
	Stopping
	// Detecting: identifying the structure at the current stop.
	Detecting
	// Photographing: running the multi-angle capture sequence.
	Photographing
	// Landing: descending, either the normal end of the mission or a
	// forced safety landing.
	Landing
	// Failed: terminal. The mission could not start, never got airborne,
	// or the vehicle could not be brought down.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Takeoff:
		return "TAKEOFF"
	case Navigating:
		return "NAVIGATING"
	case Stopping:
		return "STOPPING"
	case Detecting:
		return "DETECTING"
	case Photographing:
		return "PHOTOGRAPHING"
	case Landing:
		return "LANDING"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// Airborne reports whether the vehicle is expected to be off the ground
// in this state.
func (s State) Airborne() bool {
	switch s {
	case Takeoff, Navigating, Stopping, Detecting, Photographing, Landing:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state can never be left.
func (s State) Terminal() bool {
	return s == Failed
}
