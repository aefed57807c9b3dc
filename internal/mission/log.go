package mission

import (
	"fmt"
	"time"
)

// Log entry kinds.
const (
	// LogTransition records a state change.
	LogTransition = "transition"
	// LogEvent records a noteworthy in-state occurrence (waypoint reached,
	// structure identified, photo saved).
	LogEvent = "event"
	// LogWarning records a recoverable anomaly (skipped angle, frame loss).
	LogWarning = "warning"
	// LogAbort records the trigger of a forced landing.
	LogAbort = "abort"
)

// LogEntry is one line of the append-only mission record.
type LogEntry struct {
	// Seq orders entries within a run; assigned by the recorder.
	Seq int
	// Time is the wall-clock time of the occurrence.
	Time time.Time
	// Kind is one of the Log* constants.
	Kind string
	// State names the mission state the entry was produced in (for
	// transitions, the state being entered).
	State string
	// Detail is the human-readable description.
	Detail string
}

func (e LogEntry) String() string {
	return fmt.Sprintf("#%d %s [%s/%s] %s",
		e.Seq, e.Time.Format(time.RFC3339), e.Kind, e.State, e.Detail)
}

// TransitionEntry builds a state-change entry. Seq is left for the recorder.
func TransitionEntry(at time.Time, from, to State, cause string) LogEntry {
	return LogEntry{
		Time:   at,
		Kind:   LogTransition,
		State:  to.String(),
		Detail: fmt.Sprintf("%s -> %s: %s", from, to, cause),
	}
}
