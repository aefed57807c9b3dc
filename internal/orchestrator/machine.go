package orchestrator

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

// event names something that happened to the mission and may move it to
// another state.
type event int

const (
	evStart event = iota
	evPreflightFailed
	evLiftoff
	evLiftoffFailed
	evArrived
	evRouteExhausted
	evSettled
	evIdentified
	evDetectTimeout
	evPhotosDone
	evInterrupted
	evFlightFault
	evLanded
	evLandFailed
)

func (e event) String() string {
	switch e {
	case evStart:
		return "start"
	case evPreflightFailed:
		return "preflight failed"
	case evLiftoff:
		return "liftoff"
	case evLiftoffFailed:
		return "liftoff failed"
	case evArrived:
		return "arrived"
	case evRouteExhausted:
		return "route exhausted"
	case evSettled:
		return "settled"
	case evIdentified:
		return "identified"
	case evDetectTimeout:
		return "detect timeout"
	case evPhotosDone:
		return "photos done"
	case evInterrupted:
		return "interrupted"
	case evFlightFault:
		return "flight fault"
	case evLanded:
		return "landed"
	case evLandFailed:
		return "land failed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transition is one recorded state change.
type transition struct {
	From  mission.State
	To    mission.State
	Cause string
}

// edges is the full transition relation. A state/event pair absent here is
// illegal and apply rejects it. LANDING accepts no interrupt: a landing
// already in progress is not preemptable, later triggers are dropped by
// the runner.
var edges = map[mission.State]map[event]mission.State{
	mission.Idle: {
		evStart:           mission.Takeoff,
		evPreflightFailed: mission.Failed,
	},
	mission.Takeoff: {
		evLiftoff:       mission.Navigating,
		evLiftoffFailed: mission.Failed,
		evInterrupted:   mission.Landing,
		evFlightFault:   mission.Landing,
	},
	mission.Navigating: {
		evArrived:        mission.Stopping,
		evRouteExhausted: mission.Landing,
		evInterrupted:    mission.Landing,
		evFlightFault:    mission.Landing,
	},
	mission.Stopping: {
		evSettled:     mission.Detecting,
		evInterrupted: mission.Landing,
	},
	mission.Detecting: {
		evIdentified:    mission.Photographing,
		evDetectTimeout: mission.Photographing,
		evInterrupted:   mission.Landing,
	},
	mission.Photographing: {
		evPhotosDone:  mission.Navigating,
		evInterrupted: mission.Landing,
		evFlightFault: mission.Landing,
	},
	mission.Landing: {
		evLanded:     mission.Idle,
		evLandFailed: mission.Failed,
	},
}

// machine tracks the mission state and enforces the transition relation.
// Not safe for concurrent use; the runner owns it.
type machine struct {
	cur mission.State
}

func newMachine() *machine {
	return &machine{cur: mission.Idle}
}

func (m *machine) state() mission.State { return m.cur }

// apply moves the machine along the edge for ev and returns the recorded
// transition. The machine does not move when the pair is illegal.
func (m *machine) apply(ev event, cause string) (transition, error) {
	next, ok := edges[m.cur][ev]
	if !ok {
		return transition{}, errors.Errorf("no transition from %s on %q", m.cur, ev)
	}
	tr := transition{From: m.cur, To: next, Cause: cause}
	m.cur = next
	return tr, nil
}
