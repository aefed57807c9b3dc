package flight

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

// NavConfig tunes the navigator.
type NavConfig struct {
	// TakeoffHeightCm is the working height to settle at after liftoff.
	TakeoffHeightCm int
	// SpeedCmS is sent to the vehicle before liftoff.
	SpeedCmS int
	// ToleranceCm is the acceptable per-axis arrival error. The vehicle
	// cannot fly moves under MinMoveCm, so the effective tolerance never
	// drops below MinMoveCm-1.
	ToleranceCm int
	// InterMoveDelay is the pause between chunked moves of one leg.
	InterMoveDelay time.Duration
	// TakeoffAttempts is how many liftoff tries are made before giving up.
	TakeoffAttempts int
}

// Navigator executes the mission plan: liftoff to working height, chunked
// relative moves to each waypoint, the return-home leg, and landing. It
// dead-reckons position from the takeoff origin; the reckoning is updated
// per executed chunk, so a failed leg still leaves the position honest.
//
// Navigator methods are not reentrant. One goroutine flies the mission;
// Position and Remaining may be read from others.
type Navigator struct {
	ctrl   Controller
	clk    clock.Clock
	logger golog.Logger
	cfg    NavConfig

	mu    sync.Mutex
	pos   mission.Position
	aloft bool
	plan  []mission.Waypoint
	next  int
}

// NewNavigator wires a navigator to a vehicle.
func NewNavigator(ctrl Controller, clk clock.Clock, logger golog.Logger, cfg NavConfig) *Navigator {
	if cfg.TakeoffAttempts < 1 {
		cfg.TakeoffAttempts = 1
	}
	return &Navigator{ctrl: ctrl, clk: clk, logger: logger, cfg: cfg}
}

// LoadPlan installs the waypoint list for this run. Resets progress.
func (n *Navigator) LoadPlan(wps []mission.Waypoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plan = make([]mission.Waypoint, len(wps))
	copy(n.plan, wps)
	n.next = 0
}

// HasNext reports whether unvisited waypoints remain.
func (n *Navigator) HasNext() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next < len(n.plan)
}

// Remaining returns the count of unvisited waypoints.
func (n *Navigator) Remaining() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.plan) - n.next
}

// Position returns the dead-reckoned position relative to takeoff.
func (n *Navigator) Position() mission.Position {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pos
}

// Airborne reports whether the navigator believes the vehicle is flying.
func (n *Navigator) Airborne() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aloft
}

// Connected reports the vehicle link state.
func (n *Navigator) Connected() bool { return n.ctrl.IsConnected() }

// Battery queries the vehicle battery percentage.
func (n *Navigator) Battery(ctx context.Context) (int, error) {
	return n.ctrl.BatteryPercent(ctx)
}

// Takeoff lifts off and climbs to the configured working height. The
// origin of the position reckoning is the point directly under the vehicle
// at liftoff, at ground level.
func (n *Navigator) Takeoff(ctx context.Context) error {
	if err := n.ctrl.SetSpeed(ctx, n.cfg.SpeedCmS); err != nil {
		return errors.Wrap(err, "set speed")
	}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.TakeoffAttempts; attempt++ {
		lastErr = n.ctrl.Takeoff(ctx)
		if lastErr == nil {
			break
		}
		n.logger.Warnw("takeoff attempt failed",
			"attempt", attempt, "of", n.cfg.TakeoffAttempts, "error", lastErr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return errors.Wrap(lastErr, "takeoff")
	}

	n.mu.Lock()
	n.aloft = true
	n.pos = mission.Position{}
	n.mu.Unlock()

	// The airframe lifts to its own default height; measure it and adjust
	// up or down to the working height.
	h, err := n.ctrl.HeightCm(ctx)
	if err != nil {
		n.logger.Warnw("height query failed after takeoff, assuming working height", "error", err)
		h = n.cfg.TakeoffHeightCm
	}
	n.setZ(h)
	if err := n.moveAxis(ctx, axisZ, n.cfg.TakeoffHeightCm-h); err != nil {
		return errors.Wrap(err, "climb to working height")
	}
	n.logger.Infow("airborne", "height_cm", n.Position().Z)
	return nil
}

// NavigateNext flies to the next waypoint of the plan and consumes it.
// The returned waypoint is the one flown to, also on error.
func (n *Navigator) NavigateNext(ctx context.Context) (mission.Waypoint, error) {
	n.mu.Lock()
	if n.next >= len(n.plan) {
		n.mu.Unlock()
		return mission.Waypoint{}, errors.New("no waypoints remain")
	}
	wp := n.plan[n.next]
	n.next++
	n.mu.Unlock()

	n.logger.Infow("navigating", "waypoint", wp.String(), "from", n.Position().String())
	if err := n.moveTo(ctx, wp.Target); err != nil {
		return wp, errors.Wrapf(err, "navigate to %s", wp)
	}
	n.logger.Infow("waypoint reached", "waypoint", wp.String())
	return wp, nil
}

// ReturnHome flies back above the takeoff origin at the current height.
func (n *Navigator) ReturnHome(ctx context.Context) error {
	target := mission.Position{Z: n.Position().Z}
	n.logger.Infow("returning home", "from", n.Position().String())
	if err := n.moveTo(ctx, target); err != nil {
		return errors.Wrap(err, "return home")
	}
	return nil
}

// Land performs a normal landing.
func (n *Navigator) Land(ctx context.Context) error {
	if err := n.ctrl.Land(ctx); err != nil {
		return errors.Wrap(err, "land")
	}
	n.grounded()
	n.logger.Infow("landed")
	return nil
}

// EmergencyLand brings the vehicle down as fast as possible: a normal land
// first, motor cutoff if that fails.
func (n *Navigator) EmergencyLand(ctx context.Context) error {
	landErr := n.ctrl.Land(ctx)
	if landErr == nil {
		n.grounded()
		n.logger.Infow("emergency landing complete")
		return nil
	}
	n.logger.Errorw("landing failed, cutting motors", "error", landErr)
	if emErr := n.ctrl.Emergency(ctx); emErr != nil {
		return multierr.Combine(
			errors.Wrap(landErr, "land"),
			errors.Wrap(emErr, "emergency stop"),
		)
	}
	n.grounded()
	return nil
}

// RotateBy turns the vehicle in place. Used by the photo sequencer.
func (n *Navigator) RotateBy(ctx context.Context, deg int) error {
	return n.ctrl.RotateBy(ctx, deg)
}

type axis int

const (
	axisX axis = iota
	axisY
	axisZ
)

func (a axis) String() string {
	return [...]string{"x", "y", "z"}[a]
}

// moveTo flies a straight-line decomposition to target: height first for
// clearance, then X, then Y.
func (n *Navigator) moveTo(ctx context.Context, target mission.Position) error {
	cur := n.Position()
	legs := []struct {
		ax    axis
		delta int
	}{
		{axisZ, target.Z - cur.Z},
		{axisX, target.X - cur.X},
		{axisY, target.Y - cur.Y},
	}
	for _, leg := range legs {
		if err := n.moveAxis(ctx, leg.ax, leg.delta); err != nil {
			return err
		}
	}

	tol := n.cfg.ToleranceCm
	if tol < MinMoveCm-1 {
		tol = MinMoveCm - 1
	}
	got := n.Position()
	if abs(got.X-target.X) > tol || abs(got.Y-target.Y) > tol || abs(got.Z-target.Z) > tol {
		return errors.Errorf("arrived at %s, target %s exceeds %dcm tolerance", got, target, tol)
	}
	return nil
}

// moveAxis flies delta centimeters along one axis in MaxMoveCm chunks.
// A residue shorter than MinMoveCm is skipped; the vehicle cannot fly it.
func (n *Navigator) moveAxis(ctx context.Context, ax axis, delta int) error {
	if abs(delta) < MinMoveCm {
		if delta != 0 {
			n.logger.Debugw("skipping sub-minimum move", "axis", ax.String(), "cm", delta)
		}
		return nil
	}

	remaining := delta
	for abs(remaining) >= MinMoveCm {
		chunk := remaining
		if chunk > MaxMoveCm {
			chunk = MaxMoveCm
		} else if chunk < -MaxMoveCm {
			chunk = -MaxMoveCm
		}

		var err error
		switch ax {
		case axisX:
			err = n.ctrl.MoveX(ctx, chunk)
		case axisY:
			err = n.ctrl.MoveY(ctx, chunk)
		case axisZ:
			err = n.ctrl.MoveZ(ctx, chunk)
		}
		if err != nil {
			return errors.Wrapf(err, "move %s %dcm", ax, chunk)
		}
		n.advance(ax, chunk)
		remaining -= chunk

		if abs(remaining) >= MinMoveCm && n.cfg.InterMoveDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-n.clk.After(n.cfg.InterMoveDelay):
			}
		}
	}
	if remaining != 0 {
		n.logger.Debugw("skipping sub-minimum residue", "axis", ax.String(), "cm", remaining)
	}
	return nil
}

func (n *Navigator) advance(ax axis, cm int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch ax {
	case axisX:
		n.pos.X += cm
	case axisY:
		n.pos.Y += cm
	case axisZ:
		n.pos.Z += cm
	}
}

func (n *Navigator) setZ(z int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pos.Z = z
}

func (n *Navigator) grounded() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aloft = false
	n.pos.Z = 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
