// Package flight owns all vehicle motion: the low-level command link to the
// quadcopter, an in-process simulator, and the navigator that turns mission
// waypoints into chunked relative moves. No other package issues motion
// commands.
package flight

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Vehicle motion limits, in centimeters. The airframe rejects relative
// moves outside this range, so the navigator chunks long legs and skips
// residues below the minimum.
const (
	MinMoveCm = 20
	MaxMoveCm = 500
)

// ErrNotConnected is returned for any command issued without a live link.
var ErrNotConnected = errors.New("vehicle not connected")

// CommandError reports a command the vehicle rejected or never answered.
type CommandError struct {
	Command  string
	Response string
	Err      error
}

func (e *CommandError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("command %q: %v", e.Command, e.Err)
	case e.Response != "":
		return fmt.Sprintf("command %q rejected: %q", e.Command, e.Response)
	default:
		return fmt.Sprintf("command %q failed", e.Command)
	}
}

func (e *CommandError) Unwrap() error { return e.Err }

// Controller is the low-level vehicle link. Axis moves are signed
// centimeters in the body frame: X forward, Y left, Z up. Rotation is
// degrees, clockwise positive. Implementations serialize commands; a second
// command blocks until the first completes.
//
// Every blocking call honors ctx: cancellation abandons the wait and
// returns ctx.Err(), though a command already sent may still execute on
// the vehicle.
type Controller interface {
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	// Emergency cuts the motors immediately. Last resort when Land fails.
	Emergency(ctx context.Context) error
	MoveX(ctx context.Context, cm int) error
	MoveY(ctx context.Context, cm int) error
	MoveZ(ctx context.Context, cm int) error
	RotateBy(ctx context.Context, deg int) error
	SetSpeed(ctx context.Context, cmPerSec int) error
	BatteryPercent(ctx context.Context) (int, error)
	HeightCm(ctx context.Context) (int, error)
	IsConnected() bool
}

func checkMoveRange(cm int) error {
	mag := cm
	if mag < 0 {
		mag = -mag
	}
	if mag < MinMoveCm || mag > MaxMoveCm {
		return errors.Errorf("move %dcm outside vehicle range %d..%d", cm, MinMoveCm, MaxMoveCm)
	}
	return nil
}
