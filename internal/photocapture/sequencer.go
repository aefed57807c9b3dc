// Package photocapture runs the multi-angle photo sequence at an inspection
// stop: rotate to each configured offset, settle, shoot, persist, and always
// restore the arrival heading afterwards so navigation dead reckoning stays
// valid. A preempting abort is the one exception: the forced landing that
// follows does not care about heading.
package photocapture

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// Rotator turns the vehicle in place. Degrees are clockwise positive,
// relative to the current heading.
type Rotator interface {
	RotateBy(ctx context.Context, deg int) error
}

// Store persists one captured frame and reports the artifact written.
type Store interface {
	Save(f *vision.Frame, structureID string, stop int, angle string) (mission.PhotoArtifact, error)
}

// HeadingRestoreError means the vehicle is stuck off its arrival heading.
// Navigation cannot continue; the caller must force a landing.
type HeadingRestoreError struct {
	Degrees int
	Err     error
}

func (e *HeadingRestoreError) Error() string {
	return fmt.Sprintf("heading restore by %d degrees failed: %v", e.Degrees, e.Err)
}

func (e *HeadingRestoreError) Unwrap() error { return e.Err }

// SkippedAngle records one angle that produced no photo.
type SkippedAngle struct {
	Angle  string
	Reason string
}

// Result is the outcome of one capture sequence. Artifacts and Skipped
// partition the configured angles, except when the sequence was cut short
// by preemption.
type Result struct {
	Artifacts []mission.PhotoArtifact
	Skipped   []SkippedAngle
}

// Sequencer captures the configured angle set at each stop.
type Sequencer struct {
	rot    Rotator
	store  Store
	src    vision.Source
	angles []mission.PhotoAngle
	settle time.Duration
	clk    clock.Clock
	logger golog.Logger
}

// NewSequencer wires the capture sequence.
func NewSequencer(rot Rotator, store Store, src vision.Source, angles []mission.PhotoAngle,
	settle time.Duration, clk clock.Clock, logger golog.Logger) *Sequencer {
	return &Sequencer{
		rot:    rot,
		store:  store,
		src:    src,
		angles: angles,
		settle: settle,
		clk:    clk,
		logger: logger,
	}
}

// CaptureAllAngles runs the sequence for one stop. Rotation offsets are
// relative to the heading at entry; cumulative rotation is tracked by
// rotations performed, so a failed shot after a successful turn still
// restores correctly.
//
// Per-angle failures (rotation refused, frame loss, write error) skip the
// angle and continue. The returned error is non-nil only when the sequence
// cannot leave the vehicle in a sound state: ctx was cancelled (heading is
// NOT restored; the caller is force-landing), or the final rotate-back
// failed.
func (s *Sequencer) CaptureAllAngles(ctx context.Context, structureID string, stop int) (Result, error) {
	var res Result
	heading := 0

	s.logger.Infow("starting capture sequence",
		"structure", structureID, "stop", stop, "angles", len(s.angles))

	for _, angle := range s.angles {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if delta := angle.Rotation - heading; delta != 0 {
			if err := s.rot.RotateBy(ctx, delta); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Skipped = append(res.Skipped, SkippedAngle{
					Angle:  angle.Name,
					Reason: fmt.Sprintf("rotation failed: %v", err),
				})
				s.logger.Warnw("angle skipped", "angle", angle.Name, "error", err)
				continue
			}
			heading = angle.Rotation
			if err := s.settleWait(ctx); err != nil {
				return res, err
			}
		}

		frame, ok := s.src.NextFrame()
		if !ok {
			res.Skipped = append(res.Skipped, SkippedAngle{Angle: angle.Name, Reason: "no frame available"})
			s.logger.Warnw("angle skipped, no frame", "angle", angle.Name)
			continue
		}

		art, err := s.store.Save(frame, structureID, stop, angle.Name)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedAngle{
				Angle:  angle.Name,
				Reason: fmt.Sprintf("save failed: %v", err),
			})
			s.logger.Warnw("angle skipped, save failed", "angle", angle.Name, "error", err)
			continue
		}
		res.Artifacts = append(res.Artifacts, art)
		s.logger.Debugw("angle captured", "angle", angle.Name, "path", art.Path)
	}

	if heading != 0 {
		if err := s.rot.RotateBy(ctx, -heading); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, &HeadingRestoreError{Degrees: -heading, Err: err}
		}
	}

	s.logger.Infow("capture sequence complete",
		"captured", len(res.Artifacts), "of", len(s.angles), "skipped", len(res.Skipped))
	return res, nil
}

// SkipReasons joins the skip reasons into one error for diagnostics.
func (r Result) SkipReasons() error {
	var errs error
	for _, sk := range r.Skipped {
		errs = multierr.Append(errs, errors.Errorf("%s: %s", sk.Angle, sk.Reason))
	}
	return errs
}

func (s *Sequencer) settleWait(ctx context.Context) error {
	if s.settle <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clk.After(s.settle):
		return nil
	}
}
