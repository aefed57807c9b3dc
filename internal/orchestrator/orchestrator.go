// Package orchestrator drives an inspection mission through its states. It
// owns the state machine, runs each flight phase to completion while
// watching the safety monitor, and turns the result into a mission outcome
// record. A safety interrupt observed at the same moment a phase finishes
// wins: the mission aborts.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	uatomic "go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/detect"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/flight"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/missionlog"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/photocapture"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/safety"
	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// ReasonOperatorCancel is the abort reason recorded when the run context
// is canceled from outside, typically by a signal.
const ReasonOperatorCancel = "operator cancel"

// landingTimeout bounds the final landing phase. Landing runs on its own
// context so that the cancellation that aborted the mission cannot also
// strand the vehicle airborne.
const landingTimeout = 30 * time.Second

// Config holds the orchestration knobs. Flight and capture behavior is
// configured on the collaborators themselves.
type Config struct {
	// MissionID identifies the run; a fresh UUID is assigned when empty.
	MissionID string
	// MinBatteryPct is the preflight battery floor.
	MinBatteryPct int
	// HoverStability is how long the vehicle hovers at a stop before
	// identification starts.
	HoverStability time.Duration
	// DetectTimeout bounds structure identification at each stop; on
	// expiry FallbackLabel is used instead.
	DetectTimeout time.Duration
	// DetectPoll is the cadence at which identification results are
	// checked.
	DetectPoll time.Duration
	// FallbackLabel tags photos when no structure was identified.
	FallbackLabel string
	// ReturnHome flies back above the takeoff origin before landing.
	ReturnHome bool
}

// Deps bundles the collaborators a mission run needs. Monitor, Ident and
// Rec are optional: without a monitor nothing can interrupt the mission,
// without an identifier every stop uses the fallback label, and without a
// recorder entries go to an in-memory log.
type Deps struct {
	Nav     *flight.Navigator
	Monitor *safety.Monitor
	Ident   *detect.Identifier
	Camera  vision.Source
	Seq     *photocapture.Sequencer
	Rec     missionlog.Recorder
	Clock   clock.Clock
	Logger  golog.Logger
}

// Status is a point-in-time snapshot of mission progress.
type Status struct {
	State     mission.State
	Waypoint  string
	Stop      int
	Structure string
	Artifacts int
}

// Orchestrator runs a single inspection mission.
type Orchestrator struct {
	nav     *flight.Navigator
	monitor *safety.Monitor
	ident   *detect.Identifier
	camera  vision.Source
	seq     *photocapture.Sequencer
	rec     missionlog.Recorder
	clk     clock.Clock
	logger  golog.Logger
	cfg     Config

	mach *machine
	ran  uatomic.Bool

	mu     sync.Mutex
	status Status
}

func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Rec == nil {
		deps.Rec = missionlog.NewMemory()
	}
	if cfg.DetectPoll <= 0 {
		cfg.DetectPoll = 100 * time.Millisecond
	}
	return &Orchestrator{
		nav:     deps.Nav,
		monitor: deps.Monitor,
		ident:   deps.Ident,
		camera:  deps.Camera,
		seq:     deps.Seq,
		rec:     deps.Rec,
		clk:     deps.Clock,
		logger:  deps.Logger,
		cfg:     cfg,
		mach:    newMachine(),
	}
}

// Status returns a snapshot of the current mission progress. Safe to call
// from any goroutine while Run is in flight.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// runState is the bookkeeping a single Run threads through its phases.
type runState struct {
	stop      int
	structure string
	artifacts []mission.PhotoArtifact
	homeDone  bool

	// Verdict, set once by the first terminal cause. forced selects the
	// emergency landing path.
	forced bool
	status mission.OutcomeStatus
	reason string
	err    error
}

// Run executes the mission to completion and reports the outcome. It
// blocks until the vehicle is back on the ground (or the run failed before
// liftoff) and can be called once per Orchestrator.
//
// Canceling ctx aborts the mission; the landing still runs on its own
// context.
func (o *Orchestrator) Run(ctx context.Context) mission.Outcome {
	if !o.ran.CompareAndSwap(false, true) {
		return mission.Outcome{
			MissionID: o.cfg.MissionID,
			Status:    mission.OutcomeFailed,
			Reason:    "orchestrator reused",
			Err:       errors.New("an orchestrator runs one mission"),
			Started:   o.clk.Now(),
			Ended:     o.clk.Now(),
		}
	}

	id := o.cfg.MissionID
	if id == "" {
		id = uuid.NewString()
	}
	out := mission.Outcome{MissionID: id, Started: o.clk.Now()}
	o.logger.Infow("mission starting", "id", id, "waypoints", o.nav.Remaining())

	if err := o.preflight(ctx); err != nil {
		o.applyEv(evPreflightFailed, err.Error())
		o.recordAbort("preflight failed: " + err.Error())
		o.logger.Errorw("preflight failed", "error", err)
		out.Status, out.Reason, out.Err = mission.OutcomeFailed, "preflight failed", err
		out.Ended = o.clk.Now()
		return out
	}

	if o.monitor != nil {
		if err := o.monitor.Start(ctx); err != nil {
			o.applyEv(evPreflightFailed, err.Error())
			out.Status, out.Reason, out.Err = mission.OutcomeFailed, "safety monitor unavailable", err
			out.Ended = o.clk.Now()
			return out
		}
		defer o.monitor.Stop()
	}

	o.applyEv(evStart, "preflight passed")

	rs := &runState{status: mission.OutcomeCompleted}
	o.takeoffStep(ctx, rs)
	if o.mach.state() == mission.Failed {
		out.Status, out.Reason, out.Err = rs.status, rs.reason, rs.err
		out.Ended = o.clk.Now()
		return out
	}

loop:
	for {
		switch o.mach.state() {
		case mission.Navigating:
			o.navigate(ctx, rs)
		case mission.Stopping:
			o.hoverStep(ctx, rs)
		case mission.Detecting:
			o.detectStep(ctx, rs)
		case mission.Photographing:
			o.photographStep(ctx, rs)
		default:
			break loop
		}
	}

	out.Artifacts = rs.artifacts
	o.land(rs)

	out.Status, out.Reason, out.Err = rs.status, rs.reason, rs.err
	out.Ended = o.clk.Now()
	o.logger.Infow("mission finished",
		"id", id, "status", out.Status.String(), "reason", out.Reason,
		"stops", rs.stop, "photos", len(out.Artifacts))
	return out
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if o.nav.Remaining() == 0 {
		return errors.New("no waypoints loaded")
	}
	if !o.nav.Connected() {
		return errors.New("vehicle not connected")
	}
	pct, err := o.nav.Battery(ctx)
	if err != nil {
		return errors.Wrap(err, "battery query")
	}
	if pct < o.cfg.MinBatteryPct {
		return errors.Errorf("battery %d%% below the %d%% floor", pct, o.cfg.MinBatteryPct)
	}
	return nil
}

func (o *Orchestrator) takeoffStep(ctx context.Context, rs *runState) {
	itr, err := o.await(ctx, o.nav.Takeoff)
	switch {
	case itr != nil:
		o.interruptAbort(rs, itr)
	case err == nil:
		o.applyEv(evLiftoff, "airborne")
	case errors.Is(err, context.Canceled) && o.nav.Airborne():
		o.cancelAbort(rs)
	case o.nav.Airborne():
		o.faultAbort(rs, errors.Wrap(err, "takeoff"))
	default:
		// Still on the ground, nothing to land.
		o.applyEv(evLiftoffFailed, err.Error())
		o.recordAbort("takeoff failed: " + err.Error())
		rs.status, rs.reason, rs.err = mission.OutcomeFailed, "takeoff failed", err
	}
}

func (o *Orchestrator) navigate(ctx context.Context, rs *runState) {
	if o.nav.HasNext() {
		var wp mission.Waypoint
		itr, err := o.await(ctx, func(c context.Context) error {
			var nerr error
			wp, nerr = o.nav.NavigateNext(c)
			return nerr
		})
		switch {
		case itr != nil:
			o.interruptAbort(rs, itr)
		case errors.Is(err, context.Canceled):
			o.cancelAbort(rs)
		case err != nil:
			o.faultAbort(rs, err)
		default:
			rs.stop++
			o.setStop(wp.Label, rs.stop)
			o.applyEv(evArrived, "arrived at "+wp.String())
		}
		return
	}

	if o.cfg.ReturnHome && !rs.homeDone {
		rs.homeDone = true
		itr, err := o.await(ctx, o.nav.ReturnHome)
		switch {
		case itr != nil:
			o.interruptAbort(rs, itr)
		case errors.Is(err, context.Canceled):
			o.cancelAbort(rs)
		case err != nil:
			o.faultAbort(rs, err)
		default:
			o.applyEv(evRouteExhausted, "route complete, above origin")
		}
		return
	}

	o.applyEv(evRouteExhausted, "route complete")
}

func (o *Orchestrator) hoverStep(ctx context.Context, rs *runState) {
	itr, err := o.hover(ctx)
	switch {
	case itr != nil:
		o.interruptAbort(rs, itr)
	case err != nil:
		o.cancelAbort(rs)
	default:
		o.applyEv(evSettled, "hover stable")
	}
}

func (o *Orchestrator) detectStep(ctx context.Context, rs *runState) {
	res, itr, err := o.detect(ctx)
	switch {
	case itr != nil:
		o.interruptAbort(rs, itr)
	case err != nil:
		o.cancelAbort(rs)
	default:
		rs.structure = res.StructureID
		o.setStructure(res.StructureID)
		if res.Identified {
			o.applyEv(evIdentified, "identified "+res.StructureID)
		} else {
			o.recordWarning(fmt.Sprintf("identification timed out after %s, using %q",
				o.cfg.DetectTimeout, res.StructureID))
			o.applyEv(evDetectTimeout, "identification timed out, using "+res.StructureID)
		}
	}
}

func (o *Orchestrator) photographStep(ctx context.Context, rs *runState) {
	res, itr, err := o.photograph(ctx, rs.structure, rs.stop)

	// Photos taken before a preemption are already on disk and count.
	rs.artifacts = append(rs.artifacts, res.Artifacts...)
	o.setArtifacts(len(rs.artifacts))
	for _, a := range res.Artifacts {
		if rerr := o.rec.SaveArtifact(a); rerr != nil {
			o.logger.Errorw("artifact record failed", "path", a.Path, "error", rerr)
		}
	}
	for _, sk := range res.Skipped {
		o.recordWarning(fmt.Sprintf("angle %q skipped at stop %d: %s", sk.Angle, rs.stop, sk.Reason))
		o.logger.Warnw("photo angle skipped", "angle", sk.Angle, "stop", rs.stop, "reason", sk.Reason)
	}

	switch {
	case itr != nil:
		o.interruptAbort(rs, itr)
	case errors.Is(err, context.Canceled):
		o.cancelAbort(rs)
	case err != nil:
		o.faultAbort(rs, err)
	default:
		o.applyEv(evPhotosDone, fmt.Sprintf("stop %d done, %d photo(s)", rs.stop, len(res.Artifacts)))
	}
}

// land brings the vehicle down and settles the verdict. It runs on a fresh
// context: once the mission is landing nothing may preempt it.
func (o *Orchestrator) land(rs *runState) {
	lctx, cancel := context.WithTimeout(context.Background(), landingTimeout)
	defer cancel()

	var err error
	if rs.forced {
		err = o.nav.EmergencyLand(lctx)
	} else {
		err = o.nav.Land(lctx)
	}
	if err != nil {
		o.applyEv(evLandFailed, err.Error())
		o.recordAbort("landing failed: " + err.Error())
		o.logger.Errorw("landing failed", "error", err)
		rs.status = mission.OutcomeFailed
		if rs.reason == "" {
			rs.reason = "landing failed"
		}
		rs.err = multierr.Append(rs.err, err)
		return
	}
	o.applyEv(evLanded, "touchdown")
}

// await runs op with its own cancelable context and watches the safety
// monitor. On an interrupt the op is canceled and drained before the
// interrupt is returned; when op completion and an interrupt race, the
// interrupt wins.
func (o *Orchestrator) await(ctx context.Context, op func(context.Context) error) (*safety.Interrupt, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(opCtx) }()

	select {
	case err := <-done:
		select {
		case itr := <-o.interrupts():
			if err != nil {
				o.logger.Debugw("operation error superseded by interrupt", "error", err)
			}
			return &itr, nil
		default:
			return nil, err
		}
	case itr := <-o.interrupts():
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Debugw("operation error during interrupt", "error", err)
		}
		return &itr, nil
	}
}

// photograph is await for the capture sequence, which returns partial
// results that must survive a preemption.
func (o *Orchestrator) photograph(ctx context.Context, structure string, stop int) (photocapture.Result, *safety.Interrupt, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res photocapture.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.seq.CaptureAllAngles(opCtx, structure, stop)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		select {
		case itr := <-o.interrupts():
			return out.res, &itr, nil
		default:
			return out.res, nil, out.err
		}
	case itr := <-o.interrupts():
		cancel()
		out := <-done
		return out.res, &itr, nil
	}
}

// hover waits out the stability delay at a stop.
func (o *Orchestrator) hover(ctx context.Context) (*safety.Interrupt, error) {
	t := o.clk.Timer(o.cfg.HoverStability)
	defer t.Stop()
	select {
	case itr := <-o.interrupts():
		return &itr, nil
	case <-t.C:
		select {
		case itr := <-o.interrupts():
			return &itr, nil
		default:
			return nil, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// detect runs structure identification until a decode, the timeout, an
// interrupt or cancellation, whichever is first.
func (o *Orchestrator) detect(ctx context.Context) (mission.DetectionResult, *safety.Interrupt, error) {
	fallback := mission.DetectionResult{StructureID: o.cfg.FallbackLabel}
	if o.ident == nil || o.camera == nil {
		return fallback, nil, nil
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.ident.Begin(sctx, o.camera)
	defer o.ident.Stop()

	deadline := o.clk.Timer(o.cfg.DetectTimeout)
	defer deadline.Stop()
	tick := o.clk.Ticker(o.cfg.DetectPoll)
	defer tick.Stop()

	for {
		select {
		case itr := <-o.interrupts():
			return mission.DetectionResult{}, &itr, nil
		default:
		}
		if id, ok := o.ident.Poll(); ok {
			return mission.DetectionResult{StructureID: id, Identified: true}, nil, nil
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return fallback, nil, nil
		case itr := <-o.interrupts():
			return mission.DetectionResult{}, &itr, nil
		case <-ctx.Done():
			return mission.DetectionResult{}, nil, ctx.Err()
		}
	}
}

// interrupts returns the monitor channel, or a nil channel (blocking
// forever) when no monitor is wired.
func (o *Orchestrator) interrupts() <-chan safety.Interrupt {
	if o.monitor == nil {
		return nil
	}
	return o.monitor.Interrupts()
}

func (o *Orchestrator) interruptAbort(rs *runState, itr *safety.Interrupt) {
	rs.forced = true
	rs.status = mission.OutcomeAborted
	rs.reason = itr.Reason
	detail := itr.Reason
	if itr.Detail != "" {
		detail += ": " + itr.Detail
	}
	o.recordAbort(detail)
	o.logger.Warnw("mission aborted", "reason", itr.Reason, "detail", itr.Detail)
	o.applyEv(evInterrupted, itr.Reason)
}

func (o *Orchestrator) cancelAbort(rs *runState) {
	rs.forced = true
	rs.status = mission.OutcomeAborted
	rs.reason = ReasonOperatorCancel
	o.recordAbort(ReasonOperatorCancel)
	o.logger.Warnw("mission aborted", "reason", ReasonOperatorCancel)
	o.applyEv(evInterrupted, ReasonOperatorCancel)
}

func (o *Orchestrator) faultAbort(rs *runState, err error) {
	rs.forced = true
	rs.status = mission.OutcomeAborted
	rs.reason = "flight fault: " + err.Error()
	rs.err = err
	o.recordAbort(rs.reason)
	o.logger.Errorw("flight fault, forcing landing", "error", err)
	o.applyEv(evFlightFault, err.Error())
}

// applyEv moves the state machine and records the transition. An illegal
// pair is a programming error; it is logged and dropped.
func (o *Orchestrator) applyEv(ev event, cause string) {
	tr, err := o.mach.apply(ev, cause)
	if err != nil {
		o.logger.Errorw("dropped transition", "event", ev.String(), "error", err)
		return
	}
	o.record(mission.TransitionEntry(o.clk.Now(), tr.From, tr.To, tr.Cause))
	o.logger.Infow("state change", "from", tr.From.String(), "to", tr.To.String(), "cause", tr.Cause)
	o.mu.Lock()
	o.status.State = tr.To
	o.mu.Unlock()
}

func (o *Orchestrator) record(e mission.LogEntry) {
	if err := o.rec.Append(e); err != nil {
		o.logger.Errorw("mission log append failed", "error", err)
	}
}

func (o *Orchestrator) recordWarning(detail string) {
	o.record(mission.LogEntry{
		Time:   o.clk.Now(),
		Kind:   mission.LogWarning,
		State:  o.mach.state().String(),
		Detail: detail,
	})
}

func (o *Orchestrator) recordAbort(detail string) {
	o.record(mission.LogEntry{
		Time:   o.clk.Now(),
		Kind:   mission.LogAbort,
		State:  o.mach.state().String(),
		Detail: detail,
	})
}

func (o *Orchestrator) setStop(label string, stop int) {
	o.mu.Lock()
	o.status.Waypoint = label
	o.status.Stop = stop
	o.status.Structure = ""
	o.mu.Unlock()
}

func (o *Orchestrator) setStructure(id string) {
	o.mu.Lock()
	o.status.Structure = id
	o.mu.Unlock()
}

func (o *Orchestrator) setArtifacts(n int) {
	o.mu.Lock()
	o.status.Artifacts = n
	o.mu.Unlock()
}
