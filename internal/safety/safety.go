// Package safety watches the camera feed concurrently with the mission and
// preempts it when a human signals an abort, the view ahead is blocked, or
// the feed itself goes dark. Detection latency is bounded by the poll
// interval; the orchestrator selects on the interrupt channel at every
// suspension point, so an interrupt is acted on within one operation plus
// one poll interval.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// Interrupt reasons, as they appear in the mission record.
const (
	ReasonEmergencyGesture = "emergency"
	ReasonObstacle         = "obstacle"
	ReasonDegraded         = "safety degraded"
)

// Interrupt is one preemption demand. Exactly one is delivered per episode:
// the trigger must clear and recur to produce another.
type Interrupt struct {
	Reason string
	Detail string
	At     time.Time
}

func (i Interrupt) String() string {
	if i.Detail == "" {
		return i.Reason
	}
	return fmt.Sprintf("%s (%s)", i.Reason, i.Detail)
}

// Status is the latest safety evaluation. The monitor goroutine is the
// sole writer; Status() hands out copies.
type Status struct {
	ObstacleDetected  bool
	ObstacleDensity   float64
	MeanGradient      float64
	GestureDetected   bool
	GestureConfidence float64
	// Degraded means the last check had no usable frame.
	Degraded bool
	// Checks counts evaluations since Start.
	Checks    int
	CheckedAt time.Time
}

// Config tunes the monitor.
type Config struct {
	PollInterval      time.Duration
	ObstacleEnabled   bool
	CoverageRatio     float64
	EdgeThreshold     float64
	GestureEnabled    bool
	GestureConfidence float64
	// AbortOnDegraded fires an interrupt when the feed stays dark for
	// degradedAbortAfter consecutive checks. Off by default; a mission
	// can be flown camera-degraded at the operator's discretion.
	AbortOnDegraded bool
}

// degradedAbortAfter is how many consecutive frameless checks count as a
// dead feed rather than a hiccup.
const degradedAbortAfter = 3

// Monitor polls the frame source in the background and publishes status
// and interrupts. Start and Stop bracket one monitoring session.
type Monitor struct {
	cfg      Config
	src      vision.Source
	pose     PoseEstimator
	obstacle ObstacleDetector
	clk      clock.Clock
	logger   golog.Logger

	interrupts chan Interrupt

	mu            sync.Mutex
	status        Status
	running       bool
	cancel        context.CancelFunc
	misses        int
	gestureArmed  bool
	obstacleArmed bool
	degradedArmed bool

	wg sync.WaitGroup
}

// NewMonitor wires a monitor to a frame source. pose may be nil when no
// pose tracker is available; gesture checks are then skipped, as is the
// whole obstacle check when disabled in cfg.
func NewMonitor(src vision.Source, pose PoseEstimator, cfg Config, clk clock.Clock, logger golog.Logger) *Monitor {
	if pose == nil {
		logger.Warnw("no pose estimator, gesture detection disabled")
	}
	return &Monitor{
		cfg:  cfg,
		src:  src,
		pose: pose,
		obstacle: ObstacleDetector{
			CoverageRatio: cfg.CoverageRatio,
			EdgeThreshold: cfg.EdgeThreshold,
		},
		clk:           clk,
		logger:        logger,
		interrupts:    make(chan Interrupt, 8),
		gestureArmed:  true,
		obstacleArmed: true,
		degradedArmed: true,
	}
}

// Interrupts is the preemption channel the orchestrator selects on.
func (m *Monitor) Interrupts() <-chan Interrupt { return m.interrupts }

// Status returns a copy of the latest evaluation.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start launches the poll loop. Fails if already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("safety monitor already running")
	}
	mctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := m.clk.Ticker(m.cfg.PollInterval)
		defer ticker.Stop()
		m.logger.Infow("safety monitor started", "interval", m.cfg.PollInterval.String())
		for {
			select {
			case <-mctx.Done():
				m.logger.Info("safety monitor shutting down")
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
	return nil
}

// Stop ends the session and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) poll() {
	now := m.clk.Now()
	frame, ok := m.src.NextFrame()
	if !ok {
		m.pollDegraded(now)
		return
	}

	st := Status{Degraded: false, CheckedAt: now}

	if m.cfg.ObstacleEnabled {
		reading := m.obstacle.Detect(frame)
		st.ObstacleDetected = reading.Blocked
		st.ObstacleDensity = reading.Density
		st.MeanGradient = reading.MeanGradient
	}
	if m.pose != nil && m.cfg.GestureEnabled {
		if pose, found := m.pose.Estimate(frame); found {
			conf := CrossedArmsConfidence(pose)
			st.GestureConfidence = conf
			st.GestureDetected = conf >= m.cfg.GestureConfidence
		}
	}

	m.mu.Lock()
	m.misses = 0
	m.degradedArmed = true
	st.Checks = m.status.Checks + 1
	m.status = st

	fireGesture := st.GestureDetected && m.gestureArmed
	if fireGesture {
		m.gestureArmed = false
	} else if !st.GestureDetected {
		m.gestureArmed = true
	}
	fireObstacle := st.ObstacleDetected && m.obstacleArmed
	if fireObstacle {
		m.obstacleArmed = false
	} else if !st.ObstacleDetected {
		m.obstacleArmed = true
	}
	m.mu.Unlock()

	if fireGesture {
		m.fire(Interrupt{
			Reason: ReasonEmergencyGesture,
			Detail: fmt.Sprintf("crossed arms, confidence %.2f", st.GestureConfidence),
			At:     now,
		})
	}
	if fireObstacle {
		m.fire(Interrupt{
			Reason: ReasonObstacle,
			Detail: fmt.Sprintf("central coverage %.2f", st.ObstacleDensity),
			At:     now,
		})
	}
}

func (m *Monitor) pollDegraded(now time.Time) {
	m.mu.Lock()
	m.misses++
	st := m.status
	st.Degraded = true
	st.Checks++
	st.CheckedAt = now
	m.status = st

	fire := m.cfg.AbortOnDegraded && m.misses >= degradedAbortAfter && m.degradedArmed
	if fire {
		m.degradedArmed = false
	}
	misses := m.misses
	m.mu.Unlock()

	if misses == 1 {
		m.logger.Warn("camera feed lost")
	}
	if fire {
		m.fire(Interrupt{
			Reason: ReasonDegraded,
			Detail: fmt.Sprintf("no frames for %d checks", misses),
			At:     now,
		})
	}
}

// fire never blocks the poll loop. The channel is buffered well past the
// per-episode bound; a full channel means nobody is flying the mission.
func (m *Monitor) fire(i Interrupt) {
	m.logger.Warnw("safety interrupt", "reason", i.Reason, "detail", i.Detail)
	select {
	case m.interrupts <- i:
	default:
		m.logger.Errorw("interrupt channel full, dropping", "reason", i.Reason)
	}
}
