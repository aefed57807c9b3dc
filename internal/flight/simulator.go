package flight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

// Simulator is an in-process Controller used for development flights and
// tests. It dead-reckons pose, draws the battery down per command, journals
// every accepted command, and can be scripted to fail specific commands.
type Simulator struct {
	clk     clock.Clock
	logger  golog.Logger
	latency time.Duration

	mu         sync.Mutex
	connected  bool
	aloft      bool
	battery    int
	speed      int
	pos        mission.Position
	headingDeg int
	journal    []string
	failures   map[string][]error
}

// NewSimulator returns a connected, grounded vehicle with a full battery.
func NewSimulator(clk clock.Clock, logger golog.Logger) *Simulator {
	return &Simulator{
		clk:       clk,
		logger:    logger,
		connected: true,
		battery:   100,
		speed:     10,
		failures:  map[string][]error{},
	}
}

// SetLatency makes every command take d of simulated time.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailNext queues one forced failure for the named command verb
// ("takeoff", "land", "move", "rotate", "speed", "battery", "height").
// Queued entries pop in order; a nil error is a no-op slot, letting a
// queued failure target the Nth command of a sequence.
func (s *Simulator) FailNext(verb string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[verb] = append(s.failures[verb], err)
}

// SetBattery overrides the battery level.
func (s *Simulator) SetBattery(pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = pct
}

// Disconnect simulates losing the vehicle link.
func (s *Simulator) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Journal returns the accepted commands in order.
func (s *Simulator) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.journal))
	copy(out, s.journal)
	return out
}

// Position returns the dead-reckoned position.
func (s *Simulator) Position() mission.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Heading returns the dead-reckoned heading in [0, 360).
func (s *Simulator) Heading() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headingDeg
}

// Airborne reports whether the simulated vehicle is off the ground.
func (s *Simulator) Airborne() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aloft
}

func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// begin performs the shared entry checks for every command.
func (s *Simulator) begin(ctx context.Context, verb string) error {
	if err := s.sleep(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if q := s.failures[verb]; len(q) > 0 {
		err := q[0]
		s.failures[verb] = q[1:]
		return err
	}
	return nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clk.After(d):
		return nil
	}
}

func (s *Simulator) record(entry string, drain int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, entry)
	s.battery -= drain
	if s.battery < 0 {
		s.battery = 0
	}
}

func (s *Simulator) Takeoff(ctx context.Context) error {
	if err := s.begin(ctx, "takeoff"); err != nil {
		return err
	}
	s.mu.Lock()
	if s.aloft {
		s.mu.Unlock()
		return errors.New("already airborne")
	}
	s.aloft = true
	s.pos.Z = 80
	s.mu.Unlock()
	s.record("takeoff", 5)
	s.logger.Debugw("sim takeoff")
	return nil
}

func (s *Simulator) Land(ctx context.Context) error {
	if err := s.begin(ctx, "land"); err != nil {
		return err
	}
	s.mu.Lock()
	s.aloft = false
	s.pos.Z = 0
	s.mu.Unlock()
	s.record("land", 2)
	s.logger.Debugw("sim land")
	return nil
}

func (s *Simulator) Emergency(ctx context.Context) error {
	if err := s.begin(ctx, "emergency"); err != nil {
		return err
	}
	s.mu.Lock()
	s.aloft = false
	s.pos.Z = 0
	s.mu.Unlock()
	s.record("emergency", 0)
	s.logger.Warnw("sim emergency stop")
	return nil
}

func (s *Simulator) SetSpeed(ctx context.Context, cmPerSec int) error {
	if err := s.begin(ctx, "speed"); err != nil {
		return err
	}
	s.mu.Lock()
	s.speed = cmPerSec
	s.mu.Unlock()
	s.record(fmt.Sprintf("speed %d", cmPerSec), 0)
	return nil
}

func (s *Simulator) MoveX(ctx context.Context, cm int) error {
	return s.move(ctx, cm, 0, 0)
}

func (s *Simulator) MoveY(ctx context.Context, cm int) error {
	return s.move(ctx, 0, cm, 0)
}

func (s *Simulator) MoveZ(ctx context.Context, cm int) error {
	return s.move(ctx, 0, 0, cm)
}

func (s *Simulator) move(ctx context.Context, dx, dy, dz int) error {
	if err := s.begin(ctx, "move"); err != nil {
		return err
	}
	// Exactly one axis is nonzero per call.
	if err := checkMoveRange(dx + dy + dz); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.aloft {
		s.mu.Unlock()
		return errors.New("cannot move on the ground")
	}
	s.pos = s.pos.Add(dx, dy, dz)
	s.mu.Unlock()
	s.record(fmt.Sprintf("move %d %d %d", dx, dy, dz), 1)
	return nil
}

func (s *Simulator) RotateBy(ctx context.Context, deg int) error {
	if err := s.begin(ctx, "rotate"); err != nil {
		return err
	}
	if deg == 0 {
		return nil
	}
	s.mu.Lock()
	if !s.aloft {
		s.mu.Unlock()
		return errors.New("cannot rotate on the ground")
	}
	s.headingDeg = ((s.headingDeg+deg)%360 + 360) % 360
	s.mu.Unlock()
	s.record(fmt.Sprintf("rotate %d", deg), 1)
	return nil
}

func (s *Simulator) BatteryPercent(ctx context.Context) (int, error) {
	if err := s.begin(ctx, "battery"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery, nil
}

func (s *Simulator) HeightCm(ctx context.Context) (int, error) {
	if err := s.begin(ctx, "height"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.Z, nil
}
