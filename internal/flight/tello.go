package flight

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// DefaultTelloAddr is the command port the airframe listens on when it is
// the access point.
const DefaultTelloAddr = "192.168.10.1:8889"

const telloRespBuf = 1024

// Tello speaks the text-datagram SDK of a Tello-class quadcopter over UDP:
// one command out, one reply back, strictly in turn. The struct is safe for
// concurrent use; a mutex serializes the round trips.
type Tello struct {
	conn    *net.UDPConn
	timeout time.Duration
	logger  golog.Logger

	mu        sync.Mutex
	connected atomic.Bool
	lastCmd   atomic.Time
}

// DialTello opens the command link and switches the vehicle into SDK mode.
// timeout bounds each command round trip.
func DialTello(ctx context.Context, addr string, timeout time.Duration, logger golog.Logger) (*Tello, error) {
	if addr == "" {
		addr = DefaultTelloAddr
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	t := &Tello{conn: conn, timeout: timeout, logger: logger}
	if err := t.do(ctx, "command"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enter SDK mode")
	}
	t.connected.Store(true)
	logger.Infow("vehicle link up", "addr", addr)
	return t, nil
}

// Close drops the command link.
func (t *Tello) Close() error {
	t.connected.Store(false)
	return t.conn.Close()
}

// IsConnected reports whether the link answered its last command.
func (t *Tello) IsConnected() bool { return t.connected.Load() }

// KeepAlive sends a no-op command whenever the link has been idle for
// interval, so the vehicle's inactivity failsafe does not trigger during
// long hovers. Runs until ctx is done.
func (t *Tello) KeepAlive(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Since(t.lastCmd.Load()) < interval {
					continue
				}
				if err := t.do(ctx, "command"); err != nil && ctx.Err() == nil {
					t.logger.Warnw("keepalive failed", "error", err)
				}
			}
		}
	}()
}

// command performs one round trip and returns the raw trimmed reply.
func (t *Tello) command(ctx context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return "", errors.Wrap(err, "set deadline")
	}

	if _, err := t.conn.Write([]byte(cmd)); err != nil {
		t.connected.Store(false)
		return "", &CommandError{Command: cmd, Err: err}
	}

	// A cancelled ctx unblocks the read by expiring the deadline early.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	buf := make([]byte, telloRespBuf)
	n, err := t.conn.Read(buf)
	close(watchDone)
	t.lastCmd.Store(time.Now())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.connected.Store(false)
		return "", &CommandError{Command: cmd, Err: err}
	}

	resp := strings.TrimSpace(string(buf[:n]))
	t.logger.Debugw("vehicle reply", "cmd", cmd, "resp", resp)
	return resp, nil
}

// do performs a command that must answer "ok".
func (t *Tello) do(ctx context.Context, cmd string) error {
	resp, err := t.command(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp, "ok") {
		return &CommandError{Command: cmd, Response: resp}
	}
	return nil
}

func (t *Tello) Takeoff(ctx context.Context) error   { return t.do(ctx, "takeoff") }
func (t *Tello) Land(ctx context.Context) error      { return t.do(ctx, "land") }
func (t *Tello) Emergency(ctx context.Context) error { return t.do(ctx, "emergency") }

func (t *Tello) SetSpeed(ctx context.Context, cmPerSec int) error {
	return t.do(ctx, fmt.Sprintf("speed %d", cmPerSec))
}

func (t *Tello) MoveX(ctx context.Context, cm int) error {
	return t.move(ctx, cm, "forward", "back")
}

func (t *Tello) MoveY(ctx context.Context, cm int) error {
	return t.move(ctx, cm, "left", "right")
}

func (t *Tello) MoveZ(ctx context.Context, cm int) error {
	return t.move(ctx, cm, "up", "down")
}

func (t *Tello) move(ctx context.Context, cm int, pos, neg string) error {
	if err := checkMoveRange(cm); err != nil {
		return err
	}
	verb, mag := pos, cm
	if cm < 0 {
		verb, mag = neg, -cm
	}
	return t.do(ctx, fmt.Sprintf("%s %d", verb, mag))
}

func (t *Tello) RotateBy(ctx context.Context, deg int) error {
	deg = normDeg(deg)
	if deg == 0 {
		return nil
	}
	if deg > 0 {
		return t.do(ctx, fmt.Sprintf("cw %d", deg))
	}
	return t.do(ctx, fmt.Sprintf("ccw %d", -deg))
}

func (t *Tello) BatteryPercent(ctx context.Context) (int, error) {
	resp, err := t.command(ctx, "battery?")
	if err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(resp)
	if err != nil {
		return 0, &CommandError{Command: "battery?", Response: resp, Err: err}
	}
	return pct, nil
}

// HeightCm queries the barometric height. The vehicle answers in
// decimeters ("10dm").
func (t *Tello) HeightCm(ctx context.Context) (int, error) {
	resp, err := t.command(ctx, "height?")
	if err != nil {
		return 0, err
	}
	dm, err := strconv.Atoi(strings.TrimSuffix(resp, "dm"))
	if err != nil {
		return 0, &CommandError{Command: "height?", Response: resp, Err: err}
	}
	return dm * 10, nil
}

// normDeg folds a rotation into (-180, 180].
func normDeg(deg int) int {
	deg %= 360
	if deg > 180 {
		deg -= 360
	}
	if deg <= -180 {
		deg += 360
	}
	return deg
}
