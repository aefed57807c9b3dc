package detect

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// Identifier runs one background scan session per inspection stop. Begin
// starts scanning, Poll asks for the result without blocking, Stop ends the
// session. The first successful decode latches; later frames are ignored.
type Identifier struct {
	dec    Decoder
	poll   time.Duration
	clk    clock.Clock
	logger golog.Logger

	mu      sync.Mutex
	id      string
	found   bool
	scanned int
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewIdentifier wires a decoder to a scan cadence.
func NewIdentifier(dec Decoder, poll time.Duration, clk clock.Clock, logger golog.Logger) *Identifier {
	return &Identifier{dec: dec, poll: poll, clk: clk, logger: logger}
}

// Begin starts a scan session against src. An unfinished previous session
// is stopped first. The session ends on Stop, ctx cancellation, or the
// first successful decode.
func (i *Identifier) Begin(ctx context.Context, src vision.Source) {
	i.Stop()

	sctx, cancel := context.WithCancel(ctx)
	i.mu.Lock()
	i.id = ""
	i.found = false
	i.scanned = 0
	i.cancel = cancel
	i.mu.Unlock()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ticker := i.clk.Ticker(i.poll)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				frame, ok := src.NextFrame()
				if !ok {
					continue
				}
				i.mu.Lock()
				i.scanned++
				i.mu.Unlock()
				if id, ok := i.dec.Decode(frame); ok {
					i.mu.Lock()
					i.id = id
					i.found = true
					i.mu.Unlock()
					i.logger.Debugw("structure tag decoded", "id", id)
					return
				}
			}
		}
	}()
}

// Poll returns the latched identifier, if any. Never blocks.
func (i *Identifier) Poll() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id, i.found
}

// Scanned returns how many frames the current session has examined.
func (i *Identifier) Scanned() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.scanned
}

// Stop ends the session and waits for the scan goroutine to exit. Safe to
// call without a session.
func (i *Identifier) Stop() {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	i.wg.Wait()
}
