package vision

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Source delivers camera frames on demand. NextFrame never blocks: it
// returns the freshest available frame, or false when the feed has nothing
// usable (not yet started, stalled, or closed).
type Source interface {
	NextFrame() (*Frame, bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (*Frame, bool)

func (f SourceFunc) NextFrame() (*Frame, bool) { return f() }

// Static returns a source that always serves clones of the same frame.
func Static(f *Frame) Source {
	return SourceFunc(func() (*Frame, bool) {
		if f == nil {
			return nil, false
		}
		return f.Clone(), true
	})
}

// Feed is a latest-frame cell between one producer and any number of
// consumers. The producer publishes frames as they arrive; consumers pull
// the most recent one. A frame older than maxAge is treated as a stalled
// feed and not served, so consumers see frame loss instead of acting on
// stale imagery.
type Feed struct {
	clk    clock.Clock
	maxAge time.Duration

	mu    sync.Mutex
	frame *Frame
	at    time.Time
}

// NewFeed builds a feed. maxAge <= 0 disables the staleness check.
func NewFeed(clk clock.Clock, maxAge time.Duration) *Feed {
	return &Feed{clk: clk, maxAge: maxAge}
}

// Publish installs f as the current frame. The feed keeps its own clone.
func (fd *Feed) Publish(f *Frame) {
	if f == nil {
		return
	}
	c := f.Clone()
	now := fd.clk.Now()

	fd.mu.Lock()
	fd.frame = c
	fd.at = now
	fd.mu.Unlock()
}

// Invalidate drops the current frame, forcing NextFrame to report loss
// until the next Publish.
func (fd *Feed) Invalidate() {
	fd.mu.Lock()
	fd.frame = nil
	fd.mu.Unlock()
}

// NextFrame implements Source.
func (fd *Feed) NextFrame() (*Frame, bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.frame == nil {
		return nil, false
	}
	if fd.maxAge > 0 && fd.clk.Now().Sub(fd.at) > fd.maxAge {
		return nil, false
	}
	return fd.frame.Clone(), true
}
