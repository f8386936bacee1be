package flush

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultFrameRate is the display refresh cadence frames are paced at.
const DefaultFrameRate = 60

// FrameClock schedules callbacks for the next frame.
type FrameClock interface {
	// RequestFrame arranges for fn to run once on the next frame. The returned
	// cancel func prevents fn from running if the frame has not fired yet.
	RequestFrame(fn func()) (cancel func())
}

// frameQueue is the pending-request bookkeeping shared by both clocks.
type frameQueue struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]func()
}

func (q *frameQueue) request(fn func()) func() {
	q.mu.Lock()
	if q.pending == nil {
		q.pending = make(map[uint64]func())
	}
	q.next++
	id := q.next
	q.pending[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
	}
}

// take removes and returns all pending callbacks in request order.
func (q *frameQueue) take() []func() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	ids := make([]uint64, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = q.pending[id]
	}
	q.pending = nil
	q.mu.Unlock()
	return fns
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// TickerClock fires pending frames on a fixed cadence. Callbacks run on the
// clock goroutine, outside any clock lock, so they may request new frames.
type TickerClock struct {
	queue    frameQueue
	interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTickerClock creates a clock firing rate frames per second. A rate <= 0
// uses DefaultFrameRate.
func NewTickerClock(rate int) *TickerClock {
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	return &TickerClock{interval: time.Second / time.Duration(rate)}
}

// Interval returns the frame period.
func (c *TickerClock) Interval() time.Duration { return c.interval }

// RequestFrame implements FrameClock. Requests made before Start are queued
// and fire on the first tick.
func (c *TickerClock) RequestFrame(fn func()) func() { return c.queue.request(fn) }

// Pending returns the number of frames waiting to fire.
func (c *TickerClock) Pending() int { return c.queue.len() }

// Start launches the ticker goroutine. It is a no-op if already started. The
// goroutine exits when ctx is done or Stop is called.
func (c *TickerClock) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, fn := range c.queue.take() {
					fn()
				}
			}
		}
	}()
}

// Stop terminates the ticker goroutine and waits for it to exit. Pending
// frames are kept and fire if the clock is started again.
func (c *TickerClock) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.started = false
	c.mu.Unlock()

	cancel()
	<-done
}

// ManualClock fires frames only when Advance is called. Safe for concurrent use.
type ManualClock struct {
	queue  frameQueue
	mu     sync.Mutex
	frames int
}

// NewManualClock creates an idle manual clock.
func NewManualClock() *ManualClock { return &ManualClock{} }

// RequestFrame implements FrameClock.
func (c *ManualClock) RequestFrame(fn func()) func() { return c.queue.request(fn) }

// Advance fires every frame requested so far and returns how many fired.
// Frames requested by the callbacks themselves wait for the next Advance.
func (c *ManualClock) Advance() int {
	fns := c.queue.take()
	c.mu.Lock()
	c.frames++
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Pending returns the number of frames waiting to fire.
func (c *ManualClock) Pending() int { return c.queue.len() }

// Frames returns how many times Advance was called.
func (c *ManualClock) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}
