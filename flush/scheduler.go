package flush

import (
	"strings"

	"github.com/hupe1980/chatstream/core"
	"github.com/hupe1980/chatstream/logging"
)

// Handler receives the coalesced text of one flush.
type Handler func(key core.LaneKey, text string)

// Options configures a Scheduler.
type Options struct {
	// Dispatch runs a fired frame. Owners that serialize all state access
	// (e.g. behind a mutex or on an event loop) install a dispatcher that
	// enters that serialization. Defaults to calling fn directly.
	Dispatch func(fn func())

	// Logger receives debug output for flushes and cancellations.
	Logger logging.Logger
}

// tokenBuffer is the per-lane accumulator. It exists only while the lane has
// unflushed tokens.
type tokenBuffer struct {
	text    strings.Builder
	tokens  int
	pending bool
	gen     uint64
	cancel  func()
}

// Scheduler coalesces appended tokens into at most one flush per lane per
// frame. It is not safe for concurrent use; the owner serializes calls and
// fired frames through Options.Dispatch.
type Scheduler struct {
	clock    FrameClock
	dispatch func(fn func())
	logger   logging.Logger

	handler Handler
	buffers map[core.LaneKey]*tokenBuffer
	gen     uint64
	flushes uint64
}

// New creates a Scheduler requesting frames from clock.
func New(clock FrameClock, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Dispatch: func(fn func()) { fn() },
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Scheduler{
		clock:    clock,
		dispatch: opts.Dispatch,
		logger:   logging.OrNoOp(opts.Logger),
		buffers:  make(map[core.LaneKey]*tokenBuffer),
	}
}

// SetHandler swaps the flush handler. The handler is resolved when a frame
// fires, not when it is scheduled, so frames already requested deliver to h.
func (s *Scheduler) SetHandler(h Handler) { s.handler = h }

// AppendToken adds token to the lane accumulator and requests a frame if none
// is pending for the lane.
func (s *Scheduler) AppendToken(key core.LaneKey, token string) {
	if token == "" {
		return
	}

	buf, ok := s.buffers[key]
	if !ok {
		buf = &tokenBuffer{}
		s.buffers[key] = buf
	}
	buf.text.WriteString(token)
	buf.tokens++

	if buf.pending {
		return
	}

	s.gen++
	gen := s.gen
	buf.pending = true
	buf.gen = gen
	buf.cancel = s.clock.RequestFrame(func() {
		s.dispatch(func() { s.fire(key, gen) })
	})
}

// fire delivers the accumulated text of a lane. A frame whose generation no
// longer matches the buffer (cancelled, drained or already flushed) is ignored.
func (s *Scheduler) fire(key core.LaneKey, gen uint64) {
	buf, ok := s.buffers[key]
	if !ok || !buf.pending || buf.gen != gen {
		return
	}

	text := buf.text.String()
	tokens := buf.tokens
	delete(s.buffers, key)
	s.flushes++

	if cl, ok := s.logger.(*logging.ChatLogger); ok {
		cl.LogFlush(key.String(), len(text), tokens)
	} else {
		s.logger.Debug("flush", "lane", key.String(), "bytes", len(text), "tokens", tokens)
	}

	if h := s.handler; h != nil {
		h(key, text)
	}
}

// Cancel cancels any pending frame for the lane and discards unflushed text.
// It reports whether anything was pending.
func (s *Scheduler) Cancel(key core.LaneKey) bool {
	buf, ok := s.buffers[key]
	if !ok {
		return false
	}
	s.release(key, buf)
	s.logger.Debug("flush cancelled", "lane", key.String(), "discarded_bytes", buf.text.Len())
	return true
}

// Drain cancels any pending frame for the lane and returns the unflushed text
// instead of delivering it. Closing lanes use it so no token is lost.
func (s *Scheduler) Drain(key core.LaneKey) string {
	buf, ok := s.buffers[key]
	if !ok {
		return ""
	}
	s.release(key, buf)
	return buf.text.String()
}

func (s *Scheduler) release(key core.LaneKey, buf *tokenBuffer) {
	if buf.cancel != nil {
		buf.cancel()
	}
	buf.pending = false
	delete(s.buffers, key)
}

// Pending reports whether the lane has a flush scheduled.
func (s *Scheduler) Pending(key core.LaneKey) bool {
	buf, ok := s.buffers[key]
	return ok && buf.pending
}

// Len returns the number of lanes holding unflushed text.
func (s *Scheduler) Len() int { return len(s.buffers) }

// Flushes returns the number of flushes delivered so far.
func (s *Scheduler) Flushes() uint64 { return s.flushes }
