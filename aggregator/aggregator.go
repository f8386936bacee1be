// Package aggregator is the entry point event sources and UIs talk to. It
// routes stream events to the lane registry, flush scheduler, tool-call
// tracker and merge engine, isolates per-event failures, and notifies
// subscribers of every visible state change.
//
// All entry points (Handle, fired frames, queries) are serialized by one
// mutex so each operation runs to completion before the next one starts.
// Subscriber callbacks run after the mutex is released and may call back into
// the Aggregator.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/chatstream/core"
	"github.com/hupe1980/chatstream/flush"
	"github.com/hupe1980/chatstream/lane"
	"github.com/hupe1980/chatstream/logging"
	"github.com/hupe1980/chatstream/merge"
	"github.com/hupe1980/chatstream/metrics"
)

// Options configures an Aggregator.
type Options struct {
	// Clock paces flushes. Defaults to a TickerClock at FrameRate, started by
	// Start or Run.
	Clock flush.FrameClock

	// FrameRate is used when Clock is nil.
	FrameRate int

	// Store receives every appended message. Nil keeps history in memory only.
	Store core.MessageStore

	Logger  logging.Logger
	Metrics *metrics.Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions holds the settings New starts from.
var DefaultOptions = Options{
	FrameRate: flush.DefaultFrameRate,
}

type lifecycle interface {
	Start(ctx context.Context)
	Stop()
}

// Aggregator wires the streaming components together.
type Aggregator struct {
	mu        sync.Mutex
	clock     flush.FrameClock
	scheduler *flush.Scheduler
	registry  *lane.Registry
	engine    *merge.Engine
	outbox    []Update

	// closed maps a finished lane to the id of the message it was promoted to
	closed map[core.LaneKey]string

	logger  logging.Logger
	metrics *metrics.Metrics

	subs subscribers
}

// New creates an Aggregator.
func New(optFns ...func(o *Options)) *Aggregator {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = flush.NewTickerClock(opts.FrameRate)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.OrNoOp(opts.Logger)

	a := &Aggregator{
		clock:   opts.Clock,
		logger:  withComponent(logger, "aggregator"),
		metrics: opts.Metrics,
		closed:  make(map[core.LaneKey]string),
	}

	a.scheduler = flush.New(opts.Clock, func(o *flush.Options) {
		o.Dispatch = a.dispatchFrame
		o.Logger = withComponent(logger, "flush")
	})
	a.registry = lane.NewRegistry(a.scheduler, func(o *lane.Options) {
		o.Logger = withComponent(logger, "lane")
		o.OnChange = a.onLaneChange
		o.Now = opts.Now
	})
	a.engine = merge.New(func(o *merge.Options) {
		o.Store = opts.Store
		o.Logger = withComponent(logger, "merge")
		o.Now = opts.Now
	})

	return a
}

func withComponent(l logging.Logger, name string) logging.Logger {
	if cl, ok := l.(*logging.ChatLogger); ok {
		return cl.WithComponent(name)
	}
	return l
}

// Start starts the frame clock if it needs starting. Run calls it itself.
func (a *Aggregator) Start(ctx context.Context) {
	if lc, ok := a.clock.(lifecycle); ok {
		lc.Start(ctx)
	}
}

// Stop stops the frame clock. Pending frames fire after the next Start.
func (a *Aggregator) Stop() {
	if lc, ok := a.clock.(lifecycle); ok {
		lc.Stop()
	}
}

// dispatchFrame runs a fired frame inside the aggregator's serialization.
func (a *Aggregator) dispatchFrame(fn func()) {
	a.mu.Lock()
	fn()
	out := a.takeOutbox()
	a.mu.Unlock()
	a.deliver(out)
}

// Run handles events until the channel is closed or ctx is done. Failed events
// are reported to subscribers and logged; they never stop the loop.
func (a *Aggregator) Run(ctx context.Context, events <-chan core.Event) error {
	a.Start(ctx)
	defer a.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_ = a.Handle(ctx, ev)
		}
	}
}

// Handle routes one event. The returned error is informational: it has already
// been logged and published as an UpdateError, and it never affects other
// lanes or conversation history.
func (a *Aggregator) Handle(ctx context.Context, ev core.Event) error {
	a.mu.Lock()
	err := a.handleLocked(ctx, ev)
	out := a.takeOutbox()
	a.mu.Unlock()

	a.deliver(out)
	return err
}

func (a *Aggregator) handleLocked(ctx context.Context, ev core.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s event: %v", ev.Type, r)
			if cl, ok := a.logger.(*logging.ChatLogger); ok {
				cl.ErrorWithStack(err, "Recovered from panic", "lane", ev.Key().String())
			}
		}
		if err != nil {
			a.reportError(ev.ConversationID, ev.AgentID, err)
		}
	}()

	a.metrics.ObserveEvent(ev.Type)

	if ev.Type == core.EventStreamStart && ev.MessageID == "" {
		ev.MessageID = core.NewID()
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	key := ev.Key()
	switch ev.Type {
	case core.EventStreamStart:
		return a.startLane(ev)
	case core.EventToken:
		return a.registry.AppendText(key, ev.Text)
	case core.EventToolCallUpdate:
		info, err := a.registry.UpdateToolCall(key, *ev.ToolCall)
		if err != nil {
			return err
		}
		a.metrics.ObserveToolCall(info.Status)
		return nil
	case core.EventStreamEnd, core.EventStreamError:
		return a.closeLane(ctx, ev)
	default:
		return fmt.Errorf("%w: unknown event type %q", core.ErrMalformedEvent, ev.Type)
	}
}

func (a *Aggregator) startLane(ev core.Event) error {
	key := ev.Key()
	if a.engine.Promoted(ev.ConversationID, ev.MessageID) {
		// a replayed start for a finished response would only fail at promotion
		return core.NewLaneError("open", key, core.ErrAlreadyPromoted)
	}
	if _, err := a.registry.Open(ev.ConversationID, ev.AgentID, ev.AgentName, ev.MessageID); err != nil {
		return err
	}
	delete(a.closed, key)
	a.engine.Join(ev.ConversationID, ev.AgentID)
	a.metrics.SetActiveLanes(a.registry.Len())
	return nil
}

// closeLane finalizes a lane on stream_end or stream_error. A repeated end for
// a lane that was already promoted, and a lane whose message id reached
// history while it streamed, both fail with ErrAlreadyPromoted.
func (a *Aggregator) closeLane(ctx context.Context, ev core.Event) error {
	key := ev.Key()
	if _, active := a.registry.Lane(key); !active {
		if id, done := a.closed[key]; done {
			a.logger.Debug("close for promoted lane ignored", "lane", key.String(), "message_id", id)
			return core.NewLaneError("close", key, core.ErrAlreadyPromoted)
		}
	}

	var (
		snap core.LaneSnapshot
		err  error
	)
	if ev.Type == core.EventStreamError {
		snap, err = a.registry.CloseWithError(key, ev.Reason)
	} else {
		snap, err = a.registry.Close(key)
	}
	if err != nil {
		return err
	}

	if a.engine.Promoted(key.ConversationID, snap.MessageID) {
		a.metrics.SetActiveLanes(a.registry.Len())
		a.closed[key] = snap.MessageID
		a.logger.Warn("lane content dropped, message id already in history",
			"lane", key.String(), "message_id", snap.MessageID, "bytes", len(snap.Text))
		return core.NewLaneError("close", key, core.ErrAlreadyPromoted)
	}

	if snap.Errored {
		a.logger.Warn("stream failed, promoting partial content",
			"lane", key.String(), "message_id", snap.MessageID, "reason", ev.Reason, "bytes", len(snap.Text))
	}
	return a.promote(ctx, snap)
}

func (a *Aggregator) promote(ctx context.Context, snap core.LaneSnapshot) error {
	a.metrics.SetActiveLanes(a.registry.Len())

	msg, err := a.engine.Promote(ctx, snap.Key.ConversationID, snap)
	if err != nil && !errors.Is(err, core.ErrPersist) {
		return err
	}

	a.closed[snap.Key] = msg.ID
	a.metrics.ObservePromotion(snap.Errored, snap.ClosedAt.Sub(snap.StartedAt))
	a.metrics.ObserveMessage(msg.Role)
	if cl, ok := a.logger.(*logging.ChatLogger); ok {
		cl.LogPromotion(msg.ID, snap.ClosedAt.Sub(snap.StartedAt), len(msg.ToolCalls), msg.Errored)
	} else {
		a.logger.Info("Lane promoted", "message_id", msg.ID, "errored", msg.Errored)
	}
	a.queueMessage(msg)

	// a persist failure still leaves the message in history
	return err
}

func (a *Aggregator) reportError(conversationID, agentID string, err error) {
	kind := core.Classify(err)
	a.metrics.ObserveError(kind)

	switch kind {
	case core.KindDuplicateLane:
		a.logger.Error("Protocol violation", "kind", string(kind), "error", err)
	default:
		if cl, ok := a.logger.(*logging.ChatLogger); ok {
			cl.LogProtocolViolation(string(kind), err)
		} else {
			a.logger.Warn("Protocol violation", "kind", string(kind), "error", err)
		}
	}

	a.outbox = append(a.outbox, Update{
		Kind:           UpdateError,
		ConversationID: conversationID,
		AgentID:        agentID,
		ErrorKind:      kind,
		Err:            err,
	})
}

func (a *Aggregator) onLaneChange(c lane.Change) {
	u := Update{ConversationID: c.Key.ConversationID, AgentID: c.Key.AgentID}
	switch c.Kind {
	case lane.ChangeOpened:
		u.Kind = UpdateLaneOpened
	case lane.ChangeFlushed:
		u.Kind = UpdateLaneFlushed
		a.metrics.ObserveFlush(c.Bytes)
	case lane.ChangeToolCall:
		u.Kind = UpdateToolCall
	case lane.ChangeClosed:
		u.Kind = UpdateLaneClosed
	case lane.ChangeDropped:
		u.Kind = UpdateLaneDiscarded
	default:
		return
	}
	a.outbox = append(a.outbox, u)
}

func (a *Aggregator) queueMessage(msg core.Message) {
	m := msg.Clone()
	a.outbox = append(a.outbox, Update{
		Kind:           UpdateMessageAppended,
		ConversationID: msg.ConversationID,
		AgentID:        msg.AgentID,
		Message:        &m,
	})
}

func (a *Aggregator) takeOutbox() []Update {
	out := a.outbox
	a.outbox = nil
	return out
}

// ActiveLanes returns snapshots of the conversation's streaming lanes in the
// order they were opened.
func (a *Aggregator) ActiveLanes(conversationID string) []core.StreamingLane {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry.ActiveLanes(conversationID)
}

// History returns the conversation's finalized messages in completion order.
func (a *Aggregator) History(conversationID string) []core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.History(conversationID)
}

// Conversation returns a snapshot of one conversation.
func (a *Aggregator) Conversation(id string) (core.Conversation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.Conversation(id)
}

// Conversations returns snapshots of every known conversation.
func (a *Aggregator) Conversations() []core.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.Conversations()
}

// OpenConversation creates or updates a conversation. A non-empty typ pins its
// type; otherwise it becomes a team once a second agent streams into it.
func (a *Aggregator) OpenConversation(id string, typ core.ConversationType, participants ...string) core.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.EnsureConversation(id, typ, participants...)
}

// CloseConversation tears down every streaming lane of a conversation without
// promoting it. Unflushed and accumulated text of those lanes is discarded;
// history is kept. It returns the number of discarded lanes.
func (a *Aggregator) CloseConversation(conversationID string) int {
	a.mu.Lock()
	n := a.registry.DiscardConversation(conversationID)
	for key := range a.closed {
		if key.ConversationID == conversationID {
			delete(a.closed, key)
		}
	}
	a.metrics.ObserveDiscard(n)
	a.metrics.SetActiveLanes(a.registry.Len())
	out := a.takeOutbox()
	a.mu.Unlock()

	a.deliver(out)
	return n
}

// PostMessage appends a user or system message to history.
func (a *Aggregator) PostMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	a.mu.Lock()
	appended, err := a.engine.Append(ctx, msg)
	if err == nil || errors.Is(err, core.ErrPersist) {
		a.metrics.ObserveMessage(appended.Role)
		a.queueMessage(appended)
	}
	if err != nil {
		a.reportError(msg.ConversationID, msg.AgentID, err)
	}
	out := a.takeOutbox()
	a.mu.Unlock()

	a.deliver(out)
	return appended, err
}

// LoadHistory hydrates a conversation from the message store and returns the
// number of messages added.
func (a *Aggregator) LoadHistory(ctx context.Context, conversationID string) (int, error) {
	a.mu.Lock()
	n, err := a.engine.Load(ctx, conversationID)
	if n > 0 {
		a.outbox = append(a.outbox, Update{Kind: UpdateHistoryLoaded, ConversationID: conversationID})
	}
	out := a.takeOutbox()
	a.mu.Unlock()

	a.deliver(out)
	return n, err
}
