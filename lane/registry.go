// Package lane implements the streaming lane registry: the authoritative map
// from (conversation, agent) to the single in-flight response of that agent.
//
// A lane is created by Open, grows through AppendText (coalesced by the flush
// scheduler) and UpdateToolCall, and leaves the registry exactly once, through
// Close/CloseWithError (content snapshot for promotion) or Discard (teardown
// without promotion).
package lane

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/chatstream/core"
	"github.com/hupe1980/chatstream/flush"
	"github.com/hupe1980/chatstream/logging"
	"github.com/hupe1980/chatstream/toolcall"
)

// ChangeKind tells a registry observer what happened to a lane.
type ChangeKind string

const (
	ChangeOpened   ChangeKind = "opened"
	ChangeFlushed  ChangeKind = "flushed"
	ChangeToolCall ChangeKind = "tool_call"
	ChangeClosed   ChangeKind = "closed"
	ChangeDropped  ChangeKind = "discarded"
)

// Change describes one visible lane mutation.
type Change struct {
	Key  core.LaneKey
	Kind ChangeKind

	// Bytes is the size of the flushed text for ChangeFlushed.
	Bytes int
}

// Options configures a Registry.
type Options struct {
	Logger logging.Logger

	// OnChange is called after every visible lane mutation.
	OnChange func(c Change)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// lane is the registry-owned mutable state of one in-flight response.
type lane struct {
	key       core.LaneKey
	agentName string
	messageID string
	text      strings.Builder
	tools     *toolcall.Tracker
	startedAt time.Time
	seq       uint64
}

func (l *lane) view() core.StreamingLane {
	return core.StreamingLane{
		ConversationID: l.key.ConversationID,
		AgentID:        l.key.AgentID,
		AgentName:      l.agentName,
		MessageID:      l.messageID,
		Text:           l.text.String(),
		Active:         true,
		ToolCalls:      l.tools.Snapshot(),
		StartedAt:      l.startedAt,
	}
}

// Registry owns every active lane. It is not safe for concurrent use; the
// aggregator serializes all calls, including flushes fired by the scheduler.
type Registry struct {
	scheduler *flush.Scheduler
	lanes     map[core.LaneKey]*lane
	seq       uint64
	logger    logging.Logger
	onChange  func(Change)
	now       func() time.Time
}

// NewRegistry creates a Registry and installs itself as the scheduler's flush
// handler.
func NewRegistry(scheduler *flush.Scheduler, optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{
		scheduler: scheduler,
		lanes:     make(map[core.LaneKey]*lane),
		logger:    logging.OrNoOp(opts.Logger),
		onChange:  opts.OnChange,
		now:       opts.Now,
	}
	scheduler.SetHandler(r.applyFlush)

	return r
}

// Open creates an active lane for (conversationID, agentID). A second Open for
// the same pair before the first lane is closed fails with core.ErrDuplicateLane
// and leaves the existing lane untouched.
func (r *Registry) Open(conversationID, agentID, agentName, messageID string) (core.StreamingLane, error) {
	key := core.LaneKey{ConversationID: conversationID, AgentID: agentID}
	if existing, ok := r.lanes[key]; ok {
		err := core.NewLaneError("open", key, fmt.Errorf("%w: message %s still streaming", core.ErrDuplicateLane, existing.messageID))
		r.laneLogger(key).Error("duplicate stream start", "lane", key.String(), "active_message_id", existing.messageID, "rejected_message_id", messageID)
		return core.StreamingLane{}, err
	}

	r.seq++
	l := &lane{
		key:       key,
		agentName: agentName,
		messageID: messageID,
		tools:     toolcall.New(),
		startedAt: r.now(),
		seq:       r.seq,
	}
	r.lanes[key] = l
	r.laneLogger(key).Debug("lane opened", "lane", key.String(), "message_id", messageID)
	r.notify(Change{Key: key, Kind: ChangeOpened})

	return l.view(), nil
}

// AppendText routes a token through the flush scheduler. Tokens for a lane
// that is not active are dropped and reported as core.ErrUnknownLane.
func (r *Registry) AppendText(key core.LaneKey, token string) error {
	if _, ok := r.lanes[key]; !ok {
		r.laneLogger(key).Warn("token for unknown lane dropped", "lane", key.String(), "bytes", len(token))
		return core.NewLaneError("append", key, core.ErrUnknownLane)
	}
	r.scheduler.AppendToken(key, token)
	return nil
}

// applyFlush is the scheduler handler: it commits coalesced text to the lane.
func (r *Registry) applyFlush(key core.LaneKey, text string) {
	l, ok := r.lanes[key]
	if !ok {
		// unreachable while Close/Discard drain the scheduler first
		r.laneLogger(key).Warn("flush for unknown lane ignored", "lane", key.String())
		return
	}
	l.text.WriteString(text)
	r.notify(Change{Key: key, Kind: ChangeFlushed, Bytes: len(text)})
}

// UpdateToolCall applies a tool-call patch to the lane's tracker.
func (r *Registry) UpdateToolCall(key core.LaneKey, patch core.ToolCallPatch) (core.ToolCallInfo, error) {
	l, ok := r.lanes[key]
	if !ok {
		r.laneLogger(key).Warn("tool call for unknown lane dropped", "lane", key.String(), "tool_call_id", patch.ID)
		return core.ToolCallInfo{}, core.NewLaneError("tool_call", key, core.ErrUnknownLane)
	}

	info, err := l.tools.Apply(patch)
	if err != nil {
		r.laneLogger(key).Warn("tool call patch rejected", "lane", key.String(), "tool_call_id", patch.ID, "error", err)
		return info, core.NewLaneError("tool_call", key, err)
	}
	r.notify(Change{Key: key, Kind: ChangeToolCall})

	return info, nil
}

// Close removes the lane and returns its final content. Any pending flush is
// cancelled first and its unflushed text is folded into the snapshot, so no
// frame can fire against the removed lane and no token is lost.
func (r *Registry) Close(key core.LaneKey) (core.LaneSnapshot, error) {
	return r.close(key, false, "")
}

// CloseWithError is Close for a lane whose stream failed; the snapshot is
// flagged as errored with reason.
func (r *Registry) CloseWithError(key core.LaneKey, reason string) (core.LaneSnapshot, error) {
	return r.close(key, true, reason)
}

func (r *Registry) close(key core.LaneKey, errored bool, reason string) (core.LaneSnapshot, error) {
	l, ok := r.lanes[key]
	if !ok {
		r.laneLogger(key).Warn("close for unknown lane", "lane", key.String())
		return core.LaneSnapshot{}, core.NewLaneError("close", key, core.ErrUnknownLane)
	}

	l.text.WriteString(r.scheduler.Drain(key))
	delete(r.lanes, key)

	snap := core.LaneSnapshot{
		Key:         key,
		AgentName:   l.agentName,
		MessageID:   l.messageID,
		Text:        l.text.String(),
		ToolCalls:   l.tools.Snapshot(),
		StartedAt:   l.startedAt,
		ClosedAt:    r.now(),
		Errored:     errored,
		ErrorReason: reason,
	}
	r.laneLogger(key).Debug("lane closed", "lane", key.String(), "message_id", l.messageID, "errored", errored)
	r.notify(Change{Key: key, Kind: ChangeClosed})

	return snap, nil
}

// Discard removes the lane without producing a snapshot; unflushed text is
// thrown away.
func (r *Registry) Discard(key core.LaneKey) error {
	if _, ok := r.lanes[key]; !ok {
		return core.NewLaneError("discard", key, core.ErrUnknownLane)
	}
	r.scheduler.Cancel(key)
	delete(r.lanes, key)
	r.laneLogger(key).Info("lane discarded", "lane", key.String())
	r.notify(Change{Key: key, Kind: ChangeDropped})
	return nil
}

// DiscardConversation discards every active lane of a conversation and
// returns how many were removed.
func (r *Registry) DiscardConversation(conversationID string) int {
	var keys []core.LaneKey
	for key := range r.lanes {
		if key.ConversationID == conversationID {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		_ = r.Discard(key)
	}
	return len(keys)
}

// ActiveLanes returns read-only views of the conversation's lanes in the order
// they were opened.
func (r *Registry) ActiveLanes(conversationID string) []core.StreamingLane {
	var active []*lane
	for _, l := range r.lanes {
		if l.key.ConversationID == conversationID {
			active = append(active, l)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].seq < active[j].seq })

	out := make([]core.StreamingLane, len(active))
	for i, l := range active {
		out[i] = l.view()
	}
	return out
}

// Lane returns a read-only view of one lane.
func (r *Registry) Lane(key core.LaneKey) (core.StreamingLane, bool) {
	l, ok := r.lanes[key]
	if !ok {
		return core.StreamingLane{}, false
	}
	return l.view(), true
}

// Len returns the number of active lanes.
func (r *Registry) Len() int { return len(r.lanes) }

// laneLogger scopes the registry logger to one lane.
func (r *Registry) laneLogger(key core.LaneKey) logging.Logger {
	if cl, ok := r.logger.(*logging.ChatLogger); ok {
		return cl.WithLane(key.ConversationID, key.AgentID)
	}
	return r.logger
}

func (r *Registry) notify(c Change) {
	if r.onChange != nil {
		r.onChange(c)
	}
}
