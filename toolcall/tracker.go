// Package toolcall tracks the lifecycle of tool invocations nested inside one
// streaming lane.
//
// Each tool call moves pending → running → completed|error. Patches are
// applied last-writer-wins, but only along that order: a patch that would move
// a call backwards (or from one terminal state to the other) is rejected with
// core.ErrRegressiveToolStatus and leaves the call untouched.
package toolcall

import (
	"fmt"
	"time"

	"github.com/hupe1980/chatstream/core"
)

// Tracker holds the tool calls of a single lane in first-seen order. It is not
// safe for concurrent use; the owning lane serializes access.
type Tracker struct {
	calls map[string]*core.ToolCallInfo
	order []string
	now   func() time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{calls: make(map[string]*core.ToolCallInfo), now: time.Now}
}

// Apply merges patch into the addressed tool call, creating it at pending if
// the id has not been seen. It returns a copy of the resulting state.
func (t *Tracker) Apply(patch core.ToolCallPatch) (core.ToolCallInfo, error) {
	if patch.ID == "" {
		return core.ToolCallInfo{}, fmt.Errorf("%w: tool call patch without id", core.ErrMalformedEvent)
	}
	if patch.Status != "" && !patch.Status.Valid() {
		return core.ToolCallInfo{}, fmt.Errorf("%w: unknown tool status %q", core.ErrMalformedEvent, patch.Status)
	}

	call, ok := t.calls[patch.ID]
	if !ok {
		call = &core.ToolCallInfo{ID: patch.ID, Status: core.ToolStatusPending}
	}

	if patch.Status != "" && !canTransition(call.Status, patch.Status) {
		return call.Clone(), fmt.Errorf("%w: tool call %s %s -> %s", core.ErrRegressiveToolStatus, call.ID, call.Status, patch.Status)
	}

	if !ok {
		t.calls[patch.ID] = call
		t.order = append(t.order, patch.ID)
	}

	t.merge(call, patch)
	return call.Clone(), nil
}

// canTransition reports whether from → to keeps the lifecycle monotone.
// Re-applying the current status is allowed so later patches can fill in
// output or arguments.
func canTransition(from, to core.ToolStatus) bool {
	if from == to {
		return true
	}
	return to.Rank() > from.Rank()
}

func (t *Tracker) merge(call *core.ToolCallInfo, patch core.ToolCallPatch) {
	if patch.Name != "" {
		call.Name = patch.Name
	}
	if len(patch.Arguments) > 0 {
		call.Arguments = append(call.Arguments[:0:0], patch.Arguments...)
	}
	if patch.Output != "" {
		call.Output = patch.Output
	}
	if patch.Error != "" {
		call.Error = patch.Error
	}

	if patch.Status != "" {
		call.Status = patch.Status
	}

	now := t.now()
	switch {
	case patch.StartedAt != nil:
		ts := *patch.StartedAt
		call.StartedAt = &ts
	case call.StartedAt == nil && call.Status.Rank() >= core.ToolStatusRunning.Rank():
		call.StartedAt = &now
	}

	switch {
	case patch.CompletedAt != nil:
		ts := *patch.CompletedAt
		call.CompletedAt = &ts
	case call.CompletedAt == nil && call.Status.Terminal():
		call.CompletedAt = &now
	}
}

// Get returns a copy of the tool call with the given id.
func (t *Tracker) Get(id string) (core.ToolCallInfo, bool) {
	call, ok := t.calls[id]
	if !ok {
		return core.ToolCallInfo{}, false
	}
	return call.Clone(), true
}

// Snapshot returns deep copies of all tool calls in first-seen order.
func (t *Tracker) Snapshot() []core.ToolCallInfo {
	if len(t.order) == 0 {
		return nil
	}
	out := make([]core.ToolCallInfo, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.calls[id].Clone())
	}
	return out
}

// Len returns the number of tracked tool calls.
func (t *Tracker) Len() int { return len(t.order) }
