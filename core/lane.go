package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// LaneKey addresses the single active lane of an agent in a conversation.
type LaneKey struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

// String renders the key as "conversation/agent" for logs.
func (k LaneKey) String() string { return fmt.Sprintf("%s/%s", k.ConversationID, k.AgentID) }

// ToolStatus is the lifecycle state of a tool invocation.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusError     ToolStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s ToolStatus) Valid() bool {
	switch s {
	case ToolStatusPending, ToolStatusRunning, ToolStatusCompleted, ToolStatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible from s.
func (s ToolStatus) Terminal() bool {
	return s == ToolStatusCompleted || s == ToolStatusError
}

// Rank orders statuses along the lifecycle. Both terminal states share a rank.
func (s ToolStatus) Rank() int {
	switch s {
	case ToolStatusPending:
		return 0
	case ToolStatusRunning:
		return 1
	case ToolStatusCompleted, ToolStatusError:
		return 2
	default:
		return -1
	}
}

// ToolCallInfo is the tracked state of one tool invocation inside a lane.
type ToolCallInfo struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Status      ToolStatus      `json:"status"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (t ToolCallInfo) Clone() ToolCallInfo {
	c := t
	if t.Arguments != nil {
		c.Arguments = append(json.RawMessage(nil), t.Arguments...)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// CloneToolCalls deep-copies a tool call list. A nil input yields nil.
func CloneToolCalls(in []ToolCallInfo) []ToolCallInfo {
	if in == nil {
		return nil
	}
	out := make([]ToolCallInfo, len(in))
	for i, tc := range in {
		out[i] = tc.Clone()
	}
	return out
}

// StreamingLane is a read-only view of one in-flight agent response.
type StreamingLane struct {
	ConversationID string         `json:"conversation_id"`
	AgentID        string         `json:"agent_id"`
	AgentName      string         `json:"agent_name"`
	MessageID      string         `json:"message_id"`
	Text           string         `json:"text"`
	Active         bool           `json:"active"`
	ToolCalls      []ToolCallInfo `json:"tool_calls,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
}

// Key returns the lane key.
func (l StreamingLane) Key() LaneKey {
	return LaneKey{ConversationID: l.ConversationID, AgentID: l.AgentID}
}

// LaneSnapshot is the immutable content of a closed lane, handed to the merge
// engine for promotion.
type LaneSnapshot struct {
	Key         LaneKey
	AgentName   string
	MessageID   string
	Text        string
	ToolCalls   []ToolCallInfo
	StartedAt   time.Time
	ClosedAt    time.Time
	Errored     bool
	ErrorReason string
}
