package testutil

import (
	"encoding/json"

	"github.com/hupe1980/chatstream/core"
)

// LaneScript provides a fluent helper for scripting the events of one lane.
// Example:
//
//	evs := NewLaneScript("conv-1", "agent-x").Message("msg-9").Start().Tokens("Hel", "lo").End().Events()
//
// Chain only the parts you need; sensible defaults are applied.
type LaneScript struct {
	conversationID string
	agentID        string
	agentName      string
	messageID      string
	events         []core.Event
}

// NewLaneScript creates a script for (conversationID, agentID). The agent name
// defaults to the agent id and the message id to "<agent>-msg".
func NewLaneScript(conversationID, agentID string) *LaneScript {
	return &LaneScript{
		conversationID: conversationID,
		agentID:        agentID,
		agentName:      agentID,
		messageID:      agentID + "-msg",
	}
}

// Name sets the agent display name used by Start (chainable).
func (s *LaneScript) Name(n string) *LaneScript { s.agentName = n; return s }

// Message sets the pre-allocated message id used by Start (chainable).
func (s *LaneScript) Message(id string) *LaneScript { s.messageID = id; return s }

// Start appends a stream_start event (chainable).
func (s *LaneScript) Start() *LaneScript {
	return s.add(core.NewStreamStartEvent(s.conversationID, s.agentID, s.agentName, s.messageID))
}

// Tokens appends one token event per fragment (chainable).
func (s *LaneScript) Tokens(fragments ...string) *LaneScript {
	for _, f := range fragments {
		s.add(core.NewTokenEvent(s.conversationID, s.agentID, f))
	}
	return s
}

// Tool appends a tool_call_update event (chainable).
func (s *LaneScript) Tool(id string, status core.ToolStatus) *LaneScript {
	return s.add(core.NewToolCallEvent(s.conversationID, s.agentID, core.ToolCallPatch{ID: id, Status: status}))
}

// ToolCall appends a tool_call_update event carrying name and arguments (chainable).
func (s *LaneScript) ToolCall(id, name string, args any) *LaneScript {
	raw, _ := json.Marshal(args)
	return s.add(core.NewToolCallEvent(s.conversationID, s.agentID, core.ToolCallPatch{
		ID:        id,
		Name:      name,
		Arguments: raw,
		Status:    core.ToolStatusPending,
	}))
}

// Patch appends a tool_call_update event with a full patch (chainable).
func (s *LaneScript) Patch(p core.ToolCallPatch) *LaneScript {
	return s.add(core.NewToolCallEvent(s.conversationID, s.agentID, p))
}

// End appends a stream_end event (chainable).
func (s *LaneScript) End() *LaneScript {
	return s.add(core.NewStreamEndEvent(s.conversationID, s.agentID))
}

// Fail appends a stream_error event (chainable).
func (s *LaneScript) Fail(reason string) *LaneScript {
	return s.add(core.NewStreamErrorEvent(s.conversationID, s.agentID, reason))
}

// Key returns the lane key the script addresses.
func (s *LaneScript) Key() core.LaneKey {
	return core.LaneKey{ConversationID: s.conversationID, AgentID: s.agentID}
}

// Events returns a copy of the scripted events.
func (s *LaneScript) Events() []core.Event {
	return append([]core.Event(nil), s.events...)
}

func (s *LaneScript) add(ev core.Event) *LaneScript {
	s.events = append(s.events, ev)
	return s
}

// Interleave merges several event sequences round-robin, preserving the order
// within each sequence. It models many agents streaming at once.
func Interleave(seqs ...[]core.Event) []core.Event {
	var out []core.Event
	for i := 0; ; i++ {
		added := false
		for _, seq := range seqs {
			if i < len(seq) {
				out = append(out, seq[i])
				added = true
			}
		}
		if !added {
			return out
		}
	}
}
