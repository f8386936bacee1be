package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Constructors(t *testing.T) {
	start := NewStreamStartEvent("conv-1", "agent-x", "Xavier", "msg-9")
	if start.Type != EventStreamStart || start.MessageID != "msg-9" || start.AgentName != "Xavier" || start.Timestamp.IsZero() {
		t.Fatalf("NewStreamStartEvent malformed: %+v", start)
	}

	generated := NewStreamStartEvent("conv-1", "agent-x", "Xavier", "")
	if generated.MessageID == "" {
		t.Fatal("expected generated message id")
	}

	tok := NewTokenEvent("conv-1", "agent-x", "Hel")
	assert.Equal(t, EventToken, tok.Type)
	assert.Equal(t, "Hel", tok.Text)
	assert.Equal(t, LaneKey{ConversationID: "conv-1", AgentID: "agent-x"}, tok.Key())

	tc := NewToolCallEvent("conv-1", "agent-x", ToolCallPatch{ID: "call-1", Status: ToolStatusRunning})
	require.NotNil(t, tc.ToolCall)
	assert.Equal(t, "call-1", tc.ToolCall.ID)

	errEv := NewStreamErrorEvent("conv-1", "agent-x", "upstream reset")
	assert.Equal(t, "upstream reset", errEv.Reason)
	assert.Equal(t, EventStreamEnd, NewStreamEndEvent("conv-1", "agent-x").Type)
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"start ok", NewStreamStartEvent("c", "a", "A", "m"), false},
		{"start without message", Event{Type: EventStreamStart, ConversationID: "c", AgentID: "a"}, true},
		{"token without agent", Event{Type: EventToken, ConversationID: "c"}, true},
		{"tool call without patch", Event{Type: EventToolCallUpdate, ConversationID: "c", AgentID: "a"}, true},
		{"tool call unknown status", NewToolCallEvent("c", "a", ToolCallPatch{ID: "t", Status: "exploded"}), true},
		{"tool call ok", NewToolCallEvent("c", "a", ToolCallPatch{ID: "t"}), false},
		{"unknown type", Event{Type: "heartbeat", ConversationID: "c", AgentID: "a"}, true},
		{"end ok", NewStreamEndEvent("c", "a"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedEvent)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvent_JSONShape(t *testing.T) {
	raw := `{"type":"tool_call_update","conversation_id":"c","agent_id":"a","tool_call":{"id":"t1","name":"search","arguments":{"q":"go"},"status":"running"}}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	require.NoError(t, ev.Validate())
	assert.Equal(t, ToolStatusRunning, ev.ToolCall.Status)
	assert.JSONEq(t, `{"q":"go"}`, string(ev.ToolCall.Arguments))
}

func TestClassify(t *testing.T) {
	key := LaneKey{ConversationID: "c", AgentID: "a"}

	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindDuplicateLane, Classify(NewLaneError("open", key, ErrDuplicateLane)))
	assert.Equal(t, KindUnknownLane, Classify(fmt.Errorf("wrap: %w", ErrUnknownLane)))
	assert.Equal(t, KindAlreadyPromoted, Classify(ErrAlreadyPromoted))
	assert.Equal(t, KindRegressiveStatus, Classify(ErrRegressiveToolStatus))
	assert.Equal(t, KindPersist, Classify(fmt.Errorf("%w: disk full", ErrPersist)))
	assert.Equal(t, KindInternal, Classify(errors.New("boom")))

	var laneErr *LaneError
	err := fmt.Errorf("handle: %w", NewLaneError("append", key, ErrUnknownLane))
	require.ErrorAs(t, err, &laneErr)
	assert.Equal(t, "append", laneErr.Op)
	assert.Equal(t, "handle: append c/a: unknown lane", err.Error())
}

func TestToolStatus_Rank(t *testing.T) {
	assert.Less(t, ToolStatusPending.Rank(), ToolStatusRunning.Rank())
	assert.Less(t, ToolStatusRunning.Rank(), ToolStatusCompleted.Rank())
	assert.Equal(t, ToolStatusCompleted.Rank(), ToolStatusError.Rank())
	assert.True(t, ToolStatusError.Terminal())
	assert.False(t, ToolStatusRunning.Terminal())
	assert.False(t, ToolStatus("bogus").Valid())
}
