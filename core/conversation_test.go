package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessage_CloneIsDeep(t *testing.T) {
	now := time.Now()
	m := Message{
		ID:          "m1",
		Role:        RoleAssistant,
		Content:     "hi",
		ToolCalls:   []ToolCallInfo{{ID: "t1", Arguments: json.RawMessage(`{"a":1}`), StartedAt: &now}},
		Attachments: []Attachment{{ID: "f1", Name: "a.txt"}},
	}

	c := m.Clone()
	c.ToolCalls[0].Arguments[2] = 'b'
	c.ToolCalls[0].Status = ToolStatusError
	*c.ToolCalls[0].StartedAt = now.Add(time.Hour)
	c.Attachments[0].Name = "changed"

	if string(m.ToolCalls[0].Arguments) != `{"a":1}` {
		t.Errorf("arguments aliased: %s", m.ToolCalls[0].Arguments)
	}
	if m.ToolCalls[0].Status != "" {
		t.Error("tool call status aliased")
	}
	if !m.ToolCalls[0].StartedAt.Equal(now) {
		t.Error("timestamps aliased")
	}
	if m.Attachments[0].Name != "a.txt" {
		t.Error("attachments aliased")
	}
}

func TestCloneToolCalls_Nil(t *testing.T) {
	if CloneToolCalls(nil) != nil {
		t.Fatal("expected nil clone of nil slice")
	}
}

func TestConversation_HasParticipant(t *testing.T) {
	c := Conversation{ID: "c", Participants: []string{"a", "b"}}
	if !c.HasParticipant("b") || c.HasParticipant("z") {
		t.Fatalf("unexpected participant lookup: %+v", c.Participants)
	}
}
