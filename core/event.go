package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the lane events an Event Source can emit.
type EventType string

const (
	// EventStreamStart opens a lane for (conversation, agent).
	EventStreamStart EventType = "stream_start"
	// EventToken carries one text fragment of an in-flight response.
	EventToken EventType = "token"
	// EventToolCallUpdate carries a tool-call patch for the lane.
	EventToolCallUpdate EventType = "tool_call_update"
	// EventStreamEnd closes the lane and promotes its content.
	EventStreamEnd EventType = "stream_end"
	// EventStreamError closes the lane and promotes partial content flagged as errored.
	EventStreamError EventType = "stream_error"
)

// ToolCallPatch is a discrete update for a single tool invocation. Zero-valued
// optional fields leave the tracked value untouched.
type ToolCallPatch struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Status      ToolStatus      `json:"status,omitempty"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Event is the unit delivered by an Event Source. Which payload fields are
// meaningful depends on Type:
//   - stream_start:     AgentName, MessageID
//   - token:            Text
//   - tool_call_update: ToolCall
//   - stream_error:     Reason
//
// Events for one (ConversationID, AgentID) pair must be delivered in order.
type Event struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversation_id"`
	AgentID        string         `json:"agent_id"`
	AgentName      string         `json:"agent_name,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Text           string         `json:"text,omitempty"`
	ToolCall       *ToolCallPatch `json:"tool_call,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

func newEvent(t EventType, conversationID, agentID string) Event {
	return Event{
		Type:           t,
		ConversationID: conversationID,
		AgentID:        agentID,
		Timestamp:      time.Now().UTC(),
	}
}

// NewStreamStartEvent opens a lane. An empty messageID is replaced by a fresh
// identifier so the promoted Message can reuse it.
func NewStreamStartEvent(conversationID, agentID, agentName, messageID string) Event {
	e := newEvent(EventStreamStart, conversationID, agentID)
	e.AgentName = agentName
	if messageID == "" {
		messageID = NewID()
	}
	e.MessageID = messageID
	return e
}

// NewTokenEvent carries one streamed text fragment.
func NewTokenEvent(conversationID, agentID, text string) Event {
	e := newEvent(EventToken, conversationID, agentID)
	e.Text = text
	return e
}

// NewToolCallEvent wraps a tool-call patch.
func NewToolCallEvent(conversationID, agentID string, patch ToolCallPatch) Event {
	e := newEvent(EventToolCallUpdate, conversationID, agentID)
	e.ToolCall = &patch
	return e
}

// NewStreamEndEvent closes a lane normally.
func NewStreamEndEvent(conversationID, agentID string) Event {
	return newEvent(EventStreamEnd, conversationID, agentID)
}

// NewStreamErrorEvent reports a fatal mid-stream failure for a lane.
func NewStreamErrorEvent(conversationID, agentID, reason string) Event {
	e := newEvent(EventStreamError, conversationID, agentID)
	e.Reason = reason
	return e
}

// NewID generates a new unique identifier for messages and events.
func NewID() string { return uuid.NewString() }

// Key returns the lane key addressed by the event.
func (e Event) Key() LaneKey {
	return LaneKey{ConversationID: e.ConversationID, AgentID: e.AgentID}
}

// Validate reports whether the event carries the fields its type requires.
func (e Event) Validate() error {
	if e.ConversationID == "" || e.AgentID == "" {
		return fmt.Errorf("%w: %s event without conversation or agent id", ErrMalformedEvent, e.Type)
	}

	switch e.Type {
	case EventStreamStart:
		if e.MessageID == "" {
			return fmt.Errorf("%w: stream_start without message id", ErrMalformedEvent)
		}
	case EventToolCallUpdate:
		if e.ToolCall == nil || e.ToolCall.ID == "" {
			return fmt.Errorf("%w: tool_call_update without tool call id", ErrMalformedEvent)
		}
		if e.ToolCall.Status != "" && !e.ToolCall.Status.Valid() {
			return fmt.Errorf("%w: unknown tool status %q", ErrMalformedEvent, e.ToolCall.Status)
		}
	case EventToken, EventStreamEnd, EventStreamError:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, e.Type)
	}

	return nil
}
