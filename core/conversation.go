package core

import "time"

// ConversationType distinguishes one-to-one chats from multi-party ones.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationRoom   ConversationType = "room"
	ConversationTeam   ConversationType = "team"
)

// Role identifies the author class of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment references a file or resource attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a finalized conversation entry. Once appended to a history it is
// never mutated; edits are modeled as new messages.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	AgentID        string         `json:"agent_id,omitempty"`
	AgentName      string         `json:"agent_name,omitempty"`
	Content        string         `json:"content"`
	ToolCalls      []ToolCallInfo `json:"tool_calls,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Errored        bool           `json:"errored,omitempty"`
	ErrorReason    string         `json:"error_reason,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	c.ToolCalls = CloneToolCalls(m.ToolCalls)
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return c
}

// CloneMessages deep-copies a message list.
func CloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// Conversation is a snapshot of a conversation's metadata and ordered history.
type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Participants []string         `json:"participants"`
	Messages     []Message        `json:"messages"`
	LastActivity time.Time        `json:"last_activity"`
}

// HasParticipant reports whether agentID takes part in the conversation.
func (c Conversation) HasParticipant(agentID string) bool {
	for _, p := range c.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}
