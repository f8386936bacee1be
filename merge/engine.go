// Package merge turns finished lanes into immutable conversation history.
//
// The Engine is the single point where in-flight content becomes durable:
// it appends messages in completion order, rejects a message id it has
// already appended, and hands every appended message to a core.MessageStore.
package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/chatstream/core"
	"github.com/hupe1980/chatstream/logging"
)

// Options configures an Engine.
type Options struct {
	// Store receives every appended message. Nil disables persistence.
	Store core.MessageStore

	Logger logging.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

type conversation struct {
	id           string
	typ          core.ConversationType
	explicitType bool
	participants []string
	messages     []core.Message
	appended     map[string]struct{}
	lastActivity time.Time
}

func (c *conversation) snapshot() core.Conversation {
	return core.Conversation{
		ID:           c.id,
		Type:         c.typ,
		Participants: append([]string(nil), c.participants...),
		Messages:     core.CloneMessages(c.messages),
		LastActivity: c.lastActivity,
	}
}

// join records agentID as a participant. A conversation whose type was not
// set explicitly becomes a team once a second agent takes part.
func (c *conversation) join(agentID string) bool {
	if agentID == "" {
		return false
	}
	for _, p := range c.participants {
		if p == agentID {
			return false
		}
	}
	c.participants = append(c.participants, agentID)
	if !c.explicitType && len(c.participants) > 1 {
		c.typ = core.ConversationTeam
	}
	return true
}

// Engine owns the ordered message history of every conversation. It is not
// safe for concurrent use; the aggregator serializes all calls.
type Engine struct {
	conversations map[string]*conversation
	order         []string
	store         core.MessageStore
	logger        logging.Logger
	now           func() time.Time
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		conversations: make(map[string]*conversation),
		store:         opts.Store,
		logger:        logging.OrNoOp(opts.Logger),
		now:           opts.Now,
	}
}

// EnsureConversation returns the conversation with id, creating it if needed.
// A non-empty typ pins the conversation type; participants are added in order.
func (e *Engine) EnsureConversation(id string, typ core.ConversationType, participants ...string) core.Conversation {
	c := e.ensure(id)
	if typ != "" {
		c.typ = typ
		c.explicitType = true
	}
	for _, p := range participants {
		c.join(p)
	}
	return c.snapshot()
}

func (e *Engine) ensure(id string) *conversation {
	if c, ok := e.conversations[id]; ok {
		return c
	}
	c := &conversation{
		id:           id,
		typ:          core.ConversationDirect,
		appended:     make(map[string]struct{}),
		lastActivity: e.now(),
	}
	e.conversations[id] = c
	e.order = append(e.order, id)
	return c
}

// Join adds agentID to the participants of a conversation, creating the
// conversation if needed. It reports whether the agent was new.
func (e *Engine) Join(conversationID, agentID string) bool {
	return e.ensure(conversationID).join(agentID)
}

// Promote converts a closed lane into an assistant message that reuses the
// lane's pre-allocated id and appends it to the conversation history.
// Promoting the same message id twice fails with core.ErrAlreadyPromoted and
// leaves history untouched.
func (e *Engine) Promote(ctx context.Context, conversationID string, snap core.LaneSnapshot) (core.Message, error) {
	ts := snap.ClosedAt
	if ts.IsZero() {
		ts = e.now()
	}

	msg := core.Message{
		ID:             snap.MessageID,
		ConversationID: conversationID,
		Role:           core.RoleAssistant,
		AgentID:        snap.Key.AgentID,
		AgentName:      snap.AgentName,
		Content:        snap.Text,
		ToolCalls:      core.CloneToolCalls(snap.ToolCalls),
		Timestamp:      ts,
		Errored:        snap.Errored,
		ErrorReason:    snap.ErrorReason,
	}

	return e.append(ctx, msg)
}

// Append adds a user, system or pre-built assistant message to history. A
// missing id is generated, a missing role defaults to user and a zero
// timestamp is set to now.
func (e *Engine) Append(ctx context.Context, msg core.Message) (core.Message, error) {
	if msg.ConversationID == "" {
		return core.Message{}, fmt.Errorf("%w: message without conversation id", core.ErrMalformedEvent)
	}
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Role == "" {
		msg.Role = core.RoleUser
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.now()
	}
	return e.append(ctx, msg.Clone())
}

func (e *Engine) append(ctx context.Context, msg core.Message) (core.Message, error) {
	if msg.ID == "" {
		return core.Message{}, fmt.Errorf("%w: message without id", core.ErrMalformedEvent)
	}

	c := e.ensure(msg.ConversationID)
	if _, dup := c.appended[msg.ID]; dup {
		e.logger.Warn("duplicate promotion dropped", "conversation_id", c.id, "message_id", msg.ID)
		return core.Message{}, fmt.Errorf("conversation %s message %s: %w", c.id, msg.ID, core.ErrAlreadyPromoted)
	}

	c.messages = append(c.messages, msg)
	c.appended[msg.ID] = struct{}{}
	if msg.Timestamp.After(c.lastActivity) {
		c.lastActivity = msg.Timestamp
	}
	if msg.Role == core.RoleAssistant {
		c.join(msg.AgentID)
	}

	out := msg.Clone()
	if e.store == nil {
		return out, nil
	}
	if err := e.store.SaveMessage(ctx, out); err != nil {
		e.logger.Error("failed to persist message", "conversation_id", c.id, "message_id", msg.ID, "error", err)
		return out, fmt.Errorf("%w %s: %v", core.ErrPersist, msg.ID, err)
	}

	return out, nil
}

// Load hydrates a conversation from the store and returns the number of
// messages added. Stored messages keep the store's order and come first;
// messages only known in memory (never persisted) follow in their existing
// order.
func (e *Engine) Load(ctx context.Context, conversationID string) (int, error) {
	if e.store == nil {
		return 0, nil
	}

	msgs, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("%w: load %s: %v", core.ErrPersist, conversationID, err)
	}

	c := e.ensure(conversationID)

	inMemory := make(map[string]core.Message, len(c.messages))
	for _, m := range c.messages {
		inMemory[m.ID] = m
	}

	merged := make([]core.Message, 0, len(msgs)+len(c.messages))
	stored := make(map[string]struct{}, len(msgs))
	added := 0
	for _, m := range msgs {
		if _, dup := stored[m.ID]; dup {
			continue
		}
		stored[m.ID] = struct{}{}

		if existing, ok := inMemory[m.ID]; ok {
			merged = append(merged, existing)
			continue
		}
		m = m.Clone()
		merged = append(merged, m)
		c.appended[m.ID] = struct{}{}
		if m.Timestamp.After(c.lastActivity) {
			c.lastActivity = m.Timestamp
		}
		if m.Role == core.RoleAssistant {
			c.join(m.AgentID)
		}
		added++
	}
	for _, m := range c.messages {
		if _, ok := stored[m.ID]; !ok {
			merged = append(merged, m)
		}
	}
	c.messages = merged

	e.logger.Debug("history loaded", "conversation_id", conversationID, "messages", added)

	return added, nil
}

// Promoted reports whether messageID is already part of the conversation.
func (e *Engine) Promoted(conversationID, messageID string) bool {
	c, ok := e.conversations[conversationID]
	if !ok {
		return false
	}
	_, ok = c.appended[messageID]
	return ok
}

// History returns deep copies of a conversation's messages in append order.
func (e *Engine) History(conversationID string) []core.Message {
	c, ok := e.conversations[conversationID]
	if !ok {
		return []core.Message{}
	}
	return core.CloneMessages(c.messages)
}

// Conversation returns a snapshot of one conversation.
func (e *Engine) Conversation(id string) (core.Conversation, bool) {
	c, ok := e.conversations[id]
	if !ok {
		return core.Conversation{}, false
	}
	return c.snapshot(), true
}

// Conversations returns snapshots of all conversations in creation order.
func (e *Engine) Conversations() []core.Conversation {
	out := make([]core.Conversation, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.conversations[id].snapshot())
	}
	return out
}
