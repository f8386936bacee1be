// Package memory provides a volatile MessageStore backed by process memory.
package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/chatstream/core"
)

// InMemoryStore is a volatile core.MessageStore keeping messages in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral servers. Stored and returned messages are cloned so callers never
// share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]core.Message      // conversationID -> ordered messages
	ids      map[string]map[string]struct{} // conversationID -> message ids
	order    []string                       // conversation ids in first-save order
}

var (
	_ core.MessageStore       = (*InMemoryStore)(nil)
	_ core.ConversationLister = (*InMemoryStore)(nil)
)

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages: make(map[string][]core.Message),
		ids:      make(map[string]map[string]struct{}),
	}
}

// SaveMessage stores a clone of msg. Saving an id twice is a no-op.
func (s *InMemoryStore) SaveMessage(_ context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.ids[msg.ConversationID]
	if !ok {
		seen = make(map[string]struct{})
		s.ids[msg.ConversationID] = seen
		s.order = append(s.order, msg.ConversationID)
	}
	if _, dup := seen[msg.ID]; dup {
		return nil
	}
	seen[msg.ID] = struct{}{}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg.Clone())
	return nil
}

// ListMessages returns clones of a conversation's messages in save order.
func (s *InMemoryStore) ListMessages(_ context.Context, conversationID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.CloneMessages(s.messages[conversationID]), nil
}

// Conversations returns the ids of all conversations with stored messages,
// ordered by their first message.
func (s *InMemoryStore) Conversations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Len returns the total number of stored messages.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}
