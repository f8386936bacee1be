package core

import "context"

// MessageStore persists finalized messages. The aggregator hands every
// appended message to the store and trusts it for durable retrieval; the
// in-memory history stays authoritative for the running process.
type MessageStore interface {
	// SaveMessage durably records msg. Saving an id twice must not create a
	// second entry.
	SaveMessage(ctx context.Context, msg Message) error

	// ListMessages returns the persisted history of a conversation in append order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// ConversationLister is implemented by stores that can enumerate the
// conversations they hold, ordered by their first stored message.
type ConversationLister interface {
	Conversations(ctx context.Context) ([]string, error)
}
