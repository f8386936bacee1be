package aggregator

import (
	"sort"
	"sync"

	"github.com/hupe1980/chatstream/core"
)

// UpdateKind names a visible state change.
type UpdateKind string

const (
	UpdateLaneOpened      UpdateKind = "lane_opened"
	UpdateLaneFlushed     UpdateKind = "lane_flushed"
	UpdateToolCall        UpdateKind = "tool_call"
	UpdateLaneClosed      UpdateKind = "lane_closed"
	UpdateLaneDiscarded   UpdateKind = "lane_discarded"
	UpdateMessageAppended UpdateKind = "message_appended"
	UpdateHistoryLoaded   UpdateKind = "history_loaded"
	UpdateError           UpdateKind = "error"
)

// Update is delivered to subscribers after a state change. Listeners re-read
// state through the query methods; Update only says what changed.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	AgentID        string

	// Message is set for UpdateMessageAppended.
	Message *core.Message

	// ErrorKind and Err are set for UpdateError.
	ErrorKind core.ErrorKind
	Err       error
}

// Listener receives updates for one conversation.
type Listener func(u Update)

type subscribers struct {
	mu     sync.RWMutex
	next   uint64
	byConv map[string]map[uint64]Listener
}

// Subscribe registers listener for changes in a conversation and returns a
// func that removes it. Updates are delivered outside the aggregator lock in
// the order the changes happened for each caller; updates caused by concurrent
// callers may interleave.
func (a *Aggregator) Subscribe(conversationID string, listener Listener) (unsubscribe func()) {
	s := &a.subs
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byConv == nil {
		s.byConv = make(map[string]map[uint64]Listener)
	}
	if s.byConv[conversationID] == nil {
		s.byConv[conversationID] = make(map[uint64]Listener)
	}
	s.next++
	id := s.next
	s.byConv[conversationID][id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.byConv[conversationID], id)
			if len(s.byConv[conversationID]) == 0 {
				delete(s.byConv, conversationID)
			}
		})
	}
}

func (s *subscribers) listeners(conversationID string) []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.byConv[conversationID]
	if len(subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = subs[id]
	}
	return out
}

func (a *Aggregator) deliver(updates []Update) {
	for _, u := range updates {
		for _, l := range a.subs.listeners(u.ConversationID) {
			a.notify(l, u)
		}
	}
}

// notify isolates listener panics so one faulty subscriber cannot break event
// processing.
func (a *Aggregator) notify(l Listener, u Update) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("listener panicked", "conversation_id", u.ConversationID, "update", string(u.Kind), "panic", r)
		}
	}()
	l(u)
}
