package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatstream/core"
)

func TestInMemoryStore_SaveAndList(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveMessage(ctx, core.Message{ID: "m1", ConversationID: "c1", Content: "first"}))
	require.NoError(t, s.SaveMessage(ctx, core.Message{ID: "m2", ConversationID: "c1", Content: "second"}))
	require.NoError(t, s.SaveMessage(ctx, core.Message{ID: "m1", ConversationID: "c1", Content: "again"}))
	require.NoError(t, s.SaveMessage(ctx, core.Message{ID: "m3", ConversationID: "c2"}))

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, 3, s.Len())

	convs, err := s.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, convs, "first-save order")

	empty, err := s.ListMessages(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryStore_ClonesOnWayInAndOut(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	msg := core.Message{
		ID:             "m1",
		ConversationID: "c1",
		ToolCalls:      []core.ToolCallInfo{{ID: "t", Arguments: json.RawMessage(`{}`)}},
	}
	require.NoError(t, s.SaveMessage(ctx, msg))
	msg.ToolCalls[0].ID = "changed"

	out, _ := s.ListMessages(ctx, "c1")
	out[0].ToolCalls[0].Status = core.ToolStatusError

	again, _ := s.ListMessages(ctx, "c1")
	assert.Equal(t, "t", again[0].ToolCalls[0].ID)
	assert.Empty(t, again[0].ToolCalls[0].Status)
}

func TestInMemoryStore_ConcurrentSaves(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SaveMessage(context.Background(), core.Message{ID: core.NewID(), ConversationID: "c"})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
