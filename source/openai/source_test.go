package openai

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatstream/core"
)

type sliceStream struct {
	chunks []openai.ChatCompletionChunk
	pos    int
	err    error
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Current() openai.ChatCompletionChunk { return s.chunks[s.pos-1] }

func (s *sliceStream) Err() error { return s.err }

func chunks(t *testing.T, raw ...string) *sliceStream {
	t.Helper()
	s := &sliceStream{}
	for _, r := range raw {
		var ck openai.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(r), &ck))
		s.chunks = append(s.chunks, ck)
	}
	return s
}

func chunk(delta string, finish string) string {
	fr := "null"
	if finish != "" {
		fr = `"` + finish + `"`
	}
	return `{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":` + delta + `,"finish_reason":` + fr + `}]}`
}

func translate(t *testing.T, stream chunkStream) ([]core.Event, error) {
	t.Helper()
	var events []core.Event
	err := newTranslator("conv-1", "gpt", "GPT", func(ev core.Event) {
		events = append(events, ev)
	}).run(stream)
	return events, err
}

func TestTranslator_TextOnly(t *testing.T) {
	events, err := translate(t, chunks(t,
		chunk(`{"role":"assistant","content":""}`, ""),
		chunk(`{"content":"Hel"}`, ""),
		chunk(`{"content":"lo"}`, ""),
		chunk(`{}`, "stop"),
	))
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, core.EventStreamStart, events[0].Type)
	assert.Equal(t, "chatcmpl-1", events[0].MessageID)
	assert.Equal(t, "GPT", events[0].AgentName)
	assert.Equal(t, "Hel", events[1].Text)
	assert.Equal(t, "lo", events[2].Text)
	assert.Equal(t, core.EventStreamEnd, events[3].Type)
}

func TestTranslator_ToolCallDeltasAggregate(t *testing.T) {
	events, err := translate(t, chunks(t,
		chunk(`{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search","arguments":""}}]}`, ""),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}`, ""),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}`, ""),
		chunk(`{}`, "tool_calls"),
	))
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, core.EventStreamStart, events[0].Type)

	pending := events[1].ToolCall
	require.NotNil(t, pending)
	assert.Equal(t, "call_1", pending.ID)
	assert.Equal(t, "search", pending.Name)
	assert.Equal(t, core.ToolStatusPending, pending.Status)

	running := events[2].ToolCall
	require.NotNil(t, running)
	assert.Equal(t, core.ToolStatusRunning, running.Status)
	assert.JSONEq(t, `{"q":"go"}`, string(running.Arguments))

	assert.Equal(t, core.EventStreamEnd, events[3].Type)
}

func TestTranslator_ContentFilterEndsAsError(t *testing.T) {
	events, err := translate(t, chunks(t,
		chunk(`{"content":"par"}`, ""),
		chunk(`{}`, "content_filter"),
	))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, core.EventStreamError, events[2].Type)
	assert.Equal(t, "content_filter", events[2].Reason)
}

func TestTranslator_StreamFailure(t *testing.T) {
	stream := chunks(t, chunk(`{"content":"par"}`, ""))
	stream.err = errors.New("unexpected EOF")

	events, err := translate(t, stream)
	require.Error(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, core.EventStreamError, events[2].Type)
	assert.Equal(t, "unexpected EOF", events[2].Reason)
}

func TestTranslator_IgnoresOtherChoices(t *testing.T) {
	raw := `{"id":"chatcmpl-2","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":1,"delta":{"content":"other"},"finish_reason":null}]}`
	events, err := translate(t, chunks(t, raw, chunk(`{"content":"mine"}`, "stop")))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, "mine", events[1].Text)
}
