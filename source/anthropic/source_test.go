package anthropic

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatstream/core"
)

type sliceStream struct {
	events []anthropic.MessageStreamEventUnion
	pos    int
	err    error
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Current() anthropic.MessageStreamEventUnion { return s.events[s.pos-1] }

func (s *sliceStream) Err() error { return s.err }

func decode(t *testing.T, raw ...string) *sliceStream {
	t.Helper()
	s := &sliceStream{}
	for _, r := range raw {
		var ev anthropic.MessageStreamEventUnion
		require.NoError(t, json.Unmarshal([]byte(r), &ev))
		s.events = append(s.events, ev)
	}
	return s
}

const (
	messageStart = `{"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`
	textStart    = `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`
	textDelta1   = `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`
	textDelta2   = `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`
	textStop     = `{"type":"content_block_stop","index":0}`
	toolStart    = `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"get_weather","input":{}}}`
	toolDelta1   = `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`
	toolDelta2   = `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Berlin\"}"}}`
	toolStop     = `{"type":"content_block_stop","index":1}`
	messageDelta = `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}`
	messageStop  = `{"type":"message_stop"}`
)

func translate(t *testing.T, stream eventStream) ([]core.Event, error) {
	t.Helper()
	var events []core.Event
	err := newTranslator("conv-1", "claude", "Claude", func(ev core.Event) {
		events = append(events, ev)
	}).run(stream)
	return events, err
}

func types(events []core.Event) []core.EventType {
	out := make([]core.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestTranslator_TextAndToolUse(t *testing.T) {
	events, err := translate(t, decode(t,
		messageStart, textStart, textDelta1, textDelta2, textStop,
		toolStart, toolDelta1, toolDelta2, toolStop,
		messageDelta, messageStop,
	))
	require.NoError(t, err)

	assert.Equal(t, []core.EventType{
		core.EventStreamStart,
		core.EventToken,
		core.EventToken,
		core.EventToolCallUpdate,
		core.EventToolCallUpdate,
		core.EventStreamEnd,
	}, types(events))

	start := events[0]
	assert.Equal(t, "msg_01", start.MessageID)
	assert.Equal(t, "Claude", start.AgentName)
	assert.Equal(t, "conv-1", start.ConversationID)
	assert.Equal(t, "claude", start.AgentID)

	assert.Equal(t, "Hel", events[1].Text)
	assert.Equal(t, "lo", events[2].Text)

	pending := events[3].ToolCall
	require.NotNil(t, pending)
	assert.Equal(t, "toolu_01", pending.ID)
	assert.Equal(t, "get_weather", pending.Name)
	assert.Equal(t, core.ToolStatusPending, pending.Status)

	running := events[4].ToolCall
	require.NotNil(t, running)
	assert.Equal(t, core.ToolStatusRunning, running.Status)
	assert.JSONEq(t, `{"city":"Berlin"}`, string(running.Arguments))

	for _, ev := range events {
		assert.NoError(t, ev.Validate())
	}
}

func TestTranslator_StreamErrorAfterStart(t *testing.T) {
	stream := decode(t, messageStart, textStart, textDelta1)
	stream.err = errors.New("connection reset")

	events, err := translate(t, stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, core.EventStreamError, last.Type)
	assert.Equal(t, "connection reset", last.Reason)
}

func TestTranslator_ErrorBeforeStartEmitsNothing(t *testing.T) {
	events, err := translate(t, &sliceStream{err: errors.New("unauthorized")})
	require.Error(t, err)
	assert.Empty(t, events)
}

func TestTranslator_TruncatedStreamEndsWithError(t *testing.T) {
	events, err := translate(t, decode(t, messageStart, textStart, textDelta1))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, core.EventStreamError, events[2].Type)
}

func TestRawArguments(t *testing.T) {
	assert.Equal(t, `{}`, string(rawArguments("  ")))
	assert.Equal(t, `{"a":1}`, string(rawArguments(`{"a":1}`)))
	assert.Equal(t, `"{\"a\":"`, string(rawArguments(`{"a":`)))
}
