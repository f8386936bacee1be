// Package openai streams chat completions from the OpenAI API and translates
// the chunk stream into lane events for one (conversation, agent) pair.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/chatstream/core"
)

// aggCall aggregates partial tool call deltas (id, name, arguments) until the
// choice reports a finish reason.
type aggCall struct {
	id        string
	name      string
	args      strings.Builder
	announced bool
}

// Options configure the OpenAI source.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string

	// System is sent as a system message when non-empty.
	System string

	// AgentName is carried on the stream_start event.
	AgentName string
}

// chunkStream is the subset of the SDK stream the translator consumes.
type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
}

// Source streams one chat completion into a lane.
type Source struct {
	client         *openai.Client
	opts           Options
	conversationID string
	agentID        string
	prompt         string
}

// NewSource creates a Source using a new client configured from the
// environment and Options.
func NewSource(conversationID, agentID, prompt string, optFns ...func(o *Options)) *Source {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Source{client: &client, opts: opts, conversationID: conversationID, agentID: agentID, prompt: prompt}
}

// NewSourceFromClient creates a Source from an existing client.
func NewSourceFromClient(client *openai.Client, conversationID, agentID, prompt string, optFns ...func(o *Options)) *Source {
	return &Source{client: client, opts: defaultOptions(optFns), conversationID: conversationID, agentID: agentID, prompt: prompt}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

func (s *Source) params() openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if s.opts.System != "" {
		messages = append(messages, openai.SystemMessage(s.opts.System))
	}
	messages = append(messages, openai.UserMessage(s.prompt))

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               s.opts.Model,
		Temperature:         openai.Float(s.opts.Temperature),
		MaxCompletionTokens: openai.Int(s.opts.MaxCompletionTokens),
	}
}

// Stream opens a streaming completion and emits the lane events of the
// first choice.
func (s *Source) Stream(ctx context.Context, emit func(ev core.Event)) error {
	stream := s.client.Chat.Completions.NewStreaming(ctx, s.params())
	defer stream.Close()

	return newTranslator(s.conversationID, s.agentID, s.opts.AgentName, emit).run(stream)
}

type translator struct {
	conversationID string
	agentID        string
	agentName      string
	emit           func(ev core.Event)

	started bool
	ended   bool
	toolAgg map[int64]*aggCall
}

func newTranslator(conversationID, agentID, agentName string, emit func(ev core.Event)) *translator {
	return &translator{
		conversationID: conversationID,
		agentID:        agentID,
		agentName:      agentName,
		emit:           emit,
		toolAgg:        make(map[int64]*aggCall),
	}
}

func (t *translator) run(stream chunkStream) error {
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Index != 0 {
				continue
			}
			t.start(ck.ID)
			t.emitTextDelta(ch)
			t.emitToolCallDeltas(ch)
			if ch.FinishReason != "" {
				t.finish(ch.FinishReason)
			}
		}
	}

	err := stream.Err()
	switch {
	case err != nil:
		if t.started && !t.ended {
			t.emit(core.NewStreamErrorEvent(t.conversationID, t.agentID, err.Error()))
		}
		return fmt.Errorf("openai streaming error: %w", err)
	case t.started && !t.ended:
		t.emit(core.NewStreamErrorEvent(t.conversationID, t.agentID, "stream closed without finish reason"))
	}

	return nil
}

func (t *translator) start(completionID string) {
	if t.started {
		return
	}
	t.started = true
	t.emit(core.NewStreamStartEvent(t.conversationID, t.agentID, t.agentName, completionID))
}

func (t *translator) emitTextDelta(ch openai.ChatCompletionChunkChoice) {
	if ch.Delta.Content == "" || t.ended {
		return
	}
	t.emit(core.NewTokenEvent(t.conversationID, t.agentID, ch.Delta.Content))
}

func (t *translator) emitToolCallDeltas(ch openai.ChatCompletionChunkChoice) {
	if t.ended {
		return
	}
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := t.toolAgg[tc.Index]
		if !ok {
			ac = &aggCall{}
			t.toolAgg[tc.Index] = ac
		}
		if tc.ID != "" {
			ac.id = tc.ID
		}
		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			ac.args.WriteString(tc.Function.Arguments)
		}
		if !ac.announced && ac.id != "" {
			ac.announced = true
			t.emit(core.NewToolCallEvent(t.conversationID, t.agentID, core.ToolCallPatch{
				ID:     ac.id,
				Name:   ac.name,
				Status: core.ToolStatusPending,
			}))
		}
	}
}

// finish reports every aggregated tool call as running with its complete
// arguments and closes the lane. A content_filter finish closes it as errored.
func (t *translator) finish(reason string) {
	if t.ended {
		return
	}
	t.ended = true

	indexes := make([]int64, 0, len(t.toolAgg))
	for idx := range t.toolAgg {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, idx := range indexes {
		ac := t.toolAgg[idx]
		if !ac.announced {
			continue
		}
		t.emit(core.NewToolCallEvent(t.conversationID, t.agentID, core.ToolCallPatch{
			ID:        ac.id,
			Name:      ac.name,
			Arguments: rawArguments(ac.args.String()),
			Status:    core.ToolStatusRunning,
		}))
	}

	if reason == "content_filter" {
		t.emit(core.NewStreamErrorEvent(t.conversationID, t.agentID, "content_filter"))
		return
	}
	t.emit(core.NewStreamEndEvent(t.conversationID, t.agentID))
}

func rawArguments(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}
