// Package anthropic streams Claude responses from the Anthropic Messages API
// and translates them into lane events for one (conversation, agent) pair.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/chatstream/core"
)

// Options configures an Anthropic Source.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string

	// System is sent as the system prompt when non-empty.
	System string

	// AgentName is carried on the stream_start event.
	AgentName string
}

// eventStream is the subset of the SDK stream the translator consumes.
type eventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

// Source streams one assistant response into a lane.
type Source struct {
	client         *anthropic.Client
	opts           Options
	conversationID string
	agentID        string
	messages       []anthropic.MessageParam
}

// NewSource creates a Source backed by a new Anthropic client.
func NewSource(conversationID, agentID, prompt string, optFns ...func(o *Options)) *Source {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return newSource(&client, opts, conversationID, agentID, prompt)
}

// NewSourceFromClient creates a Source from an existing client.
func NewSourceFromClient(client *anthropic.Client, conversationID, agentID, prompt string, optFns ...func(o *Options)) *Source {
	return newSource(client, defaultOptions(optFns), conversationID, agentID, prompt)
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

func newSource(client *anthropic.Client, opts Options, conversationID, agentID, prompt string) *Source {
	return &Source{
		client:         client,
		opts:           opts,
		conversationID: conversationID,
		agentID:        agentID,
		messages:       []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	}
}

// Stream opens a streaming request and emits the lane events of the response.
func (s *Source) Stream(ctx context.Context, emit func(ev core.Event)) error {
	params := anthropic.MessageNewParams{
		Model:     s.opts.Model,
		MaxTokens: s.opts.MaxTokens,
		Messages:  s.messages,
	}
	if s.opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: s.opts.System}}
	}

	stream := s.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	return newTranslator(s.conversationID, s.agentID, s.opts.AgentName, emit).run(stream)
}

type pendingTool struct {
	id   string
	args strings.Builder
}

// translator maps Anthropic stream events onto one lane. Tool-use blocks are
// reported as pending when they open and running once their input is complete.
type translator struct {
	conversationID string
	agentID        string
	agentName      string
	emit           func(ev core.Event)

	started bool
	ended   bool
	tools   map[int64]*pendingTool
}

func newTranslator(conversationID, agentID, agentName string, emit func(ev core.Event)) *translator {
	return &translator{
		conversationID: conversationID,
		agentID:        agentID,
		agentName:      agentName,
		emit:           emit,
		tools:          make(map[int64]*pendingTool),
	}
}

func (t *translator) run(stream eventStream) error {
	for stream.Next() {
		t.handle(stream.Current())
	}

	err := stream.Err()
	switch {
	case err != nil:
		if t.started && !t.ended {
			t.emit(core.NewStreamErrorEvent(t.conversationID, t.agentID, err.Error()))
		}
		return fmt.Errorf("anthropic streaming error: %w", err)
	case t.started && !t.ended:
		t.emit(core.NewStreamErrorEvent(t.conversationID, t.agentID, "stream closed before message_stop"))
	}

	return nil
}

func (t *translator) handle(ev anthropic.MessageStreamEventUnion) {
	switch e := ev.AsAny().(type) {
	case anthropic.MessageStartEvent:
		t.start(e.Message.ID)
	case anthropic.ContentBlockStartEvent:
		t.start("")
		if e.ContentBlock.Type != "tool_use" {
			return
		}
		block := e.ContentBlock.AsToolUse()
		t.tools[e.Index] = &pendingTool{id: block.ID}
		t.emit(core.NewToolCallEvent(t.conversationID, t.agentID, core.ToolCallPatch{
			ID:     block.ID,
			Name:   block.Name,
			Status: core.ToolStatusPending,
		}))
	case anthropic.ContentBlockDeltaEvent:
		t.start("")
		switch d := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				t.emit(core.NewTokenEvent(t.conversationID, t.agentID, d.Text))
			}
		case anthropic.InputJSONDelta:
			if tool, ok := t.tools[e.Index]; ok {
				tool.args.WriteString(d.PartialJSON)
			}
		}
	case anthropic.ContentBlockStopEvent:
		tool, ok := t.tools[e.Index]
		if !ok {
			return
		}
		delete(t.tools, e.Index)
		t.emit(core.NewToolCallEvent(t.conversationID, t.agentID, core.ToolCallPatch{
			ID:        tool.id,
			Arguments: rawArguments(tool.args.String()),
			Status:    core.ToolStatusRunning,
		}))
	case anthropic.MessageStopEvent:
		if t.started && !t.ended {
			t.ended = true
			t.emit(core.NewStreamEndEvent(t.conversationID, t.agentID))
		}
	}
}

// start opens the lane on the first event. The provider message id is reused
// as the message id when available.
func (t *translator) start(messageID string) {
	if t.started {
		return
	}
	t.started = true
	t.emit(core.NewStreamStartEvent(t.conversationID, t.agentID, t.agentName, messageID))
}

// rawArguments keeps well-formed tool input as is and quotes anything else so
// the patch always carries valid JSON.
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
