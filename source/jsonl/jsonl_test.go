package jsonl

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatstream/core"
	"github.com/hupe1980/chatstream/internal/testutil"
	"github.com/hupe1980/chatstream/source"
)

func TestEncoderDecoder(t *testing.T) {
	events := testutil.NewLaneScript("conv-1", "agent-a").
		Message("msg-1").
		Start().
		Tokens("Hel", "lo").
		ToolCall("t1", "search", map[string]string{"q": "go"}).
		Fail("connection reset").
		Events()

	var buf bytes.Buffer
	require.NoError(t, WriteAll(&buf, events))
	assert.Equal(t, len(events), strings.Count(buf.String(), "\n"))

	dec := NewDecoder(&buf)
	for i, want := range events {
		got, err := dec.Decode()
		require.NoError(t, err, "event %d", i)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Text, got.Text)
		assert.Equal(t, want.MessageID, got.MessageID)
		assert.Equal(t, want.Reason, got.Reason)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
	}
	_, err := dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_SkipsBlankLinesAndReportsLine(t *testing.T) {
	input := "\n" +
		`{"type":"token","conversation_id":"c","agent_id":"a","text":"x"}` + "\n" +
		"   \n" +
		`{"type":"token",` + "\n"

	dec := NewDecoder(strings.NewReader(input))

	ev, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "x", ev.Text)
	assert.Equal(t, 2, dec.Line())

	_, err = dec.Decode()
	require.ErrorIs(t, err, core.ErrMalformedEvent)
	assert.Contains(t, err.Error(), "line 4")
}

func TestSource_ReplaysFile(t *testing.T) {
	events := testutil.Interleave(
		testutil.NewLaneScript("conv-1", "agent-a").Start().Tokens("a1", "a2").End().Events(),
		testutil.NewLaneScript("conv-1", "agent-b").Start().Tokens("b1").End().Events(),
	)

	path := filepath.Join(t.TempDir(), "trace.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteAll(f, events))
	require.NoError(t, f.Close())

	got, err := source.Collect(context.Background(), NewFileSource(path))
	require.NoError(t, err)
	require.Len(t, got, len(events))
	for i := range events {
		assert.Equal(t, events[i].AgentID, got[i].AgentID)
		assert.Equal(t, events[i].Type, got[i].Type)
	}
}

func TestSource_MissingFile(t *testing.T) {
	_, err := source.Collect(context.Background(), NewFileSource(filepath.Join(t.TempDir(), "nope.jsonl")))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSource_SkipMalformed(t *testing.T) {
	input := `{"type":"token","conversation_id":"c","agent_id":"a","text":"1"}` + "\n" +
		"not json\n" +
		`{"type":"token","conversation_id":"c","agent_id":"a","text":"2"}` + "\n"

	_, err := source.Collect(context.Background(), NewSource(strings.NewReader(input)))
	require.ErrorIs(t, err, core.ErrMalformedEvent)

	got, err := source.Collect(context.Background(), NewSource(strings.NewReader(input), func(o *Options) {
		o.SkipMalformed = true
	}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[1].Text)
}

func TestSource_PacedReplayHonoursCancel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAll(&buf, testutil.NewLaneScript("c", "a").Start().Tokens("1", "2", "3").End().Events()))

	ctx, cancel := context.WithCancel(context.Background())
	src := NewSource(&buf, func(o *Options) { o.Pace = time.Hour })

	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, func(core.Event) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("paced replay did not stop on cancel")
	}
}
