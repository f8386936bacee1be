package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatstream/core"
	cstest "github.com/hupe1980/chatstream/internal/testutil"
	"github.com/hupe1980/chatstream/source/jsonl"
)

func writeTrace(t *testing.T, dir string) string {
	t.Helper()
	events := cstest.Interleave(
		cstest.NewLaneScript("conv-1", "agent-a").Name("Ada").Message("m-a").Start().Tokens("Hello ", "there").End().Events(),
		cstest.NewLaneScript("conv-1", "agent-b").Name("Bob").Message("m-b").Start().
			ToolCall("t1", "search", map[string]string{"q": "go"}).
			Tokens("Par").Fail("connection reset").Events(),
	)

	path := filepath.Join(dir, "trace.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jsonl.WriteAll(f, events))
	require.NoError(t, f.Close())
	return path
}

func TestReplayAndHistory(t *testing.T) {
	dir := t.TempDir()
	trace := writeTrace(t, dir)
	db := filepath.Join(dir, "chat.db")

	cfgPath := filepath.Join(dir, "chatstream.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
frame_rate: 120
logging:
  level: error
store:
  driver: sqlite
  path: `+db+`
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"replay", trace, "--config", cfgPath, "--format", "json"})
	require.NoError(t, rootCmd.Execute())

	var convs []core.Conversation
	require.NoError(t, json.Unmarshal(out.Bytes(), &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, core.ConversationTeam, convs[0].Type)
	require.Len(t, convs[0].Messages, 2)

	out.Reset()
	rootCmd.SetArgs([]string{"history", "--db", db, "--format", "text"})
	require.NoError(t, rootCmd.Execute())

	text := out.String()
	assert.Contains(t, text, "=== conv-1 (team, 2 messages) ===")
	assert.Contains(t, text, "Ada: Hello there")
	assert.Contains(t, text, "Bob: Par (interrupted: connection reset)")
	assert.Contains(t, text, "tool search")
}

func TestPrintConversations_UnknownFormat(t *testing.T) {
	err := printConversations(&bytes.Buffer{}, "xml", nil)
	require.Error(t, err)
}

func TestPrintText_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printConversations(&buf, "text", nil))
	assert.Equal(t, "No conversations.\n", buf.String())
}

func TestConversationFromMessages(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	msgs := []core.Message{
		{ID: "1", Role: core.RoleUser, Content: "hi", Timestamp: ts},
		{ID: "2", Role: core.RoleAssistant, AgentID: "a", Timestamp: ts.Add(time.Second)},
	}

	conv := conversationFromMessages("conv-1", msgs)
	assert.Equal(t, core.ConversationDirect, conv.Type)
	assert.Equal(t, []string{"a"}, conv.Participants)
	assert.Equal(t, ts.Add(time.Second), conv.LastActivity)

	msgs = append(msgs, core.Message{ID: "3", Role: core.RoleAssistant, AgentID: "b", Timestamp: ts})
	assert.Equal(t, core.ConversationTeam, conversationFromMessages("conv-1", msgs).Type)
}
