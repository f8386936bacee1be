package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/chatstream/core"
)

func printConversations(w io.Writer, format string, convs []core.Conversation) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(convs)
	case "text", "":
		printText(w, convs)
		return nil
	default:
		return fmt.Errorf("unknown format %q (valid: text, json)", format)
	}
}

func printText(w io.Writer, convs []core.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}

	for i, c := range convs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "=== %s (%s, %d messages) ===\n", c.ID, c.Type, len(c.Messages))
		if len(c.Participants) > 0 {
			fmt.Fprintf(w, "participants: %s\n", strings.Join(c.Participants, ", "))
		}
		for _, m := range c.Messages {
			printMessage(w, m)
		}
	}
}

func printMessage(w io.Writer, m core.Message) {
	author := string(m.Role)
	if m.Role == core.RoleAssistant {
		author = m.AgentID
		if m.AgentName != "" {
			author = m.AgentName
		}
	}

	fmt.Fprintf(w, "[%s] %s: %s", m.Timestamp.Format("15:04:05"), author, m.Content)
	if m.Errored {
		fmt.Fprintf(w, " (interrupted: %s)", m.ErrorReason)
	}
	fmt.Fprintln(w)

	for _, tc := range m.ToolCalls {
		fmt.Fprintf(w, "    tool %s %s [%s]", tc.Name, string(tc.Arguments), tc.Status)
		switch {
		case tc.Error != "":
			fmt.Fprintf(w, " error: %s", tc.Error)
		case tc.Output != "":
			fmt.Fprintf(w, " -> %s", tc.Output)
		}
		fmt.Fprintln(w)
	}
}
