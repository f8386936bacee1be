package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatstream/core"
	"github.com/hupe1980/chatstream/store/sqlite"
)

var (
	historyDB           string
	historyConversation string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print conversations persisted in a sqlite message store",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := historyDB
		if path == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.Store.Path
		}

		store, err := sqlite.Open(path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()

		ids := []string{historyConversation}
		if historyConversation == "" {
			if ids, err = store.Conversations(ctx); err != nil {
				return err
			}
		}

		convs := make([]core.Conversation, 0, len(ids))
		for _, id := range ids {
			msgs, err := store.ListMessages(ctx, id)
			if err != nil {
				return err
			}
			convs = append(convs, conversationFromMessages(id, msgs))
		}

		return printConversations(cmd.OutOrStdout(), outputFormat, convs)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDB, "db", "", "Path to the sqlite database (default: store.path from config)")
	historyCmd.Flags().StringVar(&historyConversation, "conversation", "", "Only print this conversation")
}

// conversationFromMessages rebuilds conversation metadata from stored rows.
func conversationFromMessages(id string, msgs []core.Message) core.Conversation {
	conv := core.Conversation{
		ID:       id,
		Type:     core.ConversationDirect,
		Messages: msgs,
	}
	for _, m := range msgs {
		if m.Role == core.RoleAssistant && m.AgentID != "" && !conv.HasParticipant(m.AgentID) {
			conv.Participants = append(conv.Participants, m.AgentID)
		}
		if m.Timestamp.After(conv.LastActivity) {
			conv.LastActivity = m.Timestamp
		}
	}
	if len(conv.Participants) > 1 {
		conv.Type = core.ConversationTeam
	}
	return conv
}
