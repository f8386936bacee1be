// Package sqlite provides a durable MessageStore on top of SQLite using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/chatstream/core"
)

// Store persists finalized messages in a single SQLite table. Messages are
// returned in insertion order; saving an id twice for a conversation is a
// no-op.
type Store struct {
	db *sql.DB
}

var (
	_ core.MessageStore       = (*Store)(nil)
	_ core.ConversationLister = (*Store)(nil)
)

// Open opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		agent_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		tool_calls TEXT NOT NULL DEFAULT '[]',
		attachments TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		errored INTEGER NOT NULL DEFAULT 0,
		error_reason TEXT NOT NULL DEFAULT '',
		UNIQUE (conversation_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveMessage inserts msg unless its id is already stored for the conversation.
func (s *Store) SaveMessage(ctx context.Context, msg core.Message) error {
	toolCalls, err := marshalList(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}
	attachments, err := marshalList(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	errored := 0
	if msg.Errored {
		errored = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
			(id, conversation_id, role, agent_id, agent_name, content, tool_calls, attachments, created_at, errored, error_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.AgentID, msg.AgentName, msg.Content,
		toolCalls, attachments, msg.Timestamp.UnixNano(), errored, msg.ErrorReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}

	return nil
}

// ListMessages returns the stored history of a conversation in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, agent_id, agent_name, content, tool_calls, attachments, created_at, errored, error_reason
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var (
			m           core.Message
			role        string
			toolCalls   string
			attachments string
			createdAt   int64
			errored     int
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.AgentID, &m.AgentName, &m.Content,
			&toolCalls, &attachments, &createdAt, &errored, &m.ErrorReason); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = core.Role(role)
		m.Timestamp = time.Unix(0, createdAt).UTC()
		m.Errored = errored != 0
		if err := unmarshalList(toolCalls, &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to decode tool calls of %s: %w", m.ID, err)
		}
		if err := unmarshalList(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments of %s: %w", m.ID, err)
		}
		out = append(out, m)
	}

	return out, rows.Err()
}

// Conversations returns the ids of all conversations with stored messages,
// ordered by their first message.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id
		FROM messages
		GROUP BY conversation_id
		ORDER BY MIN(seq)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalList[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalList[T any](s string, dst *[]T) error {
	if s == "" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}
