package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/tenantagent/pkg/models"
)

const createMessagesTable = `
	CREATE TABLE IF NOT EXISTS conversation_messages (
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_results TEXT,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	)
`

// dialect captures the differences between the SQL backends.
type dialect struct {
	name        string
	positional  bool
	schemaStmts []string
}

var (
	postgresDialect = dialect{
		name:        "postgres",
		positional:  true,
		schemaStmts: []string{createMessagesTable},
	}
	sqliteDialect = dialect{
		name:        "sqlite",
		schemaStmts: []string{createMessagesTable},
	}
)

// rebind rewrites ? placeholders into $N for drivers that need positional
// parameters.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements HistoryStore on database/sql. The same queries serve
// Postgres (lib/pq) and SQLite (modernc.org/sqlite).
type SQLStore struct {
	db       *sql.DB
	dialect  dialect
	observer QueryObserver
}

// DB exposes the underlying database connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Backend returns the dialect name, used as a metrics label.
func (s *SQLStore) Backend() string {
	return s.dialect.name
}

// WithObserver records query latency on obs.
func (s *SQLStore) WithObserver(obs QueryObserver) *SQLStore {
	s.observer = obs
	return s
}

// Migrate creates the history schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schemaStmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Load retrieves the history of a conversation in chronological order.
func (s *SQLStore) Load(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := validateConversationID(conversationID); err != nil {
		return nil, err
	}
	defer s.observe("load", time.Now())

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, role, content, tool_calls, tool_results, created_at
		FROM conversation_messages WHERE conversation_id = ? ORDER BY seq ASC
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg         models.Message
			role        string
			toolCalls   sql.NullString
			toolResults sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &toolResults, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ConversationID = conversationID
		msg.Role = models.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()

		if toolCalls.Valid && toolCalls.String != "" && toolCalls.String != "null" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if toolResults.Valid && toolResults.String != "" && toolResults.String != "null" {
			if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool results: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// Replace swaps the stored history of a conversation inside one transaction.
func (s *SQLStore) Replace(ctx context.Context, conversationID string, messages []models.Message) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	defer s.observe("replace", time.Now())

	normalized := normalizeMessages(conversationID, messages)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after a successful commit returns sql.ErrTxDone.
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		"DELETE FROM conversation_messages WHERE conversation_id = ?"), conversationID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	insert := s.dialect.rebind(`
		INSERT INTO conversation_messages (conversation_id, seq, id, role, content, tool_calls, tool_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, msg := range normalized {
		toolCalls, err := marshalNullable(msg.ToolCalls, len(msg.ToolCalls))
		if err != nil {
			return fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		toolResults, err := marshalNullable(msg.ToolResults, len(msg.ToolResults))
		if err != nil {
			return fmt.Errorf("failed to marshal tool results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			conversationID,
			i,
			msg.ID,
			string(msg.Role),
			msg.Content,
			toolCalls,
			toolResults,
			msg.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// Delete removes every stored turn of a conversation.
func (s *SQLStore) Delete(ctx context.Context, conversationID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	defer s.observe("delete", time.Now())

	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		"DELETE FROM conversation_messages WHERE conversation_id = ?"), conversationID); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) observe(operation string, start time.Time) {
	if s.observer == nil {
		return
	}
	s.observer.RecordHistoryQuery(operation, s.dialect.name, time.Since(start).Seconds())
}

func marshalNullable(v any, n int) (sql.NullString, error) {
	if n == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
