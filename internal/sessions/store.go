// Package sessions persists per-conversation history and serializes runs that
// touch the same conversation.
package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/tenantagent/internal/config"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

// HistoryStore is the interface for conversation history persistence.
//
// Load returns the turns of a conversation in chronological order, or an
// empty slice when the conversation has never completed a run. Replace swaps
// the entire stored history atomically.
type HistoryStore interface {
	Load(ctx context.Context, conversationID string) ([]models.Message, error)
	Replace(ctx context.Context, conversationID string, messages []models.Message) error
	Delete(ctx context.Context, conversationID string) error
	Close() error
}

// QueryObserver receives the latency of every history query.
type QueryObserver interface {
	RecordHistoryQuery(operation, backend string, durationSeconds float64)
}

// NewStore builds the history backend selected by cfg.
func NewStore(ctx context.Context, cfg config.SessionsConfig) (HistoryStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, PostgresConfig{
			DSN:             cfg.DatabaseURL,
			MaxOpenConns:    cfg.MaxConnections,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown sessions backend %q", cfg.Backend)
	}
}

func validateConversationID(conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("conversation ID is required")
	}
	return nil
}

// normalizeMessages stamps ids, the conversation id and timestamps onto a history
// before it is written.
func normalizeMessages(conversationID string, messages []models.Message) []models.Message {
	out := models.CloneMessages(messages)
	now := time.Now().UTC()
	for i := range out {
		out[i].ConversationID = conversationID
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].CreatedAt.IsZero() {
			out[i].CreatedAt = now
		}
	}
	return out
}
