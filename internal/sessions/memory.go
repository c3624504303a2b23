package sessions

import (
	"context"
	"sync"

	"github.com/haasonsaas/tenantagent/pkg/models"
)

// maxMessagesPerConversation limits messages kept per conversation to prevent
// unbounded memory growth. The oldest turns are dropped first.
const maxMessagesPerConversation = 1000

// MemoryStore provides an in-memory HistoryStore for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.Message
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: map[string][]models.Message{},
	}
}

func (m *MemoryStore) Load(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := validateConversationID(conversationID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.messages[conversationID]
	if len(stored) == 0 {
		return []models.Message{}, nil
	}
	return models.CloneMessages(stored), nil
}

func (m *MemoryStore) Replace(ctx context.Context, conversationID string, messages []models.Message) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	clone := normalizeMessages(conversationID, messages)
	if len(clone) > maxMessagesPerConversation {
		clone = clone[len(clone)-maxMessagesPerConversation:]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[conversationID] = clone
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, conversationID)
	return nil
}

// Len reports how many conversations hold history.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *MemoryStore) Close() error {
	return nil
}
