package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/tenex/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs. Reads and writes operate on clones so callers never share
// state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	processed     map[string]time.Time
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		processed:     map[string]time.Time{},
	}
}

func (m *MemoryStore) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("load %q: %w", conversationID, ErrNotFound)
	}
	return conversation.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, conversation *models.Conversation) error {
	if conversation == nil || conversation.ID == "" {
		return fmt.Errorf("save: conversation with id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := conversation.Clone()
	if existing, ok := m.conversations[clone.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()
	m.conversations[clone.ID] = clone
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("append to %q: message is required", conversationID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, ok := m.conversations[conversationID]
	if !ok {
		return fmt.Errorf("append to %q: %w", conversationID, ErrNotFound)
	}
	conversation.AddMessage(*msg)
	conversation.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conversations, conversationID)
	return nil
}

func (m *MemoryStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; ok {
		return nil
	}
	m.processed[eventID] = at
	return nil
}

func (m *MemoryStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, conversation := range m.conversations {
		if conversation.UpdatedAt.Before(olderThan) {
			delete(m.conversations, id)
			removed++
		}
	}
	for eventID, at := range m.processed {
		if at.Before(olderThan) {
			delete(m.processed, eventID)
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
