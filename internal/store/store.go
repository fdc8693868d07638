// Package store persists conversations and the processed-event index.
// Three backends share one contract: an in-memory store for tests and
// local runs, a JSON file store, and a SQLite store. All backends
// serialise writes per conversation id and keep the processed-event set
// monotonic.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/tenex/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("store: conversation not found")

// Store is the interface for conversation persistence.
type Store interface {
	// Load returns the conversation with the given id, or ErrNotFound.
	Load(ctx context.Context, conversationID string) (*models.Conversation, error)

	// Save writes the full conversation, stamping UpdatedAt.
	Save(ctx context.Context, conversation *models.Conversation) error

	// AppendMessage appends one message to an existing conversation.
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error

	// Delete removes a conversation. Missing ids are not an error.
	Delete(ctx context.Context, conversationID string) error

	// IsProcessed reports whether the event id has been marked processed.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records an event id as processed. Marking the same id
	// again is a no-op.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error

	// Cleanup deletes conversations untouched since olderThan, along with
	// processed-event marks recorded before it, and returns the number of
	// conversations removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
