package agent

import (
	"context"

	"github.com/haasonsaas/tenex/internal/store"
	"github.com/haasonsaas/tenex/pkg/models"
)

// conversations is one agent's view onto the shared store. A thread id on
// the wire is shared by every responder; each agent keeps its own history
// for it, so store keys carry the agent name.
type conversations struct {
	agent string
	store store.Store
}

func (c conversations) key(conversationID string) string {
	return c.agent + ":" + conversationID
}

// New allocates an empty conversation under this agent's key.
func (c conversations) New(conversationID string) *models.Conversation {
	return models.NewConversation(c.key(conversationID))
}

func (c conversations) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return c.store.Load(ctx, c.key(conversationID))
}

// Save persists a conversation previously allocated or loaded through this
// index; its ID already carries the agent scope.
func (c conversations) Save(ctx context.Context, conv *models.Conversation) error {
	return c.store.Save(ctx, conv)
}

func (c conversations) Append(ctx context.Context, conversationID string, msg *models.Message) error {
	return c.store.AppendMessage(ctx, c.key(conversationID), msg)
}
