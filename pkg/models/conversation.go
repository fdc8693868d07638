package models

import (
	"time"
)

// Phase labels the lifecycle stage of a conversation.
type Phase string

const (
	PhaseChat    Phase = "chat"
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
	PhaseReview  Phase = "review"
	PhaseChores  Phase = "chores"
)

// PhaseTransition records one phase change on a conversation.
type PhaseTransition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// Conversation is an ordered message history keyed by a thread id.
//
// The id is the protocol thread id (root or seed event id) for a team's
// parent conversation; delegated sub-conversations derive their id as
// "<parent>-<member>". The first message of every conversation is the
// system message.
type Conversation struct {
	ID               string            `json:"id"`
	Title            string            `json:"title,omitempty"`
	Phase            Phase             `json:"phase"`
	Messages         []Message         `json:"messages"`
	Participants     []string          `json:"participants,omitempty"` // pubkeys, insertion-ordered set
	CurrentAgent     string            `json:"current_agent,omitempty"`
	PhaseStartedAt   time.Time         `json:"phase_started_at,omitempty"`
	PhaseTransitions []PhaseTransition `json:"phase_transitions,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewConversation creates an empty conversation in the chat phase.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Phase:     PhaseChat,
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message, preserving insertion order.
func (c *Conversation) AddMessage(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
}

// AddParticipant records a pubkey with set semantics.
func (c *Conversation) AddParticipant(pubkey string) {
	if pubkey == "" {
		return
	}
	for _, p := range c.Participants {
		if p == pubkey {
			return
		}
	}
	c.Participants = append(c.Participants, pubkey)
}

// SetPhase transitions the conversation to a new phase, updating
// PhaseStartedAt atomically with the inserted transition record.
// Transitioning to the current phase is a no-op.
func (c *Conversation) SetPhase(to Phase) {
	if c.Phase == to {
		return
	}
	now := time.Now()
	c.PhaseTransitions = append(c.PhaseTransitions, PhaseTransition{From: c.Phase, To: to, At: now})
	c.Phase = to
	c.PhaseStartedAt = now
	c.UpdatedAt = now
}

// SystemMessage returns the leading system message, or nil when absent.
func (c *Conversation) SystemMessage() *Message {
	if len(c.Messages) == 0 || c.Messages[0].Role != RoleSystem {
		return nil
	}
	return &c.Messages[0]
}

// LastMessage returns the most recent message, or nil when empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LastUserMessage returns the most recent user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return &c.Messages[i]
		}
	}
	return nil
}

// SetMetadata writes a metadata key, allocating the map on first use.
func (c *Conversation) SetMetadata(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	c.UpdatedAt = time.Now()
}

// Clone returns a deep copy so callers can mutate without racing readers.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		clone.Messages[i] = msg
		if msg.ToolCalls != nil {
			clone.Messages[i].ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
		}
		if msg.Usage != nil {
			usage := *msg.Usage
			clone.Messages[i].Usage = &usage
		}
		if msg.Metadata != nil {
			meta := make(map[string]any, len(msg.Metadata))
			for k, v := range msg.Metadata {
				meta[k] = v
			}
			clone.Messages[i].Metadata = meta
		}
	}
	clone.Participants = append([]string(nil), c.Participants...)
	clone.PhaseTransitions = append([]PhaseTransition(nil), c.PhaseTransitions...)
	if c.Metadata != nil {
		clone.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
