package models

import (
	"testing"
	"time"
)

func TestConversationAddParticipant(t *testing.T) {
	conv := NewConversation("thread-1")
	conv.AddParticipant("pk1")
	conv.AddParticipant("pk2")
	conv.AddParticipant("pk1")
	conv.AddParticipant("")

	if len(conv.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(conv.Participants))
	}
	if conv.Participants[0] != "pk1" || conv.Participants[1] != "pk2" {
		t.Errorf("unexpected participant order: %v", conv.Participants)
	}
}

func TestConversationSetPhase(t *testing.T) {
	conv := NewConversation("thread-1")
	if conv.Phase != PhaseChat {
		t.Fatalf("expected initial phase chat, got %s", conv.Phase)
	}

	conv.SetPhase(PhasePlan)
	if conv.Phase != PhasePlan {
		t.Errorf("expected phase plan, got %s", conv.Phase)
	}
	if len(conv.PhaseTransitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(conv.PhaseTransitions))
	}
	tr := conv.PhaseTransitions[0]
	if tr.From != PhaseChat || tr.To != PhasePlan {
		t.Errorf("unexpected transition %+v", tr)
	}
	if conv.PhaseStartedAt.IsZero() {
		t.Error("expected PhaseStartedAt to be set")
	}
	if !tr.At.Equal(conv.PhaseStartedAt) {
		t.Error("expected PhaseStartedAt to match the transition record")
	}

	// Same-phase transition is a no-op.
	conv.SetPhase(PhasePlan)
	if len(conv.PhaseTransitions) != 1 {
		t.Errorf("expected no-op transition, got %d records", len(conv.PhaseTransitions))
	}
}

func TestConversationMessageAccessors(t *testing.T) {
	conv := NewConversation("thread-1")
	if conv.SystemMessage() != nil {
		t.Error("expected nil system message on empty conversation")
	}
	if conv.LastUserMessage() != nil {
		t.Error("expected nil last user message on empty conversation")
	}

	conv.AddMessage(NewSystemMessage("directives"))
	conv.AddMessage(NewUserMessage("hello", "ev1"))
	conv.AddMessage(NewAssistantMessage("alice", "hi", nil))
	conv.AddMessage(NewUserMessage("again", "ev2"))

	if sys := conv.SystemMessage(); sys == nil || sys.Content != "directives" {
		t.Errorf("unexpected system message: %+v", sys)
	}
	if last := conv.LastMessage(); last == nil || last.EventID != "ev2" {
		t.Errorf("unexpected last message: %+v", last)
	}
	if user := conv.LastUserMessage(); user == nil || user.EventID != "ev2" {
		t.Errorf("unexpected last user message: %+v", user)
	}
}

func TestConversationClone(t *testing.T) {
	conv := NewConversation("thread-1")
	conv.AddMessage(NewSystemMessage("sys"))
	conv.AddMessage(Message{
		Role:      RoleAssistant,
		Content:   "calling",
		Timestamp: time.Now(),
		ToolCalls: []ToolCall{{ID: "tc1", Name: "shell", Arguments: map[string]any{"command": "ls"}}},
		Usage:     &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	conv.AddParticipant("pk1")
	conv.SetMetadata("team", "t1")

	clone := conv.Clone()
	clone.Messages[0].Content = "mutated"
	clone.Messages[1].ToolCalls[0].Name = "mutated"
	clone.Messages[1].Usage.PromptTokens = 999
	clone.Participants[0] = "mutated"
	clone.Metadata["team"] = "mutated"

	if conv.Messages[0].Content != "sys" {
		t.Error("clone shares message backing array")
	}
	if conv.Messages[1].ToolCalls[0].Name != "shell" {
		t.Error("clone shares tool call slice")
	}
	if conv.Messages[1].Usage.PromptTokens != 10 {
		t.Error("clone shares usage pointer")
	}
	if conv.Participants[0] != "pk1" {
		t.Error("clone shares participants slice")
	}
	if conv.Metadata["team"] != "t1" {
		t.Error("clone shares metadata map")
	}
}

func TestUsageAdd(t *testing.T) {
	total := &Usage{}
	total.Add(&Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, CacheCreateTokens: 50, Cost: 0.01})
	total.Add(&Usage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50, CacheCreateTokens: 30, CacheReadTokens: 80, Cost: 0.02})
	total.Add(nil)

	if total.PromptTokens != 140 || total.CompletionTokens != 30 || total.TotalTokens != 170 {
		t.Errorf("unexpected token sums: %+v", total)
	}
	if total.CacheCreateTokens != 50 {
		t.Errorf("expected max cache create 50, got %d", total.CacheCreateTokens)
	}
	if total.CacheReadTokens != 80 {
		t.Errorf("expected max cache read 80, got %d", total.CacheReadTokens)
	}
	if total.Cost != 0.03 {
		t.Errorf("expected summed cost 0.03, got %f", total.Cost)
	}
}
