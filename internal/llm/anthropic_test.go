package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/tenex/pkg/models"
)

type stubMessages struct {
	params anthropic.MessageNewParams
	calls  int
	resp   *anthropic.Message
	err    error
}

func (s *stubMessages) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	s.calls++
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newStubAnthropic(t *testing.T, stub *stubMessages, caching bool) *AnthropicProvider {
	t.Helper()
	return newAnthropicProvider(stub, AnthropicConfig{Caching: caching})
}

func TestAnthropicGenerate_SystemOutOfBand(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{
			Model:   anthropic.Model("claude-sonnet-4-20250514"),
			Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "hello there"}},
			Usage:   anthropic.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	p := newStubAnthropic(t, stub, false)

	resp, err := p.Generate(context.Background(), []models.Message{
		models.NewSystemMessage("You are Alice."),
		models.NewUserMessage("hi", "evt-1"),
	}, GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(stub.params.System) != 1 || stub.params.System[0].Text != "You are Alice." {
		t.Fatalf("system not carried out-of-band: %+v", stub.params.System)
	}
	if len(stub.params.Messages) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(stub.params.Messages))
	}
	if stub.params.Model != anthropic.Model(defaultAnthropicModel) {
		t.Errorf("model = %q, want default", stub.params.Model)
	}
	if stub.params.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("max tokens = %d, want %d", stub.params.MaxTokens, defaultAnthropicMaxTokens)
	}

	if resp.Content != "hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAnthropicGenerate_ToolUse(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{
				{Type: "text", Text: "running it"},
				{Type: "tool_use", ID: "call-1", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)},
			},
		},
	}
	p := newStubAnthropic(t, stub, false)

	resp, err := p.Generate(context.Background(), []models.Message{
		models.NewUserMessage("list files", ""),
	}, GenerateOptions{
		Tools: []models.ToolSpec{{
			Name:        "shell",
			Description: "Run a command.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{"command": map[string]any{"type": "string"}}},
		}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(stub.params.Tools) != 1 {
		t.Fatalf("expected 1 advertised tool, got %d", len(stub.params.Tools))
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call-1" || call.Name != "shell" {
		t.Errorf("call = %+v", call)
	}
	if call.Arguments["command"] != "ls" {
		t.Errorf("arguments = %v", call.Arguments)
	}
	if resp.Content != "running it" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestAnthropicGenerate_GroupsToolResults(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "done"}},
		},
	}
	p := newStubAnthropic(t, stub, false)

	history := []models.Message{
		models.NewUserMessage("run both", ""),
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "c1", Name: "shell", Arguments: map[string]any{"command": "ls"}},
				{ID: "c2", Name: "shell", Arguments: map[string]any{"command": "pwd"}},
			},
		},
		models.NewToolMessage("c1", "file.txt"),
		models.NewToolMessage("c2", "Error: no such directory"),
	}
	if _, err := p.Generate(context.Background(), history, GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// user, assistant, then a single user turn carrying both tool results.
	if len(stub.params.Messages) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(stub.params.Messages))
	}
	last := stub.params.Messages[2]
	if len(last.Content) != 2 {
		t.Fatalf("expected 2 tool_result blocks in final turn, got %d", len(last.Content))
	}
}

func TestAnthropicGenerate_Overrides(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "ok"}}},
	}
	p := newStubAnthropic(t, stub, false)

	_, err := p.Generate(context.Background(), []models.Message{
		models.NewUserMessage("hi", ""),
	}, GenerateOptions{Model: "claude-3-5-haiku-latest", MaxTokens: 99})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := string(stub.params.Model); got != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", got)
	}
	if stub.params.MaxTokens != 99 {
		t.Errorf("max tokens = %d", stub.params.MaxTokens)
	}
}

func TestAnthropicGenerate_CacheUsage(t *testing.T) {
	stub := &stubMessages{
		resp: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "ok"}},
			Usage: anthropic.Usage{
				InputTokens:              4,
				OutputTokens:             2,
				CacheCreationInputTokens: 120,
				CacheReadInputTokens:     30,
			},
		},
	}
	p := newStubAnthropic(t, stub, true)

	if got := p.Name(); got != ProviderAnthropicCache {
		t.Fatalf("Name() = %q", got)
	}

	resp, err := p.Generate(context.Background(), []models.Message{
		models.NewSystemMessage("long shared prefix"),
		models.NewUserMessage("hi", ""),
	}, GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Usage == nil {
		t.Fatal("usage missing")
	}
	if resp.Usage.CacheCreateTokens != 120 || resp.Usage.CacheReadTokens != 30 {
		t.Errorf("cache tokens = %+v", resp.Usage)
	}
}

func TestAnthropicGenerate_RequiresConversation(t *testing.T) {
	stub := &stubMessages{}
	p := newStubAnthropic(t, stub, false)

	_, err := p.Generate(context.Background(), []models.Message{
		models.NewSystemMessage("only a system message"),
	}, GenerateOptions{})
	if err == nil {
		t.Fatal("expected error for empty conversation")
	}
	if stub.calls != 0 {
		t.Errorf("provider called %d times, want 0", stub.calls)
	}
}

func TestAnthropicGenerate_WrapsErrors(t *testing.T) {
	stub := &stubMessages{err: errors.New("connection reset")}
	p := newStubAnthropic(t, stub, false)

	_, err := p.Generate(context.Background(), []models.Message{
		models.NewUserMessage("hi", ""),
	}, GenerateOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	perr, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if perr.Provider != ProviderAnthropic {
		t.Errorf("provider = %q", perr.Provider)
	}
	if !perr.Retryable() {
		t.Error("connection reset should classify as retryable")
	}
}

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
