package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/eventbus"
)

// LessonConfig configures the learn tool for one agent.
type LessonConfig struct {
	// AgentEventID is the id of the agent's kind-4199 definition event,
	// referenced by each published lesson.
	AgentEventID string

	// Bus and Signer publish lessons under the agent's own key.
	Bus    eventbus.Bus
	Signer *eventbus.Signer

	Logger *slog.Logger
}

// LearnTool records a lesson the agent has learned as a kind-4124 event, so
// future sessions can retrieve it from the network.
type LearnTool struct {
	config LessonConfig
	logger *slog.Logger
}

// NewLearnTool creates a learn tool.
func NewLearnTool(config LessonConfig) *LearnTool {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LearnTool{config: config, logger: logger.With("component", "learn-tool")}
}

func (t *LearnTool) Name() string { return "learn" }

func (t *LearnTool) Description() string {
	return "Record a lesson learned so it is available in future conversations."
}

func (t *LearnTool) Params() []Param {
	return []Param{
		{Name: "title", Type: "string", Required: true, Description: "Short title for the lesson."},
		{Name: "lesson", Type: "string", Required: true, Description: "The lesson content."},
	}
}

func (t *LearnTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	title := stringArg(args, "title")
	lesson := stringArg(args, "lesson")
	if t.config.Bus == nil || t.config.Signer == nil {
		return nil, fmt.Errorf("agent signer not configured")
	}

	event := &nostr.Event{
		Kind:    eventbus.KindLesson,
		Content: lesson,
		Tags:    nostr.Tags{{"title", title}},
	}
	if t.config.AgentEventID != "" {
		event.Tags = append(event.Tags, nostr.Tag{"e", t.config.AgentEventID})
	}
	if err := t.config.Signer.Sign(event); err != nil {
		return nil, fmt.Errorf("sign lesson: %w", err)
	}
	if err := t.config.Bus.Publish(ctx, event); err != nil {
		return nil, fmt.Errorf("publish lesson: %w", err)
	}

	t.logger.Info("lesson recorded", "title", title, "event_id", event.ID)
	return &Result{Output: fmt.Sprintf("Lesson %q recorded.", title)}, nil
}
