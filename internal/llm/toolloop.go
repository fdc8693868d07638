package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/tools"
	"github.com/haasonsaas/tenex/pkg/models"
)

// DefaultMaxToolTurns caps how many provider round-trips one Generate call
// may spend on native tool execution.
const DefaultMaxToolTurns = 8

// ToolLoopConfig configures a ToolLoop.
type ToolLoopConfig struct {
	// MaxToolTurns overrides DefaultMaxToolTurns when positive.
	MaxToolTurns int
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Tracer       *observability.Tracer
}

// ToolLoop wraps a provider with tool coordination. It injects the tool
// catalogue into the system prompt, advertises the native tool schema, and
// runs the execute-and-reprompt loop for providers that emit native tool
// calls. Providers that instead write <tool_use> blocks into their text get
// the blocks executed and replaced in place, without a second provider call.
//
// ToolLoop itself satisfies Provider, so callers that do not care about
// tools can treat it as one.
type ToolLoop struct {
	provider Provider
	registry *tools.Registry
	executor *tools.Executor
	maxTurns int
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

var _ Provider = (*ToolLoop)(nil)

// NewToolLoop wires a provider to a tool registry and executor. A nil or
// empty registry degrades to a plain pass-through with request metrics.
func NewToolLoop(provider Provider, registry *tools.Registry, executor *tools.Executor, config ToolLoopConfig) *ToolLoop {
	maxTurns := config.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxToolTurns
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolLoop{
		provider: provider,
		registry: registry,
		executor: executor,
		maxTurns: maxTurns,
		logger:   logger.With("component", "tool-loop"),
		metrics:  config.Metrics,
		tracer:   config.Tracer,
	}
}

// Name reports the wrapped provider's variant name.
func (l *ToolLoop) Name() string { return l.provider.Name() }

// Generate runs the tool loop around the wrapped provider. Usage is
// aggregated across all turns: token counts and cost are summed, cache
// tokens keep their per-turn maximum.
func (l *ToolLoop) Generate(ctx context.Context, messages []models.Message, opts GenerateOptions) (*models.LLMResponse, error) {
	msgs := append([]models.Message(nil), messages...)

	toolsEnabled := l.registry != nil && l.registry.Len() > 0 && l.executor != nil
	if toolsEnabled {
		msgs = mergeToolPrompt(msgs, tools.SystemPrompt(l.registry))
		if len(opts.Tools) == 0 {
			opts.Tools = tools.Specs(l.registry)
		}
	}

	total := &models.Usage{}
	sawUsage := false

	var resp *models.LLMResponse
	var render map[string]any
	for turn := 0; turn < l.maxTurns; turn++ {
		var err error
		resp, err = l.generateOnce(ctx, msgs, opts)
		if err != nil {
			return nil, err
		}
		if resp.Usage != nil {
			total.Add(resp.Usage)
			sawUsage = true
		}
		if !toolsEnabled || !resp.HasToolCalls() {
			break
		}

		l.logger.Debug("executing native tool calls",
			"count", len(resp.ToolCalls),
			"turn", turn+1)
		responses := l.executor.ExecuteAll(ctx, resp.ToolCalls)
		msgs = append(msgs, models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Timestamp: time.Now(),
		})
		for _, tr := range responses {
			if tr.RenderInChat != nil {
				render = tr.RenderInChat
			}
			msgs = append(msgs, models.NewToolMessage(tr.ToolCallID, tr.Output))
		}
	}

	if toolsEnabled && resp != nil && !resp.HasToolCalls() {
		var textRender map[string]any
		resp.Content, textRender = l.inlineTextCalls(ctx, resp.Content)
		if textRender != nil {
			render = textRender
		}
	}
	if resp != nil && sawUsage {
		resp.Usage = total
	}
	if resp != nil && resp.RenderInChat == nil {
		resp.RenderInChat = render
	}
	return resp, nil
}

func (l *ToolLoop) generateOnce(ctx context.Context, msgs []models.Message, opts GenerateOptions) (*models.LLMResponse, error) {
	callCtx, span := l.tracer.TraceLLMRequest(ctx, l.provider.Name(), opts.Model)
	start := time.Now()
	resp, err := l.provider.Generate(callCtx, msgs, opts)
	elapsed := time.Since(start)
	l.tracer.RecordError(span, err)
	span.End()

	model := opts.Model
	if resp != nil && resp.Model != "" {
		model = resp.Model
	}
	if err != nil {
		l.metrics.RecordLLMRequest(l.provider.Name(), model, "error", elapsed.Seconds(), 0, 0, 0, 0)
		l.logger.Error("provider call failed",
			"provider", l.provider.Name(),
			"error", err)
		return nil, err
	}
	var usage models.Usage
	if resp.Usage != nil {
		usage = *resp.Usage
	}
	l.metrics.RecordLLMRequest(l.provider.Name(), model, "success", elapsed.Seconds(),
		usage.PromptTokens, usage.CompletionTokens, usage.CacheCreateTokens, usage.CacheReadTokens)
	return resp, nil
}

// mergeToolPrompt folds the tool catalogue into the conversation's first
// system message, or prepends a fresh one when the history has none.
func mergeToolPrompt(messages []models.Message, prompt string) []models.Message {
	if prompt == "" {
		return messages
	}
	for i := range messages {
		if messages[i].Role == models.RoleSystem {
			messages[i].Content = messages[i].Content + "\n\n" + prompt
			return messages
		}
	}
	return append([]models.Message{models.NewSystemMessage(prompt)}, messages...)
}

// inlineTextCalls executes <tool_use> blocks found in assistant text and
// splices each block's replacement into the content, also returning the last
// render payload the executed tools produced. Blocks that cannot be parsed
// are left as they were and logged.
func (l *ToolLoop) inlineTextCalls(ctx context.Context, content string) (string, map[string]any) {
	if content == "" {
		return content, nil
	}
	calls, err := tools.ParseCalls(content)
	if err != nil {
		l.logger.Warn("skipping unparseable tool blocks", "error", err)
	}
	if len(calls) == 0 {
		return content, nil
	}

	toolCalls := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		toolCalls[i] = call.Call
	}
	responses := l.executor.ExecuteAll(ctx, toolCalls)

	var render map[string]any
	var b strings.Builder
	last := 0
	for i, call := range calls {
		b.WriteString(content[last:call.Start])
		b.WriteString("**Tool: ")
		b.WriteString(call.Call.Name)
		b.WriteString("**\n")
		b.WriteString(responses[i].Output)
		if responses[i].RenderInChat != nil {
			render = responses[i].RenderInChat
		}
		last = call.End
	}
	b.WriteString(content[last:])
	return b.String(), render
}
