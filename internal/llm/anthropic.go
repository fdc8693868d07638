package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/tenex/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// anthropicMessages is the slice of the SDK client the provider relies on.
// *anthropic.MessageService satisfies it; tests substitute a stub.
type anthropicMessages interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicConfig configures an Anthropic-backed provider.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64

	// Caching attaches ephemeral cache control to the system block so
	// repeated prefixes are billed as cache reads.
	Caching bool
}

// AnthropicProvider drives the Claude Messages API. System messages are
// lifted out of the conversation and carried out-of-band in params.System;
// tool results travel back inside user messages as tool_result blocks.
type AnthropicProvider struct {
	messages    anthropicMessages
	model       string
	maxTokens   int
	temperature float64
	caching     bool
}

// NewAnthropicProvider builds a provider for the anthropic and
// anthropic-with-cache variants.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	client := anthropic.NewClient(options...)
	return newAnthropicProvider(&client.Messages, config), nil
}

func newAnthropicProvider(messages anthropicMessages, config AnthropicConfig) *AnthropicProvider {
	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		messages:    messages,
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		caching:     config.Caching,
	}
}

// Name returns the configured variant name.
func (p *AnthropicProvider) Name() string {
	if p.caching {
		return ProviderAnthropicCache
	}
	return ProviderAnthropic
}

// Generate issues one Messages API request and maps the reply back into
// provider-neutral form.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []models.Message, opts GenerateOptions) (*models.LLMResponse, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}
	msg, err := p.messages.New(ctx, *params)
	if err != nil {
		return nil, p.wrapError(err, string(params.Model))
	}
	return parseAnthropicMessage(msg), nil
}

func (p *AnthropicProvider) buildParams(messages []models.Message, opts GenerateOptions) (*anthropic.MessageNewParams, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	conversation, system, err := anthropicMessageParams(messages)
	if err != nil {
		return nil, err
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one user or assistant message is required")
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  conversation,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		block := anthropic.TextBlockParam{Text: system}
		if p.caching {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = p.temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	if len(opts.Tools) > 0 {
		tools, err := anthropicTools(opts.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return params, nil
}

// anthropicMessageParams splits out the system prompt and converts the rest
// of the history into Messages API turns. Consecutive tool messages are
// grouped into one user turn so parallel tool results come back together.
func anthropicMessageParams(messages []models.Message) ([]anthropic.MessageParam, string, error) {
	var system []string
	var conversation []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
		case models.RoleUser:
			if msg.Content == "" {
				continue
			}
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for ; i < len(messages) && messages[i].Role == models.RoleTool; i++ {
				m := messages[i]
				isError := strings.HasPrefix(m.Content, "Error:")
				blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError))
			}
			i--
			conversation = append(conversation, anthropic.NewUserMessage(blocks...))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported message role %q", msg.Role)
		}
	}

	return conversation, strings.Join(system, "\n\n"), nil
}

func anthropicTools(specs []models.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		payload, err := json.Marshal(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: marshal schema for %s: %w", spec.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(payload, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", spec.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool definition for %s", spec.Name)
		}
		tool.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, tool)
	}
	return result, nil
}

func parseAnthropicMessage(msg *anthropic.Message) *models.LLMResponse {
	resp := &models.LLMResponse{Model: string(msg.Model)}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	resp.Content = text.String()

	u := msg.Usage
	if u.InputTokens != 0 || u.OutputTokens != 0 || u.CacheCreationInputTokens != 0 || u.CacheReadInputTokens != 0 {
		resp.Usage = &models.Usage{
			PromptTokens:      int(u.InputTokens),
			CompletionTokens:  int(u.OutputTokens),
			TotalTokens:       int(u.InputTokens + u.OutputTokens),
			CacheCreateTokens: int(u.CacheCreationInputTokens),
			CacheReadTokens:   int(u.CacheReadInputTokens),
		}
	}
	return resp
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: p.Name(),
			Model:    model,
			Status:   apiErr.StatusCode,
			Body:     truncateBody(apiErr.RawJSON()),
			Cause:    err,
		}
	}
	return &ProviderError{Provider: p.Name(), Model: model, Cause: err}
}
