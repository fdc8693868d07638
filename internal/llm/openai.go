package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tenex/internal/jsonrepair"
	"github.com/haasonsaas/tenex/pkg/models"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"
	defaultOllamaBaseURL = "http://localhost:11434/v1"
	defaultOllamaModel   = "llama3.2"
)

// chatCompleter is the slice of the go-openai client the provider uses.
// *openai.Client satisfies it; tests substitute a stub.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures a provider speaking the OpenAI chat-completions
// protocol.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// OpenAIProvider implements the chat-completions wire protocol shared by the
// openai-compatible, openrouter and ollama variants. The system prompt rides
// inline as the first message; tool results become role=tool messages.
type OpenAIProvider struct {
	chat        chatCompleter
	name        string
	model       string
	maxTokens   int
	temperature float64
	pricing     *Pricing
}

// NewOpenAIProvider builds the openai-compatible variant.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai-compatible: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	if config.Model == "" {
		config.Model = defaultOpenAIModel
	}
	return newChatProvider(ProviderOpenAICompatible, newChatClient(config.APIKey, config.BaseURL), config, nil), nil
}

// NewOllamaProvider builds the ollama variant. Ollama serves an
// OpenAI-compatible endpoint under /v1 and ignores authorization, so no API
// key is required.
func NewOllamaProvider(config OpenAIConfig) *OpenAIProvider {
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaBaseURL
	}
	if config.Model == "" {
		config.Model = defaultOllamaModel
	}
	return newChatProvider(ProviderOllama, newChatClient(config.APIKey, config.BaseURL), config, nil)
}

func newChatClient(apiKey, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	return openai.NewClientWithConfig(clientConfig)
}

func newChatProvider(name string, chat chatCompleter, config OpenAIConfig, pricing *Pricing) *OpenAIProvider {
	return &OpenAIProvider{
		chat:        chat,
		name:        name,
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		pricing:     pricing,
	}
}

// Name returns the configured variant name.
func (p *OpenAIProvider) Name() string { return p.name }

// Generate issues one chat-completion request and maps the reply back into
// provider-neutral form.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []models.Message, opts GenerateOptions) (*models.LLMResponse, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	request := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMessages(messages),
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		request.MaxTokens = maxTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = p.temperature
	}
	if temperature > 0 {
		request.Temperature = float32(temperature)
	}
	if len(opts.Tools) > 0 {
		request.Tools = openaiTools(opts.Tools)
	}

	resp, err := p.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	return p.parseResponse(resp, model)
}

func openaiMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil || call.Arguments == nil {
					args = []byte("{}")
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			result = append(result, m)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}
	return result
}

func openaiTools(specs []models.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.InputSchema,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) parseResponse(resp openai.ChatCompletionResponse, requestedModel string) (*models.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			Provider: p.name,
			Model:    requestedModel,
			Cause:    errors.New("no completion choices returned"),
		}
	}

	choice := resp.Choices[0]
	out := &models.LLMResponse{
		Content: choice.Message.Content,
		Model:   resp.Model,
	}
	if out.Model == "" {
		out.Model = requestedModel
	}

	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: toolArguments(call.Function.Arguments),
		})
	}

	u := resp.Usage
	cacheRead := 0
	if u.PromptTokensDetails != nil {
		cacheRead = u.PromptTokensDetails.CachedTokens
	}
	if u.PromptTokens != 0 || u.CompletionTokens != 0 || cacheRead != 0 {
		usage := &models.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
			CacheReadTokens:  cacheRead,
		}
		if p.pricing != nil {
			usage.Cost = p.pricing.Cost(usage.PromptTokens, usage.CompletionTokens)
		}
		out.Usage = usage
	}
	return out, nil
}

// toolArguments decodes the JSON argument string of a native tool call,
// running it through the repair ladder so near-JSON from weaker models still
// resolves. Unrepairable input degrades to empty arguments; the executor
// then reports the missing parameters in-band.
func toolArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	args, err := jsonrepair.Object(raw)
	if err != nil {
		return map[string]any{}
	}
	return args
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider: p.name,
			Model:    model,
			Status:   apiErr.HTTPStatusCode,
			Body:     truncateBody(apiErr.Message),
			Cause:    err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider: p.name,
			Model:    model,
			Status:   reqErr.HTTPStatusCode,
			Body:     truncateBody(string(reqErr.Body)),
			Cause:    err,
		}
	}
	return &ProviderError{Provider: p.name, Model: model, Cause: err}
}
