package llm

import "errors"

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-4o"
)

// OpenRouterConfig configures the openrouter variant.
type OpenRouterConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64

	// Pricing attributes a USD cost to every usage record. OpenRouter fronts
	// many upstream models, so rates come from the profile rather than a
	// built-in table.
	Pricing *Pricing
}

// NewOpenRouterProvider builds the openrouter variant: the chat-completions
// protocol against the OpenRouter gateway, with per-profile cost accounting.
func NewOpenRouterProvider(config OpenRouterConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenRouterBaseURL
	}
	if config.Model == "" {
		config.Model = defaultOpenRouterModel
	}
	chat := newChatClient(config.APIKey, config.BaseURL)
	return newChatProvider(ProviderOpenRouter, chat, OpenAIConfig{
		Model:       config.Model,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
	}, config.Pricing), nil
}
