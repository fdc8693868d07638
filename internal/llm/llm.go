// Package llm abstracts the model endpoints the runtime can talk to behind a
// single Generate contract. Five provider variants are supported: the
// OpenAI-compatible protocol (OpenAI itself, OpenRouter, Ollama) and the
// Anthropic Messages API with or without prompt caching. ToolLoop layers
// tool-call coordination on top of any provider.
package llm

import (
	"context"
	"fmt"

	"github.com/haasonsaas/tenex/pkg/models"
)

// Provider variant names as they appear in configuration profiles.
const (
	ProviderOpenAICompatible = "openai-compatible"
	ProviderAnthropic        = "anthropic"
	ProviderAnthropicCache   = "anthropic-with-cache"
	ProviderOpenRouter       = "openrouter"
	ProviderOllama           = "ollama"
)

// Provider generates one assistant completion from a conversation history.
type Provider interface {
	// Name returns the variant name, e.g. "anthropic" or "openrouter".
	Name() string

	// Generate issues a single completion request. The messages slice is the
	// full conversation including system messages; each variant decides how
	// to carry the system prompt on the wire.
	Generate(ctx context.Context, messages []models.Message, opts GenerateOptions) (*models.LLMResponse, error)
}

// GenerateOptions carries per-call overrides and the tool schema to
// advertise. Zero values fall back to the provider's configured defaults.
type GenerateOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Tools       []models.ToolSpec
}

// Pricing holds USD rates per million tokens. OpenRouter profiles use it to
// attribute a cost to every usage record.
type Pricing struct {
	Prompt     float64 `json:"prompt" yaml:"prompt"`
	Completion float64 `json:"completion" yaml:"completion"`
}

// Cost computes the USD cost of a call from its token counts.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*p.Prompt/1e6 + float64(completionTokens)*p.Completion/1e6
}

// Profile describes one configured model endpoint. Profiles are the unit of
// provider construction and caching.
type Profile struct {
	// Provider is one of the Provider* variant names. "openai" is accepted
	// as an alias for openai-compatible.
	Provider string

	// Model overrides the variant's default model.
	Model string

	// APIKey authenticates requests. Required for every variant but ollama.
	APIKey string

	// BaseURL overrides the variant's default endpoint.
	BaseURL string

	// MaxTokens caps the completion length. Zero keeps the variant default.
	MaxTokens int

	// Temperature is passed through when positive.
	Temperature float64

	// Tools marks profiles used with a native tool schema. It only
	// distinguishes cache entries; construction is identical.
	Tools bool

	// Pricing enables cost accounting for OpenRouter profiles.
	Pricing *Pricing
}

// Key fingerprints the profile for the provider cache.
func (p Profile) Key() string {
	caching := p.Provider == ProviderAnthropicCache
	return fmt.Sprintf("%s-%s-%s-%t-%t", p.Provider, p.Model, p.BaseURL, caching, p.Tools)
}

// New constructs the provider a profile describes.
func New(profile Profile) (Provider, error) {
	switch profile.Provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:      profile.APIKey,
			Model:       profile.Model,
			BaseURL:     profile.BaseURL,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
		})
	case ProviderAnthropicCache:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:      profile.APIKey,
			Model:       profile.Model,
			BaseURL:     profile.BaseURL,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
			Caching:     true,
		})
	case ProviderOpenRouter:
		return NewOpenRouterProvider(OpenRouterConfig{
			APIKey:      profile.APIKey,
			Model:       profile.Model,
			BaseURL:     profile.BaseURL,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
			Pricing:     profile.Pricing,
		})
	case ProviderOllama:
		return NewOllamaProvider(OpenAIConfig{
			APIKey:      profile.APIKey,
			Model:       profile.Model,
			BaseURL:     profile.BaseURL,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
		}), nil
	case ProviderOpenAICompatible, "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:      profile.APIKey,
			Model:       profile.Model,
			BaseURL:     profile.BaseURL,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
		})
	case "":
		return nil, fmt.Errorf("llm: profile is missing a provider type")
	default:
		return nil, fmt.Errorf("llm: unknown provider type %q", profile.Provider)
	}
}
