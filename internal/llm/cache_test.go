package llm

import (
	"strings"
	"testing"
)

func TestCacheReturnsSameInstance(t *testing.T) {
	cache := NewCache()
	profile := Profile{Provider: ProviderOllama}

	first, err := cache.For(profile)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	second, err := cache.For(profile)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if first != second {
		t.Error("same profile produced two provider instances")
	}

	other, err := cache.For(Profile{Provider: ProviderOllama, Model: "qwen3"})
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if other == first {
		t.Error("different model reused the cached provider")
	}
}

func TestCacheConstructionError(t *testing.T) {
	cache := NewCache()
	if _, err := cache.For(Profile{Provider: ProviderAnthropic}); err == nil {
		t.Fatal("expected error for anthropic profile without an API key")
	}
}

func TestProfileKey(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		want    string
	}{
		{
			name: "caching and tools",
			profile: Profile{
				Provider: ProviderAnthropicCache,
				Model:    "claude-sonnet-4-20250514",
				BaseURL:  "https://api.anthropic.com",
				Tools:    true,
			},
			want: "anthropic-with-cache-claude-sonnet-4-20250514-https://api.anthropic.com-true-true",
		},
		{
			name:    "plain anthropic",
			profile: Profile{Provider: ProviderAnthropic, Model: "m"},
			want:    "anthropic-m--false-false",
		},
		{
			name:    "openai compatible",
			profile: Profile{Provider: ProviderOpenAICompatible, Model: "gpt-4o", BaseURL: "https://api.openai.com/v1"},
			want:    "openai-compatible-gpt-4o-https://api.openai.com/v1-false-false",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.profile.Key(); got != tc.want {
				t.Errorf("Key() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewDispatch(t *testing.T) {
	tests := []struct {
		name     string
		profile  Profile
		wantName string
		wantErr  string
	}{
		{
			name:     "anthropic",
			profile:  Profile{Provider: ProviderAnthropic, APIKey: "key"},
			wantName: "anthropic",
		},
		{
			name:     "anthropic with cache",
			profile:  Profile{Provider: ProviderAnthropicCache, APIKey: "key"},
			wantName: "anthropic-with-cache",
		},
		{
			name:     "openrouter",
			profile:  Profile{Provider: ProviderOpenRouter, APIKey: "key"},
			wantName: "openrouter",
		},
		{
			name:     "ollama needs no key",
			profile:  Profile{Provider: ProviderOllama},
			wantName: "ollama",
		},
		{
			name:     "openai alias",
			profile:  Profile{Provider: "openai", APIKey: "key"},
			wantName: "openai-compatible",
		},
		{
			name:    "missing key",
			profile: Profile{Provider: ProviderOpenAICompatible},
			wantErr: "api key",
		},
		{
			name:    "missing provider",
			profile: Profile{},
			wantErr: "missing a provider",
		},
		{
			name:    "unknown provider",
			profile: Profile{Provider: "carrier-pigeon"},
			wantErr: "unknown provider",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := New(tc.profile)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want substring %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if provider.Name() != tc.wantName {
				t.Errorf("Name() = %q, want %q", provider.Name(), tc.wantName)
			}
		})
	}
}
