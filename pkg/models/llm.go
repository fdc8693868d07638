package models

// Usage accounts for tokens and cost of one or more LLM calls.
type Usage struct {
	PromptTokens      int     `json:"prompt_tokens"`
	CompletionTokens  int     `json:"completion_tokens"`
	TotalTokens       int     `json:"total_tokens"`
	CacheCreateTokens int     `json:"cache_create_tokens,omitempty"`
	CacheReadTokens   int     `json:"cache_read_tokens,omitempty"`
	Cost              float64 `json:"cost,omitempty"`
}

// Add folds another usage record into this one: token counts and cost are
// summed while cache tokens keep their maximum across turns.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
	if other.CacheCreateTokens > u.CacheCreateTokens {
		u.CacheCreateTokens = other.CacheCreateTokens
	}
	if other.CacheReadTokens > u.CacheReadTokens {
		u.CacheReadTokens = other.CacheReadTokens
	}
}

// LLMResponse is the provider-neutral result of one Generate call.
type LLMResponse struct {
	Content   string     `json:"content"`
	Model     string     `json:"model"`
	Usage     *Usage     `json:"usage,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// RenderInChat is the most recent render payload a tool returned while
	// the response was generated, passed through opaquely.
	RenderInChat map[string]any `json:"render_in_chat,omitempty"`
}

// HasToolCalls reports whether the provider requested tool executions.
func (r *LLMResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ToolSpec is a provider-neutral tool description. Providers translate it
// into their native dialect: Anthropic-style clients pass InputSchema as
// input_schema, OpenAI-style clients wrap it under function.parameters.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}
