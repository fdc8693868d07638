package models

import (
	"time"
)

// AgentResponse is one agent's contribution to a strategy run.
type AgentResponse struct {
	AgentName    string         `json:"agent_name"`
	Content      string         `json:"content"`
	NextAction   string         `json:"next_action,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	RenderInChat map[string]any `json:"render_in_chat,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Phase returns the strategy phase label recorded on the response.
func (r *AgentResponse) Phase() string {
	if r.Metadata == nil {
		return ""
	}
	phase, _ := r.Metadata["phase"].(string)
	return phase
}

// StrategyResult is what every strategy returns to the coordinator.
// Strategies never panic or error across this boundary: failures are
// captured in Errors and the metadata while Success reflects whether the
// minimum viable output was produced.
type StrategyResult struct {
	Success   bool            `json:"success"`
	Responses []AgentResponse `json:"responses"`
	Errors    []string        `json:"errors,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// NewStrategyResult returns an empty result with allocated metadata.
func NewStrategyResult() *StrategyResult {
	return &StrategyResult{Metadata: make(map[string]any)}
}

// AddResponse appends a response, preserving temporal order.
func (r *StrategyResult) AddResponse(resp AgentResponse) {
	r.Responses = append(r.Responses, resp)
}

// AddError captures a failure without aborting the run.
func (r *StrategyResult) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// RecordPhase appends a phase label to the ordered sequence kept under
// metadata.
func (r *StrategyResult) RecordPhase(name string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	phases, _ := r.Metadata["phases"].([]string)
	r.Metadata["phases"] = append(phases, name)
}

// PhaseSequence returns the ordered phase labels recorded during the run.
func (r *StrategyResult) PhaseSequence() []string {
	if r.Metadata == nil {
		return nil
	}
	phases, _ := r.Metadata["phases"].([]string)
	return phases
}

// SetMetadata writes a metadata key, allocating the map on first use.
func (r *StrategyResult) SetMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}
