package models

import (
	"fmt"
	"strings"
)

// AgentDefinition describes a configured agent loaded from agents/<name>.json.
//
// NSec holds the agent's signing key in nsec or hex form. On disk the value
// is a referenced secret (an ${ENV_VAR} placeholder expanded at load time);
// definitions are never written back with the raw key.
type AgentDefinition struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Role          string   `json:"role,omitempty"`
	Instructions  string   `json:"instructions,omitempty"`
	NSec          string   `json:"nsec"`
	ToolIDs       []string `json:"tool_ids,omitempty"`
	LLMProfile    string   `json:"llm_profile,omitempty"`
	SourceEventID string   `json:"source_event_id,omitempty"` // kind-4199 definition event, target of lesson references
}

// Validate checks the definition for the fields the runtime cannot default.
func (d *AgentDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if strings.TrimSpace(d.NSec) == "" {
		return fmt.Errorf("agent %q: signing key is required", d.Name)
	}
	return nil
}

// Clone returns a copy safe to hand across goroutines.
func (d *AgentDefinition) Clone() *AgentDefinition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.ToolIDs = append([]string(nil), d.ToolIDs...)
	return &clone
}
