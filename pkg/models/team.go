package models

import (
	"fmt"
	"time"
)

// StrategyType selects the coordination pattern for a team.
type StrategyType string

const (
	StrategySingle       StrategyType = "single"
	StrategyHierarchical StrategyType = "hierarchical"
	StrategyParallel     StrategyType = "parallel"
	StrategyPhased       StrategyType = "phased"
)

// ParseStrategyType maps a planner-suggested strategy onto one of the four
// variants. Unknown values map to hierarchical.
func ParseStrategyType(s string) StrategyType {
	switch StrategyType(s) {
	case StrategySingle, StrategyHierarchical, StrategyParallel, StrategyPhased:
		return StrategyType(s)
	default:
		return StrategyHierarchical
	}
}

// RequestAnalysis is the planner's classification of an inbound request.
type RequestAnalysis struct {
	RequestType          string   `json:"request_type" jsonschema:"description=Short label for the kind of request"`
	RequiredCapabilities []string `json:"required_capabilities" jsonschema:"description=Capabilities the responding team needs"`
	EstimatedComplexity  int      `json:"estimated_complexity" jsonschema:"minimum=1,maximum=10"`
	SuggestedStrategy    string   `json:"suggested_strategy" jsonschema:"description=One of single/hierarchical/parallel/phased"`
	Reasoning            string   `json:"reasoning"`
}

// TaskSpec is the planner-provided portion of a task definition.
type TaskSpec struct {
	Description         string   `json:"description"`
	SuccessCriteria     []string `json:"success_criteria,omitempty"`
	RequiresGreenLight  bool     `json:"requires_green_light,omitempty" jsonschema:"description=Whether a reviewer should approve before completion"`
	Reviewers           []string `json:"reviewers,omitempty"`
	EstimatedComplexity int      `json:"estimated_complexity,omitempty" jsonschema:"minimum=1,maximum=10"`
}

// TaskDefinition is a TaskSpec with a runtime-assigned unique id.
type TaskDefinition struct {
	ID string `json:"id"`
	TaskSpec
}

// TeamProposal is the planner's lead/member selection before constraints
// are enforced.
type TeamProposal struct {
	Lead    string   `json:"lead"`
	Members []string `json:"members"`
}

// CombinedAnalysisResponse is the single JSON document the planning LLM
// returns: analysis, team proposal and task in one reply.
type CombinedAnalysisResponse struct {
	Analysis RequestAnalysis `json:"analysis"`
	Team     TeamProposal    `json:"team"`
	Task     TaskSpec        `json:"task_definition"`
}

// TeamFormation captures how and why a team came to be.
type TeamFormation struct {
	Timestamp time.Time       `json:"timestamp"`
	Reasoning string          `json:"reasoning,omitempty"`
	Analysis  RequestAnalysis `json:"analysis"`
}

// Team is an ordered set of agents with a designated lead and strategy.
// Teams exist for a single coordinator run; their record is embedded in
// conversation metadata afterwards.
type Team struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Lead           string         `json:"lead"`
	Members        []string       `json:"members"`
	Strategy       StrategyType   `json:"strategy"`
	Task           TaskDefinition `json:"task"`
	Formation      TeamFormation  `json:"formation"`
}

// HasMember reports whether name is on the team.
func (t *Team) HasMember(name string) bool {
	for _, m := range t.Members {
		if m == name {
			return true
		}
	}
	return false
}

// NonLeadMembers returns the members excluding the lead, in team order.
func (t *Team) NonLeadMembers() []string {
	out := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		if m != t.Lead {
			out = append(out, m)
		}
	}
	return out
}

// Validate enforces the team invariants.
func (t *Team) Validate() error {
	if len(t.Members) == 0 {
		return fmt.Errorf("team has no members")
	}
	if t.Lead == "" {
		return fmt.Errorf("team has no lead")
	}
	if !t.HasMember(t.Lead) {
		return fmt.Errorf("team lead %q is not a member", t.Lead)
	}
	switch t.Strategy {
	case StrategySingle, StrategyHierarchical, StrategyParallel, StrategyPhased:
	default:
		return fmt.Errorf("unknown strategy %q", t.Strategy)
	}
	return nil
}
