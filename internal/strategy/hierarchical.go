package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/tenex/internal/jsonrepair"
	"github.com/haasonsaas/tenex/pkg/models"
)

// Hierarchical runs a lead-and-delegates pattern: the lead analyses the
// request into a delegation plan, each non-lead member executes its part in
// a sub-conversation, and the lead reviews the collected output.
type Hierarchical struct{}

func (Hierarchical) Name() string { return "hierarchical" }

func (Hierarchical) Description() string {
	return "A lead analyses the request, delegates subtasks to the members and reviews their work."
}

// delegation is one assignment from the lead's plan.
type delegation struct {
	Member string `json:"member"`
	Task   string `json:"task"`
}

// Execute runs analyse, delegate, review. Member failures are partial; the
// run succeeds when both lead phases complete.
func (Hierarchical) Execute(ctx context.Context, run *Run) *models.StrategyResult {
	result := models.NewStrategyResult()

	lead, ok := run.agent(run.Team.Lead)
	if !ok {
		result.AddError(fmt.Errorf("lead agent %q is not registered", run.Team.Lead))
		return result
	}

	// Analyse: the lead turns the request into a delegation plan.
	if err := run.instruct(ctx, lead, analysisInstruction(run.Team)); err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}
	analysis, err := run.invoke(ctx, lead, run.ConversationID, "analysis")
	if err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}

	tasks := delegations(analysis, run.Team, run.Request)
	result.AddResponse(*analysis)
	result.RecordPhase("analysis")

	// Delegate: members execute their assignments in sub-conversations;
	// their output is appended to the thread for the review to see.
	for _, d := range tasks {
		member, ok := run.agent(d.Member)
		if !ok {
			recordPartial(result, d.Member, fmt.Errorf("agent not registered"))
			continue
		}

		run.publishTask(ctx, lead, member, d.Task)
		resp, err := run.delegate(ctx, member, d.Task, "execution")
		if err != nil {
			recordPartial(result, d.Member, err)
			continue
		}
		resp.Metadata["delegated_by"] = run.Team.Lead

		result.AddResponse(*resp)
		result.RecordPhase("execution")
		run.appendToParent(ctx, lead, d.Member, resp.Content)
	}

	// Review: the lead integrates whatever came back.
	if err := run.instruct(ctx, lead, reviewInstruction(run.Request)); err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}
	review, err := run.invoke(ctx, lead, run.ConversationID, "review")
	if err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}

	result.AddResponse(*review)
	result.RecordPhase("review")
	result.Success = true
	run.saveOutcome(ctx, result)
	return result
}

// delegations extracts the lead's plan. A subtasks list in the analysis
// reply assigns work explicitly; members outside the team and the lead
// itself are dropped. Without a usable list, every non-lead member gets one
// stock task built from the request and the plan.
func delegations(analysis *models.AgentResponse, team *models.Team, request string) []delegation {
	if parsed := parseSubtasks(analysis.Content, team); len(parsed) > 0 {
		analysis.Metadata["subtasks"] = parsed
		return parsed
	}

	task := stockTask(request, team.Lead, analysis.Content)
	members := team.NonLeadMembers()
	out := make([]delegation, 0, len(members))
	for _, member := range members {
		out = append(out, delegation{Member: member, Task: task})
	}
	return out
}

// parseSubtasks looks for {"subtasks": [{"member", "task"}, ...]} anywhere
// in the analysis text. The contract is soft: leads that reply in prose
// simply get the stock fallback.
func parseSubtasks(content string, team *models.Team) []delegation {
	obj, err := jsonrepair.Object(content)
	if err != nil {
		return nil
	}
	raw, ok := obj["subtasks"]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var parsed []delegation
	if err := json.Unmarshal(encoded, &parsed); err != nil {
		return nil
	}

	out := make([]delegation, 0, len(parsed))
	for _, d := range parsed {
		if d.Member == "" || d.Member == team.Lead || !team.HasMember(d.Member) {
			continue
		}
		if strings.TrimSpace(d.Task) == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func analysisInstruction(team *models.Team) string {
	var b strings.Builder
	b.WriteString("You are the lead for this request. Break it into subtasks for your team members and explain the plan.\n\n")
	b.WriteString("Team members available for delegation: ")
	b.WriteString(strings.Join(team.NonLeadMembers(), ", "))
	b.WriteString("\n\nTo assign work explicitly, include a JSON object in your reply:\n")
	b.WriteString(`{"subtasks": [{"member": "<name>", "task": "<what they should do>"}]}`)
	return b.String()
}

func reviewInstruction(request string) string {
	return "Your team members have reported back above. Review their work and write the final, integrated response to the original request:\n\n" + request
}

func stockTask(request, lead, plan string) string {
	var b strings.Builder
	b.WriteString("You are part of a team handling this request:\n\n")
	b.WriteString(request)
	b.WriteString("\n\nThe lead (")
	b.WriteString(lead)
	b.WriteString(") produced this plan:\n\n")
	b.WriteString(plan)
	b.WriteString("\n\nComplete your part of the work and report back.")
	return b.String()
}
