package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/tenex/internal/jsonrepair"
	"github.com/haasonsaas/tenex/pkg/models"
)

// Phased walks the request through an ordered plan of phases. The lead
// plans first, members work each phase, and the lead reviews a phase
// before the next one starts. Success needs the plan and the final
// integration; member failures in between are recorded and worked around.
type Phased struct{}

func (Phased) Name() string { return "phased" }

func (Phased) Description() string {
	return "The lead plans ordered phases; members deliver each phase under lead review."
}

// phasePlan is the soft contract the lead's planning reply is parsed
// against. Unknown agents are dropped; a phase without usable agents
// falls back to the non-lead members.
type phasePlan struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Agents       []string `json:"agents"`
	Deliverables []string `json:"deliverables"`
}

func (Phased) Execute(ctx context.Context, run *Run) *models.StrategyResult {
	result := models.NewStrategyResult()

	lead, ok := run.agent(run.Team.Lead)
	if !ok {
		result.AddError(fmt.Errorf("lead agent %q is not registered", run.Team.Lead))
		return result
	}

	if err := run.instruct(ctx, lead, planningInstruction(run.Team)); err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}
	plan, err := run.invoke(ctx, lead, run.ConversationID, "planning")
	if err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}

	phases := parsePhases(plan.Content, run.Team)
	if len(phases) == 0 {
		phases = defaultPhases()
	}
	plan.Metadata["phases"] = phases
	result.AddResponse(*plan)
	result.RecordPhase("planning")
	result.SetMetadata("phase_count", len(phases))

	prevReview := ""
	for i, phase := range phases {
		label := fmt.Sprintf("phase_%d", i+1)
		result.RecordPhase(label)
		task := phaseTask(run.Request, phase, prevReview)

		for _, name := range phaseWorkers(phase, run.Team) {
			member, ok := run.agent(name)
			if !ok {
				recordPartial(result, name, fmt.Errorf("agent not registered"))
				continue
			}

			var resp *models.AgentResponse
			var err error
			if name == run.Team.Lead {
				// The lead works phases on the thread itself.
				if err = run.instruct(ctx, lead, task); err == nil {
					resp, err = run.invoke(ctx, lead, run.ConversationID, label)
				}
			} else {
				run.publishTask(ctx, lead, member, task)
				resp, err = run.delegate(ctx, member, task, label)
			}
			if err != nil {
				recordPartial(result, name, err)
				continue
			}
			resp.Metadata["delegated_by"] = run.Team.Lead
			result.AddResponse(*resp)
			if name != run.Team.Lead {
				run.appendToParent(ctx, lead, name, resp.Content)
			}
		}

		// A failed review downgrades to a partial failure: the next
		// phase simply starts without review notes.
		if err := run.instruct(ctx, lead, phaseReviewInstruction(phase)); err != nil {
			recordPartial(result, run.Team.Lead, err)
			prevReview = ""
			continue
		}
		review, err := run.invoke(ctx, lead, run.ConversationID, label+"_review")
		if err != nil {
			recordPartial(result, run.Team.Lead, err)
			prevReview = ""
			continue
		}
		result.AddResponse(*review)
		result.RecordPhase(label + "_review")
		prevReview = review.Content
	}

	if err := run.instruct(ctx, lead, integrationInstruction(run.Request)); err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}
	final, err := run.invoke(ctx, lead, run.ConversationID, "final_integration")
	if err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}
	result.AddResponse(*final)
	result.RecordPhase("final_integration")
	result.Success = true

	run.saveOutcome(ctx, result)
	return result
}

// parsePhases pulls a phases list out of the lead's planning reply.
// Anything that does not yield at least one named phase returns nil and
// the caller substitutes the default sequence.
func parsePhases(content string, team *models.Team) []phasePlan {
	obj, err := jsonrepair.Object(content)
	if err != nil {
		return nil
	}
	raw, ok := obj["phases"]
	if !ok {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var plans []phasePlan
	if err := json.Unmarshal(buf, &plans); err != nil {
		return nil
	}

	out := plans[:0]
	for _, p := range plans {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			continue
		}
		kept := make([]string, 0, len(p.Agents))
		seen := make(map[string]bool, len(p.Agents))
		for _, name := range p.Agents {
			if !team.HasMember(name) || seen[name] {
				continue
			}
			seen[name] = true
			kept = append(kept, name)
		}
		p.Agents = kept
		out = append(out, p)
	}
	return out
}

// defaultPhases is the stock sequence used when the planning reply names
// no phases of its own.
func defaultPhases() []phasePlan {
	return []phasePlan{
		{Name: "Analysis & Design", Description: "Understand the request and outline the approach."},
		{Name: "Core Implementation", Description: "Build the main body of the work."},
		{Name: "Integration & Enhancement", Description: "Connect the pieces and refine them."},
		{Name: "Testing & Finalisation", Description: "Verify the result and polish the delivery."},
	}
}

// phaseWorkers resolves who actually works a phase. A phase that names
// nobody usable goes to all non-lead members, and to the lead alone when
// there are none.
func phaseWorkers(phase phasePlan, team *models.Team) []string {
	if len(phase.Agents) > 0 {
		return phase.Agents
	}
	if workers := team.NonLeadMembers(); len(workers) > 0 {
		return workers
	}
	return []string{team.Lead}
}

func planningInstruction(team *models.Team) string {
	var b strings.Builder
	b.WriteString("You are the lead for this request. Produce a phased delivery plan before any work starts.\n\n")
	b.WriteString("Team members available: ")
	b.WriteString(strings.Join(team.Members, ", "))
	b.WriteString("\n\nRespond with a JSON object shaped like:\n")
	b.WriteString(`{"phases": [{"name": "<short name>", "description": "<what the phase achieves>", "agents": ["<member>"], "deliverables": ["<artifact>"]}]}`)
	b.WriteString("\n\nKeep phases sequential; later phases build on earlier results.")
	return b.String()
}

func phaseTask(request string, phase phasePlan, prevReview string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on the %q phase of a phased plan for this request:\n\n%s\n\n", phase.Name, request)
	if phase.Description != "" {
		fmt.Fprintf(&b, "Phase goal: %s\n", phase.Description)
	}
	if len(phase.Deliverables) > 0 {
		fmt.Fprintf(&b, "Deliverables: %s\n", strings.Join(phase.Deliverables, ", "))
	}
	if prevReview != "" {
		fmt.Fprintf(&b, "\nReview notes from the previous phase:\n%s\n", prevReview)
	}
	b.WriteString("\nComplete your share of this phase and report back.")
	return b.String()
}

func phaseReviewInstruction(phase phasePlan) string {
	return fmt.Sprintf("Phase %q is complete and the work is recorded above. Review it briefly: note what is solid and what the next phase must address.", phase.Name)
}

func integrationInstruction(request string) string {
	return "All phases are complete. Write the final, integrated response to the original request:\n\n" + request
}
