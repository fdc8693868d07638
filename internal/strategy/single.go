package strategy

import (
	"context"
	"fmt"

	"github.com/haasonsaas/tenex/pkg/models"
)

// Single answers with the team's only member. It is the pattern for
// self-contained requests and the planner's fallback.
type Single struct{}

func (Single) Name() string { return "single" }

func (Single) Description() string {
	return "One agent answers the request alone."
}

// Execute makes one generate call with the lead. A missing lead fails fast;
// a generation failure yields success=false with the error captured.
func (Single) Execute(ctx context.Context, run *Run) *models.StrategyResult {
	result := models.NewStrategyResult()

	lead, ok := run.agent(run.Team.Lead)
	if !ok {
		result.AddError(fmt.Errorf("lead agent %q is not registered", run.Team.Lead))
		return result
	}

	resp, err := run.invoke(ctx, lead, run.ConversationID, "single")
	if err != nil {
		result.AddError(err)
		run.saveOutcome(ctx, result)
		return result
	}

	result.AddResponse(*resp)
	result.RecordPhase("single")
	result.Success = true
	run.saveOutcome(ctx, result)
	return result
}
