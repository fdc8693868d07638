package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/tenex/internal/agent"
	"github.com/haasonsaas/tenex/pkg/models"
)

// Parallel fans the request out to every member at once and aggregates
// whatever settles. Members never cancel each other; the run succeeds when
// at least one response came back.
type Parallel struct{}

func (Parallel) Name() string { return "parallel" }

func (Parallel) Description() string {
	return "Every member answers the request independently and the responses are aggregated."
}

// Execute launches one response task per member and waits for all of them
// to settle. Responses keeps completion order; the aggregated content block
// follows team-member order.
func (Parallel) Execute(ctx context.Context, run *Run) *models.StrategyResult {
	result := models.NewStrategyResult()

	lead, ok := run.agent(run.Team.Lead)
	if !ok {
		result.AddError(fmt.Errorf("lead agent %q is not registered", run.Team.Lead))
		return result
	}

	// Mark the thread before fan-out so observers of a crashed run still
	// see what pattern was in flight.
	if conv, err := lead.Conversation(ctx, run.ConversationID); err == nil {
		conv.SetMetadata("strategy", "parallel")
		if err := lead.SaveConversation(ctx, conv); err != nil {
			run.log().Warn("failed to stamp parallel metadata", "error", err)
		}
	}

	agentsMeta := make(map[string]any, len(run.Team.Members))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range run.Team.Members {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			started := time.Now()

			member, ok := run.agent(name)
			var resp *models.AgentResponse
			var err error
			if !ok {
				err = fmt.Errorf("agent not registered")
			} else {
				resp, err = respond(ctx, run, member)
			}
			finished := time.Now()

			mu.Lock()
			defer mu.Unlock()
			entry := map[string]any{
				"start_time": started,
				"end_time":   finished,
				"success":    err == nil,
			}
			if err != nil {
				entry["error"] = err.Error()
				recordPartial(result, name, err)
			} else {
				result.AddResponse(*resp)
				result.RecordPhase("execution")
			}
			agentsMeta[name] = entry
		}(name)
	}
	wg.Wait()

	result.SetMetadata("agents", agentsMeta)
	result.SetMetadata("aggregated_content", aggregate(run.Team, result.Responses))
	result.Success = len(result.Responses) > 0
	run.saveOutcome(ctx, result)
	return result
}

// respond produces one member's answer. The lead works the thread directly;
// other members answer in their own sub-conversation seeded with the
// request.
func respond(ctx context.Context, run *Run, member *agent.Agent) (*models.AgentResponse, error) {
	if member.Name() == run.Team.Lead {
		return run.invoke(ctx, member, run.ConversationID, "execution")
	}

	subID := run.subConversationID(member.Name())
	if _, err := member.GetOrCreateConversation(ctx, subID, agent.Seed{
		Peers:     run.peers(member.Name()),
		FromAgent: run.IsFromAgent,
	}); err != nil {
		return nil, err
	}
	if err := member.AddUserMessage(ctx, subID, models.NewUserMessage(run.Request, "")); err != nil {
		return nil, err
	}
	return run.invoke(ctx, member, subID, "execution")
}

// aggregate renders "<name>: <response>" blocks in team-member order, no
// matter in which order the responses settled.
func aggregate(team *models.Team, responses []models.AgentResponse) string {
	blocks := make([]string, 0, len(responses))
	for _, name := range team.Members {
		for _, resp := range responses {
			if resp.AgentName == name {
				blocks = append(blocks, name+": "+resp.Content)
				break
			}
		}
	}
	return strings.Join(blocks, "\n\n")
}
