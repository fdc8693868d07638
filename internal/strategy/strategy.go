// Package strategy implements the four coordination patterns a team can run
// under: single, hierarchical, parallel and phased. A strategy never errors
// across the coordinator boundary; failures are captured in the returned
// StrategyResult while Success reflects whether the minimum viable output
// was produced.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/agent"
	"github.com/haasonsaas/tenex/internal/eventbus"
	"github.com/haasonsaas/tenex/internal/llm"
	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/tenexerr"
	"github.com/haasonsaas/tenex/internal/typing"
	"github.com/haasonsaas/tenex/pkg/models"
)

// Strategy coordinates a team's agents for one run.
type Strategy interface {
	// Execute runs the pattern to completion. It never panics or returns an
	// error; the result carries partial failures and the success verdict.
	Execute(ctx context.Context, run *Run) *models.StrategyResult

	// Name returns the pattern name as recorded in metrics and metadata.
	Name() string

	// Description summarises the pattern for planning prompts.
	Description() string
}

// ForType returns the strategy value for a team's strategy type. Unknown
// types run hierarchical, mirroring the planner's mapping.
func ForType(t models.StrategyType) Strategy {
	switch t {
	case models.StrategySingle:
		return Single{}
	case models.StrategyParallel:
		return Parallel{}
	case models.StrategyPhased:
		return Phased{}
	default:
		return Hierarchical{}
	}
}

// Run is the per-execution context handed to a strategy: the team, the
// request, and the runtime collaborators. Strategies themselves hold no
// state.
type Run struct {
	// Team is the validated team executing the run.
	Team *models.Team

	// ConversationID is the wire thread id the run answers into. The lead
	// works in its view of this thread; delegated members work in
	// sub-conversations derived from it.
	ConversationID string

	// Request is the inbound request text.
	Request string

	// EventID is the id of the triggering event, used for reply tags and
	// duplicate detection.
	EventID string

	// RequesterPubkey is recorded as a conversation participant.
	RequesterPubkey string

	// IsFromAgent marks runs triggered by another agent's event, switching
	// new conversations to the terse agent-to-agent register.
	IsFromAgent bool

	// Registry resolves team member names to agents.
	Registry *agent.Registry

	// Bus publishes typing indicators and task events. Optional; a nil bus
	// runs silently.
	Bus eventbus.Bus

	// Project is the project metadata stamped on outbound events.
	Project agent.ProjectInfo

	// Profile overrides every agent's model profile for this run when set.
	Profile *llm.Profile

	// TypingInterval and TypingTTL tune the indicator wrapping each agent
	// invocation. Zero values use the typing package defaults.
	TypingInterval time.Duration
	TypingTTL      time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (r *Run) log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Run) agent(name string) (*agent.Agent, bool) {
	if r.Registry == nil {
		return nil, false
	}
	return r.Registry.Get(name)
}

func (r *Run) peers(name string) []agent.Peer {
	if r.Registry == nil {
		return nil
	}
	return r.Registry.Peers(name)
}

// subConversationID derives the id a delegated member works in.
func (r *Run) subConversationID(member string) string {
	return r.ConversationID + "-" + member
}

// Prepare ensures the lead's view of the thread exists and carries the
// request as its last user message. The coordinator calls it once before
// Execute; a redelivered event that is already the last user message is
// not inserted again.
func (r *Run) Prepare(ctx context.Context) error {
	lead, ok := r.agent(r.Team.Lead)
	if !ok {
		return fmt.Errorf("lead agent %q is not registered", r.Team.Lead)
	}

	conv, err := lead.GetOrCreateConversation(ctx, r.ConversationID, agent.Seed{
		Peers:     r.peers(lead.Name()),
		FromAgent: r.IsFromAgent,
	})
	if err != nil {
		return err
	}
	if last := conv.LastUserMessage(); last != nil && r.EventID != "" && last.EventID == r.EventID {
		return nil
	}
	return lead.AddUserMessage(ctx, r.ConversationID, models.NewUserMessage(r.Request, r.EventID))
}

// invoke runs one agent generation wrapped in a typing indicator. The
// indicator always references the wire thread so observers see activity no
// matter which sub-conversation the work happens in, and it always stops,
// even when generation fails.
func (r *Run) invoke(ctx context.Context, ag *agent.Agent, conversationID, phase string) (*models.AgentResponse, error) {
	notifier := typing.NewNotifier(typing.Config{
		Bus:            r.Bus,
		Signer:         ag.Signer(),
		ConversationID: r.ConversationID,
		ProjectAddress: r.Project.Address,
		Interval:       r.TypingInterval,
		TTL:            r.TypingTTL,
		Logger:         r.Logger,
	})
	notifier.Start(ctx)
	defer notifier.Stop()

	resp, err := ag.GenerateResponse(ctx, conversationID, agent.GenerateOpts{Profile: r.Profile})
	if err != nil {
		return nil, err
	}
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["phase"] = phase
	return resp, nil
}

// delegate opens (or reuses) the member's sub-conversation, seeds it with
// the task text and generates the member's response under the given phase
// label.
func (r *Run) delegate(ctx context.Context, member *agent.Agent, task, phase string) (*models.AgentResponse, error) {
	subID := r.subConversationID(member.Name())
	if _, err := member.GetOrCreateConversation(ctx, subID, agent.Seed{
		Peers:     r.peers(member.Name()),
		FromAgent: true,
	}); err != nil {
		return nil, err
	}
	if err := member.AddUserMessage(ctx, subID, models.NewUserMessage(task, "")); err != nil {
		return nil, err
	}
	return r.invoke(ctx, member, subID, phase)
}

// publishTask announces a delegated task on the wire so clients can track
// team activity. Task events are advisory; failures only log.
func (r *Run) publishTask(ctx context.Context, lead, member *agent.Agent, task string) {
	if r.Bus == nil {
		return
	}
	event := &nostr.Event{
		Kind:      eventbus.KindTask,
		CreatedAt: nostr.Now(),
		Content:   task,
		Tags:      eventbus.ReplyTags(r.ConversationID, r.Project.Address),
	}
	event.Tags = append(event.Tags, nostr.Tag{"p", member.PublicKey()})
	if err := lead.Sign(event); err != nil {
		r.log().Warn("failed to sign task event", "member", member.Name(), "error", err)
		return
	}
	if err := r.Bus.Publish(ctx, event); err != nil {
		r.log().Warn("failed to publish task event", "member", member.Name(), "error", err)
	}
}

// appendToParent records a member's output on the lead's view of the thread
// so the lead's later turns can see it.
func (r *Run) appendToParent(ctx context.Context, lead *agent.Agent, member string, content string) {
	msg := models.Message{AgentName: member, Content: content}
	if err := lead.AddAssistantMessage(ctx, r.ConversationID, msg); err != nil {
		r.log().Warn("failed to append member output to thread",
			"member", member, "error", err)
	}
}

// instruct appends an orchestration instruction to the lead's view of the
// thread.
func (r *Run) instruct(ctx context.Context, lead *agent.Agent, text string) error {
	return lead.AddUserMessage(ctx, r.ConversationID, models.NewUserMessage(text, ""))
}

// recordPartial captures a member-level failure without failing the run:
// the error joins the result's error list and the partial_failures metadata
// the coordinator reports on.
func recordPartial(result *models.StrategyResult, member string, err error) {
	failure := tenexerr.PartialFailure(member, err)
	result.AddError(failure)
	failures, _ := result.Metadata["partial_failures"].([]string)
	result.Metadata["partial_failures"] = append(failures, failure.Error())
}

// saveOutcome stamps participants and the team record on the lead's view of
// the thread and saves it. Every Execute path ends here so partial state is
// always captured; a failed save downgrades the run to unsuccessful.
func (r *Run) saveOutcome(ctx context.Context, result *models.StrategyResult) {
	lead, ok := r.agent(r.Team.Lead)
	if !ok {
		return
	}
	conv, err := lead.Conversation(ctx, r.ConversationID)
	if err != nil {
		r.log().Error("failed to load thread for final save", "error", err)
		r.Metrics.RecordError("strategy", "persistence")
		result.Success = false
		result.AddError(fmt.Errorf("final save: %w", err))
		return
	}

	conv.AddParticipant(r.RequesterPubkey)
	for _, resp := range result.Responses {
		if ag, ok := r.agent(resp.AgentName); ok {
			conv.AddParticipant(ag.PublicKey())
		}
	}
	conv.SetMetadata("team", r.Team)
	conv.SetMetadata("strategy", string(r.Team.Strategy))
	conv.SetMetadata("last_run_success", result.Success)

	if err := lead.SaveConversation(ctx, conv); err != nil {
		r.log().Error("failed to save thread at end of run", "error", err)
		r.Metrics.RecordError("strategy", "persistence")
		result.Success = false
		result.AddError(err)
	}
}
