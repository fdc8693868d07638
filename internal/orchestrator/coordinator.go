// Package orchestrator drives the event handling pipeline: an inbound
// event is deduplicated, a response team is resolved, the team's strategy
// runs, and the surviving responses are signed and published back into the
// thread.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/agent"
	"github.com/haasonsaas/tenex/internal/eventbus"
	"github.com/haasonsaas/tenex/internal/llm"
	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/planner"
	"github.com/haasonsaas/tenex/internal/store"
	"github.com/haasonsaas/tenex/internal/strategy"
	"github.com/haasonsaas/tenex/internal/tenexerr"
	"github.com/haasonsaas/tenex/pkg/models"
)

// disclaimer is the stock phrase agents use to bow out of a thread.
const disclaimer = "nothing to add"

// Config wires the coordinator to its collaborators.
type Config struct {
	// Bus publishes replies and receives nothing; subscription is the
	// service loop's job.
	Bus eventbus.Bus

	// Registry is the agent roster.
	Registry *agent.Registry

	// Planner forms teams for requests that address nobody.
	Planner *planner.Planner

	// Store tracks processed event ids.
	Store store.Store

	// Project is stamped onto outbound events.
	Project agent.ProjectInfo

	// Profiles resolve caller model overrides by name.
	Profiles map[string]llm.Profile

	// RunDeadline bounds a single coordination run. Zero means unbounded.
	RunDeadline time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Coordinator turns one inbound event into a coordinated team response.
// It is safe for concurrent use; runs on the same conversation serialise,
// runs on different conversations proceed independently.
type Coordinator struct {
	config Config
	logger *slog.Logger
	locks  *runLocks
}

// New validates the wiring and returns a coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Bus == nil {
		return nil, tenexerr.Configuration("coordinator requires a bus", nil)
	}
	if config.Registry == nil {
		return nil, tenexerr.Configuration("coordinator requires an agent registry", nil)
	}
	if config.Planner == nil {
		return nil, tenexerr.Configuration("coordinator requires a planner", nil)
	}
	if config.Store == nil {
		return nil, tenexerr.Configuration("coordinator requires a store", nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		config: config,
		logger: logger.With("component", "orchestrator"),
		locks:  newRunLocks(),
	}, nil
}

// HandleEvent runs the full pipeline for one inbound event. Already
// processed events and redeliveries are no-ops; a failed run still leaves a
// diagnostic reply in the thread instead of silence.
func (c *Coordinator) HandleEvent(ctx context.Context, event *nostr.Event) error {
	kind := strconv.Itoa(event.Kind)

	if strings.TrimSpace(event.Content) == "" {
		c.config.Metrics.RecordEvent(kind, "skipped")
		return nil
	}

	_, isFromAgent := c.config.Registry.ByPubkey(event.PubKey)
	if isFromAgent && event.Kind == eventbus.KindTask {
		// Our own delegation announcements come back through the
		// subscription; the in-process run already covers them.
		c.config.Metrics.RecordEvent(kind, "skipped")
		return nil
	}

	conversationID := eventbus.ConversationID(event)
	release := c.locks.lock(conversationID)
	defer release()

	processed, err := c.config.Store.IsProcessed(ctx, event.ID)
	if err != nil {
		c.logger.Warn("processed check failed, handling anyway",
			"event_id", event.ID, "error", err)
	}
	if processed {
		c.config.Metrics.RecordEvent(kind, "skipped")
		return nil
	}

	ctx, span := c.config.Tracer.TraceEventHandling(ctx, event.Kind, event.ID)
	defer span.End()
	logger := c.logger
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}

	team, err := c.resolveTeam(ctx, event, conversationID)
	if err != nil {
		// The planner degrades to its fallback team on its own; an error
		// here means the run was cancelled.
		c.config.Metrics.RecordEvent(kind, "failed")
		return err
	}

	run := &strategy.Run{
		Team:            team,
		ConversationID:  conversationID,
		Request:         event.Content,
		EventID:         event.ID,
		RequesterPubkey: event.PubKey,
		IsFromAgent:     isFromAgent,
		Registry:        c.config.Registry,
		Bus:             c.config.Bus,
		Project:         c.config.Project,
		Profile:         c.profileOverride(event),
		Logger:          c.config.Logger,
		Metrics:         c.config.Metrics,
	}

	c.config.Metrics.ConversationStarted()
	defer c.config.Metrics.ConversationFinished()

	result := c.execute(ctx, run)

	published := c.publishResponses(ctx, event, result)
	if !result.Success {
		c.publishDiagnostic(ctx, event, run.Team, result)
	}
	c.publishSnapshot(ctx, run)

	if err := c.config.Store.MarkProcessed(ctx, event.ID, time.Now()); err != nil {
		c.config.Metrics.RecordError("orchestrator", "mark_processed")
		return tenexerr.Persistence(fmt.Sprintf("mark event %s processed", event.ID), err)
	}

	logger.Info("event handled",
		"event_id", event.ID,
		"conversation_id", conversationID,
		"strategy", team.Strategy,
		"team", team.Members,
		"responses", len(result.Responses),
		"published", published,
		"success", result.Success)
	c.config.Metrics.RecordEvent(kind, "handled")
	return nil
}

// execute runs the team's strategy under the coordinator deadline. Every
// failure mode comes back as a result, never as a panic or error.
func (c *Coordinator) execute(ctx context.Context, run *strategy.Run) *models.StrategyResult {
	strat := strategy.ForType(run.Team.Strategy)

	runCtx := ctx
	if c.config.RunDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.config.RunDeadline)
		defer cancel()
	}
	runCtx, span := c.config.Tracer.TraceStrategyRun(runCtx, strat.Name(), run.ConversationID)
	defer span.End()

	if err := run.Prepare(runCtx); err != nil {
		c.logger.Error("run preparation failed",
			"conversation_id", run.ConversationID, "error", err)
		c.config.Metrics.RecordError("orchestrator", "prepare")
		c.config.Tracer.RecordError(span, err)
		result := models.NewStrategyResult()
		result.AddError(err)
		return result
	}

	start := time.Now()
	result := strat.Execute(runCtx, run)
	status := "success"
	if !result.Success {
		status = "failed"
	}
	c.config.Metrics.RecordStrategyRun(strat.Name(), status, time.Since(start).Seconds())
	return result
}

// resolveTeam picks the responders: the known agents the event p-tags, or
// a planned team when nobody is addressed.
func (c *Coordinator) resolveTeam(ctx context.Context, event *nostr.Event, conversationID string) (*models.Team, error) {
	if team := c.addressedTeam(event, conversationID); team != nil {
		return team, nil
	}

	agents := c.config.Registry.Agents()
	defs := make([]*models.AgentDefinition, 0, len(agents))
	for _, ag := range agents {
		defs = append(defs, ag.Definition())
	}
	return c.config.Planner.Plan(ctx, conversationID, event.Content, defs)
}

// addressedTeam forms a team from the agents the event addresses directly.
// One addressee answers alone; several answer in parallel, first as lead.
func (c *Coordinator) addressedTeam(event *nostr.Event, conversationID string) *models.Team {
	var members []string
	seen := map[string]bool{}
	for _, pubkey := range eventbus.TagValues(event, "p") {
		ag, ok := c.config.Registry.ByPubkey(pubkey)
		if !ok || seen[ag.Name()] {
			continue
		}
		seen[ag.Name()] = true
		members = append(members, ag.Name())
	}
	if len(members) == 0 {
		return nil
	}

	strategyType := models.StrategySingle
	if len(members) > 1 {
		strategyType = models.StrategyParallel
	}
	return &models.Team{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Lead:           members[0],
		Members:        members,
		Strategy:       strategyType,
		Task: models.TaskDefinition{
			ID:       uuid.NewString(),
			TaskSpec: models.TaskSpec{Description: event.Content},
		},
		Formation: models.TeamFormation{
			Timestamp: time.Now(),
			Reasoning: "addressed directly by the request",
			Analysis: models.RequestAnalysis{
				RequestType:       "direct",
				SuggestedStrategy: string(strategyType),
			},
		},
	}
}

// profileOverride resolves a model tag naming a configured profile.
func (c *Coordinator) profileOverride(event *nostr.Event) *llm.Profile {
	name := eventbus.TagValue(event, "model")
	if name == "" {
		return nil
	}
	profile, ok := c.config.Profiles[name]
	if !ok {
		c.logger.Warn("request names an unknown model profile", "profile", name)
		return nil
	}
	return &profile
}

// shouldPublish filters responses the thread should not see: empty content
// and bare bow-outs, unless a render payload is attached.
func shouldPublish(resp models.AgentResponse) bool {
	if resp.RenderInChat != nil {
		return true
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return false
	}
	return !strings.Contains(strings.ToLower(content), disclaimer)
}

// publishResponses signs and publishes each response with its author's key,
// replying to the original event. Individual failures log and continue.
func (c *Coordinator) publishResponses(ctx context.Context, event *nostr.Event, result *models.StrategyResult) int {
	kind := strconv.Itoa(eventbus.KindTextReply)
	published := 0
	for _, resp := range result.Responses {
		if !shouldPublish(resp) {
			continue
		}
		ag, ok := c.config.Registry.Get(resp.AgentName)
		if !ok {
			continue
		}

		reply := &nostr.Event{
			Kind:      eventbus.KindTextReply,
			CreatedAt: nostr.Now(),
			Content:   resp.Content,
			Tags:      eventbus.ReplyTags(event.ID, c.config.Project.Address),
		}
		if err := ag.Sign(reply); err != nil {
			c.logger.Error("failed to sign reply", "agent", resp.AgentName, "error", err)
			c.config.Metrics.RecordError("orchestrator", "sign")
			continue
		}
		if err := c.config.Bus.Publish(ctx, reply); err != nil {
			c.logger.Error("failed to publish reply", "agent", resp.AgentName, "error", err)
			c.config.Metrics.RecordPublish(kind, "error")
			continue
		}
		c.config.Metrics.RecordPublish(kind, "success")
		published++
	}
	return published
}

// publishDiagnostic tells the thread a run failed instead of going silent.
func (c *Coordinator) publishDiagnostic(ctx context.Context, event *nostr.Event, team *models.Team, result *models.StrategyResult) {
	ag, ok := c.config.Registry.Get(team.Lead)
	if !ok {
		if ag, ok = c.config.Registry.Default(); !ok {
			return
		}
	}

	reason := "unknown error"
	if len(result.Errors) > 0 {
		reason = result.Errors[0]
	}
	diag := &nostr.Event{
		Kind:      eventbus.KindTextReply,
		CreatedAt: nostr.Now(),
		Content:   fmt.Sprintf("I could not complete this request: %s", reason),
		Tags:      eventbus.ReplyTags(event.ID, c.config.Project.Address),
	}
	if err := ag.Sign(diag); err != nil {
		c.logger.Error("failed to sign diagnostic", "error", err)
		return
	}
	if err := c.config.Bus.Publish(ctx, diag); err != nil {
		c.logger.Error("failed to publish diagnostic", "error", err)
		c.config.Metrics.RecordPublish(strconv.Itoa(eventbus.KindTextReply), "error")
		return
	}
	c.config.Metrics.RecordPublish(strconv.Itoa(eventbus.KindTextReply), "success")
}

// snapshot is the conversation summary dashboards consume.
type snapshot struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	Phase        string    `json:"phase"`
	Messages     int       `json:"messages"`
	Participants int       `json:"participants"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// publishSnapshot emits a kind-24011 summary of the lead's thread after a
// run, best-effort.
func (c *Coordinator) publishSnapshot(ctx context.Context, run *strategy.Run) {
	lead, ok := c.config.Registry.Get(run.Team.Lead)
	if !ok {
		return
	}
	conv, err := lead.Conversation(ctx, run.ConversationID)
	if err != nil {
		return
	}

	payload, err := json.Marshal(snapshot{
		ID:           run.ConversationID,
		Title:        conv.Title,
		Phase:        string(conv.Phase),
		Messages:     len(conv.Messages),
		Participants: len(conv.Participants),
		UpdatedAt:    conv.UpdatedAt,
	})
	if err != nil {
		return
	}

	event := &nostr.Event{
		Kind:      eventbus.KindConversation,
		CreatedAt: nostr.Now(),
		Content:   string(payload),
		Tags:      eventbus.ReplyTags(run.ConversationID, c.config.Project.Address),
	}
	if err := lead.Sign(event); err != nil {
		return
	}
	if err := c.config.Bus.Publish(ctx, event); err != nil {
		c.logger.Debug("snapshot publish failed", "error", err)
	}
}
