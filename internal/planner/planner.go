// Package planner forms a response team for an inbound request. One call to
// the planning model yields a request analysis, a lead/member proposal and a
// task definition in a single JSON reply; the proposal is then forced through
// the team constraints so strategies always receive a valid team. When the
// model cannot be reached or keeps replying garbage, planning degrades to a
// deterministic single-agent fallback rather than failing the run.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/tenex/internal/jsonrepair"
	"github.com/haasonsaas/tenex/internal/llm"
	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/retry"
	"github.com/haasonsaas/tenex/internal/tenexerr"
	"github.com/haasonsaas/tenex/pkg/models"
)

// DefaultMaxTeamSize caps team membership when the configuration does not.
const DefaultMaxTeamSize = 5

// Config wires a planner to its planning model.
type Config struct {
	// Provider is the planning endpoint. Required. Planning calls go to the
	// provider directly; the planner never advertises tools.
	Provider llm.Provider

	// DefaultAgent is the lead of the fallback team. Required.
	DefaultAgent string

	// MaxTeamSize caps |members|. Zero means DefaultMaxTeamSize.
	MaxTeamSize int

	// Retry controls the planning retry. The zero value means one retry
	// with a short backoff.
	Retry retry.Config

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Planner turns a request plus the agent roster into a Team.
type Planner struct {
	provider     llm.Provider
	defaultAgent string
	maxTeamSize  int
	retry        retry.Config
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// New constructs a planner.
func New(config Config) (*Planner, error) {
	if config.Provider == nil {
		return nil, tenexerr.Configuration("planner: provider is required", nil)
	}
	if strings.TrimSpace(config.DefaultAgent) == "" {
		return nil, tenexerr.Configuration("planner: default agent is required", nil)
	}
	if config.MaxTeamSize <= 0 {
		config.MaxTeamSize = DefaultMaxTeamSize
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.Exponential(2, 500*time.Millisecond, 2*time.Second)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		provider:     config.Provider,
		defaultAgent: config.DefaultAgent,
		maxTeamSize:  config.MaxTeamSize,
		retry:        config.Retry,
		logger:       logger.With("component", "planner"),
		metrics:      config.Metrics,
	}, nil
}

// Plan analyses the request and assembles the team that will answer it.
//
// The returned team always satisfies Team.Validate. Planning failures fall
// back to a single-agent team led by the configured default agent; only a
// cancelled context aborts the run instead.
func (p *Planner) Plan(ctx context.Context, conversationID, request string, defs []*models.AgentDefinition) (*models.Team, error) {
	combined, err := p.propose(ctx, request, defs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("planning failed, falling back to the default agent",
			"conversation_id", conversationID,
			"error", err)
		p.metrics.RecordError("planner", "fallback")
		return p.fallback(conversationID, request), nil
	}

	team, err := p.assemble(conversationID, request, combined, defs)
	if err != nil {
		p.logger.Warn("planner proposal unusable, falling back to the default agent",
			"conversation_id", conversationID,
			"error", err)
		p.metrics.RecordError("planner", "fallback")
		return p.fallback(conversationID, request), nil
	}

	p.logger.Info("team formed",
		"conversation_id", conversationID,
		"lead", team.Lead,
		"members", team.Members,
		"strategy", team.Strategy)
	return team, nil
}

// propose makes the planning call, retrying once on a transient failure or
// an unparsable reply. Definite provider rejections are not retried.
func (p *Planner) propose(ctx context.Context, request string, defs []*models.AgentDefinition) (models.CombinedAnalysisResponse, error) {
	var zero models.CombinedAnalysisResponse

	schemaText, compiled, err := responseSchema()
	if err != nil {
		return zero, tenexerr.Planning("build planning schema", err)
	}
	if len(defs) == 0 {
		return zero, tenexerr.Planning("no agents available to plan with", nil)
	}

	messages := []models.Message{
		models.NewSystemMessage(planningPrompt(defs, schemaText)),
		models.NewUserMessage(request, ""),
	}

	attempt := 0
	combined, result := retry.DoWithValue(ctx, p.retry, func() (models.CombinedAnalysisResponse, error) {
		attempt++
		if attempt > 1 {
			p.metrics.RecordError("planner", "retry")
		}

		start := time.Now()
		resp, err := p.provider.Generate(ctx, messages, llm.GenerateOptions{})
		if err != nil {
			wrapped := tenexerr.Provider("planning call", err)
			if perr, ok := llm.AsProviderError(err); ok && !perr.Retryable() {
				// A definite 4xx will fail the same way again.
				return zero, retry.Permanent(wrapped)
			}
			return zero, wrapped
		}
		p.logger.Debug("planning reply received",
			"attempt", attempt,
			"duration", time.Since(start))

		parsed, err := parseReply(resp.Content, compiled)
		if err != nil {
			return zero, err
		}
		return parsed, nil
	})
	if result.Err != nil {
		return zero, result.Err
	}
	return combined, nil
}

// parseReply runs the repair ladder over the model's reply and checks the
// result against the response schema before decoding it.
func parseReply(content string, schema *jsonschema.Schema) (models.CombinedAnalysisResponse, error) {
	var zero models.CombinedAnalysisResponse

	value, err := jsonrepair.Parse(content)
	if err != nil {
		return zero, tenexerr.Planning("parse planning reply", err)
	}
	if err := schema.Validate(value); err != nil {
		return zero, tenexerr.Planning("planning reply rejected by schema", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return zero, tenexerr.Planning("re-encode planning reply", err)
	}
	var combined models.CombinedAnalysisResponse
	if err := json.Unmarshal(normalized, &combined); err != nil {
		return zero, tenexerr.Planning("decode planning reply", err)
	}
	return combined, nil
}

// assemble enforces the team constraints over the model's proposal: members
// must name known agents, the lead must be a member, the roster is capped at
// maxTeamSize with the lead kept, and green-light tasks never run single.
func (p *Planner) assemble(conversationID, request string, combined models.CombinedAnalysisResponse, defs []*models.AgentDefinition) (*models.Team, error) {
	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.Name] = true
	}

	members := make([]string, 0, len(combined.Team.Members))
	seen := make(map[string]bool, len(combined.Team.Members))
	for _, name := range combined.Team.Members {
		if !known[name] {
			p.logger.Warn("planner proposed unknown agent", "agent", name)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		members = append(members, name)
	}
	if len(members) == 0 {
		return nil, tenexerr.Planning("proposal names no known agents", nil)
	}

	lead := combined.Team.Lead
	if !seen[lead] {
		lead = members[0]
	}
	if len(members) > p.maxTeamSize {
		members = truncateKeepingLead(members, lead, p.maxTeamSize)
	}

	strategy := models.ParseStrategyType(combined.Analysis.SuggestedStrategy)

	task := combined.Task
	if strings.TrimSpace(task.Description) == "" {
		task.Description = request
	}
	if task.RequiresGreenLight && strategy == models.StrategySingle {
		strategy = models.StrategyHierarchical
		if len(task.Reviewers) == 0 {
			task.Reviewers = []string{lead}
		}
	}

	team := &models.Team{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Lead:           lead,
		Members:        members,
		Strategy:       strategy,
		Task: models.TaskDefinition{
			ID:       uuid.NewString(),
			TaskSpec: task,
		},
		Formation: models.TeamFormation{
			Timestamp: time.Now(),
			Reasoning: combined.Analysis.Reasoning,
			Analysis:  combined.Analysis,
		},
	}
	if err := team.Validate(); err != nil {
		return nil, tenexerr.Planning("assembled team is invalid", err)
	}
	return team, nil
}

// fallback is the deterministic team used when planning is unavailable: the
// configured default agent answering alone.
func (p *Planner) fallback(conversationID, request string) *models.Team {
	return &models.Team{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Lead:           p.defaultAgent,
		Members:        []string{p.defaultAgent},
		Strategy:       models.StrategySingle,
		Task: models.TaskDefinition{
			ID: uuid.NewString(),
			TaskSpec: models.TaskSpec{
				Description: request,
			},
		},
		Formation: models.TeamFormation{
			Timestamp: time.Now(),
			Reasoning: "planning unavailable, defaulting to the configured agent",
			Analysis: models.RequestAnalysis{
				RequestType:       "fallback",
				SuggestedStrategy: string(models.StrategySingle),
			},
		},
	}
}

// truncateKeepingLead cuts members down to max entries. The lead moves to
// the front so it always survives the cut; the others keep proposal order.
func truncateKeepingLead(members []string, lead string, max int) []string {
	out := make([]string, 0, max)
	out = append(out, lead)
	for _, name := range members {
		if len(out) >= max {
			break
		}
		if name != lead {
			out = append(out, name)
		}
	}
	return out
}

// planningPrompt is the system prompt for the planning call: the agent
// catalogue, strategy guidance, and the reply schema.
func planningPrompt(defs []*models.AgentDefinition, schemaText string) string {
	var b strings.Builder

	b.WriteString("You are the planning stage of a multi-agent runtime. ")
	b.WriteString("Analyse the user's request and assemble the team best suited to answer it.\n\n")

	b.WriteString("## Available Agents\n\n")
	for _, def := range defs {
		role := def.Role
		if role == "" {
			role = "agent"
		}
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", def.Name, role, def.Description)
	}
	b.WriteString("\n")

	b.WriteString("## Strategies\n\n")
	b.WriteString("- single: one agent answers alone. Use for simple, self-contained requests.\n")
	b.WriteString("- hierarchical: a lead analyses, delegates subtasks to the members, then reviews. Use when the work decomposes into parts.\n")
	b.WriteString("- parallel: every member works the same request independently and the answers are aggregated. Use when independent perspectives help.\n")
	b.WriteString("- phased: the lead plans sequential phases and reviews each before the next. Use for long, ordered work.\n\n")

	b.WriteString("## Instructions\n\n")
	b.WriteString("- Pick the smallest team that can complete the request.\n")
	b.WriteString("- Every member must be one of the available agents, named exactly.\n")
	b.WriteString("- The lead must be one of the members.\n")
	b.WriteString("- Respond with a single JSON object matching the schema below. No prose, no code fences.\n\n")

	b.WriteString("## Response Schema\n\n")
	b.WriteString(schemaText)
	b.WriteString("\n")

	return b.String()
}

var planSchemas struct {
	once     sync.Once
	initErr  error
	text     string
	compiled *jsonschema.Schema
}

// responseSchema reflects the combined-analysis schema once and compiles it
// for validation. The same document goes into the prompt verbatim.
func responseSchema() (string, *jsonschema.Schema, error) {
	planSchemas.once.Do(func() {
		reflector := &invopop.Reflector{
			DoNotReference: true,
		}
		schema := reflector.Reflect(&models.CombinedAnalysisResponse{})
		raw, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			planSchemas.initErr = err
			return
		}
		compiled, err := jsonschema.CompileString("combined_analysis", string(raw))
		if err != nil {
			planSchemas.initErr = err
			return
		}
		planSchemas.text = string(raw)
		planSchemas.compiled = compiled
	})
	return planSchemas.text, planSchemas.compiled, planSchemas.initErr
}
