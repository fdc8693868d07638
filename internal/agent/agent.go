package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/eventbus"
	"github.com/haasonsaas/tenex/internal/llm"
	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/store"
	"github.com/haasonsaas/tenex/internal/tenexerr"
	"github.com/haasonsaas/tenex/internal/tools"
	"github.com/haasonsaas/tenex/pkg/models"
)

// Config wires one agent to its collaborators.
type Config struct {
	// Definition is the agent's loaded definition. Required.
	Definition *models.AgentDefinition

	// Profile is the resolved model profile the agent generates with.
	Profile llm.Profile

	// Providers is the shared write-once provider cache. A nil cache gets
	// a private one.
	Providers *llm.Cache

	// Tools is this agent's registry, already derived from the shared
	// default set. Nil means the agent runs without tools.
	Tools *tools.Registry

	// Store persists the agent's conversations. Required.
	Store store.Store

	// Project is the static project metadata for prompts.
	Project ProjectInfo

	// MaxToolTurns overrides the tool loop's turn cap when positive.
	MaxToolTurns int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Agent is a single configured agent: an identity that signs events, a tool
// registry, a provider handle and a view onto the conversation store.
type Agent struct {
	definition    *models.AgentDefinition
	profile       llm.Profile
	providers     *llm.Cache
	signer        *eventbus.Signer
	registry      *tools.Registry
	executor      *tools.Executor
	loop          *llm.ToolLoop
	conversations conversations
	project       ProjectInfo
	maxTurns      int
	logger        *slog.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
}

// New constructs an agent from its definition. The signing key is parsed
// eagerly so a bad key fails at startup, not on first publish.
func New(config Config) (*Agent, error) {
	if config.Definition == nil {
		return nil, tenexerr.Configuration("agent definition is required", nil)
	}
	if err := config.Definition.Validate(); err != nil {
		return nil, tenexerr.Configuration("invalid agent definition", err)
	}
	if config.Store == nil {
		return nil, tenexerr.Configuration(fmt.Sprintf("agent %s: store is required", config.Definition.Name), nil)
	}

	signer, err := eventbus.NewSigner(config.Definition.NSec)
	if err != nil {
		return nil, tenexerr.Configuration(fmt.Sprintf("agent %s: parse signing key", config.Definition.Name), err)
	}

	if config.Providers == nil {
		config.Providers = llm.NewCache()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent", "agent", config.Definition.Name)

	profile := config.Profile
	profile.Tools = config.Tools != nil && config.Tools.Len() > 0

	base, err := config.Providers.For(profile)
	if err != nil {
		return nil, tenexerr.Configuration(fmt.Sprintf("agent %s: build provider", config.Definition.Name), err)
	}

	executor := tools.NewExecutor(config.Tools, tools.ExecutorConfig{
		Logger:  logger,
		Metrics: config.Metrics,
		Tracer:  config.Tracer,
	})
	loop := llm.NewToolLoop(base, config.Tools, executor, llm.ToolLoopConfig{
		MaxToolTurns: config.MaxToolTurns,
		Logger:       logger,
		Metrics:      config.Metrics,
		Tracer:       config.Tracer,
	})

	return &Agent{
		definition: config.Definition.Clone(),
		profile:    profile,
		providers:  config.Providers,
		signer:     signer,
		registry:   config.Tools,
		executor:   executor,
		loop:       loop,
		conversations: conversations{
			agent: config.Definition.Name,
			store: config.Store,
		},
		project:  config.Project,
		maxTurns: config.MaxToolTurns,
		logger:   logger,
		metrics:  config.Metrics,
		tracer:   config.Tracer,
	}, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.definition.Name }

// Definition returns a copy of the agent's definition.
func (a *Agent) Definition() *models.AgentDefinition { return a.definition.Clone() }

// PublicKey returns the agent's hex pubkey.
func (a *Agent) PublicKey() string { return a.signer.PublicKey() }

// Npub returns the agent's bech32 pubkey.
func (a *Agent) Npub() string { return a.signer.Npub() }

// Signer exposes the agent's signer for collaborators that publish on the
// agent's behalf, such as typing indicators.
func (a *Agent) Signer() *eventbus.Signer { return a.signer }

// Tools returns the names of the tools available to this agent, sorted.
func (a *Agent) Tools() []string {
	if a.registry == nil {
		return nil
	}
	list := a.registry.List()
	names := make([]string, len(list))
	for i, tool := range list {
		names[i] = tool.Name()
	}
	return names
}

// Sign stamps an outbound event with the agent's key.
func (a *Agent) Sign(event *nostr.Event) error { return a.signer.Sign(event) }

// Conversation returns this agent's view of the thread, or
// store.ErrNotFound when the agent has never touched it.
func (a *Agent) Conversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return a.conversations.Load(ctx, conversationID)
}

// SaveConversation persists a conversation previously obtained from this
// agent; callers use it to stamp participants or metadata at the end of a
// run.
func (a *Agent) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if err := a.conversations.Save(ctx, conv); err != nil {
		return tenexerr.Persistence(fmt.Sprintf("save conversation %s", conv.ID), err)
	}
	return nil
}

// GetOrCreateConversation loads this agent's view of the thread, creating
// it on miss with the assembled system message as its first entry.
func (a *Agent) GetOrCreateConversation(ctx context.Context, conversationID string, seed Seed) (*models.Conversation, error) {
	conv, err := a.conversations.Load(ctx, conversationID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, tenexerr.Persistence(fmt.Sprintf("load conversation %s", conversationID), err)
	}

	conv = a.conversations.New(conversationID)
	conv.CurrentAgent = a.Name()
	conv.AddMessage(models.NewSystemMessage(BuildSystemPrompt(a.definition, a.project, seed)))
	conv.AddParticipant(a.PublicKey())
	if err := a.conversations.Save(ctx, conv); err != nil {
		return nil, tenexerr.Persistence(fmt.Sprintf("save conversation %s", conversationID), err)
	}

	a.logger.Debug("created conversation",
		"conversation_id", conversationID,
		"from_agent", seed.FromAgent)
	return conv, nil
}

// AddUserMessage appends a user message to the conversation.
func (a *Agent) AddUserMessage(ctx context.Context, conversationID string, msg models.Message) error {
	msg.Role = models.RoleUser
	if err := a.conversations.Append(ctx, conversationID, &msg); err != nil {
		return tenexerr.Persistence(fmt.Sprintf("append user message to %s", conversationID), err)
	}
	return nil
}

// AddAssistantMessage appends an assistant message attributed to this agent.
func (a *Agent) AddAssistantMessage(ctx context.Context, conversationID string, msg models.Message) error {
	msg.Role = models.RoleAssistant
	if msg.AgentName == "" {
		msg.AgentName = a.Name()
	}
	if err := a.conversations.Append(ctx, conversationID, &msg); err != nil {
		return tenexerr.Persistence(fmt.Sprintf("append assistant message to %s", conversationID), err)
	}
	return nil
}

// GenerateOpts carries per-call overrides for GenerateResponse.
type GenerateOpts struct {
	// Profile overrides the agent's configured model profile for this call,
	// as when the requester pinned a model for the run.
	Profile *llm.Profile
}

// GenerateResponse runs one tool-enabled completion over the conversation's
// history, persists the assistant turn, and returns the response.
//
// The conversation must exist and open with a system message; anything else
// is a programming error in the calling strategy, not a condition to repair.
func (a *Agent) GenerateResponse(ctx context.Context, conversationID string, opts GenerateOpts) (*models.AgentResponse, error) {
	conv, err := a.conversations.Load(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("agent %s: conversation %s does not exist", a.Name(), conversationID)
		}
		return nil, tenexerr.Persistence(fmt.Sprintf("load conversation %s", conversationID), err)
	}
	if conv.SystemMessage() == nil {
		return nil, fmt.Errorf("agent %s: conversation %s has no system message", a.Name(), conversationID)
	}

	provider, err := a.providerFor(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := provider.Generate(ctx, conv.Messages, llm.GenerateOptions{})
	if err != nil {
		return nil, tenexerr.Provider(fmt.Sprintf("agent %s generate", a.Name()), err)
	}
	a.logger.Debug("generated response",
		"conversation_id", conversationID,
		"model", resp.Model,
		"duration", time.Since(start))

	assistant := models.NewAssistantMessage(a.Name(), resp.Content, resp.Usage)
	assistant.ToolCalls = resp.ToolCalls
	if err := a.conversations.Append(ctx, conversationID, &assistant); err != nil {
		return nil, tenexerr.Persistence(fmt.Sprintf("append assistant message to %s", conversationID), err)
	}

	out := &models.AgentResponse{
		AgentName:    a.Name(),
		Content:      resp.Content,
		ToolCalls:    resp.ToolCalls,
		RenderInChat: resp.RenderInChat,
		Usage:        resp.Usage,
		Timestamp:    time.Now(),
	}
	if resp.Model != "" {
		out.Metadata = map[string]any{"model": resp.Model}
	}
	return out, nil
}

// providerFor returns the agent's standing tool loop, or a loop over the
// override profile resolved through the shared cache.
func (a *Agent) providerFor(opts GenerateOpts) (llm.Provider, error) {
	if opts.Profile == nil {
		return a.loop, nil
	}
	profile := *opts.Profile
	profile.Tools = a.registry != nil && a.registry.Len() > 0
	base, err := a.providers.For(profile)
	if err != nil {
		return nil, tenexerr.Configuration(fmt.Sprintf("agent %s: build override provider", a.Name()), err)
	}
	return llm.NewToolLoop(base, a.registry, a.executor, llm.ToolLoopConfig{
		MaxToolTurns: a.maxTurns,
		Logger:       a.logger,
		Metrics:      a.metrics,
		Tracer:       a.tracer,
	}), nil
}
