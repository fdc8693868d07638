package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/tenex/internal/eventbus"
	"github.com/haasonsaas/tenex/internal/llm"
	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/store"
	"github.com/haasonsaas/tenex/internal/tenexerr"
	"github.com/haasonsaas/tenex/internal/tools"
	"github.com/haasonsaas/tenex/pkg/models"
)

// ToolFactory builds agent-specific tools that need the agent's identity,
// such as the lesson publisher signing with the agent's own key.
type ToolFactory func(def *models.AgentDefinition, signer *eventbus.Signer) []tools.Tool

// RegistryConfig wires a Registry to everything agent construction needs.
type RegistryConfig struct {
	// Dir holds one JSON definition per agent.
	Dir string

	// Default names the agent used when no responder is addressed and as
	// the planning fallback.
	Default string

	// Profiles maps profile names to resolved model profiles.
	Profiles map[string]llm.Profile

	// DefaultProfile is used for agents naming no profile, or an unknown
	// one.
	DefaultProfile string

	// Providers is the shared provider cache.
	Providers *llm.Cache

	// BaseTools is the shared default tool set. Agents with ToolIDs get
	// the named subset; agents without get the full set.
	BaseTools *tools.Registry

	// ExtraTools, when set, contributes agent-specific tools on top of the
	// derived set.
	ExtraTools ToolFactory

	// Store persists agent conversations.
	Store store.Store

	// Project is the static prompt metadata shared by every agent.
	Project ProjectInfo

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Registry owns the process-wide agent roster, keyed by name with a pubkey
// index for author lookups. The roster is one-way: agents know nothing about
// the registry that holds them.
//
// Mutations happen at startup and on definition reloads; each reload builds
// a complete replacement roster and swaps it in under the lock, so in-flight
// runs keep working against the agents they already resolved.
type Registry struct {
	config RegistryConfig
	logger *slog.Logger

	mu       sync.RWMutex
	agents   map[string]*Agent
	byPubkey map[string]string

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewRegistry creates an empty registry; call Load to populate it.
func NewRegistry(config RegistryConfig) *Registry {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:   config,
		logger:   logger.With("component", "agent-registry"),
		agents:   map[string]*Agent{},
		byPubkey: map[string]string{},
	}
}

// Load reads every definition under the configured directory and swaps the
// built roster in. Definitions that fail to build are skipped with a log;
// Load only errors when the directory is unreadable, no agent could be
// built, or the default agent is missing from the result.
func (r *Registry) Load(ctx context.Context) error {
	defs, loadErr := LoadDefinitions(r.config.Dir)
	if loadErr != nil && len(defs) == 0 {
		return tenexerr.Configuration(fmt.Sprintf("load agent definitions from %s", r.config.Dir), loadErr)
	}
	if loadErr != nil {
		r.logger.Warn("some agent definitions failed to load", "error", loadErr)
	}

	agents := make(map[string]*Agent, len(defs))
	byPubkey := make(map[string]string, len(defs))
	for _, def := range defs {
		ag, err := r.build(def)
		if err != nil {
			r.logger.Error("skipping agent", "agent", def.Name, "error", err)
			continue
		}
		agents[ag.Name()] = ag
		byPubkey[ag.PublicKey()] = ag.Name()
	}

	if len(agents) == 0 {
		return tenexerr.Configuration(fmt.Sprintf("no usable agent definitions in %s", r.config.Dir), nil)
	}
	if _, ok := agents[r.config.Default]; !ok {
		return tenexerr.Configuration(fmt.Sprintf("default agent %q is not defined in %s", r.config.Default, r.config.Dir), nil)
	}

	r.mu.Lock()
	r.agents = agents
	r.byPubkey = byPubkey
	r.mu.Unlock()

	r.logger.Info("agent roster loaded", "agents", len(agents), "default", r.config.Default)
	return nil
}

// build constructs one agent from its definition.
func (r *Registry) build(def *models.AgentDefinition) (*Agent, error) {
	profileName := def.LLMProfile
	profile, ok := r.config.Profiles[profileName]
	if !ok {
		if profileName != "" {
			r.logger.Warn("unknown llm profile, using default",
				"agent", def.Name,
				"profile", profileName)
		}
		profile, ok = r.config.Profiles[r.config.DefaultProfile]
		if !ok {
			return nil, tenexerr.Configuration(fmt.Sprintf("default llm profile %q is not configured", r.config.DefaultProfile), nil)
		}
	}

	registry := r.deriveTools(def)

	ag, err := New(Config{
		Definition: def,
		Profile:    profile,
		Providers:  r.config.Providers,
		Tools:      registry,
		Store:      r.config.Store,
		Project:    r.config.Project,
		Logger:     r.config.Logger,
		Metrics:    r.config.Metrics,
		Tracer:     r.config.Tracer,
	})
	if err != nil {
		return nil, err
	}

	if r.config.ExtraTools != nil {
		for _, tool := range r.config.ExtraTools(ag.Definition(), ag.Signer()) {
			if tool == nil {
				continue
			}
			if err := registry.Register(tool); err != nil {
				r.logger.Warn("skipping extra tool", "agent", def.Name, "tool", tool.Name(), "error", err)
			}
		}
	}
	return ag, nil
}

// deriveTools builds the agent's registry from the shared base: the named
// subset when ToolIDs is set, otherwise a snapshot of the full set.
func (r *Registry) deriveTools(def *models.AgentDefinition) *tools.Registry {
	base := r.config.BaseTools
	if base == nil {
		base = tools.NewRegistry()
	}
	if len(def.ToolIDs) == 0 {
		return base.With()
	}

	derived := tools.NewRegistry()
	for _, id := range def.ToolIDs {
		tool, ok := base.Get(id)
		if !ok {
			r.logger.Warn("agent names unknown tool", "agent", def.Name, "tool", id)
			continue
		}
		if err := derived.Register(tool); err != nil {
			r.logger.Warn("duplicate tool id in definition", "agent", def.Name, "tool", id)
		}
	}
	return derived
}

// Get returns an agent by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[name]
	return ag, ok
}

// ByPubkey returns the agent whose signing key matches the hex pubkey.
func (r *Registry) ByPubkey(pubkey string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byPubkey[strings.ToLower(pubkey)]
	if !ok {
		return nil, false
	}
	ag, ok := r.agents[name]
	return ag, ok
}

// Default returns the configured default agent.
func (r *Registry) Default() (*Agent, bool) {
	return r.Get(r.config.Default)
}

// Names returns the roster's agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the roster size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Agents returns the roster sorted by name.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Agent, 0, len(names))
	for _, name := range names {
		out = append(out, r.agents[name])
	}
	return out
}

// Peers enumerates the roster for prompt assembly, excluding the named
// agent.
func (r *Registry) Peers(exclude string) []Peer {
	peers := make([]Peer, 0, r.Len())
	for _, ag := range r.Agents() {
		if ag.Name() == exclude {
			continue
		}
		def := ag.Definition()
		peers = append(peers, Peer{
			Name:        def.Name,
			Role:        def.Role,
			Description: def.Description,
		})
	}
	return peers
}

// StartWatching reloads the roster when definition files change. Events are
// debounced so editors that write in bursts trigger one reload.
func (r *Registry) StartWatching(ctx context.Context) error {
	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return fmt.Errorf("create agents watcher: %w", err)
	}
	if err := watcher.Add(r.config.Dir); err != nil {
		r.watchMu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("watch agents directory: %w", err)
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	r.watchMu.Unlock()

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher)

	r.logger.Info("watching agent definitions", "dir", r.config.Dir)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer r.watchWg.Done()

	const debounce = 250 * time.Millisecond
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Load(context.Background()); err != nil {
				r.logger.Warn("agent reload failed, keeping previous roster", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("agents watch error", "error", err)
		}
	}
}

// Close stops the definition watcher.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}
