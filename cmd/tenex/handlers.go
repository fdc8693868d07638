package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/tenex/internal/agent"
	"github.com/haasonsaas/tenex/internal/config"
	"github.com/haasonsaas/tenex/internal/eventbus"
	"github.com/haasonsaas/tenex/internal/llm"
	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/orchestrator"
	"github.com/haasonsaas/tenex/internal/planner"
	"github.com/haasonsaas/tenex/internal/store"
	"github.com/haasonsaas/tenex/internal/tools"
	"github.com/haasonsaas/tenex/pkg/models"
)

// runServe wires the runtime together and blocks until a shutdown signal.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	logger.Info("starting tenex",
		"version", version,
		"commit", commit,
		"config", configPath,
		"project", cfg.Project.Name,
	)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	traceConfig := observability.TraceConfig{
		ServiceName:    "tenex",
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		traceConfig.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, stopTracer := observability.NewTracer(traceConfig)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracer(shutdownCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	signer, err := eventbus.NewSigner(cfg.Project.NSec)
	if err != nil {
		return fmt.Errorf("project key: %w", err)
	}
	project := agent.ProjectInfo{
		Name:       cfg.Project.Name,
		Address:    eventbus.ProjectAddress(signer.PublicKey(), cfg.Project.DTag),
		WorkingDir: cfg.Tools.Shell.Cwd,
	}

	// Cancel everything on shutdown signals from here on.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus, err := eventbus.NewRelayBus(eventbus.Config{
		Relays:  cfg.Relays,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("relay bus: %w", err)
	}
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("relay bus: %w", err)
	}
	defer closeBus(bus, logger)

	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	defer st.Close()

	cleaner := store.NewCleaner(st, store.CleanerConfig{
		Retention: cfg.Store.Retention,
		Schedule:  cfg.Store.CleanupSchedule,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err := cleaner.Start(ctx); err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	defer cleaner.Stop()

	profiles := buildProfiles(cfg.LLM)
	providers := llm.NewCache()
	base, extras := buildTools(cfg, bus, signer, project, logger)

	registry := agent.NewRegistry(agent.RegistryConfig{
		Dir:            cfg.Agents.Dir,
		Default:        cfg.Agents.Default,
		Profiles:       profiles,
		DefaultProfile: cfg.LLM.DefaultProfile,
		Providers:      providers,
		BaseTools:      base,
		ExtraTools:     extras,
		Store:          st,
		Project:        project,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("agent roster: %w", err)
	}
	defer registry.Close()
	if cfg.Agents.Watch {
		if err := registry.StartWatching(ctx); err != nil {
			logger.Warn("agent hot-reload unavailable", "error", err)
		}
	}

	planningBase, err := providers.For(profiles[cfg.LLM.PlannerProfile])
	if err != nil {
		return fmt.Errorf("planning provider: %w", err)
	}
	// Toolless loop wrapper, for request metrics and spans on planning calls.
	planningProvider := llm.NewToolLoop(planningBase, nil, nil, llm.ToolLoopConfig{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	pl, err := planner.New(planner.Config{
		Provider:     planningProvider,
		DefaultAgent: cfg.Agents.Default,
		MaxTeamSize:  cfg.Orchestrator.MaxTeamSize,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	coordinator, err := orchestrator.New(orchestrator.Config{
		Bus:         bus,
		Registry:    registry,
		Planner:     pl,
		Store:       st,
		Project:     project,
		Profiles:    profiles,
		RunDeadline: cfg.Orchestrator.RunDeadline,
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
	})
	if err != nil {
		return err
	}

	service, err := orchestrator.NewService(orchestrator.ServeConfig{
		Bus:         bus,
		Coordinator: coordinator,
		Registry:    registry,
		Signer:      signer,
		Project:     project,
		Workers:     cfg.Orchestrator.Workers,
		Heartbeat:   cfg.Orchestrator.Heartbeat,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	stopMetrics := startMetricsListener(cfg.Metrics, logger)
	defer stopMetrics()

	logger.Info("tenex serving",
		"project", project.Address,
		"agents", registry.Len(),
		"relays", len(cfg.Relays),
	)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tenex stopped")
	return nil
}

// buildLogger constructs the redacting logger from config. The debug flag
// wins over the configured level.
func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := cfg.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Format,
		Output: os.Stderr,
	})
}

// openStore constructs the configured conversation backend.
func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "file":
		return store.NewFileStore(cfg.Dir)
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildProfiles converts the configured model profiles into resolved ones.
func buildProfiles(cfg config.LLMConfig) map[string]llm.Profile {
	profiles := make(map[string]llm.Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		profile := llm.Profile{
			Provider:    p.Provider,
			Model:       p.Model,
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		}
		if p.Pricing != nil {
			profile.Pricing = &llm.Pricing{
				Prompt:     p.Pricing.Prompt,
				Completion: p.Pricing.Completion,
			}
		}
		profiles[name] = profile
	}
	return profiles
}

// buildTools assembles the shared tool set and the per-agent factory. Shell
// and spec tools sign with the project key; the lesson tool signs with each
// agent's own key, so it comes from the factory.
func buildTools(cfg *config.Config, bus eventbus.Bus, signer *eventbus.Signer, project agent.ProjectInfo, logger *slog.Logger) (*tools.Registry, agent.ToolFactory) {
	base := tools.NewRegistry()

	if cfg.Tools.Shell.Enabled {
		register(base, tools.NewShellTool(tools.ShellConfig{
			Cwd:       cfg.Tools.Shell.Cwd,
			Timeout:   cfg.Tools.Shell.Timeout,
			MaxOutput: cfg.Tools.Shell.MaxOutput,
			Bus:       bus,
			Signer:    signer,
			Logger:    logger,
		}), logger)
	}
	if cfg.Tools.Specs.Enabled {
		specs := tools.SpecsConfig{
			Dir:            cfg.Tools.Specs.Dir,
			ProjectAddress: project.Address,
			Bus:            bus,
			Signer:         signer,
			Logger:         logger,
		}
		register(base, tools.NewReadSpecsTool(specs), logger)
		register(base, tools.NewUpdateSpecTool(specs), logger)
	}

	extras := func(def *models.AgentDefinition, agentSigner *eventbus.Signer) []tools.Tool {
		return []tools.Tool{
			tools.NewLearnTool(tools.LessonConfig{
				AgentEventID: def.SourceEventID,
				Bus:          bus,
				Signer:       agentSigner,
				Logger:       logger,
			}),
		}
	}
	return base, extras
}

func register(reg *tools.Registry, tool tools.Tool, logger *slog.Logger) {
	if err := reg.Register(tool); err != nil {
		logger.Warn("skipping tool", "tool", tool.Name(), "error", err)
	}
}

// startMetricsListener serves /metrics when enabled. The returned stop
// function shuts the listener down.
func startMetricsListener(cfg config.MetricsConfig, logger *slog.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// closeBus closes the relay pool on a fresh context; the serve context is
// already cancelled during shutdown.
func closeBus(bus *eventbus.RelayBus, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bus.Close(ctx); err != nil {
		logger.Warn("relay shutdown failed", "error", err)
	}
}

// runStatus prints the configured project identity, relays, store backend
// and roster.
func runStatus(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	signer, err := eventbus.NewSigner(cfg.Project.NSec)
	if err != nil {
		return fmt.Errorf("project key: %w", err)
	}

	fmt.Fprintln(out, "Project")
	fmt.Fprintln(out, "=======")
	fmt.Fprintf(out, "Name:    %s\n", cfg.Project.Name)
	fmt.Fprintf(out, "Npub:    %s\n", signer.Npub())
	fmt.Fprintf(out, "Address: %s\n", eventbus.ProjectAddress(signer.PublicKey(), cfg.Project.DTag))
	fmt.Fprintf(out, "Store:   %s\n", describeStore(cfg.Store))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Relays")
	for _, relay := range cfg.Relays {
		fmt.Fprintf(out, "  - %s\n", relay)
	}
	fmt.Fprintln(out)

	return printRoster(out, cfg)
}

func describeStore(cfg config.StoreConfig) string {
	switch cfg.Backend {
	case "file":
		return fmt.Sprintf("file (%s)", cfg.Dir)
	case "sqlite":
		return fmt.Sprintf("sqlite (%s)", cfg.DSN)
	default:
		return cfg.Backend
	}
}

// runAgentsList prints the roster table.
func runAgentsList(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return printRoster(out, cfg)
}

func printRoster(out io.Writer, cfg *config.Config) error {
	defs, err := agent.LoadDefinitions(cfg.Agents.Dir)
	if err != nil && len(defs) == 0 {
		return fmt.Errorf("load agent definitions: %w", err)
	}
	if err != nil {
		fmt.Fprintf(out, "Warning: some definitions failed to load: %v\n\n", err)
	}

	fmt.Fprintf(out, "Agents (%d, default: %s)\n", len(defs), cfg.Agents.Default)
	fmt.Fprintln(out, "Name           Role           Profile        Npub")
	fmt.Fprintln(out, "-------------  -------------  -------------  ----------------")
	for _, def := range defs {
		npub := "(invalid key)"
		if signer, err := eventbus.NewSigner(def.NSec); err == nil {
			npub = signer.Npub()
		}
		profile := def.LLMProfile
		if profile == "" {
			profile = cfg.LLM.DefaultProfile
		}
		fmt.Fprintf(out, "%-13s  %-13s  %-13s  %s\n",
			truncate(def.Name, 13), truncate(def.Role, 13), truncate(profile, 13), npub)
	}
	return nil
}

// publishedDefinition is the kind-4199 payload: the definition's public
// fields. The signing key never leaves the definition file.
type publishedDefinition struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Role         string   `json:"role,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	ToolIDs      []string `json:"tool_ids,omitempty"`
}

// publishedConfig is the kind-24001 payload: the operational settings that
// accompany a definition.
type publishedConfig struct {
	Name       string   `json:"name"`
	LLMProfile string   `json:"llm_profile,omitempty"`
	ToolIDs    []string `json:"tool_ids,omitempty"`
}

// runAgentsPublish signs and publishes the catalogue events for every
// configured agent, recording each definition event id back into its file.
func runAgentsPublish(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	projectSigner, err := eventbus.NewSigner(cfg.Project.NSec)
	if err != nil {
		return fmt.Errorf("project key: %w", err)
	}
	address := eventbus.ProjectAddress(projectSigner.PublicKey(), cfg.Project.DTag)

	entries, err := os.ReadDir(cfg.Agents.Dir)
	if err != nil {
		return fmt.Errorf("read agents directory: %w", err)
	}

	bus, err := eventbus.NewRelayBus(eventbus.Config{
		Relays: cfg.Relays,
		Logger: slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("relay bus: %w", err)
	}
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("relay bus: %w", err)
	}
	defer closeBus(bus, slog.Default())

	published := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(cfg.Agents.Dir, entry.Name())
		def, err := agent.LoadDefinition(path)
		if err != nil {
			fmt.Fprintf(out, "Skipping %s: %v\n", entry.Name(), err)
			continue
		}
		signer, err := eventbus.NewSigner(def.NSec)
		if err != nil {
			fmt.Fprintf(out, "Skipping %s: %v\n", def.Name, err)
			continue
		}

		defEvent, err := definitionEvent(def, address)
		if err != nil {
			fmt.Fprintf(out, "Skipping %s: %v\n", def.Name, err)
			continue
		}
		if err := signer.Sign(defEvent); err != nil {
			fmt.Fprintf(out, "Skipping %s: sign definition: %v\n", def.Name, err)
			continue
		}
		if err := bus.Publish(ctx, defEvent); err != nil {
			fmt.Fprintf(out, "Failed to publish %s definition: %v\n", def.Name, err)
			continue
		}

		cfgEvent, err := configEvent(def, defEvent.ID, address)
		if err == nil {
			if err := signer.Sign(cfgEvent); err == nil {
				if err := bus.Publish(ctx, cfgEvent); err != nil {
					fmt.Fprintf(out, "Warning: %s config publish failed: %v\n", def.Name, err)
				}
			}
		}

		fmt.Fprintf(out, "Published %s\n", def.Name)
		fmt.Fprintf(out, "  Definition: %s\n", defEvent.ID)
		if err := recordSourceEvent(path, defEvent.ID); err != nil {
			fmt.Fprintf(out, "  Warning: could not record event id in %s: %v\n", entry.Name(), err)
		}
		published++
	}

	fmt.Fprintf(out, "\nPublished %d agent(s).\n", published)
	return nil
}

func definitionEvent(def *models.AgentDefinition, projectAddress string) (*nostr.Event, error) {
	payload, err := json.Marshal(publishedDefinition{
		Name:         def.Name,
		Description:  def.Description,
		Role:         def.Role,
		Instructions: def.Instructions,
		ToolIDs:      def.ToolIDs,
	})
	if err != nil {
		return nil, err
	}
	event := &nostr.Event{
		Kind:      eventbus.KindAgentDefinition,
		CreatedAt: nostr.Now(),
		Content:   string(payload),
		Tags:      nostr.Tags{{"title", def.Name}},
	}
	if projectAddress != "" {
		event.Tags = append(event.Tags, nostr.Tag{"a", projectAddress})
	}
	return event, nil
}

func configEvent(def *models.AgentDefinition, definitionID, projectAddress string) (*nostr.Event, error) {
	payload, err := json.Marshal(publishedConfig{
		Name:       def.Name,
		LLMProfile: def.LLMProfile,
		ToolIDs:    def.ToolIDs,
	})
	if err != nil {
		return nil, err
	}
	event := &nostr.Event{
		Kind:      eventbus.KindAgentConfig,
		CreatedAt: nostr.Now(),
		Content:   string(payload),
		Tags:      nostr.Tags{{"e", definitionID}},
	}
	if projectAddress != "" {
		event.Tags = append(event.Tags, nostr.Tag{"a", projectAddress})
	}
	return event, nil
}

// recordSourceEvent writes the published definition event id into the raw
// definition file. The bytes are patched as generic JSON so ${ENV_VAR} key
// references survive the rewrite unexpanded.
func recordSourceEvent(path, eventID string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	doc["source_event_id"] = eventID
	updated, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	mode := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, append(updated, '\n'), mode)
}

// runConfigSchema prints the JSON Schema for the configuration file.
func runConfigSchema(out io.Writer) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
