// Package config loads and validates the runtime configuration. Files are
// YAML with environment variable expansion; unknown fields are rejected so
// typos surface at startup rather than as silently ignored settings.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for TENEX. The json tags
// mirror the yaml names so the schema emitted by `tenex config schema`
// matches what the loader accepts.
type Config struct {
	Project      ProjectConfig      `yaml:"project" json:"project"`
	Relays       []string           `yaml:"relays" json:"relays,omitempty"`
	Store        StoreConfig        `yaml:"store" json:"store,omitempty"`
	LLM          LLMConfig          `yaml:"llm" json:"llm"`
	Agents       AgentsConfig       `yaml:"agents" json:"agents"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator,omitempty"`
	Tools        ToolsConfig        `yaml:"tools" json:"tools,omitempty"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging,omitempty"`
	Metrics      MetricsConfig      `yaml:"metrics" json:"metrics,omitempty"`
	Tracing      TracingConfig      `yaml:"tracing" json:"tracing,omitempty"`
}

// ProjectConfig identifies the project this runtime serves on the network.
type ProjectConfig struct {
	// Name is the human-readable project title used in prompts and status
	// events.
	Name string `yaml:"name" json:"name,omitempty"`

	// NSec is the project's private key, bech32 nsec or raw hex. Usually an
	// ${ENV_VAR} reference.
	NSec string `yaml:"nsec" json:"nsec"`

	// DTag is the d-tag of the project's kind-24000 event. Together with the
	// project pubkey it forms the address agents tag their events with.
	DTag string `yaml:"d_tag" json:"d_tag,omitempty"`
}

// StoreConfig selects the conversation persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "file" or "sqlite".
	Backend string `yaml:"backend" json:"backend,omitempty"`

	// Dir is the data directory for the file backend.
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// DSN is the database path or connection string for the sqlite backend.
	DSN string `yaml:"dsn" json:"dsn,omitempty"`

	// Retention is how long finished conversations are kept before the
	// cleanup sweep removes them.
	Retention time.Duration `yaml:"retention" json:"retention,omitempty"`

	// CleanupSchedule is a cron expression for the retention sweep.
	CleanupSchedule string `yaml:"cleanup_schedule" json:"cleanup_schedule,omitempty"`
}

// LLMConfig names the model profiles and which ones the runtime itself uses.
type LLMConfig struct {
	// DefaultProfile is used by agents whose definition names no profile.
	DefaultProfile string `yaml:"default_profile" json:"default_profile"`

	// PlannerProfile is used for team formation analysis. Empty falls back
	// to DefaultProfile.
	PlannerProfile string `yaml:"planner_profile" json:"planner_profile,omitempty"`

	Profiles map[string]ProfileConfig `yaml:"profiles" json:"profiles"`
}

// ProfileConfig describes one model endpoint.
type ProfileConfig struct {
	// Provider is the variant name: "anthropic", "anthropic-with-cache",
	// "openai-compatible" (alias "openai"), "openrouter" or "ollama".
	Provider string `yaml:"provider" json:"provider"`

	Model       string         `yaml:"model" json:"model,omitempty"`
	APIKey      string         `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL     string         `yaml:"base_url" json:"base_url,omitempty"`
	MaxTokens   int            `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Temperature float64        `yaml:"temperature" json:"temperature,omitempty"`
	Pricing     *PricingConfig `yaml:"pricing" json:"pricing,omitempty"`
}

// PricingConfig holds USD rates per million tokens for cost attribution.
type PricingConfig struct {
	Prompt     float64 `yaml:"prompt" json:"prompt,omitempty"`
	Completion float64 `yaml:"completion" json:"completion,omitempty"`
}

// AgentsConfig locates agent definitions on disk.
type AgentsConfig struct {
	// Dir holds one JSON definition file per agent.
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// Default is the agent that answers requests addressed to no one, and
	// the fallback when planning fails.
	Default string `yaml:"default" json:"default"`

	// Watch reloads definitions when files under Dir change.
	Watch bool `yaml:"watch" json:"watch,omitempty"`
}

// OrchestratorConfig tunes the event handling pipeline.
type OrchestratorConfig struct {
	// MaxTeamSize caps how many agents the planner may recruit.
	MaxTeamSize int `yaml:"max_team_size" json:"max_team_size,omitempty"`

	// Workers bounds how many conversations are handled concurrently.
	Workers int `yaml:"workers" json:"workers,omitempty"`

	// RunDeadline aborts a single coordination run that exceeds it.
	RunDeadline time.Duration `yaml:"run_deadline" json:"run_deadline,omitempty"`

	// Heartbeat is the interval between status events. Zero disables them.
	Heartbeat time.Duration `yaml:"heartbeat" json:"heartbeat,omitempty"`
}

// ToolsConfig enables the built-in tools.
type ToolsConfig struct {
	Shell ShellToolConfig `yaml:"shell" json:"shell,omitempty"`
	Specs SpecsToolConfig `yaml:"specs" json:"specs,omitempty"`
}

// ShellToolConfig configures the shell execution tool.
type ShellToolConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled,omitempty"`

	// Cwd is the working directory commands run in.
	Cwd string `yaml:"cwd" json:"cwd,omitempty"`

	// Timeout kills commands that run longer.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// MaxOutput truncates combined output beyond this many bytes.
	MaxOutput int `yaml:"max_output" json:"max_output,omitempty"`
}

// SpecsToolConfig configures the specification document tools.
type SpecsToolConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled,omitempty"`

	// Dir holds the markdown spec documents.
	Dir string `yaml:"dir" json:"dir,omitempty"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty"`
	Format string `yaml:"format" json:"format,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled,omitempty"`
	Addr    string `yaml:"addr" json:"addr,omitempty"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty"`

	// Insecure disables TLS for the collector connection.
	Insecure bool `yaml:"insecure" json:"insecure,omitempty"`

	// SamplingRate is the fraction of runs traced, 0 to 1. Zero means 1.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate,omitempty"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg, err := decode([]byte(expanded))
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode parses YAML strictly: unknown fields and multi-document files are
// errors.
func decode(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Relays) == 0 {
		cfg.Relays = []string{"wss://relay.damus.io"}
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = ".tenex/conversations"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = ".tenex/tenex.db"
	}
	if cfg.Store.Retention == 0 {
		cfg.Store.Retention = 30 * 24 * time.Hour
	}
	if cfg.Store.CleanupSchedule == "" {
		cfg.Store.CleanupSchedule = "@every 24h"
	}
	if cfg.LLM.PlannerProfile == "" {
		cfg.LLM.PlannerProfile = cfg.LLM.DefaultProfile
	}
	if cfg.Agents.Dir == "" {
		cfg.Agents.Dir = "agents"
	}
	if cfg.Orchestrator.MaxTeamSize == 0 {
		cfg.Orchestrator.MaxTeamSize = 5
	}
	if cfg.Orchestrator.Workers == 0 {
		cfg.Orchestrator.Workers = 4
	}
	if cfg.Orchestrator.RunDeadline == 0 {
		cfg.Orchestrator.RunDeadline = 15 * time.Minute
	}
	if cfg.Orchestrator.Heartbeat == 0 {
		cfg.Orchestrator.Heartbeat = time.Minute
	}
	if cfg.Tools.Shell.Cwd == "" {
		cfg.Tools.Shell.Cwd = "."
	}
	if cfg.Tools.Shell.Timeout == 0 {
		cfg.Tools.Shell.Timeout = 5 * time.Minute
	}
	if cfg.Tools.Shell.MaxOutput == 0 {
		cfg.Tools.Shell.MaxOutput = 64000
	}
	if cfg.Tools.Specs.Dir == "" {
		cfg.Tools.Specs.Dir = "specs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate checks cross-field constraints that the decoder cannot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.NSec) == "" {
		return fmt.Errorf("config: project.nsec is required")
	}
	switch c.Store.Backend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if len(c.LLM.Profiles) == 0 {
		return fmt.Errorf("config: at least one llm profile is required")
	}
	if c.LLM.DefaultProfile == "" {
		return fmt.Errorf("config: llm.default_profile is required")
	}
	if _, ok := c.LLM.Profiles[c.LLM.DefaultProfile]; !ok {
		return fmt.Errorf("config: llm.default_profile %q is not a configured profile", c.LLM.DefaultProfile)
	}
	if _, ok := c.LLM.Profiles[c.LLM.PlannerProfile]; !ok {
		return fmt.Errorf("config: llm.planner_profile %q is not a configured profile", c.LLM.PlannerProfile)
	}
	for name, p := range c.LLM.Profiles {
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("config: llm profile %q is missing a provider", name)
		}
	}
	if c.Agents.Default == "" {
		return fmt.Errorf("config: agents.default is required")
	}
	if c.Orchestrator.MaxTeamSize < 1 {
		return fmt.Errorf("config: orchestrator.max_team_size must be at least 1")
	}
	return nil
}
