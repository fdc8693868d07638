// Package main provides the CLI entry point for the TENEX agent runtime.
//
// TENEX coordinates a roster of LLM agents over relay events: inbound
// requests are analysed, a team is formed, and the team works the request
// under one of four coordination strategies before publishing its replies
// back into the thread.
//
// # Basic Usage
//
// Start the runtime:
//
//	tenex serve --config tenex.yaml
//
// Inspect the configured project and roster:
//
//	tenex status
//	tenex agents list
//
// Publish the agent catalogue to the configured relays:
//
//	tenex agents publish
//
// # Environment Variables
//
//   - TENEX_CONFIG: Path to configuration file (default: tenex.yaml)
//   - Any ${VAR} reference in the config or agent definition files is
//     expanded from the environment, which is how signing keys and API
//     keys stay out of the files themselves.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigFile is the config path used when no flag or env var says
// otherwise.
const defaultConfigFile = "tenex.yaml"

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Structured JSON logging by default; serve rebuilds the logger from
	// the loaded configuration.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tenex",
		Short: "TENEX - multi-agent orchestration runtime",
		Long: `TENEX runs a project's agent roster against a relay network.

Inbound requests are analysed by a planning model, a team of agents is
formed, and the team coordinates under a single, hierarchical, parallel
or phased strategy. Replies are signed per agent and published back into
the originating thread.

Documentation: https://github.com/haasonsaas/tenex`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildAgentsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// resolveConfigPath determines the configuration file path based on:
// 1. Explicit path provided by user
// 2. TENEX_CONFIG environment variable
// 3. Default config path
func resolveConfigPath(path string) string {
	if path != "" && path != defaultConfigFile {
		return path
	}
	if env := os.Getenv("TENEX_CONFIG"); env != "" {
		return env
	}
	return defaultConfigFile
}
