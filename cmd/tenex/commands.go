package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the orchestrator.
// This is the primary command for running TENEX in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the TENEX orchestrator",
		Long: `Run the TENEX orchestrator against the configured relays.

The runtime will:
1. Load configuration from the specified file (or tenex.yaml)
2. Connect to the relay network and open the conversation store
3. Load the agent roster and their model profiles
4. Subscribe to events addressed to the project's agents
5. Coordinate team responses and publish them back into each thread

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  tenex serve

  # Start with custom config
  tenex serve --config /etc/tenex/production.yaml

  # Start with debug logging
  tenex serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigFile,
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildStatusCmd creates the "status" command that inspects the local
// configuration: project identity, relays, store backend and roster.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configured project, relays and agent roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigFile,
		"Path to YAML configuration file")

	return cmd
}

// buildAgentsCmd creates the "agents" command group.
func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect and publish the agent roster",
	}
	cmd.AddCommand(buildAgentsListCmd(), buildAgentsPublishCmd())
	return cmd
}

func buildAgentsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigFile,
		"Path to YAML configuration file")

	return cmd
}

func buildAgentsPublishCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish agent definitions to the configured relays",
		Long: `Publish a kind-4199 definition event and a kind-24001 config event for
every configured agent, each signed with that agent's own key. The id of
the definition event is recorded back into the agent's file so lessons
published later can reference it.

Signing keys never appear in the published payloads.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsPublish(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigFile,
		"Path to YAML configuration file")

	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(buildConfigSchemaCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tenex %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
