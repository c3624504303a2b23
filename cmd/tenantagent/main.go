// Package main provides the CLI entry point for tenantagent, a business
// assistant that streams model answers and runs tenant-scoped tools.
//
// # Basic Usage
//
// Start the server:
//
//	tenantagent serve --config tenantagent.yaml
//
// Generate a shared token key and check it round-trips:
//
//	tenantagent keygen
//	echo -n "$APP_TOKEN" | tenantagent encrypt --key "$KEY" | tenantagent decrypt --key "$KEY"
//
// # Environment Variables
//
//   - TENANTAGENT_CONFIG: Path to configuration file (default: tenantagent.yaml)
//   - TENANTAGENT_TOKEN_KEY: Base64 token key for encrypt/decrypt when --key is not set
//
// The configuration file may reference any environment variable as ${NAME}
// or ${NAME:-fallback}.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "tenantagent.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tenantagent",
		Short: "tenantagent - tool-using business assistant",
		Long: `tenantagent answers questions about a tenant's business data.

It streams model output over HTTP, runs local tools (business data sheets,
calendar, PDF export, speech, clock) and remote MCP tools, and hands tenant
credentials to remote tools only as encrypted bundles.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildKeygenCmd(),
		buildEncryptCmd(),
		buildDecryptCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "tenantagent %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("TENANTAGENT_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
