// Package main is the entry point for the sitewatch CLI.
//
// sitewatch is a terminal client for a website uptime monitoring service.
// It keeps a live view of the service's sites, statistics and probe logs,
// and submits site changes on the user's behalf.
//
// Usage:
//
//	sitewatch watch -c config.yaml     # Open the live dashboard
//	sitewatch sites                    # List sites once
//	sitewatch sites add Blog blog.dev  # Add a site
//	sitewatch logs --status offline    # Show recent failed probes
//	sitewatch mock -c config.yaml      # Run an in-memory API to develop against
//	sitewatch validate -c config.yaml  # Validate configuration
//	sitewatch version                  # Show version info
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/config"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "sitewatch",
	Short: "A terminal dashboard for a website uptime monitor",
	Long: `sitewatch is a terminal client for a website uptime monitoring service.

It polls the service's REST API, shows site health, uptime and probe logs,
and lets you add, delete, pause and force-check sites.

Quick start:
  1. Run a backend (or: sitewatch mock)
  2. Run: sitewatch watch --base-url http://localhost:8080/api

Example config:
  base_url: ${SITEWATCH_API:-http://localhost:8080/api}
  poll_interval: 30s
  resync_delay: 2s
  log_limit: 25
  metrics_addr: ":9090"`,
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this sitewatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sitewatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (built-in defaults when omitted)")
	rootCmd.PersistentFlags().String("base-url", "", "monitoring API root, overrides base_url from the config")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the --config file, or the defaults when none is given,
// and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if baseURL, _ := cmd.Flags().GetString("base-url"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return cfg, nil
}

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// newBoard creates a board from cfg.
func newBoard(cfg *config.Config, logger *slog.Logger) (*sitewatch.Board, error) {
	board, err := sitewatch.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create board: %w", err)
	}
	return board, nil
}
