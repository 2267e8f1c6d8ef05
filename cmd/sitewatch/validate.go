package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch/config"
)

// validateCmd validates a config file without contacting the API.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a sitewatch configuration file without contacting the API.

This command parses the YAML, applies defaults, expands environment
variables, and validates all fields. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  sitewatch validate -c sitewatch.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return fmt.Errorf("a config file is required (--config)")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = "disabled"
	}
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "discarded"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Base URL:      %s\n", cfg.BaseURL)
	fmt.Fprintf(out, "  Timeout:       %s\n", cfg.Timeout.Duration())
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Resync delay:  %s\n", cfg.ResyncDelay.Duration())
	fmt.Fprintf(out, "  Log limit:     %d\n", cfg.LogLimit)
	fmt.Fprintf(out, "  Metrics:       %s\n", metricsAddr)
	fmt.Fprintf(out, "  UI log file:   %s\n", logFile)
	fmt.Fprintf(out, "  Mock sites:    %d\n", len(cfg.Mock.Sites))

	return nil
}
