package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch/config"
	"github.com/jpalmerr/sitewatch/internal/mockapi"
)

// mockCmd runs the in-memory monitoring API.
var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run an in-memory monitoring API",
	Long: `Run an in-memory implementation of the monitoring service's REST API.

The mock keeps sites and probe logs in memory, probes every active site on
mock.probe_interval with simulated results, and commits forced checks after
mock.settle_delay. Sites listed under mock.sites are created at startup.

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  sitewatch mock
  sitewatch mock --addr :18080 -c sitewatch.yaml`,
	Args: cobra.NoArgs,
	RunE: runMock,
}

func init() {
	rootCmd.AddCommand(mockCmd)

	mockCmd.Flags().String("addr", "", "listen address, overrides mock.addr")
}

func runMock(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), level)

	addr := cfg.Mock.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	backend, seeded := config.BuildBackend(cfg)
	defer backend.Close()

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mockapi.NewServer(backend, addr, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mock api: %w", err)
	}

	go backend.Run(ctx, cfg.Mock.ProbeInterval.Duration())

	logger.Info("mock backend ready",
		"base_url", fmt.Sprintf("http://%s/api", srv.Addr()),
		"sites", len(seeded),
		"probe_interval", cfg.Mock.ProbeInterval.Duration().String(),
		"settle_delay", cfg.Mock.SettleDelay.Duration().String(),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
