package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/config"
	"github.com/jpalmerr/sitewatch/internal/tui"
)

// watchCmd opens the live dashboard.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live dashboard",
	Long: `Open the live sitewatch dashboard.

On a terminal this starts the interactive UI with dashboard, sites and
logs tabs. Logs go to log_file, or nowhere, while the UI owns the screen.

When stdout is not a terminal, or with --headless, every applied dashboard
and app-status snapshot is written to stdout as one JSON object per line,
and logs go to stderr.

Metrics are served at /metrics on metrics_addr when it is set.

Runs until interrupted (Ctrl+C), q is pressed, or SIGTERM is received.

Example:
  sitewatch watch -c sitewatch.yaml
  sitewatch watch --headless --base-url http://monitor:8080/api | jq .`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Bool("headless", false, "stream snapshots as JSON lines instead of the interactive UI")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	headless, _ := cmd.Flags().GetBool("headless")
	interactive := !headless && isTerminal(os.Stdout)

	logOut, closeLog, err := watchLogOutput(cfg, interactive, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()
	logger := newLogger(logOut, level)

	board, err := newBoard(cfg, logger)
	if err != nil {
		return err
	}
	defer board.Close()

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		addr, err := board.ServeMetrics(ctx, cfg.MetricsAddr)
		if err != nil {
			return err
		}
		logger.Info("metrics server listening", "addr", addr)
	}

	logger.Info("watching",
		"base_url", board.Client().BaseURL(),
		"poll_interval", board.PollingInterval().String(),
		"interactive", interactive,
	)

	if interactive {
		return tui.Run(ctx, board)
	}
	return runHeadless(ctx, board, cmd.OutOrStdout())
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// watchLogOutput picks the log destination: stderr when headless, the
// configured log file or nowhere while the UI owns the terminal.
func watchLogOutput(cfg *config.Config, interactive bool, stderr io.Writer) (io.Writer, func(), error) {
	if !interactive {
		return stderr, func() {}, nil
	}
	if cfg.LogFile == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// headlessEvent is one line of headless output.
type headlessEvent struct {
	View     sitewatch.ViewKind `json:"view"`
	Snapshot sitewatch.Snapshot `json:"snapshot"`
}

// runHeadless writes every applied snapshot of the dashboard and app-status
// views to out until ctx is cancelled.
func runHeadless(ctx context.Context, board *sitewatch.Board, out io.Writer) error {
	enc := json.NewEncoder(out)
	var mu sync.Mutex
	emit := func(kind sitewatch.ViewKind, snap sitewatch.Snapshot) error {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(headlessEvent{View: kind, Snapshot: snap}); err != nil {
			return fmt.Errorf("failed to write %s snapshot: %w", kind, err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range []sitewatch.ViewKind{sitewatch.ViewDashboard, sitewatch.ViewAppStatus} {
		kind := kind // per-iteration copy; go directive predates Go 1.22 loop semantics
		v, err := board.Open(gctx, kind)
		if err != nil {
			return err
		}
		defer v.Close()

		updates, unsubscribe := v.Updates()
		defer unsubscribe()

		g.Go(func() error {
			// the initial load may land before the subscription
			var last uint64
			if snap, ok := v.State(); ok {
				last = snap.Seq
				if err := emit(kind, snap); err != nil {
					return err
				}
			}
			for {
				select {
				case <-gctx.Done():
					return nil
				case snap, ok := <-updates:
					if !ok {
						return nil
					}
					if snap.Seq <= last {
						continue
					}
					last = snap.Seq
					if err := emit(kind, snap); err != nil {
						return err
					}
				}
			}
		})
	}

	return g.Wait()
}
