package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/internal/mockapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// in-memory API with simulated probe results (same as "sitewatch mock")
	backend := mockapi.NewBackend()
	defer backend.Close()
	backend.AddSite("Example", "https://example.com")
	backend.AddSite("Go", "https://go.dev")

	srv := mockapi.NewServer(backend, "127.0.0.1:0", logger)
	if err := srv.Start(ctx); err != nil {
		slog.Error("failed to start mock api", "error", err)
		os.Exit(1)
	}
	go backend.Run(ctx, 3*time.Second)

	board, err := sitewatch.New(
		sitewatch.WithBaseURL("http://"+srv.Addr()+"/api"),
		sitewatch.WithPollingInterval(2*time.Second),
		sitewatch.WithResyncDelay(time.Second),
		sitewatch.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create board", "error", err)
		os.Exit(1)
	}
	defer board.Close()

	v, err := board.Open(ctx, sitewatch.ViewDashboard)
	if err != nil {
		slog.Error("failed to open dashboard", "error", err)
		os.Exit(1)
	}
	defer v.Close()

	v.OnActionResult(func(res sitewatch.ActionResult) {
		fmt.Printf("  -> %s: %s\n", res.Target, res.Message)
	})

	// add a site without a scheme and force a check once it exists
	go func() {
		site, err := v.AddSite(ctx, "Blog", "blog.example.com")
		if err != nil {
			return
		}
		_ = v.CheckNow(ctx, site.ID)
	}()

	fmt.Println("Watching the in-memory API, Ctrl+C to stop")

	updates, unsubscribe := v.Updates()
	defer unsubscribe()
	for snap := range updates {
		if snap.Stats == nil {
			continue
		}
		fmt.Printf("[seq %d] %d/%d online, uptime %.1f%%\n",
			snap.Seq, snap.Stats.OnlineSites, snap.Stats.TotalSites, snap.Stats.OverallUptime)
		for _, s := range snap.Sites {
			fmt.Printf("    %-8s %-28s %-8s %s\n",
				s.Name, s.URL, sitewatch.SiteState(s), sitewatch.LastCheckLabel(s.LastCheck, time.TimeOnly))
		}
	}
}
