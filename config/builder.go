package config

import (
	"log/slog"
	"strings"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/api"
	"github.com/jpalmerr/sitewatch/internal/mockapi"
)

// BuildOptions converts parsed configuration into SDK board options.
//
// A nil logger leaves the board's default in place. Metrics are enabled
// only when metrics_addr is set.
func BuildOptions(cfg *Config, logger *slog.Logger) []sitewatch.Option {
	opts := []sitewatch.Option{
		sitewatch.WithBaseURL(cfg.BaseURL),
		sitewatch.WithPollingInterval(cfg.PollInterval.Duration()),
		sitewatch.WithLogLimit(cfg.LogLimit),
		sitewatch.WithMetrics(cfg.MetricsAddr != ""),
	}

	if cfg.Timeout != 0 {
		opts = append(opts, sitewatch.WithTimeout(cfg.Timeout.Duration()))
	}

	if cfg.ResyncDelay != nil {
		opts = append(opts, sitewatch.WithResyncDelay(cfg.ResyncDelay.Duration()))
	}

	if logger != nil {
		opts = append(opts, sitewatch.WithLogger(logger))
	}

	return opts
}

// BuildBackend creates a mock backend from the mock section and seeds it
// with the configured sites, in file order.
func BuildBackend(cfg *Config, opts ...mockapi.Option) (*mockapi.Backend, []api.Site) {
	all := append([]mockapi.Option{mockapi.WithSettleDelay(cfg.Mock.SettleDelay.Duration())}, opts...)
	b := mockapi.NewBackend(all...)

	seeded := make([]api.Site, 0, len(cfg.Mock.Sites))
	for _, s := range cfg.Mock.Sites {
		seeded = append(seeded, b.AddSite(strings.TrimSpace(s.Name), s.URL))
	}
	return b, seeded
}
