// Package config provides YAML configuration parsing for sitewatch.
//
// This package lets the sitewatch binary run from a configuration file, as
// an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	base_url: ${SITEWATCH_API:-http://localhost:8080/api}
//	timeout: 10s
//	poll_interval: 30s
//	resync_delay: 2s
//	log_limit: 25
//	metrics_addr: ":9090"
//	log_file: /tmp/sitewatch.log
//
//	mock:
//	  addr: ":8080"
//	  settle_delay: 500ms
//	  probe_interval: 30s
//	  sites:
//	    - name: Example
//	      url: https://example.com
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval.
// This prevents accidental load on the monitoring service.
const minPollInterval = 1 * time.Second

// Defaults applied by [Parse] and [Default].
const (
	DefaultBaseURL      = "http://localhost:8080/api"
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 30 * time.Second
	DefaultResyncDelay  = 2 * time.Second
	DefaultLogLimit     = 25
	DefaultLogLevel     = "info"

	DefaultMockAddr          = ":8080"
	DefaultMockSettleDelay   = 500 * time.Millisecond
	DefaultMockProbeInterval = 30 * time.Second
)

// maxLogLimit caps log_limit; the logs view is a recent-activity window.
const maxLogLimit = 1000

// Config is the root configuration structure for sitewatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// BaseURL is the root of the monitoring service's REST API.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url"`

	// Timeout bounds every API request. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// PollInterval is the time between dashboard and app-status polls.
	// Accepts duration strings like "10s", "1m". Defaults to 30s.
	PollInterval Duration `yaml:"poll_interval"`

	// ResyncDelay is the wait before refreshing after a delete, toggle or
	// force-check. Zero refreshes immediately. Defaults to 2s.
	ResyncDelay *Duration `yaml:"resync_delay"`

	// LogLimit is the number of log entries the logs view shows.
	// Defaults to 25.
	LogLimit int `yaml:"log_limit"`

	// MetricsAddr, when set, serves Prometheus metrics at /metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogFile receives logs while the terminal UI owns the screen.
	// Empty discards them.
	LogFile string `yaml:"log_file"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// Mock configures the "sitewatch mock" backend.
	Mock MockConfig `yaml:"mock"`
}

// MockConfig configures the in-memory mock backend.
type MockConfig struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr"`

	// SettleDelay is how long a forced check takes to commit.
	// Defaults to 500ms.
	SettleDelay Duration `yaml:"settle_delay"`

	// ProbeInterval is how often the simulated engine probes every active
	// site. Defaults to 30s.
	ProbeInterval Duration `yaml:"probe_interval"`

	// Sites are created when the backend starts.
	Sites []SiteConfig `yaml:"sites"`
}

// SiteConfig seeds one site into the mock backend.
type SiteConfig struct {
	// Name is the display name.
	Name string `yaml:"name"`

	// URL is the site's address. Supports environment variable
	// substitution.
	URL string `yaml:"url"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in URL values are expanded after parsing.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates the
// result. An empty document yields [Default].
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
	if c.ResyncDelay == nil {
		d := Duration(DefaultResyncDelay)
		c.ResyncDelay = &d
	}
	if c.LogLimit == 0 {
		c.LogLimit = DefaultLogLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Mock.Addr == "" {
		c.Mock.Addr = DefaultMockAddr
	}
	if c.Mock.SettleDelay == 0 {
		c.Mock.SettleDelay = Duration(DefaultMockSettleDelay)
	}
	if c.Mock.ProbeInterval == 0 {
		c.Mock.ProbeInterval = Duration(DefaultMockProbeInterval)
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	expanded, err := expandEnvVars(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	c.BaseURL = expanded
	if err := validateHTTPURL(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}

	if c.Timeout.Duration() < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout.Duration())
	}
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.ResyncDelay.Duration() < 0 {
		return fmt.Errorf("resync_delay cannot be negative, got %s", c.ResyncDelay.Duration())
	}
	if c.LogLimit < 1 || c.LogLimit > maxLogLimit {
		return fmt.Errorf("log_limit must be between 1 and %d, got %d", maxLogLimit, c.LogLimit)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if c.MetricsAddr != "" {
		expanded, err := expandEnvVars(c.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		c.MetricsAddr = expanded
	}

	if c.Mock.SettleDelay.Duration() < 0 {
		return fmt.Errorf("mock.settle_delay cannot be negative, got %s", c.Mock.SettleDelay.Duration())
	}
	if c.Mock.ProbeInterval.Duration() < 0 {
		return fmt.Errorf("mock.probe_interval cannot be negative, got %s", c.Mock.ProbeInterval.Duration())
	}

	seen := make(map[string]struct{}, len(c.Mock.Sites))
	for i := range c.Mock.Sites {
		s := &c.Mock.Sites[i]

		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("mock.sites[%d]: name is required", i)
		}
		if s.URL == "" {
			return fmt.Errorf("mock.sites[%d] (%s): url is required", i, s.Name)
		}
		expanded, err := expandEnvVars(s.URL)
		if err != nil {
			return fmt.Errorf("mock.sites[%d] (%s): url: %w", i, s.Name, err)
		}
		s.URL = expanded
		if err := validateHTTPURL(s.URL); err != nil {
			return fmt.Errorf("mock.sites[%d] (%s): %w", i, s.Name, err)
		}
		if _, dup := seen[s.URL]; dup {
			return fmt.Errorf("mock.sites[%d] (%s): duplicate url %q", i, s.Name, s.URL)
		}
		seen[s.URL] = struct{}{}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}

// ParseLevel maps a level name to a [slog.Level].
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q (expected debug, info, warn or error)", s)
	}
}
