// ABOUTME: Configuration loading and parsing for vigil
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StateDirEnv overrides the state directory regardless of config.
const StateDirEnv = "VIGIL_STATE_DIR"

// Config represents the complete vigil configuration
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	StateDir  string          `yaml:"state_dir"`
	Database  DatabaseConfig  `yaml:"database"`
	Slack     SlackConfig     `yaml:"slack"`
	Providers ProvidersConfig `yaml:"providers"`
	Runner    RunnerConfig    `yaml:"runner"`
	Review    ReviewConfig    `yaml:"review"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig identifies this daemon instance
type AgentConfig struct {
	ID       string   `yaml:"id"`
	Features []string `yaml:"features"`
}

// DatabaseConfig holds the review ledger location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SlackConfig holds the chat transport configuration
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
	BaseURL  string `yaml:"base_url"`
	// Trigger, when set, is the mention a top-level message must carry
	// to be treated as a command, e.g. "@vigil".
	Trigger string `yaml:"trigger"`

	PollInterval time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
}

// ProvidersConfig holds the review provider waterfall, in priority order
type ProvidersConfig struct {
	Local     LocalProviderConfig  `yaml:"local"`
	Anthropic HostedProviderConfig `yaml:"anthropic"`
	OpenAI    HostedProviderConfig `yaml:"openai"`
}

// LocalProviderConfig configures the tier-1 local CLI provider
type LocalProviderConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// HostedProviderConfig configures an API-backed provider tier
type HostedProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// RunnerConfig configures task execution
type RunnerConfig struct {
	Command []string      `yaml:"command"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ReviewConfig holds the review scheduler tuning
type ReviewConfig struct {
	MaxPerThread int `yaml:"max_per_thread"`
	MaxPerDay    int `yaml:"max_per_day"`
	MaxMessages  int `yaml:"max_messages"`

	BaseDelay    time.Duration `yaml:"-"`
	ScanInterval time.Duration `yaml:"-"`
	ScanBudget   time.Duration `yaml:"-"`
	EvictAfter   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	BaseDelayRaw    string `yaml:"base_delay"`
	ScanIntervalRaw string `yaml:"scan_interval"`
	ScanBudgetRaw   string `yaml:"scan_budget"`
	EvictAfterRaw   string `yaml:"evict_after"`
}

// HeartbeatConfig holds the agent heartbeat tuning
type HeartbeatConfig struct {
	Interval       time.Duration `yaml:"-"`
	StaleThreshold time.Duration `yaml:"-"`

	IntervalRaw       string `yaml:"interval"`
	StaleThresholdRaw string `yaml:"stale_threshold"`
}

// WatchdogConfig holds the health watchdog tuning
type WatchdogConfig struct {
	WarnAfter  int `yaml:"warn_after"`
	FatalAfter int `yaml:"fatal_after"`

	Interval    time.Duration `yaml:"-"`
	GracePeriod time.Duration `yaml:"-"`

	IntervalRaw    string `yaml:"interval"`
	GracePeriodRaw string `yaml:"grace_period"`
}

// BreakerConfig holds per-category failure thresholds
type BreakerConfig struct {
	Thresholds map[string]int `yaml:"thresholds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file in the working directory is loaded first, so environment
// variables in the format ${VAR_NAME} can come from either source.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env file is fine
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack.bot_token is required")
	}
	if c.Slack.Channel == "" {
		return fmt.Errorf("slack.channel is required")
	}

	if len(c.Providers.Local.Command) == 0 &&
		c.Providers.Anthropic.APIKey == "" &&
		c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("at least one review provider must be configured")
	}

	if c.Watchdog.WarnAfter > 0 && c.Watchdog.FatalAfter > 0 &&
		c.Watchdog.WarnAfter > c.Watchdog.FatalAfter {
		return fmt.Errorf("watchdog.warn_after must not exceed watchdog.fatal_after")
	}

	for category, threshold := range c.Breaker.Thresholds {
		if threshold < 1 {
			return fmt.Errorf("breaker.thresholds[%s] must be at least 1", category)
		}
	}

	return nil
}

// ResolveAgentID returns the configured agent identity, or a generated
// host-pid-timestamp identity when none is set.
func (c *Config) ResolveAgentID() string {
	if c.Agent.ID != "" {
		return c.Agent.ID
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().Unix())
}

// ResolveStateDir returns the directory for persisted state files.
// Precedence: the VIGIL_STATE_DIR environment variable, then the
// state_dir config value, then $XDG_STATE_HOME/vigil, then
// ~/.local/state/vigil.
func (c *Config) ResolveStateDir() (string, error) {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		return dir, nil
	}
	if c.StateDir != "" {
		return c.StateDir, nil
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "vigil"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "vigil"), nil
}

// LedgerPath returns the review ledger location, defaulting to
// ledger.db inside the state directory.
func (c *Config) LedgerPath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := c.ResolveStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ledger.db"), nil
}

type durationField struct {
	raw  string
	name string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{cfg.Slack.PollIntervalRaw, "slack.poll_interval", &cfg.Slack.PollInterval},
		{cfg.Providers.Local.TimeoutRaw, "providers.local.timeout", &cfg.Providers.Local.Timeout},
		{cfg.Providers.Anthropic.TimeoutRaw, "providers.anthropic.timeout", &cfg.Providers.Anthropic.Timeout},
		{cfg.Providers.OpenAI.TimeoutRaw, "providers.openai.timeout", &cfg.Providers.OpenAI.Timeout},
		{cfg.Runner.TimeoutRaw, "runner.timeout", &cfg.Runner.Timeout},
		{cfg.Review.BaseDelayRaw, "review.base_delay", &cfg.Review.BaseDelay},
		{cfg.Review.ScanIntervalRaw, "review.scan_interval", &cfg.Review.ScanInterval},
		{cfg.Review.ScanBudgetRaw, "review.scan_budget", &cfg.Review.ScanBudget},
		{cfg.Review.EvictAfterRaw, "review.evict_after", &cfg.Review.EvictAfter},
		{cfg.Heartbeat.IntervalRaw, "heartbeat.interval", &cfg.Heartbeat.Interval},
		{cfg.Heartbeat.StaleThresholdRaw, "heartbeat.stale_threshold", &cfg.Heartbeat.StaleThreshold},
		{cfg.Watchdog.IntervalRaw, "watchdog.interval", &cfg.Watchdog.Interval},
		{cfg.Watchdog.GracePeriodRaw, "watchdog.grace_period", &cfg.Watchdog.GracePeriod},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
