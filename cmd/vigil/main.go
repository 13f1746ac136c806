// ABOUTME: Entry point for the vigil coordination daemon
// ABOUTME: Serves the daemon loops and exposes state inspection subcommands

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/yellowcircle/vigil/internal/breaker"
	"github.com/yellowcircle/vigil/internal/config"
	"github.com/yellowcircle/vigil/internal/conversation"
	"github.com/yellowcircle/vigil/internal/daemon"
	"github.com/yellowcircle/vigil/internal/heartbeat"
	"github.com/yellowcircle/vigil/internal/ledger"
	"github.com/yellowcircle/vigil/internal/provider"
	"github.com/yellowcircle/vigil/internal/review"
	"github.com/yellowcircle/vigil/internal/runner"
	"github.com/yellowcircle/vigil/internal/statefile"
	"github.com/yellowcircle/vigil/internal/taskcoord"
	"github.com/yellowcircle/vigil/internal/transport"
	"github.com/yellowcircle/vigil/internal/watchdog"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _       _ _
__   _(_) __ _(_) |
\ \ / / |/ _' | | |
 \ V /| | (_| | | |
  \_/ |_|\__, |_|_|
         |___/
`

// getConfigPath returns the path to the vigil config file.
// Priority: VIGIL_CONFIG env var > XDG_CONFIG_HOME/vigil/config.yaml > ~/.config/vigil/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VIGIL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "vigil", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: vigil <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                     Start the coordination daemon")
		fmt.Println("  status                    Show circuit, tasks, agents, and reviews")
		fmt.Println("  reset                     Reset the circuit breaker")
		fmt.Println("  fail <category> [detail]  Record a failure against the breaker")
		fmt.Println("  agents                    List agent heartbeats")
		fmt.Println("  tasks                     List active task claims")
		fmt.Println("  relay <text>              Post a message to the coordination channel")
		fmt.Println("  health                    Ping the chat transport")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "status":
		err = runStatus(ctx)
	case "reset":
		err = runReset()
	case "fail":
		err = runFail()
	case "agents":
		err = runAgents()
	case "tasks":
		err = runTasks()
	case "relay":
		err = runRelay(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadAll loads config and opens the shared state directory.
func loadAll() (*config.Config, *statefile.Store, *slog.Logger, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	stateDir, err := cfg.ResolveStateDir()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := statefile.New(stateDir, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening state directory: %w", err)
	}

	return cfg, store, logger, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, store, logger, err := loadAll()
	if err != nil {
		return err
	}
	cfg.Agent.ID = cfg.ResolveAgentID()

	brk := breaker.New(store, breakerThresholds(cfg), logger)
	if brk.IsOpen() {
		return fmt.Errorf("circuit breaker is open (%s); run `vigil reset` first", brk.OpenReason())
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("State:   %s\n", store.Dir())
	green.Print("    ▶ ")
	fmt.Printf("Agent:   %s\n", cfg.Agent.ID)
	green.Print("    ▶ ")
	fmt.Printf("Channel: %s\n", cfg.Slack.Channel)
	fmt.Println()

	logger.Info("starting vigil",
		"config", configPath,
		"state_dir", store.Dir(),
		"agent_id", cfg.Agent.ID,
	)

	d, cleanup, err := buildDaemon(cfg, store, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return d.Run(ctx)
}

// buildDaemon wires every component from config.
func buildDaemon(cfg *config.Config, store *statefile.Store, logger *slog.Logger) (*daemon.Daemon, func(), error) {
	brk := breaker.New(store, breakerThresholds(cfg), logger)
	registry := heartbeat.NewRegistry(store, cfg.Agent.ID, logger)
	monitor := heartbeat.NewMonitor(store, "vigil", cfg.Agent.Features, logger)
	coord := taskcoord.New(store, 0, logger)
	guard := taskcoord.NewGuard(brk, coord, 0)
	tracker := conversation.NewTracker(cfg.Review.MaxMessages, baseDelay(cfg), logger)
	stats := review.NewStats(store, logger)

	slack := transport.NewSlack(cfg.Slack.BotToken, cfg.Slack.BaseURL, logger)

	ledgerPath, err := cfg.LedgerPath()
	if err != nil {
		return nil, nil, err
	}
	led, err := ledger.Open(ledgerPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening review ledger: %w", err)
	}

	waterfall := buildWaterfall(cfg, logger)
	scheduler := review.NewScheduler(tracker, stats, brk, brk, waterfall, slack, led,
		review.Options{
			ScanInterval: cfg.Review.ScanInterval,
			ScanBudget:   cfg.Review.ScanBudget,
			MaxPerThread: cfg.Review.MaxPerThread,
			MaxPerDay:    cfg.Review.MaxPerDay,
		}, cfg.Agent.ID, logger)

	wd := watchdog.New(slack, monitor, watchdog.Options{
		Interval:    cfg.Watchdog.Interval,
		GracePeriod: cfg.Watchdog.GracePeriod,
		WarnAfter:   cfg.Watchdog.WarnAfter,
		FatalAfter:  cfg.Watchdog.FatalAfter,
	}, logger)

	run := runner.NewExec(cfg.Runner.Command, cfg.Runner.Dir, cfg.Runner.Timeout, logger)

	d := daemon.New(brk, registry, monitor, coord, guard, tracker,
		scheduler, stats, wd, slack, run,
		daemon.Options{
			Channel:           cfg.Slack.Channel,
			HeartbeatInterval: cfg.Heartbeat.Interval,
			EvictAfter:        evictAfter(cfg),
			PollInterval:      cfg.Slack.PollInterval,
			Trigger:           cfg.Slack.Trigger,
		}, logger)

	return d, func() { led.Close() }, nil
}

// buildWaterfall assembles the provider tiers in priority order:
// local CLI first, then Anthropic, then the OpenAI-compatible tier.
func buildWaterfall(cfg *config.Config, logger *slog.Logger) *provider.Waterfall {
	var tiers []provider.Provider

	if len(cfg.Providers.Local.Command) > 0 {
		tiers = append(tiers, provider.NewLocal("local",
			cfg.Providers.Local.Command, "", cfg.Providers.Local.Timeout, logger))
	}
	tiers = append(tiers, provider.NewAnthropic(
		cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.Model,
		cfg.Providers.Anthropic.BaseURL, cfg.Providers.Anthropic.Timeout, logger))
	tiers = append(tiers, provider.NewOpenAI("groq",
		cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.Model,
		cfg.Providers.OpenAI.BaseURL, cfg.Providers.OpenAI.Timeout, logger))

	return provider.NewWaterfall(logger, tiers...)
}

func breakerThresholds(cfg *config.Config) map[string]int {
	thresholds := breaker.DefaultThresholds()
	for category, threshold := range cfg.Breaker.Thresholds {
		thresholds[category] = threshold
	}
	return thresholds
}

func baseDelay(cfg *config.Config) time.Duration {
	if cfg.Review.BaseDelay > 0 {
		return cfg.Review.BaseDelay
	}
	return time.Hour
}

// evictAfter defaults to double the review inactivity threshold.
func evictAfter(cfg *config.Config) time.Duration {
	if cfg.Review.EvictAfter > 0 {
		return cfg.Review.EvictAfter
	}
	return 2 * baseDelay(cfg)
}

func runStatus(ctx context.Context) error {
	cfg, store, logger, err := loadAll()
	if err != nil {
		return err
	}

	brk := breaker.New(store, breakerThresholds(cfg), logger)
	state := brk.Status()

	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	gray := color.New(color.FgHiBlack)

	if state.CircuitOpen {
		red.Println("Circuit: OPEN")
		gray.Printf("  reason: %s\n  since:  %s\n", state.CircuitOpenedReason, state.CircuitOpenedAt)
	} else {
		green.Println("Circuit: closed")
	}
	for category, count := range state.FailureCounts {
		if count > 0 {
			fmt.Printf("  %s: %d\n", category, count)
		}
	}

	coord := taskcoord.New(store, 0, logger)
	active := coord.Active()
	fmt.Printf("\nActive tasks: %d\n", len(active))
	for id, claim := range active {
		fmt.Printf("  %.12s  %s  (%s, started %s)\n", id, claim.Description, claim.Agent, claim.StartedAt)
	}

	registry := heartbeat.NewRegistry(store, cfg.Agent.ID, logger)
	stale := registry.Stale(staleThreshold(cfg))
	agents := registry.All()
	fmt.Printf("\nAgents: %d\n", len(agents))
	for id, rec := range agents {
		marker := ""
		if _, isStale := stale[id]; isStale {
			marker = "  [stale]"
		}
		fmt.Printf("  %s  %s  last seen %s%s\n", id, rec.Status, rec.LastSeen, marker)
	}

	stats := review.NewStats(store, logger)
	fmt.Printf("\nReviews today: %d\n", stats.Today().Count)

	if ledgerPath, err := cfg.LedgerPath(); err == nil {
		if led, err := ledger.Open(ledgerPath, logger); err == nil {
			defer led.Close()
			recent, err := led.Recent(ctx, 5)
			if err == nil && len(recent) > 0 {
				fmt.Println("Recent reviews:")
				for _, r := range recent {
					fmt.Printf("  %s  %s  thread %s\n",
						r.CreatedAt.Format(time.RFC3339), r.Provider, r.ThreadID)
				}
			}
		}
	}

	return nil
}

func staleThreshold(cfg *config.Config) time.Duration {
	if cfg.Heartbeat.StaleThreshold > 0 {
		return cfg.Heartbeat.StaleThreshold
	}
	return heartbeat.DefaultStaleThreshold
}

func runReset() error {
	cfg, store, logger, err := loadAll()
	if err != nil {
		return err
	}

	brk := breaker.New(store, breakerThresholds(cfg), logger)
	if !brk.Reset() {
		return fmt.Errorf("resetting circuit breaker")
	}
	color.New(color.FgGreen).Println("Circuit breaker reset.")
	return nil
}

func runFail() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: vigil fail <category> [detail]")
	}
	category := os.Args[2]
	detail := strings.Join(os.Args[3:], " ")

	cfg, store, logger, err := loadAll()
	if err != nil {
		return err
	}

	brk := breaker.New(store, breakerThresholds(cfg), logger)
	opened := brk.RecordFailure(category, detail, cfg.ResolveAgentID())
	if opened {
		color.New(color.FgRed).Println("Circuit breaker is now OPEN.")
	} else {
		fmt.Printf("Failure recorded: %s\n", category)
	}
	return nil
}

func runAgents() error {
	cfg, store, logger, err := loadAll()
	if err != nil {
		return err
	}

	registry := heartbeat.NewRegistry(store, cfg.Agent.ID, logger)
	agents := registry.All()
	stale := registry.Stale(staleThreshold(cfg))

	if len(agents) == 0 {
		fmt.Println("No agent heartbeats.")
		return nil
	}
	for id, rec := range agents {
		line := fmt.Sprintf("%s  %s  host=%s pid=%d  last seen %s",
			id, rec.Status, rec.Hostname, rec.PID, rec.LastSeen)
		if _, isStale := stale[id]; isStale {
			color.New(color.FgYellow).Printf("%s  [stale]\n", line)
		} else {
			fmt.Println(line)
		}
	}
	return nil
}

func runTasks() error {
	_, store, logger, err := loadAll()
	if err != nil {
		return err
	}

	coord := taskcoord.New(store, 0, logger)
	active := coord.Active()
	if len(active) == 0 {
		fmt.Println("No active task claims.")
		return nil
	}
	for id, claim := range active {
		fmt.Printf("%.12s  %s\n    agent %s, started %s\n",
			id, claim.Description, claim.Agent, claim.StartedAt)
	}
	return nil
}

func runRelay(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: vigil relay <text>")
	}
	text := strings.Join(os.Args[2:], " ")

	cfg, _, logger, err := loadAll()
	if err != nil {
		return err
	}

	slack := transport.NewSlack(cfg.Slack.BotToken, cfg.Slack.BaseURL, logger)
	ts, err := slack.Post(ctx, cfg.Slack.Channel, text)
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	fmt.Printf("Posted to %s (ts %s)\n", cfg.Slack.Channel, ts)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, logger, err := loadAll()
	if err != nil {
		return err
	}

	slack := transport.NewSlack(cfg.Slack.BotToken, cfg.Slack.BaseURL, logger)
	if err := slack.Ping(ctx); err != nil {
		return fmt.Errorf("transport unreachable: %w", err)
	}
	color.New(color.FgGreen).Println("Transport healthy.")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
