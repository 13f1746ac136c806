// ABOUTME: Health watchdog that probes the chat transport and forces a restart when it stays dead.
// ABOUTME: Recovery is the supervisor's job; the process only knows how to die loudly.

package watchdog

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Probe thresholds and cadence defaults.
const (
	DefaultInterval    = 60 * time.Second
	DefaultGracePeriod = 30 * time.Second
	DefaultWarnAfter   = 3
	DefaultFatalAfter  = 5

	// ExitCode distinguishes a watchdog-forced exit from ordinary failures.
	ExitCode = 2
)

// Pinger is the liveness probe against the external transport.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusWriter receives the final status before a forced exit.
type StatusWriter interface {
	Write(status string, reviewStats any) bool
}

// Options tunes the watchdog. Zero values take the defaults above.
type Options struct {
	Interval    time.Duration
	GracePeriod time.Duration
	WarnAfter   int
	FatalAfter  int
}

func (o *Options) fill() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.WarnAfter <= 0 {
		o.WarnAfter = DefaultWarnAfter
	}
	if o.FatalAfter <= 0 {
		o.FatalAfter = DefaultFatalAfter
	}
}

// Watchdog pings the transport on a fixed cadence and force-exits the
// process once failures stay consecutive long enough. A single success
// resets the count.
type Watchdog struct {
	pinger   Pinger
	status   StatusWriter
	opts     Options
	exit     func(code int)
	logger   *slog.Logger
	failures int
}

// New creates a Watchdog. status may be nil; exit defaults to os.Exit.
func New(pinger Pinger, status StatusWriter, opts Options, logger *slog.Logger) *Watchdog {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		pinger: pinger,
		status: status,
		opts:   opts,
		exit:   os.Exit,
		logger: logger.With("component", "watchdog"),
	}
}

// SetExit replaces the exit function. Tests use this to observe the
// forced exit instead of dying.
func (w *Watchdog) SetExit(exit func(code int)) {
	w.exit = exit
}

// Run probes until ctx is canceled. The initial grace period lets the
// transport finish connecting before failures start counting.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.opts.GracePeriod > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.GracePeriod):
		}
	}

	w.logger.Info("watchdog started",
		"interval", w.opts.Interval, "fatal_after", w.opts.FatalAfter)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check runs one probe and applies the consecutive-failure policy.
func (w *Watchdog) Check(ctx context.Context) {
	if err := w.pinger.Ping(ctx); err != nil {
		w.failures++
		w.logger.Warn("transport ping failed",
			"consecutive", w.failures, "error", err)

		switch {
		case w.failures >= w.opts.FatalAfter:
			w.logger.Error("transport unreachable, forcing restart",
				"consecutive", w.failures, "exit_code", ExitCode)
			if w.status != nil {
				w.status.Write("unhealthy", nil)
			}
			w.exit(ExitCode)
		case w.failures >= w.opts.WarnAfter:
			w.logger.Warn("transport connectivity degraded", "consecutive", w.failures)
		}
		return
	}

	if w.failures > 0 {
		w.logger.Info("transport recovered", "after_failures", w.failures)
	}
	w.failures = 0
}
