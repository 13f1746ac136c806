// ABOUTME: Background scheduler that reviews inactive threads on a fixed scan cadence.
// ABOUTME: Global guards (circuit, daily cap) are re-checked between candidates.

package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yellowcircle/vigil/internal/conversation"
	"github.com/yellowcircle/vigil/internal/provider"
)

// Scheduler defaults.
const (
	DefaultScanInterval = 5 * time.Minute
	DefaultScanBudget   = 15 * time.Minute
	DefaultMaxPerThread = 3
	DefaultMaxPerDay    = 20
	DefaultCooldown     = time.Hour
)

const reviewerSystem = "You are a careful engineering reviewer following up on a stalled " +
	"conversation. Summarize where the discussion stands, flag anything that looks " +
	"unresolved or risky, and suggest a concrete next step. Be brief and specific."

// Circuit gates scanning; an open circuit suspends all reviews.
type Circuit interface {
	IsOpen() bool
}

// FailureRecorder receives failures raised by the scheduler itself.
type FailureRecorder interface {
	RecordFailure(category, details, agentID string) bool
}

// Source produces a review for a request and names the tier that served it.
type Source interface {
	Review(ctx context.Context, req provider.Request) (string, string, error)
}

// Poster delivers a review into its thread.
type Poster interface {
	PostThread(ctx context.Context, channel, threadTS, text string) error
}

// Sink records delivered reviews for audit. Implementations must not
// fail the review path; errors are theirs to log.
type Sink interface {
	RecordReview(ctx context.Context, threadID, channel, providerName, text string)
}

// Options tunes the scheduler. Zero values take the defaults above.
type Options struct {
	ScanInterval time.Duration
	ScanBudget   time.Duration
	MaxPerThread int
	MaxPerDay    int
	Cooldown     time.Duration
}

func (o *Options) fill() {
	if o.ScanInterval <= 0 {
		o.ScanInterval = DefaultScanInterval
	}
	if o.ScanBudget <= 0 {
		o.ScanBudget = DefaultScanBudget
	}
	if o.MaxPerThread <= 0 {
		o.MaxPerThread = DefaultMaxPerThread
	}
	if o.MaxPerDay <= 0 {
		o.MaxPerDay = DefaultMaxPerDay
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
}

// Scheduler periodically scans the tracker for threads whose users have
// gone quiet and posts an automated review into each. One review per
// candidate per scan; backoff bookkeeping lives in the tracker.
type Scheduler struct {
	tracker  *conversation.Tracker
	stats    *Stats
	circuit  Circuit
	failures FailureRecorder
	source   Source
	poster   Poster
	sink     Sink
	opts     Options
	agentID  string
	logger   *slog.Logger

	cooldownUntil time.Time
}

// NewScheduler wires a Scheduler. sink may be nil.
func NewScheduler(tracker *conversation.Tracker, stats *Stats, circuit Circuit,
	failures FailureRecorder, source Source, poster Poster, sink Sink,
	opts Options, agentID string, logger *slog.Logger) *Scheduler {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tracker:  tracker,
		stats:    stats,
		circuit:  circuit,
		failures: failures,
		source:   source,
		poster:   poster,
		sink:     sink,
		opts:     opts,
		agentID:  agentID,
		logger:   logger.With("component", "review-scheduler"),
	}
}

// Run scans on the configured interval until ctx is canceled. Scan
// failures never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.ScanInterval)
	defer ticker.Stop()

	s.logger.Info("review scheduler started",
		"scan_interval", s.opts.ScanInterval,
		"max_per_thread", s.opts.MaxPerThread,
		"max_per_day", s.opts.MaxPerDay)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("review scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one review pass. Candidates are threads whose last message
// came from the assistant and whose user has been quiet for at least the
// thread's current backoff delay. Reviews stop early once the scan budget
// is spent; remaining candidates wait for the next pass.
func (s *Scheduler) Scan(ctx context.Context) (reviewed int) {
	now := time.Now()
	if now.Before(s.cooldownUntil) {
		s.logger.Debug("scan skipped, in cooldown", "until", s.cooldownUntil)
		return 0
	}

	// A scan failure must not take the whole daemon down; it opens a
	// cooldown window and counts against the circuit instead.
	defer func() {
		if r := recover(); r != nil {
			s.cooldownUntil = time.Now().Add(s.opts.Cooldown)
			s.logger.Error("scan failed", "panic", r, "cooldown", s.opts.Cooldown)
			if s.failures != nil {
				s.failures.RecordFailure("task_failed",
					fmt.Sprintf("review scan panic: %v", r), s.agentID)
			}
		}
	}()

	if s.circuit != nil && s.circuit.IsOpen() {
		s.logger.Debug("scan skipped, circuit open")
		return 0
	}
	if !s.stats.Allow(s.opts.MaxPerDay) {
		s.logger.Info("scan skipped, daily review cap reached", "max_per_day", s.opts.MaxPerDay)
		return 0
	}

	deadline := now.Add(s.opts.ScanBudget)
	for _, th := range s.tracker.Threads() {
		if !s.candidate(th, now) {
			continue
		}
		if time.Now().After(deadline) {
			s.logger.Warn("scan budget exhausted, deferring remaining candidates")
			break
		}

		// Global conditions can change while earlier candidates run.
		if s.circuit != nil && s.circuit.IsOpen() {
			s.logger.Info("circuit opened mid-scan, stopping")
			break
		}
		if !s.stats.Allow(s.opts.MaxPerDay) {
			s.logger.Info("daily review cap reached mid-scan, stopping")
			break
		}

		if s.review(ctx, th.ID) {
			reviewed++
		}
	}

	if reviewed > 0 {
		s.logger.Info("scan complete", "reviewed", reviewed)
	}
	return reviewed
}

// candidate reports whether a thread is due for review. Threads that
// never saw a user message are not reviewed.
func (s *Scheduler) candidate(th conversation.Thread, now time.Time) bool {
	if th.LastRole() != conversation.RoleAssistant {
		return false
	}
	if th.ReviewCount >= s.opts.MaxPerThread {
		return false
	}
	if th.LastUserActivity.IsZero() {
		return false
	}
	return now.Sub(th.LastUserActivity) >= th.NextReviewDelay
}

// review runs one candidate end to end. A provider waterfall failure
// abandons the candidate without counting against budget or quota.
func (s *Scheduler) review(ctx context.Context, threadID string) bool {
	// Re-fetch: the thread may have changed since candidate selection.
	th, ok := s.tracker.Get(threadID)
	if !ok || !s.candidate(th, time.Now()) {
		return false
	}

	text, providerName, err := s.source.Review(ctx, provider.Request{
		System: reviewerSystem,
		Prompt: buildPrompt(th),
	})
	if err != nil {
		s.logger.Warn("review abandoned", "thread_id", threadID, "error", err)
		return false
	}

	body := fmt.Sprintf("*Automated review* (_%s_):\n\n%s", providerName, text)
	if err := s.poster.PostThread(ctx, th.Channel, th.ID, body); err != nil {
		s.logger.Warn("review produced but not delivered", "thread_id", threadID, "error", err)
		return false
	}

	after, _ := s.tracker.MarkReviewed(threadID, text, time.Now())
	s.stats.Increment()
	if s.sink != nil {
		s.sink.RecordReview(ctx, threadID, th.Channel, providerName, text)
	}

	s.logger.Info("thread reviewed",
		"thread_id", threadID,
		"provider", providerName,
		"review_count", after.ReviewCount,
		"next_delay", after.NextReviewDelay)
	return true
}

// buildPrompt renders the thread transcript for the reviewer.
func buildPrompt(th conversation.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This conversation has had no user activity since %s.\n\nTranscript:\n",
		th.LastUserActivity.Format(time.RFC3339))
	for _, m := range th.Messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}
