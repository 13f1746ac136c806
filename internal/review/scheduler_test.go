// ABOUTME: Tests for the review scheduler's candidate selection and guard re-checks.
// ABOUTME: Uses stub circuit, source, and poster; timestamps planted via AppendAt.

package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yellowcircle/vigil/internal/conversation"
	"github.com/yellowcircle/vigil/internal/provider"
)

type stubCircuit struct{ open bool }

func (c *stubCircuit) IsOpen() bool { return c.open }

type stubSource struct {
	mu    sync.Mutex
	text  string
	err   error
	panic bool
	calls int
}

func (s *stubSource) Review(_ context.Context, _ provider.Request) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("provider blew up")
	}
	if s.err != nil {
		return "", "", s.err
	}
	return s.text, "stub", nil
}

type stubPoster struct {
	mu    sync.Mutex
	err   error
	posts []string
}

func (p *stubPoster) PostThread(_ context.Context, _, threadTS, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, threadTS)
	return nil
}

type stubFailures struct {
	mu       sync.Mutex
	recorded []string
}

func (f *stubFailures) RecordFailure(category, _, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, category)
	return false
}

type fixture struct {
	tracker  *conversation.Tracker
	stats    *Stats
	circuit  *stubCircuit
	source   *stubSource
	poster   *stubPoster
	failures *stubFailures
	sched    *Scheduler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		tracker:  conversation.NewTracker(0, time.Hour, nil),
		stats:    NewStats(newTestStore(t), nil),
		circuit:  &stubCircuit{},
		source:   &stubSource{text: "looks stalled, suggest pinging the owner"},
		poster:   &stubPoster{},
		failures: &stubFailures{},
	}
	f.sched = NewScheduler(f.tracker, f.stats, f.circuit, f.failures,
		f.source, f.poster, nil, opts, "agent-1", nil)
	return f
}

// addStalled plants a thread whose user went quiet `ago` before now and
// whose last message is from the assistant.
func (f *fixture) addStalled(id string, ago time.Duration) {
	at := time.Now().Add(-ago)
	f.tracker.AppendAt(id, "C1", conversation.RoleUser, "please fix the build", at)
	f.tracker.AppendAt(id, "C1", conversation.RoleAssistant, "done, deployed to staging", at.Add(time.Second))
}

func TestScan_ReviewsStalledThread(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 3601*time.Second)

	assert.Equal(t, 1, f.sched.Scan(context.Background()))
	assert.Equal(t, []string{"t1"}, f.poster.posts)

	th, ok := f.tracker.Get("t1")
	require.True(t, ok)
	assert.Equal(t, 1, th.ReviewCount)
	assert.Equal(t, 2*time.Hour, th.NextReviewDelay)
	assert.Equal(t, conversation.RoleReviewer, th.LastRole())
	assert.Equal(t, 1, f.stats.Today().Count)
}

func TestScan_SkipsThreadWithinDelay(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 30*time.Minute)

	assert.Equal(t, 0, f.sched.Scan(context.Background()))
	assert.Equal(t, 0, f.source.calls)
}

func TestScan_SkipsThreadEndingWithUserMessage(t *testing.T) {
	f := newFixture(t, Options{})
	at := time.Now().Add(-2 * time.Hour)
	f.tracker.AppendAt("t1", "C1", conversation.RoleUser, "still waiting", at)

	assert.Equal(t, 0, f.sched.Scan(context.Background()))
}

func TestScan_RespectsPerThreadCap(t *testing.T) {
	f := newFixture(t, Options{MaxPerThread: 1})
	f.addStalled("t1", 48*time.Hour)

	assert.Equal(t, 1, f.sched.Scan(context.Background()))

	// A further assistant message makes the thread assistant-last again.
	// 48h of user silence dwarfs the doubled delay; only the cap holds.
	f.tracker.AppendAt("t1", "C1", conversation.RoleAssistant, "also updated the docs",
		time.Now().Add(-47*time.Hour))
	assert.Equal(t, 0, f.sched.Scan(context.Background()))
	assert.Equal(t, 1, f.stats.Today().Count)
}

func TestScan_ReviewerLastThreadNotReselected(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 48*time.Hour)
	require.Equal(t, 1, f.sched.Scan(context.Background()))

	// Last message is now the reviewer's; without a fresh assistant
	// message the thread stays out of the candidate set.
	assert.Equal(t, 0, f.sched.Scan(context.Background()))
	assert.Equal(t, 1, f.source.calls)
}

func TestScan_CircuitOpenSuspendsReviews(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 2*time.Hour)
	f.circuit.open = true

	assert.Equal(t, 0, f.sched.Scan(context.Background()))
	assert.Equal(t, 0, f.source.calls)
}

func TestScan_DailyCapRecheckedBetweenCandidates(t *testing.T) {
	f := newFixture(t, Options{MaxPerDay: 1})
	f.addStalled("t1", 2*time.Hour)
	f.addStalled("t2", 2*time.Hour)

	assert.Equal(t, 1, f.sched.Scan(context.Background()))
	assert.Len(t, f.poster.posts, 1)
	assert.Equal(t, 1, f.stats.Today().Count)
}

func TestScan_BudgetExhaustedDefersCandidates(t *testing.T) {
	f := newFixture(t, Options{ScanBudget: time.Nanosecond})
	f.addStalled("t1", 2*time.Hour)

	time.Sleep(time.Millisecond)
	assert.Equal(t, 0, f.sched.Scan(context.Background()))
	assert.Equal(t, 0, f.source.calls)
}

func TestScan_AllProvidersFailedAbandonsCandidate(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 2*time.Hour)
	f.source.err = provider.ErrAllProvidersFailed

	assert.Equal(t, 0, f.sched.Scan(context.Background()))

	th, _ := f.tracker.Get("t1")
	assert.Equal(t, 0, th.ReviewCount)
	assert.Equal(t, 0, f.stats.Today().Count)
	assert.Empty(t, f.failures.recorded)
}

func TestScan_UndeliveredReviewNotCounted(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 2*time.Hour)
	f.poster.err = errors.New("channel_not_found")

	assert.Equal(t, 0, f.sched.Scan(context.Background()))

	th, _ := f.tracker.Get("t1")
	assert.Equal(t, 0, th.ReviewCount)
	assert.Equal(t, 0, f.stats.Today().Count)
}

func TestScan_PanicOpensCooldownAndRecordsFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 2*time.Hour)
	f.source.panic = true

	assert.Equal(t, 0, f.sched.Scan(context.Background()))
	assert.Equal(t, []string{"task_failed"}, f.failures.recorded)

	// Next scan sits out the cooldown even with a valid candidate.
	f.source.panic = false
	assert.Equal(t, 0, f.sched.Scan(context.Background()))
	assert.Equal(t, 1, f.source.calls)
}

func TestScan_UserReplyResetsBackoff(t *testing.T) {
	f := newFixture(t, Options{})
	f.addStalled("t1", 2*time.Hour)
	require.Equal(t, 1, f.sched.Scan(context.Background()))

	// A fresh user reply resets the delay to base and restarts the clock.
	f.tracker.Append("t1", "C1", conversation.RoleUser, "thanks, one more thing")
	th, _ := f.tracker.Get("t1")
	assert.Equal(t, time.Hour, th.NextReviewDelay)
	assert.Equal(t, 0, f.sched.Scan(context.Background()))
}
