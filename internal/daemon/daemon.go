// ABOUTME: Daemon orchestrator that supervises the background loops and dispatches commands.
// ABOUTME: Heartbeats, review scans, health probes, and per-command workers share one context.

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yellowcircle/vigil/internal/breaker"
	"github.com/yellowcircle/vigil/internal/conversation"
	"github.com/yellowcircle/vigil/internal/heartbeat"
	"github.com/yellowcircle/vigil/internal/review"
	"github.com/yellowcircle/vigil/internal/runner"
	"github.com/yellowcircle/vigil/internal/taskcoord"
	"github.com/yellowcircle/vigil/internal/transport"
	"github.com/yellowcircle/vigil/internal/watchdog"
)

// Loop cadence defaults. Idle threads are evicted after double the
// default review inactivity threshold.
const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultEvictAfter        = 2 * time.Hour
	DefaultPollInterval      = 10 * time.Second
	evictSweepInterval       = 30 * time.Minute

	// historyLimit bounds one poll; maxSeen bounds the dedup set.
	historyLimit = 20
	maxSeen      = 1000
)

// Options tunes the daemon loops. Zero values take the defaults above.
type Options struct {
	Channel           string
	HeartbeatInterval time.Duration
	EvictAfter        time.Duration
	PollInterval      time.Duration
	// Trigger, when set, is the mention a top-level message must carry
	// to be treated as a command. Thread replies are always accepted.
	Trigger string
}

func (o *Options) fill() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.EvictAfter <= 0 {
		o.EvictAfter = DefaultEvictAfter
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// Daemon wires the coordination components together and runs them.
type Daemon struct {
	breaker   *breaker.Breaker
	registry  *heartbeat.Registry
	monitor   *heartbeat.Monitor
	coord     *taskcoord.Coordinator
	guard     *taskcoord.Guard
	tracker   *conversation.Tracker
	scheduler *review.Scheduler
	stats     *review.Stats
	watchdog  *watchdog.Watchdog
	transport transport.Transport
	runner    runner.Runner
	opts      Options
	logger    *slog.Logger

	commands chan transport.Command
	workers  sync.WaitGroup

	// seen deduplicates polled messages. Touched only by the poll loop.
	seen map[string]struct{}
}

// New wires a Daemon. watchdog and scheduler may be nil to disable
// those loops.
func New(brk *breaker.Breaker, registry *heartbeat.Registry, monitor *heartbeat.Monitor,
	coord *taskcoord.Coordinator, guard *taskcoord.Guard, tracker *conversation.Tracker,
	scheduler *review.Scheduler, stats *review.Stats, wd *watchdog.Watchdog,
	tr transport.Transport, run runner.Runner, opts Options, logger *slog.Logger) *Daemon {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		breaker:   brk,
		registry:  registry,
		monitor:   monitor,
		coord:     coord,
		guard:     guard,
		tracker:   tracker,
		scheduler: scheduler,
		stats:     stats,
		watchdog:  wd,
		transport: tr,
		runner:    run,
		opts:      opts,
		logger:    logger.With("component", "daemon"),
		commands:  make(chan transport.Command, 16),
		seen:      make(map[string]struct{}),
	}
}

// Submit queues an inbound command for dispatch. Safe for concurrent use.
func (d *Daemon) Submit(cmd transport.Command) {
	d.commands <- cmd
}

// Run starts all background loops and blocks until ctx is canceled.
// Per-command workers are drained before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.registry.Register("")
	defer d.registry.Remove()

	d.monitor.Write("running", d.stats.Today())
	defer d.monitor.Write("stopped", d.stats.Today())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.registry.Beat(ctx, d.opts.HeartbeatInterval, "")
		return nil
	})

	g.Go(func() error {
		return d.statusLoop(ctx)
	})

	g.Go(func() error {
		return d.evictLoop(ctx)
	})

	if d.scheduler != nil {
		g.Go(func() error {
			d.scheduler.Run(ctx)
			return nil
		})
	}

	if d.watchdog != nil {
		g.Go(func() error {
			d.watchdog.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return d.pollLoop(ctx)
	})

	g.Go(func() error {
		return d.dispatchLoop(ctx)
	})

	d.logger.Info("daemon started", "agent_id", d.registry.AgentID(), "channel", d.opts.Channel)
	err := g.Wait()
	d.workers.Wait()
	d.logger.Info("daemon stopped")

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// statusLoop refreshes the external monitoring file on the heartbeat
// cadence.
func (d *Daemon) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.monitor.Write("running", d.stats.Today())
		}
	}
}

// evictLoop drops idle conversations to bound memory growth.
func (d *Daemon) evictLoop(ctx context.Context) error {
	ticker := time.NewTicker(evictSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.tracker.Evict(d.opts.EvictAfter)
		}
	}
}

// pollLoop fetches channel history on a fixed cadence and feeds new
// command messages into the dispatch queue.
func (d *Daemon) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll runs one history fetch. Messages are processed oldest first so
// commands dispatch in arrival order; every message is marked seen
// whether or not it becomes a command.
func (d *Daemon) poll(ctx context.Context) {
	msgs, err := d.transport.History(ctx, d.opts.Channel, historyLimit)
	if err != nil {
		d.logger.Warn("history poll failed", "error", err)
		return
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if _, ok := d.seen[m.TS]; ok {
			continue
		}
		d.seen[m.TS] = struct{}{}

		cmd, ok := d.accept(m)
		if !ok {
			continue
		}
		d.logger.Debug("message accepted", "ts", m.TS, "user", m.User)
		d.Submit(cmd)
	}

	if len(d.seen) > maxSeen {
		d.seen = make(map[string]struct{})
	}
}

// accept decides whether a polled message is a command. Bot posts are
// skipped, which also covers this daemon's own messages and reviews.
func (d *Daemon) accept(m transport.InboundMessage) (transport.Command, bool) {
	if m.BotID != "" {
		return transport.Command{}, false
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return transport.Command{}, false
	}

	threadTS := ""
	if m.ThreadTS != "" && m.ThreadTS != m.TS {
		threadTS = m.ThreadTS
	}

	if d.opts.Trigger != "" && threadTS == "" {
		if !strings.Contains(strings.ToLower(text), strings.ToLower(d.opts.Trigger)) {
			return transport.Command{}, false
		}
		text = stripMention(text, d.opts.Trigger)
		if text == "" {
			return transport.Command{}, false
		}
	}

	return transport.Command{
		Channel:  d.opts.Channel,
		ThreadTS: threadTS,
		User:     m.User,
		Text:     text,
	}, true
}

// stripMention removes every case-insensitive occurrence of the trigger.
func stripMention(text, trigger string) string {
	lower := strings.ToLower(text)
	needle := strings.ToLower(trigger)

	var b strings.Builder
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i])
		text = text[i+len(needle):]
		lower = lower[i+len(needle):]
	}
	return strings.TrimSpace(b.String())
}

// dispatchLoop consumes inbound commands until ctx is canceled.
func (d *Daemon) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-d.commands:
			d.Handle(ctx, cmd)
		}
	}
}

// Handle processes one inbound command. Thread replies and control
// commands run inline; task execution runs in a worker goroutine.
func (d *Daemon) Handle(ctx context.Context, cmd transport.Command) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return
	}

	// Replies inside a managed thread are user activity, not commands.
	if cmd.ThreadTS != "" {
		if _, ok := d.tracker.Get(cmd.ThreadTS); ok {
			d.tracker.Append(cmd.ThreadTS, cmd.Channel, conversation.RoleUser, text)
			d.logger.Debug("thread reply recorded", "thread_id", cmd.ThreadTS, "user", cmd.User)
			return
		}
	}

	switch {
	case text == "status":
		d.reply(ctx, cmd, d.statusText())
	case text == "reset" || text == "circuit close":
		d.breaker.Reset()
		d.reply(ctx, cmd, "Circuit breaker reset; all failure counts cleared.")
	case text == "circuit open":
		d.breaker.ForceOpen(fmt.Sprintf("manually opened by %s", cmd.User))
		d.reply(ctx, cmd, "Circuit breaker opened; task execution suspended.")
	case strings.HasPrefix(text, "relay "):
		d.relay(ctx, cmd, strings.TrimPrefix(text, "relay "))
	default:
		d.startTask(ctx, cmd, text)
	}
}

// relay forwards a message to the coordination channel on behalf of the
// sender.
func (d *Daemon) relay(ctx context.Context, cmd transport.Command, text string) {
	body := fmt.Sprintf("Relay from %s: %s", cmd.User, text)
	if _, err := d.transport.Post(ctx, d.opts.Channel, body); err != nil {
		d.logger.Warn("relay failed", "error", err)
		d.reply(ctx, cmd, fmt.Sprintf("Relay failed: %v", err))
		return
	}
	d.logger.Info("message relayed", "from", cmd.User, "chars", len(text))
}

// startTask runs the pre-task guard and, if admitted, executes the task
// in a worker goroutine with its own conversation thread.
func (d *Daemon) startTask(ctx context.Context, cmd transport.Command, description string) {
	decision := d.guard.Check(description)
	if !decision.Allowed {
		d.logger.Info("task refused", "task_id", decision.TaskID, "reason", decision.Reason)
		d.reply(ctx, cmd, fmt.Sprintf("Task refused — %s", decision))
		return
	}

	if !d.coord.Claim(decision.TaskID, description, d.registry.AgentID()) {
		d.reply(ctx, cmd, "Task refused — claimed by another agent first.")
		return
	}

	ts, err := d.transport.Post(ctx, cmd.Channel,
		fmt.Sprintf("Working on: %s", description))
	if err != nil {
		d.logger.Warn("task acknowledgment failed", "task_id", decision.TaskID, "error", err)
		d.coord.Release(decision.TaskID, taskcoord.StatusFailed)
		return
	}

	d.tracker.Append(ts, cmd.Channel, conversation.RoleUser, description)
	d.logger.Info("task started", "task_id", decision.TaskID, "thread_id", ts)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		d.runTask(ctx, decision.TaskID, description, cmd.Channel, ts)
	}()
}

// runTask executes one claimed task end to end: heartbeat while running,
// release on completion, failure classification into the breaker.
func (d *Daemon) runTask(ctx context.Context, taskID, description, channel, threadTS string) {
	beatCtx, stopBeat := context.WithCancel(ctx)
	defer stopBeat()

	// The heartbeat carries the human-readable description; monitors
	// should not have to reverse a hash to see what an agent is doing.
	var beatDone sync.WaitGroup
	beatDone.Add(1)
	go func() {
		defer beatDone.Done()
		d.registry.Beat(beatCtx, d.opts.HeartbeatInterval, description)
	}()

	result, err := d.runner.Run(ctx, description)
	stopBeat()
	beatDone.Wait()
	d.registry.Update(heartbeat.StatusIdle, "")

	if err != nil {
		d.coord.Release(taskID, taskcoord.StatusFailed)

		category := breaker.Classify(result.Output+" "+err.Error(), result.ExitCode)
		opened := false
		if category != "" {
			opened = d.breaker.RecordFailure(category,
				fmt.Sprintf("task %s: %v", taskID, err), d.registry.AgentID())
		}

		body := fmt.Sprintf("Task failed: %v", err)
		if opened {
			body += "\nCircuit breaker is now open; further tasks are suspended."
		}
		d.postThread(ctx, channel, threadTS, body)
		d.tracker.Append(threadTS, channel, conversation.RoleAssistant, body)
		d.logger.Warn("task failed", "task_id", taskID, "category", category, "circuit_opened", opened)
		return
	}

	d.coord.Release(taskID, taskcoord.StatusCompleted)

	body := "Task completed."
	if out := strings.TrimSpace(result.Output); out != "" {
		body = fmt.Sprintf("Task completed:\n%s", truncate(out, 2000))
	}
	d.postThread(ctx, channel, threadTS, body)
	d.tracker.Append(threadTS, channel, conversation.RoleAssistant, body)
	d.logger.Info("task completed", "task_id", taskID)
}

// statusText renders the status command response.
func (d *Daemon) statusText() string {
	var b strings.Builder

	state := d.breaker.Status()
	if state.CircuitOpen {
		fmt.Fprintf(&b, "Circuit: OPEN (%s)\n", state.CircuitOpenedReason)
	} else {
		b.WriteString("Circuit: closed\n")
	}

	active := d.coord.Active()
	fmt.Fprintf(&b, "Active tasks: %d\n", len(active))
	for id, claim := range active {
		fmt.Fprintf(&b, "  %.12s — %s (%s)\n", id, truncate(claim.Description, 60), claim.Agent)
	}

	agents := d.registry.All()
	fmt.Fprintf(&b, "Agents: %d\n", len(agents))
	for id, rec := range agents {
		fmt.Fprintf(&b, "  %s — %s\n", id, rec.Status)
	}

	stats := d.stats.Today()
	fmt.Fprintf(&b, "Reviews today: %d", stats.Count)
	fmt.Fprintf(&b, "\nThreads tracked: %d", d.tracker.Len())

	return b.String()
}

// reply answers in the thread when there is one, otherwise in the
// originating channel.
func (d *Daemon) reply(ctx context.Context, cmd transport.Command, text string) {
	if cmd.ThreadTS != "" {
		d.postThread(ctx, cmd.Channel, cmd.ThreadTS, text)
		return
	}
	if _, err := d.transport.Post(ctx, cmd.Channel, text); err != nil {
		d.logger.Warn("reply failed", "error", err)
	}
}

func (d *Daemon) postThread(ctx context.Context, channel, threadTS, text string) {
	if err := d.transport.PostThread(ctx, channel, threadTS, text); err != nil {
		d.logger.Warn("thread post failed", "thread_id", threadTS, "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
