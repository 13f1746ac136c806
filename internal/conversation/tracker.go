// ABOUTME: In-memory map of managed chat threads with bounded histories and activity tracking.
// ABOUTME: Single mutex guards all access; the lock is never held across network calls.

package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleReviewer  = "reviewer"
)

// DefaultMaxMessages caps the per-thread message history.
const DefaultMaxMessages = 50

// MaxReviewDelay caps the multiplicative backoff between reviews.
const MaxReviewDelay = 24 * time.Hour

// Message is one entry in a thread's bounded history.
type Message struct {
	ID      string
	Role    string
	Content string
	Time    time.Time
}

// Thread is a point-in-time snapshot of one managed conversation.
// Mutating a snapshot has no effect on the tracker.
type Thread struct {
	ID               string
	Channel          string
	Messages         []Message
	LastActivity     time.Time
	LastUserActivity time.Time
	ReviewCount      int
	NextReviewDelay  time.Duration
}

// LastRole returns the role of the most recent message, or "" for an
// empty thread.
func (t Thread) LastRole() string {
	if len(t.Messages) == 0 {
		return ""
	}
	return t.Messages[len(t.Messages)-1].Role
}

type threadState struct {
	channel          string
	messages         []Message
	lastActivity     time.Time
	lastUserActivity time.Time
	reviewCount      int
	nextReviewDelay  time.Duration
}

// Tracker holds all managed threads for this process. State is not shared
// across processes and is lost on restart.
type Tracker struct {
	mu          sync.Mutex
	threads     map[string]*threadState
	maxMessages int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// NewTracker creates a Tracker. maxMessages <= 0 uses DefaultMaxMessages.
// baseDelay is the inactivity threshold review backoff starts from.
func NewTracker(maxMessages int, baseDelay time.Duration, logger *slog.Logger) *Tracker {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		threads:     make(map[string]*threadState),
		maxMessages: maxMessages,
		baseDelay:   baseDelay,
		logger:      logger.With("component", "conversation"),
	}
}

// Append records a message in the thread, creating the thread if needed.
func (t *Tracker) Append(threadID, channel, role, content string) Message {
	return t.AppendAt(threadID, channel, role, content, time.Now())
}

// AppendAt is Append with an explicit timestamp. A user message resets the
// review backoff to the base threshold; reviewer and assistant messages
// leave it alone.
func (t *Tracker) AppendAt(threadID, channel, role, content string, at time.Time) Message {
	msg := Message{
		ID:      uuid.New().String(),
		Role:    role,
		Content: content,
		Time:    at,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.threads[threadID]
	if !ok {
		st = &threadState{
			channel:         channel,
			nextReviewDelay: t.baseDelay,
		}
		t.threads[threadID] = st
		t.logger.Debug("thread created", "thread_id", threadID, "channel", channel)
	}

	st.messages = append(st.messages, msg)
	if len(st.messages) > t.maxMessages {
		st.messages = st.messages[len(st.messages)-t.maxMessages:]
	}

	st.lastActivity = at
	if role == RoleUser {
		st.lastUserActivity = at
		st.nextReviewDelay = t.baseDelay
	}

	return msg
}

// Get returns a snapshot of the thread.
func (t *Tracker) Get(threadID string) (Thread, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.threads[threadID]
	if !ok {
		return Thread{}, false
	}
	return t.snapshot(threadID, st), true
}

// Threads returns snapshots of every managed thread.
func (t *Tracker) Threads() []Thread {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Thread, 0, len(t.threads))
	for id, st := range t.threads {
		out = append(out, t.snapshot(id, st))
	}
	return out
}

// Len returns the number of managed threads.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.threads)
}

// MarkReviewed appends the review as a reviewer message and applies the
// backoff bookkeeping in one critical section: review count increments and
// the next-review delay doubles, capped at MaxReviewDelay. Two scheduler
// passes therefore cannot double-count the same thread.
func (t *Tracker) MarkReviewed(threadID, content string, at time.Time) (Thread, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.threads[threadID]
	if !ok {
		return Thread{}, false
	}

	st.messages = append(st.messages, Message{
		ID:      uuid.New().String(),
		Role:    RoleReviewer,
		Content: content,
		Time:    at,
	})
	if len(st.messages) > t.maxMessages {
		st.messages = st.messages[len(st.messages)-t.maxMessages:]
	}

	st.lastActivity = at
	st.reviewCount++
	st.nextReviewDelay *= 2
	if st.nextReviewDelay > MaxReviewDelay {
		st.nextReviewDelay = MaxReviewDelay
	}

	return t.snapshot(threadID, st), true
}

// Evict removes threads with no activity for maxIdle and returns how many
// were dropped. Bounds in-memory growth for long-running processes.
func (t *Tracker) Evict(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, st := range t.threads {
		if st.lastActivity.Before(cutoff) {
			delete(t.threads, id)
			evicted++
		}
	}
	if evicted > 0 {
		t.logger.Info("idle threads evicted", "count", evicted, "remaining", len(t.threads))
	}
	return evicted
}

// snapshot copies a thread's state. Caller must hold mu.
func (t *Tracker) snapshot(id string, st *threadState) Thread {
	msgs := make([]Message, len(st.messages))
	copy(msgs, st.messages)
	return Thread{
		ID:               id,
		Channel:          st.channel,
		Messages:         msgs,
		LastActivity:     st.lastActivity,
		LastUserActivity: st.lastUserActivity,
		ReviewCount:      st.reviewCount,
		NextReviewDelay:  st.nextReviewDelay,
	}
}
