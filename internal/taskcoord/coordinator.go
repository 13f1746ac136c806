// ABOUTME: Cross-process task claim/release protocol preventing duplicate work.
// ABOUTME: Live claims plus a bounded completed-task ring buffer are the ground truth for "already handled".

package taskcoord

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/yellowcircle/vigil/internal/statefile"
)

// StateFile is the document name the coordinator persists to.
const StateFile = "active-tasks.json"

// DefaultHistoryCap bounds the completed-task ring buffer.
const DefaultHistoryCap = 50

// Task completion statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Claim is a live claim on a task. It exists only while work is in
// progress.
type Claim struct {
	Agent       string `json:"agent"`
	StartedAt   string `json:"started_at"`
	Description string `json:"description"`
}

// CompletedRecord is one entry in the bounded completion history.
type CompletedRecord struct {
	TaskID      string `json:"task_id"`
	CompletedAt string `json:"completed_at"`
	Status      string `json:"status"`
}

// Document is the persisted task file.
type Document struct {
	Tasks               map[string]Claim  `json:"tasks"`
	CompletedTasks      []CompletedRecord `json:"completed_tasks"`
	MaxCompletedHistory int               `json:"max_completed_history,omitempty"`
}

func emptyDocument() Document {
	return Document{Tasks: make(map[string]Claim)}
}

// Hash derives the task identifier from its description. Two agents
// independently handed the same description collide on the same ID, which
// is what makes the claim table work. Collisions between distinct
// descriptions are tolerated: the worst case is a skipped duplicate run.
func Hash(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}

// Coordinator mediates task claims through the shared document.
type Coordinator struct {
	store      *statefile.Store
	historyCap int
	logger     *slog.Logger
}

// New creates a Coordinator. historyCap <= 0 uses DefaultHistoryCap.
func New(store *statefile.Store, historyCap int, logger *slog.Logger) *Coordinator {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      store,
		historyCap: historyCap,
		logger:     logger.With("component", "taskcoord"),
	}
}

// Available reports whether no live claim exists for the task.
func (c *Coordinator) Available(id string) bool {
	doc := statefile.Read(c.store, StateFile, emptyDocument())
	_, claimed := doc.Tasks[id]
	return !claimed
}

// Active returns all live claims.
func (c *Coordinator) Active() map[string]Claim {
	return statefile.Read(c.store, StateFile, emptyDocument()).Tasks
}

// Claim atomically checks-then-inserts a claim for the task. Returns false
// without mutating the document if a claim already exists
// (first-claimant-wins).
func (c *Coordinator) Claim(id, description, agentID string) bool {
	now := time.Now().UTC().Format(time.RFC3339)

	claimed := statefile.UpdateIf(c.store, StateFile, emptyDocument(), func(doc *Document) bool {
		if doc.Tasks == nil {
			doc.Tasks = make(map[string]Claim)
		}
		if _, exists := doc.Tasks[id]; exists {
			return false
		}
		doc.Tasks[id] = Claim{
			Agent:       agentID,
			StartedAt:   now,
			Description: description,
		}
		return true
	})

	if claimed {
		c.logger.Info("task claimed", "task_id", id, "agent_id", agentID)
	}
	return claimed
}

// Release removes the live claim and prepends a completion record,
// trimming the history to its configured capacity.
func (c *Coordinator) Release(id, status string) bool {
	now := time.Now().UTC().Format(time.RFC3339)

	ok := statefile.Update(c.store, StateFile, emptyDocument(), func(doc *Document) {
		delete(doc.Tasks, id)

		cap := doc.MaxCompletedHistory
		if cap <= 0 {
			cap = c.historyCap
		}

		doc.CompletedTasks = append([]CompletedRecord{{
			TaskID:      id,
			CompletedAt: now,
			Status:      status,
		}}, doc.CompletedTasks...)
		if len(doc.CompletedTasks) > cap {
			doc.CompletedTasks = doc.CompletedTasks[:cap]
		}
	})

	if ok {
		c.logger.Info("task released", "task_id", id, "status", status)
	}
	return ok
}

// RecentlyCompleted reports whether the task appears in the most recent
// lookback completion records. Guards against duplicate triggers racing
// the claim table. lookback <= 0 uses the history capacity.
func (c *Coordinator) RecentlyCompleted(id string, lookback int) bool {
	if lookback <= 0 {
		lookback = c.historyCap
	}

	doc := statefile.Read(c.store, StateFile, emptyDocument())
	completed := doc.CompletedTasks
	if len(completed) > lookback {
		completed = completed[:lookback]
	}

	for _, rec := range completed {
		if rec.TaskID == id {
			return true
		}
	}
	return false
}
