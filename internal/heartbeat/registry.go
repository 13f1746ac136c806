// ABOUTME: Per-agent liveness records in a shared JSON document, with staleness detection.
// ABOUTME: Each agent owns exactly its own record; monitors read all records but mutate none.

package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/yellowcircle/vigil/internal/statefile"
)

// StateFile is the document name the registry persists to.
const StateFile = "agent-heartbeats.json"

// Agent statuses.
const (
	StatusStarting   = "starting"
	StatusRunning    = "running"
	StatusProcessing = "processing"
	StatusIdle       = "idle"
	StatusStopped    = "stopped"
	StatusUnhealthy  = "unhealthy"
)

// DefaultStaleThreshold is the age beyond which a record counts as stale.
const DefaultStaleThreshold = 300 * time.Second

// Record is one agent's liveness entry.
type Record struct {
	LastSeen string `json:"last_seen"`
	Status   string `json:"status"`
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
	Task     string `json:"task"`
}

// Document is the persisted heartbeat file: a record per agent ID.
type Document struct {
	Agents map[string]Record `json:"agents"`
}

func emptyDocument() Document {
	return Document{Agents: make(map[string]Record)}
}

// Registry tracks the calling agent's heartbeat and reads everyone else's.
type Registry struct {
	store   *statefile.Store
	agentID string
	logger  *slog.Logger
}

// NewRegistry creates a Registry writing under the given agent identity.
func NewRegistry(store *statefile.Store, agentID string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		agentID: agentID,
		logger:  logger.With("component", "heartbeat", "agent_id", agentID),
	}
}

// AgentID returns the identity this registry writes under.
func (r *Registry) AgentID() string {
	return r.agentID
}

// Register creates or overwrites this agent's record with status "starting".
func (r *Registry) Register(task string) bool {
	return r.Update(StatusStarting, task)
}

// Update overwrites this agent's record. Only the owning agent's entry is
// touched; other records pass through unchanged.
func (r *Registry) Update(status, task string) bool {
	hostname, _ := os.Hostname()
	now := time.Now().UTC().Format(time.RFC3339)

	return statefile.Update(r.store, StateFile, emptyDocument(), func(doc *Document) {
		if doc.Agents == nil {
			doc.Agents = make(map[string]Record)
		}
		doc.Agents[r.agentID] = Record{
			LastSeen: now,
			Status:   status,
			Hostname: hostname,
			PID:      os.Getpid(),
			Task:     task,
		}
	})
}

// Remove deletes this agent's record.
func (r *Registry) Remove() bool {
	return statefile.Update(r.store, StateFile, emptyDocument(), func(doc *Document) {
		delete(doc.Agents, r.agentID)
	})
}

// All returns every registered agent record.
func (r *Registry) All() map[string]Record {
	return statefile.Read(r.store, StateFile, emptyDocument()).Agents
}

// Stale returns records whose last_seen is older than threshold. A record
// whose timestamp cannot be parsed is conservatively treated as stale.
func (r *Registry) Stale(threshold time.Duration) map[string]Record {
	now := time.Now().UTC()
	stale := make(map[string]Record)

	for id, rec := range r.All() {
		lastSeen, err := time.Parse(time.RFC3339, rec.LastSeen)
		if err != nil || now.Sub(lastSeen) > threshold {
			stale[id] = rec
		}
	}
	return stale
}

// Beat writes a "running" heartbeat immediately and then on every interval
// tick until ctx is cancelled. Cancellation is cooperative: a stop is
// observed between interval waits, not preemptively.
func (r *Registry) Beat(ctx context.Context, interval time.Duration, task string) {
	r.Update(StatusRunning, task)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("heartbeat loop stopped")
			return
		case <-ticker.C:
			r.Update(StatusRunning, task)
		}
	}
}
