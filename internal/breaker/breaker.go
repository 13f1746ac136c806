// ABOUTME: Shared circuit breaker that turns repeated agent failures into a hard stop.
// ABOUTME: Failure counts live in a cross-process JSON document; tripping blocks all agents until reset.

package breaker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/yellowcircle/vigil/internal/statefile"
)

// StateFile is the document name the breaker persists to.
const StateFile = "circuit-breaker.json"

// Failure categories tracked by the breaker. Unknown categories are
// counted but never trip the circuit.
const (
	CategoryCommit     = "commit_failed"
	CategoryBuild      = "build_failed"
	CategoryDeployment = "deployment_failed"
	CategoryAuth       = "auth_failed"
	CategoryTask       = "task_failed"
)

// KnownCategories is the fixed set zeroed by Reset.
var KnownCategories = []string{
	CategoryCommit,
	CategoryBuild,
	CategoryDeployment,
	CategoryAuth,
	CategoryTask,
}

// defaultThreshold applies to categories with no configured threshold.
// Effectively infinite: unknown failure types never trip the circuit.
const defaultThreshold = 999

// DefaultThresholds returns the stock per-category trip thresholds.
func DefaultThresholds() map[string]int {
	return map[string]int{
		CategoryCommit:     3,
		CategoryBuild:      3,
		CategoryDeployment: 3,
		CategoryAuth:       3,
		CategoryTask:       5,
	}
}

// FailureRecord describes the most recent recorded failure.
type FailureRecord struct {
	Type    string `json:"type"`
	Time    string `json:"time"`
	Details string `json:"details"`
	Agent   string `json:"agent"`
}

// State is the persisted breaker document. An absent file means closed
// with zero counts.
type State struct {
	CircuitOpen         bool           `json:"circuit_open"`
	CircuitOpenedAt     string         `json:"circuit_opened_at,omitempty"`
	CircuitOpenedReason string         `json:"circuit_opened_reason,omitempty"`
	FailureCounts       map[string]int `json:"failure_counts"`
	Thresholds          map[string]int `json:"thresholds,omitempty"`
	LastFailure         *FailureRecord `json:"last_failure,omitempty"`
	LastReset           string         `json:"last_reset,omitempty"`
	LastUpdated         string         `json:"last_updated,omitempty"`
}

// Breaker reads and mutates the shared circuit breaker document.
// Thresholds stored in the document win over configured ones, so an
// operator can tune a live deployment by editing the file.
type Breaker struct {
	store      *statefile.Store
	thresholds map[string]int
	logger     *slog.Logger
}

// New creates a Breaker over the given store. A nil thresholds map uses
// DefaultThresholds.
func New(store *statefile.Store, thresholds map[string]int, logger *slog.Logger) *Breaker {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		store:      store,
		thresholds: thresholds,
		logger:     logger.With("component", "breaker"),
	}
}

// IsOpen reports whether the circuit is open. An absent or unparseable
// document is treated as closed.
func (b *Breaker) IsOpen() bool {
	return statefile.Read(b.store, StateFile, State{}).CircuitOpen
}

// Status returns the current breaker document.
func (b *Breaker) Status() State {
	return statefile.Read(b.store, StateFile, State{})
}

// OpenReason returns the reason the circuit was opened, or a generic
// explanation when the document predates reason tracking.
func (b *Breaker) OpenReason() string {
	st := b.Status()
	if st.CircuitOpenedReason != "" {
		return st.CircuitOpenedReason
	}
	return "circuit breaker is open"
}

// RecordFailure increments the category's counter and trips the circuit
// when the new count reaches its threshold. Returns true if this call
// tripped the circuit.
func (b *Breaker) RecordFailure(category, details, agentID string) bool {
	now := utcNow()
	tripped := false

	ok := statefile.Update(b.store, StateFile, State{}, func(doc *State) {
		if doc.FailureCounts == nil {
			doc.FailureCounts = make(map[string]int)
		}
		doc.FailureCounts[category]++
		count := doc.FailureCounts[category]

		doc.LastUpdated = now
		doc.LastFailure = &FailureRecord{
			Type:    category,
			Time:    now,
			Details: details,
			Agent:   agentID,
		}

		threshold := b.threshold(doc, category)
		if count >= threshold {
			doc.CircuitOpen = true
			doc.CircuitOpenedAt = now
			doc.CircuitOpenedReason = fmt.Sprintf("%s count (%d) exceeded threshold (%d)", category, count, threshold)
			tripped = true
		}
	})
	if !ok {
		b.logger.Warn("failure not recorded", "category", category, "agent", agentID)
		return false
	}

	if tripped {
		b.logger.Error("circuit breaker tripped", "category", category, "agent", agentID, "details", details)
	} else {
		b.logger.Warn("failure recorded", "category", category, "agent", agentID, "details", details)
	}
	return tripped
}

// Reset closes the circuit and zeroes all known categories.
func (b *Breaker) Reset() bool {
	now := utcNow()
	ok := statefile.Update(b.store, StateFile, State{}, func(doc *State) {
		doc.CircuitOpen = false
		doc.CircuitOpenedAt = ""
		doc.CircuitOpenedReason = ""
		doc.LastReset = now
		doc.LastUpdated = now
		doc.FailureCounts = make(map[string]int)
		for _, cat := range KnownCategories {
			doc.FailureCounts[cat] = 0
		}
	})
	if ok {
		b.logger.Info("circuit breaker reset")
	}
	return ok
}

// ForceOpen trips the circuit manually, independent of any counter.
func (b *Breaker) ForceOpen(reason string) bool {
	now := utcNow()
	ok := statefile.Update(b.store, StateFile, State{}, func(doc *State) {
		doc.CircuitOpen = true
		doc.CircuitOpenedAt = now
		doc.CircuitOpenedReason = reason
		doc.LastUpdated = now
	})
	if ok {
		b.logger.Warn("circuit breaker forced open", "reason", reason)
	}
	return ok
}

// threshold resolves the trip threshold for a category: document value,
// then configured value, then the effectively-infinite default.
func (b *Breaker) threshold(doc *State, category string) int {
	if t, ok := doc.Thresholds[category]; ok {
		return t
	}
	if t, ok := b.thresholds[category]; ok {
		return t
	}
	return defaultThreshold
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
