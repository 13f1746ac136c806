// ABOUTME: Date-scoped daily review counter persisted alongside the other state files.
// ABOUTME: The count resets whenever the stored day differs from today.

package review

import (
	"log/slog"
	"time"

	"github.com/yellowcircle/vigil/internal/statefile"
)

// StatsFile is the document name the daily counter persists to.
const StatsFile = "review-stats.json"

const dayFormat = "2006-01-02"

// StatsDoc is the persisted daily review counter. The daily cap is an
// enforced precondition, not an invariant of the stored data: a racing
// writer can momentarily push the count past it.
type StatsDoc struct {
	Day        string `json:"day"`
	Count      int    `json:"count"`
	LastReview string `json:"last_review,omitempty"`
}

// Stats reads and advances the daily review counter.
type Stats struct {
	store  *statefile.Store
	logger *slog.Logger
}

// NewStats creates a Stats over the given store.
func NewStats(store *statefile.Store, logger *slog.Logger) *Stats {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stats{
		store:  store,
		logger: logger.With("component", "review-stats"),
	}
}

// Today returns the counter for the current date. A stored document from
// a previous day reads as zero.
func (s *Stats) Today() StatsDoc {
	today := time.Now().UTC().Format(dayFormat)
	doc := statefile.Read(s.store, StatsFile, StatsDoc{})
	if doc.Day != today {
		return StatsDoc{Day: today}
	}
	return doc
}

// Allow reports whether another review fits under the daily cap.
func (s *Stats) Allow(maxPerDay int) bool {
	return s.Today().Count < maxPerDay
}

// Increment rolls the day over if needed and bumps the counter.
func (s *Stats) Increment() StatsDoc {
	now := time.Now().UTC()
	today := now.Format(dayFormat)

	var out StatsDoc
	statefile.Update(s.store, StatsFile, StatsDoc{}, func(doc *StatsDoc) {
		if doc.Day != today {
			doc.Day = today
			doc.Count = 0
		}
		doc.Count++
		doc.LastReview = now.Format(time.RFC3339)
		out = *doc
	})
	return out
}
