// ABOUTME: Writer for the external monitoring status file.
// ABOUTME: A single flat JSON document describing the daemon, consumed by outside tooling only.

package heartbeat

import (
	"log/slog"
	"os"
	"time"

	"github.com/yellowcircle/vigil/internal/statefile"
)

// MonitorFile is the status document read by external monitoring.
const MonitorFile = "daemon-heartbeat.json"

// MonitorStatus is the persisted monitoring document. Nothing in-process
// reads it back; it exists purely for outside observers.
type MonitorStatus struct {
	Daemon      string   `json:"daemon"`
	Machine     string   `json:"machine"`
	Status      string   `json:"status"`
	Timestamp   int64    `json:"timestamp"`
	ISOTime     string   `json:"iso_time"`
	PID         int      `json:"pid"`
	Features    []string `json:"features,omitempty"`
	ReviewStats any      `json:"review_stats,omitempty"`
}

// Monitor writes the daemon status file.
type Monitor struct {
	store    *statefile.Store
	daemon   string
	features []string
	logger   *slog.Logger
}

// NewMonitor creates a Monitor for the named daemon.
func NewMonitor(store *statefile.Store, daemon string, features []string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:    store,
		daemon:   daemon,
		features: features,
		logger:   logger.With("component", "monitor"),
	}
}

// Write replaces the status file. reviewStats may be nil.
func (m *Monitor) Write(status string, reviewStats any) bool {
	hostname, _ := os.Hostname()
	now := time.Now().UTC()

	ok := statefile.Write(m.store, MonitorFile, MonitorStatus{
		Daemon:      m.daemon,
		Machine:     hostname,
		Status:      status,
		Timestamp:   now.Unix(),
		ISOTime:     now.Format(time.RFC3339),
		PID:         os.Getpid(),
		Features:    m.features,
		ReviewStats: reviewStats,
	})
	if !ok {
		m.logger.Warn("status file write failed", "status", status)
	}
	return ok
}
