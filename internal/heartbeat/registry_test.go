// ABOUTME: Tests for the heartbeat registry and monitor status file.
// ABOUTME: Validates record ownership, staleness detection, the beat loop, and monitor output.

package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yellowcircle/vigil/internal/statefile"
)

func newTestStore(t *testing.T) *statefile.Store {
	t.Helper()
	store, err := statefile.New(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestRegister_CreatesStartingRecord(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry(store, "agent-1", nil)

	require.True(t, reg.Register("first task"))

	all := reg.All()
	require.Contains(t, all, "agent-1")
	rec := all["agent-1"]
	assert.Equal(t, StatusStarting, rec.Status)
	assert.Equal(t, "first task", rec.Task)
	assert.NotZero(t, rec.PID)
	assert.NotEmpty(t, rec.LastSeen)
}

func TestUpdate_OnlyTouchesOwnRecord(t *testing.T) {
	store := newTestStore(t)
	regA := NewRegistry(store, "agent-a", nil)
	regB := NewRegistry(store, "agent-b", nil)

	require.True(t, regA.Register("task a"))
	require.True(t, regB.Register("task b"))
	require.True(t, regA.Update(StatusProcessing, "task a"))

	all := regA.All()
	assert.Equal(t, StatusProcessing, all["agent-a"].Status)
	assert.Equal(t, StatusStarting, all["agent-b"].Status)
}

func TestRemove_DeletesOwnRecordOnly(t *testing.T) {
	store := newTestStore(t)
	regA := NewRegistry(store, "agent-a", nil)
	regB := NewRegistry(store, "agent-b", nil)

	regA.Register("")
	regB.Register("")
	require.True(t, regA.Remove())

	all := regB.All()
	assert.NotContains(t, all, "agent-a")
	assert.Contains(t, all, "agent-b")
}

func TestStale_DetectsOldRecords(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry(store, "fresh", nil)
	reg.Register("")

	// Plant a record that last beat ten minutes ago.
	old := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	statefile.Update(store, StateFile, Document{}, func(doc *Document) {
		doc.Agents["dead"] = Record{LastSeen: old, Status: StatusRunning}
	})

	stale := reg.Stale(DefaultStaleThreshold)
	assert.Contains(t, stale, "dead")
	assert.NotContains(t, stale, "fresh")
}

func TestStale_UnparseableTimestampIsStale(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry(store, "monitor", nil)

	statefile.Update(store, StateFile, emptyDocument(), func(doc *Document) {
		doc.Agents["broken"] = Record{LastSeen: "not-a-time", Status: StatusRunning}
	})

	stale := reg.Stale(DefaultStaleThreshold)
	assert.Contains(t, stale, "broken")
}

func TestStale_EmptyDocument(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry(store, "monitor", nil)
	assert.Empty(t, reg.Stale(DefaultStaleThreshold))
}

func TestBeat_WritesImmediatelyAndStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry(store, "beater", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Beat(ctx, time.Hour, "long task")
		close(done)
	}()

	// The first beat happens before the first interval wait.
	require.Eventually(t, func() bool {
		rec, ok := reg.All()["beater"]
		return ok && rec.Status == StatusRunning
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("beat loop did not stop on cancel")
	}
}

func TestMonitor_WritesStatusDocument(t *testing.T) {
	store := newTestStore(t)
	mon := NewMonitor(store, "vigil", []string{"reviews", "tasks"}, nil)

	require.True(t, mon.Write(StatusRunning, map[string]int{"count": 2}))

	doc := statefile.Read(store, MonitorFile, MonitorStatus{})
	assert.Equal(t, "vigil", doc.Daemon)
	assert.Equal(t, StatusRunning, doc.Status)
	assert.NotZero(t, doc.Timestamp)
	assert.NotZero(t, doc.PID)
	assert.Equal(t, []string{"reviews", "tasks"}, doc.Features)
	assert.NotNil(t, doc.ReviewStats)
}
