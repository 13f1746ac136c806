// ABOUTME: Tests for the task claim/release protocol and completion history.
// ABOUTME: Validates first-claimant-wins, ring buffer trimming, and recent-completion lookups.

package taskcoord

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yellowcircle/vigil/internal/statefile"
)

func newTestCoordinator(t *testing.T, historyCap int) *Coordinator {
	t.Helper()
	store, err := statefile.New(t.TempDir(), nil)
	require.NoError(t, err)
	return New(store, historyCap, nil)
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("fix the login page")
	b := Hash("fix the login page")
	c := Hash("fix the logout page")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestClaim_FirstClaimantWins(t *testing.T) {
	c := newTestCoordinator(t, 0)
	id := Hash("deploy the site")

	assert.True(t, c.Claim(id, "deploy the site", "agent-a"))
	assert.False(t, c.Claim(id, "deploy the site", "agent-b"))

	// The losing claim must not have replaced the winner.
	claim := c.Active()[id]
	assert.Equal(t, "agent-a", claim.Agent)
}

func TestAvailable(t *testing.T) {
	c := newTestCoordinator(t, 0)
	id := Hash("some work")

	assert.True(t, c.Available(id))
	c.Claim(id, "some work", "agent-a")
	assert.False(t, c.Available(id))
}

func TestRelease_FreesClaimAndRecordsCompletion(t *testing.T) {
	c := newTestCoordinator(t, 0)
	id := Hash("some work")

	c.Claim(id, "some work", "agent-a")
	require.True(t, c.Release(id, StatusCompleted))

	assert.True(t, c.Available(id))
	assert.True(t, c.RecentlyCompleted(id, 0))
}

func TestRelease_TrimsHistoryToCapacity(t *testing.T) {
	c := newTestCoordinator(t, 5)

	for i := 0; i < 8; i++ {
		id := Hash(fmt.Sprintf("task %d", i))
		c.Claim(id, "task", "agent-a")
		c.Release(id, StatusCompleted)
	}

	// Newest-first: the oldest three fell off the ring.
	assert.True(t, c.RecentlyCompleted(Hash("task 7"), 0))
	assert.True(t, c.RecentlyCompleted(Hash("task 3"), 0))
	assert.False(t, c.RecentlyCompleted(Hash("task 0"), 0))
	assert.False(t, c.RecentlyCompleted(Hash("task 2"), 0))
}

func TestRecentlyCompleted_RespectsLookback(t *testing.T) {
	c := newTestCoordinator(t, 50)

	for i := 0; i < 5; i++ {
		id := Hash(fmt.Sprintf("task %d", i))
		c.Claim(id, "task", "agent-a")
		c.Release(id, StatusCompleted)
	}

	// "task 0" is the fifth most recent completion.
	assert.True(t, c.RecentlyCompleted(Hash("task 0"), 5))
	assert.False(t, c.RecentlyCompleted(Hash("task 0"), 2))
}

func TestRecentlyCompleted_UnknownTask(t *testing.T) {
	c := newTestCoordinator(t, 0)
	assert.False(t, c.RecentlyCompleted(Hash("never ran"), 0))
}

func TestRelease_FailedStatusIsRecorded(t *testing.T) {
	c := newTestCoordinator(t, 0)
	id := Hash("doomed work")

	c.Claim(id, "doomed work", "agent-a")
	c.Release(id, StatusFailed)

	assert.True(t, c.RecentlyCompleted(id, 0))
	assert.True(t, c.Available(id))
}

// Scenario: claim as A, claim as B refused, release completed, task is
// available again and shows as recently completed.
func TestScenario_ClaimReleaseCycle(t *testing.T) {
	c := newTestCoordinator(t, 0)
	id := Hash("X")

	assert.True(t, c.Claim(id, "X", "agent-a"))
	assert.False(t, c.Claim(id, "X", "agent-b"))
	require.True(t, c.Release(id, StatusCompleted))
	assert.True(t, c.Available(id))
	assert.True(t, c.RecentlyCompleted(id, 0))
}
