// ABOUTME: Tests for the review ledger.
// ABOUTME: Covers schema creation, append, recent ordering, and counting.

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_AppendGeneratesIDAndTimestamp(t *testing.T) {
	l := setupTestLedger(t)

	r := &Review{ThreadID: "t1", Channel: "C1", Provider: "local", Text: "fine"}
	require.NoError(t, l.Append(context.Background(), r))
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestLedger_RecentNewestFirst(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, provider := range []string{"local", "anthropic", "groq"} {
		require.NoError(t, l.Append(ctx, &Review{
			ThreadID:  "t1",
			Channel:   "C1",
			Provider:  provider,
			Text:      "review",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "groq", got[0].Provider)
	assert.Equal(t, "anthropic", got[1].Provider)
}

func TestLedger_CountSince(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, l.Append(ctx, &Review{ThreadID: "t1", Channel: "C1", Provider: "local", Text: "old", CreatedAt: old}))
	require.NoError(t, l.Append(ctx, &Review{ThreadID: "t2", Channel: "C1", Provider: "local", Text: "new"}))

	n, err := l.CountSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_RecordReviewNeverFails(t *testing.T) {
	l := setupTestLedger(t)

	l.RecordReview(context.Background(), "t1", "C1", "local", "text")

	got, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ThreadID)
}

func TestLedger_OpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")
	l, err := Open(path, nil)
	require.NoError(t, err)
	l.Close()
}
