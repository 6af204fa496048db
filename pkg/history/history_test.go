package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenAt(context.Background(), filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.RecordInvocation(ctx, "github", "github_get_issue", 120*time.Millisecond, nil)
	store.RecordInvocation(ctx, "github", "github_get_pull", 40*time.Millisecond, errors.New("404 not found"))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Most recent first.
	assert.Equal(t, "github_get_pull", entries[0].ToolID)
	assert.Equal(t, "404 not found", entries[0].Error)
	assert.Equal(t, "github_get_issue", entries[1].ToolID)
	assert.Empty(t, entries[1].Error)
	assert.Equal(t, int64(120), entries[1].DurationMS)
}

func TestRecentLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordInvocation(ctx, "srv", "srv_tool", time.Millisecond, nil)
	}

	entries, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecentEmpty(t *testing.T) {
	store := openTestStore(t)

	entries, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
