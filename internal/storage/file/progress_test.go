package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wechat_sync/internal/domain"
)

func TestProgressStore_MissingFileIsFresh(t *testing.T) {
	store := NewProgressStore(filepath.Join(t.TempDir(), "sync-progress.json"))

	p, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, p.LastSyncedIndex)
	assert.Equal(t, 0, p.TotalProcessed)
}

func TestProgressStore_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-progress.json")
	store := NewProgressStore(path)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(context.Background(), &domain.Progress{
		LastSyncedIndex: 41,
		TotalProcessed:  42,
		LastUpdateTime:  now,
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lastSyncedIndex": 41`)
	assert.Contains(t, string(raw), `"lastUpdateTime": "2024-05-01T08:00:00Z"`)

	p, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41, p.LastSyncedIndex)
	assert.Equal(t, 42, p.TotalProcessed)
	assert.True(t, now.Equal(p.LastUpdateTime))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestProgressStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-progress.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewProgressStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestProgressStore_RejectsImpossibleValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lastSyncedIndex": -5, "totalProcessed": 1}`), 0o644))

	_, err := NewProgressStore(path).Load(context.Background())
	assert.Error(t, err)
}
