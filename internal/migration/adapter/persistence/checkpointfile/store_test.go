package checkpointfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/errors"
	"mongomirror/internal/shared/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), logger.NewLogger())
	require.NoError(t, err)
	return store
}

func TestStoreCommitAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	checkpoint := model.Checkpoint{
		ResumeToken:     []byte("token-1"),
		LastTimestamp:   time.Now().UTC().Truncate(time.Millisecond),
		LastProcessedID: "p0042",
		MigratedDocs:    42,
		UpdatesApplied:  3,
	}
	require.NoError(t, store.Commit("products", checkpoint))

	got, err := store.Get("products")
	require.NoError(t, err)
	assert.Equal(t, "products", got.CollectionID)
	assert.Equal(t, []byte("token-1"), got.ResumeToken)
	assert.Equal(t, "p0042", got.LastProcessedID)
	assert.Equal(t, int64(42), got.MigratedDocs)
	assert.True(t, got.LastTimestamp.Equal(checkpoint.LastTimestamp))
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStoreMissingRecordDegradesToZero(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get("never-seen")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
	assert.Equal(t, "never-seen", got.CollectionID)
}

func TestStoreCorruptRecordDegradesToZero(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, logger.NewLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.json"), []byte("{not json"), 0o644))

	got, err := store.Get("products")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestStoreRejectsRegression(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Commit("products", model.Checkpoint{LastProcessedID: "p0500"}))

	err := store.Commit("products", model.Checkpoint{LastProcessedID: "p0100"})
	require.Error(t, err)
	assert.True(t, errors.IsCheckpoint(err))

	got, _ := store.Get("products")
	assert.Equal(t, "p0500", got.LastProcessedID)
}

func TestStoreResetAllowsGoingBack(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Commit("products", model.Checkpoint{LastProcessedID: "p0500"}))
	require.NoError(t, store.Reset("products"))

	got, err := store.Get("products")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	// After a reset an earlier cursor commits cleanly.
	require.NoError(t, store.Commit("products", model.Checkpoint{LastProcessedID: "p0100"}))
}

func TestStoreResetMissingRecordIsNoop(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Reset("never-seen"))
}

func TestStoreLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, logger.NewLogger())
	require.NoError(t, err)

	require.NoError(t, store.Commit("products", model.Checkpoint{MigratedDocs: 1}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "products.json", entries[0].Name())
}

func TestStoreIsolatesCollections(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Commit("products", model.Checkpoint{MigratedDocs: 10}))
	require.NoError(t, store.Commit("orders", model.Checkpoint{MigratedDocs: 20}))

	products, _ := store.Get("products")
	orders, _ := store.Get("orders")
	assert.Equal(t, int64(10), products.MigratedDocs)
	assert.Equal(t, int64(20), orders.MigratedDocs)
}
