package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongomirror/internal/migration/domain/model"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOURCE_URI", "mongodb://source:27017")
	t.Setenv("TARGET_URI", "mongodb://target:27017")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "collections.json", cfg.CollectionsFile)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, ThreadsAuto, cfg.Threads)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval)
	assert.Equal(t, 100, cfg.StreamCommitInterval)
	assert.Equal(t, 5, cfg.MaxWorkerRestarts)
	assert.Equal(t, 5, cfg.RetryLimit)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 100, cfg.VerifySampleSize)
	assert.Equal(t, 100, cfg.DeletionSampleSize)
	assert.Equal(t, 1000, cfg.DeletionSampleForced)
	assert.Equal(t, "progress", cfg.CheckpointDir)
	assert.False(t, cfg.ForceRefresh)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadRequiresURIs(t *testing.T) {
	t.Setenv("SOURCE_URI", "")
	t.Setenv("TARGET_URI", "mongodb://target:27017")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("SOURCE_URI", "mongodb://source:27017")
	t.Setenv("TARGET_URI", "")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadReadsOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("POLLING_INTERVAL", "10s")
	t.Setenv("CDC_FORCE_REFRESH", "true")
	t.Setenv("THREADS", "3")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.PollingInterval)
	assert.True(t, cfg.ForceRefresh)
	assert.Equal(t, "3", cfg.Threads)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadRejectsInvalidThreads(t *testing.T) {
	for _, threads := range []string{"lots", "0", "-2"} {
		t.Run(threads, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("THREADS", threads)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestVerificationMode(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, model.VerifySampled, cfg.VerificationMode())
	cfg.ForceRefresh = true
	assert.Equal(t, model.VerifyExhaustive, cfg.VerificationMode())
}

func TestWorkerCount(t *testing.T) {
	setRequiredEnv(t)

	cases := []struct {
		threads     string
		collections int
		want        int
	}{
		{"auto", 7, 7},
		{"", 7, 7},
		{"3", 7, 3},
		{"10", 7, 7}, // never more workers than collections
		{"0", 7, 7},
	}
	for _, tc := range cases {
		t.Run(tc.threads, func(t *testing.T) {
			cfg := &Config{Threads: tc.threads}
			assert.Equal(t, tc.want, cfg.WorkerCount(tc.collections))
		})
	}
}

func TestLoadCollections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collections.json")
	payload := `[
		{"source_db": "shop", "target_db": "shop_mirror", "collection": "products"},
		{"source_db": "shop", "target_db": "shop_mirror", "collection": "orders", "filter": {"status": "active"}}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	specs, err := LoadCollections(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "products", specs[0].ID())
	assert.Equal(t, "shop_mirror", specs[0].TargetDB)
	assert.Equal(t, "active", specs[1].Filter["status"])
}

func TestLoadCollectionsRejectsInvalidEntries(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing required field", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"source_db": "shop"}]`), 0o644))
		_, err := LoadCollections(path)
		require.Error(t, err)
	})

	t.Run("empty list", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
		_, err := LoadCollections(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCollections(filepath.Join(dir, "nope.json"))
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(dir, "malformed.json")
		require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
		_, err := LoadCollections(path)
		require.Error(t, err)
	})
}
