package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongomirror/internal/shared/logger"
)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, logger.NewLogger())
	require.NoError(t, err)

	require.NoError(t, sink.Record("products", "p0001", fmt.Errorf("document failed validation")))
	require.NoError(t, sink.Record("products", "p0002", fmt.Errorf("write rejected")))

	f, err := os.Open(filepath.Join(dir, "products_failed_docs.log"))
	require.NoError(t, err)
	defer f.Close()

	var entries []FailedDocEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry FailedDocEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, "p0001", entries[0].DocumentID)
	assert.Equal(t, "document failed validation", entries[0].Error)
	assert.Equal(t, "p0002", entries[1].DocumentID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestFileSinkSeparatesCollections(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, logger.NewLogger())
	require.NoError(t, err)

	require.NoError(t, sink.Record("products", "p1", fmt.Errorf("boom")))
	require.NoError(t, sink.Record("orders", "o1", fmt.Errorf("boom")))

	_, err = os.Stat(filepath.Join(dir, "products_failed_docs.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "orders_failed_docs.log"))
	assert.NoError(t, err)
}
