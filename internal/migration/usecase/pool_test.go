package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/logger"
)

func poolSpecs() []model.CollectionSpec {
	return []model.CollectionSpec{
		{SourceDB: "src", TargetDB: "dst", Collection: "products"},
		{SourceDB: "src", TargetDB: "dst", Collection: "orders"},
		{SourceDB: "src", TargetDB: "dst", Collection: "customers"},
	}
}

func TestCapturePoolRunsAllCollectionsUntilCancelled(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	source.put(testDoc("p0001", 1, time.Now()))

	worker, progress := newTestWorker(source, target, newMemCheckpoints(), fastCaptureOptions())
	pool := NewCapturePool(worker, 3, 500*time.Millisecond, logger.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx, poolSpecs()) }()

	// Every collection must reach the running state.
	waitFor(t, 2*time.Second, func() bool {
		for _, spec := range poolSpecs() {
			if progress.Record(spec.ID()).State != model.StateRunning {
				return false
			}
		}
		return true
	})

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not shut down within the grace period")
	}
}

func TestCapturePoolBoundsWorkers(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	source.put(testDoc("p0001", 1, time.Now()))

	worker, progress := newTestWorker(source, target, newMemCheckpoints(), fastCaptureOptions())
	pool := NewCapturePool(worker, 2, 500*time.Millisecond, logger.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx, poolSpecs()) }()

	// With 2 workers over 3 collections only 2 run; the third stays pending
	// because capture workers hold their collection.
	waitFor(t, 2*time.Second, func() bool {
		running := 0
		for _, spec := range poolSpecs() {
			if progress.Record(spec.ID()).State == model.StateRunning {
				running++
			}
		}
		return running == 2
	})

	time.Sleep(20 * time.Millisecond)
	running := 0
	for _, spec := range poolSpecs() {
		if progress.Record(spec.ID()).State == model.StateRunning {
			running++
		}
	}
	assert.Equal(t, 2, running)

	cancel()
	<-done
}

func TestCapturePoolReportsPermanentFailures(t *testing.T) {
	source := newFakeSource()
	source.watchErr = nil // capture initialization fails permanently
	target := newFakeTarget()

	worker, progress := newTestWorker(source, target, newMemCheckpoints(), fastCaptureOptions())
	pool := NewCapturePool(worker, 3, 500*time.Millisecond, logger.NewLogger())

	err := pool.Run(context.Background(), poolSpecs())

	require.Error(t, err)
	assert.Len(t, progress.Failed(), 3)
}
