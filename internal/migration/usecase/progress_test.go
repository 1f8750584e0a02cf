package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/eventbus"
	"mongomirror/internal/shared/logger"
)

func TestProgressAggregatorTracksCounters(t *testing.T) {
	p := NewProgressAggregator(nil)
	p.Register("products", 100)
	p.SetState("products", model.StateRunning)

	p.AddMigrated("products", 40)
	p.AddMigrated("products", 10)
	p.AddUpdates("products", 3)
	p.AddDeletions("products", 2)
	p.SetCounts("products", 100, 48)

	rec := p.Record("products")
	assert.Equal(t, int64(50), rec.MigratedDocs)
	assert.Equal(t, int64(3), rec.UpdatesApplied)
	assert.Equal(t, int64(2), rec.DeletionsApplied)
	assert.Equal(t, model.StateRunning, rec.State)

	snap := p.SnapshotFor("products")
	assert.InDelta(t, 50.0, snap.ProgressPct, 0.01)
	assert.Equal(t, int64(100), snap.SourceCount)
	assert.Equal(t, int64(48), snap.TargetCount)
}

func TestProgressAggregatorPctIsCapped(t *testing.T) {
	p := NewProgressAggregator(nil)
	p.Register("products", 10)
	p.AddMigrated("products", 25)

	assert.Equal(t, 100.0, p.SnapshotFor("products").ProgressPct)
}

func TestProgressAggregatorSetCountsRaisesTotal(t *testing.T) {
	p := NewProgressAggregator(nil)
	p.Register("products", 10)

	// The source grew while the copy ran.
	p.SetCounts("products", 40, 10)
	p.AddMigrated("products", 10)

	assert.InDelta(t, 25.0, p.SnapshotFor("products").ProgressPct, 0.01)
}

func TestProgressAggregatorReset(t *testing.T) {
	p := NewProgressAggregator(nil)
	p.Register("products", 10)
	p.AddMigrated("products", 5)
	p.SetState("products", model.StateRunning)

	p.Reset("products")

	rec := p.Record("products")
	assert.Equal(t, int64(0), rec.MigratedDocs)
	assert.Equal(t, model.StatePending, rec.State)
}

func TestProgressAggregatorFailedCollections(t *testing.T) {
	p := NewProgressAggregator(nil)
	p.Register("a", 1)
	p.Register("b", 1)
	p.SetState("b", model.StateFailed)

	assert.Equal(t, []string{"b"}, p.Failed())
}

func TestProgressAggregatorUnknownCollection(t *testing.T) {
	p := NewProgressAggregator(nil)

	rec := p.Record("ghost")
	assert.Equal(t, model.StatePending, rec.State)
	snap := p.SnapshotFor("ghost")
	assert.Equal(t, 0.0, snap.ProgressPct)
}

func TestProgressAggregatorPublishesSnapshots(t *testing.T) {
	bus := eventbus.NewEventBus(logger.NewLogger())
	received := make(chan model.ProgressSnapshot, 16)
	bus.Subscribe(eventbus.EventTypeProgress, func(ctx context.Context, event eventbus.Event) error {
		if snap, ok := event.Data().(model.ProgressSnapshot); ok {
			received <- snap
		}
		return nil
	})

	p := NewProgressAggregator(bus)
	p.Register("products", 10)
	p.AddMigrated("products", 4)

	// PublishAndForget is asynchronous.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-received:
			if snap.ProgressPct > 39 {
				require.Equal(t, "products", snap.Collection)
				return
			}
		case <-deadline:
			t.Fatal("no progress snapshot published")
		}
	}
}
