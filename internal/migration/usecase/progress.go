package usecase

import (
	"context"
	"sync"
	"time"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/eventbus"
)

// ProgressAggregator keeps process-wide counters keyed by collection id,
// updated by the copier and applier after each batch and exposed read-only to
// external monitoring. Counts are monotonic within a collection except on
// explicit reset; there is no cross-collection ordering guarantee.
type ProgressAggregator struct {
	mu      sync.RWMutex
	records map[string]*model.ProgressRecord
	source  map[string]int64
	target  map[string]int64
	bus     eventbus.EventBusInterface
}

// NewProgressAggregator creates an aggregator. The bus is optional; when set,
// every update publishes a migration.progress event.
func NewProgressAggregator(bus eventbus.EventBusInterface) *ProgressAggregator {
	return &ProgressAggregator{
		records: make(map[string]*model.ProgressRecord),
		source:  make(map[string]int64),
		target:  make(map[string]int64),
		bus:     bus,
	}
}

// Register creates the collection's record in the pending state.
func (p *ProgressAggregator) Register(collectionID string, totalDocs int64) {
	p.mu.Lock()
	p.records[collectionID] = &model.ProgressRecord{
		CollectionID: collectionID,
		TotalDocs:    totalDocs,
		State:        model.StatePending,
		LastUpdate:   time.Now().UTC(),
	}
	p.mu.Unlock()
	p.publish(collectionID)
}

// SetState transitions the collection's lifecycle state.
func (p *ProgressAggregator) SetState(collectionID string, state model.CollectionState) {
	p.mu.Lock()
	rec := p.record(collectionID)
	rec.State = state
	rec.LastUpdate = time.Now().UTC()
	p.mu.Unlock()
	p.publish(collectionID)
}

// AddMigrated adds to the bulk-copy counter.
func (p *ProgressAggregator) AddMigrated(collectionID string, n int64) {
	p.add(collectionID, n, 0, 0)
}

// AddUpdates adds to the applied-updates counter.
func (p *ProgressAggregator) AddUpdates(collectionID string, n int64) {
	p.add(collectionID, 0, n, 0)
}

// AddDeletions adds to the applied-deletions counter.
func (p *ProgressAggregator) AddDeletions(collectionID string, n int64) {
	p.add(collectionID, 0, 0, n)
}

func (p *ProgressAggregator) add(collectionID string, migrated, updates, deletions int64) {
	p.mu.Lock()
	rec := p.record(collectionID)
	rec.MigratedDocs += migrated
	rec.UpdatesApplied += updates
	rec.DeletionsApplied += deletions
	rec.LastUpdate = time.Now().UTC()
	p.mu.Unlock()
	p.publish(collectionID)
}

// SetCounts records the latest observed source and target document counts.
func (p *ProgressAggregator) SetCounts(collectionID string, sourceCount, targetCount int64) {
	p.mu.Lock()
	rec := p.record(collectionID)
	if sourceCount > rec.TotalDocs {
		rec.TotalDocs = sourceCount
	}
	p.source[collectionID] = sourceCount
	p.target[collectionID] = targetCount
	rec.LastUpdate = time.Now().UTC()
	p.mu.Unlock()
	p.publish(collectionID)
}

// Reset clears the collection's counters, the only sanctioned way counts may
// go backwards.
func (p *ProgressAggregator) Reset(collectionID string) {
	p.mu.Lock()
	rec := p.record(collectionID)
	rec.MigratedDocs = 0
	rec.UpdatesApplied = 0
	rec.DeletionsApplied = 0
	rec.State = model.StatePending
	rec.LastUpdate = time.Now().UTC()
	p.mu.Unlock()
	p.publish(collectionID)
}

// Record returns a copy of one collection's progress record.
func (p *ProgressAggregator) Record(collectionID string) model.ProgressRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if rec, ok := p.records[collectionID]; ok {
		return *rec
	}
	return model.ProgressRecord{CollectionID: collectionID, State: model.StatePending}
}

// Snapshot returns the read-only monitoring view for every collection.
func (p *ProgressAggregator) Snapshot() []model.ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshots := make([]model.ProgressSnapshot, 0, len(p.records))
	for id := range p.records {
		snapshots = append(snapshots, p.snapshotLocked(id))
	}
	return snapshots
}

// SnapshotFor returns the monitoring view for one collection.
func (p *ProgressAggregator) SnapshotFor(collectionID string) model.ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked(collectionID)
}

// Failed lists collections whose workers escalated to the failed state; a
// non-empty result drives a non-zero process exit status.
func (p *ProgressAggregator) Failed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var failed []string
	for id, rec := range p.records {
		if rec.State == model.StateFailed {
			failed = append(failed, id)
		}
	}
	return failed
}

// record must be called with the lock held.
func (p *ProgressAggregator) record(collectionID string) *model.ProgressRecord {
	rec, ok := p.records[collectionID]
	if !ok {
		rec = &model.ProgressRecord{CollectionID: collectionID, State: model.StatePending}
		p.records[collectionID] = rec
	}
	return rec
}

// snapshotLocked must be called with at least the read lock held.
func (p *ProgressAggregator) snapshotLocked(collectionID string) model.ProgressSnapshot {
	rec, ok := p.records[collectionID]
	if !ok {
		return model.ProgressSnapshot{Collection: collectionID, State: model.StatePending}
	}

	pct := 0.0
	if rec.TotalDocs > 0 {
		pct = float64(rec.MigratedDocs) / float64(rec.TotalDocs) * 100
		if pct > 100 {
			pct = 100
		}
	}
	return model.ProgressSnapshot{
		Collection:       collectionID,
		ProgressPct:      pct,
		SourceCount:      p.source[collectionID],
		TargetCount:      p.target[collectionID],
		UpdatesApplied:   rec.UpdatesApplied,
		DeletionsApplied: rec.DeletionsApplied,
		LastUpdate:       rec.LastUpdate,
		State:            rec.State,
	}
}

func (p *ProgressAggregator) publish(collectionID string) {
	if p.bus == nil {
		return
	}
	p.bus.PublishAndForget(context.Background(),
		eventbus.NewBasicEvent(eventbus.EventTypeProgress, p.SnapshotFor(collectionID), "progress_aggregator"))
}
