package model

import "time"

// CollectionState is the lifecycle state of one collection's migration.
type CollectionState string

const (
	StatePending   CollectionState = "pending"
	StateRunning   CollectionState = "running"
	StateCompleted CollectionState = "completed"
	StateFailed    CollectionState = "failed"
)

// ProgressRecord tracks per-collection counters for the lifetime of a run.
// Counts are monotonic except on explicit reset.
type ProgressRecord struct {
	CollectionID     string          `json:"collection_id"`
	TotalDocs        int64           `json:"total_docs"`
	MigratedDocs     int64           `json:"migrated_docs"`
	UpdatesApplied   int64           `json:"updates_applied"`
	DeletionsApplied int64           `json:"deletions_applied"`
	LastUpdate       time.Time       `json:"last_update_ts"`
	State            CollectionState `json:"state"`
}

// ProgressSnapshot is the read-only view exposed to external monitoring.
type ProgressSnapshot struct {
	Collection       string          `json:"collection"`
	ProgressPct      float64         `json:"progress_pct"`
	SourceCount      int64           `json:"source_count"`
	TargetCount      int64           `json:"target_count"`
	UpdatesApplied   int64           `json:"updates_applied"`
	DeletionsApplied int64           `json:"deletions_applied"`
	LastUpdate       time.Time       `json:"last_update"`
	State            CollectionState `json:"state"`
}
