package model

import "time"

// Checkpoint is the durable progress record for one collection. The streaming
// resume token and the polling cursor (last timestamp plus last processed id)
// are sub-fields of the same record; the active capture mode selects which
// sub-field it reads and advances.
type Checkpoint struct {
	CollectionID     string    `json:"collection_id"`
	ResumeToken      []byte    `json:"resume_token,omitempty"`
	LastTimestamp    time.Time `json:"last_timestamp,omitempty"`
	LastProcessedID  string    `json:"last_processed_id,omitempty"`
	MigratedDocs     int64     `json:"migrated_docs"`
	UpdatesApplied   int64     `json:"updates_applied"`
	DeletionsApplied int64     `json:"deletions_applied"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsZero reports whether the checkpoint carries no progress, meaning the
// collection must be scanned from the start.
func (c Checkpoint) IsZero() bool {
	return len(c.ResumeToken) == 0 &&
		c.LastTimestamp.IsZero() &&
		c.LastProcessedID == "" &&
		c.MigratedDocs == 0
}

// Regresses reports whether committing this checkpoint after prev would move
// any cursor backwards. A zero incoming checkpoint is an explicit reset and
// never counts as a regression.
func (c Checkpoint) Regresses(prev Checkpoint) bool {
	if c.IsZero() {
		return false
	}
	if !c.LastTimestamp.IsZero() && !prev.LastTimestamp.IsZero() && c.LastTimestamp.Before(prev.LastTimestamp) {
		return true
	}
	if c.LastProcessedID != "" && prev.LastProcessedID != "" && c.LastProcessedID < prev.LastProcessedID {
		return true
	}
	return false
}
