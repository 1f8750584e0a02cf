// Package repository defines the ports the migration engine consumes. The
// engine treats source and target purely through these read/write/subscribe
// and index-management operations; connection provisioning stays outside.
package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"mongomirror/internal/migration/domain/model"
)

// CollectionReader is the read surface shared by source and target.
type CollectionReader interface {
	// Count returns the number of documents matching the spec's filter.
	Count(ctx context.Context, spec model.CollectionSpec) (int64, error)

	// NextBatch returns up to limit documents ordered by _id, strictly after
	// afterID (canonical string form; empty means from the start).
	NextBatch(ctx context.Context, spec model.CollectionSpec, afterID string, limit int) ([]bson.M, error)

	// FindByID returns one document or nil when absent.
	FindByID(ctx context.Context, spec model.CollectionSpec, id interface{}) (bson.M, error)

	// FindByIDs returns the subset of requested documents that exist, keyed
	// by canonical id string.
	FindByIDs(ctx context.Context, spec model.CollectionSpec, ids []interface{}) (map[string]bson.M, error)

	// SampleIDs returns up to limit document ids.
	SampleIDs(ctx context.Context, spec model.CollectionSpec, limit int) ([]interface{}, error)
}

// SourceReader reads documents, changes and index definitions from source.
type SourceReader interface {
	CollectionReader

	// ChangedSince returns up to limit documents whose modification timestamp
	// is strictly after since, ordered by (timestamp, _id). A non-empty afterID
	// additionally admits documents stamped exactly at since whose canonical id
	// is greater, so callers can page through runs of documents that share one
	// timestamp.
	ChangedSince(ctx context.Context, spec model.CollectionSpec, since time.Time, afterID string, limit int) ([]bson.M, error)

	// ListIndexes returns the collection's secondary index definitions.
	ListIndexes(ctx context.Context, spec model.CollectionSpec) ([]model.IndexSpec, error)

	// Watch subscribes to the collection's live change feed, resuming from
	// resumeToken when non-nil. Returns errors.ErrStreamNotSupported when the
	// source cannot stream, in which case the caller falls back to polling.
	Watch(ctx context.Context, spec model.CollectionSpec, resumeToken []byte) (ChangeStream, error)
}

// TargetWriter applies idempotent writes and index definitions to target.
type TargetWriter interface {
	CollectionReader

	// Upsert replaces the document with the same _id, inserting when absent.
	Upsert(ctx context.Context, spec model.CollectionSpec, doc bson.M) error

	// BulkUpsert applies a batch of upserts, unordered.
	BulkUpsert(ctx context.Context, spec model.CollectionSpec, docs []bson.M) error

	// Delete removes the document by id. Missing documents are not an error.
	Delete(ctx context.Context, spec model.CollectionSpec, id interface{}) error

	// BulkDelete removes a batch of documents by id, unordered.
	BulkDelete(ctx context.Context, spec model.CollectionSpec, ids []interface{}) error

	// EnsureIndexes creates the given indexes, treating "already exists" as
	// success.
	EnsureIndexes(ctx context.Context, spec model.CollectionSpec, indexes []model.IndexSpec) error

	// ListIndexes returns the target collection's secondary indexes, used by
	// the Verifier's index check.
	ListIndexes(ctx context.Context, spec model.CollectionSpec) ([]model.IndexSpec, error)
}

// ChangeStream is a live per-collection change feed.
type ChangeStream interface {
	// Next blocks until the next event, the context is cancelled, or the feed
	// drops. Feed order is preserved across consecutive calls.
	Next(ctx context.Context) (*model.ChangeEvent, error)

	// ResumeToken returns the feed position after the last delivered event.
	ResumeToken() []byte

	Close(ctx context.Context) error
}

// CheckpointStore is the durable per-collection progress record.
type CheckpointStore interface {
	// Get returns the stored checkpoint, or a zero-value checkpoint when the
	// record is absent or unreadable; read failure degrades to a full re-scan
	// rather than aborting.
	Get(collectionID string) (model.Checkpoint, error)

	// Commit durably writes the checkpoint with write-then-swap semantics.
	Commit(collectionID string, checkpoint model.Checkpoint) error

	// Reset clears the record (force-refresh path).
	Reset(collectionID string) error
}

// FailedDocumentSink records permanently failed writes, append-only per
// collection.
type FailedDocumentSink interface {
	Record(collectionID string, documentID interface{}, cause error) error
}
