package usecase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/migration/domain/repository"
	"mongomirror/internal/shared/logger"
)

// Applier converts change events into idempotent target writes. Inserts,
// updates and replaces all become an upsert keyed by _id; deletes remove by
// _id. Applying the same event twice leaves the target unchanged.
type Applier struct {
	target   repository.TargetWriter
	sink     repository.FailedDocumentSink
	retry    RetryPolicy
	progress *ProgressAggregator
	logger   logger.Logger
}

// NewApplier wires an applier against the target writer.
func NewApplier(target repository.TargetWriter, sink repository.FailedDocumentSink, retry RetryPolicy, progress *ProgressAggregator, log logger.Logger) *Applier {
	return &Applier{
		target:   target,
		sink:     sink,
		retry:    retry,
		progress: progress,
		logger:   log.WithComponent("applier"),
	}
}

// Apply processes one event. Transient write errors are retried with backoff;
// exhausted or permanent failures land in the failed-document sink and the
// stream continues, so a single poisoned document never blocks a collection.
// Cancellation is the only error Apply propagates.
func (a *Applier) Apply(ctx context.Context, spec model.CollectionSpec, event model.ChangeEvent) error {
	var err error
	switch {
	case event.Operation == model.OperationDelete:
		err = a.retry.Do(ctx, func() error {
			return a.target.Delete(ctx, spec, event.DocumentID)
		})
	case event.Operation.IsUpsert():
		if event.FullDocument == nil {
			a.logger.Warnf("Missing full document in %s event for %s, skipping",
				event.Operation, model.FormatDocumentID(event.DocumentID))
			return nil
		}
		err = a.retry.Do(ctx, func() error {
			return a.target.Upsert(ctx, spec, event.FullDocument)
		})
	default:
		a.logger.Warnf("Unknown change operation %q for %s, skipping",
			event.Operation, model.FormatDocumentID(event.DocumentID))
		return nil
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.WithFields(map[string]interface{}{
			"collection": spec.ID(),
			"doc_id":     model.FormatDocumentID(event.DocumentID),
			"operation":  string(event.Operation),
		}).Errorf("Permanently failed to apply change: %v", err)
		_ = a.sink.Record(spec.ID(), event.DocumentID, err)
		return nil
	}

	if event.Operation == model.OperationDelete {
		a.progress.AddDeletions(spec.ID(), 1)
	} else {
		a.progress.AddUpdates(spec.ID(), 1)
	}
	return nil
}

// ApplyBatch processes a batch of events, bulk-writing the upserts and
// deletes and falling back to per-event application when a bulk write keeps
// failing, to isolate the poisoned documents. Returns the number of events
// applied successfully. Within one poll cycle relative order is free; each
// upsert and delete is independently idempotent.
func (a *Applier) ApplyBatch(ctx context.Context, spec model.CollectionSpec, events []model.ChangeEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var upserts []model.ChangeEvent
	var deletes []model.ChangeEvent
	for _, ev := range events {
		switch {
		case ev.Operation == model.OperationDelete:
			deletes = append(deletes, ev)
		case ev.Operation.IsUpsert() && ev.FullDocument != nil:
			upserts = append(upserts, ev)
		}
	}

	applied := 0

	if len(upserts) > 0 {
		n, err := a.applyUpserts(ctx, spec, upserts)
		applied += n
		if err != nil {
			return applied, err
		}
	}

	if len(deletes) > 0 {
		n, err := a.applyDeletes(ctx, spec, deletes)
		applied += n
		if err != nil {
			return applied, err
		}
	}

	return applied, nil
}

func (a *Applier) applyUpserts(ctx context.Context, spec model.CollectionSpec, events []model.ChangeEvent) (int, error) {
	docs := make([]bson.M, 0, len(events))
	for _, ev := range events {
		docs = append(docs, ev.FullDocument)
	}

	err := a.retry.Do(ctx, func() error {
		return a.target.BulkUpsert(ctx, spec, docs)
	})
	if err == nil {
		a.progress.AddUpdates(spec.ID(), int64(len(events)))
		return len(events), nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	// Bulk write keeps failing; isolate the poisoned documents one by one.
	a.logger.Warnf("Bulk upsert failed for %s, falling back to per-document writes: %v", spec.ID(), err)
	applied := 0
	for _, ev := range events {
		if applyErr := a.Apply(ctx, spec, ev); applyErr != nil {
			return applied, applyErr
		}
		applied++
	}
	return applied, nil
}

func (a *Applier) applyDeletes(ctx context.Context, spec model.CollectionSpec, events []model.ChangeEvent) (int, error) {
	ids := make([]interface{}, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.DocumentID)
	}

	err := a.retry.Do(ctx, func() error {
		return a.target.BulkDelete(ctx, spec, ids)
	})
	if err == nil {
		a.progress.AddDeletions(spec.ID(), int64(len(events)))
		return len(events), nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	a.logger.Warnf("Bulk delete failed for %s, falling back to per-document deletes: %v", spec.ID(), err)
	applied := 0
	for _, ev := range events {
		if applyErr := a.Apply(ctx, spec, ev); applyErr != nil {
			return applied, applyErr
		}
		applied++
	}
	return applied, nil
}
