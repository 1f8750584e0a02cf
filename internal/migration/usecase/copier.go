package usecase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/migration/domain/repository"
	"mongomirror/internal/shared/errors"
	"mongomirror/internal/shared/eventbus"
	"mongomirror/internal/shared/logger"
	"mongomirror/internal/shared/utils"
)

// CopyResult summarizes one bulk copy run over a collection.
type CopyResult struct {
	RowsCopied int64
	RowsFailed int64
	Duration   time.Duration
}

// Copier performs the checkpointed bulk copy of one collection. Batches are
// read in _id order and written as upserts, so interrupting and restarting a
// copy never duplicates documents; at worst the batch in flight at the crash
// is written twice.
type Copier struct {
	source      repository.SourceReader
	target      repository.TargetWriter
	checkpoints repository.CheckpointStore
	sink        repository.FailedDocumentSink
	retry       RetryPolicy
	progress    *ProgressAggregator
	bus         eventbus.EventBusInterface
	batchSize   int
	sampleSize  int
	logger      logger.Logger
}

// NewCopier wires a copier. sampleSize bounds the post-copy fingerprint check;
// zero disables it.
func NewCopier(
	source repository.SourceReader,
	target repository.TargetWriter,
	checkpoints repository.CheckpointStore,
	sink repository.FailedDocumentSink,
	retry RetryPolicy,
	progress *ProgressAggregator,
	bus eventbus.EventBusInterface,
	batchSize int,
	sampleSize int,
	log logger.Logger,
) *Copier {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Copier{
		source:      source,
		target:      target,
		checkpoints: checkpoints,
		sink:        sink,
		retry:       retry,
		progress:    progress,
		bus:         bus,
		batchSize:   batchSize,
		sampleSize:  sampleSize,
		logger:      log.WithComponent("copier"),
	}
}

// Run copies the collection from source to target, resuming from the stored
// checkpoint. The checkpoint is committed only after its batch is durably
// written. Cancellation is honored at batch boundaries; the checkpoint then
// reflects the last completed batch.
func (c *Copier) Run(ctx context.Context, spec model.CollectionSpec) (CopyResult, error) {
	start := time.Now()
	ctx = utils.WithCollection(ctx, spec.ID())
	log := c.logger.WithContext(ctx)

	var total int64
	err := c.retry.Do(ctx, func() error {
		var countErr error
		total, countErr = c.source.Count(ctx, spec)
		return countErr
	})
	if err != nil {
		return CopyResult{}, errors.WrapError(err, "failed to count source documents").WithCollection(spec.ID())
	}

	c.progress.Register(spec.ID(), total)
	c.progress.SetState(spec.ID(), model.StateRunning)

	if err := c.replicateIndexes(ctx, spec); err != nil {
		return CopyResult{}, err
	}

	checkpoint, err := c.checkpoints.Get(spec.ID())
	if err != nil {
		// Unreadable checkpoints degrade to a full re-scan; upserts keep the
		// re-scan idempotent.
		log.Warnf("Checkpoint unreadable, restarting copy from the beginning: %v", err)
		checkpoint = model.Checkpoint{CollectionID: spec.ID()}
	}
	if checkpoint.LastProcessedID != "" {
		log.Infof("Resuming copy after document %s (%d already migrated)",
			checkpoint.LastProcessedID, checkpoint.MigratedDocs)
		c.progress.AddMigrated(spec.ID(), checkpoint.MigratedDocs)
	}

	result := CopyResult{RowsCopied: checkpoint.MigratedDocs}
	afterID := checkpoint.LastProcessedID

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var batch []bson.M
		err := c.retry.Do(ctx, func() error {
			var readErr error
			batch, readErr = c.source.NextBatch(ctx, spec, afterID, c.batchSize)
			return readErr
		})
		if err != nil {
			return result, errors.WrapError(err, "failed to read source batch").WithCollection(spec.ID())
		}
		if len(batch) == 0 {
			break
		}

		written, failed, err := c.writeBatch(ctx, spec, batch)
		if err != nil {
			return result, err
		}
		result.RowsCopied += written
		result.RowsFailed += failed
		c.progress.AddMigrated(spec.ID(), written)

		afterID = model.FormatDocumentID(model.ExtractID(batch[len(batch)-1]))
		checkpoint.LastProcessedID = afterID
		checkpoint.MigratedDocs = result.RowsCopied
		if ts, ok := model.DocumentTimestamp(batch[len(batch)-1]); ok {
			checkpoint.LastTimestamp = ts
		}
		if err := c.checkpoints.Commit(spec.ID(), checkpoint); err != nil {
			// Progress is only lost on crash, in which case the batch re-runs
			// as upserts. Keep copying.
			log.Warnf("Failed to commit copy checkpoint: %v", err)
		} else if c.bus != nil {
			c.bus.PublishAndForget(context.Background(), eventbus.NewBasicEvent(
				eventbus.EventTypeCheckpointCommitted,
				map[string]interface{}{
					"collection":     spec.ID(),
					"migrated_docs":  checkpoint.MigratedDocs,
					"last_timestamp": checkpoint.LastTimestamp,
				},
				"copier"))
		}
	}

	if c.sampleSize > 0 {
		c.verifySample(ctx, spec, log)
	}

	result.Duration = time.Since(start)
	log.Infof("Bulk copy finished: %d copied, %d failed in %s",
		result.RowsCopied, result.RowsFailed, result.Duration)
	return result, nil
}

// replicateIndexes copies the source's secondary indexes to the target before
// any documents are written.
func (c *Copier) replicateIndexes(ctx context.Context, spec model.CollectionSpec) error {
	var indexes []model.IndexSpec
	err := c.retry.Do(ctx, func() error {
		var listErr error
		indexes, listErr = c.source.ListIndexes(ctx, spec)
		return listErr
	})
	if err != nil {
		return errors.WrapError(err, "failed to list source indexes").WithCollection(spec.ID())
	}
	if len(indexes) == 0 {
		return nil
	}
	err = c.retry.Do(ctx, func() error {
		return c.target.EnsureIndexes(ctx, spec, indexes)
	})
	if err != nil {
		return errors.WrapError(err, "failed to replicate indexes").WithCollection(spec.ID())
	}
	c.logger.WithContext(ctx).Infof("Replicated %d secondary indexes", len(indexes))
	return nil
}

// writeBatch bulk-upserts one batch. When the bulk write is rejected for
// document shape, each document is retried alone so only the offending ones
// are skipped and recorded.
func (c *Copier) writeBatch(ctx context.Context, spec model.CollectionSpec, batch []bson.M) (written, failed int64, err error) {
	bulkErr := c.retry.Do(ctx, func() error {
		return c.target.BulkUpsert(ctx, spec, batch)
	})
	if bulkErr == nil {
		return int64(len(batch)), 0, nil
	}
	if ctx.Err() != nil {
		return 0, 0, ctx.Err()
	}
	if !errors.IsValidation(bulkErr) {
		return 0, 0, errors.WrapError(bulkErr, "failed to write batch").WithCollection(spec.ID())
	}

	for _, doc := range batch {
		doc := doc
		docErr := c.retry.Do(ctx, func() error {
			return c.target.Upsert(ctx, spec, doc)
		})
		if docErr == nil {
			written++
			continue
		}
		if ctx.Err() != nil {
			return written, failed, ctx.Err()
		}
		if !errors.IsValidation(docErr) {
			return written, failed, errors.WrapError(docErr, "failed to write document").WithCollection(spec.ID())
		}
		id := model.ExtractID(doc)
		c.logger.WithContext(ctx).
			WithFields(map[string]interface{}{"doc_id": model.FormatDocumentID(id)}).
			Errorf("Target rejected document, skipping: %v", docErr)
		_ = c.sink.Record(spec.ID(), id, docErr)
		failed++
	}
	return written, failed, nil
}

// verifySample fingerprints a bounded sample of freshly copied documents.
// Mismatches are reported but never fail the copy; the Verifier owns the
// authoritative comparison.
func (c *Copier) verifySample(ctx context.Context, spec model.CollectionSpec, log logger.Logger) {
	ids, err := c.source.SampleIDs(ctx, spec, c.sampleSize)
	if err != nil || len(ids) == 0 {
		if err != nil {
			log.Warnf("Skipping post-copy sample check, sampling failed: %v", err)
		}
		return
	}

	sourceDocs, err := c.source.FindByIDs(ctx, spec, ids)
	if err != nil {
		log.Warnf("Skipping post-copy sample check, source read failed: %v", err)
		return
	}
	targetDocs, err := c.target.FindByIDs(ctx, spec, ids)
	if err != nil {
		log.Warnf("Skipping post-copy sample check, target read failed: %v", err)
		return
	}

	mismatched := 0
	for key, src := range sourceDocs {
		tgt, ok := targetDocs[key]
		if !ok || !model.FingerprintsEqual(src, tgt) {
			mismatched++
		}
	}
	if mismatched > 0 {
		log.Warnf("Post-copy sample check found %d/%d mismatched documents", mismatched, len(sourceDocs))
		return
	}
	log.Infof("Post-copy sample check passed for %d documents", len(sourceDocs))
}
