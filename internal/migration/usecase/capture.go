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

// captureState is the lifecycle state of one capture session.
type captureState string

const (
	stateInit      captureState = "init"
	stateStreaming captureState = "streaming"
	statePolling   captureState = "polling"
	stateStopped   captureState = "stopped"
)

// CaptureOptions carries the tunables of a capture worker.
type CaptureOptions struct {
	// PollingInterval is the delay between polling cycles.
	PollingInterval time.Duration
	// CommitInterval is how many streamed events pass between resume token
	// commits. The final commit on shutdown always happens.
	CommitInterval int
	// MaxRestarts bounds consecutive failed re-initializations before the
	// worker escalates the collection to failed.
	MaxRestarts int
	// BatchSize bounds polling reads.
	BatchSize int
	// DeletionSampleSize bounds the per-cycle deletion probe.
	DeletionSampleSize int
	// DeletionSampleForced is the wider probe bound used during force-refresh.
	DeletionSampleForced int
	// ForceRefresh makes the first polling cycle a full fingerprint scan with
	// a near-exhaustive deletion sweep.
	ForceRefresh bool
}

func (o *CaptureOptions) normalize() {
	if o.PollingInterval <= 0 {
		o.PollingInterval = 5 * time.Second
	}
	if o.CommitInterval <= 0 {
		o.CommitInterval = 100
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 5
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.DeletionSampleSize <= 0 {
		o.DeletionSampleSize = 100
	}
	if o.DeletionSampleForced <= 0 {
		o.DeletionSampleForced = 1000
	}
}

// CaptureWorker follows one collection's changes and applies them to the
// target. It prefers the source's live change feed and falls back to
// timestamp polling when the source cannot stream. Session failures trigger
// re-initialization with backoff; too many consecutive failures escalate the
// collection to the failed state without stopping sibling workers.
type CaptureWorker struct {
	source      repository.SourceReader
	checkpoints repository.CheckpointStore
	applier     *Applier
	verifier    *Verifier
	retry       RetryPolicy
	progress    *ProgressAggregator
	bus         eventbus.EventBusInterface
	opts        CaptureOptions
	logger      logger.Logger
}

// NewCaptureWorker wires a capture worker.
func NewCaptureWorker(
	source repository.SourceReader,
	checkpoints repository.CheckpointStore,
	applier *Applier,
	verifier *Verifier,
	retry RetryPolicy,
	progress *ProgressAggregator,
	bus eventbus.EventBusInterface,
	opts CaptureOptions,
	log logger.Logger,
) *CaptureWorker {
	opts.normalize()
	return &CaptureWorker{
		source:      source,
		checkpoints: checkpoints,
		applier:     applier,
		verifier:    verifier,
		retry:       retry,
		progress:    progress,
		bus:         bus,
		opts:        opts,
		logger:      log.WithComponent("capture"),
	}
}

// Run captures changes for one collection until the context is cancelled.
// Cancellation commits a final checkpoint and returns nil. Exceeding the
// restart budget marks the collection failed and returns the last error.
func (w *CaptureWorker) Run(ctx context.Context, spec model.CollectionSpec) error {
	ctx = utils.WithCollection(ctx, spec.ID())
	log := w.logger.WithContext(ctx)
	w.progress.SetState(spec.ID(), model.StateRunning)

	restarts := 0
	forceRefresh := w.opts.ForceRefresh
	for {
		processed, err := w.runSession(ctx, spec, forceRefresh, log)
		forceRefresh = false
		if ctx.Err() != nil {
			log.Infof("Capture stopped (%s)", stateStopped)
			return nil
		}
		if processed > 0 {
			// The session made progress before failing, so the fault is fresh.
			restarts = 0
		}

		restarts++
		if restarts > w.opts.MaxRestarts {
			log.Errorf("Capture failed after %d consecutive restarts: %v", w.opts.MaxRestarts, err)
			w.progress.SetState(spec.ID(), model.StateFailed)
			if w.bus != nil {
				w.bus.PublishAndForget(context.Background(), eventbus.NewBasicEvent(
					eventbus.EventTypeCollectionFailed,
					map[string]interface{}{"collection": spec.ID(), "error": err.Error()},
					"capture"))
			}
			return errors.WrapError(err, "capture worker exhausted restarts").WithCollection(spec.ID())
		}

		delay := w.retry.Delay(restarts)
		log.Warnf("Capture session failed (restart %d/%d in %s): %v", restarts, w.opts.MaxRestarts, delay, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// SyncOnce runs a single reconciliation pass over the collection: a full
// fingerprint scan upserting every differing document, then a wide deletion
// sweep. Used by the one-shot update mode and as the post-copy catch-up.
func (w *CaptureWorker) SyncOnce(ctx context.Context, spec model.CollectionSpec) (int64, error) {
	ctx = utils.WithCollection(ctx, spec.ID())
	log := w.logger.WithContext(ctx)

	checkpoint, err := w.checkpoints.Get(spec.ID())
	if err != nil {
		log.Warnf("Checkpoint unreadable, syncing from scratch: %v", err)
		checkpoint = model.Checkpoint{CollectionID: spec.ID()}
	}

	processed, err := w.refreshCycle(ctx, spec, &checkpoint, log)
	if err != nil {
		return processed, err
	}

	w.fillCounters(spec.ID(), &checkpoint)
	if commitErr := w.checkpoints.Commit(spec.ID(), checkpoint); commitErr != nil {
		log.Warnf("Failed to commit sync checkpoint: %v", commitErr)
	} else {
		w.notifyCheckpoint(spec.ID(), checkpoint)
	}
	return processed, nil
}

// runSession performs one init-to-disconnect capture session and returns the
// number of events it applied.
func (w *CaptureWorker) runSession(ctx context.Context, spec model.CollectionSpec, forceRefresh bool, log logger.Logger) (int64, error) {
	checkpoint, err := w.checkpoints.Get(spec.ID())
	if err != nil {
		log.Warnf("Checkpoint unreadable, capturing from scratch: %v", err)
		checkpoint = model.Checkpoint{CollectionID: spec.ID()}
	}
	if forceRefresh {
		// Resetting the stored record keeps the regression guard from
		// rejecting the post-refresh commit.
		if resetErr := w.checkpoints.Reset(spec.ID()); resetErr != nil {
			log.Warnf("Failed to reset checkpoint for refresh: %v", resetErr)
		}
		checkpoint.ResumeToken = nil
		checkpoint.LastTimestamp = time.Time{}
	}

	stream, err := w.source.Watch(ctx, spec, checkpoint.ResumeToken)
	switch {
	case err == nil:
		log.Infof("Capture session entering %s state", stateStreaming)
		return w.streamLoop(ctx, spec, stream, checkpoint, log)
	case errors.IsCaptureDisconnect(err):
		log.Infof("Change streams unavailable, capture session entering %s state", statePolling)
		return w.pollLoop(ctx, spec, checkpoint, forceRefresh, log)
	default:
		return 0, errors.WrapError(err, "failed to initialize capture").WithCollection(spec.ID())
	}
}

// streamLoop consumes the live change feed, applying events in feed order and
// committing the resume token every CommitInterval events plus once on stop.
func (w *CaptureWorker) streamLoop(ctx context.Context, spec model.CollectionSpec, stream repository.ChangeStream, checkpoint model.Checkpoint, log logger.Logger) (int64, error) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stream.Close(closeCtx)
	}()

	var processed int64
	sinceCommit := 0
	commit := func() {
		checkpoint.ResumeToken = stream.ResumeToken()
		w.fillCounters(spec.ID(), &checkpoint)
		if err := w.checkpoints.Commit(spec.ID(), checkpoint); err != nil {
			log.Warnf("Failed to commit stream checkpoint: %v", err)
		} else {
			w.notifyCheckpoint(spec.ID(), checkpoint)
		}
		sinceCommit = 0
	}

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				if processed > 0 {
					commit()
				}
				return processed, ctx.Err()
			}
			if processed > 0 {
				commit()
			}
			return processed, err
		}

		if err := w.applier.Apply(ctx, spec, *event); err != nil {
			return processed, err
		}
		processed++
		sinceCommit++
		if !event.SourceTimestamp.IsZero() {
			checkpoint.LastTimestamp = event.SourceTimestamp
		}
		if sinceCommit >= w.opts.CommitInterval {
			commit()
		}
	}
}

// pollLoop runs timer-driven polling cycles until cancellation or a failed
// cycle. The first cycle may be a force refresh.
func (w *CaptureWorker) pollLoop(ctx context.Context, spec model.CollectionSpec, checkpoint model.Checkpoint, forceRefresh bool, log logger.Logger) (int64, error) {
	// Collections without a modification timestamp are captured by full
	// fingerprint scans instead of timestamp paging.
	usesTimestamps, err := w.sourceHasTimestamps(ctx, spec)
	if err != nil {
		return 0, err
	}
	if !usesTimestamps {
		log.Warnf("Documents carry no %s field, polling with full fingerprint scans", model.UpdatedAtField)
	}

	var processed int64
	first := true
	ticker := time.NewTicker(w.opts.PollingInterval)
	defer ticker.Stop()

	for {
		var n int64
		var cycleErr error
		switch {
		case first && forceRefresh, !usesTimestamps:
			n, cycleErr = w.refreshCycle(ctx, spec, &checkpoint, log)
		default:
			n, cycleErr = w.pollCycle(ctx, spec, &checkpoint)
		}
		first = false
		processed += n
		if cycleErr != nil {
			return processed, cycleErr
		}

		w.fillCounters(spec.ID(), &checkpoint)
		if err := w.checkpoints.Commit(spec.ID(), checkpoint); err != nil {
			log.Warnf("Failed to commit polling checkpoint: %v", err)
		} else {
			w.notifyCheckpoint(spec.ID(), checkpoint)
		}

		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollCycle captures one round of timestamp-based changes and samples for
// deletions when the target has grown past the source.
func (w *CaptureWorker) pollCycle(ctx context.Context, spec model.CollectionSpec, checkpoint *model.Checkpoint) (int64, error) {
	var processed int64
	since := checkpoint.LastTimestamp
	afterID := ""

	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		var docs []bson.M
		err := w.retry.Do(ctx, func() error {
			var readErr error
			docs, readErr = w.source.ChangedSince(ctx, spec, since, afterID, w.opts.BatchSize)
			return readErr
		})
		if err != nil {
			return processed, errors.WrapError(err, "failed to poll changed documents").WithCollection(spec.ID())
		}
		if len(docs) == 0 {
			break
		}

		events := make([]model.ChangeEvent, 0, len(docs))
		for _, doc := range docs {
			ts, _ := model.DocumentTimestamp(doc)
			events = append(events, model.ChangeEvent{
				CollectionID:    spec.ID(),
				Operation:       model.OperationReplace,
				DocumentID:      model.ExtractID(doc),
				FullDocument:    doc,
				SourceTimestamp: ts,
			})
		}
		applied, err := w.applier.ApplyBatch(ctx, spec, events)
		processed += int64(applied)
		if err != nil {
			return processed, err
		}

		// Batches come back ordered by (timestamp, _id), so the last document
		// is the paging cursor. Many documents may share one timestamp; the id
		// tie-break keeps the boundary from being skipped.
		last := docs[len(docs)-1]
		if ts, ok := model.DocumentTimestamp(last); ok {
			since = ts
		}
		afterID = model.FormatDocumentID(model.ExtractID(last))
		if since.After(checkpoint.LastTimestamp) {
			checkpoint.LastTimestamp = since
		}
		if len(docs) < w.opts.BatchSize {
			break
		}
	}

	n, err := w.sweepDeletions(ctx, spec, w.opts.DeletionSampleSize)
	processed += n
	return processed, err
}

// refreshCycle walks the whole source comparing fingerprints against the
// target, upserting every differing document, then runs a wide deletion
// sweep. Used on force refresh and for collections without timestamps.
func (w *CaptureWorker) refreshCycle(ctx context.Context, spec model.CollectionSpec, checkpoint *model.Checkpoint, log logger.Logger) (int64, error) {
	var processed int64
	afterID := ""
	var lastTS time.Time

	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		var batch []bson.M
		err := w.retry.Do(ctx, func() error {
			var readErr error
			batch, readErr = w.source.NextBatch(ctx, spec, afterID, w.opts.BatchSize)
			return readErr
		})
		if err != nil {
			return processed, errors.WrapError(err, "failed to scan source batch").WithCollection(spec.ID())
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]interface{}, 0, len(batch))
		for _, doc := range batch {
			ids = append(ids, model.ExtractID(doc))
		}
		targetDocs, err := w.applier.target.FindByIDs(ctx, spec, ids)
		if err != nil {
			return processed, errors.WrapError(err, "failed to read target batch").WithCollection(spec.ID())
		}

		var events []model.ChangeEvent
		for _, doc := range batch {
			key := model.FormatDocumentID(model.ExtractID(doc))
			if tgt, ok := targetDocs[key]; ok && model.FingerprintsEqual(doc, tgt) {
				continue
			}
			ts, _ := model.DocumentTimestamp(doc)
			events = append(events, model.ChangeEvent{
				CollectionID:    spec.ID(),
				Operation:       model.OperationReplace,
				DocumentID:      model.ExtractID(doc),
				FullDocument:    doc,
				SourceTimestamp: ts,
			})
			if ts.After(lastTS) {
				lastTS = ts
			}
		}
		applied, err := w.applier.ApplyBatch(ctx, spec, events)
		processed += int64(applied)
		if err != nil {
			return processed, err
		}
		afterID = model.FormatDocumentID(model.ExtractID(batch[len(batch)-1]))
	}

	if !lastTS.IsZero() && lastTS.After(checkpoint.LastTimestamp) {
		checkpoint.LastTimestamp = lastTS
	}
	log.Infof("Refresh scan applied %d documents", processed)

	n, err := w.sweepDeletions(ctx, spec, w.opts.DeletionSampleForced)
	processed += n
	return processed, err
}

// sweepDeletions updates the observed counts and, when the target holds more
// documents than the source, deletes a bounded sample of the documents the
// source no longer has.
func (w *CaptureWorker) sweepDeletions(ctx context.Context, spec model.CollectionSpec, bound int) (int64, error) {
	var sourceCount, targetCount int64
	err := w.retry.Do(ctx, func() error {
		var countErr error
		sourceCount, countErr = w.source.Count(ctx, spec)
		return countErr
	})
	if err != nil {
		return 0, errors.WrapError(err, "failed to count source documents").WithCollection(spec.ID())
	}
	err = w.retry.Do(ctx, func() error {
		var countErr error
		targetCount, countErr = w.applier.target.Count(ctx, spec)
		return countErr
	})
	if err != nil {
		return 0, errors.WrapError(err, "failed to count target documents").WithCollection(spec.ID())
	}
	w.progress.SetCounts(spec.ID(), sourceCount, targetCount)

	if targetCount <= sourceCount {
		return 0, nil
	}

	deleted, err := w.verifier.SampleDeletions(ctx, spec, bound)
	if err != nil {
		return 0, err
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	events := make([]model.ChangeEvent, 0, len(deleted))
	for _, id := range deleted {
		events = append(events, model.ChangeEvent{
			CollectionID: spec.ID(),
			Operation:    model.OperationDelete,
			DocumentID:   id,
		})
	}
	applied, err := w.applier.ApplyBatch(ctx, spec, events)
	return int64(applied), err
}

// sourceHasTimestamps probes one document for the modification timestamp
// field. Empty collections poll as if timestamps were present.
func (w *CaptureWorker) sourceHasTimestamps(ctx context.Context, spec model.CollectionSpec) (bool, error) {
	var batch []bson.M
	err := w.retry.Do(ctx, func() error {
		var readErr error
		batch, readErr = w.source.NextBatch(ctx, spec, "", 1)
		return readErr
	})
	if err != nil {
		return false, errors.WrapError(err, "failed to probe for timestamp field").WithCollection(spec.ID())
	}
	if len(batch) == 0 {
		return true, nil
	}
	_, ok := model.DocumentTimestamp(batch[0])
	return ok, nil
}

// notifyCheckpoint announces a durable checkpoint commit on the bus.
func (w *CaptureWorker) notifyCheckpoint(collectionID string, checkpoint model.Checkpoint) {
	if w.bus == nil {
		return
	}
	w.bus.PublishAndForget(context.Background(), eventbus.NewBasicEvent(
		eventbus.EventTypeCheckpointCommitted,
		map[string]interface{}{
			"collection":     collectionID,
			"migrated_docs":  checkpoint.MigratedDocs,
			"last_timestamp": checkpoint.LastTimestamp,
		},
		"capture"))
}

// fillCounters copies the aggregator's counters into the checkpoint so a
// restart reports accurate totals.
func (w *CaptureWorker) fillCounters(collectionID string, checkpoint *model.Checkpoint) {
	rec := w.progress.Record(collectionID)
	checkpoint.MigratedDocs = rec.MigratedDocs
	checkpoint.UpdatesApplied = rec.UpdatesApplied
	checkpoint.DeletionsApplied = rec.DeletionsApplied
	checkpoint.UpdatedAt = time.Now().UTC()
}
