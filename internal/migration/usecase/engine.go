package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/eventbus"
	"mongomirror/internal/shared/logger"
	"mongomirror/internal/shared/utils"
)

// Engine drives a run over the configured collections in one of four modes:
// a full migration (copy, catch-up sync, verification), continuous change
// capture, a one-shot update pass, or verification only.
type Engine struct {
	specs       []model.CollectionSpec
	copier      *Copier
	worker      *CaptureWorker
	pool        *CapturePool
	verifier    *Verifier
	progress    *ProgressAggregator
	bus         eventbus.EventBusInterface
	concurrency int
	logger      logger.Logger
}

// NewEngine wires an engine over already-constructed components.
func NewEngine(
	specs []model.CollectionSpec,
	copier *Copier,
	worker *CaptureWorker,
	pool *CapturePool,
	verifier *Verifier,
	progress *ProgressAggregator,
	bus eventbus.EventBusInterface,
	concurrency int,
	log logger.Logger,
) *Engine {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{
		specs:       specs,
		copier:      copier,
		worker:      worker,
		pool:        pool,
		verifier:    verifier,
		progress:    progress,
		bus:         bus,
		concurrency: concurrency,
		logger:      log.WithComponent("engine"),
	}
}

// Migrate bulk-copies every collection, runs a catch-up sync over each, then
// verifies them. Collections are migrated concurrently up to the configured
// limit; one collection's failure does not stop the others, but it does fail
// the run.
func (e *Engine) Migrate(ctx context.Context) error {
	// Collections are independent; a failed one must not cancel its siblings,
	// so the group carries no shared cancellation.
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for _, spec := range e.specs {
		spec := spec
		g.Go(func() error {
			return e.migrateCollection(ctx, spec)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failed := e.progress.Failed(); len(failed) > 0 {
		return fmt.Errorf("migration failed for collections: %v", failed)
	}
	return nil
}

func (e *Engine) migrateCollection(ctx context.Context, spec model.CollectionSpec) error {
	ctx = utils.WithCollection(ctx, spec.ID())
	log := e.logger.WithContext(ctx)

	result, err := e.copier.Run(ctx, spec)
	if err != nil {
		e.fail(spec, err)
		return err
	}
	log.Infof("Copied %d documents (%d failed) in %s", result.RowsCopied, result.RowsFailed, result.Duration)

	// Catch up on changes that happened while the copy ran.
	if _, err := e.worker.SyncOnce(ctx, spec); err != nil {
		e.fail(spec, err)
		return err
	}

	verification, err := e.verifier.Compare(ctx, spec, model.VerifySampled)
	if err != nil {
		e.fail(spec, err)
		return err
	}
	if verification.Status != model.VerificationOK {
		err := fmt.Errorf("post-migration verification reported %s for %s", verification.Status, spec.ID())
		e.fail(spec, err)
		return err
	}

	e.progress.SetState(spec.ID(), model.StateCompleted)
	if e.bus != nil {
		e.bus.PublishAndForget(context.Background(), eventbus.NewBasicEvent(
			eventbus.EventTypeCollectionCompleted,
			map[string]interface{}{
				"collection":  spec.ID(),
				"rows_copied": result.RowsCopied,
				"rows_failed": result.RowsFailed,
			},
			"engine"))
	}
	return nil
}

// Capture runs continuous change capture over every collection until the
// context is cancelled.
func (e *Engine) Capture(ctx context.Context) error {
	return e.pool.Run(ctx, e.specs)
}

// Update runs one reconciliation pass over every collection.
func (e *Engine) Update(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for _, spec := range e.specs {
		spec := spec
		g.Go(func() error {
			cctx := utils.WithCollection(ctx, spec.ID())
			n, err := e.worker.SyncOnce(cctx, spec)
			if err != nil {
				e.fail(spec, err)
				return err
			}
			e.logger.WithContext(cctx).Infof("Update pass applied %d changes", n)
			e.progress.SetState(spec.ID(), model.StateCompleted)
			return nil
		})
	}
	return g.Wait()
}

// Verify compares every collection and returns the per-collection results.
// The returned error is non-nil when any comparison could not complete or
// reported a mismatch.
func (e *Engine) Verify(ctx context.Context, mode model.VerificationMode) ([]model.VerificationResult, error) {
	results := make([]model.VerificationResult, 0, len(e.specs))
	var firstErr error

	for _, spec := range e.specs {
		result, err := e.verifier.Compare(ctx, spec, mode)
		results = append(results, result)
		if err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		if result.Status != model.VerificationOK && firstErr == nil {
			firstErr = fmt.Errorf("verification reported %s for %s", result.Status, spec.ID())
		}
	}
	return results, firstErr
}

func (e *Engine) fail(spec model.CollectionSpec, err error) {
	e.progress.SetState(spec.ID(), model.StateFailed)
	if e.bus != nil {
		e.bus.PublishAndForget(context.Background(), eventbus.NewBasicEvent(
			eventbus.EventTypeCollectionFailed,
			map[string]interface{}{"collection": spec.ID(), "error": err.Error()},
			"engine"))
	}
}
