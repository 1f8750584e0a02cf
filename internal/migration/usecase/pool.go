package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/logger"
	"mongomirror/internal/shared/utils"
)

// CapturePool runs capture workers over a set of collections with a bounded
// number of goroutines. With one worker per collection (the auto sizing) every
// collection is captured continuously; with fewer workers, waiting collections
// start as soon as a worker's collection fails permanently. A per-collection
// lock guarantees a collection is never captured by two workers at once.
type CapturePool struct {
	worker *CaptureWorker
	size   int
	grace  time.Duration
	locks  *kmutex.Kmutex
	logger logger.Logger

	mu       sync.Mutex
	failures []error
}

// NewCapturePool wires a pool of size workers sharing one capture worker.
func NewCapturePool(worker *CaptureWorker, size int, grace time.Duration, log logger.Logger) *CapturePool {
	if size <= 0 {
		size = 1
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &CapturePool{
		worker: worker,
		size:   size,
		grace:  grace,
		locks:  kmutex.New(),
		logger: log.WithComponent("capture_pool"),
	}
}

// Run captures all collections until the context is cancelled. After
// cancellation it waits up to the grace period for workers to commit their
// final checkpoints. Returns the first permanent per-collection failure, if
// any; a clean shutdown returns nil.
func (p *CapturePool) Run(ctx context.Context, specs []model.CollectionSpec) error {
	size := p.size
	if size > len(specs) {
		size = len(specs)
	}
	p.logger.Infof("Starting capture pool: %d workers over %d collections", size, len(specs))

	queue := make(chan model.CollectionSpec, len(specs))
	for _, spec := range specs {
		queue <- spec
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for spec := range queue {
				if ctx.Err() != nil {
					return
				}
				p.capture(ctx, workerID, spec)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(p.grace):
			p.logger.Warnf("Shutdown grace period of %s elapsed with capture workers still running", p.grace)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failures) > 0 {
		return p.failures[0]
	}
	return nil
}

func (p *CapturePool) capture(ctx context.Context, workerID int, spec model.CollectionSpec) {
	p.locks.Lock(spec.ID())
	defer p.locks.Unlock(spec.ID())

	ctx = utils.WithCollection(ctx, spec.ID())
	p.logger.WithContext(ctx).
		WithFields(map[string]interface{}{"worker": workerID}).
		Info("Worker picked up collection")

	if err := p.worker.Run(ctx, spec); err != nil {
		p.mu.Lock()
		p.failures = append(p.failures, err)
		p.mu.Unlock()
	}
}
