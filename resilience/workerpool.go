package resilience

import (
	"context"
	"sync"
	"time"
)

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	// Name identifies the guarded dependency in logs and metrics.
	Name string

	// Workers is the number of worker goroutines.
	// Default: 4
	Workers int

	// QueueSize is the capacity of the pending-job queue.
	// Default: 2 * Workers
	QueueSize int

	// QueueTimeout is the maximum time to wait for queue space.
	// Default: 0 (no waiting, fail immediately)
	QueueTimeout time.Duration
}

type workerJob struct {
	ctx    context.Context
	op     func(context.Context) (any, error)
	result chan workerResult
}

type workerResult struct {
	value any
	err   error
}

// WorkerPool is the worker-pool realization of the bulkhead: a bounded set
// of workers drains a bounded job queue, isolating slow or blocking work so
// one dependency cannot starve the others. Unlike Bulkhead, submitted
// operations run on pool goroutines rather than the caller's.
type WorkerPool struct {
	config WorkerPoolConfig

	jobs chan workerJob
	wg   sync.WaitGroup

	// closeMu serializes submissions against Close so no job is ever sent
	// on a closed queue.
	closeMu sync.RWMutex
	closed  bool

	mu         sync.Mutex
	active     int
	successful int64
	failed     int64
	rejected   int64
}

// NewWorkerPool creates a worker pool and starts its workers.
func NewWorkerPool(config WorkerPoolConfig) *WorkerPool {
	// Apply defaults
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 2 * config.Workers
	}

	wp := &WorkerPool{
		config: config,
		jobs:   make(chan workerJob, config.QueueSize),
	}

	wp.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go wp.worker()
	}

	return wp
}

// Name returns the configured dependency name.
func (wp *WorkerPool) Name() string {
	return wp.config.Name
}

// Submit enqueues the operation and waits for its result. If the queue
// cannot accept the job within QueueTimeout, ErrBulkheadFull is returned
// and the operation is never run.
func (wp *WorkerPool) Submit(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	job := workerJob{
		ctx:    ctx,
		op:     op,
		result: make(chan workerResult, 1),
	}

	if err := wp.enqueue(ctx, job); err != nil {
		return nil, err
	}

	select {
	case res := <-job.result:
		return res.value, res.err
	case <-ctx.Done():
		// The job may still run; its result lands in the buffered channel.
		return nil, ctx.Err()
	}
}

// Execute runs the operation on the pool, discarding its value.
func (wp *WorkerPool) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := wp.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	})
	return err
}

func (wp *WorkerPool) enqueue(ctx context.Context, job workerJob) error {
	wp.closeMu.RLock()
	defer wp.closeMu.RUnlock()

	if wp.closed {
		return ErrWorkerPoolClosed
	}

	// Fast path: queue has room
	select {
	case wp.jobs <- job:
		return nil
	default:
	}

	if wp.config.QueueTimeout <= 0 {
		wp.mu.Lock()
		wp.rejected++
		wp.mu.Unlock()
		return ErrBulkheadFull
	}

	// Wait for queue space
	timer := time.NewTimer(wp.config.QueueTimeout)
	defer timer.Stop()

	select {
	case wp.jobs <- job:
		return nil
	case <-timer.C:
		wp.mu.Lock()
		wp.rejected++
		wp.mu.Unlock()
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.jobs {
		wp.run(job)
	}
}

func (wp *WorkerPool) run(job workerJob) {
	// Don't start work the submitter already gave up on.
	if err := job.ctx.Err(); err != nil {
		job.result <- workerResult{err: err}
		return
	}

	wp.mu.Lock()
	wp.active++
	wp.mu.Unlock()

	value, err := job.op(job.ctx)

	wp.mu.Lock()
	wp.active--
	if err != nil {
		wp.failed++
	} else {
		wp.successful++
	}
	wp.mu.Unlock()

	job.result <- workerResult{value: value, err: err}
}

// Close stops accepting new work, drains the queue, and joins the workers.
// It is safe to call more than once.
func (wp *WorkerPool) Close() {
	wp.closeMu.Lock()
	if wp.closed {
		wp.closeMu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.closeMu.Unlock()

	wp.wg.Wait()
}

// Metrics returns current worker pool metrics.
func (wp *WorkerPool) Metrics() WorkerPoolMetrics {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	return WorkerPoolMetrics{
		Workers:       wp.config.Workers,
		QueueDepth:    len(wp.jobs),
		QueueCapacity: cap(wp.jobs),
		Active:        wp.active,
		Successful:    wp.successful,
		Failed:        wp.failed,
		Rejected:      wp.rejected,
	}
}

// WorkerPoolMetrics contains worker pool statistics.
type WorkerPoolMetrics struct {
	Workers       int
	QueueDepth    int
	QueueCapacity int
	Active        int
	Successful    int64
	Failed        int64
	Rejected      int64
}
