package workers

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of background work. Kind labels the task for logs and
// metrics (for example "summary", "embedding", "memory_extract").
type Task struct {
	ID   string
	Kind string
	Run  func(ctx context.Context) error
}

// Pool runs background tasks on a fixed set of workers with a bounded
// queue. Answering never waits on the pool; tasks are fire-and-forget and
// failures only log.
type Pool struct {
	size    int
	tasks   chan Task
	logger  *slog.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	stopped atomic.Bool

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	queued    atomic.Int32

	// OnDone, when set, observes every finished task. Used to feed metrics.
	OnDone func(kind string, err error, elapsed time.Duration)
}

// Config sizes a pool.
type Config struct {
	Size      int
	QueueSize int
}

// New creates a pool. Call Start before submitting.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   cfg.Size,
		tasks:  make(chan Task, cfg.QueueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers. Safe to call once; later calls are no-ops.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// submitWait bounds how long Submit blocks on a full queue before giving
// up. Long enough to ride out a burst, short enough to never stall a turn.
const submitWait = 500 * time.Millisecond

// Submit enqueues a task, blocking briefly when the queue is full. Returns
// false when the pool is shut down or the queue stays full past the wait;
// the caller treats that as a skipped background step, never an error on
// the main path.
func (p *Pool) Submit(task Task) bool {
	if p.stopped.Load() || task.Run == nil {
		return false
	}

	select {
	case p.tasks <- task:
		p.queued.Add(1)
		return true
	default:
	}

	timer := time.NewTimer(submitWait)
	defer timer.Stop()
	select {
	case p.tasks <- task:
		p.queued.Add(1)
		return true
	case <-timer.C:
		p.dropped.Add(1)
		p.logger.Warn("background queue full, task dropped",
			"task_id", task.ID, "kind", task.Kind)
		return false
	}
}

// Shutdown stops intake and waits for queued tasks to drain, up to the
// context deadline. Tasks still running when the deadline passes are
// cancelled through the pool context.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats reports counters for diagnostics.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.size,
		Queued:    int(p.queued.Load()),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Running:   p.started.Load() && !p.stopped.Load(),
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Size      int
	Queued    int
	Processed uint64
	Failed    uint64
	Dropped   uint64
	Running   bool
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.tasks {
		p.queued.Add(-1)
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.processed.Add(1)
			p.logger.Error("background task panicked",
				"task_id", task.ID, "kind", task.Kind, "panic", r)
		}
	}()

	err := task.Run(p.ctx)
	elapsed := time.Since(start)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("background task failed",
			"task_id", task.ID, "kind", task.Kind,
			"error", err, "elapsed_ms", elapsed.Milliseconds())
	} else {
		p.logger.Debug("background task completed",
			"task_id", task.ID, "kind", task.Kind,
			"elapsed_ms", elapsed.Milliseconds())
	}
	if p.OnDone != nil {
		p.OnDone(task.Kind, err, elapsed)
	}
}

// ParallelProcess runs processor over items with bounded concurrency and
// returns per-item results and errors, index-aligned with the input.
func ParallelProcess[T, R any](ctx context.Context, items []T, limit int, processor func(context.Context, T) (R, error)) ([]R, []error) {
	if limit <= 0 {
		limit = 1
	}
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, data T) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}

			results[idx], errs[idx] = processor(ctx, data)
		}(i, item)
	}
	wg.Wait()
	return results, errs
}
