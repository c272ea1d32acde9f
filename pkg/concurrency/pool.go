// Package concurrency runs fan-out work on a bounded pond worker pool.
package concurrency

import (
	"context"
	"errors"
	"sync"
	"time"

	"liqrisk/internal/core"

	"github.com/alitto/pond"
)

// ErrPoolStopped is returned by RunAll after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// PoolConfig sizes a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int           // default 10
	MaxCapacity int           // queued tasks before RunAll blocks, default 100
	IdleTimeout time.Duration // default 60s
}

// WorkerPool is a bounded pool shared by every sweep in the process
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// Stats is a snapshot of pool counters
type Stats struct {
	RunningWorkers int    `json:"running_workers"`
	IdleWorkers    int    `json:"idle_workers"`
	WaitingTasks   uint64 `json:"waiting_tasks"`
	SubmittedTasks uint64 `json:"submitted_tasks"`
	FailedTasks    uint64 `json:"failed_tasks"`
	Capacity       int    `json:"capacity"`
}

// NewWorkerPool starts a pool sized by cfg
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	logger = logger.WithFields(map[string]interface{}{"component": "worker_pool", "pool": cfg.Name})

	return &WorkerPool{
		pool: pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
			pond.MinWorkers(1),
			pond.IdleTimeout(cfg.IdleTimeout),
			pond.Strategy(pond.Balanced()),
			pond.PanicHandler(func(p interface{}) {
				logger.Error("Task panicked", "panic", p)
			}),
		),
		config: cfg,
		logger: logger,
	}
}

// RunAll runs every task on the pool and blocks until all of them have
// returned. The first task error cancels the context handed to the remaining
// tasks and is returned. Tasks that have not started when the context is done
// are skipped and the context error is returned. If the pool stops while
// tasks are being submitted, the rest are not run and ErrPoolStopped is
// returned. A task that panics counts as finished without error; the panic
// is logged.
func (wp *WorkerPool) RunAll(ctx context.Context, tasks []func(ctx context.Context) error) error {
	if wp.pool.Stopped() {
		return ErrPoolStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, task := range tasks {
		task := task
		wg.Add(1)
		submitted := wp.submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			if err := task(ctx); err != nil {
				fail(err)
			}
		})
		if !submitted {
			wg.Done()
			fail(ErrPoolStopped)
			break
		}
	}
	wg.Wait()

	return firstErr
}

// submit blocks until the pool accepts task. It reports false when the pool
// was stopped concurrently, which pond signals with a panic.
func (wp *WorkerPool) submit(task func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	wp.pool.Submit(task)
	return true
}

// Stop waits for queued tasks and stops the workers. Later calls are no-ops.
func (wp *WorkerPool) Stop() {
	if wp.pool.Stopped() {
		return
	}
	wp.pool.StopAndWait()
	wp.logger.Debug("Worker pool stopped")
}

// Stopped reports whether Stop has been called
func (wp *WorkerPool) Stopped() bool {
	return wp.pool.Stopped()
}

// Saturated reports whether the task queue is full
func (wp *WorkerPool) Saturated() bool {
	return wp.pool.WaitingTasks() >= uint64(wp.config.MaxCapacity)
}

// Stats returns a snapshot of the pool counters
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		RunningWorkers: wp.pool.RunningWorkers(),
		IdleWorkers:    wp.pool.IdleWorkers(),
		WaitingTasks:   wp.pool.WaitingTasks(),
		SubmittedTasks: wp.pool.SubmittedTasks(),
		FailedTasks:    wp.pool.FailedTasks(),
		Capacity:       wp.config.MaxCapacity,
	}
}
