package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// TaskClass separates actions the pool may shed under pressure from actions
// it must never lose.
type TaskClass int

const (
	// ClassDroppable covers forwards and republishes: observable side effects
	// that tolerate loss under backpressure.
	ClassDroppable TaskClass = iota
	// ClassCritical covers handler invocations that mutate aggregate state.
	// Critical tasks are only ever delayed, never dropped.
	ClassCritical
)

// Task is one queued unit of action execution.
type Task func(ctx context.Context)

// WorkerPoolConfig holds sizing for the dispatch worker pool.
type WorkerPoolConfig struct {
	Workers    int
	QueueDepth int
}

// WorkerPool executes dispatched actions on a bounded set of workers so one
// slow HTTP forward cannot starve subsequent messages. Each class has its own
// bounded queue: when the droppable queue is saturated the oldest queued
// droppable task is dropped with a logged warning, while a saturated critical
// queue delays the submitter instead.
type WorkerPool struct {
	workers   int
	critical  chan Task
	droppable chan Task
	quit      chan struct{}
	logger    zerolog.Logger
	wg        sync.WaitGroup
	dropped   atomic.Int64
	shutdown  context.CancelFunc
	stopOnce  sync.Once
}

// NewWorkerPool creates a pool; Start launches the workers.
func NewWorkerPool(cfg WorkerPoolConfig, logger zerolog.Logger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &WorkerPool{
		workers:   cfg.Workers,
		critical:  make(chan Task, cfg.QueueDepth),
		droppable: make(chan Task, cfg.QueueDepth),
		quit:      make(chan struct{}),
		logger:    logger.With().Str("component", "WorkerPool").Logger(),
	}
}

// Start launches the worker goroutines. They run until Stop is called or the
// context is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.shutdown = cancel

	p.logger.Info().Int("worker_count", p.workers).Int("queue_depth", cap(p.critical)).Msg("Starting dispatch workers...")
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(runCtx)
	}
}

// worker drains the critical queue ahead of the droppable queue so state
// mutations are never starved by pending forwards. On a graceful stop the
// worker finishes everything already queued before exiting.
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.critical:
			task(ctx)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			p.drainQueues(ctx)
			return
		case task := <-p.critical:
			task(ctx)
		case task := <-p.droppable:
			task(ctx)
		}
	}
}

// drainQueues runs queued tasks until both queues are empty, critical first.
// A cancelled context aborts the drain; anything still queued is abandoned
// and logged.
func (p *WorkerPool) drainQueues(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			if abandoned := len(p.critical) + len(p.droppable); abandoned > 0 {
				p.logger.Error().Err(ctx.Err()).Int("abandoned_tasks", abandoned).Msg("Stop deadline reached; abandoning queued tasks.")
			}
			return
		}

		select {
		case task := <-p.critical:
			task(ctx)
			continue
		default:
		}

		select {
		case task := <-p.critical:
			task(ctx)
		case task := <-p.droppable:
			task(ctx)
		default:
			return
		}
	}
}

// Submit queues a task for execution. Critical tasks block until queue space
// is available (backpressure delays, never drops them). Droppable tasks that
// find the queue full evict the oldest queued droppable task.
func (p *WorkerPool) Submit(class TaskClass, task Task) {
	if class == ClassCritical {
		p.critical <- task
		return
	}

	for {
		select {
		case p.droppable <- task:
			return
		default:
		}
		select {
		case <-p.droppable:
			p.dropped.Add(1)
			p.logger.Warn().Int64("dropped_total", p.dropped.Load()).Msg("Dispatch queue saturated; dropped oldest queued forward/republish.")
		default:
			// Another goroutine freed or filled space; retry the send.
		}
	}
}

// Dropped reports how many droppable tasks have been shed since start.
func (p *WorkerPool) Dropped() int64 {
	return p.dropped.Load()
}

// Stop signals the workers and waits for them to drain the queues, respecting
// the context deadline. Queued critical tasks are executed before the workers
// exit; only a deadline expiry abandons queued work.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Stopping dispatch workers...")
	p.stopOnce.Do(func() {
		close(p.quit)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("All dispatch workers stopped.")
		return nil
	case <-ctx.Done():
		if p.shutdown != nil {
			p.shutdown()
		}
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for dispatch workers to stop.")
		return ctx.Err()
	}
}
