// Package notify runs fire-and-forget side effects (emails, analytics) off
// the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/logging"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

// Dispatcher is a bounded queue drained by a fixed set of workers. Submit
// never blocks: when the queue is full or the dispatcher has stopped the
// task is dropped and logged.
type Dispatcher struct {
	queue       chan job
	workers     int
	taskTimeout time.Duration
	logger      logging.Logger

	mu      sync.Mutex
	closed  bool
	dropped int64
}

func NewDispatcher(workers, queueSize int, logger logging.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:       make(chan job, queueSize),
		workers:     workers,
		taskTimeout: 30 * time.Second,
		logger:      logger.With("module", "notify"),
	}
}

// Submit queues task and reports whether it was accepted.
func (d *Dispatcher) Submit(name string, task Task) bool {
	d.mu.Lock()
	if d.closed {
		d.dropped++
		d.mu.Unlock()
		d.logger.Warn(context.Background(), "dispatcher stopped, task dropped", "task", name)
		return false
	}
	select {
	case d.queue <- job{name: name, task: task}:
		d.mu.Unlock()
		return true
	default:
		d.dropped++
		d.mu.Unlock()
		d.logger.Warn(context.Background(), "background queue full, task dropped", "task", name)
		return false
	}
}

// Dropped returns how many tasks were rejected so far.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run starts the workers and blocks until ctx is done. Once the workers
// stop, Submit rejects new tasks and whatever is still queued runs before
// Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.drain(ctx)
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case j := <-d.queue:
			d.execute(ctx, j)
		case <-ctx.Done():
			d.drain(ctx)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case j := <-d.queue:
			d.execute(ctx, j)
		default:
			return
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, j job) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(tctx, "background task panicked", "task", j.name, "panic", r)
		}
	}()

	if err := j.task(tctx); err != nil {
		d.logger.Warn(tctx, "background task failed", "task", j.name, "error", err)
	}
}
