package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetsignal/internal/core/ports"
	"meetsignal/pkg/retry"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrStopped   = errors.New("task dispatcher stopped")
)

// Observer receives task outcomes, usually for metrics.
type Observer interface {
	ObserveTask(name, outcome string)
	ObserveTaskRetry(name string)
}

type Config struct {
	Workers     int
	QueueSize   int
	Retry       retry.Config
	TaskTimeout time.Duration
}

// Dispatcher runs tasks on a fixed worker pool with bounded retries. Dispatch
// only enqueues; a full queue is reported to the caller instead of blocking.
type Dispatcher struct {
	cfg      Config
	queue    chan ports.Task
	logger   *zap.SugaredLogger
	observer Observer

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewDispatcher(cfg Config, observer Observer, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:      cfg,
		queue:    make(chan ports.Task, cfg.QueueSize),
		logger:   logger,
		observer: observer,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

var _ ports.TaskDispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(_ context.Context, task ports.Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}

	select {
	case d.queue <- task:
		return nil
	default:
		d.observe(task.Name, "dropped")
		return fmt.Errorf("%w: %s", ErrQueueFull, task.Name)
	}
}

// Stop drains queued tasks and waits for workers until ctx expires, then
// cancels whatever is still running.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.queue {
		d.run(task)
	}
}

func (d *Dispatcher) run(task ports.Task) {
	cfg := d.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		if d.observer != nil {
			d.observer.ObserveTaskRetry(task.Name)
		}
		d.logger.Warnw("task attempt failed, retrying",
			"task", task.Name,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	err := retry.Do(d.ctx, cfg, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
		defer cancel()
		return task.Run(ctx)
	})
	if err != nil {
		d.observe(task.Name, "failed")
		d.logger.Errorw("task failed", "task", task.Name, "error", err)
		return
	}
	d.observe(task.Name, "succeeded")
}

func (d *Dispatcher) observe(name, outcome string) {
	if d.observer != nil {
		d.observer.ObserveTask(name, outcome)
	}
}
