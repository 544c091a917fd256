// Package tasks runs best-effort background work with bounded retries.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
)

var errRunnerClosed = errors.New("task runner is shut down")

type job struct {
	name string
	task core.Task
}

// Runner executes enqueued tasks on a fixed pool of workers.
// A failing task is retried up to MaxAttempts times, waiting attempt*BaseBackoff in between.
type Runner struct {
	queue       chan job
	logger      core.Logger
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup // workers
	pending sync.WaitGroup // queued or running tasks
	stop    chan struct{}
}

var _ core.TaskQueue = (*Runner)(nil)

func NewRunner(logger core.Logger, conf *core.Config) *Runner {
	c := conf.Tasks
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}

	r := &Runner{
		queue:       make(chan job, c.QueueSize),
		logger:      logger,
		maxAttempts: c.MaxAttempts,
		backoff:     c.BaseBackoff,
		timeout:     c.Timeout,
		stop:        make(chan struct{}),
	}
	r.wg.Add(c.Workers)
	for i := 0; i < c.Workers; i++ {
		go r.work()
	}
	return r
}

// Enqueue schedules task without blocking. It reports false if the queue is full or the runner shut down.
func (r *Runner) Enqueue(name string, task core.Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn(fmt.Sprintf("task %s dropped", name), errRunnerClosed)
		return false
	}

	r.pending.Add(1)
	select {
	case r.queue <- job{name: name, task: task}:
		return true
	default:
		r.pending.Done()
		r.logger.Warn(fmt.Sprintf("task %s dropped: queue full", name))
		return false
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(j)
	}
}

func (r *Runner) run(j job) {
	defer r.pending.Done()
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = r.attempt(j); err == nil {
			return
		}
		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-r.stop:
			// shutting down: give up on remaining retries
			attempt = r.maxAttempts
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	r.logger.Error(fmt.Sprintf("task %s failed", j.name), err)
}

func (r *Runner) attempt(j job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()
	ctx, cancel := core.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return j.task(ctx)
}

// Shutdown stops accepting tasks and waits for queued ones to finish, or for ctx to be done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(r.stop)
		return errors.Wrap(ctx.Err(), "draining tasks")
	}
}

// Wait blocks until every task enqueued so far has run, or ctx is done. The runner stays usable.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for tasks")
	}
}
