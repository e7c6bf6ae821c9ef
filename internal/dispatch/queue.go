// Package dispatch provides the ordered task queue that serializes all
// remote-state-mutating work in ChatBridge.
//
// Exactly one task runs at a time and tasks execute in enqueue order, so two
// relays for the same conversation can never interleave remote calls. The
// queue is unbounded and offers no backpressure; a failing task is logged and
// dropped without affecting later tasks.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/util"
)

// Task is one unit of serialized work.
type Task struct {
	ID         string
	Name       string
	Run        func(ctx context.Context) error
	EnqueuedAt time.Time
}

// Opts holds configuration options for the queue.
type Opts struct {
	MinInterval time.Duration // minimum pause between the end of one task and the start of the next
}

// Option defines a configuration option for the queue.
type Option func(*Opts)

// WithMinInterval enforces a minimum interval between consecutive tasks,
// rate-limiting calls against the remote CRM API.
func WithMinInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.MinInterval = d
	}
}

// Queue is a single-worker FIFO dispatch queue.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pending     []*Task
	stopped     bool
	started     bool
	minInterval time.Duration
	done        chan struct{}
}

// NewQueue creates a queue with the given options. Start must be called
// before enqueued tasks execute.
func NewQueue(opts ...Option) *Queue {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	q := &Queue{
		minInterval: cfg.MinInterval,
		done:        make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	slog.Debug("Queue created", "min_interval", cfg.MinInterval)
	return q
}

// Enqueue appends a task and returns its generated ID. Tasks enqueued after
// Stop are rejected with a warning and never run.
func (q *Queue) Enqueue(name string, run func(ctx context.Context) error) string {
	task := &Task{
		ID:         util.GenerateTaskID(),
		Name:       name,
		Run:        run,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		slog.Warn("Queue.Enqueue: queue stopped, dropping task", "task_id", task.ID, "name", name)
		return task.ID
	}
	q.pending = append(q.pending, task)
	depth := len(q.pending)
	q.mu.Unlock()
	q.cond.Signal()

	slog.Debug("Queue.Enqueue: task enqueued", "task_id", task.ID, "name", name, "depth", depth)
	return task.ID
}

// Depth returns the number of tasks waiting to execute.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the single worker goroutine. Calling Start more than once is
// a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.Stop()
	}()
	go q.run(ctx)
	slog.Info("Queue started", "min_interval", q.minInterval)
}

// Stop halts the worker after the in-flight task completes. Pending tasks are
// discarded; there is no persistence across restarts.
func (q *Queue) Stop() {
	q.mu.Lock()
	started := q.started
	if q.stopped {
		q.mu.Unlock()
		// Another Stop won the race; still wait for the worker to drain.
		if started {
			<-q.done
		}
		return
	}
	q.stopped = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	q.cond.Broadcast()

	// Without a worker there is nothing to wait for.
	if started {
		<-q.done
	}
	slog.Info("Queue stopped", "dropped_tasks", dropped)
}

// run is the worker loop. One task at a time, strict FIFO, failures isolated.
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.execute(ctx, task)

		if q.minInterval > 0 {
			select {
			case <-time.After(q.minInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// execute runs one task, catching and logging failure so one bad event never
// halts the pipeline. No retries: failure is terminal for the task.
func (q *Queue) execute(ctx context.Context, task *Task) {
	waited := time.Since(task.EnqueuedAt)
	slog.Debug("Queue executing task", "task_id", task.ID, "name", task.Name, "queued_for", waited)

	if err := task.Run(ctx); err != nil {
		slog.Error("Queue task failed", "task_id", task.ID, "name", task.Name, "error", err)
		return
	}
	slog.Debug("Queue task done", "task_id", task.ID, "name", task.Name)
}
