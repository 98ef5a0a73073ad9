package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/safe-global/safe-decoder-service/shared/logging"
	"github.com/safe-global/safe-decoder-service/shared/metrics"
	"github.com/safe-global/safe-decoder-service/shared/recovery"
)

// Handler processes one task. A failed task only logs; durability of
// retries comes from the periodic rescans, not from requeueing.
type Handler func(ctx context.Context, args []interface{}) error

// Runner consumes the task queue with a pool of cooperative workers
type Runner struct {
	queue   *Queue
	logger  *logging.Logger
	metrics *metrics.Metrics
	workers int

	mu       sync.RWMutex
	handlers map[string]Handler

	wg sync.WaitGroup
}

// NewRunner creates a worker pool over the queue
func NewRunner(queue *Queue, workers int, logger *logging.Logger, m *metrics.Metrics) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		queue:    queue,
		logger:   logger,
		metrics:  m,
		workers:  workers,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task name
func (r *Runner) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Start launches the workers. They stop when the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
}

// Wait blocks until every worker has stopped
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()

	logger := r.logger.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := r.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("Failed to dequeue task")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		r.process(ctx, task)
	}
}

func (r *Runner) process(ctx context.Context, task *Task) {
	taskCtx := logging.WithTaskInfo(ctx, &logging.TaskInfo{
		Name: task.Name,
		ID:   task.ID,
		Args: task.Args,
	})
	logger := r.logger.WithContext(taskCtx)

	r.mu.RLock()
	handler, ok := r.handlers[task.Name]
	r.mu.RUnlock()
	if !ok {
		logger.Warnf("No handler registered for task %s", task.Name)
		if r.metrics != nil {
			r.metrics.TasksProcessedTotal.WithLabelValues(task.Name, "unknown").Inc()
		}
		return
	}

	started := time.Now()
	err := func() (err error) {
		defer recovery.Recover(&err, func(recovered interface{}, stack []byte) {
			logger.Errorf("Task %s panicked: %v", task.Name, recovered)
		})
		return handler(taskCtx, task.Args)
	}()
	if err != nil {
		logger.WithError(err).Errorf("Task %s failed", task.Name)
		if r.metrics != nil {
			r.metrics.TasksProcessedTotal.WithLabelValues(task.Name, "error").Inc()
		}
		return
	}

	if r.metrics != nil {
		r.metrics.TasksProcessedTotal.WithLabelValues(task.Name, "ok").Inc()
		r.metrics.TaskDuration.WithLabelValues(task.Name).Observe(time.Since(started).Seconds())
	}
	logger.Debugf("Task %s completed", task.Name)
}
