package typings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/typewatch/typewatch/pkg/telemetry"
)

// ErrQueueRunning is returned when Run is called on a queue that already has a worker.
var ErrQueueRunning = errors.New("queue worker already running")

// Job is a unit of work executed by the queue worker.
type Job func(ctx context.Context)

type queuedJob struct {
	job  Job
	done chan struct{}
}

// Queue is an unbounded FIFO with a single worker. Every package-manager
// batch runs through one Queue so that no two commands ever overlap.
type Queue struct {
	metrics *telemetry.Metrics

	signal chan struct{}

	// mu protects jobs, running and closed
	mu      sync.Mutex
	jobs    []queuedJob
	running bool
	closed  bool
}

// NewQueue creates an empty queue. Call Run to start the worker.
func NewQueue(metrics *telemetry.Metrics) *Queue {
	return &Queue{
		metrics: metrics,
		signal:  make(chan struct{}, 1),
	}
}

// Submit appends job to the queue. The returned channel is closed once the
// job has finished, or once the queue has shut down without running it.
func (q *Queue) Submit(job Job) <-chan struct{} {
	done := make(chan struct{})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		close(done)
		return done
	}
	q.jobs = append(q.jobs, queuedJob{job: job, done: done})
	depth := len(q.jobs)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return done
}

// Len returns the number of jobs waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Run executes jobs one at a time, in submission order, until ctx is
// cancelled. Jobs still pending at that point are dropped. Run logs through
// the logger carried by ctx, see telemetry.FromContext.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrQueueRunning
	}
	q.running = true
	q.mu.Unlock()

	logger := telemetry.FromContext(ctx).NewComponentLogger("queue")
	defer q.shutdown(logger)

	for {
		if ctx.Err() != nil {
			return nil
		}

		item, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.signal:
			}
			continue
		}

		q.execute(ctx, logger, item)
	}
}

func (q *Queue) next() (queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return queuedJob{}, false
	}
	item := q.jobs[0]
	q.jobs[0] = queuedJob{}
	q.jobs = q.jobs[1:]
	q.metrics.SetQueueDepth(len(q.jobs))
	return item, true
}

func (q *Queue) execute(ctx context.Context, logger *telemetry.Logger, item queuedJob) {
	defer close(item.done)
	defer func() {
		if r := recover(); r != nil {
			logger.WithError(fmt.Errorf("panic: %v", r)).Error("Queue job panicked")
		}
	}()
	item.job(ctx)
}

func (q *Queue) shutdown(logger *telemetry.Logger) {
	q.mu.Lock()
	pending := q.jobs
	q.jobs = nil
	q.closed = true
	q.mu.Unlock()

	q.metrics.SetQueueDepth(0)

	if len(pending) > 0 {
		logger.WithField("dropped", len(pending)).Warn("Queue stopped with pending jobs")
	}
	for _, item := range pending {
		close(item.done)
	}
}
