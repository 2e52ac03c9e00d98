// Package queue serializes update handling per user: each user gets a
// FIFO lane so two of their messages never interleave, while a global
// semaphore bounds how many users are served at once.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Job is one unit of inbound work bound to a user.
type Job struct {
	UserID int64
	Run    func(ctx context.Context)
}

// Queue manages per-user lanes with a global concurrency semaphore.
type Queue struct {
	lanes     map[int64]chan Job
	semaphore *semaphore.Weighted
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates a Queue allowing up to maxConcurrent jobs to execute
// simultaneously across all user lanes.
func New(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[int64]chan Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for
// in-flight jobs to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[int64]chan Job)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a job to the user's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is
// full.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[job.UserID]
	if !exists {
		lane = make(chan Job, 100)
		q.lanes[job.UserID] = lane
		q.wg.Add(1)
		go q.processLane(job.UserID, lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for user %d", job.UserID)
	}
}

// processLane drains a single user lane, acquiring a semaphore slot
// before running the job synchronously. Strict FIFO within a user, the
// semaphore limits cross-user parallelism.
func (q *Queue) processLane(userID int64, lane chan Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.active.Add(1)
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("handler panic", "user_id", userID, "panic", r)
					}
				}()
				job.Run(q.ctx)
			}()
			q.active.Add(-1)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no jobs are actively being processed, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
