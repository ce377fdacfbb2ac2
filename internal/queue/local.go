package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Local after Close.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when the in-process buffer has no room.
	ErrFull = errors.New("queue full")
)

// Local is an in-process queue for single-node deployments and tests.
// Jobs are lost on restart.
type Local struct {
	jobs    chan Job
	workers int

	mu     sync.RWMutex
	closed bool
	timers map[*time.Timer]struct{}
	wg     sync.WaitGroup
}

// NewLocal returns a queue holding up to buffer pending jobs.
func NewLocal(buffer, workers int) *Local {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Local{jobs: make(chan Job, buffer), workers: workers, timers: map[*time.Timer]struct{}{}}
}

// Start launches the workers. They stop when Close is called.
func (l *Local) Start(ctx context.Context, h Handler) {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for job := range l.jobs {
				_ = Dispatch(ctx, h, job)
			}
		}()
	}
}

// Enqueue buffers a job without blocking.
func (l *Local) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

// EnqueueAfter schedules the job on a timer.
func (l *Local) EnqueueAfter(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return l.Enqueue(ctx, job)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		_ = l.Enqueue(context.Background(), job)
	})
	l.timers[t] = struct{}{}
	return nil
}

// Close drops pending timers, drains buffered jobs and waits for the
// workers to finish.
func (l *Local) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	close(l.jobs)
	l.mu.Unlock()
	l.wg.Wait()
}
