package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrPoolFull is returned when the job queue has no free slot.
	ErrPoolFull = errors.New("worker queue is full")

	// ErrPoolClosed is returned for submissions after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Job is a unit of background work run by a WorkerPool.
type Job func()

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded queue.
type WorkerPool struct {
	queue chan Job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts workers goroutines reading from a queue of queueSize slots.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &WorkerPool{queue: make(chan Job, queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.queue {
				job()
			}
		}()
	}
	return p
}

// Submit enqueues job without blocking.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting jobs and waits for queued jobs to finish, or for ctx to be done.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollBackoff returns the delay before poll attempt number attempt (0-based).
// The delay doubles from base and is capped at max.
func PollBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}
