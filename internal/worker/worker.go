// Package worker provides a minimal bounded worker pool over a job channel.
package worker

import "context"

type Pool[J any] struct {
	sem  chan struct{}
	jobs chan J
}

// NewPool creates a pool with the given concurrency limit and queue depth.
func NewPool[J any](maxConcurrency, queueDepth int) *Pool[J] {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Pool[J]{
		sem:  make(chan struct{}, maxConcurrency),
		jobs: make(chan J, queueDepth),
	}
}

// Start launches the dispatch loop. Handle runs on its own goroutine per job,
// bounded by the concurrency semaphore. Returns immediately.
func (p *Pool[J]) Start(ctx context.Context, handle func(context.Context, J)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-p.jobs:
				if !ok {
					return
				}
				select {
				case p.sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				go func(j J) {
					defer func() { <-p.sem }()
					handle(ctx, j)
				}(job)
			}
		}
	}()
}

// Enqueue submits a job, blocking until there is queue space or either
// context ends.
func (p *Pool[J]) Enqueue(ctx, poolCtx context.Context, job J) error {
	if ctx == nil {
		ctx = poolCtx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-poolCtx.Done():
		return poolCtx.Err()
	case p.jobs <- job:
		return nil
	}
}

// TryEnqueue submits a job without blocking. Returns false when the queue is
// full.
func (p *Pool[J]) TryEnqueue(job J) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}
