// Package worker provides a small bounded worker pool. pkg/sync uses it to
// fetch missing BLOBs from a peer concurrently without unbounded goroutine
// fan-out.
package worker

import (
	"context"
	"sync"
)

// DefaultConcurrency is the default number of workers a Pool runs, per
// spec.md §5's concurrency model.
const DefaultConcurrency = 4

// Job is one unit of work submitted to a Pool.
type Job func(ctx context.Context) error

// Pool runs jobs across a fixed number of goroutines, stopping early on the
// first error or on context cancellation.
type Pool struct {
	concurrency int
}

// New returns a Pool with the given concurrency. concurrency <= 0 falls
// back to DefaultConcurrency.
func New(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{concurrency: concurrency}
}

// Run submits jobs to the pool and blocks until all have completed, ctx is
// cancelled, or one job returns an error — whichever comes first. The first
// error observed is returned; jobs still in flight when it occurs are
// allowed to finish but their errors are discarded.
func (p *Pool) Run(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan Job)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	workers := p.concurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := job(ctx); err != nil {
					select {
					case errCh <- err:
						cancel()
					default:
					}
				}
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobCh)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if ctx.Err() != nil && len(errCh) == 0 {
			return ctx.Err()
		}
		return nil
	}
}

// RunEach is a convenience wrapper that runs fn(item) for every item in
// items with the pool's bounded concurrency.
func RunEach[T any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, item T) error) error {
	jobs := make([]Job, len(items))
	for i, item := range items {
		item := item
		jobs[i] = func(ctx context.Context) error { return fn(ctx, item) }
	}
	return p.Run(ctx, jobs)
}
