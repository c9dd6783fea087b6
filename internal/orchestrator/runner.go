package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runner schedules dispatch work behind a concurrency gate so the batch
// never exceeds its fan-out limit against the external service.
type runner struct {
	ctx context.Context
	eg  *errgroup.Group
	sem chan struct{}
}

func newRunner(parent context.Context, maxConcurrency int) *runner {
	eg, ctx := errgroup.WithContext(parent)
	return &runner{
		ctx: ctx,
		eg:  eg,
		sem: make(chan struct{}, maxConcurrency),
	}
}

func (r *runner) Go(fn func() error) {
	r.eg.Go(func() error {
		r.sem <- struct{}{}        // acquire
		defer func() { <-r.sem }() // release
		return fn()
	})
}

func (r *runner) Wait() error { return r.eg.Wait() }
