// Package parallel provides the fan-out/fan-in helpers used by volume
// construction and slice sampling. Work is split into disjoint index ranges,
// run on a bounded number of goroutines and joined before returning.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the range length below which For stops splitting.
const DefaultThreshold = 1000

// Pool bounds the goroutines used by one fan-out call.
type Pool struct {
	workers   int
	threshold int
}

// New creates a pool. Non-positive values select runtime.NumCPU() workers
// and DefaultThreshold.
func New(workers, threshold int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Pool{workers: workers, threshold: threshold}
}

// Workers returns the concurrency limit of the pool.
func (p *Pool) Workers() int { return p.workers }

// Threshold returns the leaf range length of the pool.
func (p *Pool) Threshold() int { return p.threshold }

// For calls fn over [0, n) split recursively in halves until each range holds
// at most Threshold elements. Ranges are disjoint, so fn may write to
// per-index storage without locking. Leaves not yet started when ctx is
// cancelled are skipped and ctx.Err() is returned.
func (p *Pool) For(ctx context.Context, n int, fn func(lo, hi int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	if n <= p.threshold || p.workers == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(0, n)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var split func(lo, hi int)
	split = func(lo, hi int) {
		if hi-lo <= p.threshold {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				fn(lo, hi)
				return nil
			})
			return
		}
		mid := lo + (hi-lo)/2
		split(lo, mid)
		split(mid, hi)
	}
	split(0, n)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Each calls fn once per index in [0, n) with at most Workers calls running
// at a time. The first error cancels the context passed to the remaining
// calls and is returned.
func (p *Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
