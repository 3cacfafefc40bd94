package bhtsne

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs fork-join tasks on a fixed number of workers. The goroutine
// that starts a phase counts as one worker, so at most workers-1 extra
// goroutines are alive at any time.
//
// Fork never waits for a free slot: when the pool is saturated the forked
// half runs inline on the calling goroutine. Nested forks therefore cannot
// deadlock, and a Pool with one worker executes everything sequentially in
// index order.
type Pool struct {
	workers int
	slots   *semaphore.Weighted
}

// NewPool creates a pool with the given number of workers.
// workers <= 0 means runtime.GOMAXPROCS(0).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		workers: workers,
		slots:   semaphore.NewWeighted(int64(workers - 1)),
	}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Grain returns the task-size threshold for splitting total units of
// independent work: about ten tasks per worker, and never less than one.
func (p *Pool) Grain(total int) int {
	return max(1, total/(10*p.workers))
}

// Fork runs left and right, concurrently when a worker slot is free, and
// returns once both have finished. The first error wins; when both halves
// run inline, right is skipped if left fails.
func (p *Pool) Fork(left, right func() error) error {
	if p.workers > 1 && p.slots.TryAcquire(1) {
		var g errgroup.Group
		g.Go(func() error {
			defer p.slots.Release(1)
			return runTask(left)
		})
		errRight := runTask(right)
		if err := g.Wait(); err != nil {
			return err
		}
		return errRight
	}

	if err := runTask(left); err != nil {
		return err
	}
	return runTask(right)
}

// Range splits [lo, hi) in halves until a piece holds at most grain
// indices, then calls fn on each piece. Pieces are disjoint and together
// cover [lo, hi) exactly once.
func (p *Pool) Range(lo, hi, grain int, fn func(lo, hi int) error) error {
	if hi <= lo {
		return nil
	}
	grain = max(grain, 1)
	if hi-lo <= grain || p.workers == 1 {
		return runTask(func() error { return fn(lo, hi) })
	}
	mid := lo + (hi-lo)/2
	return p.Fork(
		func() error { return p.Range(lo, mid, grain, fn) },
		func() error { return p.Range(mid, hi, grain, fn) },
	)
}

// runTask calls fn and converts a panic into an error wrapping ErrTaskPanic.
func runTask(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return fn()
}
