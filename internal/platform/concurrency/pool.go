// Package concurrency bounds how many calls run against a shared resource.
package concurrency

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool hands out a fixed number of permits. Callers beyond the limit wait for
// a permit until their context ends; they are never rejected outright.
type Pool struct {
	sem     *semaphore.Weighted
	size    int64
	timeout time.Duration
}

// NewPool returns a pool of size permits. Each call made through Do runs
// under timeout when it is positive.
func NewPool(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		timeout: timeout,
	}
}

// Do runs fn while holding a permit. A call that outlives the pool timeout
// sees its context cancelled with context.DeadlineExceeded.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// Size is the number of permits.
func (p *Pool) Size() int { return int(p.size) }
