package lock

import (
	"context"
	"fmt"
)

// ReleaseFailed is called when a scoped lease could not be released. The
// lease still expires on its own after its TTL.
type ReleaseFailed func(key string, err error)

// WithLock acquires key, runs fn and releases the lease on every exit path.
// fn receives a context that ends when the lease's TTL elapses, so work that
// outlives its lease is cancelled instead of running unprotected.
//
// It returns ErrNotAcquired when the retry budget is exhausted.
func WithLock(ctx context.Context, m Manager, key string, opts AcquireOptions, onReleaseErr ReleaseFailed, fn func(ctx context.Context) error) error {
	token, ok, err := m.Acquire(ctx, key, opts)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return ErrNotAcquired
	}

	defer func() {
		// Release even if the caller's context was cancelled mid-flight.
		released, err := m.Release(context.WithoutCancel(ctx), key, token)
		if err == nil && !released {
			err = fmt.Errorf("lease %s expired before release", key)
		}
		if err != nil && onReleaseErr != nil {
			onReleaseErr(key, err)
		}
	}()

	leaseCtx, cancel := context.WithTimeout(ctx, opts.TTL)
	defer cancel()

	return fn(leaseCtx)
}
