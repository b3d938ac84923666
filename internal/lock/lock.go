// Package lock grants short-lived, token-verified exclusive leases on string keys.
//
// A lease is advisory: it serializes callers that go through the same Manager,
// it does not protect data from writers that bypass it. Callers that mutate
// shared state must still re-check that state inside their own transaction.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Lease is temporary ownership of a key.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the lease has lapsed at now.
func (l Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// AcquireOptions bound how long Acquire may wait. The first attempt is made
// immediately; each of the MaxRetries further attempts follows a RetryDelay
// pause, so the worst-case wait is about RetryDelay * MaxRetries.
type AcquireOptions struct {
	TTL        time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

// DefaultAcquireOptions are tuned for the slot-claim path.
var DefaultAcquireOptions = AcquireOptions{
	TTL:        30 * time.Second,
	RetryDelay: 50 * time.Millisecond,
	MaxRetries: 20,
}

// Manager is implemented by every lease store. All methods are safe for
// concurrent use.
//
// Release and Extend never fail because of a missing or foreign lease: they
// report false instead, so cleanup paths can call them unconditionally. The
// error return is reserved for the backing store being unreachable.
//
// IsLocked and Info are for introspection only; checking and then acting on
// the result is racy. Only Acquire provides mutual exclusion.
type Manager interface {
	Acquire(ctx context.Context, key string, opts AcquireOptions) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) (bool, error)
	Extend(ctx context.Context, key, token string, additional time.Duration) (bool, error)
	IsLocked(ctx context.Context, key string) (bool, error)
	Info(ctx context.Context, key string) (*Lease, error)
}

// retry runs attempt until it reports success, the retry budget is spent or
// ctx ends. Both managers share it so their waiting behaviour is identical.
func retry(ctx context.Context, opts AcquireOptions, attempt func() (bool, error)) (bool, error) {
	for i := 0; ; i++ {
		ok, err := attempt()
		if err != nil || ok {
			return ok, err
		}
		if i >= opts.MaxRetries {
			return false, nil
		}

		timer := time.NewTimer(opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}
