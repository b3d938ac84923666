package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithLock(t *testing.T) {
	t.Parallel()

	opts := AcquireOptions{TTL: time.Second, RetryDelay: time.Millisecond, MaxRetries: 2}

	t.Run("releases after success", func(t *testing.T) {
		m := NewMemoryManager(nil)
		ran := false

		err := WithLock(context.Background(), m, "k", opts, nil, func(ctx context.Context) error {
			ran = true
			if locked, _ := m.IsLocked(ctx, "k"); !locked {
				t.Fatal("expected key to be locked inside fn")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !ran {
			t.Fatal("expected fn to run")
		}
		if locked, _ := m.IsLocked(context.Background(), "k"); locked {
			t.Fatal("expected lease released after fn")
		}
	})

	t.Run("releases after failure", func(t *testing.T) {
		m := NewMemoryManager(nil)
		boom := errors.New("boom")

		err := WithLock(context.Background(), m, "k", opts, nil, func(context.Context) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected fn error, got %v", err)
		}
		if locked, _ := m.IsLocked(context.Background(), "k"); locked {
			t.Fatal("expected lease released after failed fn")
		}
	})

	t.Run("reports busy", func(t *testing.T) {
		m := NewMemoryManager(nil)
		_, _, _ = m.Acquire(context.Background(), "k", AcquireOptions{TTL: time.Minute})

		called := false
		err := WithLock(context.Background(), m, "k", opts, nil, func(context.Context) error {
			called = true
			return nil
		})
		if !errors.Is(err, ErrNotAcquired) {
			t.Fatalf("expected ErrNotAcquired, got %v", err)
		}
		if called {
			t.Fatal("fn must not run without the lease")
		}
	})

	t.Run("fn context ends with the lease", func(t *testing.T) {
		m := NewMemoryManager(nil)
		short := AcquireOptions{TTL: 20 * time.Millisecond}

		err := WithLock(context.Background(), m, "k", short, nil, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("reports lease lost before release", func(t *testing.T) {
		m := NewMemoryManager(nil)
		short := AcquireOptions{TTL: 10 * time.Millisecond}

		var reported error
		_ = WithLock(context.Background(), m, "k", short, func(_ string, err error) { reported = err }, func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			// someone else takes the expired key
			_, _, _ = m.Acquire(context.Background(), "k", AcquireOptions{TTL: time.Minute})
			return nil
		})
		if reported == nil {
			t.Fatal("expected release failure to be reported")
		}
		if locked, _ := m.IsLocked(context.Background(), "k"); !locked {
			t.Fatal("the new owner's lease must survive the stale release")
		}
	})
}
