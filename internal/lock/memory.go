package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking/internal/clock"
)

// MemoryManager keeps leases in a process-local table. It is only correct
// when every contender for a key lives in the same process.
type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]Lease
	clock  clock.Clock
}

func NewMemoryManager(clk clock.Clock) *MemoryManager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryManager{
		leases: make(map[string]Lease),
		clock:  clk,
	}
}

func (m *MemoryManager) Acquire(ctx context.Context, key string, opts AcquireOptions) (string, bool, error) {
	token := uuid.NewString()

	ok, err := retry(ctx, opts, func() (bool, error) {
		return m.tryAcquire(key, token, opts.TTL), nil
	})
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (m *MemoryManager) tryAcquire(key, token string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if existing, found := m.leases[key]; found && !existing.Expired(now) {
		return false
	}

	m.leases[key] = Lease{Key: key, Token: token, ExpiresAt: now.Add(ttl)}
	return true
}

func (m *MemoryManager) Release(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.leases[key]
	if !found || existing.Token != token {
		return false, nil
	}
	delete(m.leases, key)
	return true, nil
}

func (m *MemoryManager) Extend(_ context.Context, key, token string, additional time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.leases[key]
	if !found || existing.Token != token || existing.Expired(m.clock.Now()) {
		return false, nil
	}
	existing.ExpiresAt = existing.ExpiresAt.Add(additional)
	m.leases[key] = existing
	return true, nil
}

func (m *MemoryManager) IsLocked(ctx context.Context, key string) (bool, error) {
	lease, err := m.Info(ctx, key)
	return lease != nil, err
}

func (m *MemoryManager) Info(_ context.Context, key string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.leases[key]
	if !found || existing.Expired(m.clock.Now()) {
		return nil, nil
	}
	lease := existing
	return &lease, nil
}

// Sweep removes expired leases and returns how many were dropped.
func (m *MemoryManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, lease := range m.leases {
		if lease.Expired(now) {
			delete(m.leases, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *MemoryManager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len reports how many entries, expired or not, the table currently holds.
func (m *MemoryManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}
