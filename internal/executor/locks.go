package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Locker grants exclusive, non-blocking ownership of a market key.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketBusy, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// DistributedLocker adapts a domain.LockManager so several processes
// trading the same account never overlap on a market.
type DistributedLocker struct {
	locks domain.LockManager
	ttl   time.Duration
}

// NewDistributedLocker wraps lm. ttl bounds how long a crashed holder can
// keep a market locked.
func NewDistributedLocker(lm domain.LockManager, ttl time.Duration) *DistributedLocker {
	return &DistributedLocker{locks: lm, ttl: ttl}
}

func (d *DistributedLocker) TryLock(ctx context.Context, key string) (func(), error) {
	unlock, err := d.locks.Acquire(ctx, "market:"+key, d.ttl)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("%w: %s", domain.ErrMarketBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: acquire lock %s: %w", key, err)
	}
	return unlock, nil
}

// ChainLocker acquires every locker in order, releasing on partial failure.
type ChainLocker []Locker

func (c ChainLocker) TryLock(ctx context.Context, key string) (func(), error) {
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.TryLock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
