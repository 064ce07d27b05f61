package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"venuebook/internal/domain"
)

type memoryLock struct {
	token     uint64
	expiresAt time.Time
}

// MemoryLocker is a process-local domain.ResourceLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	seq   atomic.Uint64
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock)}
}

func (l *MemoryLocker) tryAcquire(key string, ttl time.Duration) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if cur, held := l.locks[key]; held && now.Before(cur.expiresAt) {
		return 0, false
	}
	token := l.seq.Add(1)
	l.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}
	return token, true
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		if token, ok := l.tryAcquire(key, ttl); ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					defer l.mu.Unlock()
					if cur, held := l.locks[key]; held && cur.token == token {
						delete(l.locks, key)
					}
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", domain.ErrLockNotAcquired, key)
		case <-ticker.C:
		}
	}
}
