package chat

import (
	"context"
	"sync"
)

// Locker is the per-identity busy flag: at most one send in flight.
type Locker interface {
	// TryLock acquires key without waiting. ok is false when it is already held.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
