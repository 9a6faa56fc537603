package distributed

import (
	"context"
	"sync"
)

// Locker runs fn while holding the named lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

var (
	_ Locker = (*LockManager)(nil)
	_ Locker = (*LocalLockManager)(nil)
)

// LocalLockManager serializes callers within one process. Used when Redis is
// not configured.
type LocalLockManager struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{locks: make(map[string]*localLock)}
}

func (m *LocalLockManager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l := m.acquireRef(key)
	defer m.releaseRef(key, l)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	return fn(ctx)
}

func (m *LocalLockManager) acquireRef(key string) *localLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &localLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *LocalLockManager) releaseRef(key string, l *localLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
