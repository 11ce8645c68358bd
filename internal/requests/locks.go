package requests

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedLocks serialises work per key; waiting respects ctx.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		k.release(key, l)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			k.release(key, l)
		})
	}, nil
}

func (k *keyedLocks) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
