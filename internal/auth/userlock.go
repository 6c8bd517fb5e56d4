package auth

import (
	"context"
	"sync"
)

// UserLocker serializes read-modify-write cycles on a single user's MFA state
type UserLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// LocalUserLocker is an in-process keyed mutex. It only serializes requests
// handled by the same instance.
type LocalUserLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	ch      chan struct{}
	waiters int
}

// NewLocalUserLocker creates a new LocalUserLocker
func NewLocalUserLocker() *LocalUserLocker {
	return &LocalUserLocker{
		locks: make(map[string]*userLock),
	}
}

// Lock blocks until the user's lock is held or ctx is done
func (l *LocalUserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = lock
	}
	lock.waiters++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, lock, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(userID, lock, true) })
	}, nil
}

func (l *LocalUserLocker) release(userID string, lock *userLock, held bool) {
	if held {
		<-lock.ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lock.waiters--
	if lock.waiters == 0 {
		delete(l.locks, userID)
	}
}
