package github

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sgtm-bot/sgtm/pkg/logger"
)

var lockLog = logger.New("github:lock")

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker serializes work on a key, typically a pull request node id.
type Locker interface {
	// Lock blocks until the key is held and returns the function that releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedLocker is an in-process Locker. Keys nobody holds or waits on are
// forgotten.
type KeyedLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

var _ Locker = (*KeyedLocker)(nil)

// NewKeyedLocker creates a locker. A non-positive timeout waits until the
// context is done.
func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	return &KeyedLocker{
		timeout: timeout,
		locks:   make(map[string]*keyedLock),
	}
}

func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock := l.acquireRef(key)

	var timeoutC <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key)
		return nil, ctx.Err()
	case <-timeoutC:
		l.releaseRef(key)
		return nil, fmt.Errorf("%w %q after %s", ErrLockTimeout, key, l.timeout)
	}
	lockLog.Printf("Acquired lock %s", key)

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			l.releaseRef(key)
			lockLog.Printf("Released lock %s", key)
		})
	}, nil
}

func (l *KeyedLocker) acquireRef(key string) *keyedLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &keyedLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (l *KeyedLocker) releaseRef(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[key]
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

// held returns the number of keys currently tracked.
func (l *KeyedLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
