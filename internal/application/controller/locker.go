package controller

import (
	"context"
	"sync"

	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
)

// Locker enforces a single writer per key. TryLock never waits: a key that
// is already held yields a conflict error.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker serializes writers inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, apperrors.Conflict("an operation on %s is already in progress", key).
			WithContext("key", key)
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
