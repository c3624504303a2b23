package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrLockerUnavailable is returned when a nil locker is used.
var ErrLockerUnavailable = errors.New("session locker unavailable")

// Locker serializes work on a single conversation.
type Locker interface {
	Lock(ctx context.Context, conversationID string) error
	Unlock(conversationID string)
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker is an in-process Locker. Each key gets its own lock that is
// dropped once no goroutine holds or waits on it.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewKeyedLocker creates an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock blocks until the key is free or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, conversationID string) error {
	if l == nil {
		return ErrLockerUnavailable
	}
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation_id is required")
	}

	l.mu.Lock()
	entry, ok := l.locks[conversationID]
	if !ok {
		entry = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(conversationID, entry)
		return ctx.Err()
	}
}

// Unlock releases the key. Unlocking a key that is not held is a no-op.
func (l *KeyedLocker) Unlock(conversationID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	entry, ok := l.locks[conversationID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.ch:
	default:
		return
	}
	l.release(conversationID, entry)
}

func (l *KeyedLocker) release(conversationID string, entry *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, conversationID)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
