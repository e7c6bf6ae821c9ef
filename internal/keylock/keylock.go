// Package keylock provides per-key in-process mutual exclusion for ChatBridge.
//
// It guards the conversation-creation window in the resolver: at most one
// goroutine may hold the lock for a given phone number at a time. Acquisition
// is context-bounded so a contended caller fails with a distinct error instead
// of waiting forever.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAcquireTimeout indicates the lock for a key could not be acquired before
// the caller's context expired.
var ErrAcquireTimeout = errors.New("keylock: lock acquisition timed out")

// KeyedMutex is a set of independent mutexes addressed by string key.
// The zero value is not usable; use New.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]chan struct{})}
}

// Acquire blocks until the lock for key is free or ctx is done. On success it
// returns a release function that must be called exactly once, on every exit
// path. If ctx expires first, Acquire returns ErrAcquireTimeout (wrapped with
// the key for context).
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		m.mu.Lock()
		waitCh, taken := m.held[key]
		if !taken {
			ch := make(chan struct{})
			m.held[key] = ch
			m.mu.Unlock()
			slog.Debug("KeyedMutex acquired", "key", key)
			var once sync.Once
			release := func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.held, key)
					m.mu.Unlock()
					close(ch)
					slog.Debug("KeyedMutex released", "key", key)
				})
			}
			return release, nil
		}
		m.mu.Unlock()

		slog.Debug("KeyedMutex contended, waiting", "key", key)
		select {
		case <-waitCh:
			// Holder released; loop and race for the lock again.
		case <-ctx.Done():
			slog.Warn("KeyedMutex acquisition timed out", "key", key, "error", ctx.Err())
			return nil, fmt.Errorf("key %q: %w", key, ErrAcquireTimeout)
		}
	}
}

// Held reports whether the lock for key is currently taken. Intended for
// tests and health reporting; the answer may be stale by the time it is used.
func (m *KeyedMutex) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, taken := m.held[key]
	return taken
}
