package messaging

import (
	"log/slog"
	"sort"
	"sync"
)

// Blacklist is the dynamic suppression set keyed by canonical phone number.
// Membership is driven exclusively by the remote bot feature flag; the bot
// runtime consults it before replying.
type Blacklist interface {
	Add(phone string)
	Remove(phone string)
	Contains(phone string) bool
	Snapshot() []string
}

// MemoryBlacklist is the in-process Blacklist implementation. It holds no
// persistence; process restart clears it and the next flag evaluation rebuilds
// the relevant entries.
type MemoryBlacklist struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// NewMemoryBlacklist creates an empty blacklist.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]struct{})}
}

// Add inserts a phone number; adding an existing entry is a no-op.
func (b *MemoryBlacklist) Add(phone string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[phone]; exists {
		return
	}
	b.entries[phone] = struct{}{}
	slog.Info("Blacklist entry added", "phone", phone, "size", len(b.entries))
}

// Remove deletes a phone number; removing a missing entry is a no-op.
func (b *MemoryBlacklist) Remove(phone string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[phone]; !exists {
		return
	}
	delete(b.entries, phone)
	slog.Info("Blacklist entry removed", "phone", phone, "size", len(b.entries))
}

// Contains reports whether the phone number is currently suppressed.
func (b *MemoryBlacklist) Contains(phone string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.entries[phone]
	return exists
}

// Snapshot returns the current membership in sorted order.
func (b *MemoryBlacklist) Snapshot() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	phones := make([]string, 0, len(b.entries))
	for phone := range b.entries {
		phones = append(phones, phone)
	}
	sort.Strings(phones)
	return phones
}
