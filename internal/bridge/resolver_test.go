package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/keylock"
	"github.com/BTreeMap/ChatBridge/internal/models"
)

func newTestResolver(d *fakeDirectory) *Resolver {
	return NewResolver(d, keylock.New(), 5*time.Second)
}

// Test first resolve creates contact and conversation and initializes the flag.
func TestResolver_FirstContact(t *testing.T) {
	dir := newFakeDirectory()
	r := newTestResolver(dir)

	convID, err := r.Resolve(context.Background(), "+100000001", "Alice")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if convID == 0 {
		t.Fatal("expected non-zero conversation id")
	}

	contact, err := dir.SearchContact(context.Background(), "+100000001")
	if err != nil {
		t.Fatalf("contact was not created: %v", err)
	}
	if contact.Name != "Alice" {
		t.Errorf("expected display name Alice, got %q", contact.Name)
	}
	if got := contact.BotFeature(); got != models.FeatureOn {
		t.Errorf("expected first-contact flag On, got %q", got)
	}
	if dir.createConversationCalls != 1 {
		t.Errorf("expected 1 conversation creation, got %d", dir.createConversationCalls)
	}
}

// Test an existing conversation is returned without locking or creating.
func TestResolver_FastPath(t *testing.T) {
	dir := newFakeDirectory()
	r := newTestResolver(dir)

	first, err := r.Resolve(context.Background(), "+100000001", "Alice")
	if err != nil {
		t.Fatalf("first Resolve returned error: %v", err)
	}
	second, err := r.Resolve(context.Background(), "+100000001", "ignored")
	if err != nil {
		t.Fatalf("second Resolve returned error: %v", err)
	}
	if first != second {
		t.Errorf("expected same conversation id, got %d and %d", first, second)
	}
	if dir.createConversationCalls != 1 {
		t.Errorf("expected exactly 1 creation, got %d", dir.createConversationCalls)
	}
}

// Test N concurrent resolves for a brand-new number produce exactly one
// conversation creation and agree on the conversation id.
func TestResolver_AtMostOneCreation(t *testing.T) {
	dir := newFakeDirectory()
	dir.createConversationDelay = 10 * time.Millisecond // widen the race window
	r := newTestResolver(dir)

	const n = 10
	results := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "+100000001", "Alice")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolve %d returned error: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("resolve %d returned conversation %d, expected %d", i, results[i], results[0])
		}
	}
	if dir.createConversationCalls != 1 {
		t.Errorf("expected exactly 1 conversation creation under concurrency, got %d", dir.createConversationCalls)
	}
}

// Test the lock is released when conversation creation fails, so a later
// resolve for the same number does not hang.
func TestResolver_LockReleasedOnCreateFailure(t *testing.T) {
	dir := newFakeDirectory()
	dir.createConversationErr = errors.New("remote 500")
	r := NewResolver(dir, keylock.New(), 200*time.Millisecond)

	if _, err := r.Resolve(context.Background(), "+100000001", "Alice"); err == nil {
		t.Fatal("expected error from failing creation")
	}

	dir.mu.Lock()
	dir.createConversationErr = nil
	dir.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "+100000001", "Alice")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second Resolve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Resolve hung: lock was not released on failure")
	}
}

// Test lock contention past the timeout fails with the distinct error.
func TestResolver_LockContentionTimeout(t *testing.T) {
	dir := newFakeDirectory()
	locks := keylock.New()
	r := NewResolver(dir, locks, 50*time.Millisecond)

	// Contact must exist so Resolve reaches the locked section.
	if _, err := dir.CreateContact(context.Background(), "+100000001", "Alice"); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	dir.setFlag("+100000001", models.FeatureOn)

	release, err := locks.Acquire(context.Background(), "+100000001")
	if err != nil {
		t.Fatalf("failed to seed held lock: %v", err)
	}
	defer release()

	_, err = r.Resolve(context.Background(), "+100000001", "Alice")
	if !errors.Is(err, keylock.ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
}

// Test remote search errors propagate to the caller untouched.
func TestResolver_SearchErrorPropagates(t *testing.T) {
	dir := newFakeDirectory()
	sentinel := errors.New("remote search down")
	dir.searchErr = sentinel
	r := newTestResolver(dir)

	if _, err := r.Resolve(context.Background(), "+100000001", "Alice"); !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped remote error, got %v", err)
	}
}

// Test each creation attempt uses a distinct source id.
func TestResolver_SourceIDUniquePerAttempt(t *testing.T) {
	a := newSourceID(42)
	b := newSourceID(42)
	if a == b {
		t.Errorf("expected distinct source ids, got %q twice", a)
	}
}
