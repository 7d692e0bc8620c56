package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"taskgate/pkg/logging"
)

const (
	// DefaultStateTTL is how long a pending authorization stays valid.
	DefaultStateTTL = 10 * time.Minute

	// DefaultGrantTTL is how long an issued gateway code stays redeemable.
	DefaultGrantTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired entries are removed.
	DefaultSweepInterval = time.Minute

	stateBytes = 32
)

// TTLStore holds short-lived values keyed by a freshly generated opaque
// token. Every value can be consumed at most once.
type TTLStore[T any] interface {
	// Create stores value under a new random key and returns the key.
	Create(ctx context.Context, value T) (string, error)

	// Consume atomically returns and removes the value for key. It returns
	// ErrNotFound if the key is unknown, expired or already consumed.
	Consume(ctx context.Context, key string) (T, error)

	// Close stops background work and releases resources.
	Close() error
}

// GenerateState returns 32 cryptographically random bytes, hex-encoded.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type storeEntry[T any] struct {
	value     T
	createdAt time.Time
}

// StateStore is the in-memory TTLStore.
type StateStore[T any] struct {
	mu      sync.Mutex
	entries map[string]storeEntry[T]

	name        string
	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// StateStoreOption configures a StateStore.
type StateStoreOption func(*storeSettings)

type storeSettings struct {
	sweepInterval time.Duration
	now           func() time.Time
}

// WithSweepInterval overrides DefaultSweepInterval. A non-positive interval
// disables the background sweep.
func WithSweepInterval(d time.Duration) StateStoreOption {
	return func(s *storeSettings) {
		s.sweepInterval = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StateStoreOption {
	return func(s *storeSettings) {
		s.now = now
	}
}

// NewStateStore creates an in-memory store whose entries expire after ttl.
// name identifies the store in logs, e.g. "pending" or "grant".
func NewStateStore[T any](name string, ttl time.Duration, opts ...StateStoreOption) *StateStore[T] {
	settings := storeSettings{
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}

	ss := &StateStore[T]{
		entries:     make(map[string]storeEntry[T]),
		name:        name,
		ttl:         ttl,
		now:         settings.now,
		stopCleanup: make(chan struct{}),
	}

	if settings.sweepInterval > 0 {
		go ss.cleanupLoop(settings.sweepInterval)
	}

	return ss
}

// Create stores value under a new state token.
func (ss *StateStore[T]) Create(_ context.Context, value T) (string, error) {
	state, err := GenerateState()
	if err != nil {
		return "", err
	}

	ss.mu.Lock()
	ss.entries[state] = storeEntry[T]{value: value, createdAt: ss.now()}
	ss.mu.Unlock()

	return state, nil
}

// Consume returns and removes the value stored under state.
func (ss *StateStore[T]) Consume(_ context.Context, state string) (T, error) {
	var zero T

	ss.mu.Lock()
	entry, exists := ss.entries[state]
	delete(ss.entries, state)
	ss.mu.Unlock()

	if !exists {
		return zero, ErrNotFound
	}
	if ss.now().Sub(entry.createdAt) > ss.ttl {
		logging.Debug("OAuth", "Consumed expired %s entry", ss.name)
		return zero, ErrNotFound
	}
	return entry.value, nil
}

// Len returns the number of stored entries, expired or not.
func (ss *StateStore[T]) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.entries)
}

// Close stops the background sweep.
func (ss *StateStore[T]) Close() error {
	ss.stopOnce.Do(func() {
		close(ss.stopCleanup)
	})
	return nil
}

// cleanupLoop periodically removes expired entries from the store.
func (ss *StateStore[T]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.sweep()
		case <-ss.stopCleanup:
			return
		}
	}
}

// sweep removes all entries older than the TTL.
func (ss *StateStore[T]) sweep() int {
	now := ss.now()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	count := 0
	for key, entry := range ss.entries {
		if now.Sub(entry.createdAt) > ss.ttl {
			delete(ss.entries, key)
			count++
		}
	}

	if count > 0 {
		logging.Debug("OAuth", "Cleaned up %d expired %s entries", count, ss.name)
	}
	return count
}
