package bucket

import (
	"fmt"
	"sync"
	"time"
)

// Rule is the server-defined policy attached to a consume response. The store
// uses it transiently to locate or create a bucket; rules themselves are
// never cached.
type Rule struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Pattern    string `json:"matcher_pattern,omitempty"`
	HTTPMethod string `json:"http_method,omitempty"`
	IsDefault  bool   `json:"is_default"`
	RefillRate int    `json:"refill_rate"`
	BurstRate  int    `json:"burst_rate"`
}

// Store maps bucket keys to token buckets, one bucket per (user, rule id).
// Structural changes go through the store's mutex; token mutation goes
// through each bucket's own lock. The two locks are never held together, so
// the hot path of one bucket never queues behind another.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket

	patterns  *PatternCache
	bucketTTL time.Duration
}

// NewStore creates an empty bucket store.
func NewStore(opts ...func(*Store)) *Store {
	s := &Store{
		buckets:   make(map[string]*TokenBucket),
		patterns:  NewPatternCache(),
		bucketTTL: DefaultTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// WithBucketTTL overrides the liveness window applied to buckets the store
// creates.
func WithBucketTTL(ttl time.Duration) func(*Store) {
	return func(s *Store) {
		s.bucketTTL = ttl
	}
}

// Key derives the cache key for a (user, rule id) pair.
func Key(user, ruleID string) string {
	return fmt.Sprintf("%s:rule:%s", user, ruleID)
}

// FindMatching scans the live buckets and returns the first one belonging to
// user that matches the request, or nil. The scan is O(buckets) under the
// structural lock; Matches itself takes no bucket lock, so the scan never
// nests locks.
func (s *Store) FindMatching(user, operation, path, method string) *TokenBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buckets {
		if b.user == user && b.Matches(operation, path, method) {
			return b
		}
	}
	return nil
}

// GetOrCreateAndRefill returns the bucket for (user, rule), creating it sized
// to defaultSize if absent, then credits it with tokens. Concurrent calls
// with the same key always converge on one bucket, and their refills are
// cumulative. The refill runs on the bucket's own lock after the structural
// lock is released.
func (s *Store) GetOrCreateAndRefill(user string, rule Rule, tokens, defaultSize int) *TokenBucket {
	key := Key(user, rule.ID)

	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = New(user, rule, defaultSize, s.patterns, WithTTL(s.bucketTTL))
		s.buckets[key] = b
	}
	s.mu.Unlock()

	b.Refill(tokens)
	return b
}

// Statuses returns a point-in-time snapshot of every live bucket's token
// pool, keyed by bucket key.
func (s *Store) Statuses() map[string]Status {
	s.mu.Lock()
	refs := make(map[string]*TokenBucket, len(s.buckets))
	for k, b := range s.buckets {
		refs[k] = b
	}
	s.mu.Unlock()

	out := make(map[string]Status, len(refs))
	for k, b := range refs {
		out[k] = b.Status()
	}
	return out
}

// Reset drops every cached bucket. References already held by in-flight
// callers stay usable but are orphaned from the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = make(map[string]*TokenBucket)
}

// Len reports how many buckets are currently cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buckets)
}
