package bucket

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is how long a bucket may sit untouched before it stops matching
// requests. An expired bucket is skipped by lookups until a refill touches it
// again; it is only removed by an explicit Store.Reset.
const DefaultTTL = 60 * time.Second

// Status is a read-only snapshot of a bucket's token pool.
type Status struct {
	TokensRemaining int `json:"tokens_remaining"`
	MaxTokens       int `json:"max_tokens"`
}

// TokenBucket holds one rule's cached quota for one user. Token state is
// guarded by the bucket's own mutex, never by the Store's structural lock, so
// a slow refill on one bucket does not stall consumes on another.
type TokenBucket struct {
	user       string
	ruleID     string
	pattern    string
	httpMethod string

	patterns *PatternCache
	ttl      time.Duration

	// last access in unix nanos. Kept atomic so Matches and Expired can run
	// without the mutex while the Store scans under its own lock.
	lastAccess atomic.Int64

	mu        sync.Mutex
	available int
	max       int
}

// New creates an empty bucket for one (user, rule) pair. Buckets start with
// zero tokens; the first Refill after a remote grant funds them.
func New(user string, rule Rule, size int, patterns *PatternCache, opts ...func(*TokenBucket)) *TokenBucket {
	b := &TokenBucket{
		user:       user,
		ruleID:     rule.ID,
		pattern:    rule.Pattern,
		httpMethod: rule.HTTPMethod,
		patterns:   patterns,
		ttl:        DefaultTTL,
		max:        size,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.Touch()
	return b
}

// WithTTL overrides how long the bucket stays live without being touched.
func WithTTL(ttl time.Duration) func(*TokenBucket) {
	return func(b *TokenBucket) {
		b.ttl = ttl
	}
}

// HasTokens reports whether at least one token is available. It is a peek
// only; use CheckAndConsume to actually spend under concurrency.
func (b *TokenBucket) HasTokens() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.available > 0
}

// ConsumeToken spends one token if any are available.
func (b *TokenBucket) ConsumeToken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.consume()
}

// ConsumeTokens spends up to n tokens and returns how many were actually
// taken. Requests for zero or negative counts take nothing.
func (b *TokenBucket) ConsumeTokens(n int) int {
	if n <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.available {
		n = b.available
	}
	b.available -= n
	return n
}

// Refill credits up to n tokens, clamped to the bucket's capacity, and
// returns how many were actually added. Refilling counts as an access.
func (b *TokenBucket) Refill(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Touch()

	if n < 0 {
		n = 0
	}
	added := b.max - b.available
	if n < added {
		added = n
	}
	b.available += added
	return added
}

// CheckAndConsume touches the bucket and spends one token as a single locked
// operation, so an empty check and a decrement can never interleave across
// callers. This is the consume path the cache uses.
func (b *TokenBucket) CheckAndConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Touch()
	return b.consume()
}

// consume must be called with b.mu held.
func (b *TokenBucket) consume() bool {
	if b.available <= 0 {
		return false
	}
	b.available--
	return true
}

// Matches reports whether this bucket serves the given request. Expired
// buckets never match. Operation-style requests require the bucket to carry
// no HTTP method; path-style requests require exact method equality.
func (b *TokenBucket) Matches(operation, path, method string) bool {
	if b.Expired() {
		return false
	}

	switch {
	case operation != "":
		return b.httpMethod == "" && b.patternMatches(operation)
	case path != "":
		return method == b.httpMethod && b.patternMatches(path)
	}
	return false
}

func (b *TokenBucket) patternMatches(s string) bool {
	re, ok := b.patterns.Compile(b.pattern)
	if !ok {
		// Not valid regexp; degrade to literal comparison.
		return s == b.pattern
	}
	return re.MatchString(s)
}

// Expired reports whether the bucket has gone unaccessed past its TTL.
func (b *TokenBucket) Expired() bool {
	return time.Since(time.Unix(0, b.lastAccess.Load())) > b.ttl
}

// Touch marks the bucket as freshly accessed.
func (b *TokenBucket) Touch() {
	b.lastAccess.Store(time.Now().UnixNano())
}

// Synchronize runs fn while holding the bucket's exclusive lock, releasing it
// on every exit path. fn must not call the bucket's other locking methods.
func (b *TokenBucket) Synchronize(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn()
}

// Status returns a snapshot of the token pool.
func (b *TokenBucket) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{TokensRemaining: b.available, MaxTokens: b.max}
}

// RuleID returns the server-assigned rule id this bucket caches quota for.
func (b *TokenBucket) RuleID() string {
	return b.ruleID
}

// User returns the user identifier this bucket belongs to.
func (b *TokenBucket) User() string {
	return b.user
}
