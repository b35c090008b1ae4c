package bucket_test

import (
	"testing"

	"github.com/parkerroan/quotacache/bucket"
	"github.com/stretchr/testify/assert"
)

func TestMatchesOperationStyle(t *testing.T) {
	rule := bucket.Rule{ID: "rule-1", Pattern: "send_.*"}
	b := bucket.New("user-1", rule, 5, bucket.NewPatternCache())

	assert.True(t, b.Matches("send_email", "", ""))
	assert.True(t, b.Matches("send_sms", "", ""))
	assert.False(t, b.Matches("receive_email", "", ""))

	// An operation-pattern bucket never serves path-style requests,
	// regardless of path value.
	assert.False(t, b.Matches("", "send_email", "GET"))
	assert.False(t, b.Matches("", "/send_email", "POST"))
}

func TestMatchesPathStyle(t *testing.T) {
	rule := bucket.Rule{ID: "rule-2", Pattern: "/api/v1/.*", HTTPMethod: "GET"}
	b := bucket.New("user-1", rule, 5, bucket.NewPatternCache())

	assert.True(t, b.Matches("", "/api/v1/users", "GET"))
	assert.False(t, b.Matches("", "/api/v1/users", "POST"), "method must match exactly")
	assert.False(t, b.Matches("", "/api/v2/users", "GET"))

	// A bucket that carries a method never serves operation-style requests.
	assert.False(t, b.Matches("/api/v1/users", "", ""))
}

func TestMatchesMalformedPatternFallsBackToLiteral(t *testing.T) {
	rule := bucket.Rule{ID: "rule-3", Pattern: "send_[("}
	b := bucket.New("user-1", rule, 5, bucket.NewPatternCache())

	assert.True(t, b.Matches("send_[(", "", ""))
	assert.False(t, b.Matches("send_email", "", ""))
}

func TestMatchesNeitherStyle(t *testing.T) {
	rule := bucket.Rule{ID: "rule-1", Pattern: ".*"}
	b := bucket.New("user-1", rule, 5, bucket.NewPatternCache())

	assert.False(t, b.Matches("", "", ""))
}

func TestPatternCacheCompile(t *testing.T) {
	pc := bucket.NewPatternCache()

	re, ok := pc.Compile("send_.*")
	assert.True(t, ok)
	assert.True(t, re.MatchString("send_email"))

	// Repeat compiles return an equivalent pattern whether or not the cache
	// has admitted the entry yet.
	re, ok = pc.Compile("send_.*")
	assert.True(t, ok)
	assert.True(t, re.MatchString("send_push"))

	_, ok = pc.Compile("send_[(")
	assert.False(t, ok)
	_, ok = pc.Compile("send_[(")
	assert.False(t, ok)
}
