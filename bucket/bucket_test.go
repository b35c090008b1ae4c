package bucket_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parkerroan/quotacache/bucket"
	"github.com/stretchr/testify/assert"
)

func newBucket(size int, opts ...func(*bucket.TokenBucket)) *bucket.TokenBucket {
	rule := bucket.Rule{ID: "rule-1", Pattern: "send_.*"}
	return bucket.New("user-1", rule, size, bucket.NewPatternCache(), opts...)
}

func TestRefillArithmetic(t *testing.T) {
	b := newBucket(5)

	added := b.Refill(3)
	assert.Equal(t, 3, added)
	assert.Equal(t, 3, b.Status().TokensRemaining)

	added = b.Refill(5)
	assert.Equal(t, 2, added)
	assert.Equal(t, 5, b.Status().TokensRemaining)

	added = b.Refill(1)
	assert.Equal(t, 0, added)
	assert.Equal(t, 5, b.Status().TokensRemaining)
}

func TestConsumeToken(t *testing.T) {
	b := newBucket(2)
	b.Refill(2)

	assert.True(t, b.HasTokens())
	assert.True(t, b.ConsumeToken())
	assert.True(t, b.ConsumeToken())
	assert.False(t, b.ConsumeToken())
	assert.False(t, b.HasTokens())
	assert.Equal(t, 0, b.Status().TokensRemaining)
}

func TestConsumeTokens(t *testing.T) {
	testCases := []struct {
		description string
		available   int
		request     int
		want        int
		remaining   int
	}{
		{"zero request takes nothing", 5, 0, 0, 5},
		{"negative request takes nothing", 5, -3, 0, 5},
		{"request within pool", 5, 3, 3, 2},
		{"request clamps to pool", 2, 10, 2, 0},
		{"empty pool yields nothing", 0, 4, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			b := newBucket(10)
			b.Refill(tc.available)

			got := b.ConsumeTokens(tc.request)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.remaining, b.Status().TokensRemaining)
		})
	}
}

func TestCheckAndConsumeConcurrent(t *testing.T) {
	const (
		tokens  = 5
		callers = 20
	)

	b := newBucket(tokens)
	b.Refill(tokens)

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		start     = make(chan struct{})
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if b.CheckAndConsume() {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(tokens), successes.Load())
	assert.Equal(t, 0, b.Status().TokensRemaining)
}

func TestInvariantUnderConcurrentRefillAndConsume(t *testing.T) {
	b := newBucket(5)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Refill(2)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.CheckAndConsume()
			}
		}()
	}
	wg.Wait()

	status := b.Status()
	assert.GreaterOrEqual(t, status.TokensRemaining, 0)
	assert.LessOrEqual(t, status.TokensRemaining, status.MaxTokens)
}

func TestExpiry(t *testing.T) {
	b := newBucket(5, bucket.WithTTL(30*time.Millisecond))
	b.Refill(5)

	assert.True(t, b.Matches("send_email", "", ""))
	assert.False(t, b.Expired())

	time.Sleep(50 * time.Millisecond)

	// Tokens remain but the bucket no longer matches anything.
	assert.True(t, b.HasTokens())
	assert.True(t, b.Expired())
	assert.False(t, b.Matches("send_email", "", ""))

	// A refill counts as an access and revives the bucket.
	b.Refill(0)
	assert.True(t, b.Matches("send_email", "", ""))
}

func TestSynchronizeIsExclusive(t *testing.T) {
	b := newBucket(1)

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Synchronize(func() {
				counter++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}
