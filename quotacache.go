package quotacache

import (
	"context"

	"github.com/parkerroan/quotacache/bucket"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"
)

// DefaultBucketSize is how many tokens a local bucket asks the service for
// when it fills.
const DefaultBucketSize = 10

// ConsumeResult is the outcome of a cached consume attempt. BucketStatus is
// nil when no local bucket was involved, e.g. the service matched the
// default rule or the remote fetch failed.
type ConsumeResult struct {
	Success        bool
	UsedLocalToken bool
	BucketStatus   *bucket.Status
}

// QuotaCache fronts the remote quota service with local pools of pre-fetched
// tokens, one per (user, rule). Requests are served from a matching pool when
// possible; the service is only called when the pool is empty or unknown, and
// a burst of callers racing on the same fresh key triggers exactly one fetch.
type QuotaCache struct {
	client Client
	store  *bucket.Store
	group  singleflight.Group

	defaultBucketSize int
	logger            *slog.Logger
	metrics           *Metrics
}

// New creates a QuotaCache over the given transport client.
func New(client Client, opts ...func(*QuotaCache)) *QuotaCache {
	qc := &QuotaCache{
		client:            client,
		store:             bucket.NewStore(),
		defaultBucketSize: DefaultBucketSize,
		logger:            slog.Default(),
	}

	for _, opt := range opts {
		opt(qc)
	}

	return qc
}

// WithDefaultBucketSize sets how many tokens local buckets fill with.
func WithDefaultBucketSize(n int) func(*QuotaCache) {
	return func(qc *QuotaCache) {
		qc.defaultBucketSize = n
	}
}

// WithStore replaces the backing bucket store, e.g. to adjust bucket TTLs.
func WithStore(s *bucket.Store) func(*QuotaCache) {
	return func(qc *QuotaCache) {
		qc.store = s
	}
}

// WithLogger sets the logger used for fetch warnings.
func WithLogger(logger *slog.Logger) func(*QuotaCache) {
	return func(qc *QuotaCache) {
		qc.logger = logger
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) func(*QuotaCache) {
	return func(qc *QuotaCache) {
		qc.metrics = m
	}
}

// fetchOutcome is what one remote fill produced, shared between every caller
// collapsed onto the same flight. bkt is nil when the service matched the
// default rule, which is never cached.
type fetchOutcome struct {
	resp *ConsumeResponse
	bkt  *bucket.TokenBucket
}

// ConsumeLocalBucketToken spends one token for the request, preferring the
// local cache. Validation failures propagate as errors; transport and API
// failures during the remote fetch are converted into a failed result, so
// callers of this path never handle errors for quota exhaustion or transient
// network trouble.
func (qc *QuotaCache) ConsumeLocalBucketToken(ctx context.Context, req ConsumeRequest) (ConsumeResult, error) {
	fill := req
	fill.TokensRequested = qc.defaultBucketSize
	fill.FillBucket = true
	if err := fill.Validate(); err != nil {
		return ConsumeResult{}, err
	}

	// Lookup: serve from an existing bucket when one matches and has tokens.
	if b := qc.store.FindMatching(req.UserID, req.Operation, req.Path, req.HTTPMethod); b != nil {
		if b.CheckAndConsume() {
			qc.metrics.localHit()
			status := b.Status()
			return ConsumeResult{Success: true, UsedLocalToken: true, BucketStatus: &status}, nil
		}
	}
	qc.metrics.localMiss()

	// Local miss: one remote fill per key, no matter how many callers race
	// it. The refill happens inside the flight so a shared grant is never
	// applied twice.
	v, err, _ := qc.group.Do(flightKey(req), func() (interface{}, error) {
		qc.metrics.remoteFetch()

		resp, err := qc.client.Consume(ctx, fill)
		if err != nil {
			return nil, err
		}

		out := &fetchOutcome{resp: resp}
		if !resp.Rule.IsDefault {
			out.bkt = qc.store.GetOrCreateAndRefill(req.UserID, resp.Rule, resp.TokensConsumed, qc.defaultBucketSize)
		}
		return out, nil
	})
	if err != nil {
		qc.metrics.fetchError()
		qc.logger.Warn("remote quota fetch failed",
			slog.String("user", req.UserID),
			slog.Any("error", err.Error()))
		return ConsumeResult{}, nil
	}

	outcome := v.(*fetchOutcome)

	// Default rule: nothing is cached, the service's verdict is the answer.
	if outcome.bkt == nil {
		return ConsumeResult{Success: outcome.resp.TokensConsumed > 0}, nil
	}

	// Named rule: consume from the freshly filled bucket.
	ok := outcome.bkt.CheckAndConsume()
	status := outcome.bkt.Status()
	return ConsumeResult{Success: ok, BucketStatus: &status}, nil
}

// flightKey identifies a fetch for deduplication. The bucket itself is keyed
// by rule id, but the rule is unknown until the service answers, so flights
// dedupe on the request signature instead.
func flightKey(req ConsumeRequest) string {
	if req.Operation != "" {
		return req.UserID + "|op|" + req.Operation
	}
	return req.UserID + "|path|" + req.HTTPMethod + "|" + req.Path
}

// Consume calls the quota service directly, bypassing the local cache.
// Unlike ConsumeLocalBucketToken, every failure propagates to the caller.
func (qc *QuotaCache) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error) {
	return qc.client.Consume(ctx, req)
}

// Statuses reports every live bucket's token pool, keyed by bucket key.
func (qc *QuotaCache) Statuses() map[string]bucket.Status {
	return qc.store.Statuses()
}

// Reset drops all cached buckets, forcing fresh remote fetches.
func (qc *QuotaCache) Reset() {
	qc.store.Reset()
}
