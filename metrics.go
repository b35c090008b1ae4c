package quotacache

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the cache's terminal states. It implements
// prometheus.Collector; register it with your registry and attach it via
// WithMetrics. A nil *Metrics is a no-op, so instrumentation stays optional.
type Metrics struct {
	localHits     prometheus.Counter
	localMisses   prometheus.Counter
	remoteFetches prometheus.Counter
	fetchErrors   prometheus.Counter
}

// NewMetrics creates the cache's counters under the quotacache namespace.
func NewMetrics() *Metrics {
	return &Metrics{
		localHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotacache",
			Name:      "local_hits_total",
			Help:      "Consume attempts served from a local bucket.",
		}),
		localMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotacache",
			Name:      "local_misses_total",
			Help:      "Consume attempts that found no usable local bucket.",
		}),
		remoteFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotacache",
			Name:      "remote_fetches_total",
			Help:      "Bucket-fill requests issued to the quota service.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotacache",
			Name:      "fetch_errors_total",
			Help:      "Remote fetches that failed with a transport or API error.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.localHits.Describe(ch)
	m.localMisses.Describe(ch)
	m.remoteFetches.Describe(ch)
	m.fetchErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.localHits.Collect(ch)
	m.localMisses.Collect(ch)
	m.remoteFetches.Collect(ch)
	m.fetchErrors.Collect(ch)
}

func (m *Metrics) localHit() {
	if m == nil {
		return
	}
	m.localHits.Inc()
}

func (m *Metrics) localMiss() {
	if m == nil {
		return
	}
	m.localMisses.Inc()
}

func (m *Metrics) remoteFetch() {
	if m == nil {
		return
	}
	m.remoteFetches.Inc()
}

func (m *Metrics) fetchError() {
	if m == nil {
		return
	}
	m.fetchErrors.Inc()
}
