package handshake

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricHandshakeStarted counts when handshake began.
	MetricHandshakeStarted MetricID = iota
	// MetricHandshakeSuccess counts when provider callback resolved to a user.
	MetricHandshakeSuccess
	// MetricHandshakeFailure counts when provider callback was rejected.
	MetricHandshakeFailure
	// MetricChallengeIssued counts when challenge created and delivered.
	MetricChallengeIssued
	// MetricChallengeSuperseded counts when new challenge replaced an active one.
	MetricChallengeSuperseded
	// MetricChallengeDeliveryFailed counts when delivery failed and the challenge was invalidated.
	MetricChallengeDeliveryFailed
	// MetricChallengeRateLimited counts when issuance was throttled.
	MetricChallengeRateLimited
	// MetricVerifySuccess counts when code accepted.
	MetricVerifySuccess
	// MetricVerifyInvalidCode counts when wrong code with attempts left.
	MetricVerifyInvalidCode
	// MetricVerifyExpired counts when attempt after expiry.
	MetricVerifyExpired
	// MetricVerifyReplay counts when attempt on an already used challenge.
	MetricVerifyReplay
	// MetricVerifyExhausted counts when attempt budget spent.
	MetricVerifyExhausted
	// MetricVerifyNotFound counts when unknown or malformed token.
	MetricVerifyNotFound
	// MetricVerifyRateLimited counts when verification was throttled.
	MetricVerifyRateLimited
	// MetricSessionIssued counts when durable session created.
	MetricSessionIssued
	// MetricSessionIssueFailure counts when session issuer failed after verification.
	MetricSessionIssueFailure
	// MetricSessionTeardown counts when provisional session removed.
	MetricSessionTeardown
	// MetricAuditDropped counts when audit event dropped on a full buffer.
	MetricAuditDropped
	// MetricVerifyLatency records end-to-end verification latency.
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters, one cache line each.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics allocates the counter table. A disabled table ignores every
// Inc and Observe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the verification latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. It is lock-free.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the latency histogram. Only MetricVerifyLatency
// carries a histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricVerifyLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
