package adminauth

import (
	"sync/atomic"
	"time"
)

// MetricID names an engine counter or latency histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricMFASuccess
	MetricMFAFailure
	MetricSessionCreated
	MetricLogout
	MetricAuthorizeAllowed
	MetricAuthorizeDenied
	MetricStoreFailure
	MetricAttemptRecordFailure
	MetricNotificationQueued
	MetricSessionsSwept
	MetricLoginLatency
	MetricAuthorizeLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of every bucket but the
// last, which is unbounded.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

// histogramIDs lists the ids that carry histograms, in slot order.
var histogramIDs = [...]MetricID{MetricLoginLatency, MetricAuthorizeLatency}

// counter sits alone on a 64-byte cache line.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters and histograms. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counter
	histograms    [len(histogramIDs)][histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy. Histogram buckets are
// non-cumulative with upper bounds 5, 10, 25, 50, 100, 250, 500 ms and +Inf.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= metricIDCount || n == 0 {
		return
	}
	m.counters[id].Add(n)
}

// Observe records d against a latency id. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	slot, ok := histogramSlot(id)
	if !ok {
		return
	}
	m.histograms[slot][bucketFor(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies the current values. Disabled metrics yield empty maps;
// histogram ids never appear among the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if _, hist := histogramSlot(id); hist {
			continue
		}
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		for slot, id := range histogramIDs {
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = m.histograms[slot][i].Load()
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

func histogramSlot(id MetricID) (int, bool) {
	for slot, h := range histogramIDs {
		if h == id {
			return slot, true
		}
	}
	return 0, false
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
