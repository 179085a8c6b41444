package openidstore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one store counter or latency histogram.
type MetricID uint16

const (
	// MetricAssociationStored counts successful StoreAssociation calls.
	MetricAssociationStored MetricID = iota
	// MetricAssociationHit counts GetAssociation calls that returned an association.
	MetricAssociationHit
	// MetricAssociationMiss counts GetAssociation calls that found nothing.
	MetricAssociationMiss
	// MetricAssociationCorrupt counts stored payloads that failed to decode.
	MetricAssociationCorrupt
	// MetricAssociationRemoved counts RemoveAssociation calls that deleted a record.
	MetricAssociationRemoved
	// MetricAssociationsExpired counts records deleted by CleanupAssociations.
	MetricAssociationsExpired
	// MetricNonceAccepted counts nonces admitted for the first time.
	MetricNonceAccepted
	// MetricNonceReplayed counts nonces rejected because they were already used.
	MetricNonceReplayed
	// MetricNonceSkewRejected counts nonces rejected for being outside the skew window.
	MetricNonceSkewRejected
	// MetricNonceMalformed counts response nonces UseNonceString could not parse.
	MetricNonceMalformed
	// MetricNoncesPurged counts records deleted by CleanupNonces.
	MetricNoncesPurged
	// MetricValidationFailure counts server URLs rejected before any backend call.
	MetricValidationFailure
	// MetricBackendError counts operations that failed in the backend.
	MetricBackendError
	// MetricUseNonceLatency is the UseNonce latency histogram.
	MetricUseNonceLatency
	// MetricGetAssociationLatency is the GetAssociation latency histogram.
	MetricGetAssociationLatency
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

// Metrics is a fixed array of cache-line padded counters. All methods are
// safe on a nil receiver and for concurrent use.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and, when latency
// histograms are enabled, their bucket counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a Metrics set configured by cfg. All counters start at
// zero.
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

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increases counter id by one.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add increases counter id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram for id. Counter ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when latency is enabled, every
// histogram. The copy is not atomic across ids.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(histogramIDs)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range histogramIDs {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

var histogramIDs = [...]MetricID{MetricUseNonceLatency, MetricGetAssociationLatency}

func isHistogram(id MetricID) bool {
	return id == MetricUseNonceLatency || id == MetricGetAssociationLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 1:
		return 0
	case ms <= 2:
		return 1
	case ms <= 5:
		return 2
	case ms <= 10:
		return 3
	case ms <= 25:
		return 4
	case ms <= 50:
		return 5
	case ms <= 100:
		return 6
	default:
		return 7
	}
}
