package goToken

import (
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goToken/token"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	MetricTokenIssued MetricID = iota
	MetricTokenPairIssued
	MetricDecodeSuccess
	MetricDecodeRejected

	// Per-reason rejection counters, in token.RejectReasons order.
	MetricRejectMalformed
	MetricRejectSignature
	MetricRejectUnknownKey
	MetricRejectExpired
	MetricRejectIssuedAt
	MetricRejectIssuer
	MetricRejectAudience
	MetricRejectMissingClaims
	MetricRejectRevoked
	MetricRejectRevocationUnavailable
	MetricRejectKindMismatch
	MetricRejectDeviceMismatch
	MetricRejectDecrypt

	MetricTokenRevoked
	MetricRevocationFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricSecretRotation
	MetricSecretRotationFailure
	MetricSigningKeyRotation
	MetricEncryptionKeyRotation
	MetricDeviceFallback
	MetricSecurityAudit

	// MetricDecodeLatency is the only histogram.
	MetricDecodeLatency
	metricIDCount
)

var rejectMetrics = map[token.RejectReason]MetricID{
	token.ReasonMalformed:             MetricRejectMalformed,
	token.ReasonSignature:             MetricRejectSignature,
	token.ReasonUnknownKey:            MetricRejectUnknownKey,
	token.ReasonExpired:               MetricRejectExpired,
	token.ReasonIssuedAt:              MetricRejectIssuedAt,
	token.ReasonIssuer:                MetricRejectIssuer,
	token.ReasonAudience:              MetricRejectAudience,
	token.ReasonMissingClaims:         MetricRejectMissingClaims,
	token.ReasonRevoked:               MetricRejectRevoked,
	token.ReasonRevocationUnavailable: MetricRejectRevocationUnavailable,
	token.ReasonKindMismatch:          MetricRejectKindMismatch,
	token.ReasonDeviceMismatch:        MetricRejectDeviceMismatch,
	token.ReasonDecrypt:               MetricRejectDecrypt,
}

// RejectMetric maps a decode reject reason to its counter.
func RejectMetric(reason token.RejectReason) (MetricID, bool) {
	id, ok := rejectMetrics[reason]
	return id, ok
}

const (
	// HistogramBuckets is the number of latency buckets, the last one unbounded.
	HistogramBuckets = 8
	cacheLineSize    = 64
)

// HistogramUpperBounds are the inclusive upper bounds of the first
// HistogramBuckets-1 latency buckets.
var HistogramUpperBounds = [HistogramBuckets - 1]time.Duration{
	100 * time.Microsecond,
	250 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	2500 * time.Microsecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
}

type metricHistogram struct {
	buckets [HistogramBuckets]uint64
	sumNS   uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// HistogramSums holds the total observed time per histogram.
	HistogramSums map[MetricID]time.Duration
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

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into id's histogram. Only MetricDecodeLatency is a
// histogram; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricDecodeLatency {
		return
	}
	if d < 0 {
		d = 0
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
	atomic.AddUint64(&m.histograms[id].sumNS, uint64(d))
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Values are read individually, so a snapshot
// taken under load is not a single consistent cut.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricDecodeLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		h := &m.histograms[MetricDecodeLatency]
		buckets := make([]uint64, HistogramBuckets)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&h.buckets[i])
		}
		s.Histograms[MetricDecodeLatency] = buckets
		s.HistogramSums[MetricDecodeLatency] = time.Duration(atomic.LoadUint64(&h.sumNS))
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, upper := range HistogramUpperBounds {
		if d <= upper {
			return i
		}
	}
	return HistogramBuckets - 1
}
