package goAccess

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed password and SSO logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins refused by the throttle.
	MetricLoginRateLimited
	// MetricMFARequired counts logins that entered the MFA challenge.
	MetricMFARequired
	// MetricMFASuccess counts verified challenges.
	MetricMFASuccess
	// MetricMFAFailure counts rejected codes and tokens.
	MetricMFAFailure
	// MetricMFAAutoResolved counts challenges resolved because the user no
	// longer had an active token.
	MetricMFAAutoResolved
	// MetricMFAFallback counts TOTP failures rescued by a backup code.
	MetricMFAFallback
	MetricBackupCodeUsed
	MetricBackupCodeRegenerated
	MetricTOTPEnrolled
	MetricSessionCreated
	// MetricSessionEvicted counts sessions ended by the concurrency cap.
	MetricSessionEvicted
	MetricSessionTerminated
	MetricSessionExpired
	MetricLogout
	MetricAccessGranted
	MetricAccessDenied
	MetricRoleChanged
	// MetricValidateLatency is the session validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

// validateBounds are the inclusive upper bounds of the validation latency
// buckets. Slower validations land in a final overflow bucket.
var validateBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(validateBounds) + 1

// counterSlot keeps each counter on its own cache line.
type counterSlot struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters and the validation latency histogram.
type Metrics struct {
	enabled  bool
	latency  bool
	counters [metricIDCount]counterSlot
	validate [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg. Disabled metrics are
// no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counting is on.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) counting(id MetricID) bool {
	return m != nil && m.enabled && id < metricIDCount
}

// Inc increments id.
func (m *Metrics) Inc(id MetricID) {
	if m.counting(id) {
		m.counters[id].n.Add(1)
	}
}

// Add increments id by n. Non-positive n is ignored.
func (m *Metrics) Add(id MetricID, n int) {
	if n > 0 && m.counting(id) {
		m.counters[id].n.Add(uint64(n))
	}
}

// Observe records d. Only MetricValidateLatency keeps a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.latency || id != MetricValidateLatency {
		return
	}
	m.validate[bucketIndex(d)].Add(1)
}

// Value returns the current value of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter. A disabled instance yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := range m.counters {
		s.Counters[MetricID(id)] = m.counters[id].n.Load()
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.validate[i].Load()
		}
		s.Histograms[MetricValidateLatency] = buckets
	}
	return s
}

// bucketIndex compares at millisecond resolution, so 5.9ms still counts
// toward the 5ms bucket.
func bucketIndex(d time.Duration) int {
	d = d.Truncate(time.Millisecond)
	for i, bound := range validateBounds {
		if d <= bound {
			return i
		}
	}
	return len(validateBounds)
}
