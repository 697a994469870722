package otel

import (
	"context"
	"errors"
	"sync"
	"testing"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/session"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type stubSource struct {
	mu       sync.Mutex
	counters map[goAccess.MetricID]uint64
	latency  []uint64
	failures uint64
	stats    *goAccess.SessionStatistics
	statsErr error
}

func (s *stubSource) MetricsSnapshot() goAccess.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := goAccess.MetricsSnapshot{
		Counters:   map[goAccess.MetricID]uint64{},
		Histograms: map[goAccess.MetricID][]uint64{goAccess.MetricValidateLatency: append([]uint64(nil), s.latency...)},
	}
	for id, v := range s.counters {
		snap.Counters[id] = v
	}
	return snap
}

func (s *stubSource) AuditDropped() uint64 { return 0 }

func (s *stubSource) AuditFailures() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *stubSource) SessionStatistics(context.Context) (*goAccess.SessionStatistics, error) {
	return s.stats, s.statsErr
}

func collect(t *testing.T, src Source) metricdata.ResourceMetrics {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewOTelExporterFromSource(provider.Meter("goaccess"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	t.Cleanup(func() { _ = exp.Close() })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func find(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m, ok := find(rm, name)
	if !ok {
		t.Fatalf("%s not collected", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("%s: unexpected data %#v", name, m.Data)
	}
	return sum.DataPoints[0].Value
}

func gaugePoints(t *testing.T, rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	m, ok := find(rm, name)
	if !ok {
		t.Fatalf("%s not collected", name)
	}
	g, ok := m.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("%s: unexpected data %#v", name, m.Data)
	}
	return g.DataPoints
}

func TestExporterReportsCountersAndSessions(t *testing.T) {
	src := &stubSource{
		counters: map[goAccess.MetricID]uint64{
			goAccess.MetricLoginSuccess:   3,
			goAccess.MetricSessionEvicted: 2,
		},
		latency:  []uint64{1, 0, 2, 0, 0, 0, 0, 1},
		failures: 4,
		stats: &goAccess.SessionStatistics{
			Statistics:            session.Statistics{TotalActive: 5, UniqueUsers: 2},
			MaxConcurrentSessions: 3,
		},
	}
	rm := collect(t, src)

	if got := counterValue(t, rm, "goaccess_login_success_total"); got != 3 {
		t.Fatalf("logins = %d, want 3", got)
	}
	if got := counterValue(t, rm, "goaccess_session_evicted_total"); got != 2 {
		t.Fatalf("evictions = %d, want 2", got)
	}
	if got := counterValue(t, rm, "goaccess_audit_failures_total"); got != 4 {
		t.Fatalf("audit failures = %d, want 4", got)
	}

	for name, want := range map[string]int64{
		"goaccess_sessions_active":         5,
		"goaccess_sessions_users":          2,
		"goaccess_sessions_max_concurrent": 3,
	} {
		pts := gaugePoints(t, rm, name)
		if len(pts) != 1 || pts[0].Value != want {
			t.Fatalf("%s = %+v, want %d", name, pts, want)
		}
	}
}

func TestExporterLatencyBucketsAreCumulative(t *testing.T) {
	src := &stubSource{latency: []uint64{1, 0, 2, 0, 0, 0, 0, 1}, stats: &goAccess.SessionStatistics{}}
	rm := collect(t, src)

	byBound := map[string]int64{}
	for _, p := range gaugePoints(t, rm, "goaccess_session_validate_latency_seconds_bucket") {
		le, ok := p.Attributes.Value(attribute.Key("le"))
		if !ok {
			t.Fatalf("bucket point without le: %+v", p)
		}
		byBound[le.AsString()] = p.Value
	}
	if len(byBound) != 8 {
		t.Fatalf("expected 8 buckets, got %v", byBound)
	}
	if byBound["0.005"] != 1 || byBound["0.025"] != 3 || byBound["0.5"] != 3 || byBound["+Inf"] != 4 {
		t.Fatalf("unexpected buckets %v", byBound)
	}
	count := gaugePoints(t, rm, "goaccess_session_validate_latency_seconds_count")
	if len(count) != 1 || count[0].Value != 4 {
		t.Fatalf("count = %+v, want 4", count)
	}
}

func TestExporterSkipsSessionGaugesWhenRegistryFails(t *testing.T) {
	src := &stubSource{
		counters: map[goAccess.MetricID]uint64{goAccess.MetricLogout: 1},
		statsErr: errors.New("redis down"),
	}
	rm := collect(t, src)

	if got := counterValue(t, rm, "goaccess_logout_total"); got != 1 {
		t.Fatalf("logouts = %d, want 1", got)
	}
	if _, ok := find(rm, "goaccess_sessions_active"); ok {
		t.Fatal("session gauge reported without statistics")
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	if _, err := NewOTelExporterFromSource(provider.Meter("goaccess"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &stubSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporter(provider.Meter("goaccess"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}
