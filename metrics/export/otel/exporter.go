package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on every collection. *goAccess.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() goAccess.MetricsSnapshot
	AuditDropped() uint64
	AuditFailures() uint64
	SessionStatistics(ctx context.Context) (*goAccess.SessionStatistics, error)
}

// latencyInstruments reports one histogram as a cumulative bucket gauge
// keyed by the "le" attribute plus a sample count.
type latencyInstruments struct {
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	bounds  []attribute.Set
}

// OTelExporter publishes engine counters, session gauges and validation
// latency through asynchronous OpenTelemetry instruments.
type OTelExporter struct {
	source       Source
	registration metric.Registration

	counters map[goAccess.MetricID]metric.Int64ObservableCounter
	latency  map[goAccess.MetricID]latencyInstruments

	auditDropped  metric.Int64ObservableCounter
	auditFailures metric.Int64ObservableCounter

	activeSessions metric.Int64ObservableGauge
	activeUsers    metric.Int64ObservableGauge
	sessionCap     metric.Int64ObservableGauge
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *goAccess.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments on meter that read from
// source.
func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[goAccess.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
		latency:  make(map[goAccess.MetricID]latencyInstruments, len(internaldefs.HistogramDefs)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		observables = append(observables, c)
	}

	bounds := latencyBounds()
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("gauge %s_bucket: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("gauge %s_count: %w", def.Name, err)
		}
		e.latency[def.ID] = latencyInstruments{buckets: buckets, count: count, bounds: bounds}
		observables = append(observables, buckets, count)
	}

	var err error
	if e.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp)); err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	if e.auditFailures, err = meter.Int64ObservableCounter(internaldefs.AuditFailuresName,
		metric.WithDescription(internaldefs.AuditFailuresHelp)); err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditFailuresName, err)
	}
	if e.activeSessions, err = meter.Int64ObservableGauge("goaccess_sessions_active",
		metric.WithDescription("Sessions currently held by the registry.")); err != nil {
		return nil, fmt.Errorf("gauge goaccess_sessions_active: %w", err)
	}
	if e.activeUsers, err = meter.Int64ObservableGauge("goaccess_sessions_users",
		metric.WithDescription("Distinct users holding at least one session.")); err != nil {
		return nil, fmt.Errorf("gauge goaccess_sessions_users: %w", err)
	}
	if e.sessionCap, err = meter.Int64ObservableGauge("goaccess_sessions_max_concurrent",
		metric.WithDescription("Configured per-user concurrent session cap.")); err != nil {
		return nil, fmt.Errorf("gauge goaccess_sessions_max_concurrent: %w", err)
	}
	observables = append(observables, e.auditDropped, e.auditFailures,
		e.activeSessions, e.activeUsers, e.sessionCap)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(ctx context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	for id, l := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[id]))
		for i, set := range l.bounds {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), metric.WithAttributeSet(set))
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	o.ObserveInt64(e.auditFailures, int64(e.source.AuditFailures()))

	// Session gauges are skipped for the cycle when the registry is down.
	stats, err := e.source.SessionStatistics(ctx)
	if err != nil || stats == nil {
		return nil
	}
	o.ObserveInt64(e.activeSessions, int64(stats.TotalActive))
	o.ObserveInt64(e.activeUsers, int64(stats.UniqueUsers))
	o.ObserveInt64(e.sessionCap, int64(stats.MaxConcurrentSessions))
	return nil
}

func latencyBounds() []attribute.Set {
	sets := make([]attribute.Set, 0, len(internaldefs.UpperBounds)+1)
	for _, b := range internaldefs.UpperBounds {
		sets = append(sets, attribute.NewSet(attribute.String("le", strconv.FormatFloat(b, 'g', -1, 64))))
	}
	return append(sets, attribute.NewSet(attribute.String("le", "+Inf")))
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
