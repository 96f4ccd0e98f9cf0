package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors exposed by the sweep daemon.
// A nil *Metrics is valid and records nothing, so library code never has to
// check whether metrics were wired in.
type Metrics struct {
	releasesTotal      *prometheus.CounterVec
	sweepsTotal        prometheus.Counter
	sweptRecordsTotal  *prometheus.CounterVec
	outstandingRecords prometheus.Gauge
}

// New creates and registers the collectors on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		releasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "machinist_releases_total",
			Help: "Machine releases by reason and result",
		}, []string{"reason", "result"}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "machinist_sweeps_total",
			Help: "Orphan sweep passes",
		}),
		sweptRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "machinist_swept_records_total",
			Help: "Records processed by sweeps, by outcome",
		}, []string{"outcome"}),
		outstandingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "machinist_outstanding_records",
			Help: "Orphan records currently on disk",
		}),
	}

	reg.MustRegister(
		m.releasesTotal,
		m.sweepsTotal,
		m.sweptRecordsTotal,
		m.outstandingRecords,
	)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveRelease records one machine release by reason
func (m *Metrics) ObserveRelease(reason string, ok bool) {
	if m == nil {
		return
	}
	m.releasesTotal.WithLabelValues(reason, result(ok)).Inc()
}

// ObserveSweep records a sweep pass and its per-record outcomes
func (m *Metrics) ObserveSweep(destroyed, failed, skipped int) {
	if m == nil {
		return
	}
	m.sweepsTotal.Inc()
	m.sweptRecordsTotal.WithLabelValues("destroyed").Add(float64(destroyed))
	m.sweptRecordsTotal.WithLabelValues("failed").Add(float64(failed))
	m.sweptRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// SetOutstandingRecords updates the on-disk record gauge
func (m *Metrics) SetOutstandingRecords(n int) {
	if m == nil {
		return
	}
	m.outstandingRecords.Set(float64(n))
}
