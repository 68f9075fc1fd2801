// Package metrics holds the Prometheus collectors for registry loads and code
// checks. Each Metrics value owns its registry so tests can build as many as
// they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ncmcheck/internal/ncm"
)

const namespace = "ncmcheck"

type Metrics struct {
	registry *prometheus.Registry

	ReportsBuilt    prometheus.Counter
	CodesChecked    *prometheus.CounterVec
	CheckDuration   prometheus.Histogram
	RegistryRecords prometheus.Gauge
	RegistryAsOf    prometheus.Gauge
	RegistryLoads   *prometheus.CounterVec
	DocumentsByStat *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ReportsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_built_total",
			Help:      "Number of reports built from input text.",
		}),
		CodesChecked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_checked_total",
			Help:      "Extracted codes by lookup status.",
		}, []string{"status"}),
		CheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Time spent extracting and checking codes for one text.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		RegistryRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_records",
			Help:      "Records in the published registry.",
		}),
		RegistryAsOf: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_as_of_timestamp_seconds",
			Help:      "As-of date of the published registry.",
		}),
		RegistryLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_loads_total",
			Help:      "Registry load attempts by source and result.",
		}, []string{"source", "result"}),
		DocumentsByStat: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Processed documents by final status.",
		}, []string{"status"}),
	}
}

// ObserveReport records one built report. Safe on a nil receiver.
func (m *Metrics) ObserveReport(report ncm.Report, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReportsBuilt.Inc()
	m.CheckDuration.Observe(elapsed.Seconds())
	for _, res := range report.Results {
		m.CodesChecked.WithLabelValues(string(res.Status)).Inc()
	}
}

func (m *Metrics) ObserveRegistry(reg *ncm.Registry) {
	if m == nil {
		return
	}
	m.RegistryRecords.Set(float64(reg.Len()))
	if asOf, ok := reg.AsOf(); ok {
		m.RegistryAsOf.Set(float64(asOf.Unix()))
	}
}

func (m *Metrics) RegistryLoad(source string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RegistryLoads.WithLabelValues(source, result).Inc()
}

func (m *Metrics) Document(status string) {
	if m == nil {
		return
	}
	m.DocumentsByStat.WithLabelValues(status).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
