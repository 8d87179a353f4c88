package datalogger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus view of a logging session.
type Metrics struct {
	lines          *prometheus.CounterVec
	records        prometheus.Counter
	decodeRepairs  prometheus.Counter
	state          prometheus.Gauge
	persistLatency prometheus.Histogram
	ambientTemp    prometheus.Gauge
	ambientHum     prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datalogger_lines_total",
			Help: "Device lines seen, by classification.",
		}, []string{"kind"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datalogger_records_persisted_total",
			Help: "Data records written and flushed to the destination file.",
		}),
		decodeRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datalogger_decode_repairs_total",
			Help: "Lines that contained invalid UTF-8 and were repaired.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datalogger_session_state",
			Help: "Current ingestion state (0=disconnected .. 5=closed).",
		}),
		persistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "datalogger_persist_latency_seconds",
			Help:    "Time spent writing and syncing one record.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		ambientTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datalogger_ambient_temperature_celsius",
			Help: "Host-side reference temperature.",
		}),
		ambientHum: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datalogger_ambient_humidity_percent",
			Help: "Host-side reference relative humidity.",
		}),
	}
	reg.MustRegister(m.lines, m.records, m.decodeRepairs, m.state, m.persistLatency, m.ambientTemp, m.ambientHum)
	return m
}

func (m *Metrics) ObserveLine(k Kind) {
	if m == nil {
		return
	}
	m.lines.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) ObserveRecord(seconds float64) {
	if m == nil {
		return
	}
	m.records.Inc()
	m.persistLatency.Observe(seconds)
}

func (m *Metrics) ObserveDecodeRepair() {
	if m == nil {
		return
	}
	m.decodeRepairs.Inc()
}

func (m *Metrics) SetState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) SetAmbient(temperature, humidity float64) {
	if m == nil {
		return
	}
	m.ambientTemp.Set(temperature)
	m.ambientHum.Set(humidity)
}
