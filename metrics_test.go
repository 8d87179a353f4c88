package datalogger

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLine(KindData)
	m.ObserveLine(KindData)
	m.ObserveLine(KindStatus)
	m.ObserveRecord(0.002)
	m.ObserveDecodeRepair()
	m.SetState(StateStreaming)
	m.SetAmbient(22.5, 48)

	expected := `
# HELP datalogger_lines_total Device lines seen, by classification.
# TYPE datalogger_lines_total counter
datalogger_lines_total{kind="data"} 2
datalogger_lines_total{kind="status"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "datalogger_lines_total"); err != nil {
		t.Fatalf("lines metric: %v", err)
	}
	if got := testutil.ToFloat64(m.records); got != 1 {
		t.Fatalf("records = %v", got)
	}
	if got := testutil.ToFloat64(m.decodeRepairs); got != 1 {
		t.Fatalf("decode repairs = %v", got)
	}
	if got := testutil.ToFloat64(m.state); got != float64(StateStreaming) {
		t.Fatalf("state = %v", got)
	}
	if got := testutil.ToFloat64(m.ambientHum); got != 48 {
		t.Fatalf("ambient humidity = %v", got)
	}
	if n := testutil.CollectAndCount(m.persistLatency); n != 1 {
		t.Fatalf("latency series = %d", n)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLine(KindHeader)
	m.ObserveRecord(1)
	m.ObserveDecodeRepair()
	m.SetState(StateClosed)
	m.SetAmbient(1, 2)
}
