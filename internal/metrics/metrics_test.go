package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg)
	m.ObserveDuration("overdue", 250*time.Millisecond)
	m.IncSuccess("overdue")
	m.IncFailure("")
	m.AddProcessed("overdue", 3)
	m.AddProcessed("overdue", 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, mfs, "escrow_job_success_total", map[string]string{"job": "overdue"}))
	assert.Equal(t, 1.0, counterValue(t, mfs, "escrow_job_failure_total", map[string]string{"job": "unknown"}))
	assert.Equal(t, 3.0, counterValue(t, mfs, "escrow_job_processed_total", map[string]string{"job": "overdue"}))

	h := findMetric(t, mfs, "escrow_job_duration_seconds", map[string]string{"job": "overdue"}).GetHistogram()
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.InDelta(t, 0.25, h.GetSampleSum(), 0.0001)
}

func TestLedgerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)
	m.ObserveLedgerCall("capture", "ok", 10*time.Millisecond)
	m.ObserveLedgerCall("capture", "ambiguous", time.Second)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(t, mfs, "escrow_ledger_calls_total", map[string]string{"op": "capture", "result": "ambiguous"}))
	h := findMetric(t, mfs, "escrow_ledger_call_duration_seconds", map[string]string{"op": "capture"}).GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
}

func TestNilRegistererIsNoop(t *testing.T) {
	var nilMetrics *SchedulerMetrics
	assert.NotPanics(t, func() {
		NewSchedulerMetrics(nil).IncSuccess("x")
		nilMetrics.ObserveDuration("x", time.Second)
		NewLedgerMetrics(nil).ObserveLedgerCall("hold", "ok", time.Second)
	})
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	return findMetric(t, mfs, name, labels).GetCounter().GetValue()
}

func findMetric(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabels(metric.GetLabel(), labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, labels map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := labels[p.GetName()]; ok && v == p.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}
