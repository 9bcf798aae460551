package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDetection(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveDetection(time.Now(), 120, 3, 2, 0)

	assert.Equal(t, 120.0, testutil.ToFloat64(m.PatientsScanned))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GroupsFound.WithLabelValues("high")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GroupsFound.WithLabelValues("medium")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GroupsFound.WithLabelValues("low")))
}

func TestObserveMerge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveMerge(time.Now(), "success")
	m.ObserveMerge(time.Now(), "success")
	m.ObserveMerge(time.Now(), "partial")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MergesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergesTotal.WithLabelValues("partial")))
}

func TestCacheLookup(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.CacheLookup("hit")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReportCacheHits.WithLabelValues("hit")))
}

func TestRecordAccess(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordAccess("duplicates", "merge")
	m.RecordAccess("patients", "read")
	m.RecordAccess("patients", "read")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DataAccess.WithLabelValues("duplicates", "merge")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DataAccess.WithLabelValues("patients", "read")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDetection(time.Now(), 1, 0, 0, 0)
		m.CacheLookup("hit")
		m.ObserveMerge(time.Now(), "success")
		m.RecordAccess("patients", "read")
	})
}

func TestNew_TwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
