package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for duplicate detection and merges.
type Metrics struct {
	DetectionDuration prometheus.Histogram
	PatientsScanned   prometheus.Gauge
	GroupsFound       *prometheus.GaugeVec
	ReportCacheHits   *prometheus.CounterVec
	MergesTotal       *prometheus.CounterVec
	MergeDuration     prometheus.Histogram
	DataAccess        *prometheus.CounterVec
}

// New registers every metric with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DetectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "records_dedup_detection_duration_seconds",
			Help:    "Duration of a full duplicate detection run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		PatientsScanned: f.NewGauge(prometheus.GaugeOpts{
			Name: "records_dedup_patients_scanned",
			Help: "Number of patients in the last detection snapshot",
		}),
		GroupsFound: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "records_dedup_groups",
			Help: "Duplicate groups found by the last detection run, by confidence",
		}, []string{"confidence"}),
		ReportCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "records_dedup_report_cache_total",
			Help: "Detection report cache lookups, by result (hit, miss, error)",
		}, []string{"result"}),
		MergesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "records_merges_total",
			Help: "Merge attempts, by outcome (success, validation, persistence, partial)",
		}, []string{"outcome"}),
		MergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "records_merge_duration_seconds",
			Help:    "Duration of merge executions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		DataAccess: f.NewCounterVec(prometheus.CounterOpts{
			Name: "records_patient_data_access_total",
			Help: "Audited API requests, by resource and action",
		}, []string{"resource", "action"}),
	}
}

// ObserveDetection records a finished detection run.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveDetection(start time.Time, patients, high, medium, low int) {
	if m == nil {
		return
	}
	m.DetectionDuration.Observe(time.Since(start).Seconds())
	m.PatientsScanned.Set(float64(patients))
	m.GroupsFound.WithLabelValues("high").Set(float64(high))
	m.GroupsFound.WithLabelValues("medium").Set(float64(medium))
	m.GroupsFound.WithLabelValues("low").Set(float64(low))
}

// CacheLookup counts a report cache lookup.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.ReportCacheHits.WithLabelValues(result).Inc()
}

// ObserveMerge records a merge attempt and its outcome.
func (m *Metrics) ObserveMerge(start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(outcome).Inc()
	m.MergeDuration.Observe(time.Since(start).Seconds())
}

// RecordAccess counts one audited request.
func (m *Metrics) RecordAccess(resource, action string) {
	if m == nil {
		return
	}
	m.DataAccess.WithLabelValues(resource, action).Inc()
}
