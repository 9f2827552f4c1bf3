package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theblitlabs/parity-sync/internal/models"
)

// SyncMetrics exports per-run counters for the sync engine. It implements
// sync.RunObserver.
type SyncMetrics struct {
	runsTotal    *prometheus.CounterVec
	recordsTotal *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)

	return &SyncMetrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Completed sync runs by type and outcome.",
		}, []string{"type", "outcome"}),
		recordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_records_total",
			Help: "Records reconciled by type and applied action.",
		}, []string{"type", "action"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_conflicts_total",
			Help: "Conflicts detected during sync runs.",
		}, []string{"type"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Per-record and per-page errors during sync runs.",
		}, []string{"type"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of sync runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"type"}),
	}
}

// ObserveRun records one completed run.
func (m *SyncMetrics) ObserveRun(syncType models.SyncType, result *models.SyncResult) {
	if result == nil {
		return
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	t := string(syncType)

	m.runsTotal.WithLabelValues(t, outcome).Inc()
	m.recordsTotal.WithLabelValues(t, "created").Add(float64(result.Details.Created))
	m.recordsTotal.WithLabelValues(t, "updated").Add(float64(result.Details.Updated))
	m.recordsTotal.WithLabelValues(t, "skipped").Add(float64(result.Details.Skipped))
	m.conflicts.WithLabelValues(t).Add(float64(result.Conflicts))
	m.errorsTotal.WithLabelValues(t).Add(float64(result.Errors))
	m.runDuration.WithLabelValues(t).Observe(result.Duration.Seconds())
}
