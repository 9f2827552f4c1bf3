package models

import "time"

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the probe outcome for one dependency.
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// SyncHealth aggregates component probes; Status is the worst component.
type SyncHealth struct {
	Status     HealthStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// SyncStatistics is a read-only snapshot of running counters maintained by
// the orchestrator across runs.
type SyncStatistics struct {
	TotalRuns         int64         `json:"total_runs"`
	SuccessfulRuns    int64         `json:"successful_runs"`
	FailedRuns        int64         `json:"failed_runs"`
	TotalSynced       int64         `json:"total_synced"`
	TotalErrors       int64         `json:"total_errors"`
	ConflictsResolved int64         `json:"conflicts_resolved"`
	AverageDuration   time.Duration `json:"average_duration"`
	ErrorRate         float64       `json:"error_rate"`
	LastRunAt         time.Time     `json:"last_run_at,omitempty"`
	LastRunType       SyncType      `json:"last_run_type,omitempty"`
}

type CheckOutcome string

const (
	CheckPass    CheckOutcome = "pass"
	CheckWarning CheckOutcome = "warning"
	CheckFail    CheckOutcome = "fail"
)

// worse orders outcomes for aggregation.
func (o CheckOutcome) worse(other CheckOutcome) CheckOutcome {
	rank := map[CheckOutcome]int{CheckPass: 0, CheckWarning: 1, CheckFail: 2}
	if rank[other] > rank[o] {
		return other
	}
	return o
}

// DiagnosticCheck is one named test from the diagnostics battery.
type DiagnosticCheck struct {
	Name     string        `json:"name"`
	Outcome  CheckOutcome  `json:"outcome"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SyncDiagnostics is the result of the full diagnostics battery; Status is
// the worst individual outcome.
type SyncDiagnostics struct {
	Status SyncDiagStatus    `json:"status"`
	Checks []DiagnosticCheck `json:"checks"`
	RanAt  time.Time         `json:"ran_at"`
}

// SyncDiagStatus mirrors CheckOutcome at the battery level.
type SyncDiagStatus = CheckOutcome

// OverallOutcome folds a set of checks into the worst outcome.
func OverallOutcome(checks []DiagnosticCheck) CheckOutcome {
	overall := CheckPass
	for _, c := range checks {
		overall = overall.worse(c.Outcome)
	}
	return overall
}
