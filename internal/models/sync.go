package models

import "time"

type SyncType string

const (
	SyncTypeTasks    SyncType = "tasks"
	SyncTypeEarnings SyncType = "earnings"
)

func (t SyncType) Valid() bool {
	switch t {
	case SyncTypeTasks, SyncTypeEarnings:
		return true
	}
	return false
}

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
	SyncModeDelta       SyncMode = "delta"
)

func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeFull, SyncModeIncremental, SyncModeDelta:
		return true
	}
	return false
}

// Incremental reports whether the mode fetches from the last watermark
// instead of the full record set.
func (m SyncMode) Incremental() bool {
	return m == SyncModeIncremental || m == SyncModeDelta
}

type ConflictStrategy string

const (
	StrategyLocalWins  ConflictStrategy = "local_wins"
	StrategyRemoteWins ConflictStrategy = "remote_wins"
	StrategyLatestWins ConflictStrategy = "latest_wins"
	StrategyMerge      ConflictStrategy = "merge"
	StrategyManual     ConflictStrategy = "manual"
)

func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyLocalWins, StrategyRemoteWins, StrategyLatestWins, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// SyncDetails breaks down the per-record outcomes of a run.
type SyncDetails struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

// SyncResult summarizes one sync run. Success is false only when the run
// stopped early from total connectivity loss or cancellation, never from
// per-record errors.
type SyncResult struct {
	Success   bool          `json:"success"`
	Synced    int           `json:"synced"`
	Errors    int           `json:"errors"`
	Conflicts int           `json:"conflicts"`
	Details   SyncDetails   `json:"details"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// UploadResult reports a batch upload. Partial failure is expected and
// carried in Failed/Errors rather than surfaced as a call error.
type UploadResult struct {
	Uploaded int      `json:"uploaded"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ValidationResult is the outcome of a single-record integrity check.
// Corrected, when set, is a normalized copy the caller should persist in
// place of the original.
type ValidationResult struct {
	Valid     bool        `json:"is_valid"`
	Errors    []string    `json:"errors,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Corrected interface{} `json:"corrected_data,omitempty"`
}

type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerged Resolution = "merged"
	ResolutionManual Resolution = "manual"
)

// ConflictResolution describes how a conflict was decided. Confidence is a
// 0-1 heuristic for reporting only.
type ConflictResolution struct {
	Resolution Resolution `json:"resolution"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

// TaskConflict pairs the two divergent copies of one task. It exists only
// for the duration of a resolution and is never persisted.
type TaskConflict struct {
	ID         string    `json:"id"`
	Local      *Task     `json:"local"`
	Remote     *Task     `json:"remote"`
	DetectedAt time.Time `json:"detected_at"`
}

// EarningConflict is the earnings counterpart of TaskConflict.
type EarningConflict struct {
	ID         string    `json:"id"`
	Local      *Earning  `json:"local"`
	Remote     *Earning  `json:"remote"`
	DetectedAt time.Time `json:"detected_at"`
}
