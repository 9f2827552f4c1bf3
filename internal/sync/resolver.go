package sync

import (
	"time"

	"github.com/theblitlabs/parity-sync/internal/models"
)

// ConflictResolver decides between two divergent copies of the same record.
// The strategy is fixed at construction; synchronizers build one resolver
// per run from the configuration snapshot so a mid-run strategy change can
// never split a batch.
type ConflictResolver struct {
	strategy models.ConflictStrategy
}

func NewConflictResolver(strategy models.ConflictStrategy) (*ConflictResolver, error) {
	if !strategy.Valid() {
		return nil, NewSyncError(ErrCodeConfig, "unknown conflict strategy").
			WithContext("strategy", string(strategy))
	}
	return &ConflictResolver{strategy: strategy}, nil
}

func (r *ConflictResolver) Strategy() models.ConflictStrategy {
	return r.strategy
}

// ResolveTaskConflict picks the winning copy of a task, or a merge of both.
// A nil resolved value with ResolutionManual means the conflict is deferred
// for operator review and nothing may be written.
func (r *ConflictResolver) ResolveTaskConflict(local, remote *models.Task) (*models.Task, models.ConflictResolution, error) {
	switch r.strategy {
	case models.StrategyLocalWins:
		return local.Clone(), models.ConflictResolution{
			Resolution: models.ResolutionLocal,
			Reason:     "local copy kept by strategy",
			Confidence: 1.0,
		}, nil
	case models.StrategyRemoteWins:
		return remote.Clone(), models.ConflictResolution{
			Resolution: models.ResolutionRemote,
			Reason:     "remote copy kept by strategy",
			Confidence: 1.0,
		}, nil
	case models.StrategyLatestWins:
		winner, res := latestWins(local, remote, local.UpdatedAt, remote.UpdatedAt)
		if winner == local {
			return local.Clone(), res, nil
		}
		return remote.Clone(), res, nil
	case models.StrategyMerge:
		return mergeTasks(local, remote), models.ConflictResolution{
			Resolution: models.ResolutionMerged,
			Reason:     "field-level merge of local and remote copies",
			Confidence: 0.75,
		}, nil
	case models.StrategyManual:
		return nil, models.ConflictResolution{
			Resolution: models.ResolutionManual,
			Reason:     "deferred for operator review",
			Confidence: 0,
		}, nil
	}
	return nil, models.ConflictResolution{}, NewSyncError(ErrCodeConflict, "unresolvable strategy").
		WithContext("strategy", string(r.strategy))
}

// ResolveEarningConflict is the earnings counterpart of ResolveTaskConflict.
func (r *ConflictResolver) ResolveEarningConflict(local, remote *models.Earning) (*models.Earning, models.ConflictResolution, error) {
	switch r.strategy {
	case models.StrategyLocalWins:
		return local.Clone(), models.ConflictResolution{
			Resolution: models.ResolutionLocal,
			Reason:     "local copy kept by strategy",
			Confidence: 1.0,
		}, nil
	case models.StrategyRemoteWins:
		return remote.Clone(), models.ConflictResolution{
			Resolution: models.ResolutionRemote,
			Reason:     "remote copy kept by strategy",
			Confidence: 1.0,
		}, nil
	case models.StrategyLatestWins:
		winner, res := latestWins(local, remote, local.UpdatedAt, remote.UpdatedAt)
		if winner == local {
			return local.Clone(), res, nil
		}
		return remote.Clone(), res, nil
	case models.StrategyMerge:
		return mergeEarnings(local, remote), models.ConflictResolution{
			Resolution: models.ResolutionMerged,
			Reason:     "field-level merge of local and remote copies",
			Confidence: 0.75,
		}, nil
	case models.StrategyManual:
		return nil, models.ConflictResolution{
			Resolution: models.ResolutionManual,
			Reason:     "deferred for operator review",
			Confidence: 0,
		}, nil
	}
	return nil, models.ConflictResolution{}, NewSyncError(ErrCodeConflict, "unresolvable strategy").
		WithContext("strategy", string(r.strategy))
}

// latestWins selects the more recently updated copy. Exact ties go to the
// remote copy since the gateway is the authority of record for concurrent
// edits. Confidence grows with the timestamp gap.
func latestWins(local, remote interface{}, localAt, remoteAt time.Time) (interface{}, models.ConflictResolution) {
	gap := remoteAt.Sub(localAt)
	if gap < 0 {
		gap = -gap
	}
	confidence := 0.5 + 0.5*minFloat(1, gap.Minutes()/10)

	if remoteAt.Before(localAt) {
		return local, models.ConflictResolution{
			Resolution: models.ResolutionLocal,
			Reason:     "local copy updated more recently",
			Confidence: confidence,
		}
	}
	reason := "remote copy updated more recently"
	if remoteAt.Equal(localAt) {
		reason = "timestamps equal, gateway copy is authoritative"
	}
	return remote, models.ConflictResolution{
		Resolution: models.ResolutionRemote,
		Reason:     reason,
		Confidence: confidence,
	}
}

// mergeTasks unions metadata keys, prefers non-empty field values, and keeps
// the more advanced lifecycle status. Remote values win per-field ties.
func mergeTasks(local, remote *models.Task) *models.Task {
	out := remote.Clone()

	if local.Status.Rank() > out.Status.Rank() {
		out.Status = local.Status
	}
	if out.ModelID == "" {
		out.ModelID = local.ModelID
	}
	if out.DeviceID == "" {
		out.DeviceID = local.DeviceID
	}
	if out.DurationMS == 0 {
		out.DurationMS = local.DurationMS
	}
	if local.CreatedAt.Before(out.CreatedAt) && !local.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if local.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = local.UpdatedAt
	}

	if len(local.Metadata) > 0 {
		merged := make(models.Metadata, len(local.Metadata)+len(out.Metadata))
		for k, v := range local.Metadata {
			merged[k] = v
		}
		for k, v := range out.Metadata {
			if v == nil || v == "" {
				if lv, ok := merged[k]; ok && lv != nil && lv != "" {
					continue
				}
			}
			merged[k] = v
		}
		out.Metadata = merged
	}

	return out
}

// mergeEarnings keeps the remote amount as authoritative unless it is unset,
// and the later update timestamp.
func mergeEarnings(local, remote *models.Earning) *models.Earning {
	out := remote.Clone()

	if out.Amount == 0 && local.Amount > 0 {
		out.Amount = local.Amount
	}
	if out.TaskID == "" {
		out.TaskID = local.TaskID
	}
	if out.DeviceID == "" {
		out.DeviceID = local.DeviceID
	}
	if local.CreatedAt.Before(out.CreatedAt) && !local.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if local.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = local.UpdatedAt
	}

	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
