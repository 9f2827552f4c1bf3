package sync

import (
	"fmt"

	"github.com/theblitlabs/parity-sync/internal/models"
)

// Validator runs pure integrity checks on single records before they are
// persisted or uploaded. It has no dependencies and no side effects; an
// invalid record is skipped and counted by the caller, never aborting the
// run.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTask checks a single task. A zero UpdatedAt is normalized to
// CreatedAt via Corrected so timestamp-based resolution stays well defined.
func (v *Validator) ValidateTask(task *models.Task) models.ValidationResult {
	result := models.ValidationResult{Valid: true}

	if task == nil {
		result.Valid = false
		result.Errors = append(result.Errors, "task is nil")
		return result
	}

	if task.ID == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "task ID is required")
	}
	if !task.Status.Valid() {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("unknown task status: %q", task.Status))
	}
	if !task.Source.Valid() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown task source: %q", task.Source))
	}
	if !task.UpdatedAt.IsZero() && task.UpdatedAt.Before(task.CreatedAt) {
		result.Valid = false
		result.Errors = append(result.Errors, "updated_at precedes created_at")
	}
	if task.DurationMS < 0 {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("duration must not be negative, got %dms", task.DurationMS))
	}

	if result.Valid && task.UpdatedAt.IsZero() {
		corrected := task.Clone()
		corrected.UpdatedAt = corrected.CreatedAt
		result.Warnings = append(result.Warnings, "updated_at missing, normalized to created_at")
		result.Corrected = corrected
	}

	return result
}

// ValidateEarning checks a single earning. A negative amount is an error,
// never clamped. A task reference that does not resolve locally is only a
// warning since tasks may arrive after the earnings they produced; the
// caller supplies knownTask for that check and may pass true when it cannot
// tell.
func (v *Validator) ValidateEarning(earning *models.Earning, knownTask bool) models.ValidationResult {
	result := models.ValidationResult{Valid: true}

	if earning == nil {
		result.Valid = false
		result.Errors = append(result.Errors, "earning is nil")
		return result
	}

	if earning.ID == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "earning ID is required")
	}
	if !earning.Type.Valid() {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("unknown earning type: %q", earning.Type))
	}
	if earning.Amount < 0 {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("amount must not be negative, got %f", earning.Amount))
	}
	if earning.TaskID != "" && !knownTask {
		result.Warnings = append(result.Warnings, fmt.Sprintf("earning references unknown task %s", earning.TaskID))
	}

	if result.Valid && earning.UpdatedAt.IsZero() {
		corrected := earning.Clone()
		corrected.UpdatedAt = corrected.CreatedAt
		result.Warnings = append(result.Warnings, "updated_at missing, normalized to created_at")
		result.Corrected = corrected
	}

	return result
}
