package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-sync/internal/models"
)

func TestValidateTask(t *testing.T) {
	v := NewValidator()
	now := time.Now()

	t.Run("valid_task", func(t *testing.T) {
		result := v.ValidateTask(testTask("t1", models.TaskStatusCompleted, now))
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
	})

	t.Run("missing_id", func(t *testing.T) {
		task := testTask("", models.TaskStatusCompleted, now)
		result := v.ValidateTask(task)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Errors, "task ID is required")
	})

	t.Run("unknown_status", func(t *testing.T) {
		task := testTask("t1", models.TaskStatus("exploded"), now)
		result := v.ValidateTask(task)
		assert.False(t, result.Valid)
	})

	t.Run("updated_before_created", func(t *testing.T) {
		task := testTask("t1", models.TaskStatusCompleted, now)
		task.UpdatedAt = task.CreatedAt.Add(-time.Minute)
		result := v.ValidateTask(task)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Errors, "updated_at precedes created_at")
	})

	t.Run("negative_duration", func(t *testing.T) {
		task := testTask("t1", models.TaskStatusCompleted, now)
		task.DurationMS = -50
		result := v.ValidateTask(task)
		assert.False(t, result.Valid)
	})

	t.Run("zero_updated_at_corrected", func(t *testing.T) {
		task := testTask("t1", models.TaskStatusPending, now)
		task.UpdatedAt = time.Time{}
		result := v.ValidateTask(task)
		require.True(t, result.Valid)
		corrected, ok := result.Corrected.(*models.Task)
		require.True(t, ok)
		assert.Equal(t, task.CreatedAt, corrected.UpdatedAt)
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("nil_task", func(t *testing.T) {
		result := v.ValidateTask(nil)
		assert.False(t, result.Valid)
	})
}

func TestValidateEarning(t *testing.T) {
	v := NewValidator()
	now := time.Now()

	t.Run("valid_earning", func(t *testing.T) {
		result := v.ValidateEarning(testEarning("e1", 2.5, now), true)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Warnings)
	})

	t.Run("negative_amount_is_error_not_clamped", func(t *testing.T) {
		earning := testEarning("e1", -5, now)
		result := v.ValidateEarning(earning, true)
		assert.False(t, result.Valid)
		assert.Equal(t, float64(-5), earning.Amount)
	})

	t.Run("unknown_type", func(t *testing.T) {
		earning := testEarning("e1", 1, now)
		earning.Type = models.EarningType("jackpot")
		result := v.ValidateEarning(earning, true)
		assert.False(t, result.Valid)
	})

	t.Run("dangling_task_reference_is_warning", func(t *testing.T) {
		earning := testEarning("e1", 1, now)
		earning.TaskID = "missing-task"
		result := v.ValidateEarning(earning, false)
		assert.True(t, result.Valid)
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("zero_amount_valid", func(t *testing.T) {
		result := v.ValidateEarning(testEarning("e1", 0, now), true)
		assert.True(t, result.Valid)
	})
}
