package storage

import (
	"context"
	"time"

	"github.com/theblitlabs/parity-sync/internal/models"
)

// TaskFilter narrows local task reads. Nil fields are ignored.
type TaskFilter struct {
	IDs          []string
	Status       models.TaskStatus
	Source       models.TaskSource
	UpdatedAfter *time.Time
}

// EarningFilter narrows local earning reads.
type EarningFilter struct {
	IDs          []string
	Type         models.EarningType
	UpdatedAfter *time.Time
}

// Store is the narrow local-data boundary the sync engine depends on. It
// owns persisted tasks, earnings, and watermarks; the sync engine never
// issues raw queries. Writes are idempotent upserts keyed by record ID.
type Store interface {
	SaveTasks(ctx context.Context, tasks []*models.Task) error
	SaveEarnings(ctx context.Context, earnings []*models.Earning) error
	GetLocalTasks(ctx context.Context, filter *TaskFilter) ([]*models.Task, error)
	GetLocalEarnings(ctx context.Context, filter *EarningFilter) ([]*models.Earning, error)

	// GetLastSyncTime returns the zero time when the sync type has never
	// completed a run.
	GetLastSyncTime(ctx context.Context, syncType models.SyncType) (time.Time, error)
	// UpdateLastSyncTime advances the watermark; it never moves backwards.
	UpdateLastSyncTime(ctx context.Context, syncType models.SyncType, t time.Time) error

	Ping(ctx context.Context) error
}
