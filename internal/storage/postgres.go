package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/theblitlabs/parity-sync/internal/models"
)

// PostgresStore implements Store on sqlx. Watermarks live in sync_state
// keyed by (device_id, sync_type).
type PostgresStore struct {
	db       *sqlx.DB
	deviceID string
}

func NewPostgresStore(db *sqlx.DB, deviceID string) *PostgresStore {
	return &PostgresStore{db: db, deviceID: deviceID}
}

// Connect opens a Postgres connection pool for the store.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

const upsertTaskQuery = `
	INSERT INTO tasks (id, status, model_id, source, device_id, created_at, updated_at, duration_ms, metadata)
	VALUES (:id, :status, :model_id, :source, :device_id, :created_at, :updated_at, :duration_ms, :metadata)
	ON CONFLICT (id) DO UPDATE SET
		status      = EXCLUDED.status,
		model_id    = EXCLUDED.model_id,
		source      = EXCLUDED.source,
		device_id   = EXCLUDED.device_id,
		updated_at  = EXCLUDED.updated_at,
		duration_ms = EXCLUDED.duration_ms,
		metadata    = EXCLUDED.metadata`

func (s *PostgresStore) SaveTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, task := range tasks {
		if _, err := tx.NamedExecContext(ctx, upsertTaskQuery, task); err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
		}
	}

	return tx.Commit()
}

const upsertEarningQuery = `
	INSERT INTO earnings (id, type, amount, task_id, device_id, created_at, updated_at)
	VALUES (:id, :type, :amount, :task_id, :device_id, :created_at, :updated_at)
	ON CONFLICT (id) DO UPDATE SET
		type       = EXCLUDED.type,
		amount     = EXCLUDED.amount,
		task_id    = EXCLUDED.task_id,
		device_id  = EXCLUDED.device_id,
		updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) SaveEarnings(ctx context.Context, earnings []*models.Earning) error {
	if len(earnings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, earning := range earnings {
		if _, err := tx.NamedExecContext(ctx, upsertEarningQuery, earning); err != nil {
			return fmt.Errorf("failed to upsert earning %s: %w", earning.ID, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetLocalTasks(ctx context.Context, filter *TaskFilter) ([]*models.Task, error) {
	query := `SELECT id, status, model_id, source, device_id, created_at, updated_at, duration_ms, metadata FROM tasks WHERE 1=1`
	args := []interface{}{}

	if filter != nil {
		if len(filter.IDs) > 0 {
			query += ` AND id IN (?)`
			args = append(args, filter.IDs)
		}
		if filter.Status != "" {
			query += ` AND status = ?`
			args = append(args, filter.Status)
		}
		if filter.Source != "" {
			query += ` AND source = ?`
			args = append(args, filter.Source)
		}
		if filter.UpdatedAfter != nil {
			query += ` AND updated_at >= ?`
			args = append(args, *filter.UpdatedAfter)
		}
	}
	query += ` ORDER BY updated_at`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build task query: %w", err)
	}
	query = s.db.Rebind(query)

	var tasks []*models.Task
	if err := s.db.SelectContext(ctx, &tasks, query, inArgs...); err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	return tasks, nil
}

func (s *PostgresStore) GetLocalEarnings(ctx context.Context, filter *EarningFilter) ([]*models.Earning, error) {
	query := `SELECT id, type, amount, task_id, device_id, created_at, updated_at FROM earnings WHERE 1=1`
	args := []interface{}{}

	if filter != nil {
		if len(filter.IDs) > 0 {
			query += ` AND id IN (?)`
			args = append(args, filter.IDs)
		}
		if filter.Type != "" {
			query += ` AND type = ?`
			args = append(args, filter.Type)
		}
		if filter.UpdatedAfter != nil {
			query += ` AND updated_at >= ?`
			args = append(args, *filter.UpdatedAfter)
		}
	}
	query += ` ORDER BY updated_at`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build earning query: %w", err)
	}
	query = s.db.Rebind(query)

	var earnings []*models.Earning
	if err := s.db.SelectContext(ctx, &earnings, query, inArgs...); err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}

	return earnings, nil
}

func (s *PostgresStore) GetLastSyncTime(ctx context.Context, syncType models.SyncType) (time.Time, error) {
	var last time.Time
	err := s.db.GetContext(ctx, &last,
		s.db.Rebind(`SELECT last_sync_time FROM sync_state WHERE device_id = ? AND sync_type = ?`),
		s.deviceID, syncType)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	return last, nil
}

// UpdateLastSyncTime upserts the watermark row, keeping the greater of the
// stored and the new timestamp so a stale writer can never move it back.
func (s *PostgresStore) UpdateLastSyncTime(ctx context.Context, syncType models.SyncType, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO sync_state (device_id, sync_type, last_sync_time, updated_at)
			VALUES (?, ?, ?, NOW())
			ON CONFLICT (device_id, sync_type) DO UPDATE SET
				last_sync_time = GREATEST(sync_state.last_sync_time, EXCLUDED.last_sync_time),
				updated_at     = NOW()`),
		s.deviceID, syncType, t.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
