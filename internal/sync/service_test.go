package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
)

func serviceTestConfig() config.SyncConfig {
	return config.SyncConfig{
		BatchSize:       10,
		MaxRetries:      0,
		RetryDelay:      time.Millisecond,
		MaxRetryDelay:   5 * time.Millisecond,
		Strategy:        models.StrategyLatestWins,
		Mode:            models.SyncModeIncremental,
		TasksEnabled:    true,
		EarningsEnabled: true,
	}
}

func TestServiceAggregatesStatistics(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	gateway := &fakeGateway{
		fetchTasks:    singleTaskPage(testTask("t1", models.TaskStatusCompleted, now)),
		fetchEarnings: singleEarningPage(testEarning("e1", 1.0, now)),
	}

	svc := NewService(serviceTestConfig(), gateway, store)

	_, err := svc.SyncTasks(context.Background())
	require.NoError(t, err)
	_, err = svc.SyncEarnings(context.Background())
	require.NoError(t, err)

	stats := svc.GetSyncStatistics()
	assert.Equal(t, int64(2), stats.TotalRuns)
	assert.Equal(t, int64(2), stats.SuccessfulRuns)
	assert.Zero(t, stats.FailedRuns)
	assert.Equal(t, int64(2), stats.TotalSynced)
	assert.Equal(t, models.SyncTypeEarnings, stats.LastRunType)
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestServiceCountsFailedRuns(t *testing.T) {
	store := newMemStore()
	gateway := &fakeGateway{
		fetchTasks: func(context.Context, FetchParams) (*TaskPage, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewService(serviceTestConfig(), gateway, store)
	result, err := svc.SyncTasks(context.Background())
	require.NoError(t, err)
	require.False(t, result.Success)

	stats := svc.GetSyncStatistics()
	assert.Equal(t, int64(1), stats.FailedRuns)
	assert.Equal(t, int64(30), stats.TotalErrors)
	assert.Equal(t, 1.0, stats.ErrorRate)
}

func TestServiceDisabledSyncTypes(t *testing.T) {
	cfg := serviceTestConfig()
	cfg.TasksEnabled = false
	cfg.EarningsEnabled = false

	svc := NewService(cfg, &fakeGateway{}, newMemStore())

	_, err := svc.SyncTasks(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfig))

	_, err = svc.SyncEarningsFull(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfig))

	assert.Zero(t, svc.GetSyncStatistics().TotalRuns, "rejected runs are not recorded")
}

func TestServiceSetConflictStrategy(t *testing.T) {
	svc := NewService(serviceTestConfig(), &fakeGateway{}, newMemStore())

	require.NoError(t, svc.SetConflictStrategy(models.StrategyLocalWins))
	assert.Equal(t, models.StrategyLocalWins, svc.configSnapshot().Strategy)

	err := svc.SetConflictStrategy(models.ConflictStrategy("coin_flip"))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfig))
	assert.Equal(t, models.StrategyLocalWins, svc.configSnapshot().Strategy)
}

func TestServiceReconfigure(t *testing.T) {
	svc := NewService(serviceTestConfig(), &fakeGateway{}, newMemStore())

	next := serviceTestConfig()
	next.BatchSize = 500
	require.NoError(t, svc.Reconfigure(next))
	assert.Equal(t, 500, svc.configSnapshot().BatchSize)

	bad := serviceTestConfig()
	bad.BatchSize = -1
	err := svc.Reconfigure(bad)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfig))
	assert.Equal(t, 500, svc.configSnapshot().BatchSize, "invalid config is not applied")
}

type recordingObserver struct {
	types   []models.SyncType
	results []*models.SyncResult
}

func (o *recordingObserver) ObserveRun(syncType models.SyncType, result *models.SyncResult) {
	o.types = append(o.types, syncType)
	o.results = append(o.results, result)
}

func TestServiceNotifiesObserver(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(testTask("t1", models.TaskStatusCompleted, now)),
	}

	observer := &recordingObserver{}
	svc := NewService(serviceTestConfig(), gateway, store, WithRunObserver(observer))

	_, err := svc.SyncTasks(context.Background())
	require.NoError(t, err)

	require.Len(t, observer.results, 1)
	assert.Equal(t, models.SyncTypeTasks, observer.types[0])
	assert.Equal(t, 1, observer.results[0].Synced)
}

func TestServiceHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		svc := NewService(serviceTestConfig(), &fakeGateway{}, newMemStore())
		health := svc.CheckSyncHealth(context.Background())
		assert.Equal(t, models.HealthStatusHealthy, health.Status)
		assert.Len(t, health.Components, 3)
	})

	t.Run("gateway_down", func(t *testing.T) {
		gateway := &fakeGateway{
			checkConnectivity: func(context.Context) error { return errors.New("unreachable") },
		}
		svc := NewService(serviceTestConfig(), gateway, newMemStore())
		health := svc.CheckSyncHealth(context.Background())
		assert.Equal(t, models.HealthStatusUnhealthy, health.Status)
		assert.Equal(t, models.HealthStatusUnhealthy, health.Components["gateway"].Status)
		assert.Equal(t, models.HealthStatusHealthy, health.Components["local_store"].Status)
	})

	t.Run("store_down", func(t *testing.T) {
		store := newMemStore()
		store.pingErr = errors.New("connection pool exhausted")
		svc := NewService(serviceTestConfig(), &fakeGateway{}, store)
		health := svc.CheckSyncHealth(context.Background())
		assert.Equal(t, models.HealthStatusUnhealthy, health.Status)
	})

	t.Run("everything_disabled_is_degraded", func(t *testing.T) {
		cfg := serviceTestConfig()
		cfg.TasksEnabled = false
		cfg.EarningsEnabled = false
		svc := NewService(cfg, &fakeGateway{}, newMemStore())
		health := svc.CheckSyncHealth(context.Background())
		assert.Equal(t, models.HealthStatusDegraded, health.Status)
	})
}

func TestServiceDiagnostics(t *testing.T) {
	t.Run("all_pass", func(t *testing.T) {
		svc := NewService(serviceTestConfig(), &fakeGateway{}, newMemStore())
		diag := svc.PerformSyncDiagnostics(context.Background())
		assert.Equal(t, models.CheckPass, diag.Status)
		assert.Len(t, diag.Checks, 4)
		for _, check := range diag.Checks {
			assert.Equal(t, models.CheckPass, check.Outcome, check.Name)
		}
	})

	t.Run("moderate_skew_warns", func(t *testing.T) {
		gateway := &fakeGateway{
			serverTime: func(context.Context) (time.Time, error) {
				return time.Now().Add(-time.Minute), nil
			},
		}
		svc := NewService(serviceTestConfig(), gateway, newMemStore())
		diag := svc.PerformSyncDiagnostics(context.Background())
		assert.Equal(t, models.CheckWarning, diag.Status)
		assert.Equal(t, models.CheckWarning, diagCheck(t, diag, "clock_skew").Outcome)
	})

	t.Run("severe_skew_fails", func(t *testing.T) {
		gateway := &fakeGateway{
			serverTime: func(context.Context) (time.Time, error) {
				return time.Now().Add(-10 * time.Minute), nil
			},
		}
		svc := NewService(serviceTestConfig(), gateway, newMemStore())
		diag := svc.PerformSyncDiagnostics(context.Background())
		assert.Equal(t, models.CheckFail, diag.Status)
	})

	t.Run("worst_outcome_wins", func(t *testing.T) {
		store := newMemStore()
		store.pingErr = errors.New("down")
		gateway := &fakeGateway{
			serverTime: func(context.Context) (time.Time, error) {
				return time.Now().Add(-time.Minute), nil
			},
		}
		svc := NewService(serviceTestConfig(), gateway, store)
		diag := svc.PerformSyncDiagnostics(context.Background())
		assert.Equal(t, models.CheckFail, diag.Status)
		assert.Equal(t, models.CheckFail, diagCheck(t, diag, "local_store").Outcome)
	})
}

func diagCheck(t *testing.T, diag models.SyncDiagnostics, name string) models.DiagnosticCheck {
	t.Helper()
	for _, check := range diag.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q not found", name)
	return models.DiagnosticCheck{}
}
