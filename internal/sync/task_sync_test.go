package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
)

func TestTaskSyncCreatesRemoteRecords(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(
			testTask("t1", models.TaskStatusCompleted, now),
			testTask("t2", models.TaskStatusRunning, now),
		),
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Details.Created)
	assert.Equal(t, 0, result.Details.Updated)
	assert.Equal(t, 2, result.Synced)
	assert.Zero(t, result.Errors)
	assert.Zero(t, result.Conflicts)
	assert.Len(t, store.tasks, 2)
}

func TestTaskSyncIdempotent(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(testTask("t1", models.TaskStatusCompleted, now)),
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())

	first, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Details.Created)

	second, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Details.Created)
	assert.Equal(t, 0, second.Details.Updated)
	assert.Equal(t, 1, second.Details.Skipped)
	assert.Zero(t, second.Conflicts)
}

func TestTaskSyncIdenticalRecordSkipped(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tasks["t1"] = testTask("t1", models.TaskStatusCompleted, now)

	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(testTask("t1", models.TaskStatusCompleted, now)),
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Details.Skipped)
	assert.Equal(t, 0, result.Details.Updated)
	assert.Zero(t, result.Conflicts)
}

func TestTaskSyncResolvesConflictLatestWins(t *testing.T) {
	t1 := time.Now().UTC().Add(-time.Hour)
	t2 := t1.Add(30 * time.Minute)

	store := newMemStore()
	store.tasks["t1"] = testTask("t1", models.TaskStatusRunning, t1)

	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(testTask("t1", models.TaskStatusCompleted, t2)),
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Details.Updated)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, models.TaskStatusCompleted, store.tasks["t1"].Status)
}

func TestTaskSyncManualStrategyDefersWrite(t *testing.T) {
	t1 := time.Now().UTC().Add(-time.Hour)

	store := newMemStore()
	store.tasks["t1"] = testTask("t1", models.TaskStatusRunning, t1)

	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(testTask("t1", models.TaskStatusCompleted, t1.Add(time.Minute))),
	}

	cfg := config.SyncConfig{
		BatchSize:     10,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		Strategy:      models.StrategyManual,
		Mode:          models.SyncModeIncremental,
	}
	s := NewTaskSynchronizer(gateway, store, func() config.SyncConfig { return cfg })

	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Details.Updated)
	// The local copy stays untouched.
	assert.Equal(t, models.TaskStatusRunning, store.tasks["t1"].Status)
}

func TestTaskSyncInvalidRecordDiscarded(t *testing.T) {
	now := time.Now().UTC()
	bad := testTask("t-bad", models.TaskStatusCompleted, now)
	bad.DurationMS = -1

	store := newMemStore()
	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(bad, testTask("t-good", models.TaskStatusCompleted, now)),
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Details.Created)
	_, exists := store.tasks["t-bad"]
	assert.False(t, exists, "invalid record must never reach the store")
}

func TestTaskSyncConnectivityLossStopsEarly(t *testing.T) {
	store := newMemStore()
	prior := time.Now().UTC().Add(-time.Hour)
	store.watermarks[models.SyncTypeTasks] = prior

	gateway := &fakeGateway{
		fetchTasks: func(context.Context, FetchParams) (*TaskPage, error) {
			return nil, errors.New("connection refused")
		},
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	// Each failed page counts as a full page of errors.
	assert.Equal(t, 3*10, result.Errors)
	assert.Equal(t, prior, store.watermarks[models.SyncTypeTasks], "watermark must not advance")
	assert.Equal(t, 3, gateway.taskFetchCalls)
}

func TestTaskSyncRecoversAfterSinglePageFailure(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()

	gateway := &fakeGateway{}
	gateway.fetchTasks = func(_ context.Context, params FetchParams) (*TaskPage, error) {
		if params.Page == 1 {
			return nil, errors.New("connection reset")
		}
		return &TaskPage{
			Tasks:      []*models.Task{testTask("t1", models.TaskStatusCompleted, now)},
			Page:       params.Page,
			HasMore:    false,
			ServerTime: now,
		}, nil
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 10, result.Errors)
	assert.Equal(t, 1, result.Details.Created)
}

func TestTaskSyncWatermarkUsesServerTime(t *testing.T) {
	serverNow := time.Now().UTC().Add(2 * time.Minute) // device clock behind gateway
	store := newMemStore()
	gateway := &fakeGateway{
		serverTime: func(context.Context) (time.Time, error) { return serverNow, nil },
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, serverNow, store.watermarks[models.SyncTypeTasks])
}

func TestTaskSyncWatermarkMonotonic(t *testing.T) {
	prior := time.Now().UTC()
	stale := prior.Add(-time.Hour)

	store := newMemStore()
	store.watermarks[models.SyncTypeTasks] = prior
	gateway := &fakeGateway{
		serverTime: func(context.Context) (time.Time, error) { return stale, nil },
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, prior, store.watermarks[models.SyncTypeTasks])
}

func TestTaskSyncCancellationLeavesWatermark(t *testing.T) {
	store := newMemStore()
	gateway := &fakeGateway{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(ctx)

	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeCancelled))
	assert.False(t, result.Success)
	assert.True(t, store.watermarks[models.SyncTypeTasks].IsZero())
}

func TestTaskSyncRejectsConcurrentRun(t *testing.T) {
	store := newMemStore()
	gateway := &fakeGateway{}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	require.True(t, s.mu.TryLock())
	defer s.mu.Unlock()

	_, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeSyncInProgress))
}

func TestTaskSyncInvalidConfigFailsFast(t *testing.T) {
	store := newMemStore()
	gateway := &fakeGateway{}

	cfg := config.SyncConfig{BatchSize: 0, Strategy: models.StrategyLatestWins, Mode: models.SyncModeFull}
	s := NewTaskSynchronizer(gateway, store, func() config.SyncConfig { return cfg })

	_, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfig))
	assert.Zero(t, gateway.taskFetchCalls, "no network call on configuration error")
}

func TestTaskSyncIncrementalUsesWatermark(t *testing.T) {
	watermark := time.Now().UTC().Add(-time.Hour)
	store := newMemStore()
	store.watermarks[models.SyncTypeTasks] = watermark

	var gotSince *time.Time
	gateway := &fakeGateway{}
	gateway.fetchTasks = func(_ context.Context, params FetchParams) (*TaskPage, error) {
		gotSince = params.LastSyncTime
		return &TaskPage{HasMore: false}, nil
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	_, err := s.Sync(context.Background())
	require.NoError(t, err)

	require.NotNil(t, gotSince)
	assert.Equal(t, watermark, *gotSince)
}

func TestTaskSyncFullIgnoresWatermark(t *testing.T) {
	store := newMemStore()
	store.watermarks[models.SyncTypeTasks] = time.Now().UTC()

	var gotSince *time.Time
	gateway := &fakeGateway{}
	gateway.fetchTasks = func(_ context.Context, params FetchParams) (*TaskPage, error) {
		gotSince = params.LastSyncTime
		return &TaskPage{HasMore: false}, nil
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	_, err := s.SyncFull(context.Background())
	require.NoError(t, err)
	assert.Nil(t, gotSince)
}

func TestTaskSyncPushesLocalOnlyRecords(t *testing.T) {
	now := time.Now().UTC()

	store := newMemStore()
	localOnly := testTask("local-1", models.TaskStatusCompleted, now)
	localOnly.Source = models.TaskSourceLocal
	store.tasks["local-1"] = localOnly
	store.tasks["shared"] = testTask("shared", models.TaskStatusCompleted, now)

	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(testTask("shared", models.TaskStatusCompleted, now)),
	}

	cfg := config.SyncConfig{
		BatchSize:     10,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		Strategy:      models.StrategyLatestWins,
		Mode:          models.SyncModeFull,
		PushLocal:     true,
	}
	s := NewTaskSynchronizer(gateway, store, func() config.SyncConfig { return cfg })

	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Len(t, gateway.uploadedTasks, 1)
	assert.Equal(t, "local-1", gateway.uploadedTasks[0].ID)
}

func TestTaskSyncUploadFailuresCounted(t *testing.T) {
	now := time.Now().UTC()

	store := newMemStore()
	store.tasks["local-1"] = testTask("local-1", models.TaskStatusCompleted, now)

	gateway := &fakeGateway{
		uploadTasks: func(_ context.Context, tasks []*models.Task) (*models.UploadResult, error) {
			return &models.UploadResult{Failed: len(tasks), Errors: []string{"rejected"}}, nil
		},
	}

	cfg := config.SyncConfig{
		BatchSize:     10,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		Strategy:      models.StrategyLatestWins,
		Mode:          models.SyncModeFull,
		PushLocal:     true,
	}
	s := NewTaskSynchronizer(gateway, store, func() config.SyncConfig { return cfg })

	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	// Upload failure does not fail the run; the next run converges.
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Errors)
}

func TestTaskSyncRequestTimeoutIsPageFailure(t *testing.T) {
	var fetchCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/time":
			json.NewEncoder(w).Encode(timeEnvelope{ServerTime: time.Now().UTC()})
		case "/api/sync/tasks":
			atomic.AddInt32(&fetchCalls, 1)
			time.Sleep(300 * time.Millisecond)
		}
	}))
	defer server.Close()

	client := NewHTTPGatewayClient(
		config.GatewayConfig{Address: server.URL},
		config.RunnerConfig{DeviceID: "device-1"},
		50*time.Millisecond,
		nil,
	)

	store := newMemStore()
	s := NewTaskSynchronizer(client, store, testSyncConfig())

	result, err := s.Sync(context.Background())
	require.NoError(t, err, "a timed-out request is a page failure, not cancellation")

	assert.False(t, result.Success)
	assert.Equal(t, 3*10, result.Errors)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fetchCalls),
		"each page gets its own attempt before the run declares connectivity loss")
	assert.True(t, store.watermarks[models.SyncTypeTasks].IsZero())
}

func TestTaskSyncServerTimeTimeoutFallsBackToLocalClock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/time":
			time.Sleep(300 * time.Millisecond)
		case "/api/sync/tasks":
			serveFetch(w, nil, false)
		}
	}))
	defer server.Close()

	client := NewHTTPGatewayClient(
		config.GatewayConfig{Address: server.URL},
		config.RunnerConfig{DeviceID: "device-1"},
		50*time.Millisecond,
		nil,
	)

	store := newMemStore()
	s := NewTaskSynchronizer(client, store, testSyncConfig())

	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, store.watermarks[models.SyncTypeTasks].IsZero(),
		"local clock stands in for an unreadable gateway clock")
}

func TestTaskSyncAccounting(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tasks["skip"] = testTask("skip", models.TaskStatusCompleted, now)
	store.tasks["update"] = testTask("update", models.TaskStatusRunning, now.Add(-time.Hour))

	bad := testTask("bad", models.TaskStatusCompleted, now)
	bad.DurationMS = -1

	gateway := &fakeGateway{
		fetchTasks: singleTaskPage(
			testTask("skip", models.TaskStatusCompleted, now),
			testTask("update", models.TaskStatusCompleted, now),
			testTask("create", models.TaskStatusPending, now),
			bad,
		),
	}

	s := NewTaskSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, result.Details.Created+result.Details.Updated+result.Details.Skipped, result.Synced)
	assert.Equal(t, 3, result.Synced)
	assert.Equal(t, 1, result.Errors)
	assert.LessOrEqual(t, result.Synced+result.Errors, 4)
}
