package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-sync/internal/models"
)

func TestEarningSyncCreatesRemoteRecords(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	gateway := &fakeGateway{
		fetchEarnings: singleEarningPage(
			testEarning("e1", 1.25, now),
			testEarning("e2", 0.75, now),
		),
	}

	s := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Details.Created)
	assert.Equal(t, 2, result.Synced)
	assert.Len(t, store.earnings, 2)
}

func TestEarningSyncNegativeAmountDiscarded(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	gateway := &fakeGateway{
		fetchEarnings: singleEarningPage(
			testEarning("e-bad", -5, now),
			testEarning("e-good", 2.5, now),
		),
	}

	s := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Details.Created)
	_, exists := store.earnings["e-bad"]
	assert.False(t, exists, "negative amount must never reach the store")
}

func TestEarningSyncDanglingTaskReferenceStillSynced(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()

	earning := testEarning("e1", 1.0, now)
	earning.TaskID = "not-synced-yet"
	gateway := &fakeGateway{fetchEarnings: singleEarningPage(earning)}

	s := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	// Tasks and earnings sync independently; the reference may resolve later.
	assert.Equal(t, 1, result.Details.Created)
	assert.Zero(t, result.Errors)
}

func TestEarningSyncKnownTaskReference(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tasks["t1"] = testTask("t1", models.TaskStatusCompleted, now)

	earning := testEarning("e1", 1.0, now)
	earning.TaskID = "t1"
	gateway := &fakeGateway{fetchEarnings: singleEarningPage(earning)}

	s := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Details.Created)
}

func TestEarningSyncResolvesConflict(t *testing.T) {
	t1 := time.Now().UTC().Add(-time.Hour)
	t2 := t1.Add(time.Minute)

	store := newMemStore()
	store.earnings["e1"] = testEarning("e1", 1.0, t1)

	gateway := &fakeGateway{
		fetchEarnings: singleEarningPage(testEarning("e1", 1.5, t2)),
	}

	s := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 1, result.Details.Updated)
	assert.Equal(t, 1.5, store.earnings["e1"].Amount)
}

func TestEarningSyncConnectivityLossStopsEarly(t *testing.T) {
	store := newMemStore()
	prior := time.Now().UTC().Add(-time.Hour)
	store.watermarks[models.SyncTypeEarnings] = prior

	gateway := &fakeGateway{
		fetchEarnings: func(context.Context, FetchParams) (*EarningPage, error) {
			return nil, errors.New("connection refused")
		},
	}

	s := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3*10, result.Errors)
	assert.Equal(t, prior, store.watermarks[models.SyncTypeEarnings])
}

func TestEarningSyncRejectsConcurrentRun(t *testing.T) {
	store := newMemStore()
	s := NewEarningSynchronizer(&fakeGateway{}, store, testSyncConfig())
	require.True(t, s.mu.TryLock())
	defer s.mu.Unlock()

	_, err := s.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeSyncInProgress))
}

func TestEarningSyncIndependentOfTaskLock(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	gateway := &fakeGateway{
		fetchEarnings: singleEarningPage(testEarning("e1", 1.0, now)),
	}

	tasks := NewTaskSynchronizer(gateway, store, testSyncConfig())
	require.True(t, tasks.mu.TryLock())
	defer tasks.mu.Unlock()

	earnings := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := earnings.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestEarningSyncSaveFailureCounted(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.saveEarningsErr = errors.New("disk full")

	gateway := &fakeGateway{
		fetchEarnings: singleEarningPage(testEarning("e1", 1.0, now)),
	}

	s := NewEarningSynchronizer(gateway, store, testSyncConfig())
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Details.Created)
	assert.Zero(t, result.Synced)
}
