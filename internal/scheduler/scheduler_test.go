package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetTestMode()
	os.Exit(m.Run())
}

type fakeRunner struct {
	tasks    chan struct{}
	earnings chan struct{}
	full     chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		tasks:    make(chan struct{}, 1),
		earnings: make(chan struct{}, 1),
		full:     make(chan struct{}, 2),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (r *fakeRunner) SyncTasks(context.Context) (*models.SyncResult, error) {
	signal(r.tasks)
	return &models.SyncResult{Success: true}, nil
}

func (r *fakeRunner) SyncEarnings(context.Context) (*models.SyncResult, error) {
	signal(r.earnings)
	return &models.SyncResult{Success: true}, nil
}

func (r *fakeRunner) SyncTasksFull(context.Context) (*models.SyncResult, error) {
	signal(r.full)
	return &models.SyncResult{Success: true}, nil
}

func (r *fakeRunner) SyncEarningsFull(context.Context) (*models.SyncResult, error) {
	signal(r.full)
	return &models.SyncResult{Success: true}, nil
}

func waitSignal(t *testing.T, ch chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal(msg)
	}
}

func TestSchedulerRunsIncrementalTicks(t *testing.T) {
	runner := newFakeRunner()
	cfg := config.SyncConfig{
		Interval:           10 * time.Millisecond,
		FullResyncInterval: time.Hour,
		BatchSize:          10,
		Strategy:           models.StrategyLatestWins,
		Mode:               models.SyncModeIncremental,
	}

	s := NewScheduler(runner, cfg)
	require.NoError(t, s.Start())
	defer s.Stop()

	waitSignal(t, runner.tasks, "task sync never triggered")
	waitSignal(t, runner.earnings, "earnings sync never triggered")
}

func TestSchedulerRunsFullResync(t *testing.T) {
	runner := newFakeRunner()
	cfg := config.SyncConfig{
		Interval:           time.Hour,
		FullResyncInterval: 10 * time.Millisecond,
		BatchSize:          10,
		Strategy:           models.StrategyLatestWins,
		Mode:               models.SyncModeIncremental,
	}

	s := NewScheduler(runner, cfg)
	require.NoError(t, s.Start())

	waitSignal(t, runner.full, "full resync never triggered")
	waitSignal(t, runner.full, "second full sync kind never triggered")

	// Stop waits for in-flight jobs and must return.
	s.Stop()
}
