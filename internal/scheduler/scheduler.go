package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
	syncengine "github.com/theblitlabs/parity-sync/internal/sync"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

// SyncRunner is the orchestrator surface the scheduler drives.
type SyncRunner interface {
	SyncTasks(ctx context.Context) (*models.SyncResult, error)
	SyncEarnings(ctx context.Context) (*models.SyncResult, error)
	SyncTasksFull(ctx context.Context) (*models.SyncResult, error)
	SyncEarningsFull(ctx context.Context) (*models.SyncResult, error)
}

// Scheduler drives periodic runs: incremental syncs on the short interval
// and full resyncs on the long one. The periodic full resync is the
// self-healing mechanism for records dropped by earlier partial runs, since
// watermarks advance even on per-record failure.
type Scheduler struct {
	cron    *cron.Cron
	runner  SyncRunner
	cfg     config.SyncConfig
	timeout time.Duration
}

func NewScheduler(runner SyncRunner, cfg config.SyncConfig) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		cfg:    cfg,
		// A scheduled run must finish before the next full resync slot.
		timeout: cfg.FullResyncInterval / 2,
	}
}

func (s *Scheduler) Start() error {
	log := logger.WithComponent("scheduler")

	if _, err := s.cron.AddFunc(every(s.cfg.Interval), func() {
		s.runBoth("incremental", s.runner.SyncTasks, s.runner.SyncEarnings)
	}); err != nil {
		return fmt.Errorf("failed to schedule incremental sync: %w", err)
	}

	if _, err := s.cron.AddFunc(every(s.cfg.FullResyncInterval), func() {
		s.runBoth("full", s.runner.SyncTasksFull, s.runner.SyncEarningsFull)
	}); err != nil {
		return fmt.Errorf("failed to schedule full resync: %w", err)
	}

	s.cron.Start()
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("full_resync_interval", s.cfg.FullResyncInterval).
		Msg("Sync scheduler started")
	return nil
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log := logger.WithComponent("scheduler")
	log.Info().Msg("Sync scheduler stopped")
}

// runBoth runs tasks and earnings concurrently; the kinds touch disjoint
// records and watermarks. A tick that lands while the previous run of the
// same kind still holds its guard is skipped, not queued.
func (s *Scheduler) runBoth(kind string, tasks, earnings func(context.Context) (*models.SyncResult, error)) {
	log := logger.WithComponent("scheduler")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.runOne(ctx, log, kind, models.SyncTypeEarnings, earnings)
	}()
	s.runOne(ctx, log, kind, models.SyncTypeTasks, tasks)
	<-done
}

func (s *Scheduler) runOne(ctx context.Context, log zerolog.Logger, kind string, syncType models.SyncType, run func(context.Context) (*models.SyncResult, error)) {
	result, err := run(ctx)
	switch {
	case err != nil && syncengine.IsCode(err, syncengine.ErrCodeSyncInProgress):
		log.Debug().Str("type", string(syncType)).Str("kind", kind).
			Msg("Previous run still active, skipping tick")
	case err != nil:
		log.Error().Err(err).Str("type", string(syncType)).Str("kind", kind).
			Msg("Scheduled sync failed")
	case !result.Success:
		log.Warn().Str("type", string(syncType)).Str("kind", kind).
			Int("errors", result.Errors).
			Msg("Scheduled sync completed partially")
	default:
		log.Info().Str("type", string(syncType)).Str("kind", kind).
			Int("synced", result.Synced).
			Int("conflicts", result.Conflicts).
			Msg("Scheduled sync completed")
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
