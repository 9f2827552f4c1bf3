package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
	"github.com/theblitlabs/parity-sync/internal/storage"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

// Clock skew bounds for diagnostics. They guard reporting only; the sync
// path always uses the gateway clock for watermarks.
const (
	clockSkewWarn = 30 * time.Second
	clockSkewFail = 5 * time.Minute
)

// RunObserver receives completed run results, e.g. for metrics export.
type RunObserver interface {
	ObserveRun(syncType models.SyncType, result *models.SyncResult)
}

// Service is the composition root of the sync engine. It owns the
// configuration, delegates runs to the per-kind synchronizers, keeps the
// running statistics, and answers health and diagnostics queries. Task and
// earnings runs may execute concurrently; repeated runs of the same kind
// are serialized by the synchronizers' guards.
type Service struct {
	gateway  GatewayClient
	store    storage.Store
	tasks    *TaskSynchronizer
	earnings *EarningSynchronizer
	observer RunObserver

	cfgMu sync.RWMutex
	cfg   config.SyncConfig

	statsMu       sync.RWMutex
	stats         models.SyncStatistics
	totalDuration time.Duration
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithRunObserver attaches a metrics observer to completed runs.
func WithRunObserver(observer RunObserver) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

func NewService(cfg config.SyncConfig, gateway GatewayClient, store storage.Store, opts ...Option) *Service {
	s := &Service{
		gateway: gateway,
		store:   store,
		cfg:     cfg,
	}
	s.tasks = NewTaskSynchronizer(gateway, store, s.configSnapshot)
	s.earnings = NewEarningSynchronizer(gateway, store, s.configSnapshot)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// configSnapshot hands each run a copy of the configuration taken at its
// start, so reconfiguration applies only to subsequent runs.
func (s *Service) configSnapshot() config.SyncConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// SyncTasks runs one task reconciliation per the configured mode.
func (s *Service) SyncTasks(ctx context.Context) (*models.SyncResult, error) {
	if !s.configSnapshot().TasksEnabled {
		return nil, NewSyncError(ErrCodeConfig, "task sync is disabled")
	}
	result, err := s.tasks.Sync(ctx)
	s.recordRun(models.SyncTypeTasks, result)
	return result, err
}

// SyncEarnings runs one earnings reconciliation per the configured mode.
func (s *Service) SyncEarnings(ctx context.Context) (*models.SyncResult, error) {
	if !s.configSnapshot().EarningsEnabled {
		return nil, NewSyncError(ErrCodeConfig, "earnings sync is disabled")
	}
	result, err := s.earnings.Sync(ctx)
	s.recordRun(models.SyncTypeEarnings, result)
	return result, err
}

// SyncTasksIncremental runs task sync from an explicit watermark.
func (s *Service) SyncTasksIncremental(ctx context.Context, since time.Time) (*models.SyncResult, error) {
	if !s.configSnapshot().TasksEnabled {
		return nil, NewSyncError(ErrCodeConfig, "task sync is disabled")
	}
	result, err := s.tasks.SyncIncremental(ctx, since)
	s.recordRun(models.SyncTypeTasks, result)
	return result, err
}

// SyncEarningsIncremental runs earnings sync from an explicit watermark.
func (s *Service) SyncEarningsIncremental(ctx context.Context, since time.Time) (*models.SyncResult, error) {
	if !s.configSnapshot().EarningsEnabled {
		return nil, NewSyncError(ErrCodeConfig, "earnings sync is disabled")
	}
	result, err := s.earnings.SyncIncremental(ctx, since)
	s.recordRun(models.SyncTypeEarnings, result)
	return result, err
}

// SyncTasksFull forces a full task resync regardless of mode and watermark.
func (s *Service) SyncTasksFull(ctx context.Context) (*models.SyncResult, error) {
	if !s.configSnapshot().TasksEnabled {
		return nil, NewSyncError(ErrCodeConfig, "task sync is disabled")
	}
	result, err := s.tasks.SyncFull(ctx)
	s.recordRun(models.SyncTypeTasks, result)
	return result, err
}

// SyncEarningsFull forces a full earnings resync.
func (s *Service) SyncEarningsFull(ctx context.Context) (*models.SyncResult, error) {
	if !s.configSnapshot().EarningsEnabled {
		return nil, NewSyncError(ErrCodeConfig, "earnings sync is disabled")
	}
	result, err := s.earnings.SyncFull(ctx)
	s.recordRun(models.SyncTypeEarnings, result)
	return result, err
}

// SetConflictStrategy swaps the strategy for subsequent runs. A run already
// in flight keeps the snapshot it started with.
func (s *Service) SetConflictStrategy(strategy models.ConflictStrategy) error {
	if !strategy.Valid() {
		return NewSyncError(ErrCodeConfig, "unknown conflict strategy").
			WithContext("strategy", string(strategy))
	}
	s.cfgMu.Lock()
	s.cfg.Strategy = strategy
	s.cfgMu.Unlock()

	log := logger.WithComponent("sync.service")
	log.Info().
		Str("strategy", string(strategy)).
		Msg("Conflict strategy updated")
	return nil
}

// Reconfigure replaces the whole sync configuration for subsequent runs.
func (s *Service) Reconfigure(cfg config.SyncConfig) error {
	if err := cfg.Validate(); err != nil {
		return NewSyncError(ErrCodeConfig, "invalid sync configuration").Wrap(err)
	}
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	return nil
}

func (s *Service) recordRun(syncType models.SyncType, result *models.SyncResult) {
	if result == nil {
		return
	}

	s.statsMu.Lock()
	s.stats.TotalRuns++
	if result.Success {
		s.stats.SuccessfulRuns++
	} else {
		s.stats.FailedRuns++
	}
	s.stats.TotalSynced += int64(result.Synced)
	s.stats.TotalErrors += int64(result.Errors)
	s.stats.ConflictsResolved += int64(result.Conflicts)
	s.totalDuration += result.Duration
	s.stats.AverageDuration = s.totalDuration / time.Duration(s.stats.TotalRuns)
	if total := s.stats.TotalSynced + s.stats.TotalErrors; total > 0 {
		s.stats.ErrorRate = float64(s.stats.TotalErrors) / float64(total)
	}
	s.stats.LastRunAt = result.Timestamp
	s.stats.LastRunType = syncType
	s.statsMu.Unlock()

	if s.observer != nil {
		s.observer.ObserveRun(syncType, result)
	}
}

// GetSyncStatistics returns a snapshot of the running counters.
func (s *Service) GetSyncStatistics() models.SyncStatistics {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// CheckSyncHealth independently probes the gateway, the local store, and
// the configuration. It never runs a sync.
func (s *Service) CheckSyncHealth(ctx context.Context) models.SyncHealth {
	now := time.Now()
	components := make(map[string]models.ComponentHealth, 3)

	gateway := models.ComponentHealth{Name: "gateway", Status: models.HealthStatusHealthy, CheckedAt: now}
	if err := s.gateway.CheckConnectivity(ctx); err != nil {
		gateway.Status = models.HealthStatusUnhealthy
		gateway.Message = err.Error()
	}
	components["gateway"] = gateway

	store := models.ComponentHealth{Name: "local_store", Status: models.HealthStatusHealthy, CheckedAt: now}
	if err := s.store.Ping(ctx); err != nil {
		store.Status = models.HealthStatusUnhealthy
		store.Message = err.Error()
	}
	components["local_store"] = store

	cfg := s.configSnapshot()
	conf := models.ComponentHealth{Name: "configuration", Status: models.HealthStatusHealthy, CheckedAt: now}
	if err := cfg.Validate(); err != nil {
		conf.Status = models.HealthStatusDegraded
		conf.Message = err.Error()
	} else if !cfg.TasksEnabled && !cfg.EarningsEnabled {
		conf.Status = models.HealthStatusDegraded
		conf.Message = "all sync types disabled"
	}
	components["configuration"] = conf

	overall := models.HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case models.HealthStatusUnhealthy:
			overall = models.HealthStatusUnhealthy
		case models.HealthStatusDegraded:
			if overall == models.HealthStatusHealthy {
				overall = models.HealthStatusDegraded
			}
		}
	}

	return models.SyncHealth{Status: overall, Components: components, CheckedAt: now}
}

// PerformSyncDiagnostics runs the fixed battery of named checks. Overall
// status is the worst individual outcome.
func (s *Service) PerformSyncDiagnostics(ctx context.Context) models.SyncDiagnostics {
	checks := []models.DiagnosticCheck{
		s.timeCheck("gateway_connectivity", func() (models.CheckOutcome, string) {
			if err := s.gateway.CheckConnectivity(ctx); err != nil {
				return models.CheckFail, err.Error()
			}
			return models.CheckPass, "gateway reachable"
		}),
		s.timeCheck("clock_skew", func() (models.CheckOutcome, string) {
			serverTime, err := s.gateway.GetServerTime(ctx)
			if err != nil {
				return models.CheckFail, err.Error()
			}
			skew := time.Since(serverTime)
			if skew < 0 {
				skew = -skew
			}
			msg := fmt.Sprintf("clock skew %s", skew.Round(time.Millisecond))
			switch {
			case skew >= clockSkewFail:
				return models.CheckFail, msg
			case skew >= clockSkewWarn:
				return models.CheckWarning, msg
			}
			return models.CheckPass, msg
		}),
		s.timeCheck("local_store", func() (models.CheckOutcome, string) {
			if err := s.store.Ping(ctx); err != nil {
				return models.CheckFail, err.Error()
			}
			return models.CheckPass, "local store reachable"
		}),
		s.timeCheck("configuration", func() (models.CheckOutcome, string) {
			cfg := s.configSnapshot()
			if err := cfg.Validate(); err != nil {
				return models.CheckFail, err.Error()
			}
			if !cfg.TasksEnabled && !cfg.EarningsEnabled {
				return models.CheckWarning, "all sync types disabled"
			}
			return models.CheckPass, "configuration valid"
		}),
	}

	return models.SyncDiagnostics{
		Status: models.OverallOutcome(checks),
		Checks: checks,
		RanAt:  time.Now(),
	}
}

func (s *Service) timeCheck(name string, fn func() (models.CheckOutcome, string)) models.DiagnosticCheck {
	start := time.Now()
	outcome, message := fn()
	return models.DiagnosticCheck{
		Name:     name,
		Outcome:  outcome,
		Message:  message,
		Duration: time.Since(start),
	}
}
