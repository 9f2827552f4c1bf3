package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
	"github.com/theblitlabs/parity-sync/internal/storage"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

// TaskSynchronizer reconciles the local task replica against the gateway.
// One run is a sequential pipeline: fetch pages, validate, resolve
// conflicts, persist, then optionally push local-only tasks upward. Runs of
// the same type never overlap; the guard rejects concurrent invocations.
type TaskSynchronizer struct {
	gateway   GatewayClient
	store     storage.Store
	validator *Validator
	config    func() config.SyncConfig

	mu sync.Mutex
}

func NewTaskSynchronizer(gateway GatewayClient, store storage.Store, configFn func() config.SyncConfig) *TaskSynchronizer {
	return &TaskSynchronizer{
		gateway:   gateway,
		store:     store,
		validator: NewValidator(),
		config:    configFn,
	}
}

// Sync runs one reconciliation following the configured mode: incremental
// from the stored watermark when one exists, full otherwise.
func (s *TaskSynchronizer) Sync(ctx context.Context) (*models.SyncResult, error) {
	return s.run(ctx, modeAuto, time.Time{})
}

// SyncIncremental runs one reconciliation from an explicit watermark.
func (s *TaskSynchronizer) SyncIncremental(ctx context.Context, since time.Time) (*models.SyncResult, error) {
	return s.run(ctx, modeForcedIncremental, since)
}

// SyncFull ignores the watermark and reconciles the entire record set. Run
// periodically, this self-heals records dropped by earlier partial runs.
func (s *TaskSynchronizer) SyncFull(ctx context.Context) (*models.SyncResult, error) {
	return s.run(ctx, modeForcedFull, time.Time{})
}

func (s *TaskSynchronizer) run(ctx context.Context, mode runMode, explicitSince time.Time) (*models.SyncResult, error) {
	cfg := s.config()
	if err := cfg.Validate(); err != nil {
		return nil, NewSyncError(ErrCodeConfig, "invalid sync configuration").Wrap(err)
	}

	resolver, err := NewConflictResolver(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	if !s.mu.TryLock() {
		return nil, NewSyncError(ErrCodeSyncInProgress, "task sync already running")
	}
	defer s.mu.Unlock()

	log := logger.WithComponent("sync.tasks").With().
		Str("run_id", uuid.New().String()).
		Logger()

	start := time.Now()
	result := &models.SyncResult{Timestamp: start}

	since, err := s.resolveSince(ctx, cfg, mode, explicitSince)
	if err != nil {
		return nil, err
	}

	// The gateway clock observed at the start of the run becomes the new
	// watermark, so device clock skew cannot drop records.
	serverTime, err := s.gateway.GetServerTime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result.Duration = time.Since(start)
			return result, NewSyncError(ErrCodeCancelled, "task sync cancelled").Wrap(err)
		}
		log.Warn().Err(err).Msg("Server time unavailable, falling back to local clock")
		serverTime = start.UTC()
	}

	log.Info().
		Bool("incremental", since != nil).
		Int("batch_size", cfg.BatchSize).
		Str("strategy", string(cfg.Strategy)).
		Msg("Starting task sync")

	seenRemote := make(map[string]struct{})
	page := 1
	consecutiveFailures := 0
	cancelled := false
	disconnected := false

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		taskPage, err := s.fetchPage(ctx, cfg, page, since)
		if err != nil {
			// Only the run's own context decides cancellation; a timed-out
			// request is an ordinary page failure.
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			result.Errors += cfg.BatchSize
			consecutiveFailures++
			log.Error().Err(err).Int("page", page).
				Int("consecutive_failures", consecutiveFailures).
				Msg("Page fetch failed after retries")
			if consecutiveFailures >= maxConsecutivePageFailures {
				disconnected = true
				break
			}
			page++
			continue
		}
		consecutiveFailures = 0

		s.reconcilePage(ctx, resolver, taskPage.Tasks, seenRemote, result, log)

		if !taskPage.HasMore {
			break
		}
		page++
	}

	if cfg.PushLocal && !cancelled && !disconnected {
		s.pushLocal(ctx, cfg, since, seenRemote, result, log)
	}

	result.Synced = result.Details.Created + result.Details.Updated + result.Details.Skipped
	result.Duration = time.Since(start)

	switch {
	case cancelled:
		log.Warn().Int("synced", result.Synced).Msg("Task sync cancelled, watermark unchanged")
		return result, NewSyncError(ErrCodeCancelled, "task sync cancelled")
	case disconnected:
		log.Error().Int("synced", result.Synced).Int("errors", result.Errors).
			Msg("Task sync stopped early, gateway unreachable")
		return result, nil
	}

	if err := s.store.UpdateLastSyncTime(ctx, models.SyncTypeTasks, watermarkFloor(serverTime, since)); err != nil {
		log.Error().Err(err).Msg("Watermark advancement failed")
		result.Errors++
	}
	result.Success = true

	log.Info().
		Int("synced", result.Synced).
		Int("errors", result.Errors).
		Int("conflicts", result.Conflicts).
		Dur("duration", result.Duration).
		Msg("Task sync completed")

	return result, nil
}

// resolveSince decides the lower time bound of the run per the mode.
func (s *TaskSynchronizer) resolveSince(ctx context.Context, cfg config.SyncConfig, mode runMode, explicitSince time.Time) (*time.Time, error) {
	switch mode {
	case modeForcedIncremental:
		return &explicitSince, nil
	case modeForcedFull:
		return nil, nil
	}

	if !cfg.Mode.Incremental() {
		return nil, nil
	}
	watermark, err := s.store.GetLastSyncTime(ctx, models.SyncTypeTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to read task watermark: %w", err)
	}
	if watermark.IsZero() {
		return nil, nil
	}
	return &watermark, nil
}

func (s *TaskSynchronizer) fetchPage(ctx context.Context, cfg config.SyncConfig, page int, since *time.Time) (*TaskPage, error) {
	var taskPage *TaskPage
	err := retryWithBackoff(ctx, cfg, func() error {
		var err error
		taskPage, err = s.gateway.FetchTasks(ctx, FetchParams{
			Page:         page,
			PageSize:     cfg.BatchSize,
			LastSyncTime: since,
		})
		return err
	})
	return taskPage, err
}

// reconcilePage validates and applies one page of remote tasks. Invalid
// records are dropped and counted; divergent records go through the
// resolver; writes are batched into one store call.
func (s *TaskSynchronizer) reconcilePage(ctx context.Context, resolver *ConflictResolver, tasks []*models.Task, seenRemote map[string]struct{}, result *models.SyncResult, log zerolog.Logger) {
	if len(tasks) == 0 {
		return
	}

	valid := make([]*models.Task, 0, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		vr := s.validator.ValidateTask(task)
		if !vr.Valid {
			result.Errors++
			log.Debug().Strs("errors", vr.Errors).Msg("Discarding invalid remote task")
			continue
		}
		if corrected, ok := vr.Corrected.(*models.Task); ok {
			task = corrected
		}
		valid = append(valid, task)
		ids = append(ids, task.ID)
		seenRemote[task.ID] = struct{}{}
	}
	if len(valid) == 0 {
		return
	}

	locals, err := s.store.GetLocalTasks(ctx, &storage.TaskFilter{IDs: ids})
	if err != nil {
		result.Errors += len(valid)
		log.Error().Err(err).Msg("Local task lookup failed, dropping page")
		return
	}
	localByID := make(map[string]*models.Task, len(locals))
	for _, t := range locals {
		localByID[t.ID] = t
	}

	var toSave []*models.Task
	created, updated := 0, 0
	for _, remote := range valid {
		local, exists := localByID[remote.ID]
		if !exists {
			toSave = append(toSave, remote)
			created++
			continue
		}
		if local.ContentEquals(remote) {
			result.Details.Skipped++
			continue
		}

		conflict := models.TaskConflict{ID: remote.ID, Local: local, Remote: remote, DetectedAt: time.Now()}
		resolved, resolution, err := resolver.ResolveTaskConflict(conflict.Local, conflict.Remote)
		result.Conflicts++
		if err != nil {
			result.Errors++
			log.Error().Err(err).Str("task", remote.ID).Msg("Conflict resolution failed")
			continue
		}
		if resolution.Resolution == models.ResolutionManual {
			log.Info().Str("task", remote.ID).Msg("Conflict deferred for manual resolution")
			continue
		}
		log.Debug().
			Str("task", remote.ID).
			Str("resolution", string(resolution.Resolution)).
			Float64("confidence", resolution.Confidence).
			Msg("Conflict resolved")
		toSave = append(toSave, resolved)
		updated++
	}

	if len(toSave) == 0 {
		return
	}
	if err := s.store.SaveTasks(ctx, toSave); err != nil {
		result.Errors += len(toSave)
		log.Error().Err(err).Int("count", len(toSave)).Msg("Task batch persistence failed")
		return
	}
	result.Details.Created += created
	result.Details.Updated += updated
}

// pushLocal uploads tasks the gateway has not seen during this run. Upload
// failures count as errors but never roll back applied downward changes;
// the gateway is the eventual arbiter and a retried run converges.
func (s *TaskSynchronizer) pushLocal(ctx context.Context, cfg config.SyncConfig, since *time.Time, seenRemote map[string]struct{}, result *models.SyncResult, log zerolog.Logger) {
	filter := &storage.TaskFilter{}
	if since != nil {
		filter.UpdatedAfter = since
	}
	locals, err := s.store.GetLocalTasks(ctx, filter)
	if err != nil {
		result.Errors++
		log.Error().Err(err).Msg("Local-only task lookup failed, skipping upload")
		return
	}

	var pending []*models.Task
	for _, task := range locals {
		if _, seen := seenRemote[task.ID]; seen {
			continue
		}
		vr := s.validator.ValidateTask(task)
		if !vr.Valid {
			result.Errors++
			log.Debug().Str("task", task.ID).Strs("errors", vr.Errors).Msg("Local task failed validation, not uploading")
			continue
		}
		pending = append(pending, task)
	}
	if len(pending) == 0 {
		return
	}

	uploaded := 0
	for start := 0; start < len(pending); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var uploadResult *models.UploadResult
		err := retryWithBackoff(ctx, cfg, func() error {
			var err error
			uploadResult, err = s.gateway.UploadTasks(ctx, batch)
			return err
		})
		if err != nil {
			result.Errors += len(batch)
			log.Error().Err(err).Int("count", len(batch)).Msg("Task batch upload failed")
			continue
		}
		uploaded += uploadResult.Uploaded
		result.Errors += uploadResult.Failed
		if uploadResult.Failed > 0 {
			log.Warn().Int("failed", uploadResult.Failed).Strs("errors", uploadResult.Errors).
				Msg("Task batch partially rejected")
		}
	}

	log.Info().Int("uploaded", uploaded).Int("candidates", len(pending)).Msg("Local tasks pushed upward")
}
