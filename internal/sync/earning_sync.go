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

// EarningSynchronizer reconciles the local earnings replica against the
// gateway. Same run shape as TaskSynchronizer; earnings additionally check
// their task reference, which may legitimately not resolve yet since tasks
// and earnings sync independently.
type EarningSynchronizer struct {
	gateway   GatewayClient
	store     storage.Store
	validator *Validator
	config    func() config.SyncConfig

	mu sync.Mutex
}

func NewEarningSynchronizer(gateway GatewayClient, store storage.Store, configFn func() config.SyncConfig) *EarningSynchronizer {
	return &EarningSynchronizer{
		gateway:   gateway,
		store:     store,
		validator: NewValidator(),
		config:    configFn,
	}
}

// Sync runs one reconciliation following the configured mode.
func (s *EarningSynchronizer) Sync(ctx context.Context) (*models.SyncResult, error) {
	return s.run(ctx, modeAuto, time.Time{})
}

// SyncIncremental runs one reconciliation from an explicit watermark.
func (s *EarningSynchronizer) SyncIncremental(ctx context.Context, since time.Time) (*models.SyncResult, error) {
	return s.run(ctx, modeForcedIncremental, since)
}

// SyncFull ignores the watermark and reconciles the entire record set.
func (s *EarningSynchronizer) SyncFull(ctx context.Context) (*models.SyncResult, error) {
	return s.run(ctx, modeForcedFull, time.Time{})
}

func (s *EarningSynchronizer) run(ctx context.Context, mode runMode, explicitSince time.Time) (*models.SyncResult, error) {
	cfg := s.config()
	if err := cfg.Validate(); err != nil {
		return nil, NewSyncError(ErrCodeConfig, "invalid sync configuration").Wrap(err)
	}

	resolver, err := NewConflictResolver(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	if !s.mu.TryLock() {
		return nil, NewSyncError(ErrCodeSyncInProgress, "earnings sync already running")
	}
	defer s.mu.Unlock()

	log := logger.WithComponent("sync.earnings").With().
		Str("run_id", uuid.New().String()).
		Logger()

	start := time.Now()
	result := &models.SyncResult{Timestamp: start}

	since, err := s.resolveSince(ctx, cfg, mode, explicitSince)
	if err != nil {
		return nil, err
	}

	serverTime, err := s.gateway.GetServerTime(ctx)
	if err != nil {
		if ctx.Err() != nil {
			result.Duration = time.Since(start)
			return result, NewSyncError(ErrCodeCancelled, "earnings sync cancelled").Wrap(err)
		}
		log.Warn().Err(err).Msg("Server time unavailable, falling back to local clock")
		serverTime = start.UTC()
	}

	log.Info().
		Bool("incremental", since != nil).
		Int("batch_size", cfg.BatchSize).
		Str("strategy", string(cfg.Strategy)).
		Msg("Starting earnings sync")

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

		earningPage, err := s.fetchPage(ctx, cfg, page, since)
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

		s.reconcilePage(ctx, resolver, earningPage.Earnings, seenRemote, result, log)

		if !earningPage.HasMore {
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
		log.Warn().Int("synced", result.Synced).Msg("Earnings sync cancelled, watermark unchanged")
		return result, NewSyncError(ErrCodeCancelled, "earnings sync cancelled")
	case disconnected:
		log.Error().Int("synced", result.Synced).Int("errors", result.Errors).
			Msg("Earnings sync stopped early, gateway unreachable")
		return result, nil
	}

	if err := s.store.UpdateLastSyncTime(ctx, models.SyncTypeEarnings, watermarkFloor(serverTime, since)); err != nil {
		log.Error().Err(err).Msg("Watermark advancement failed")
		result.Errors++
	}
	result.Success = true

	log.Info().
		Int("synced", result.Synced).
		Int("errors", result.Errors).
		Int("conflicts", result.Conflicts).
		Dur("duration", result.Duration).
		Msg("Earnings sync completed")

	return result, nil
}

func (s *EarningSynchronizer) resolveSince(ctx context.Context, cfg config.SyncConfig, mode runMode, explicitSince time.Time) (*time.Time, error) {
	switch mode {
	case modeForcedIncremental:
		return &explicitSince, nil
	case modeForcedFull:
		return nil, nil
	}

	if !cfg.Mode.Incremental() {
		return nil, nil
	}
	watermark, err := s.store.GetLastSyncTime(ctx, models.SyncTypeEarnings)
	if err != nil {
		return nil, fmt.Errorf("failed to read earnings watermark: %w", err)
	}
	if watermark.IsZero() {
		return nil, nil
	}
	return &watermark, nil
}

func (s *EarningSynchronizer) fetchPage(ctx context.Context, cfg config.SyncConfig, page int, since *time.Time) (*EarningPage, error) {
	var earningPage *EarningPage
	err := retryWithBackoff(ctx, cfg, func() error {
		var err error
		earningPage, err = s.gateway.FetchEarnings(ctx, FetchParams{
			Page:         page,
			PageSize:     cfg.BatchSize,
			LastSyncTime: since,
		})
		return err
	})
	return earningPage, err
}

func (s *EarningSynchronizer) reconcilePage(ctx context.Context, resolver *ConflictResolver, earnings []*models.Earning, seenRemote map[string]struct{}, result *models.SyncResult, log zerolog.Logger) {
	if len(earnings) == 0 {
		return
	}

	knownTasks := s.lookupReferencedTasks(ctx, earnings, log)

	valid := make([]*models.Earning, 0, len(earnings))
	ids := make([]string, 0, len(earnings))
	for _, earning := range earnings {
		known := earning.TaskID == "" || knownTasks[earning.TaskID]
		vr := s.validator.ValidateEarning(earning, known)
		if !vr.Valid {
			result.Errors++
			log.Debug().Strs("errors", vr.Errors).Msg("Discarding invalid remote earning")
			continue
		}
		for _, warning := range vr.Warnings {
			log.Warn().Str("earning", earning.ID).Msg(warning)
		}
		if corrected, ok := vr.Corrected.(*models.Earning); ok {
			earning = corrected
		}
		valid = append(valid, earning)
		ids = append(ids, earning.ID)
		seenRemote[earning.ID] = struct{}{}
	}
	if len(valid) == 0 {
		return
	}

	locals, err := s.store.GetLocalEarnings(ctx, &storage.EarningFilter{IDs: ids})
	if err != nil {
		result.Errors += len(valid)
		log.Error().Err(err).Msg("Local earning lookup failed, dropping page")
		return
	}
	localByID := make(map[string]*models.Earning, len(locals))
	for _, e := range locals {
		localByID[e.ID] = e
	}

	var toSave []*models.Earning
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

		conflict := models.EarningConflict{ID: remote.ID, Local: local, Remote: remote, DetectedAt: time.Now()}
		resolved, resolution, err := resolver.ResolveEarningConflict(conflict.Local, conflict.Remote)
		result.Conflicts++
		if err != nil {
			result.Errors++
			log.Error().Err(err).Str("earning", remote.ID).Msg("Conflict resolution failed")
			continue
		}
		if resolution.Resolution == models.ResolutionManual {
			log.Info().Str("earning", remote.ID).Msg("Conflict deferred for manual resolution")
			continue
		}
		log.Debug().
			Str("earning", remote.ID).
			Str("resolution", string(resolution.Resolution)).
			Float64("confidence", resolution.Confidence).
			Msg("Conflict resolved")
		toSave = append(toSave, resolved)
		updated++
	}

	if len(toSave) == 0 {
		return
	}
	if err := s.store.SaveEarnings(ctx, toSave); err != nil {
		result.Errors += len(toSave)
		log.Error().Err(err).Int("count", len(toSave)).Msg("Earning batch persistence failed")
		return
	}
	result.Details.Created += created
	result.Details.Updated += updated
}

// lookupReferencedTasks resolves which referenced task IDs exist locally.
// A lookup failure degrades to "unknown" which only softens warnings, so
// it is not counted as a run error.
func (s *EarningSynchronizer) lookupReferencedTasks(ctx context.Context, earnings []*models.Earning, log zerolog.Logger) map[string]bool {
	idSet := make(map[string]bool)
	var ids []string
	for _, e := range earnings {
		if e.TaskID != "" && !idSet[e.TaskID] {
			idSet[e.TaskID] = false
			ids = append(ids, e.TaskID)
		}
	}
	if len(ids) == 0 {
		return idSet
	}

	tasks, err := s.store.GetLocalTasks(ctx, &storage.TaskFilter{IDs: ids})
	if err != nil {
		log.Warn().Err(err).Msg("Referenced task lookup failed, treating references as known")
		for id := range idSet {
			idSet[id] = true
		}
		return idSet
	}
	for _, t := range tasks {
		idSet[t.ID] = true
	}
	return idSet
}

func (s *EarningSynchronizer) pushLocal(ctx context.Context, cfg config.SyncConfig, since *time.Time, seenRemote map[string]struct{}, result *models.SyncResult, log zerolog.Logger) {
	filter := &storage.EarningFilter{}
	if since != nil {
		filter.UpdatedAfter = since
	}
	locals, err := s.store.GetLocalEarnings(ctx, filter)
	if err != nil {
		result.Errors++
		log.Error().Err(err).Msg("Local-only earning lookup failed, skipping upload")
		return
	}

	var pending []*models.Earning
	for _, earning := range locals {
		if _, seen := seenRemote[earning.ID]; seen {
			continue
		}
		vr := s.validator.ValidateEarning(earning, true)
		if !vr.Valid {
			result.Errors++
			log.Debug().Str("earning", earning.ID).Strs("errors", vr.Errors).Msg("Local earning failed validation, not uploading")
			continue
		}
		pending = append(pending, earning)
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
			uploadResult, err = s.gateway.UploadEarnings(ctx, batch)
			return err
		})
		if err != nil {
			result.Errors += len(batch)
			log.Error().Err(err).Int("count", len(batch)).Msg("Earning batch upload failed")
			continue
		}
		uploaded += uploadResult.Uploaded
		result.Errors += uploadResult.Failed
		if uploadResult.Failed > 0 {
			log.Warn().Int("failed", uploadResult.Failed).Strs("errors", uploadResult.Errors).
				Msg("Earning batch partially rejected")
		}
	}

	log.Info().Int("uploaded", uploaded).Int("candidates", len(pending)).Msg("Local earnings pushed upward")
}
