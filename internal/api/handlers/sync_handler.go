package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/theblitlabs/parity-sync/internal/models"
	syncengine "github.com/theblitlabs/parity-sync/internal/sync"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

// SyncService is the orchestrator surface the HTTP API exposes to the
// desktop UI and CLI.
type SyncService interface {
	SyncTasks(ctx context.Context) (*models.SyncResult, error)
	SyncEarnings(ctx context.Context) (*models.SyncResult, error)
	SyncTasksFull(ctx context.Context) (*models.SyncResult, error)
	SyncEarningsFull(ctx context.Context) (*models.SyncResult, error)
	GetSyncStatistics() models.SyncStatistics
	CheckSyncHealth(ctx context.Context) models.SyncHealth
	PerformSyncDiagnostics(ctx context.Context) models.SyncDiagnostics
	SetConflictStrategy(strategy models.ConflictStrategy) error
}

type SyncHandler struct {
	service SyncService
}

func NewSyncHandler(service SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

func (h *SyncHandler) SyncTasks(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, h.service.SyncTasks, h.service.SyncTasksFull)
}

func (h *SyncHandler) SyncEarnings(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, h.service.SyncEarnings, h.service.SyncEarningsFull)
}

func (h *SyncHandler) runSync(w http.ResponseWriter, r *http.Request, run, runFull func(context.Context) (*models.SyncResult, error)) {
	log := logger.WithComponent("api.sync")

	fn := run
	if r.URL.Query().Get("full") == "true" {
		fn = runFull
	}

	result, err := fn(r.Context())
	if err != nil {
		var syncErr *syncengine.SyncError
		status := http.StatusInternalServerError
		if errors.As(err, &syncErr) {
			switch syncErr.Code {
			case syncengine.ErrCodeSyncInProgress:
				status = http.StatusConflict
			case syncengine.ErrCodeConfig:
				status = http.StatusBadRequest
			}
		}
		log.Error().Err(err).Msg("Sync request failed")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *SyncHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetSyncStatistics())
}

func (h *SyncHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.service.CheckSyncHealth(r.Context())

	status := http.StatusOK
	if health.Status == models.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *SyncHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, h.service.PerformSyncDiagnostics(ctx))
}

func (h *SyncHandler) SetConflictStrategy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Strategy models.ConflictStrategy `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SetConflictStrategy(body.Strategy); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"strategy": string(body.Strategy)})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log := logger.WithComponent("api")
		log.Error().Err(err).Msg("Response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
