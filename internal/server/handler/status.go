package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// StoreStatus is what the status endpoint reads from the service layer.
type StoreStatus interface {
	ActiveBatch(ctx context.Context) (domain.BatchInfo, bool)
	CommittedCount(ctx context.Context) int
	MaxChunkSize() int
}

// StatusHandler serves process and store status for operators.
type StatusHandler struct {
	store     StoreStatus
	mode      string
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(store StoreStatus, mode string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{store: store, mode: mode, startedAt: startedAt}
}

// GetStatus responds with the run mode and a summary of the store.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"committed":      h.store.CommittedCount(r.Context()),
		"max_chunk_size": h.store.MaxChunkSize(),
	}
	if info, ok := h.store.ActiveBatch(r.Context()); ok {
		resp["active_batch"] = info
	}
	writeJSON(w, http.StatusOK, resp)
}
