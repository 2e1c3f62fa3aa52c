package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// AuditHandler exposes the batch audit journal.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler backed by the given store.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditEntryJSON struct {
	ID        int64          `json:"id"`
	BatchID   domain.BatchID `json:"batch_id,omitempty"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit entries, newest first, or every entry of one batch
// in write order when batch_id is given.
// GET /api/audit?batch_id=...&event=...&limit=50&offset=0&since=RFC3339&until=RFC3339
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	var (
		entries []domain.AuditEntry
		err     error
	)
	if batchID := r.URL.Query().Get("batch_id"); batchID != "" {
		entries, err = h.audit.ListByBatch(r.Context(), domain.BatchID(batchID))
	} else {
		opts := parseListOpts(r)
		opts.Event = r.URL.Query().Get("event")
		for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
			v := r.URL.Query().Get(name)
			if v == "" {
				continue
			}
			ts, perr := time.Parse(time.RFC3339, v)
			if perr != nil {
				writeError(w, http.StatusBadRequest, name+" must be RFC3339")
				return
			}
			*dst = &ts
		}
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	out := make([]auditEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = auditEntryJSON{ID: e.ID, BatchID: e.BatchID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
