package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lastvalue/internal/domain"
	"github.com/alanyoungcy/lastvalue/internal/lastvalue"
)

// BatchService defines the lifecycle methods the batch handler requires from
// the service layer.
type BatchService interface {
	StartBatch(ctx context.Context) (domain.BatchID, error)
	PublishPrices(ctx context.Context, id domain.BatchID, records []domain.PriceRecord[domain.Quote]) (int, error)
	CompleteBatch(ctx context.Context, id domain.BatchID) (lastvalue.CommitSummary[domain.Quote], error)
	CancelBatch(ctx context.Context, id domain.BatchID) (lastvalue.CancelSummary, error)
	ActiveBatch(ctx context.Context) (domain.BatchInfo, bool)
}

// BatchHandler serves the producer side of the API.
type BatchHandler struct {
	batches BatchService
	logger  *slog.Logger
}

// NewBatchHandler creates a BatchHandler with the given service and logger.
func NewBatchHandler(batches BatchService, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{batches: batches, logger: logger}
}

type startBatchResponse struct {
	BatchID domain.BatchID `json:"batch_id"`
}

// StartBatch opens a batch.
// POST /api/batches
func (h *BatchHandler) StartBatch(w http.ResponseWriter, r *http.Request) {
	id, err := h.batches.StartBatch(r.Context())
	if err != nil {
		writeBatchError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, startBatchResponse{BatchID: id})
}

// GetActive describes the open batch.
// GET /api/batches/active
func (h *BatchHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	info, ok := h.batches.ActiveBatch(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "no active batch")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type publishRequest struct {
	Prices []domain.QuoteJSON `json:"prices"`
}

type publishResponse struct {
	BatchID  domain.BatchID `json:"batch_id"`
	Accepted int            `json:"accepted"`
	Staged   int            `json:"staged"`
}

// PublishPrices stages one chunk of prices.
// POST /api/batches/{id}/prices
func (h *BatchHandler) PublishPrices(w http.ResponseWriter, r *http.Request) {
	id := domain.BatchID(pathParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing batch id")
		return
	}

	var req publishRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	records := make([]domain.PriceRecord[domain.Quote], len(req.Prices))
	for i, p := range req.Prices {
		rec, err := p.Record()
		if err != nil {
			writeBatchError(w, r, h.logger, fmt.Errorf("prices[%d]: %w", i, err))
			return
		}
		records[i] = rec
	}

	staged, err := h.batches.PublishPrices(r.Context(), id, records)
	if err != nil {
		writeBatchError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, publishResponse{BatchID: id, Accepted: len(records), Staged: staged})
}

type completeResponse struct {
	BatchID     domain.BatchID `json:"batch_id"`
	Status      string         `json:"status"`
	Staged      int            `json:"staged"`
	Applied     int            `json:"applied"`
	Superseded  int            `json:"superseded"`
	DurationMS  int64          `json:"duration_ms"`
	Instruments []string       `json:"instruments"`
}

// CompleteBatch makes the batch visible.
// POST /api/batches/{id}/complete
func (h *BatchHandler) CompleteBatch(w http.ResponseWriter, r *http.Request) {
	id := domain.BatchID(pathParam(r, "id"))
	sum, err := h.batches.CompleteBatch(r.Context(), id)
	if err != nil {
		writeBatchError(w, r, h.logger, err)
		return
	}

	instruments := make([]string, len(sum.Applied))
	for i, rec := range sum.Applied {
		instruments[i] = rec.InstrumentID()
	}
	writeJSON(w, http.StatusOK, completeResponse{
		BatchID:     sum.BatchID,
		Status:      domain.BatchStatusCompleted.String(),
		Staged:      sum.Staged,
		Applied:     len(sum.Applied),
		Superseded:  sum.Superseded,
		DurationMS:  sum.Duration.Milliseconds(),
		Instruments: instruments,
	})
}

type cancelResponse struct {
	BatchID   domain.BatchID `json:"batch_id"`
	Status    string         `json:"status"`
	Discarded int            `json:"discarded"`
}

// CancelBatch discards the batch.
// POST /api/batches/{id}/cancel
func (h *BatchHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	id := domain.BatchID(pathParam(r, "id"))
	sum, err := h.batches.CancelBatch(r.Context(), id)
	if err != nil {
		writeBatchError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		BatchID:   sum.BatchID,
		Status:    domain.BatchStatusCancelled.String(),
		Discarded: sum.Discarded,
	})
}
