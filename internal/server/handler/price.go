package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// PriceReader defines the read methods the price handler requires.
type PriceReader interface {
	GetLastPrice(ctx context.Context, instrumentID string) (domain.PriceRecord[domain.Quote], bool)
	ListLastPrices(ctx context.Context) []domain.PriceRecord[domain.Quote]
}

// PriceHandler serves committed prices to consumers.
type PriceHandler struct {
	prices PriceReader
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler with the given reader and logger.
func NewPriceHandler(prices PriceReader, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

type listPricesResponse struct {
	Prices []domain.QuoteJSON `json:"prices"`
	Count  int                `json:"count"`
}

// ListPrices returns every committed price sorted by instrument.
// GET /api/prices
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	recs := h.prices.ListLastPrices(r.Context())
	out := make([]domain.QuoteJSON, len(recs))
	for i, rec := range recs {
		out[i] = domain.ToQuoteJSON(rec)
	}
	writeJSON(w, http.StatusOK, listPricesResponse{Prices: out, Count: len(out)})
}

// GetPrice returns the committed price of one instrument.
// GET /api/prices/{instrument}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	instrument := pathParam(r, "instrument")
	rec, ok := h.prices.GetLastPrice(r.Context(), instrument)
	if !ok {
		writeError(w, http.StatusNotFound, "no committed price for "+instrument)
		return
	}
	writeJSON(w, http.StatusOK, domain.ToQuoteJSON(rec))
}
