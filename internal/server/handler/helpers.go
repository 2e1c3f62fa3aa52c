package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

// maxBodyBytes bounds request bodies. A full chunk of 1000 quotes is well
// under this.
const maxBodyBytes = 4 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeBatchError maps a lifecycle error to its HTTP status. Anything that
// is not a lifecycle error is logged and reported as a 500.
func writeBatchError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	resp := errorResponse{Error: err.Error(), Retriable: domain.IsRetriable(err)}
	var status int
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, resp.Kind = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrConflict):
		status, resp.Kind = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrNotFound):
		status, resp.Kind = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrState):
		status, resp.Kind = http.StatusConflict, "state"
	default:
		logger.ErrorContext(r.Context(), "handler: batch operation failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		status, resp.Error = http.StatusInternalServerError, "internal server error"
	}
	writeJSON(w, status, resp)
}

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
