package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError replies in the same {"error","kind"} shape the handlers use.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     msg,
		"kind":      kind,
		"retriable": status == http.StatusTooManyRequests,
	})
}
