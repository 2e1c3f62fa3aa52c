package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

type stubAudit struct {
	entries  []domain.AuditEntry
	lastOpts domain.ListOpts
	byBatch  domain.BatchID
}

func (s *stubAudit) Log(context.Context, domain.BatchID, string, map[string]any) error { return nil }

func (s *stubAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.lastOpts = opts
	return s.entries, nil
}

func (s *stubAudit) ListByBatch(_ context.Context, id domain.BatchID) ([]domain.AuditEntry, error) {
	s.byBatch = id
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.BatchID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestListAudit(t *testing.T) {
	created := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	store := &stubAudit{entries: []domain.AuditEntry{
		{ID: 1, BatchID: "b1", Event: domain.AuditBatchStarted, CreatedAt: created},
		{ID: 2, BatchID: "b2", Event: domain.AuditBatchStarted, CreatedAt: created},
	}}
	h := NewAuditHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	decode := func(t *testing.T, rec *httptest.ResponseRecorder) []auditEntryJSON {
		t.Helper()
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		var body struct {
			Entries []auditEntryJSON `json:"entries"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		return body.Entries
	}

	t.Run("paged", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?limit=1000&offset=5&event=batch_started&since=2025-01-01T00:00:00Z", nil))
		if got := decode(t, rec); len(got) != 2 {
			t.Fatalf("entries = %d, want 2", len(got))
		}
		if store.lastOpts.Limit != 500 || store.lastOpts.Offset != 5 {
			t.Errorf("opts = %+v, want limit capped at 500 and offset 5", store.lastOpts)
		}
		if store.lastOpts.Event != domain.AuditBatchStarted || store.lastOpts.Until != nil {
			t.Errorf("event = %q, until = %v", store.lastOpts.Event, store.lastOpts.Until)
		}
		if store.lastOpts.Since == nil || !store.lastOpts.Since.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("since = %v", store.lastOpts.Since)
		}
	})

	t.Run("by batch", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?batch_id=b2", nil))
		got := decode(t, rec)
		if len(got) != 1 || got[0].ID != 2 || store.byBatch != "b2" {
			t.Errorf("entries = %+v", got)
		}
	})

	for _, q := range []string{"since=yesterday", "until=2025-13-01"} {
		t.Run("bad "+q, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?"+q, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
