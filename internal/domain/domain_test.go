package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewPriceRecordValidation(t *testing.T) {
	asOf := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		id      string
		asOf    time.Time
		wantErr bool
	}{
		{"valid", "AAPL", asOf, false},
		{"blank id", "  ", asOf, true},
		{"zero as_of", "AAPL", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewPriceRecord(tt.id, tt.asOf, 1)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !rec.Valid() || rec.InstrumentID() != tt.id || !rec.AsOf().Equal(tt.asOf) {
				t.Errorf("record = %+v", rec)
			}
		})
	}
	if (PriceRecord[int]{}).Valid() {
		t.Error("zero record reports valid")
	}
}

func TestPriceRecordEqual(t *testing.T) {
	asOf := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	q := func(p string) Quote { return Quote{Price: decimal.RequireFromString(p), Currency: "USD"} }

	a := MustPriceRecord("AAPL", asOf, q("150.2"))
	if !a.Equal(MustPriceRecord("AAPL", asOf, q("150.20"))) {
		t.Error("150.2 and 150.20 should be equal quotes")
	}
	if a.Equal(MustPriceRecord("AAPL", asOf, q("150.21"))) {
		t.Error("different prices compared equal")
	}
	if a.Equal(MustPriceRecord("AAPL", asOf.Add(time.Nanosecond), q("150.2"))) {
		t.Error("different as_of compared equal")
	}

	m1 := MustPriceRecord("X", asOf, map[string]int{"bid": 1})
	m2 := MustPriceRecord("X", asOf, map[string]int{"bid": 1})
	if !m1.Equal(m2) {
		t.Error("deep-equal payloads compared unequal")
	}
}

func TestBatchErrorKinds(t *testing.T) {
	notFound := NewBatchError("publish", "b1", ErrNotFound, "no active batch")
	if !errors.Is(notFound, ErrNotFound) || !errors.Is(notFound, ErrState) {
		t.Errorf("not-found error should match ErrNotFound and ErrState")
	}
	wrapped := fmt.Errorf("service: publish: %w", notFound)
	var be *BatchError
	if !errors.As(wrapped, &be) || be.BatchID != "b1" {
		t.Errorf("errors.As failed on %v", wrapped)
	}

	state := NewBatchError("cancel", "b1", ErrState, "batch is already closed")
	if errors.Is(state, ErrNotFound) {
		t.Error("state error should not match ErrNotFound")
	}
	if got, want := state.Error(), "cancel batch b1: batch is already closed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := NewBatchError("start", "", ErrConflict, "x").Error(), "start: x"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if !IsRetriable(NewBatchError("start", "", ErrConflict, "busy")) {
		t.Error("conflict should be retriable")
	}
	if IsRetriable(state) {
		t.Error("state error should not be retriable")
	}
}

func TestBatchStatusJSON(t *testing.T) {
	b, err := json.Marshal(BatchInfo{ID: "b1", Status: BatchStatusInProgress})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "IN_PROGRESS" {
		t.Errorf("status = %v, want IN_PROGRESS", got["status"])
	}
	if BatchStatusStarted.Terminal() || !BatchStatusCancelled.Terminal() {
		t.Error("Terminal() wrong")
	}
	if s := BatchStatus(9).String(); s != "BatchStatus(9)" {
		t.Errorf("String() = %q", s)
	}

	var info BatchInfo
	if err := json.Unmarshal(b, &info); err != nil {
		t.Fatal(err)
	}
	if info.Status != BatchStatusInProgress {
		t.Errorf("decoded status = %v", info.Status)
	}
	var s BatchStatus
	if err := s.UnmarshalText([]byte("DONE")); err == nil {
		t.Error("expected an error for an unknown status")
	}
}
