package lastvalue

import (
	"testing"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

func TestSelectLatest(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	older := domain.MustPriceRecord("AAPL", base, 1.0)
	newer := domain.MustPriceRecord("AAPL", base.Add(time.Minute), 2.0)
	tie := domain.MustPriceRecord("AAPL", base, 3.0)

	tests := []struct {
		name     string
		existing domain.PriceRecord[float64]
		incoming domain.PriceRecord[float64]
		want     float64
	}{
		{"newer incoming wins", older, newer, 2.0},
		{"older incoming loses", newer, older, 2.0},
		{"tie keeps existing", older, tie, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectLatest(tt.existing, tt.incoming)
			if got.Payload() != tt.want {
				t.Errorf("SelectLatest payload = %v, want %v", got.Payload(), tt.want)
			}
		})
	}
}

func TestMergeIntoReportsChange(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	m := map[string]domain.PriceRecord[int]{}

	if !mergeInto(m, domain.MustPriceRecord("X", base, 1)) {
		t.Fatal("first record should change the map")
	}
	if mergeInto(m, domain.MustPriceRecord("X", base, 2)) {
		t.Error("tie should not change the map")
	}
	if mergeInto(m, domain.MustPriceRecord("X", base.Add(-time.Second), 3)) {
		t.Error("older record should not change the map")
	}
	if !mergeInto(m, domain.MustPriceRecord("X", base.Add(time.Second), 4)) {
		t.Error("newer record should change the map")
	}
	if got := m["X"].Payload(); got != 4 {
		t.Errorf("payload = %d, want 4", got)
	}
}
