package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersStartAtZero(t *testing.T) {
	m := New()
	if got := testutil.ToFloat64(m.BatchesStarted); got != 0 {
		t.Errorf("BatchesStarted = %v, want 0", got)
	}
	m.BatchesStarted.Inc()
	m.BatchesClosed.WithLabelValues("completed").Inc()
	m.BatchesClosed.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(m.BatchesStarted); got != 1 {
		t.Errorf("BatchesStarted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BatchesClosed.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed = %v, want 2", got)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordsApplied.Add(5)
	if got := testutil.ToFloat64(b.RecordsApplied); got != 0 {
		t.Errorf("second instance sees %v applied records", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.CommittedPrices.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "lastvalue_committed_prices 3") {
		t.Errorf("metrics output missing committed_prices gauge:\n%s", body)
	}
}

func TestWatchBusDrops(t *testing.T) {
	m := New()
	var dropped uint64 = 7
	m.WatchBusDrops("local", func() uint64 { return dropped })

	want := `
# HELP lastvalue_bus_dropped_messages_total Bus messages dropped because a subscriber was full.
# TYPE lastvalue_bus_dropped_messages_total counter
lastvalue_bus_dropped_messages_total{bus="local"} 7
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "lastvalue_bus_dropped_messages_total"); err != nil {
		t.Error(err)
	}
}
