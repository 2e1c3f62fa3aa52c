// Package metrics exposes prometheus collectors for the batch lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lastvalue"

// Metrics groups the collectors updated by the price service. Each instance
// owns its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	BatchesStarted    prometheus.Counter
	BatchesClosed     *prometheus.CounterVec // label: outcome=completed|cancelled
	Rejected          *prometheus.CounterVec // labels: op, kind
	RecordsPublished  prometheus.Counter
	RecordsApplied    prometheus.Counter
	RecordsSuperseded prometheus.Counter
	ActiveBatch       prometheus.Gauge
	StagedRecords     prometheus.Gauge
	CommittedPrices   prometheus.Gauge
	BatchDuration     prometheus.Histogram
	SideEffectErrors  *prometheus.CounterVec // label: target
	WSClients         prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BatchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_started_total",
			Help: "Batches opened.",
		}),
		BatchesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_closed_total",
			Help: "Batches closed, by outcome.",
		}, []string{"outcome"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_rejected_total",
			Help: "Lifecycle calls rejected, by operation and error kind.",
		}, []string{"op", "kind"}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_published_total",
			Help: "Price records accepted into a batch.",
		}),
		RecordsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_applied_total",
			Help: "Price records that changed the committed store.",
		}),
		RecordsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_superseded_total",
			Help: "Staged records that lost to a newer committed price.",
		}),
		ActiveBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_batch",
			Help: "1 while a batch is open.",
		}),
		StagedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "staged_records",
			Help: "Instruments staged in the open batch.",
		}),
		CommittedPrices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "committed_prices",
			Help: "Instruments with a committed price.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:    "Time from start to completion or cancel.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		SideEffectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "side_effect_errors_total",
			Help: "Failed audit, mirror, event or notify calls.",
		}, []string{"target"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_clients",
			Help: "Connected websocket clients.",
		}),
	}
	m.registry.MustRegister(
		m.BatchesStarted, m.BatchesClosed, m.Rejected,
		m.RecordsPublished, m.RecordsApplied, m.RecordsSuperseded,
		m.ActiveBatch, m.StagedRecords, m.CommittedPrices,
		m.BatchDuration, m.SideEffectErrors, m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// WatchBusDrops exports a signal bus's count of messages lost to slow
// subscribers. Call it once per Metrics.
func (m *Metrics) WatchBusDrops(bus string, dropped func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "bus_dropped_messages_total",
		Help:        "Bus messages dropped because a subscriber was full.",
		ConstLabels: prometheus.Labels{"bus": bus},
	}, func() float64 { return float64(dropped()) }))
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
