package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics bundles collectors tracking marketplace operations and RPC
// handler activity.
type MarketMetrics struct {
	operations  *prometheus.CounterVec
	opLatency   *prometheus.HistogramVec
	tradeVolume prometheus.Counter
	listings    prometheus.Gauge
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// Market returns the lazily-initialised metrics registry for the marketplace
// engine and its RPC surface.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "assetmarket",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Count of marketplace operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "assetmarket",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for marketplace operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			tradeVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "assetmarket",
				Subsystem: "market",
				Name:      "trades_total",
				Help:      "Count of completed purchases.",
			}),
			listings: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "assetmarket",
				Subsystem: "market",
				Name:      "active_listings",
				Help:      "Number of currently active listings.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.opLatency,
			marketRegistry.tradeVolume,
			marketRegistry.listings,
		)
	})
	return marketRegistry
}

// Observe records the outcome and latency of a marketplace operation.
func (m *MarketMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTrade increments the completed-purchase counter.
func (m *MarketMetrics) RecordTrade() {
	if m == nil {
		return
	}
	m.tradeVolume.Inc()
}

// SetActiveListings updates the active-listings gauge.
func (m *MarketMetrics) SetActiveListings(n int) {
	if m == nil {
		return
	}
	m.listings.Set(float64(n))
}
