// Package metrics exposes Prometheus metrics for batch transfers.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records transfer counts, durations and in-flight slots.
// It satisfies the engine's Observer interface and is safe for concurrent use.
type Collector struct {
	transfersTotal   *prometheus.CounterVec
	transferErrors   *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	inFlight         *prometheus.GaugeVec
}

// NewCollector registers the collector's metrics with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Collector{
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mclient_transfers_total",
				Help: "Total number of completed transfers",
			},
			[]string{"method", "status_code"},
		),
		transferErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mclient_transfer_errors_total",
				Help: "Total number of transfers that failed at the transport level",
			},
			[]string{"method"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mclient_transfer_duration_seconds",
				Help:    "Duration of transfers in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mclient_transfers_in_flight",
				Help: "Number of concurrency slots currently occupied",
			},
			[]string{"method"},
		),
	}
}

// TransferStarted marks a slot as occupied.
func (c *Collector) TransferStarted(method string) {
	c.inFlight.WithLabelValues(method).Inc()
}

// TransferFinished releases the slot and records the outcome. Failed
// transfers are counted with status code "0".
func (c *Collector) TransferFinished(method string, code int, err error, d time.Duration) {
	c.inFlight.WithLabelValues(method).Dec()
	c.transfersTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.transferDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		c.transferErrors.WithLabelValues(method).Inc()
	}
}
