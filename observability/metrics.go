package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Herald, backed by any go-utils
// MetricFactory.
type Metrics struct {
	EventsEmittedTotal gu.Counter
	DeliveriesTotal    gu.Counter
	DeliveryLatency    gu.Histogram
	DLQSize            gu.Gauge
	PendingRecords     gu.Gauge
	SweepsTotal        gu.Counter
	SweepBatchSize     gu.Histogram
}

// NewMetrics creates Herald metric instruments using the supplied factory.
// Use metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsEmittedTotal: factory.Counter("herald_events_emitted_total"),
		DeliveriesTotal:    factory.Counter("herald_deliveries_total"),
		DeliveryLatency:    factory.Histogram("herald_delivery_latency_seconds"),
		DLQSize:            factory.Gauge("herald_dlq_size"),
		PendingRecords:     factory.Gauge("herald_pending_records"),
		SweepsTotal:        factory.Counter("herald_sweeps_total"),
		SweepBatchSize:     factory.Histogram("herald_sweep_batch_size"),
	}
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordSweep records one sweeper pass and the number of records it picked up.
func (m *Metrics) RecordSweep(batch int) {
	m.SweepsTotal.Inc()
	m.SweepBatchSize.Observe(float64(batch))
}
