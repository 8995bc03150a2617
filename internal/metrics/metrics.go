// Package metrics registers the kernel's process-wide Prometheus
// collectors: admin event-stream throughput, storage cache occupancy,
// and connection/channel pool saturation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventMetrics tracks the admin websocket event stream.
type EventMetrics struct {
	ConnectionsActive prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
}

// NewEventMetrics registers the event-stream collectors under namespace.
func NewEventMetrics(namespace string) *EventMetrics {
	return &EventMetrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "connections_active",
			Help:      "Current number of connected admin event-stream clients.",
		}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of kernel lifecycle events published, by type and source.",
		}, []string{"type", "source"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "errors_total",
			Help:      "Total number of event-stream delivery errors, by error type.",
		}, []string{"error_type"}),
		BroadcastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "broadcast_duration_seconds",
			Help:      "Duration of fanning one event out to all admin subscribers.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}
}

// PoolMetrics tracks a single named connection/channel pool.
type PoolMetrics struct {
	Open       *prometheus.GaugeVec
	Idle       *prometheus.GaugeVec
	Waiting    *prometheus.GaugeVec
	ErrorTotal *prometheus.CounterVec
}

// NewPoolMetrics registers the pool collectors under namespace. Each
// metric is labeled by pool name so multiple channel pools (postgres,
// sqlite, redis) share one set of collectors.
func NewPoolMetrics(namespace string) *PoolMetrics {
	return &PoolMetrics{
		Open: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "open_channels",
			Help:      "Number of currently open channels, by pool name.",
		}, []string{"pool"}),
		Idle: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "idle_channels",
			Help:      "Number of currently idle channels, by pool name.",
		}, []string{"pool"}),
		Waiting: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "waiting_acquirers",
			Help:      "Number of callers blocked waiting for a channel, by pool name.",
		}, []string{"pool"}),
		ErrorTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "errors_total",
			Help:      "Total channel validation/creation errors, by pool name.",
		}, []string{"pool"}),
	}
}

// StorageMetrics tracks the layered object store's cache layer.
type StorageMetrics struct {
	CachedObjects prometheus.Gauge
	CacheSweeps   prometheus.Counter
	WriteBacks    prometheus.Counter
}

// NewStorageMetrics registers the storage collectors under namespace.
func NewStorageMetrics(namespace string) *StorageMetrics {
	return &StorageMetrics{
		CachedObjects: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cached_objects",
			Help:      "Number of objects currently held in the in-memory object cache.",
		}),
		CacheSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cache_sweeps_total",
			Help:      "Total number of cache activity sweeps run.",
		}),
		WriteBacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cache_writebacks_total",
			Help:      "Total number of dirty objects written back to the backing store.",
		}),
	}
}
