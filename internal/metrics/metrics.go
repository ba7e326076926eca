package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ReconcileSweeps counts reconciliation sweeps by trigger (service_area, override)
	ReconcileSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconcile_sweeps_total", Help: "Reassignment reconciliation sweeps by trigger."},
		[]string{"trigger"},
	)
	// ReconcileDuration records sweep durations in seconds
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "reconcile_sweep_duration_seconds", Help: "Reconciliation sweep duration in seconds.", Buckets: prometheus.DefBuckets},
	)
	// OrdersReassigned counts orders whose driver actually changed, by tenant
	OrdersReassigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_reassigned_total", Help: "Orders reassigned by the reconciler."},
		[]string{"tenant"},
	)

	// NotifyDeliveries counts notification delivery outcomes by event type and status
	NotifyDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notification_deliveries_total", Help: "Notification deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// NotifyLatency tracks notification delivery latencies in milliseconds
	NotifyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "notification_delivery_latency_ms", Help: "Notification delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ReconcileSweeps)
		Registry.MustRegister(ReconcileDuration)
		Registry.MustRegister(OrdersReassigned)
		Registry.MustRegister(NotifyDeliveries)
		Registry.MustRegister(NotifyLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
