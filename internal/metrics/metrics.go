package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MovementsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_movements_applied_total",
		Help: "Total number of committed stock movements",
	}, []string{"change_type"})

	InsufficientStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_insufficient_stock_total",
		Help: "Total number of operations rejected for insufficient stock",
	})

	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_created_total",
		Help: "Total number of committed sales",
	})

	SalesReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_replayed_total",
		Help: "Total number of sales answered from an idempotency key",
	})

	ReturnsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "returns_created_total",
		Help: "Total number of committed returns",
	}, []string{"return_type"})

	ReturnTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "return_transitions_total",
		Help: "Total number of return status transitions",
	}, []string{"status"})

	ReportCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_requests_total",
		Help: "Report cache lookups by result",
	}, []string{"report", "result"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_events_published_total",
		Help: "Stock events handed to the publisher",
	}, []string{"event", "result"})

	TransactionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "service_operation_latency_seconds",
		Help:    "Latency of transactional service operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
