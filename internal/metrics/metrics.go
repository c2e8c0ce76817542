package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Pipeline
	TransactionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_created_total",
			Help: "Transactions accepted at intake",
		},
		[]string{"type", "source"},
	)
	TransactionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_processed_total",
			Help: "Execution outcomes",
		},
		[]string{"outcome"}, // completed|retry_scheduled|failed_permanent
	)

	// Scheduler
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Completed scheduler ticks",
		},
	)
	SchedulerTicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_skipped_total",
			Help: "Ticks skipped because the previous one was still running",
		},
	)
	SchedulerBatchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_batch_size",
			Help: "Rows claimed by the last tick",
		},
	)

	// Gateway
	GatewayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_request_seconds",
			Help:    "Core-banking gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Events
	EventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Terminal-transition events published",
		},
	)
	EventsPublishFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_publish_failures_total",
			Help: "Event publishes that failed (best-effort, logged only)",
		},
	)

	// Worker pool
	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(TransactionsCreated)
	prometheus.MustRegister(TransactionsProcessed)
	prometheus.MustRegister(SchedulerTicks)
	prometheus.MustRegister(SchedulerTicksSkipped)
	prometheus.MustRegister(SchedulerBatchSize)
	prometheus.MustRegister(GatewayDuration)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsPublishFailed)
	prometheus.MustRegister(WorkerQueueDepth)
}
