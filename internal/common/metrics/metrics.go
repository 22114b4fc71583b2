package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	Checkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_checkouts_total",
			Help: "Checkout attempts by outcome (error code or ok)",
		},
		[]string{"outcome"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_order_transitions_total",
			Help: "Applied order status transitions by target status",
		},
		[]string{"status"},
	)

	PaymentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_payment_requests_total",
			Help: "Mobile money push requests by outcome",
		},
		[]string{"outcome"},
	)

	PaymentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_payment_callbacks_total",
			Help: "Payment callbacks by resulting payment status",
		},
		[]string{"status"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_events_published_total",
			Help: "Order events published by type",
		},
		[]string{"type"},
	)

	KitchenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fulfillment_kds_sessions_active",
			Help: "Connected kitchen display sessions",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_notifications_sent_total",
			Help: "Customer notifications by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)
