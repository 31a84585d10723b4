package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of committed order status transitions",
	}, []string{"from", "to", "path"})

	OrderStatusRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_rejected_total",
		Help: "Total number of rejected order status change requests",
	}, []string{"reason"})

	OrderStatusWriteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_status_write_latency_seconds",
		Help:    "Latency of order status writes by mutator path",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	OrderItemStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_item_status_changes_total",
		Help: "Total number of item status changes and the rollups they caused",
	}, []string{"level"})

	SideEffectTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "side_effect_tasks_total",
		Help: "Total number of side-effect tasks by outcome",
	}, []string{"task", "result"})

	SideEffectTaskLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "side_effect_task_latency_seconds",
		Help:    "Latency of side-effect tasks including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	SideEffectTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "side_effect_tasks_in_flight",
		Help: "Number of side-effect tasks currently running",
	})

	WalletRefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_refunds_total",
		Help: "Total number of wallet refunds for cancelled orders",
	}, []string{"result"})

	StockRestorationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_restorations_total",
		Help: "Total number of order item stock restorations",
	}, []string{"target", "result"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of notification deliveries by channel",
	}, []string{"channel", "result"})

	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Total number of emails handed to the SMTP server",
	}, []string{"result"})

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
