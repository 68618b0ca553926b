package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders settled by a payment",
	})

	OrdersCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_canceled_total",
		Help: "Total number of orders fully canceled by refunds",
	})

	StockRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_rejections_total",
		Help: "Total number of order attempts rejected for insufficient stock",
	}, []string{"source"})

	PaymentsInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Total number of payments created",
	})

	PaymentsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_applied_total",
		Help: "Total number of payments applied to orders",
	})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of payment applications rejected",
	}, []string{"reason"})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total number of refunds recorded",
	}, []string{"scope"})

	RefundsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_rejected_total",
		Help: "Total number of refund attempts rejected",
	}, []string{"reason"})

	RefundedAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunded_amount_total",
		Help: "Total refunded amount in minor currency units",
	})

	OrderTxLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_tx_latency_seconds",
		Help:    "Latency of workflow database transactions",
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
