package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_completed_total",
		Help: "Total number of carts converted into orders",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of the checkout transaction including retries",
		Buckets: prometheus.DefBuckets,
	})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_idempotent_replays_total",
		Help: "Checkouts answered with an existing order for the same idempotency key",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status changes by edge",
	}, []string{"from", "to"})

	InventoryMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_movements_total",
		Help: "Ledger entries recorded by reason",
	}, []string{"reason"})

	StockCheckFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_check_failed_total",
		Help: "Availability checks rejected for insufficient stock",
	})

	LedgerInconsistenciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_inconsistencies_total",
		Help: "Ledger verifications that found a broken chain or cache drift",
	})

	CouponRedemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Coupons applied to placed orders",
	})

	CouponRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_rejections_total",
		Help: "Coupon evaluations rejected by reason",
	}, []string{"reason"})

	TransactionRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transaction_retries_total",
		Help: "Transactions retried after a serialization conflict",
	}, []string{"operation"})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Domain events that could not be published",
	}, []string{"event_type"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Consumed events by type and outcome",
	}, []string{"event_type", "result"})

	EventRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_handler_retries_total",
		Help: "Consumed messages handed to the handler again after a failure",
	})

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
