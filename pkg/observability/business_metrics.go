package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// Lifecycle metrics
	subscriptionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_transitions_total",
		Help: "Total subscription state transitions",
	}, []string{
		"from", // pending, active, past_due, suspended, ...
		"to",
	})

	// Gateway metrics
	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total payment gateway calls",
	}, []string{
		"provider",  // stripe, paypal, razorpay
		"operation", // create_subscription, cancel_subscription, get_status, charge_one_time
		"status",    // success, declined, error, timeout, circuit_open
	})

	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "gateway_request_duration_seconds",
		Help: "Payment gateway call latency",
		// Buckets: 50ms to 30s (external API timeout)
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"provider",
		"operation",
	})

	// Inbound gateway notifications
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total inbound gateway notifications",
	}, []string{
		"provider",
		"kind",   // charge_succeeded, charge_failed, subscription_updated, ...
		"result", // applied, duplicate, ignored, rejected, error
	})

	// Scheduler metrics
	schedulerJobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Total scheduler job runs",
	}, []string{
		"job",    // renewals, reminders, grace_expiry, rollover
		"status", // success, partial
	})

	schedulerJobItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_items_total",
		Help: "Subscriptions handled by scheduler jobs",
	}, []string{
		"job",
		"outcome", // succeeded, skipped, failed
	})

	// Billing metrics
	invoicesRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_recorded_total",
		Help: "Total invoices recorded",
	}, []string{
		"currency",
		"source", // initial, renewal, upgrade, reactivation
	})

	invoiceAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_amount_cents_total",
		Help: "Total invoiced amount in cents (for revenue tracking)",
	}, []string{
		"currency",
	})

	prorationAmountCents = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proration_amount_cents",
		Help:    "Distribution of prorated upgrade charges in cents",
		Buckets: []float64{0, 100, 500, 1000, 2500, 5000, 10000, 25000, 100000},
	})

	// Notification metrics
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total lifecycle notifications handed to the sink",
	}, []string{
		"kind",
		"status", // sent, failed
	})
)

// ToCents converts a decimal major-unit amount to integer minor units
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// RecordTransition records a subscription state transition
func RecordTransition(from, to string) {
	subscriptionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordGatewayRequest records a payment gateway call
func RecordGatewayRequest(provider, operation, status string, duration float64) {
	gatewayRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	gatewayRequestDuration.WithLabelValues(provider, operation).Observe(duration)
}

// RecordWebhookEvent records the outcome of an inbound gateway notification
func RecordWebhookEvent(provider, kind, result string) {
	webhookEventsTotal.WithLabelValues(provider, kind, result).Inc()
}

// RecordSchedulerJob records one job run and its per-item outcomes
func RecordSchedulerJob(job string, succeeded, skipped, failed int) {
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	schedulerJobRunsTotal.WithLabelValues(job, status).Inc()
	schedulerJobItemsTotal.WithLabelValues(job, "succeeded").Add(float64(succeeded))
	schedulerJobItemsTotal.WithLabelValues(job, "skipped").Add(float64(skipped))
	schedulerJobItemsTotal.WithLabelValues(job, "failed").Add(float64(failed))
}

// RecordInvoice records an invoice and its total toward revenue
func RecordInvoice(currency, source string, total decimal.Decimal) {
	invoicesRecordedTotal.WithLabelValues(currency, source).Inc()
	invoiceAmountCents.WithLabelValues(currency).Add(float64(ToCents(total)))
}

// RecordProration records a prorated upgrade charge
func RecordProration(amount decimal.Decimal) {
	prorationAmountCents.Observe(float64(ToCents(amount)))
}

// RecordNotification records a notification delivery attempt
func RecordNotification(kind, status string) {
	notificationsTotal.WithLabelValues(kind, status).Inc()
}
