package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Escrow ledger metrics
	escrowMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_movements_total",
		Help: "Total escrow balance movements",
	}, []string{
		"kind",   // deposit, withdrawal, payment
		"status", // success, failed
	})

	escrowMovementAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_movement_amount_total",
		Help: "Total amount moved in or out of escrow, in base units",
	}, []string{
		"kind",
	})

	// Subscription payment metrics
	subscriptionPaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_payments_total",
		Help: "Subscription payment attempts by outcome",
	}, []string{
		"outcome", // executed, or the error code that rejected the payment
	})

	subscriptionPaymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "subscription_payment_duration_seconds",
		Help: "Time to execute a single subscription payment including the transfer",
		// Buckets: 5ms to 10s
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
	}, []string{
		"outcome",
	})

	subscriptionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_transitions_total",
		Help: "Subscription lifecycle transitions",
	}, []string{
		"transition", // created, paused, resumed, cancelled
	})

	// Batch metrics
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_batch_size",
		Help:    "Number of subscriptions submitted per batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_batch_items_total",
		Help: "Batch items by result",
	}, []string{
		"result", // processed, skipped
	})

	// Transfer primitive metrics
	transferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transfer_duration_seconds",
		Help:    "Latency of the outbound transfer primitive",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{
		"kind",
		"status",
	})

	// Keeper metrics
	keeperSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_sweeps_total",
		Help: "Keeper sweeps by result",
	}, []string{
		"result", // completed, skipped_lease, failed
	})
)

// RecordEscrowMovement records a deposit, withdrawal or payment debit.
// Only successful movements count toward the amount total.
func RecordEscrowMovement(kind, status string, amount int64) {
	escrowMovementsTotal.WithLabelValues(kind, status).Inc()
	if status == "success" {
		escrowMovementAmount.WithLabelValues(kind).Add(float64(amount))
	}
}

// RecordSubscriptionPayment records one payment attempt
func RecordSubscriptionPayment(outcome string, duration time.Duration) {
	subscriptionPaymentsTotal.WithLabelValues(outcome).Inc()
	subscriptionPaymentDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSubscriptionTransition records a lifecycle transition
func RecordSubscriptionTransition(transition string) {
	subscriptionTransitionsTotal.WithLabelValues(transition).Inc()
}

// RecordBatch records a finished batch
func RecordBatch(size, processed, skipped int) {
	batchSize.Observe(float64(size))
	batchItemsTotal.WithLabelValues("processed").Add(float64(processed))
	batchItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordTransfer records one call to the transfer primitive
func RecordTransfer(kind, status string, duration time.Duration) {
	transferDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// RecordKeeperSweep records the result of a keeper tick
func RecordKeeperSweep(result string) {
	keeperSweepsTotal.WithLabelValues(result).Inc()
}

var circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "circuit_breaker_state",
	Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
}, []string{
	"name",
})

// RecordCircuitBreakerState records a breaker transition
func RecordCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

var dbPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "escrow_db_pool_connections",
	Help: "PostgreSQL pool connections by state",
}, []string{
	"state", // acquired, idle, max
})

// RecordDBPool records a pool snapshot
func RecordDBPool(acquired, idle, max int32) {
	dbPoolConnections.WithLabelValues("acquired").Set(float64(acquired))
	dbPoolConnections.WithLabelValues("idle").Set(float64(idle))
	dbPoolConnections.WithLabelValues("max").Set(float64(max))
}
