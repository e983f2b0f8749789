package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "klear_fx"

var (
	// RateTicks counts incoming rate updates by outcome: accepted, duplicate, no_subscribers
	RateTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_ticks_total",
		Help:      "Rate updates received per outcome.",
	}, []string{"outcome"})

	QuotesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quotes_generated_total",
		Help:      "Client quotes generated from accepted rates.",
	})

	ClientTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_transitions_total",
		Help:      "Client subscription state transitions per target status.",
	}, []string{"status"})

	TradeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trade_outcomes_total",
		Help:      "Trade bookings per terminal status.",
	}, []string{"status"})

	StepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_step_retries_total",
		Help:      "Workflow step attempts that failed and were retried.",
	}, []string{"workflow", "step"})

	Failovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_failovers_total",
		Help:      "Workflow instances that fell through to their failover step.",
	}, []string{"workflow"})

	StreamRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_restarts_total",
		Help:      "Supervised streams restarted after a failure.",
	}, []string{"stream"})

	ConsumerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_failures_total",
		Help:      "Journal entries skipped after exhausting handler retries.",
	}, []string{"consumer"})

	ConsumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "consumer_handle_seconds",
		Help:      "Time spent handling one journal entry.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"consumer"})
)
