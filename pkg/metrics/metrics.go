package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of inbound webhook requests by outcome (count)",
		},
		[]string{"provider", "outcome"},
	)

	WebhookProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_ms",
			Help:    "End-to-end inbound webhook handling duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"provider"},
	)

	SignatureRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_rejections_total",
			Help: "Total number of webhooks rejected by signature verification (count)",
		},
		[]string{"provider", "reason"},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total number of admission decisions (count)",
		},
		[]string{"provider", "decision"},
	)

	AdmissionStoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_store_duration_ms",
			Help:    "Duration of admission store check-and-insert in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"status"},
	)

	AdmissionRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "admission_records",
			Help: "Approximate number of live idempotency records (count)",
		},
	)

	NormalizerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalizer_rejections_total",
			Help: "Total number of payloads rejected as malformed (count)",
		},
		[]string{"provider"},
	)

	RouterEventsSequencedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_events_sequenced_total",
			Help: "Total number of events assigned a sequence number (count)",
		},
	)

	RouterBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_busy_total",
			Help: "Total number of submissions rejected because a partition queue was full (count)",
		},
	)

	RouterActivePartitions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_active_partitions",
			Help: "Number of live entity partitions (count)",
		},
	)

	RouterConsumerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_consumer_errors_total",
			Help: "Total number of consumer failures on a partition lane (count)",
		},
		[]string{"consumer"},
	)

	RouterCheckpointErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_checkpoint_errors_total",
			Help: "Total number of failed high-water-mark checkpoint writes (count)",
		},
	)

	HubConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connections",
			Help: "Number of live subscription connections (count)",
		},
	)

	HubMessagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_sent_total",
			Help: "Total number of messages written to live connections (count)",
		},
	)

	HubMessagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_dropped_total",
			Help: "Total number of messages dropped from full connection queues (count)",
		},
	)

	HubResyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_resyncs_total",
			Help: "Total number of lagging connections forcibly reset (count)",
		},
	)

	AlertRulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_rules_active",
			Help: "Number of active alert rules (count)",
		},
	)

	AlertRuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_rule_evaluations_total",
			Help: "Total number of alert rule evaluations (count)",
		},
		[]string{"rule_id", "result"},
	)

	AlertsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_emitted_total",
			Help: "Total number of alert events emitted (count)",
		},
		[]string{"rule_id"},
	)

	AlertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Total number of alert matches suppressed by cooldown (count)",
		},
		[]string{"rule_id"},
	)

	AlertsDispatchRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_dispatch_rejected_total",
			Help: "Total number of alert targets the dispatcher refused after local retries (count)",
		},
		[]string{"rule_id"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of delivery attempt state transitions (count)",
		},
		[]string{"channel", "state"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_ms",
			Help:    "Duration of a single channel send in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"channel"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Total number of deliveries that exhausted retries (count)",
		},
		[]string{"channel"},
	)

	DeliveriesAbandonedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_abandoned_total",
			Help: "Total number of queued delivery attempts closed by dispatcher shutdown (count)",
		},
		[]string{"channel"},
	)

	DispatcherPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_pending_attempts",
			Help: "Number of attempts waiting for their next retry (count)",
		},
	)

	AuditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Total number of audit records appended (count)",
		},
		[]string{"kind", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

var registerOnce sync.Once

// RegisterPipelineMetrics registers every collector with the default registry.
// Safe to call more than once.
func RegisterPipelineMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WebhookRequestsTotal,
			WebhookProcessingDuration,
			SignatureRejectionsTotal,
			AdmissionDecisionsTotal,
			AdmissionStoreDuration,
			AdmissionRecords,
			NormalizerRejectionsTotal,
			RouterEventsSequencedTotal,
			RouterBusyTotal,
			RouterActivePartitions,
			RouterConsumerErrorsTotal,
			RouterCheckpointErrorsTotal,
			HubConnections,
			HubMessagesSentTotal,
			HubMessagesDroppedTotal,
			HubResyncsTotal,
			AlertRulesActive,
			AlertRuleEvaluationsTotal,
			AlertsEmittedTotal,
			AlertsSuppressedTotal,
			AlertsDispatchRejectedTotal,
			DeliveryAttemptsTotal,
			DeliveryDuration,
			DeadLettersTotal,
			DeliveriesAbandonedTotal,
			DispatcherPending,
			AuditRecordsTotal,
		)
		RegisterBrokerMetrics()
		RegisterCircuitBreakerMetrics()
		prometheus.MustRegister(RateLimitRequestsTotal, DatabaseQueriesTotal, DatabaseQueryDuration)
	})
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveWebhookDuration(provider string, duration time.Duration) {
	WebhookProcessingDuration.WithLabelValues(provider).Observe(float64(duration.Milliseconds()))
}

func ObserveAdmissionDuration(duration time.Duration, status string) {
	AdmissionStoreDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetAdmissionRecords(count int64) {
	AdmissionRecords.Set(float64(count))
}

func SetAlertRulesActive(count int) {
	AlertRulesActive.Set(float64(count))
}

func ObserveDeliveryDuration(channel string, duration time.Duration) {
	DeliveryDuration.WithLabelValues(channel).Observe(float64(duration.Milliseconds()))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}
