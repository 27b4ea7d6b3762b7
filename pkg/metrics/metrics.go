package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Project metrics
	TenantsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ironlayer_tenants_total",
			Help: "Total number of tenants",
		},
	)

	ModelsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ironlayer_models_total",
			Help: "Total number of loaded model definitions",
		},
	)

	PlansTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ironlayer_plans_total",
			Help: "Total number of plans by state",
		},
		[]string{"state"},
	)

	RunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ironlayer_runs_total",
			Help: "Total number of runs by status",
		},
		[]string{"status"},
	)

	// Planner metrics
	PlansGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_plans_generated_total",
			Help: "Total number of plans generated",
		},
	)

	PlanGenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ironlayer_plan_generation_duration_seconds",
			Help:    "Plan generation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlanStepsSkippedCosmetic = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_plan_steps_skipped_cosmetic_total",
			Help: "Total number of model changes elided as cosmetic",
		},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironlayer_cache_hits_total",
			Help: "Total number of response cache hits by operation",
		},
		[]string{"operation"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironlayer_cache_misses_total",
			Help: "Total number of response cache misses by operation",
		},
		[]string{"operation"},
	)

	// Advisory metrics
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironlayer_llm_requests_total",
			Help: "Total number of LLM calls by outcome",
		},
		[]string{"outcome"},
	)

	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironlayer_llm_tokens_total",
			Help: "Total number of LLM tokens by direction",
		},
		[]string{"direction"},
	)

	LLMCostUSD = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_llm_cost_usd_total",
			Help: "Cumulative LLM spend in USD",
		},
	)

	// Governance metrics
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_rate_limited_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	AuditEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_audit_entries_total",
			Help: "Total number of audit chain entries appended",
		},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironlayer_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironlayer_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ironlayer_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Metering metrics
	UsageEventsFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_usage_events_flushed_total",
			Help: "Total number of usage events written to the sink",
		},
	)

	UsageEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_usage_events_dropped_total",
			Help: "Total number of usage events dropped after a failed flush",
		},
	)

	// Scheduler metrics
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ironlayer_scheduler_ticks_total",
			Help: "Total number of scheduler poll cycles",
		},
	)

	ScheduledRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ironlayer_scheduled_runs_total",
			Help: "Total number of schedule-triggered runs by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TenantsTotal)
	prometheus.MustRegister(ModelsTotal)
	prometheus.MustRegister(PlansTotal)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(PlansGenerated)
	prometheus.MustRegister(PlanGenerationDuration)
	prometheus.MustRegister(PlanStepsSkippedCosmetic)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMTokensTotal)
	prometheus.MustRegister(LLMCostUSD)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(AuditEntriesTotal)
	prometheus.MustRegister(WebhookDeliveries)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(UsageEventsFlushed)
	prometheus.MustRegister(UsageEventsDropped)
	prometheus.MustRegister(SchedulerTicks)
	prometheus.MustRegister(ScheduledRunsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
