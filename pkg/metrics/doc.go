/*
Package metrics provides Prometheus metrics collection and exposition for IronLayer.

The metrics package defines and registers all IronLayer metrics using the
Prometheus client library, providing observability into plan generation,
run execution, cache efficiency, LLM spend, and governance activity.
Metrics are exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

IronLayer's metrics system follows Prometheus best practices:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Project: Tenants, models, plans, runs      │          │
	│  │  Planner: Generation count, duration        │          │
	│  │  Cache: Hits, misses per operation          │          │
	│  │  Advisory: LLM calls, tokens, spend         │          │
	│  │  Governance: Rate limits, audit, webhooks   │          │
	│  │  API: Request count, duration               │          │
	│  │  Scheduler: Tick count, triggered runs      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Collector:
  - Snapshots store-level gauges every 15 seconds
  - Polls a narrow Source view satisfied by storage.Store
  - Ticker plus stop channel lifecycle, collect once at start

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Health Checks:
  - /healthz always answers 200 while the process runs; components that
    report degradation are listed in the body
  - /readyz runs every registered probe (the storage ping) per request
    and answers 503 until all pass

# Metrics Catalog

Project Metrics:

ironlayer_tenants_total:
  - Type: Gauge
  - Description: Total number of tenants

ironlayer_models_total:
  - Type: Gauge
  - Description: Total number of loaded model definitions

ironlayer_plans_total{state}:
  - Type: Gauge
  - Description: Plans by lifecycle state (DRAFT, APPLIED, ...)

ironlayer_runs_total{status}:
  - Type: Gauge
  - Description: Runs by status (PENDING, RUNNING, ...)

Planner Metrics:

ironlayer_plans_generated_total:
  - Type: Counter
  - Description: Plans generated since process start

ironlayer_plan_generation_duration_seconds:
  - Type: Histogram
  - Description: Wall time spent generating one plan

ironlayer_plan_steps_skipped_cosmetic_total:
  - Type: Counter
  - Description: Model changes elided because only cosmetic SQL changed

Cache Metrics:

ironlayer_cache_hits_total{operation} / ironlayer_cache_misses_total{operation}:
  - Type: Counter
  - Description: Response cache outcomes per advisory operation

Advisory Metrics:

ironlayer_llm_requests_total{outcome}:
  - Type: Counter
  - Description: LLM calls by outcome (ok, error, budget_denied)

ironlayer_llm_tokens_total{direction}:
  - Type: Counter
  - Description: Token volume by direction (input, output)

ironlayer_llm_cost_usd_total:
  - Type: Counter
  - Description: Cumulative LLM spend in USD

Governance Metrics:

ironlayer_rate_limited_total:
  - Type: Counter
  - Description: Requests denied by the sliding window limiter

ironlayer_audit_entries_total:
  - Type: Counter
  - Description: Audit chain entries appended

ironlayer_webhook_deliveries_total{outcome}:
  - Type: Counter
  - Description: Webhook delivery attempts (delivered, retried, dead)

# Usage Example

	timer := metrics.NewTimer()
	plan, err := planner.Generate(ctx, base, target)
	timer.ObserveDuration(metrics.PlanGenerationDuration)
	if err == nil {
		metrics.PlansGenerated.Inc()
	}

# Integration Points

Used By:
  - pkg/engine: Plan and run instrumentation
  - pkg/cache: Hit and miss accounting
  - pkg/llm: Token and spend accounting
  - pkg/governance: Rate limit and audit counters
  - pkg/events: Webhook delivery outcomes
  - cmd/ironlayerd: HTTP exposition and collector lifecycle

# Cardinality

Label values are bounded enumerations (state, status, operation, outcome,
direction, method). Tenant identifiers are deliberately not used as labels.
*/
package metrics
