/*
Package llm is the guarded caller in front of the LLM provider.

The advisory engine consults a Collaborator; this package implements it
with three layers stacked over the Anthropic Messages API:

	┌──────────────────────── CALL PATH ────────────────────────┐
	│                                                            │
	│  advisory.Engine                                           │
	│        │ scrubbed prompt from the frozen registry          │
	│        ▼                                                   │
	│  Collaborator ── budget guard (recorded spend vs. cap)     │
	│        │                                                   │
	│        ▼                                                   │
	│  AdaptiveLimiter ── AIMD tokens-per-minute throttle        │
	│        │                                                   │
	│        ▼                                                   │
	│  AnthropicClient ── Messages API, taxonomy error mapping   │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

The budget guard runs before the provider is touched and admits the call
while spend already recorded is under the daily and monthly caps; the
call that crosses a cap goes through and is metered, and refusals start
once spend has reached the cap. A denial surfaces as BUDGET_EXCEEDED and
no usage event is recorded, because nothing was spent.

Once a call reaches the provider, the AI_CALL usage event is recorded
whatever the outcome, carrying prompt id and version, token counts, cost,
and latency, so billing and the prompt registry stay correlated.

# Adaptive Throttle

The limiter keeps a tokens-per-minute budget: a 429 from the provider
halves it (never below 10% of the initial budget), every success adds 5%
of the initial budget back, up to the ceiling. Waits are priced with a
cheap estimate of one token per three prompt characters plus a fixed
buffer.

# Integration Points

  - pkg/advisory: consumes Collaborator for classify and optimize calls
  - pkg/governance: budget guard
  - pkg/metering: usage recorder
  - pkg/metrics: request, token, and spend counters
*/
package llm
