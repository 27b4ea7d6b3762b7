// Package advisory scores models and plans without ever mutating them.
//
// The engine wraps five pure scorers (risk, fragility, cost anomaly, cost
// forecast, cost prediction), a deterministic change classifier, and a
// rule-based SQL optimiser:
//
//	            ┌─────────────────────────────┐
//	 request →  │ validate → cache → scorer   │ → response
//	            │              ↓              │
//	            │   (optional LLM consult)    │
//	            └─────────────────────────────┘
//
// Scorers are pure functions: identical inputs produce bit-identical
// outputs, which is what lets plan generation stay deterministic while
// consulting them. The cache keys on a digest of (type, prompt version,
// payload), so a prompt bump or retrain naturally misses.
//
// The LLM collaborator is strictly optional and strictly advisory. It is
// consulted only when the tenant has it enabled and the deterministic
// confidence falls below the engine's floor. Prompts come from a frozen
// versioned registry, all SQL is scrubbed before leaving the process, and
// a collaborator failure degrades to the deterministic answer with a
// warning rather than failing the call.
package advisory
