// Package planner turns a pair of snapshots into a deterministic execution
// plan.
//
// Determinism is the contract everything else leans on: given the same base
// and target snapshots, the same telemetry hints, the same planning date,
// and the same advisory versions, Generate produces a bit-identical plan id
// and step list. Every set iteration walks sorted canonical names, step ids
// are content hashes, and no wall clock enters the identity.
//
// The pipeline runs nine stages: structural snapshot diff, cosmetic
// elision, change classification, forward closure with most-severe
// inheritance, run-type selection, parallel grouping by longest-path depth,
// contract validation, cost estimation, and identity derivation. Cosmetic
// elision is the load-bearing optimisation: whitespace, casing, and
// comment-only edits never rebuild anything.
package planner
