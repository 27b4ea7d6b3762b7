// Package governance holds the control-plane rules that sit between an
// authenticated identity and a mutating operation: the plan approval state
// machine, the hash-chained audit log, quota and budget guards, per-tenant
// rate limiting, and the input sanitizers shared by list and export
// surfaces.
//
// Everything here is deliberately storage-agnostic. Each guard declares the
// narrow read interface it needs (usage sums, user counts, audit tips) and
// the engine wires pkg/storage in. The audit recorder is the only writer;
// it retries exactly once when a concurrent writer takes the chain tip.
package governance
