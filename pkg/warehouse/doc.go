// Package warehouse defines the collaborator boundary between the control
// plane and the compute engine that actually runs SQL.
//
// The control plane never executes a query itself. It hands compiled SQL to
// a Client together with a fixed cluster template and a deadline, and reads
// back row counts and timings for telemetry. Cluster templates are a closed
// catalogue (small, medium, large); the planner prices steps off the
// template's per-second rate and the apply loop submits against the same
// template, so costs estimated and costs incurred share one source.
//
// Two implementations ship here: a dry-run client for local mode and tests,
// and the HTTP-free interface any real engine adapter satisfies. Execution
// semantics beyond this boundary are out of scope.
package warehouse
