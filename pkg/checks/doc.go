// Package checks runs data quality checks over loaded models and reduces
// the outcomes into one deterministic summary.
//
// A registry maps each check type to its handler. A run takes the loaded
// models, optional model and type filters, and shared context (telemetry
// history, contract mode, the clock) and dispatches every selected handler
// against every selected model. Results always come back sorted by
// (model, check type, status) so two runs over the same inputs serialize
// identically.
//
// A blocking failure is a FAIL at CRITICAL or HIGH severity; those are what
// gate a plan. Contract checks running in WARN mode downgrade their
// violations below the blocking line instead of hiding them.
//
// Check configuration rides on the model headers themselves: declarative
// tests dispatch by their type tag (not_null, unique, accepted_values,
// relationship for MODEL_TEST; reconciliation, cross_model, custom for
// their namesake check types), so adding a check to a model is a repo
// change, not a control-plane change.
package checks
