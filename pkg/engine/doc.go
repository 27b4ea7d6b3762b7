// Package engine is the control-plane facade. It binds the planner,
// check engine, advisory engine, governance, metering, and the event bus
// into the operations transport collaborators call: plan generation and
// lifecycle, model registration, run inspection, checks, token issue and
// revocation, user and API key administration, audit verification, and
// billing introspection.
//
// Every operation authenticates through the identity on the context,
// enforces RBAC and per-tenant rate limits, and records audit and usage
// side effects. The engine owns no transport: HTTP routing, CLI surfaces,
// and warehouse execution all live behind collaborator interfaces.
package engine
