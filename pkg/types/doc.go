/*
Package types defines the core domain model shared by every IronLayer
package: model definitions, snapshots, plans and steps, run records,
audit entries, tenancy and billing records, and the enums that constrain
them.

All types here are plain data. Behaviour lives in the packages that own
each concern (pkg/planner, pkg/governance, pkg/storage, ...); keeping the
structs dependency-free avoids import cycles between those packages.

# Identity rules

Plan and step identifiers are content-derived:

	step_id = sha256(model, run_type, input_range, content_hash)
	plan_id = sha256(base_revision, target_revision, step_id...)

No wall-clock value participates in identity. CreatedAt/UpdatedAt fields
are bookkeeping only and never feed a hash.

# Tenancy

Every tenant-scoped row carries TenantID. Persistence layers filter on it
at the application level and, in postgres mode, enforce it again with
row-level security policies keyed off the session tenant variable.
*/
package types
