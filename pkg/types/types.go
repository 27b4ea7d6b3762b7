package types

import (
	"time"
)

// Dialect identifies the SQL dialect a model is written in.
type Dialect string

const (
	DialectDatabricks Dialect = "databricks"
	DialectRedshift   Dialect = "redshift"
)

// ModelKind defines how a model is materialized on refresh.
type ModelKind string

const (
	KindFullRefresh            ModelKind = "FULL_REFRESH"
	KindIncrementalByTimeRange ModelKind = "INCREMENTAL_BY_TIME_RANGE"
	KindAppendOnly             ModelKind = "APPEND_ONLY"
	KindMergeByKey             ModelKind = "MERGE_BY_KEY"
)

// Materialization is the physical object a model produces.
type Materialization string

const (
	MaterializationTable Materialization = "table"
	MaterializationView  Materialization = "view"
)

// ColumnContract pins an output column to a declared type and nullability.
type ColumnContract struct {
	Column   string `json:"column" yaml:"column"`
	DataType string `json:"data_type" yaml:"data_type"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
}

// ModelTest is a declarative test attached to a model header.
type ModelTest struct {
	Name   string            `json:"name" yaml:"name"`
	Type   string            `json:"type" yaml:"type"` // not_null, unique, accepted_values, relationship
	Column string            `json:"column,omitempty" yaml:"column,omitempty"`
	Args   map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
}

// ModelDefinition is an immutable SQL transformation model loaded from a
// repository file at a given revision. A new revision produces a new
// definition; definitions are never mutated in place.
type ModelDefinition struct {
	Name            string           `json:"name"`   // canonical, schema-qualified: analytics.orders_daily
	Schema          string           `json:"schema"` // analytics
	ShortName       string           `json:"short_name"`
	Kind            ModelKind        `json:"kind"`
	Materialization Materialization  `json:"materialization"`
	Dialect         Dialect          `json:"dialect"`
	RawSQL          string           `json:"raw_sql"`
	CleanSQL        string           `json:"clean_sql"` // ref() macros resolved
	ContentHash     string           `json:"content_hash"`
	TimeColumn      string           `json:"time_column,omitempty"`
	UniqueKey       []string         `json:"unique_key,omitempty"`
	ClusterSize     ClusterSize      `json:"cluster_size,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	DependsOn       []string         `json:"depends_on,omitempty"` // explicit deps beyond referenced tables
	ReferencedBy    []string         `json:"-"`
	References      []string         `json:"references,omitempty"` // tables read by the clean SQL
	Columns         []string         `json:"columns,omitempty"`    // output columns in SELECT order
	Contracts       []ColumnContract `json:"contracts,omitempty"`
	Tests           []ModelTest      `json:"tests,omitempty"`
	Path            string           `json:"path,omitempty"` // repo-relative source path
	Revision        string           `json:"revision,omitempty"`
}

// Snapshot is an immutable mapping from canonical model name to content hash
// at a repository revision. It is both the planner input and the identity
// basis for plans.
type Snapshot struct {
	Revision string            `json:"revision"`
	Models   map[string]string `json:"models"` // canonical name -> content hash
}

// RunType selects how a plan step rebuilds its model.
type RunType string

const (
	RunTypeFullRefresh RunType = "FULL_REFRESH"
	RunTypeIncremental RunType = "INCREMENTAL"
)

// ChangeCategory classifies the semantic weight of a model change.
type ChangeCategory string

const (
	ChangeNonBreaking    ChangeCategory = "non_breaking"
	ChangeBreaking       ChangeCategory = "breaking"
	ChangeMetricSemantic ChangeCategory = "metric_semantic"
	ChangeRenameOnly     ChangeCategory = "rename_only"
	ChangePartitionShift ChangeCategory = "partition_shift"
	ChangeCosmetic       ChangeCategory = "cosmetic"
)

// DateRange is an inclusive date interval for incremental steps.
type DateRange struct {
	Start string `json:"start"` // YYYY-MM-DD
	End   string `json:"end"`
}

// ContractViolation describes a schema-contract breach detected during
// planning for a single step.
type ContractViolation struct {
	Column   string `json:"column"`
	Kind     string `json:"kind"` // missing_column, type_change, nullability_change
	Message  string `json:"message"`
	Breaking bool   `json:"breaking"`
}

// PlanStep is one unit of execution work bound to one model and run type.
// StepID is derived from content only; no wall-clock enters the identity.
type PlanStep struct {
	StepID        string              `json:"step_id"`
	Model         string              `json:"model"`
	RunType       RunType             `json:"run_type"`
	InputRange    *DateRange          `json:"input_range,omitempty"`
	DependsOn     []string            `json:"depends_on,omitempty"` // upstream step ids
	ParallelGroup int                 `json:"parallel_group"`
	Reason        string              `json:"reason"`
	Change        ChangeCategory      `json:"change"`
	ContentHash   string              `json:"content_hash"`
	EstimatedSecs float64             `json:"estimated_secs"`
	EstimatedUSD  float64             `json:"estimated_usd"`
	Violations    []ContractViolation `json:"violations,omitempty"`
}

// PlanSummary aggregates a plan for list views and gating decisions.
type PlanSummary struct {
	TotalSteps                 int      `json:"total_steps"`
	EstimatedSecs              float64  `json:"estimated_secs"`
	EstimatedUSD               float64  `json:"estimated_usd"`
	ModelsChanged              []string `json:"models_changed,omitempty"`
	CosmeticChangesSkipped     []string `json:"cosmetic_changes_skipped,omitempty"`
	ContractViolations         int      `json:"contract_violations"`
	BreakingContractViolations int      `json:"breaking_contract_violations"`
}

// PlanState tracks a plan's approval lifecycle. State is stored separately
// from the deterministic identity.
type PlanState string

const (
	PlanStateDraft            PlanState = "DRAFT"
	PlanStateAutoApproved     PlanState = "AUTO_APPROVED"
	PlanStateManuallyApproved PlanState = "MANUALLY_APPROVED"
	PlanStateRejected         PlanState = "REJECTED"
	PlanStateApplied          PlanState = "APPLIED"
	PlanStateCancelled        PlanState = "CANCELLED"
)

// Plan is a deterministic execution plan between two snapshots.
// PlanID = hash(base revision, target revision, ordered step ids); identical
// inputs always produce a bit-identical PlanID.
type Plan struct {
	PlanID       string      `json:"plan_id"`
	TenantID     string      `json:"tenant_id"`
	BaseRevision string      `json:"base_revision"`
	TargetRev    string      `json:"target_revision"`
	Summary      PlanSummary `json:"summary"`
	Steps        []PlanStep  `json:"steps"`
	State        PlanState   `json:"state"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Approval records one identity's decision on a plan. Records are
// append-only: a rejection never erases prior approvals.
type Approval struct {
	PlanID    string    `json:"plan_id"`
	TenantID  string    `json:"tenant_id"`
	Actor     string    `json:"actor"` // authenticated identity, never body-supplied
	Approved  bool      `json:"approved"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatus is the lifecycle of a single step execution.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// RunRecord tracks the execution of one plan step.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	TenantID   string    `json:"tenant_id"`
	PlanID     string    `json:"plan_id"`
	StepID     string    `json:"step_id"`
	Model      string    `json:"model"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	Cluster    string    `json:"cluster,omitempty"`
	RetryCount int       `json:"retry_count"`
}

// TelemetryRow captures execution measurements attached to a run.
type TelemetryRow struct {
	RunID        string    `json:"run_id"`
	TenantID     string    `json:"tenant_id"`
	Model        string    `json:"model"`
	RuntimeSecs  float64   `json:"runtime_secs"`
	ShuffleBytes int64     `json:"shuffle_bytes"`
	InputRows    int64     `json:"input_rows"`
	OutputRows   int64     `json:"output_rows"`
	Partitions   int       `json:"partitions"`
	ClusterID    string    `json:"cluster_id"`
	// RangeEnd is the inclusive end date (YYYY-MM-DD) of the completed
	// input range; empty for full-refresh runs.
	RangeEnd   string    `json:"range_end,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AggregateGranularity selects the rollup window for telemetry aggregates.
type AggregateGranularity string

const (
	GranularityHourly AggregateGranularity = "hourly"
	GranularityDaily  AggregateGranularity = "daily"
)

// TelemetryAggregate is one (tenant, model, bucket) rollup produced by the
// retention job so history survives raw-row pruning.
type TelemetryAggregate struct {
	TenantID     string               `json:"tenant_id"`
	Model        string               `json:"model"`
	Granularity  AggregateGranularity `json:"granularity"`
	BucketStart  time.Time            `json:"bucket_start"`
	RunCount     int                  `json:"run_count"`
	AvgRuntime   float64              `json:"avg_runtime_secs"`
	TotalShuffle int64                `json:"total_shuffle_bytes"`
	TotalRows    int64                `json:"total_rows"`
	P50Runtime   float64              `json:"p50_runtime_secs"`
	P95Runtime   float64              `json:"p95_runtime_secs"`
	CreatedAt    time.Time            `json:"created_at"`
}

// AuditEntry is an append-only, hash-chained governance record.
// EntryHash = sha256(PreviousHash || canonical bytes of the entry with the
// hash fields zeroed); per tenant the entries form a verifiable chain.
type AuditEntry struct {
	Sequence     int64             `json:"sequence"`
	TenantID     string            `json:"tenant_id"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	EntityType   string            `json:"entity_type"`
	EntityID     string            `json:"entity_id"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	PreviousHash string            `json:"previous_hash"`
	EntryHash    string            `json:"entry_hash"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Role is a fixed lattice: VIEWER < OPERATOR < ENGINEER < ADMIN.
type Role string

const (
	RoleViewer   Role = "VIEWER"
	RoleOperator Role = "OPERATOR"
	RoleEngineer Role = "ENGINEER"
	RoleAdmin    Role = "ADMIN"
)

// IdentityKind separates human users from service principals.
type IdentityKind string

const (
	IdentityUser    IdentityKind = "user"
	IdentityService IdentityKind = "service"
)

// Tenant is the isolation unit; every scoped row carries its id.
type Tenant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	LLMEnabled bool      `json:"llm_enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// User belongs to exactly one tenant. PasswordHash is a bcrypt digest and
// must be stripped before a user row leaves the API surface.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// APIKey stores only a lookup prefix and a salted hash of the full key.
type APIKey struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	Hash      string    `json:"hash"` // bcrypt of the full key
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

// TokenRevocation marks a JWT jti as revoked for a tenant until it expires.
type TokenRevocation struct {
	TenantID  string    `json:"tenant_id"`
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}

// UsageEventType enumerates metered operations.
type UsageEventType string

const (
	UsagePlanRun     UsageEventType = "PLAN_RUN"
	UsagePlanApply   UsageEventType = "PLAN_APPLY"
	UsageModelLoaded UsageEventType = "MODEL_LOADED"
	UsageAICall      UsageEventType = "AI_CALL"
	UsageAPIRequest  UsageEventType = "API_REQUEST"
)

// UsageEvent is one metered occurrence; Quantity is type-specific
// (calls, models, USD micro-amounts are carried in Metadata).
type UsageEvent struct {
	EventID   string            `json:"event_id"`
	TenantID  string            `json:"tenant_id"`
	EventType UsageEventType    `json:"event_type"`
	Quantity  float64           `json:"quantity"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// PlanTier selects quota and budget defaults.
type PlanTier string

const (
	TierCommunity  PlanTier = "community"
	TierTeam       PlanTier = "team"
	TierEnterprise PlanTier = "enterprise"
)

// Subscription holds a tenant's quota and LLM budget configuration.
// Monetary amounts are USD.
type Subscription struct {
	TenantID         string    `json:"tenant_id"`
	Tier             PlanTier  `json:"tier"`
	Seats            int       `json:"seats"`
	DailyBudgetUSD   float64   `json:"daily_budget_usd"`
	MonthlyBudgetUSD float64   `json:"monthly_budget_usd"`
	PlanRunQuota     int       `json:"plan_run_quota"` // per day
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// WebhookSubscription delivers matching bus events to an HTTPS endpoint.
// SecretHash is the bcrypt digest used to verify the signing secret;
// EncryptedSecret is the AES-GCM sealed plaintext the dispatcher opens at
// delivery time. Secret carries the plaintext in memory only, at
// registration and dispatch.
type WebhookSubscription struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	URL             string    `json:"url"`
	EventTypes      []string  `json:"event_types"` // empty means all
	SecretHash      string    `json:"secret_hash"`
	EncryptedSecret string    `json:"encrypted_secret,omitempty"`
	Secret          string    `json:"-"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Schedule drives periodic plan generation between two stored refs.
type Schedule struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	RepoPath     string    `json:"repo_path"`
	BaseRef      string    `json:"base_ref"`
	TargetRef    string    `json:"target_ref"`
	CadenceSecs  int       `json:"cadence_secs"`
	Enabled      bool      `json:"enabled"`
	LastRunAt    time.Time `json:"last_run_at,omitempty"`
	LastPlanID   string    `json:"last_plan_id,omitempty"`
	LastRunError string    `json:"last_run_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Environment names a rewrite-rule set applied when plans are handed out,
// mapping source catalog/schema pairs onto a target.
type Environment struct {
	TenantID  string        `json:"tenant_id"`
	Name      string        `json:"name"` // dev, staging, prod
	Rules     []RewriteRule `json:"rules"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// RewriteRule maps (source catalog, source schema) onto a target pair.
// An empty source catalog matches references that carry no catalog part.
type RewriteRule struct {
	SourceCatalog string `json:"source_catalog,omitempty"`
	SourceSchema  string `json:"source_schema,omitempty"`
	TargetCatalog string `json:"target_catalog,omitempty"`
	TargetSchema  string `json:"target_schema,omitempty"`
}

// ClusterSize selects a fixed warehouse cluster template.
type ClusterSize string

const (
	ClusterSmall  ClusterSize = "small"
	ClusterMedium ClusterSize = "medium"
	ClusterLarge  ClusterSize = "large"
)

// ClusterTemplate maps a size onto workers and a per-second USD rate.
// The planner reads rates; it never constructs cluster specs.
type ClusterTemplate struct {
	Size       ClusterSize `json:"size"`
	Workers    int         `json:"workers"`
	USDPerSec  float64     `json:"usd_per_sec"`
	DriverSpec string      `json:"driver_spec,omitempty"`
}
