package checks

import (
	"context"
	"sort"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/ironlayer/ironlayer/pkg/warehouse"
)

// CheckType names one registered check family.
type CheckType string

const (
	TypeModelTest      CheckType = "MODEL_TEST"
	TypeSchemaContract CheckType = "SCHEMA_CONTRACT"
	TypeSchemaDrift    CheckType = "SCHEMA_DRIFT"
	TypeReconciliation CheckType = "RECONCILIATION"
	TypeDataFreshness  CheckType = "DATA_FRESHNESS"
	TypeCrossModel     CheckType = "CROSS_MODEL"
	TypeVolumeAnomaly  CheckType = "VOLUME_ANOMALY"
	TypeCustom         CheckType = "CUSTOM"
)

// Status is the outcome of one check against one model.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusWarn  Status = "WARN"
	StatusError Status = "ERROR"
	StatusSkip  Status = "SKIP"
)

// Severity ranks how much a failure matters.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ContractMode selects whether contract violations block.
type ContractMode string

const (
	ContractStrict ContractMode = "STRICT"
	ContractWarn   ContractMode = "WARN"
)

// Result is one check outcome.
type Result struct {
	CheckType  CheckType      `json:"check_type"`
	Model      string         `json:"model"`
	Status     Status         `json:"status"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Detail     map[string]any `json:"detail,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Blocking reports whether this result gates a plan.
func (r Result) Blocking() bool {
	return r.Status == StatusFail && (r.Severity == SeverityCritical || r.Severity == SeverityHigh)
}

// Summary aggregates one run.
type Summary struct {
	Total            int      `json:"total"`
	Passed           int      `json:"passed"`
	Failed           int      `json:"failed"`
	Warned           int      `json:"warned"`
	Errored          int      `json:"errored"`
	Skipped          int      `json:"skipped"`
	BlockingFailures int      `json:"blocking_failures"`
	Results          []Result `json:"results"`
}

// RunContext carries the shared inputs a run dispatches against. Telemetry
// is keyed by canonical model name, rows ordered oldest first.
type RunContext struct {
	Models       []*types.ModelDefinition
	Telemetry    map[string][]types.TelemetryRow
	ContractMode ContractMode
	Now          time.Time
}

func (rc *RunContext) model(name string) *types.ModelDefinition {
	for _, m := range rc.Models {
		if m.Name == name || m.ShortName == name {
			return m
		}
	}
	return nil
}

// Filter narrows which models and check types a run covers. Empty slices
// select everything.
type Filter struct {
	Models []string
	Types  []CheckType
}

// Checker is one check family. Check returns zero or more results for a
// single model; handlers stamp their own durations.
type Checker interface {
	Type() CheckType
	Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result
}

// Registry is the dispatch table from check type to handler.
type Registry struct {
	checkers map[CheckType]Checker
}

// Config wires the collaborators the built-in checkers need.
type Config struct {
	// Warehouse runs compiled check queries; nil disables the checks that
	// need one (they report SKIP).
	Warehouse warehouse.Client
	// QueryTimeout bounds each check query.
	QueryTimeout time.Duration
	// FreshnessMaxAge is how stale the newest telemetry row may be before
	// DATA_FRESHNESS fails.
	FreshnessMaxAge time.Duration
}

// NewRegistry builds a registry with every built-in checker installed.
func NewRegistry(cfg Config) *Registry {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Minute
	}
	if cfg.FreshnessMaxAge <= 0 {
		cfg.FreshnessMaxAge = 24 * time.Hour
	}
	r := &Registry{checkers: make(map[CheckType]Checker)}
	runner := &queryRunner{client: cfg.Warehouse, timeout: cfg.QueryTimeout}
	for _, c := range []Checker{
		&modelTestChecker{runner: runner},
		&contractChecker{},
		&driftChecker{client: cfg.Warehouse},
		&reconciliationChecker{runner: runner},
		&freshnessChecker{maxAge: cfg.FreshnessMaxAge},
		&crossModelChecker{runner: runner},
		&volumeChecker{},
		&customChecker{runner: runner},
	} {
		r.checkers[c.Type()] = c
	}
	return r
}

// Register installs or replaces a handler. Registering a nil checker is a
// validation error.
func (r *Registry) Register(c Checker) error {
	if c == nil || c.Type() == "" {
		return errdefs.Validationf("checker and its type are required")
	}
	r.checkers[c.Type()] = c
	return nil
}

// Types lists the registered check types in lexical order.
func (r *Registry) Types() []CheckType {
	out := make([]CheckType, 0, len(r.checkers))
	for t := range r.checkers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run dispatches the selected checkers over the selected models and folds
// the outcomes into a summary with deterministic result ordering.
func (r *Registry) Run(ctx context.Context, rc *RunContext, f Filter) (*Summary, error) {
	if rc == nil {
		return nil, errdefs.Validationf("run context is required")
	}
	if rc.Now.IsZero() {
		rc.Now = time.Now().UTC()
	}
	if rc.ContractMode == "" {
		rc.ContractMode = ContractStrict
	}

	selected := r.selectTypes(f.Types)
	models, err := selectModels(rc.Models, f.Models)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for _, m := range models {
		for _, ct := range selected {
			if err := ctx.Err(); err != nil {
				return nil, errdefs.CollaboratorTimeout(err, "check run cancelled")
			}
			results := r.checkers[ct].Check(ctx, rc, m)
			summary.Results = append(summary.Results, results...)
		}
	}

	sort.Slice(summary.Results, func(i, j int) bool {
		a, b := summary.Results[i], summary.Results[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.CheckType != b.CheckType {
			return a.CheckType < b.CheckType
		}
		return a.Status < b.Status
	})

	for _, res := range summary.Results {
		summary.Total++
		switch res.Status {
		case StatusPass:
			summary.Passed++
		case StatusFail:
			summary.Failed++
		case StatusWarn:
			summary.Warned++
		case StatusError:
			summary.Errored++
		case StatusSkip:
			summary.Skipped++
		}
		if res.Blocking() {
			summary.BlockingFailures++
		}
	}
	return summary, nil
}

func (r *Registry) selectTypes(want []CheckType) []CheckType {
	if len(want) == 0 {
		return r.Types()
	}
	var out []CheckType
	for _, t := range want {
		if _, ok := r.checkers[t]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func selectModels(models []*types.ModelDefinition, want []string) ([]*types.ModelDefinition, error) {
	byName := make(map[string]*types.ModelDefinition, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	var out []*types.ModelDefinition
	if len(want) == 0 {
		out = append(out, models...)
	} else {
		for _, name := range want {
			m, ok := byName[name]
			if !ok {
				return nil, errdefs.NotFoundf("model %s not found", name)
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
