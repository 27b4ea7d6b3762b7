package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ironlayer/ironlayer/pkg/advisory"
	"github.com/ironlayer/ironlayer/pkg/checks"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/sqlparser"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/ironlayer/ironlayer/pkg/warehouse"
)

// EnrichFunc consults the advisory engine when the deterministic
// classification is below the confidence floor. Returning false keeps the
// deterministic verdict.
type EnrichFunc func(ctx context.Context, model, oldSQL, newSQL string, dialect types.Dialect, timeColumn string) (advisory.Classification, bool)

// Config tunes a Planner. The zero value plans with heuristic costs, a
// seven day incremental lookback, and no advisory enrichment.
type Config struct {
	// Predictor prices step runtimes; nil falls back to the heuristic.
	Predictor *advisory.PredictorModel
	// Enrich upgrades low-confidence classifications; nil disables.
	Enrich EnrichFunc
	// ConfidenceFloor below which Enrich is consulted.
	ConfidenceFloor float64
	// LookbackDays bounds the incremental input range when no completed
	// range is known for a model.
	LookbackDays int
}

// TelemetryHint carries per-model history the planner folds into cost
// features and incremental ranges. All fields are optional.
type TelemetryHint struct {
	// Partitions the last run processed.
	Partitions int
	// DataVolumeGB read by the last run.
	DataVolumeGB float64
	// LastCompletedEnd is the inclusive end date (YYYY-MM-DD) of the most
	// recent completed incremental run.
	LastCompletedEnd string
}

// Request is one planning invocation. BaseModels and TargetModels map
// canonical names to the definitions loaded at each snapshot's revision.
// Today (YYYY-MM-DD) is the planning date; it bounds incremental ranges
// and must be injected rather than read from the clock so identical
// requests replan identically.
type Request struct {
	Base         types.Snapshot
	Target       types.Snapshot
	BaseModels   map[string]*types.ModelDefinition
	TargetModels map[string]*types.ModelDefinition
	Graph        *dag.Graph
	Hints        map[string]TelemetryHint
	Today        string
}

// Planner generates plans. Safe for concurrent use.
type Planner struct {
	cfg Config
}

// New builds a Planner, applying defaults to the zero fields.
func New(cfg Config) *Planner {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.7
	}
	return &Planner{cfg: cfg}
}

// changeRank orders categories by rebuild severity for closure inheritance.
var changeRank = map[types.ChangeCategory]int{
	types.ChangeBreaking:       5,
	types.ChangeMetricSemantic: 4,
	types.ChangePartitionShift: 3,
	types.ChangeNonBreaking:    2,
	types.ChangeRenameOnly:     1,
	types.ChangeCosmetic:       0,
}

func moreSevere(a, b types.ChangeCategory) types.ChangeCategory {
	if changeRank[a] >= changeRank[b] {
		return a
	}
	return b
}

func propagates(c types.ChangeCategory) bool {
	return c == types.ChangeBreaking || c == types.ChangeMetricSemantic
}

// stepSeed is one model that planning decided must run, with why.
type stepSeed struct {
	category  types.ChangeCategory
	reason    string
	inherited bool
	added     bool
}

// Generate runs the full pipeline. It returns a plan in DRAFT state with
// tenant and timestamps unset; persistence concerns belong to the caller.
func (p *Planner) Generate(ctx context.Context, req Request) (*types.Plan, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlanGenerationDuration)

	if req.Today == "" {
		return nil, errdefs.Validationf("planning date is required")
	}
	if _, err := parseDate(req.Today); err != nil {
		return nil, err
	}

	graph := req.Graph
	if graph == nil {
		models := make([]*types.ModelDefinition, 0, len(req.TargetModels))
		for _, m := range req.TargetModels {
			models = append(models, m)
		}
		sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
		var err error
		graph, err = dag.Build(models)
		if err != nil {
			return nil, err
		}
	}

	// Stage 1: structural diff, sorted.
	added, removed, modified := diffSnapshots(req.Base, req.Target)

	plan := &types.Plan{
		BaseRevision: req.Base.Revision,
		TargetRev:    req.Target.Revision,
		State:        types.PlanStateDraft,
	}

	// Stages 2 and 3: cosmetic elision, then classification of survivors.
	seeds := make(map[string]stepSeed)
	for _, name := range added {
		if _, ok := req.TargetModels[name]; !ok {
			return nil, errdefs.Validationf("target snapshot names %s but no definition was loaded", name)
		}
		seeds[name] = stepSeed{category: types.ChangeNonBreaking, reason: "model added", added: true}
	}
	for _, name := range modified {
		target, ok := req.TargetModels[name]
		if !ok {
			return nil, errdefs.Validationf("target snapshot names %s but no definition was loaded", name)
		}
		cls := p.classify(ctx, req.BaseModels[name], target)
		if cls.Category == types.ChangeCosmetic {
			plan.Summary.CosmeticChangesSkipped = append(plan.Summary.CosmeticChangesSkipped, name)
			metrics.PlanStepsSkippedCosmetic.Inc()
			continue
		}
		reason := "model modified"
		if len(cls.Reasons) > 0 {
			reason = cls.Reasons[0]
		}
		seeds[name] = stepSeed{category: cls.Category, reason: reason}
	}
	_ = removed // removed models produce no steps; their tables are left to retention tooling

	plan.Summary.ModelsChanged = sortedKeys(seeds)

	// Stage 4: forward closure from breaking and metric-semantic seeds.
	for _, name := range sortedKeys(seeds) {
		seed := seeds[name]
		if !propagates(seed.category) || !graph.Has(name) {
			continue
		}
		for _, downstream := range graph.Closure([]string{name}) {
			if downstream == name {
				continue
			}
			cur, exists := seeds[downstream]
			if !exists {
				seeds[downstream] = stepSeed{
					category:  seed.category,
					reason:    fmt.Sprintf("upstream %s change is %s", name, seed.category),
					inherited: true,
				}
				continue
			}
			// Most-severe wins, whether the downstream was pulled in by
			// closure or changed in its own right.
			if changeRank[seed.category] > changeRank[cur.category] {
				cur.category = seed.category
				cur.reason = fmt.Sprintf("upstream %s change is %s", name, seed.category)
				seeds[downstream] = cur
			}
		}
	}

	// Stages 5 through 8 per step, in sorted order.
	stepSet := make(map[string]bool, len(seeds))
	for name := range seeds {
		stepSet[name] = true
	}
	depths := graph.DepthsWithin(stepSet)

	steps := make([]types.PlanStep, 0, len(seeds))
	for _, name := range sortedKeys(seeds) {
		seed := seeds[name]
		m := req.TargetModels[name]
		step := types.PlanStep{
			Model:         name,
			Change:        seed.category,
			Reason:        seed.reason,
			ContentHash:   m.ContentHash,
			ParallelGroup: depths[name],
		}
		p.selectRunType(&step, m, seed.added, req)
		p.attachContracts(&step, req.BaseModels[name], m, &plan.Summary)
		p.estimateCost(&step, m, req.Hints[name])
		step.StepID = stepID(step)
		steps = append(steps, step)
	}

	// Serialized step order is (parallel_group, model).
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].ParallelGroup != steps[j].ParallelGroup {
			return steps[i].ParallelGroup < steps[j].ParallelGroup
		}
		return steps[i].Model < steps[j].Model
	})

	// depends_on carries upstream step ids, resolvable only now.
	idByModel := make(map[string]string, len(steps))
	for _, s := range steps {
		idByModel[s.Model] = s.StepID
	}
	for i := range steps {
		for _, up := range graph.UpstreamWithin(steps[i].Model, stepSet) {
			steps[i].DependsOn = append(steps[i].DependsOn, idByModel[up])
		}
		sort.Strings(steps[i].DependsOn)
	}

	plan.Steps = steps
	plan.Summary.TotalSteps = len(steps)
	for _, s := range steps {
		plan.Summary.EstimatedSecs += s.EstimatedSecs
		plan.Summary.EstimatedUSD += s.EstimatedUSD
	}
	sort.Strings(plan.Summary.CosmeticChangesSkipped)

	// Stage 9: plan identity.
	plan.PlanID = planID(req.Base.Revision, req.Target.Revision, steps)

	metrics.PlansGenerated.Inc()
	plannerLog := log.WithComponent("planner")
	plannerLog.Info().
		Str("plan_id", plan.PlanID).
		Str("base", req.Base.Revision).
		Str("target", req.Target.Revision).
		Int("steps", len(steps)).
		Int("cosmetic_skipped", len(plan.Summary.CosmeticChangesSkipped)).
		Msg("plan generated")
	return plan, nil
}

// classify buckets one modified model, consulting the enricher when the
// deterministic confidence is low. A missing base definition is treated as
// breaking so downstream consumers rebuild rather than trust stale data.
func (p *Planner) classify(ctx context.Context, base, target *types.ModelDefinition) advisory.Classification {
	if base == nil {
		return advisory.Classification{
			Category:   types.ChangeBreaking,
			Confidence: 0.5,
			Reasons:    []string{"base definition unavailable; assuming breaking"},
		}
	}
	cls := advisory.ClassifyChange(base.CleanSQL, target.CleanSQL, target.Dialect, target.TimeColumn)
	if cls.Confidence < p.cfg.ConfidenceFloor && p.cfg.Enrich != nil {
		if enriched, ok := p.cfg.Enrich(ctx, target.Name, base.CleanSQL, target.CleanSQL, target.Dialect, target.TimeColumn); ok {
			if enriched.Confidence > cls.Confidence {
				cls = enriched
			}
		}
	}
	return cls
}

// selectRunType applies stage 5: full refresh for new models, full-refresh
// kinds, breaking or metric-semantic changes, and partition shifts;
// incremental otherwise, with a date range only for time-range models.
func (p *Planner) selectRunType(step *types.PlanStep, m *types.ModelDefinition, added bool, req Request) {
	full := added ||
		m.Kind == types.KindFullRefresh ||
		step.Change == types.ChangeBreaking ||
		step.Change == types.ChangeMetricSemantic ||
		step.Change == types.ChangePartitionShift
	if full {
		step.RunType = types.RunTypeFullRefresh
		return
	}
	step.RunType = types.RunTypeIncremental
	if m.Kind != types.KindIncrementalByTimeRange {
		return
	}
	start := ""
	if hint, ok := req.Hints[m.Name]; ok && hint.LastCompletedEnd != "" {
		if d, err := parseDate(hint.LastCompletedEnd); err == nil {
			start = formatDate(d.AddDate(0, 0, 1))
		}
	}
	if start == "" {
		today, _ := parseDate(req.Today)
		start = formatDate(today.AddDate(0, 0, -p.cfg.LookbackDays))
	}
	if start > req.Today {
		start = req.Today
	}
	step.InputRange = &types.DateRange{Start: start, End: req.Today}
}

func (p *Planner) attachContracts(step *types.PlanStep, base, target *types.ModelDefinition, summary *types.PlanSummary) {
	violations := checks.ContractViolations(base, target)
	if len(violations) == 0 {
		return
	}
	step.Violations = violations
	summary.ContractViolations += len(violations)
	for _, v := range violations {
		if v.Breaking {
			summary.BreakingContractViolations++
		}
	}
}

// estimateCost prices a step: predicted runtime times the per-second rate
// of the model's cluster size.
func (p *Planner) estimateCost(step *types.PlanStep, m *types.ModelDefinition, hint TelemetryHint) {
	template := warehouse.TemplateFor(m.ClusterSize)
	features := advisory.CostFeatures{
		Partitions:   hint.Partitions,
		DataVolumeGB: hint.DataVolumeGB,
		Workers:      template.Workers,
	}
	if stats, err := sqlparser.AnalyzeComplexity(m.CleanSQL, m.Dialect); err == nil {
		features.SQLComplexity = stats.Score()
		features.JoinCount = stats.Joins
		features.CTECount = stats.CTEs
		features.UsesWindow = stats.Windows > 0
		features.TableCount = stats.Tables
	}
	prediction := advisory.PredictCost(p.cfg.Predictor, features)
	step.EstimatedSecs = prediction.Seconds
	step.EstimatedUSD = round4(prediction.Seconds * template.USDPerSec)
}

func sortedKeys(m map[string]stepSeed) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errdefs.Validationf("date %q is not YYYY-MM-DD", s)
	}
	return d, nil
}

func formatDate(d time.Time) string {
	return d.Format("2006-01-02")
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
