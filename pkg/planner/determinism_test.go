package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// chainRequest builds a linear chain a -> b -> ... of n models where the
// model at position changed gets a new expression and the model at position
// cosmetic gets a comment-only edit.
func chainRequest(n, changed, cosmetic int) Request {
	baseSnap := types.Snapshot{Revision: "rev-a", Models: map[string]string{}}
	targetSnap := types.Snapshot{Revision: "rev-b", Models: map[string]string{}}
	baseModels := map[string]*types.ModelDefinition{}
	targetModels := map[string]*types.ModelDefinition{}

	name := func(i int) string { return fmt.Sprintf("analytics.m%02d", i) }
	for i := 0; i < n; i++ {
		var refs []string
		from := "raw.events"
		if i > 0 {
			from = name(i - 1)
			refs = []string{from}
		}
		sql := fmt.Sprintf("SELECT id, v%d AS value FROM %s WHERE id > 0", i, from)
		hash := fmt.Sprintf("hash-%02d", i)

		baseModels[name(i)] = def(name(i), hash, sql, func(m *types.ModelDefinition) { m.References = refs })
		baseSnap.Models[name(i)] = hash

		targetSQL, targetHash := sql, hash
		switch i {
		case changed:
			targetSQL = fmt.Sprintf("SELECT id FROM %s WHERE id > 0", from)
			targetHash = hash + "-changed"
		case cosmetic:
			targetSQL = sql + " -- touched"
			targetHash = hash + "-cosmetic"
		}
		targetModels[name(i)] = def(name(i), targetHash, targetSQL, func(m *types.ModelDefinition) { m.References = refs })
		targetSnap.Models[name(i)] = targetHash
	}

	return Request{
		Base: baseSnap, Target: targetSnap,
		BaseModels: baseModels, TargetModels: targetModels,
		Today: "2026-03-10",
	}
}

func TestPlanDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	p := New(Config{})

	properties.Property("identical inputs produce identical plans", prop.ForAll(
		func(n, changed, cosmetic int) bool {
			if changed >= n {
				changed = n - 1
			}
			if cosmetic >= n || cosmetic == changed {
				cosmetic = -1
			}
			req := chainRequest(n, changed, cosmetic)

			first, err1 := p.Generate(context.Background(), req)
			second, err2 := p.Generate(context.Background(), req)
			if err1 != nil || err2 != nil {
				return false
			}
			if first.PlanID != second.PlanID || len(first.Steps) != len(second.Steps) {
				return false
			}
			for i := range first.Steps {
				if first.Steps[i].StepID != second.Steps[i].StepID {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12), gen.IntRange(0, 11), gen.IntRange(0, 11),
	))

	properties.Property("cosmetic-only edits never produce steps", prop.ForAll(
		func(n, cosmetic int) bool {
			if cosmetic >= n {
				cosmetic = n - 1
			}
			req := chainRequest(n, -1, cosmetic)
			plan, err := p.Generate(context.Background(), req)
			if err != nil {
				return false
			}
			if len(plan.Steps) != 0 {
				return false
			}
			return len(plan.Summary.CosmeticChangesSkipped) == 1
		},
		gen.IntRange(1, 12), gen.IntRange(0, 11),
	))

	properties.Property("a removed column rebuilds the full downstream chain", prop.ForAll(
		func(n int) bool {
			req := chainRequest(n, 0, -1)
			plan, err := p.Generate(context.Background(), req)
			if err != nil {
				return false
			}
			// Dropping a selected column is breaking at the head, so every
			// model in the chain becomes a FULL_REFRESH step.
			if len(plan.Steps) != n {
				return false
			}
			for i, s := range plan.Steps {
				if s.RunType != types.RunTypeFullRefresh || s.ParallelGroup != i {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
