package checks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// ContractViolations compares a model revision against the column contracts
// binding it. With a base revision present it also detects contract
// loosening between revisions: a type change or a nullable loosening is
// breaking, a nullable tightening is not. A contracted column absent from
// the model's output is always breaking.
func ContractViolations(base, target *types.ModelDefinition) []types.ContractViolation {
	if target == nil {
		return nil
	}
	out := make(map[string]types.ContractViolation)
	outputs := make(map[string]bool, len(target.Columns))
	for _, col := range target.Columns {
		outputs[col] = true
	}
	hasOutputs := len(target.Columns) > 0

	for _, c := range target.Contracts {
		if hasOutputs && !outputs[c.Column] {
			out[c.Column] = types.ContractViolation{
				Column:   c.Column,
				Kind:     "missing_column",
				Message:  fmt.Sprintf("contracted column %s is not produced by the model", c.Column),
				Breaking: true,
			}
		}
	}

	if base != nil {
		targetByCol := make(map[string]types.ColumnContract, len(target.Contracts))
		for _, c := range target.Contracts {
			targetByCol[c.Column] = c
		}
		for _, old := range base.Contracts {
			if _, already := out[old.Column]; already {
				continue
			}
			cur, still := targetByCol[old.Column]
			if !still {
				if hasOutputs && !outputs[old.Column] {
					out[old.Column] = types.ContractViolation{
						Column:   old.Column,
						Kind:     "missing_column",
						Message:  fmt.Sprintf("previously contracted column %s was removed", old.Column),
						Breaking: true,
					}
				}
				continue
			}
			if cur.DataType != old.DataType {
				out[old.Column] = types.ContractViolation{
					Column:   old.Column,
					Kind:     "type_change",
					Message:  fmt.Sprintf("column %s changed type %s to %s", old.Column, old.DataType, cur.DataType),
					Breaking: true,
				}
				continue
			}
			if cur.Nullable != old.Nullable {
				out[old.Column] = types.ContractViolation{
					Column:   old.Column,
					Kind:     "nullability_change",
					Message:  fmt.Sprintf("column %s nullability changed", old.Column),
					Breaking: cur.Nullable, // loosening breaks consumers, tightening does not
				}
			}
		}
	}

	cols := make([]string, 0, len(out))
	for col := range out {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	violations := make([]types.ContractViolation, 0, len(cols))
	for _, col := range cols {
		violations = append(violations, out[col])
	}
	return violations
}

// contractChecker verifies each model satisfies its own declared contracts.
type contractChecker struct{}

func (c *contractChecker) Type() CheckType { return TypeSchemaContract }

func (c *contractChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	if len(m.Contracts) == 0 {
		return nil
	}
	start := time.Now()
	if len(m.Columns) == 0 {
		return []Result{skipResult(TypeSchemaContract, m, "output columns could not be derived", start)}
	}

	violations := ContractViolations(nil, m)
	if len(violations) == 0 {
		return []Result{{
			CheckType:  TypeSchemaContract,
			Model:      m.Name,
			Status:     StatusPass,
			Severity:   SeverityLow,
			Message:    fmt.Sprintf("%d contracts satisfied", len(m.Contracts)),
			DurationMS: elapsedMS(start),
		}}
	}

	var results []Result
	for _, v := range violations {
		sev := SeverityCritical
		if !v.Breaking {
			sev = SeverityMedium
		}
		if rc.ContractMode == ContractWarn && sev == SeverityCritical {
			sev = SeverityMedium
		}
		results = append(results, Result{
			CheckType:  TypeSchemaContract,
			Model:      m.Name,
			Status:     StatusFail,
			Severity:   sev,
			Message:    v.Message,
			Detail:     map[string]any{"column": v.Column, "kind": v.Kind, "breaking": v.Breaking},
			DurationMS: elapsedMS(start),
		})
	}
	return results
}
