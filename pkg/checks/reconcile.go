package checks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// Test type tags handled outside MODEL_TEST.
const (
	testReconciliation = "reconciliation"
	testCrossModel     = "cross_model"
	testCustom         = "custom"
)

// reconciliationChecker compares a model's row count against an external
// table the header names, within an absolute tolerance.
type reconciliationChecker struct {
	runner *queryRunner
}

func (c *reconciliationChecker) Type() CheckType { return TypeReconciliation }

func (c *reconciliationChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	var results []Result
	for _, test := range m.Tests {
		if test.Type != testReconciliation {
			continue
		}
		start := time.Now()
		if !c.runner.available() {
			results = append(results, skipResult(TypeReconciliation, m, test.Name+": no warehouse collaborator", start))
			continue
		}
		against := test.Args["against"]
		if against == "" {
			results = append(results, Result{
				CheckType:  TypeReconciliation,
				Model:      m.Name,
				Status:     StatusError,
				Severity:   SeverityHigh,
				Message:    test.Name + ": reconciliation test requires an against arg",
				DurationMS: elapsedMS(start),
			})
			continue
		}
		tolerance := int64(0)
		if raw := test.Args["tolerance"]; raw != "" {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
				tolerance = v
			}
		}
		sql := fmt.Sprintf(
			"SELECT l.cnt, r.cnt FROM (SELECT COUNT(*) AS cnt FROM %s) AS l CROSS JOIN (SELECT COUNT(*) AS cnt FROM %s) AS r WHERE ABS(l.cnt - r.cnt) > %d",
			m.Name, against, tolerance)
		count, err := c.runner.violations(ctx, m, sql)
		results = append(results, resultForQuery(TypeReconciliation, m, test.Name, SeverityHigh, count, err, start))
	}
	return results
}

// crossModelChecker asserts an aggregate agrees between two models, e.g.
// revenue rolled up hourly equals revenue rolled up daily.
type crossModelChecker struct {
	runner *queryRunner
}

func (c *crossModelChecker) Type() CheckType { return TypeCrossModel }

func (c *crossModelChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	var results []Result
	for _, test := range m.Tests {
		if test.Type != testCrossModel {
			continue
		}
		start := time.Now()
		if !c.runner.available() {
			results = append(results, skipResult(TypeCrossModel, m, test.Name+": no warehouse collaborator", start))
			continue
		}
		other := test.Args["model"]
		expr := test.Args["expression"]
		otherExpr := test.Args["other_expression"]
		if otherExpr == "" {
			otherExpr = expr
		}
		if other == "" || expr == "" {
			results = append(results, Result{
				CheckType:  TypeCrossModel,
				Model:      m.Name,
				Status:     StatusError,
				Severity:   SeverityHigh,
				Message:    test.Name + ": cross_model test requires model and expression args",
				DurationMS: elapsedMS(start),
			})
			continue
		}
		target := rc.model(other)
		if target == nil {
			results = append(results, Result{
				CheckType:  TypeCrossModel,
				Model:      m.Name,
				Status:     StatusError,
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("%s: counterpart model %s is not loaded", test.Name, other),
				DurationMS: elapsedMS(start),
			})
			continue
		}
		sql := fmt.Sprintf(
			"SELECT l.v, r.v FROM (SELECT %s AS v FROM %s) AS l CROSS JOIN (SELECT %s AS v FROM %s) AS r WHERE l.v <> r.v",
			expr, m.Name, otherExpr, target.Name)
		count, err := c.runner.violations(ctx, m, sql)
		results = append(results, resultForQuery(TypeCrossModel, m, test.Name, SeverityHigh, count, err, start))
	}
	return results
}

// customChecker runs header-supplied SQL verbatim; rows produced are
// violations. Severity defaults to MEDIUM and may be raised by the header.
type customChecker struct {
	runner *queryRunner
}

func (c *customChecker) Type() CheckType { return TypeCustom }

func (c *customChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	var results []Result
	for _, test := range m.Tests {
		if test.Type != testCustom {
			continue
		}
		start := time.Now()
		if !c.runner.available() {
			results = append(results, skipResult(TypeCustom, m, test.Name+": no warehouse collaborator", start))
			continue
		}
		sql := test.Args["sql"]
		if sql == "" {
			results = append(results, Result{
				CheckType:  TypeCustom,
				Model:      m.Name,
				Status:     StatusError,
				Severity:   SeverityMedium,
				Message:    test.Name + ": custom test requires a sql arg",
				DurationMS: elapsedMS(start),
			})
			continue
		}
		sev := SeverityMedium
		switch test.Args["severity"] {
		case "critical":
			sev = SeverityCritical
		case "high":
			sev = SeverityHigh
		case "low":
			sev = SeverityLow
		}
		count, err := c.runner.violations(ctx, m, sql)
		results = append(results, resultForQuery(TypeCustom, m, test.Name, sev, count, err, start))
	}
	return results
}
