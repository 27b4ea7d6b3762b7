package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// Test type tags handled by MODEL_TEST. Other tags belong to the
// reconciliation, cross-model, and custom checkers.
const (
	testNotNull        = "not_null"
	testUnique         = "unique"
	testAcceptedValues = "accepted_values"
	testRelationship   = "relationship"
)

// modelTestChecker compiles declarative header tests into violating-rows
// queries and runs them on the warehouse.
type modelTestChecker struct {
	runner *queryRunner
}

func (c *modelTestChecker) Type() CheckType { return TypeModelTest }

func (c *modelTestChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	var results []Result
	for _, test := range m.Tests {
		switch test.Type {
		case testNotNull, testUnique, testAcceptedValues, testRelationship:
		default:
			continue
		}
		start := time.Now()
		if !c.runner.available() {
			results = append(results, skipResult(TypeModelTest, m, test.Name+": no warehouse collaborator", start))
			continue
		}
		sql, err := compileTest(m, test)
		if err != nil {
			results = append(results, Result{
				CheckType:  TypeModelTest,
				Model:      m.Name,
				Status:     StatusError,
				Severity:   severityForTest(test.Type),
				Message:    test.Name + ": " + err.Error(),
				DurationMS: elapsedMS(start),
			})
			continue
		}
		count, err := c.runner.violations(ctx, m, sql)
		results = append(results, resultForQuery(TypeModelTest, m, test.Name, severityForTest(test.Type), count, err, start))
	}
	return results
}

func severityForTest(testType string) Severity {
	switch testType {
	case testNotNull, testUnique, testRelationship:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// compileTest renders the violating-rows query for one declarative test.
func compileTest(m *types.ModelDefinition, test types.ModelTest) (string, error) {
	switch test.Type {
	case testNotNull:
		if test.Column == "" {
			return "", fmt.Errorf("not_null test requires a column")
		}
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NULL", test.Column, m.Name, test.Column), nil

	case testUnique:
		cols := test.Column
		if cols == "" {
			cols = strings.Join(m.UniqueKey, ", ")
		}
		if cols == "" {
			return "", fmt.Errorf("unique test requires a column or a model unique_key")
		}
		return fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s HAVING COUNT(*) > 1", cols, m.Name, cols), nil

	case testAcceptedValues:
		if test.Column == "" {
			return "", fmt.Errorf("accepted_values test requires a column")
		}
		raw, ok := test.Args["values"]
		if !ok || raw == "" {
			return "", fmt.Errorf("accepted_values test requires a values arg")
		}
		parts := strings.Split(raw, ",")
		quoted := make([]string, 0, len(parts))
		for _, p := range parts {
			quoted = append(quoted, quoteLiteral(strings.TrimSpace(p)))
		}
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL AND %s NOT IN (%s)",
			test.Column, m.Name, test.Column, test.Column, strings.Join(quoted, ", ")), nil

	case testRelationship:
		if test.Column == "" {
			return "", fmt.Errorf("relationship test requires a column")
		}
		to, field := test.Args["to"], test.Args["field"]
		if to == "" || field == "" {
			return "", fmt.Errorf("relationship test requires to and field args")
		}
		return fmt.Sprintf(
			"SELECT child.%s FROM %s AS child LEFT JOIN %s AS parent ON child.%s = parent.%s WHERE child.%s IS NOT NULL AND parent.%s IS NULL",
			test.Column, m.Name, to, test.Column, field, test.Column, field), nil

	default:
		return "", fmt.Errorf("unsupported test type %q", test.Type)
	}
}

// quoteLiteral single-quotes a value with '' escaping, matching the string
// syntax both supported dialects share.
func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func skipResult(ct CheckType, m *types.ModelDefinition, msg string, start time.Time) Result {
	return Result{
		CheckType:  ct,
		Model:      m.Name,
		Status:     StatusSkip,
		Severity:   SeverityLow,
		Message:    msg,
		DurationMS: elapsedMS(start),
	}
}
