package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
	"github.com/ironlayer/ironlayer/pkg/warehouse"
)

// driftChecker compares the live table layout against the model's declared
// contracts. A model without contracts has nothing to drift from.
type driftChecker struct {
	client warehouse.Client
}

func (c *driftChecker) Type() CheckType { return TypeSchemaDrift }

func (c *driftChecker) Check(ctx context.Context, rc *RunContext, m *types.ModelDefinition) []Result {
	if len(m.Contracts) == 0 {
		return nil
	}
	start := time.Now()
	if c.client == nil {
		return []Result{skipResult(TypeSchemaDrift, m, "no warehouse collaborator", start)}
	}

	live, err := c.client.DescribeTableExtended(ctx, m.Name)
	if err != nil {
		if errdefs.IsKind(err, errdefs.KindNotFound) {
			return []Result{skipResult(TypeSchemaDrift, m, "table does not exist yet", start)}
		}
		return []Result{{
			CheckType:  TypeSchemaDrift,
			Model:      m.Name,
			Status:     StatusError,
			Severity:   SeverityHigh,
			Message:    "describe failed: " + err.Error(),
			DurationMS: elapsedMS(start),
		}}
	}

	byName := make(map[string]warehouse.ColumnInfo, len(live))
	for _, col := range live {
		byName[strings.ToLower(col.Name)] = col
	}

	var results []Result
	for _, contract := range m.Contracts {
		col, ok := byName[strings.ToLower(contract.Column)]
		switch {
		case !ok:
			results = append(results, Result{
				CheckType:  TypeSchemaDrift,
				Model:      m.Name,
				Status:     StatusFail,
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("column %s missing from live table", contract.Column),
				Detail:     map[string]any{"column": contract.Column, "kind": "missing_column"},
				DurationMS: elapsedMS(start),
			})
		case !typesEquivalent(col.Type, contract.DataType):
			results = append(results, Result{
				CheckType:  TypeSchemaDrift,
				Model:      m.Name,
				Status:     StatusFail,
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("column %s is %s, contract declares %s", contract.Column, col.Type, contract.DataType),
				Detail:     map[string]any{"column": contract.Column, "kind": "type_change"},
				DurationMS: elapsedMS(start),
			})
		case col.Nullable && !contract.Nullable:
			results = append(results, Result{
				CheckType:  TypeSchemaDrift,
				Model:      m.Name,
				Status:     StatusFail,
				Severity:   SeverityMedium,
				Message:    fmt.Sprintf("column %s is nullable, contract declares not null", contract.Column),
				Detail:     map[string]any{"column": contract.Column, "kind": "nullability_change"},
				DurationMS: elapsedMS(start),
			})
		}
	}

	if len(results) == 0 {
		results = append(results, Result{
			CheckType:  TypeSchemaDrift,
			Model:      m.Name,
			Status:     StatusPass,
			Severity:   SeverityLow,
			Message:    fmt.Sprintf("live table matches %d contracts", len(m.Contracts)),
			DurationMS: elapsedMS(start),
		})
	}
	return results
}

// typesEquivalent compares declared and live types loosely: case and
// whitespace insensitive, precision suffix on the live side tolerated.
func typesEquivalent(live, declared string) bool {
	a := strings.ToUpper(strings.ReplaceAll(live, " ", ""))
	b := strings.ToUpper(strings.ReplaceAll(declared, " ", ""))
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+"(") || strings.HasPrefix(b, a+"(")
}
