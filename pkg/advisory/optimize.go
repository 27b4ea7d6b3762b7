package advisory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/sqlparser"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Suggestion is one optimisation hint. Rule is a stable machine name;
// Message is for humans.
type Suggestion struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// largeTableGB marks where an unfiltered scan stops being cheap.
const largeTableGB = 10.0

// suggestOptimizations runs the deterministic rule set over one statement.
// tableSizesGB is optional; when present it sharpens the full-scan rule.
// Unparseable SQL yields no suggestions and no error, matching the
// conservative posture of the rest of the toolkit.
func suggestOptimizations(sql string, dialect types.Dialect, tableSizesGB map[string]float64) []Suggestion {
	stmt, err := sqlparser.Parse(sql, dialect)
	if err != nil {
		return nil
	}
	tables, err := sqlparser.ReferencedTables(sql, dialect)
	if err != nil {
		tables = nil
	}

	var out []Suggestion
	insp := inspectStatement(stmt, dialect)

	if insp.hasStar {
		out = append(out, Suggestion{
			Rule:    "select_star",
			Message: "replace SELECT * with an explicit column list so downstream contracts stay checkable",
		})
	}
	if insp.hasCrossJoin {
		out = append(out, Suggestion{
			Rule:    "cross_join",
			Message: "a cross join multiplies row counts; add a join condition or pre-aggregate one side",
		})
	}
	if insp.unfiltered && len(tables) > 0 {
		msg := fmt.Sprintf("unfiltered scan of %s; add a WHERE clause, ideally on a partition column", strings.Join(tables, ", "))
		if name, size, ok := largestTable(tables, tableSizesGB); ok && size >= largeTableGB {
			msg = fmt.Sprintf("unfiltered scan of %s (%.0f GB); add a partition filter", name, size)
		}
		out = append(out, Suggestion{Rule: "missing_filter", Message: msg})
	}
	if len(stmt.OrderBy) > 0 && stmt.Limit == nil {
		out = append(out, Suggestion{
			Rule:    "global_sort",
			Message: "ORDER BY without LIMIT forces a global sort; drop the ordering or bound it",
		})
	}
	if insp.hasExactDistinct && dialect == types.DialectDatabricks {
		out = append(out, Suggestion{
			Rule:    "exact_distinct",
			Message: "COUNT(DISTINCT ...) shuffles every value; APPROX_COUNT_DISTINCT is cheaper when exact counts are not required",
		})
	}
	return out
}

type inspection struct {
	hasStar          bool
	hasCrossJoin     bool
	hasExactDistinct bool
	unfiltered       bool
}

func inspectStatement(stmt *sqlparser.Statement, dialect types.Dialect) inspection {
	var insp inspection
	sel := topSelect(stmt)
	if sel == nil {
		return insp
	}
	for _, item := range sel.Items {
		if item.Star {
			insp.hasStar = true
			continue
		}
		// Rendering is canonical, so COUNT(DISTINCT ...) is a plain
		// prefix once the item is rendered.
		if strings.HasPrefix(sqlparser.RenderExpr(item.Expr, dialect), "COUNT(DISTINCT ") {
			insp.hasExactDistinct = true
		}
	}
	insp.unfiltered = sel.Where == nil && sel.From != nil && len(sel.GroupBy) == 0
	walkJoins(sel.From, &insp)
	return insp
}

func topSelect(stmt *sqlparser.Statement) *sqlparser.SelectStmt {
	se := stmt.Body
	for se != nil {
		switch {
		case se.Select != nil:
			return se.Select
		case se.Sub != nil:
			se = se.Sub.Body
		default:
			se = se.Left
		}
	}
	return nil
}

func walkJoins(te sqlparser.TableExpr, insp *inspection) {
	j, ok := te.(*sqlparser.JoinExpr)
	if !ok {
		return
	}
	if j.Type == "CROSS" || (j.On == nil && len(j.Using) == 0) {
		insp.hasCrossJoin = true
	}
	walkJoins(j.Left, insp)
	walkJoins(j.Right, insp)
}

func largestTable(tables []string, sizes map[string]float64) (string, float64, bool) {
	if len(sizes) == 0 {
		return "", 0, false
	}
	best := ""
	bestSize := -1.0
	names := append([]string(nil), tables...)
	sort.Strings(names)
	for _, t := range names {
		if s, ok := sizes[t]; ok && s > bestSize {
			best, bestSize = t, s
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestSize, true
}
