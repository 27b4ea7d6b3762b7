package advisory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/sqlparser"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Classification is the deterministic verdict on a model change.
type Classification struct {
	Category   types.ChangeCategory `json:"category"`
	Confidence float64              `json:"confidence"`
	Reasons    []string             `json:"reasons,omitempty"`
}

// Rule confidences. Anything below the engine's confidence floor is a
// candidate for LLM enrichment.
const (
	confCosmetic    = 1.0
	confRename      = 0.95
	confShape       = 0.9
	confAdditive    = 0.9
	confPartition   = 0.85
	confAggregation = 0.8
	confRowFilter   = 0.7
	confModified    = 0.6
	confParseFail   = 0.2
)

// Edit kinds that change the result shape a consumer selects from.
var shapeEdits = map[string]bool{
	"select_item_removed":  true,
	"star_changed":         true,
	"unnamed_item_changed": true,
	"set_shape_changed":    true,
	"set_operand_changed":  true,
	"cte_removed":          true,
	"from_changed":         true,
	"statement_changed":    true,
}

// Edit kinds that keep the shape but change aggregated values.
var aggregationEdits = map[string]bool{
	"group_by_changed": true,
	"having_changed":   true,
	"distinct_changed": true,
}

// ClassifyChange buckets the difference between two model revisions.
// timeColumn, when set, is the model's incremental time column and enables
// partition-shift detection. Pure apart from parsing.
func ClassifyChange(oldSQL, newSQL string, dialect types.Dialect, timeColumn string) Classification {
	d := sqlparser.Diff(oldSQL, newSQL, dialect)

	if d.IsIdentical || d.IsCosmeticOnly {
		return Classification{Category: types.ChangeCosmetic, Confidence: confCosmetic}
	}

	kinds := map[string]bool{}
	for _, e := range d.Edits {
		kinds[e.Kind] = true
	}
	if kinds["parse_failure"] {
		return Classification{
			Category:   types.ChangeBreaking,
			Confidence: confParseFail,
			Reasons:    []string{"statement could not be parsed; treating as breaking"},
		}
	}

	if c, ok := classifyRename(d, oldSQL, newSQL, dialect, kinds); ok {
		return c
	}
	if c, ok := classifyPartitionShift(oldSQL, newSQL, dialect, timeColumn, kinds); ok {
		return c
	}

	removed, modified := columnChangeCounts(d)
	if hasAny(kinds, shapeEdits) || removed > 0 {
		return Classification{
			Category:   types.ChangeBreaking,
			Confidence: confShape,
			Reasons:    editReasons(d, shapeEdits, sqlparser.ColumnRemoved),
		}
	}
	if hasAny(kinds, aggregationEdits) {
		return Classification{
			Category:   types.ChangeMetricSemantic,
			Confidence: confAggregation,
			Reasons:    editReasons(d, aggregationEdits, ""),
		}
	}
	if modified > 0 {
		if metricColumnModified(d, newSQL, dialect) {
			return Classification{
				Category:   types.ChangeMetricSemantic,
				Confidence: confAggregation,
				Reasons:    editReasons(d, nil, sqlparser.ColumnModified),
			}
		}
		// A rewritten plain expression may change values or types; low
		// confidence so enrichment can refine it.
		return Classification{
			Category:   types.ChangeBreaking,
			Confidence: confModified,
			Reasons:    editReasons(d, nil, sqlparser.ColumnModified),
		}
	}
	if kinds["where_changed"] || kinds["qualify_changed"] || kinds["cte_modified"] {
		return Classification{
			Category:   types.ChangeMetricSemantic,
			Confidence: confRowFilter,
			Reasons:    []string{"row filtering changed"},
		}
	}

	// Left: pure additions, ordering, limits, new CTEs.
	return Classification{Category: types.ChangeNonBreaking, Confidence: confAdditive}
}

// classifyRename fires when the edit set is exactly removals plus
// additions whose expressions pair up, i.e. columns kept their
// definitions and changed only their names.
func classifyRename(d sqlparser.DiffResult, oldSQL, newSQL string, dialect types.Dialect, kinds map[string]bool) (Classification, bool) {
	allowed := map[string]bool{
		"select_item_added":    true,
		"select_item_removed":  true,
		"select_order_changed": true,
	}
	for k := range kinds {
		if !allowed[k] {
			return Classification{}, false
		}
	}

	var removedNames, addedNames []string
	for name, kind := range d.ColumnChanges {
		switch kind {
		case sqlparser.ColumnRemoved:
			removedNames = append(removedNames, name)
		case sqlparser.ColumnAdded:
			addedNames = append(addedNames, name)
		default:
			return Classification{}, false
		}
	}
	if len(removedNames) == 0 || len(removedNames) != len(addedNames) {
		return Classification{}, false
	}

	oldExprs, errOld := sqlparser.SelectExprsByName(oldSQL, dialect)
	newExprs, errNew := sqlparser.SelectExprsByName(newSQL, dialect)
	if errOld != nil || errNew != nil {
		return Classification{}, false
	}
	var removedDefs, addedDefs []string
	for _, name := range removedNames {
		removedDefs = append(removedDefs, oldExprs[name])
	}
	for _, name := range addedNames {
		addedDefs = append(addedDefs, newExprs[name])
	}
	sort.Strings(removedDefs)
	sort.Strings(addedDefs)
	for i := range removedDefs {
		if removedDefs[i] == "" || removedDefs[i] != addedDefs[i] {
			return Classification{}, false
		}
	}

	sort.Strings(removedNames)
	sort.Strings(addedNames)
	return Classification{
		Category:   types.ChangeRenameOnly,
		Confidence: confRename,
		Reasons: []string{fmt.Sprintf("columns renamed: %s -> %s",
			strings.Join(removedNames, ", "), strings.Join(addedNames, ", "))},
	}, true
}

// classifyPartitionShift fires when the only edit is a WHERE change and
// both versions filter on the model's time column.
func classifyPartitionShift(oldSQL, newSQL string, dialect types.Dialect, timeColumn string, kinds map[string]bool) (Classification, bool) {
	if timeColumn == "" || len(kinds) != 1 || !kinds["where_changed"] {
		return Classification{}, false
	}
	folded := strings.ToLower(timeColumn)
	oldCols, errOld := sqlparser.WhereColumns(oldSQL, dialect)
	newCols, errNew := sqlparser.WhereColumns(newSQL, dialect)
	if errOld != nil || errNew != nil {
		return Classification{}, false
	}
	if !containsString(oldCols, folded) || !containsString(newCols, folded) {
		return Classification{}, false
	}
	return Classification{
		Category:   types.ChangePartitionShift,
		Confidence: confPartition,
		Reasons:    []string{fmt.Sprintf("time filter on %s moved", timeColumn)},
	}, true
}

// metricColumnModified reports whether any modified column derives from an
// aggregate or window function in the new revision.
func metricColumnModified(d sqlparser.DiffResult, newSQL string, dialect types.Dialect) bool {
	lineage, err := sqlparser.TraceColumnLineage(newSQL, dialect, nil)
	if err != nil {
		return false
	}
	byColumn := map[string]sqlparser.TransformType{}
	for _, l := range lineage {
		byColumn[l.Column] = l.Transform
	}
	for name, kind := range d.ColumnChanges {
		if kind != sqlparser.ColumnModified {
			continue
		}
		switch byColumn[name] {
		case sqlparser.TransformAggregate, sqlparser.TransformWindow:
			return true
		}
	}
	return false
}

func columnChangeCounts(d sqlparser.DiffResult) (removed, modified int) {
	for _, kind := range d.ColumnChanges {
		switch kind {
		case sqlparser.ColumnRemoved:
			removed++
		case sqlparser.ColumnModified:
			modified++
		}
	}
	return removed, modified
}

func hasAny(kinds map[string]bool, set map[string]bool) bool {
	for k := range set {
		if kinds[k] {
			return true
		}
	}
	return false
}

// editReasons renders matching edits, sorted, for the response. kindSet
// selects edits by kind; colKind additionally selects column changes.
func editReasons(d sqlparser.DiffResult, kindSet map[string]bool, colKind sqlparser.ColumnChangeKind) []string {
	var reasons []string
	for _, e := range d.Edits {
		if kindSet != nil && kindSet[e.Kind] {
			if e.Detail != "" {
				reasons = append(reasons, e.Kind+": "+e.Detail)
			} else {
				reasons = append(reasons, e.Kind)
			}
		}
	}
	if colKind != "" {
		for name, kind := range d.ColumnChanges {
			if kind == colKind {
				reasons = append(reasons, fmt.Sprintf("column %s %s", name, kind))
			}
		}
	}
	sort.Strings(reasons)
	return reasons
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
