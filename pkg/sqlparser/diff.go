package sqlparser

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnChangeKind classifies what happened to one output column.
type ColumnChangeKind string

const (
	ColumnAdded    ColumnChangeKind = "added"
	ColumnRemoved  ColumnChangeKind = "removed"
	ColumnModified ColumnChangeKind = "modified"
)

// Edit is one structural difference between two statements.
type Edit struct {
	Kind   string
	Detail string
}

// DiffResult reports how two SQL texts relate. Exactly one of IsIdentical
// and IsCosmeticOnly can be true; both false means real structural edits.
type DiffResult struct {
	IsIdentical    bool
	IsCosmeticOnly bool
	Edits          []Edit
	ColumnChanges  map[string]ColumnChangeKind
}

// Changed reports whether the diff carries any semantic difference.
func (d DiffResult) Changed() bool {
	return !d.IsIdentical && !d.IsCosmeticOnly
}

// Diff compares two SQL texts under V1 canonicalisation. It never returns
// an error: inputs that fail to parse yield a conservative non-cosmetic
// result carrying a parse_failure edit, so callers rebuild rather than skip.
func Diff(oldSQL, newSQL string, dialect Dialect) DiffResult {
	if strings.TrimSpace(oldSQL) == strings.TrimSpace(newSQL) {
		return DiffResult{IsIdentical: true}
	}

	oldStmt, errOld := Parse(oldSQL, dialect)
	newStmt, errNew := Parse(newSQL, dialect)
	if errOld != nil || errNew != nil {
		detail := "old"
		if errOld == nil {
			detail = "new"
		}
		return DiffResult{Edits: []Edit{{Kind: "parse_failure", Detail: detail}}}
	}

	normalizeStmt(oldStmt, NormalizeV1, nil)
	normalizeStmt(newStmt, NormalizeV1, nil)
	oldCanon := Render(oldStmt, dialect)
	newCanon := Render(newStmt, dialect)
	if oldCanon == newCanon {
		return DiffResult{IsCosmeticOnly: true}
	}

	res := DiffResult{ColumnChanges: map[string]ColumnChangeKind{}}
	diffCTEs(oldStmt, newStmt, dialect, &res)
	diffBodies(oldStmt, newStmt, dialect, &res)
	diffTail(oldStmt, newStmt, dialect, &res)
	if len(res.Edits) == 0 {
		// Canonical text differs but no clause-level bucket caught it.
		res.Edits = append(res.Edits, Edit{Kind: "statement_changed"})
	}
	return res
}

func diffCTEs(oldStmt, newStmt *Statement, dialect Dialect, res *DiffResult) {
	oldByName := map[string]string{}
	for _, cte := range oldStmt.CTEs {
		oldByName[identKey(cte.Name)] = Render(cte.Select, dialect)
	}
	newByName := map[string]string{}
	for _, cte := range newStmt.CTEs {
		newByName[identKey(cte.Name)] = Render(cte.Select, dialect)
	}
	for _, name := range sortedKeys(oldByName) {
		newBody, ok := newByName[name]
		switch {
		case !ok:
			res.Edits = append(res.Edits, Edit{Kind: "cte_removed", Detail: name})
		case newBody != oldByName[name]:
			res.Edits = append(res.Edits, Edit{Kind: "cte_modified", Detail: name})
		}
	}
	for _, name := range sortedKeys(newByName) {
		if _, ok := oldByName[name]; !ok {
			res.Edits = append(res.Edits, Edit{Kind: "cte_added", Detail: name})
		}
	}
}

func diffBodies(oldStmt, newStmt *Statement, dialect Dialect, res *DiffResult) {
	oldSel := firstSelect(oldStmt.Body)
	newSel := firstSelect(newStmt.Body)
	if oldSel == nil || newSel == nil {
		res.Edits = append(res.Edits, Edit{Kind: "set_shape_changed"})
		return
	}
	if setShape(oldStmt.Body) != setShape(newStmt.Body) {
		res.Edits = append(res.Edits, Edit{Kind: "set_shape_changed",
			Detail: fmt.Sprintf("%s -> %s", setShape(oldStmt.Body), setShape(newStmt.Body))})
	}

	diffSetLeaves(oldStmt.Body, newStmt.Body, dialect, res)

	if oldSel.Distinct != newSel.Distinct {
		res.Edits = append(res.Edits, Edit{Kind: "distinct_changed"})
	}
	diffSelectItems(oldSel, newSel, dialect, res)

	if renderFrom(oldSel, dialect) != renderFrom(newSel, dialect) {
		res.Edits = append(res.Edits, Edit{Kind: "from_changed"})
	}
	diffClause("where_changed", oldSel.Where, newSel.Where, dialect, res)
	if renderExprList(oldSel.GroupBy, dialect) != renderExprList(newSel.GroupBy, dialect) {
		res.Edits = append(res.Edits, Edit{Kind: "group_by_changed"})
	}
	diffClause("having_changed", oldSel.Having, newSel.Having, dialect, res)
	diffClause("qualify_changed", oldSel.Qualify, newSel.Qualify, dialect, res)
}

func diffTail(oldStmt, newStmt *Statement, dialect Dialect, res *DiffResult) {
	renderTail := func(stmt *Statement) string {
		var sb strings.Builder
		for _, item := range stmt.OrderBy {
			sb.WriteString(RenderExpr(item.Expr, dialect))
			if item.Desc {
				sb.WriteString(" DESC")
			}
			sb.WriteByte(';')
		}
		return sb.String()
	}
	if renderTail(oldStmt) != renderTail(newStmt) {
		res.Edits = append(res.Edits, Edit{Kind: "order_by_changed"})
	}
	oldLimit := renderOptExpr(oldStmt.Limit, dialect) + "/" + renderOptExpr(oldStmt.Offset, dialect)
	newLimit := renderOptExpr(newStmt.Limit, dialect) + "/" + renderOptExpr(newStmt.Offset, dialect)
	if oldLimit != newLimit {
		res.Edits = append(res.Edits, Edit{Kind: "limit_changed"})
	}
}

// diffSetLeaves compares the non-first selects of aligned set-operation
// trees; the first select gets the detailed clause diff.
func diffSetLeaves(oldBody, newBody *SetExpr, dialect Dialect, res *DiffResult) {
	oldLeaves := setLeaves(oldBody)
	newLeaves := setLeaves(newBody)
	if len(oldLeaves) != len(newLeaves) {
		return // setShape already reported
	}
	for i := 1; i < len(oldLeaves); i++ {
		oldText := renderSetLeaf(oldLeaves[i], dialect)
		newText := renderSetLeaf(newLeaves[i], dialect)
		if oldText != newText {
			res.Edits = append(res.Edits, Edit{Kind: "set_operand_changed", Detail: fmt.Sprintf("operand %d", i)})
		}
	}
}

func setLeaves(se *SetExpr) []*SetExpr {
	switch {
	case se == nil:
		return nil
	case se.Select != nil, se.Sub != nil:
		return []*SetExpr{se}
	default:
		return append(setLeaves(se.Left), setLeaves(se.Right)...)
	}
}

func renderSetLeaf(se *SetExpr, dialect Dialect) string {
	r := &renderer{dialect: dialect}
	r.setExpr(se, false)
	return r.sb.String()
}

func diffSelectItems(oldSel, newSel *SelectStmt, dialect Dialect, res *DiffResult) {
	oldCols, oldOrder, oldStars, oldUnnamed := namedItems(oldSel, dialect)
	newCols, newOrder, newStars, newUnnamed := namedItems(newSel, dialect)

	for _, name := range sortedKeys(oldCols) {
		newExpr, ok := newCols[name]
		switch {
		case !ok:
			res.ColumnChanges[name] = ColumnRemoved
			res.Edits = append(res.Edits, Edit{Kind: "select_item_removed", Detail: name})
		case newExpr != oldCols[name]:
			res.ColumnChanges[name] = ColumnModified
			res.Edits = append(res.Edits, Edit{Kind: "select_item_modified", Detail: name})
		}
	}
	for _, name := range sortedKeys(newCols) {
		if _, ok := oldCols[name]; !ok {
			res.ColumnChanges[name] = ColumnAdded
			res.Edits = append(res.Edits, Edit{Kind: "select_item_added", Detail: name})
		}
	}
	if oldStars != newStars {
		res.Edits = append(res.Edits, Edit{Kind: "star_changed"})
	}
	if oldUnnamed != newUnnamed {
		res.Edits = append(res.Edits, Edit{Kind: "unnamed_item_changed"})
	}
	// Report a pure reorder only when the items themselves are unchanged.
	if len(res.ColumnChanges) == 0 && oldStars == newStars && oldUnnamed == newUnnamed && oldOrder != newOrder {
		res.Edits = append(res.Edits, Edit{Kind: "select_order_changed"})
	}
}

// namedItems fingerprints a select list: named column → canonical
// expression text, the ordered name list, star items, and unnamed
// expressions. Unnamed expressions stay out of ColumnChanges because they
// have no output-column name to report.
func namedItems(sel *SelectStmt, dialect Dialect) (map[string]string, string, string, string) {
	cols := map[string]string{}
	var order, stars, unnamed []string
	for _, item := range sel.Items {
		if item.Star {
			s := "*"
			if item.StarTable != nil {
				r := &renderer{dialect: dialect}
				r.tableName(*item.StarTable)
				s = r.sb.String() + ".*"
			}
			stars = append(stars, s)
			continue
		}
		name, ok := outputColumnName(item)
		if !ok {
			text := RenderExpr(item.Expr, dialect)
			unnamed = append(unnamed, text)
			order = append(order, "expr:"+text)
			continue
		}
		cols[name] = RenderExpr(item.Expr, dialect)
		order = append(order, name)
	}
	return cols, strings.Join(order, ";"), strings.Join(stars, ";"), strings.Join(unnamed, ";")
}

func diffClause(kind string, oldExpr, newExpr Expr, dialect Dialect, res *DiffResult) {
	if renderOptExpr(oldExpr, dialect) != renderOptExpr(newExpr, dialect) {
		res.Edits = append(res.Edits, Edit{Kind: kind})
	}
}

func renderOptExpr(e Expr, dialect Dialect) string {
	if e == nil {
		return ""
	}
	return RenderExpr(e, dialect)
}

func renderExprList(exprs []Expr, dialect Dialect) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = RenderExpr(e, dialect)
	}
	return strings.Join(parts, ";")
}

func renderFrom(sel *SelectStmt, dialect Dialect) string {
	if sel.From == nil {
		return ""
	}
	r := &renderer{dialect: dialect}
	r.tableExpr(sel.From)
	return r.sb.String()
}

// setShape fingerprints the set-operation tree so UNION restructuring is
// visible even when the first select is unchanged.
func setShape(se *SetExpr) string {
	switch {
	case se == nil:
		return ""
	case se.Select != nil:
		return "S"
	case se.Sub != nil:
		return "(" + "S" + ")"
	default:
		return "(" + setShape(se.Left) + " " + se.Op + " " + setShape(se.Right) + ")"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
