package sqlparser

import "sort"

// SelectExprsByName returns the top-level select's named output columns
// mapped to their canonical expression text. Star and unnamed items are
// omitted. The map uses the same canonicalisation as Diff, so two columns
// with cosmetically different expressions compare equal.
func SelectExprsByName(sql string, dialect Dialect) (map[string]string, error) {
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return nil, err
	}
	normalizeStmt(stmt, NormalizeV1, nil)
	sel := firstSelect(stmt.Body)
	if sel == nil {
		return map[string]string{}, nil
	}
	cols, _, _, _ := namedItems(sel, dialect)
	return cols, nil
}

// WhereColumns returns the sorted, deduplicated bare column names
// referenced in the top-level select's WHERE clause.
func WhereColumns(sql string, dialect Dialect) ([]string, error) {
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return nil, err
	}
	sel := firstSelect(stmt.Body)
	if sel == nil || sel.Where == nil {
		return nil, nil
	}
	seen := map[string]bool{}
	collectColumnRefs(sel.Where, func(ref *ColumnRef) {
		seen[identKey(ref.Column)] = true
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
