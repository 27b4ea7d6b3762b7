package sqlparser

import "strings"

// QualifyColumns attaches table qualifiers to bare column references
// wherever exactly one source in the enclosing FROM provides the column.
// Ambiguous and unknown columns are left untouched; correlated references
// into outer scopes are out of scope and stay bare.
func QualifyColumns(stmt *Statement, schema Schema) {
	qualifyStatement(stmt, schema, map[string][]string{})
}

// columnSource is one FROM entry visible to a select scope.
type columnSource struct {
	qualifier Ident
	columns   map[string]bool
}

func qualifyStatement(stmt *Statement, schema Schema, cteCols map[string][]string) {
	if stmt == nil {
		return
	}
	scope := make(map[string][]string, len(cteCols)+len(stmt.CTEs))
	for k, v := range cteCols {
		scope[k] = v
	}
	for i := range stmt.CTEs {
		cte := &stmt.CTEs[i]
		qualifyStatement(cte.Select, schema, scope)
		cols := outputColumns(cte.Select)
		if len(cte.Columns) > 0 {
			cols = make([]string, len(cte.Columns))
			for j, c := range cte.Columns {
				cols[j] = identKey(c)
			}
		}
		scope[identKey(cte.Name)] = cols
	}
	qualifySet(stmt.Body, schema, scope)
}

func qualifySet(se *SetExpr, schema Schema, cteCols map[string][]string) {
	if se == nil {
		return
	}
	if se.Select != nil {
		qualifySelect(se.Select, schema, cteCols)
	}
	if se.Sub != nil {
		qualifyStatement(se.Sub, schema, cteCols)
	}
	qualifySet(se.Left, schema, cteCols)
	qualifySet(se.Right, schema, cteCols)
}

func qualifySelect(sel *SelectStmt, schema Schema, cteCols map[string][]string) {
	sources := collectSources(sel.From, schema, cteCols)

	resolve := func(e Expr) Expr {
		col, ok := e.(*ColumnRef)
		if !ok || !col.Table.Empty() {
			return e
		}
		key := identKey(col.Column)
		var match *columnSource
		for i := range sources {
			if sources[i].columns[key] {
				if match != nil {
					return e // ambiguous
				}
				match = &sources[i]
			}
		}
		if match != nil {
			col.Table = match.qualifier
		}
		return e
	}

	apply := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return transformExpr(e, resolve)
	}

	for i := range sel.Items {
		if sel.Items[i].Expr != nil {
			sel.Items[i].Expr = apply(sel.Items[i].Expr)
		}
	}
	sel.Where = apply(sel.Where)
	for i := range sel.GroupBy {
		sel.GroupBy[i] = apply(sel.GroupBy[i])
	}
	sel.Having = apply(sel.Having)
	sel.Qualify = apply(sel.Qualify)
	qualifyJoinConds(sel.From, resolve)

	// Subqueries in FROM get their own scopes.
	var descend func(te TableExpr)
	descend = func(te TableExpr) {
		switch t := te.(type) {
		case *SubqueryRef:
			qualifyStatement(t.Select, schema, cteCols)
		case *JoinExpr:
			descend(t.Left)
			descend(t.Right)
		}
	}
	if sel.From != nil {
		descend(sel.From)
	}
}

func qualifyJoinConds(te TableExpr, resolve func(Expr) Expr) {
	join, ok := te.(*JoinExpr)
	if !ok {
		return
	}
	qualifyJoinConds(join.Left, resolve)
	qualifyJoinConds(join.Right, resolve)
	if join.On != nil {
		join.On = transformExpr(join.On, resolve)
	}
}

func collectSources(te TableExpr, schema Schema, cteCols map[string][]string) []columnSource {
	var sources []columnSource
	var walk func(te TableExpr)
	walk = func(te TableExpr) {
		switch t := te.(type) {
		case *TableRef:
			src := columnSource{qualifier: sourceQualifier(t), columns: map[string]bool{}}
			key := identKey(t.Name.Table)
			if t.Name.Schema.Empty() {
				if cols, ok := cteCols[key]; ok {
					for _, c := range cols {
						src.columns[c] = true
					}
					sources = append(sources, src)
					return
				}
			}
			if cols, ok := schema[canonicalTableKey(t.Name)]; ok {
				for _, c := range cols {
					src.columns[lowerASCII(c)] = true
				}
			}
			sources = append(sources, src)
		case *SubqueryRef:
			src := columnSource{qualifier: t.Alias, columns: map[string]bool{}}
			for _, c := range outputColumns(t.Select) {
				src.columns[c] = true
			}
			sources = append(sources, src)
		case *JoinExpr:
			walk(t.Left)
			walk(t.Right)
		}
	}
	if te != nil {
		walk(te)
	}
	return sources
}

func sourceQualifier(ref *TableRef) Ident {
	if !ref.Alias.Empty() {
		return ref.Alias
	}
	return ref.Name.Table
}

// canonicalTableKey renders a table name the way Schema keys are written:
// lowercase, dot separated.
func canonicalTableKey(tn TableName) string {
	var parts []string
	if !tn.Catalog.Empty() {
		parts = append(parts, identKey(tn.Catalog))
	}
	if !tn.Schema.Empty() {
		parts = append(parts, identKey(tn.Schema))
	}
	parts = append(parts, identKey(tn.Table))
	return strings.Join(parts, ".")
}

// outputColumns lists the statement's output column keys in order. Stars
// and unnamed expressions yield no entry; callers treat missing columns as
// unresolvable rather than guessing.
func outputColumns(stmt *Statement) []string {
	if stmt == nil || stmt.Body == nil {
		return nil
	}
	sel := firstSelect(stmt.Body)
	if sel == nil {
		return nil
	}
	var cols []string
	for _, item := range sel.Items {
		if name, ok := outputColumnName(item); ok {
			cols = append(cols, name)
		}
	}
	return cols
}

func firstSelect(se *SetExpr) *SelectStmt {
	switch {
	case se == nil:
		return nil
	case se.Select != nil:
		return se.Select
	case se.Sub != nil:
		return firstSelect(se.Sub.Body)
	case se.Left != nil:
		return firstSelect(se.Left)
	}
	return nil
}

// outputColumnName resolves the visible name of a projection: alias first,
// then the bare column name for direct references.
func outputColumnName(item SelectItem) (string, bool) {
	if item.Star {
		return "", false
	}
	if !item.Alias.Empty() {
		return identKey(item.Alias), true
	}
	if col, ok := item.Expr.(*ColumnRef); ok {
		return identKey(col.Column), true
	}
	return "", false
}
