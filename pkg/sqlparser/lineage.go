package sqlparser

import (
	"sort"
)

// TransformType classifies how an output column derives from its sources.
type TransformType string

const (
	TransformDirect     TransformType = "direct"
	TransformRename     TransformType = "rename"
	TransformExpression TransformType = "expression"
	TransformAggregate  TransformType = "aggregate"
	TransformWindow     TransformType = "window"
	TransformLiteral    TransformType = "literal"
	TransformStar       TransformType = "star"
)

// LineageSource is one upstream column feeding an output column. Table is
// the canonical table name when resolvable, the raw qualifier otherwise,
// and empty when the reference could not be attributed at all.
type LineageSource struct {
	Table  string
	Column string
}

// ColumnLineage describes one output column of a statement.
type ColumnLineage struct {
	Column    string
	Transform TransformType
	Sources   []LineageSource
}

// TraceColumnLineage resolves each output column of sql to its source
// tables and columns, following CTEs and FROM subqueries. The schema is
// optional; it improves attribution of unqualified columns.
func TraceColumnLineage(sql string, dialect Dialect, schema Schema) ([]ColumnLineage, error) {
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return nil, err
	}
	QualifyColumns(stmt, schema)
	tr := &tracer{dialect: dialect, schema: schema}
	return tr.statement(stmt, map[string]map[string][]LineageSource{}), nil
}

type tracer struct {
	dialect Dialect
	schema  Schema
}

// statement computes lineage for a statement given the lineages of outer
// CTEs in scope.
func (tr *tracer) statement(stmt *Statement, outerCTEs map[string]map[string][]LineageSource) []ColumnLineage {
	ctes := make(map[string]map[string][]LineageSource, len(outerCTEs)+len(stmt.CTEs))
	for k, v := range outerCTEs {
		ctes[k] = v
	}
	for i := range stmt.CTEs {
		cte := &stmt.CTEs[i]
		inner := tr.statement(cte.Select, ctes)
		byCol := map[string][]LineageSource{}
		for j, lin := range inner {
			name := lin.Column
			if j < len(cte.Columns) && len(cte.Columns) > 0 {
				name = identKey(cte.Columns[j])
			}
			byCol[name] = lin.Sources
		}
		ctes[identKey(cte.Name)] = byCol
	}

	sel := firstSelect(stmt.Body)
	if sel == nil {
		return nil
	}
	return tr.selectLineage(sel, ctes)
}

// qualifierLineage resolves (qualifier, column) pairs for one select scope.
type qualifierLineage struct {
	// resolve maps a FROM qualifier to a column resolver.
	resolve map[string]func(col string) []LineageSource
	order   []string
}

func (tr *tracer) selectLineage(sel *SelectStmt, ctes map[string]map[string][]LineageSource) []ColumnLineage {
	scope := tr.buildScope(sel.From, ctes)

	var out []ColumnLineage
	for _, item := range sel.Items {
		if item.Star {
			out = append(out, starLineage(item, scope)...)
			continue
		}
		name, ok := outputColumnName(item)
		if !ok {
			name = RenderExpr(item.Expr, tr.dialect)
		}
		lin := ColumnLineage{
			Column:    name,
			Transform: classifyTransform(item),
			Sources:   exprSources(item.Expr, scope),
		}
		out = append(out, lin)
	}
	return out
}

func starLineage(item SelectItem, scope qualifierLineage) []ColumnLineage {
	var quals []string
	if item.StarTable != nil {
		quals = []string{identKey(item.StarTable.Table)}
	} else {
		quals = scope.order
	}
	var out []ColumnLineage
	for _, q := range quals {
		table := q
		if resolver, ok := scope.resolve[q]; ok {
			if srcs := resolver(""); len(srcs) > 0 && srcs[0].Table != "" {
				table = srcs[0].Table
			}
		}
		out = append(out, ColumnLineage{
			Column:    "*",
			Transform: TransformStar,
			Sources:   []LineageSource{{Table: table}},
		})
	}
	return out
}

func (tr *tracer) buildScope(te TableExpr, ctes map[string]map[string][]LineageSource) qualifierLineage {
	scope := qualifierLineage{resolve: map[string]func(string) []LineageSource{}}
	var walk func(te TableExpr)
	walk = func(te TableExpr) {
		switch t := te.(type) {
		case *TableRef:
			qual := identKey(sourceQualifier(t))
			if t.Name.Schema.Empty() {
				if byCol, ok := ctes[identKey(t.Name.Table)]; ok {
					scope.resolve[qual] = cteResolver(identKey(t.Name.Table), byCol)
					scope.order = append(scope.order, qual)
					return
				}
			}
			fqn := canonicalTableKey(t.Name)
			scope.resolve[qual] = func(col string) []LineageSource {
				return []LineageSource{{Table: fqn, Column: col}}
			}
			scope.order = append(scope.order, qual)
		case *SubqueryRef:
			inner := tr.statement(t.Select, ctes)
			byCol := map[string][]LineageSource{}
			for _, lin := range inner {
				byCol[lin.Column] = lin.Sources
			}
			qual := identKey(t.Alias)
			scope.resolve[qual] = cteResolver(qual, byCol)
			scope.order = append(scope.order, qual)
		case *JoinExpr:
			walk(t.Left)
			walk(t.Right)
		}
	}
	if te != nil {
		walk(te)
	}
	return scope
}

// cteResolver maps a column through a derived table's own lineage; unknown
// columns attribute to the derived table itself.
func cteResolver(name string, byCol map[string][]LineageSource) func(string) []LineageSource {
	return func(col string) []LineageSource {
		if col == "" {
			return []LineageSource{{Table: name}}
		}
		if srcs, ok := byCol[col]; ok && len(srcs) > 0 {
			return srcs
		}
		return []LineageSource{{Table: name, Column: col}}
	}
}

func exprSources(e Expr, scope qualifierLineage) []LineageSource {
	seen := map[LineageSource]bool{}
	var out []LineageSource
	add := func(src LineageSource) {
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	collectColumnRefs(e, func(ref *ColumnRef) {
		col := identKey(ref.Column)
		if !ref.Table.Empty() {
			if resolver, ok := scope.resolve[identKey(ref.Table)]; ok {
				for _, src := range resolver(col) {
					add(src)
				}
				return
			}
			add(LineageSource{Table: identKey(ref.Table), Column: col})
			return
		}
		if len(scope.order) == 1 {
			for _, src := range scope.resolve[scope.order[0]](col) {
				add(src)
			}
			return
		}
		add(LineageSource{Column: col})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// collectColumnRefs visits column references in an expression without
// crossing into subqueries; a subquery's internals belong to its own scope.
func collectColumnRefs(e Expr, visit func(*ColumnRef)) {
	if e == nil {
		return
	}
	if ref, ok := e.(*ColumnRef); ok {
		visit(ref)
		return
	}
	switch t := e.(type) {
	case *BinaryExpr:
		collectColumnRefs(t.Left, visit)
		collectColumnRefs(t.Right, visit)
	case *UnaryExpr:
		collectColumnRefs(t.Expr, visit)
	case *ParenExpr:
		collectColumnRefs(t.Expr, visit)
	case *FuncCall:
		for _, arg := range t.Args {
			collectColumnRefs(arg, visit)
		}
		if t.Over != nil {
			for _, p := range t.Over.PartitionBy {
				collectColumnRefs(p, visit)
			}
			for _, o := range t.Over.OrderBy {
				collectColumnRefs(o.Expr, visit)
			}
		}
	case *CaseExpr:
		collectColumnRefs(t.Operand, visit)
		for _, w := range t.Whens {
			collectColumnRefs(w.Cond, visit)
			collectColumnRefs(w.Then, visit)
		}
		collectColumnRefs(t.Else, visit)
	case *CastExpr:
		collectColumnRefs(t.Expr, visit)
	case *InExpr:
		collectColumnRefs(t.Expr, visit)
		for _, item := range t.List {
			collectColumnRefs(item, visit)
		}
	case *BetweenExpr:
		collectColumnRefs(t.Expr, visit)
		collectColumnRefs(t.Low, visit)
		collectColumnRefs(t.High, visit)
	case *LikeExpr:
		collectColumnRefs(t.Expr, visit)
		collectColumnRefs(t.Pattern, visit)
	case *IsNullExpr:
		collectColumnRefs(t.Expr, visit)
	case *TupleExpr:
		for _, item := range t.Exprs {
			collectColumnRefs(item, visit)
		}
	}
}

var aggregateFuncs = map[string]bool{
	"SUM": true, "COUNT": true, "AVG": true, "MIN": true, "MAX": true,
	"STDDEV": true, "STDDEV_POP": true, "STDDEV_SAMP": true,
	"VARIANCE": true, "VAR_POP": true, "VAR_SAMP": true,
	"APPROX_COUNT_DISTINCT": true, "PERCENTILE": true, "PERCENTILE_APPROX": true,
	"COLLECT_LIST": true, "COLLECT_SET": true, "ARRAY_AGG": true,
	"LISTAGG": true, "BOOL_AND": true, "BOOL_OR": true, "ANY_VALUE": true,
}

func classifyTransform(item SelectItem) TransformType {
	hasWindow := false
	hasAggregate := false
	hasFunc := false
	refCount := 0
	var only *ColumnRef

	var walk func(e Expr)
	walk = func(e Expr) {
		switch t := e.(type) {
		case *ColumnRef:
			refCount++
			only = t
		case *FuncCall:
			hasFunc = true
			if t.Over != nil {
				hasWindow = true
			}
			if aggregateFuncs[t.Name.Value] {
				hasAggregate = true
			}
		}
		if e != nil {
			walkChildren(e, walk)
		}
	}
	walk(item.Expr)

	switch {
	case hasWindow:
		return TransformWindow
	case hasAggregate:
		return TransformAggregate
	case refCount == 0:
		return TransformLiteral
	case refCount == 1 && !hasFunc && isBareRef(item.Expr):
		if !item.Alias.Empty() && identKey(item.Alias) != identKey(only.Column) {
			return TransformRename
		}
		return TransformDirect
	default:
		return TransformExpression
	}
}

func isBareRef(e Expr) bool {
	_, ok := stripParens(e).(*ColumnRef)
	return ok
}

// walkChildren calls f on every direct child expression of e.
func walkChildren(e Expr, f func(Expr)) {
	switch t := e.(type) {
	case *BinaryExpr:
		f(t.Left)
		f(t.Right)
	case *UnaryExpr:
		f(t.Expr)
	case *ParenExpr:
		f(t.Expr)
	case *FuncCall:
		for _, arg := range t.Args {
			f(arg)
		}
		if t.Over != nil {
			for _, p := range t.Over.PartitionBy {
				f(p)
			}
			for _, o := range t.Over.OrderBy {
				f(o.Expr)
			}
		}
	case *CaseExpr:
		if t.Operand != nil {
			f(t.Operand)
		}
		for _, w := range t.Whens {
			f(w.Cond)
			f(w.Then)
		}
		if t.Else != nil {
			f(t.Else)
		}
	case *CastExpr:
		f(t.Expr)
	case *InExpr:
		f(t.Expr)
		for _, item := range t.List {
			f(item)
		}
	case *BetweenExpr:
		f(t.Expr)
		f(t.Low)
		f(t.High)
	case *LikeExpr:
		f(t.Expr)
		f(t.Pattern)
	case *IsNullExpr:
		f(t.Expr)
	case *TupleExpr:
		for _, item := range t.Exprs {
			f(item)
		}
	}
}

// OutputColumns lists the statement's output column names in SELECT order.
// Star items appear as "*" or "qualifier.*"; expressions without an alias or
// bare column name appear as their canonical text.
func OutputColumns(sql string, dialect Dialect) ([]string, error) {
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return nil, err
	}
	sel := firstSelect(stmt.Body)
	if sel == nil {
		return nil, nil
	}
	out := make([]string, 0, len(sel.Items))
	for _, item := range sel.Items {
		switch {
		case item.Star && item.StarTable != nil:
			r := &renderer{dialect: dialect}
			r.tableName(*item.StarTable)
			out = append(out, r.sb.String()+".*")
		case item.Star:
			out = append(out, "*")
		default:
			if name, ok := outputColumnName(item); ok {
				out = append(out, name)
			} else {
				out = append(out, RenderExpr(item.Expr, dialect))
			}
		}
	}
	return out, nil
}

// ReferencedTables lists the canonical names of real tables the statement
// reads, excluding CTE references, sorted and deduplicated. The loader uses
// this to derive model dependencies.
func ReferencedTables(sql string, dialect Dialect) ([]string, error) {
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	walkTableRefs(stmt, func(ref *TableRef, ctes map[string]bool) {
		if ref.Name.Schema.Empty() && ctes[identKey(ref.Name.Table)] {
			return
		}
		seen[canonicalTableKey(ref.Name)] = true
	})
	out := make([]string, 0, len(seen))
	for fqn := range seen {
		out = append(out, fqn)
	}
	sort.Strings(out)
	return out, nil
}
