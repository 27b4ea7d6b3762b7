package sqlparser

// transformExprs rewrites every expression site in the statement bottom-up,
// descending into CTEs, set operands and subqueries.
func transformExprs(stmt *Statement, f func(Expr) Expr) {
	if stmt == nil {
		return
	}
	for i := range stmt.CTEs {
		transformExprs(stmt.CTEs[i].Select, f)
	}
	transformSetExprs(stmt.Body, f)
	for i := range stmt.OrderBy {
		stmt.OrderBy[i].Expr = transformExpr(stmt.OrderBy[i].Expr, f)
	}
	if stmt.Limit != nil {
		stmt.Limit = transformExpr(stmt.Limit, f)
	}
	if stmt.Offset != nil {
		stmt.Offset = transformExpr(stmt.Offset, f)
	}
}

func transformSetExprs(se *SetExpr, f func(Expr) Expr) {
	if se == nil {
		return
	}
	if se.Select != nil {
		transformSelectExprs(se.Select, f)
	}
	if se.Sub != nil {
		transformExprs(se.Sub, f)
	}
	transformSetExprs(se.Left, f)
	transformSetExprs(se.Right, f)
}

func transformSelectExprs(sel *SelectStmt, f func(Expr) Expr) {
	for i := range sel.Items {
		if sel.Items[i].Expr != nil {
			sel.Items[i].Expr = transformExpr(sel.Items[i].Expr, f)
		}
	}
	transformTableExprs(sel.From, f)
	if sel.Where != nil {
		sel.Where = transformExpr(sel.Where, f)
	}
	for i := range sel.GroupBy {
		sel.GroupBy[i] = transformExpr(sel.GroupBy[i], f)
	}
	if sel.Having != nil {
		sel.Having = transformExpr(sel.Having, f)
	}
	if sel.Qualify != nil {
		sel.Qualify = transformExpr(sel.Qualify, f)
	}
}

func transformTableExprs(te TableExpr, f func(Expr) Expr) {
	switch t := te.(type) {
	case *SubqueryRef:
		transformExprs(t.Select, f)
	case *JoinExpr:
		transformTableExprs(t.Left, f)
		transformTableExprs(t.Right, f)
		if t.On != nil {
			t.On = transformExpr(t.On, f)
		}
	}
}

// transformExpr applies f to every node in the expression tree, children
// first, then the node itself.
func transformExpr(e Expr, f func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch t := e.(type) {
	case *BinaryExpr:
		t.Left = transformExpr(t.Left, f)
		t.Right = transformExpr(t.Right, f)
	case *UnaryExpr:
		t.Expr = transformExpr(t.Expr, f)
	case *ParenExpr:
		t.Expr = transformExpr(t.Expr, f)
	case *FuncCall:
		for i := range t.Args {
			t.Args[i] = transformExpr(t.Args[i], f)
		}
		if t.Over != nil {
			for i := range t.Over.PartitionBy {
				t.Over.PartitionBy[i] = transformExpr(t.Over.PartitionBy[i], f)
			}
			for i := range t.Over.OrderBy {
				t.Over.OrderBy[i].Expr = transformExpr(t.Over.OrderBy[i].Expr, f)
			}
		}
	case *CaseExpr:
		if t.Operand != nil {
			t.Operand = transformExpr(t.Operand, f)
		}
		for i := range t.Whens {
			t.Whens[i].Cond = transformExpr(t.Whens[i].Cond, f)
			t.Whens[i].Then = transformExpr(t.Whens[i].Then, f)
		}
		if t.Else != nil {
			t.Else = transformExpr(t.Else, f)
		}
	case *CastExpr:
		t.Expr = transformExpr(t.Expr, f)
	case *InExpr:
		t.Expr = transformExpr(t.Expr, f)
		for i := range t.List {
			t.List[i] = transformExpr(t.List[i], f)
		}
		transformExprs(t.Subquery, f)
	case *BetweenExpr:
		t.Expr = transformExpr(t.Expr, f)
		t.Low = transformExpr(t.Low, f)
		t.High = transformExpr(t.High, f)
	case *LikeExpr:
		t.Expr = transformExpr(t.Expr, f)
		t.Pattern = transformExpr(t.Pattern, f)
	case *IsNullExpr:
		t.Expr = transformExpr(t.Expr, f)
	case *ExistsExpr:
		transformExprs(t.Subquery, f)
	case *SubqueryExpr:
		transformExprs(t.Subquery, f)
	case *TupleExpr:
		for i := range t.Exprs {
			t.Exprs[i] = transformExpr(t.Exprs[i], f)
		}
	}
	return f(e)
}

// walkTableRefs visits every named table reference in the statement,
// including those inside CTEs and subqueries. The visitor receives the
// names of CTEs in scope so it can tell real tables from CTE references.
func walkTableRefs(stmt *Statement, visit func(ref *TableRef, ctesInScope map[string]bool)) {
	walkTableRefsScoped(stmt, map[string]bool{}, visit)
}

func walkTableRefsScoped(stmt *Statement, outer map[string]bool, visit func(*TableRef, map[string]bool)) {
	if stmt == nil {
		return
	}
	scope := make(map[string]bool, len(outer)+len(stmt.CTEs))
	for name := range outer {
		scope[name] = true
	}
	for i := range stmt.CTEs {
		// A CTE body sees the CTEs defined before it.
		walkTableRefsScoped(stmt.CTEs[i].Select, scope, visit)
		scope[identKey(stmt.CTEs[i].Name)] = true
	}
	walkSetTableRefs(stmt.Body, scope, visit)
	walkExprListTables(stmtTailExprs(stmt), scope, visit)
}

func stmtTailExprs(stmt *Statement) []Expr {
	var out []Expr
	for _, item := range stmt.OrderBy {
		out = append(out, item.Expr)
	}
	if stmt.Limit != nil {
		out = append(out, stmt.Limit)
	}
	if stmt.Offset != nil {
		out = append(out, stmt.Offset)
	}
	return out
}

func walkSetTableRefs(se *SetExpr, scope map[string]bool, visit func(*TableRef, map[string]bool)) {
	if se == nil {
		return
	}
	if se.Select != nil {
		walkSelectTableRefs(se.Select, scope, visit)
	}
	if se.Sub != nil {
		walkTableRefsScoped(se.Sub, scope, visit)
	}
	walkSetTableRefs(se.Left, scope, visit)
	walkSetTableRefs(se.Right, scope, visit)
}

func walkSelectTableRefs(sel *SelectStmt, scope map[string]bool, visit func(*TableRef, map[string]bool)) {
	walkFromTableRefs(sel.From, scope, visit)
	var exprs []Expr
	for _, item := range sel.Items {
		if item.Expr != nil {
			exprs = append(exprs, item.Expr)
		}
	}
	if sel.Where != nil {
		exprs = append(exprs, sel.Where)
	}
	exprs = append(exprs, sel.GroupBy...)
	if sel.Having != nil {
		exprs = append(exprs, sel.Having)
	}
	if sel.Qualify != nil {
		exprs = append(exprs, sel.Qualify)
	}
	walkExprListTables(exprs, scope, visit)
}

func walkFromTableRefs(te TableExpr, scope map[string]bool, visit func(*TableRef, map[string]bool)) {
	switch t := te.(type) {
	case *TableRef:
		visit(t, scope)
	case *SubqueryRef:
		walkTableRefsScoped(t.Select, scope, visit)
	case *JoinExpr:
		walkFromTableRefs(t.Left, scope, visit)
		walkFromTableRefs(t.Right, scope, visit)
		if t.On != nil {
			walkExprListTables([]Expr{t.On}, scope, visit)
		}
	}
}

// walkExprListTables descends into subqueries hiding inside expressions.
// Expression nodes themselves carry no table references; only embedded
// statements do, and each is visited exactly once.
func walkExprListTables(exprs []Expr, scope map[string]bool, visit func(*TableRef, map[string]bool)) {
	for _, e := range exprs {
		walkExprSubqueries(e, func(sub *Statement) {
			walkTableRefsScoped(sub, scope, visit)
		})
	}
}

// walkExprSubqueries finds statements embedded in an expression without
// descending into them.
func walkExprSubqueries(e Expr, onSub func(*Statement)) {
	if e == nil {
		return
	}
	switch t := e.(type) {
	case *BinaryExpr:
		walkExprSubqueries(t.Left, onSub)
		walkExprSubqueries(t.Right, onSub)
	case *UnaryExpr:
		walkExprSubqueries(t.Expr, onSub)
	case *ParenExpr:
		walkExprSubqueries(t.Expr, onSub)
	case *FuncCall:
		for _, arg := range t.Args {
			walkExprSubqueries(arg, onSub)
		}
		if t.Over != nil {
			for _, p := range t.Over.PartitionBy {
				walkExprSubqueries(p, onSub)
			}
			for _, o := range t.Over.OrderBy {
				walkExprSubqueries(o.Expr, onSub)
			}
		}
	case *CaseExpr:
		walkExprSubqueries(t.Operand, onSub)
		for _, w := range t.Whens {
			walkExprSubqueries(w.Cond, onSub)
			walkExprSubqueries(w.Then, onSub)
		}
		walkExprSubqueries(t.Else, onSub)
	case *CastExpr:
		walkExprSubqueries(t.Expr, onSub)
	case *InExpr:
		walkExprSubqueries(t.Expr, onSub)
		for _, item := range t.List {
			walkExprSubqueries(item, onSub)
		}
		if t.Subquery != nil {
			onSub(t.Subquery)
		}
	case *BetweenExpr:
		walkExprSubqueries(t.Expr, onSub)
		walkExprSubqueries(t.Low, onSub)
		walkExprSubqueries(t.High, onSub)
	case *LikeExpr:
		walkExprSubqueries(t.Expr, onSub)
		walkExprSubqueries(t.Pattern, onSub)
	case *IsNullExpr:
		walkExprSubqueries(t.Expr, onSub)
	case *ExistsExpr:
		onSub(t.Subquery)
	case *SubqueryExpr:
		onSub(t.Subquery)
	case *TupleExpr:
		for _, item := range t.Exprs {
			walkExprSubqueries(item, onSub)
		}
	}
}

// identKey is the comparison key for an identifier: unquoted identifiers
// fold case, quoted ones are exact.
func identKey(id Ident) string {
	if id.Quoted {
		return id.Value
	}
	return lowerASCII(id.Value)
}

func lowerASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
