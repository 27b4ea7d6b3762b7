package sqlparser

// ComplexityStats counts the structural features of a statement that drive
// execution cost. The advisory cost predictor consumes these as regression
// features.
type ComplexityStats struct {
	Joins       int
	CTEs        int
	Windows     int
	Subqueries  int
	Tables      int // distinct physical tables, CTEs excluded
	SelectItems int
	CaseExprs   int
	Aggregates  int
}

// Score folds the counts into one scalar feature. Joins, subqueries, and
// windows dominate because they force shuffles.
func (s ComplexityStats) Score() float64 {
	return float64(2*s.Joins+2*s.Subqueries+3*s.Windows+s.CTEs+s.CaseExprs) +
		float64(s.SelectItems)/4.0
}

// AnalyzeComplexity parses sql and counts cost-driving features.
func AnalyzeComplexity(sql string, dialect Dialect) (ComplexityStats, error) {
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return ComplexityStats{}, err
	}

	var stats ComplexityStats
	tables := map[string]bool{}
	walkTableRefs(stmt, func(ref *TableRef, ctes map[string]bool) {
		if ref.Name.Schema.Empty() && ctes[identKey(ref.Name.Table)] {
			return
		}
		tables[canonicalTableKey(ref.Name)] = true
	})
	stats.Tables = len(tables)

	countStatement(stmt, &stats)
	return stats, nil
}

func countStatement(stmt *Statement, stats *ComplexityStats) {
	if stmt == nil {
		return
	}
	stats.CTEs += len(stmt.CTEs)
	for i := range stmt.CTEs {
		countStatement(stmt.CTEs[i].Select, stats)
	}
	countSetExpr(stmt.Body, stats)
	for _, item := range stmt.OrderBy {
		countExpr(item.Expr, stats)
	}
}

func countSetExpr(se *SetExpr, stats *ComplexityStats) {
	switch {
	case se == nil:
	case se.Select != nil:
		countSelect(se.Select, stats)
	case se.Sub != nil:
		countStatement(se.Sub, stats)
	default:
		countSetExpr(se.Left, stats)
		countSetExpr(se.Right, stats)
	}
}

func countSelect(sel *SelectStmt, stats *ComplexityStats) {
	if sel == nil {
		return
	}
	stats.SelectItems += len(sel.Items)
	for _, item := range sel.Items {
		countExpr(item.Expr, stats)
	}
	countFrom(sel.From, stats)
	countExpr(sel.Where, stats)
	for _, e := range sel.GroupBy {
		countExpr(e, stats)
	}
	countExpr(sel.Having, stats)
	countExpr(sel.Qualify, stats)
}

func countFrom(te TableExpr, stats *ComplexityStats) {
	switch t := te.(type) {
	case *JoinExpr:
		stats.Joins++
		countFrom(t.Left, stats)
		countFrom(t.Right, stats)
		countExpr(t.On, stats)
	case *SubqueryRef:
		stats.Subqueries++
		countStatement(t.Select, stats)
	}
}

func countExpr(e Expr, stats *ComplexityStats) {
	switch t := e.(type) {
	case nil:
	case *FuncCall:
		if t.Over != nil {
			stats.Windows++
			for _, pe := range t.Over.PartitionBy {
				countExpr(pe, stats)
			}
			for _, oi := range t.Over.OrderBy {
				countExpr(oi.Expr, stats)
			}
		} else if aggregateFuncs[t.Name.Value] {
			stats.Aggregates++
		}
		for _, arg := range t.Args {
			countExpr(arg, stats)
		}
	case *BinaryExpr:
		countExpr(t.Left, stats)
		countExpr(t.Right, stats)
	case *UnaryExpr:
		countExpr(t.Expr, stats)
	case *ParenExpr:
		countExpr(t.Expr, stats)
	case *CaseExpr:
		stats.CaseExprs++
		countExpr(t.Operand, stats)
		for _, w := range t.Whens {
			countExpr(w.Cond, stats)
			countExpr(w.Then, stats)
		}
		countExpr(t.Else, stats)
	case *CastExpr:
		countExpr(t.Expr, stats)
	case *InExpr:
		countExpr(t.Expr, stats)
		for _, le := range t.List {
			countExpr(le, stats)
		}
		if t.Subquery != nil {
			stats.Subqueries++
			countStatement(t.Subquery, stats)
		}
	case *BetweenExpr:
		countExpr(t.Expr, stats)
		countExpr(t.Low, stats)
		countExpr(t.High, stats)
	case *LikeExpr:
		countExpr(t.Expr, stats)
		countExpr(t.Pattern, stats)
	case *IsNullExpr:
		countExpr(t.Expr, stats)
	case *ExistsExpr:
		stats.Subqueries++
		countStatement(t.Subquery, stats)
	case *SubqueryExpr:
		stats.Subqueries++
		countStatement(t.Subquery, stats)
	case *TupleExpr:
		for _, te := range t.Exprs {
			countExpr(te, stats)
		}
	}
}
