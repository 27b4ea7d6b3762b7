package sqlparser

import (
	"strings"
)

// Render regenerates canonical SQL text from an AST: uppercase keywords,
// lowercase unquoted identifiers, single spacing, CAST() for both cast
// forms, and minimal parentheses reconstructed from tree shape.
func Render(stmt *Statement, dialect Dialect) string {
	r := &renderer{dialect: dialect}
	r.statement(stmt)
	return r.sb.String()
}

// RenderExpr regenerates one expression; used by lineage and diff output.
func RenderExpr(expr Expr, dialect Dialect) string {
	r := &renderer{dialect: dialect}
	r.expr(expr, 0)
	return r.sb.String()
}

type renderer struct {
	sb      strings.Builder
	dialect Dialect
}

func (r *renderer) ws(s string)  { r.sb.WriteString(s) }
func (r *renderer) space()       { r.sb.WriteByte(' ') }
func (r *renderer) kw(kw string) { r.sb.WriteString(kw) }

func (r *renderer) ident(id Ident) {
	if id.Quoted {
		quote := byte('"')
		if r.dialect == DialectDatabricks {
			quote = '`'
		}
		r.sb.WriteByte(quote)
		for i := 0; i < len(id.Value); i++ {
			if id.Value[i] == quote {
				r.sb.WriteByte(quote)
			}
			r.sb.WriteByte(id.Value[i])
		}
		r.sb.WriteByte(quote)
		return
	}
	r.ws(strings.ToLower(id.Value))
}

func (r *renderer) tableName(tn TableName) {
	if !tn.Catalog.Empty() {
		r.ident(tn.Catalog)
		r.sb.WriteByte('.')
	}
	if !tn.Schema.Empty() {
		r.ident(tn.Schema)
		r.sb.WriteByte('.')
	}
	r.ident(tn.Table)
}

func (r *renderer) statement(stmt *Statement) {
	if len(stmt.CTEs) > 0 {
		r.kw("WITH ")
		for i, cte := range stmt.CTEs {
			if i > 0 {
				r.ws(", ")
			}
			r.ident(cte.Name)
			if len(cte.Columns) > 0 {
				r.ws(" (")
				for j, col := range cte.Columns {
					if j > 0 {
						r.ws(", ")
					}
					r.ident(col)
				}
				r.sb.WriteByte(')')
			}
			r.kw(" AS (")
			r.statement(cte.Select)
			r.sb.WriteByte(')')
		}
		r.space()
	}
	r.setExpr(stmt.Body, false)
	if len(stmt.OrderBy) > 0 {
		r.kw(" ORDER BY ")
		r.orderItems(stmt.OrderBy)
	}
	if stmt.Limit != nil {
		r.kw(" LIMIT ")
		r.expr(stmt.Limit, 0)
	}
	if stmt.Offset != nil {
		r.kw(" OFFSET ")
		r.expr(stmt.Offset, 0)
	}
}

func (r *renderer) setExpr(se *SetExpr, parenNested bool) {
	switch {
	case se.Select != nil:
		r.selectStmt(se.Select)
	case se.Sub != nil:
		r.sb.WriteByte('(')
		r.statement(se.Sub)
		r.sb.WriteByte(')')
	default:
		if parenNested {
			r.sb.WriteByte('(')
		}
		r.setExpr(se.Left, false)
		r.space()
		r.kw(se.Op)
		r.space()
		// Right-nested set operations keep their grouping.
		r.setExpr(se.Right, se.Right.Op != "")
		if parenNested {
			r.sb.WriteByte(')')
		}
	}
}

func (r *renderer) selectStmt(sel *SelectStmt) {
	r.kw("SELECT ")
	if sel.Distinct {
		r.kw("DISTINCT ")
	}
	for i, item := range sel.Items {
		if i > 0 {
			r.ws(", ")
		}
		r.selectItem(item)
	}
	if sel.From != nil {
		r.kw(" FROM ")
		r.tableExpr(sel.From)
	}
	if sel.Where != nil {
		r.kw(" WHERE ")
		r.expr(sel.Where, 0)
	}
	if len(sel.GroupBy) > 0 {
		r.kw(" GROUP BY ")
		for i, e := range sel.GroupBy {
			if i > 0 {
				r.ws(", ")
			}
			r.expr(e, 0)
		}
	}
	if sel.Having != nil {
		r.kw(" HAVING ")
		r.expr(sel.Having, 0)
	}
	if sel.Qualify != nil {
		r.kw(" QUALIFY ")
		r.expr(sel.Qualify, 0)
	}
}

func (r *renderer) selectItem(item SelectItem) {
	if item.Star {
		if item.StarTable != nil {
			r.tableName(*item.StarTable)
			r.ws(".*")
			return
		}
		r.sb.WriteByte('*')
		return
	}
	r.expr(item.Expr, 0)
	if !item.Alias.Empty() {
		r.kw(" AS ")
		r.ident(item.Alias)
	}
}

func (r *renderer) tableExpr(te TableExpr) {
	switch t := te.(type) {
	case *TableRef:
		r.tableName(t.Name)
		if !t.Alias.Empty() {
			r.kw(" AS ")
			r.ident(t.Alias)
		}
	case *SubqueryRef:
		r.sb.WriteByte('(')
		r.statement(t.Select)
		r.sb.WriteByte(')')
		if !t.Alias.Empty() {
			r.kw(" AS ")
			r.ident(t.Alias)
		}
	case *JoinExpr:
		r.tableExpr(t.Left)
		r.space()
		r.kw(t.Type)
		r.kw(" JOIN ")
		r.tableExpr(t.Right)
		if t.On != nil {
			r.kw(" ON ")
			r.expr(t.On, 0)
		} else if len(t.Using) > 0 {
			r.kw(" USING (")
			for i, col := range t.Using {
				if i > 0 {
					r.ws(", ")
				}
				r.ident(col)
			}
			r.sb.WriteByte(')')
		}
	}
}

func (r *renderer) orderItems(items []OrderItem) {
	for i, item := range items {
		if i > 0 {
			r.ws(", ")
		}
		r.expr(item.Expr, 0)
		if item.Desc {
			r.kw(" DESC")
		}
		if item.NullsFirst != nil {
			if *item.NullsFirst {
				r.kw(" NULLS FIRST")
			} else {
				r.kw(" NULLS LAST")
			}
		}
	}
}

// Operator precedence, higher binds tighter. Parentheses are emitted when a
// child binds looser than its parent, and on the right side of equal
// precedence to preserve grouping of non-associative operators.
const (
	precOr = iota + 1
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precUnary
	precPrimary
)

func exprPrec(e Expr) int {
	switch t := e.(type) {
	case *BinaryExpr:
		switch t.Op {
		case "OR":
			return precOr
		case "AND":
			return precAnd
		case "=", "<", ">", "<=", ">=", "<>", "IS":
			return precCompare
		case "+", "-", "||":
			return precAdd
		case "*", "/", "%":
			return precMul
		}
		return precCompare
	case *UnaryExpr:
		if t.Op == "NOT" {
			return precNot
		}
		return precUnary
	case *InExpr, *BetweenExpr, *LikeExpr, *IsNullExpr:
		return precCompare
	case *ParenExpr:
		return exprPrec(t.Expr)
	}
	return precPrimary
}

func (r *renderer) expr(e Expr, parentPrec int) {
	prec := exprPrec(e)
	needParen := prec < parentPrec
	if needParen {
		r.sb.WriteByte('(')
	}
	r.exprBare(e, prec)
	if needParen {
		r.sb.WriteByte(')')
	}
}

func (r *renderer) exprBare(e Expr, prec int) {
	switch t := e.(type) {
	case *ColumnRef:
		if !t.Schema.Empty() {
			r.ident(t.Schema)
			r.sb.WriteByte('.')
		}
		if !t.Table.Empty() {
			r.ident(t.Table)
			r.sb.WriteByte('.')
		}
		r.ident(t.Column)

	case *Literal:
		switch t.Kind {
		case LiteralString:
			r.sb.WriteByte('\'')
			r.ws(t.Text)
			r.sb.WriteByte('\'')
		case LiteralBool, LiteralNull, LiteralKeyword:
			r.ws(strings.ToUpper(t.Text))
		default:
			r.ws(t.Text)
		}

	case *FuncCall:
		r.funcCall(t)

	case *BinaryExpr:
		r.expr(t.Left, prec)
		r.space()
		r.kw(t.Op)
		r.space()
		r.expr(t.Right, prec+1)

	case *UnaryExpr:
		if t.Op == "NOT" {
			r.kw("NOT ")
			r.expr(t.Expr, precNot)
			return
		}
		r.kw(t.Op)
		r.expr(t.Expr, precUnary)

	case *ParenExpr:
		// Redundant source parens are dropped; grouping that matters is
		// reconstructed from precedence.
		r.exprBare(t.Expr, exprPrec(t.Expr))

	case *CaseExpr:
		r.kw("CASE")
		if t.Operand != nil {
			r.space()
			r.expr(t.Operand, 0)
		}
		for _, when := range t.Whens {
			r.kw(" WHEN ")
			r.expr(when.Cond, 0)
			r.kw(" THEN ")
			r.expr(when.Then, 0)
		}
		if t.Else != nil {
			r.kw(" ELSE ")
			r.expr(t.Else, 0)
		}
		r.kw(" END")

	case *CastExpr:
		r.kw("CAST(")
		r.expr(t.Expr, 0)
		r.kw(" AS ")
		r.ws(t.Type)
		r.sb.WriteByte(')')

	case *InExpr:
		r.expr(t.Expr, precCompare+1)
		if t.Not {
			r.kw(" NOT")
		}
		r.kw(" IN (")
		if t.Subquery != nil {
			r.statement(t.Subquery)
		} else {
			for i, item := range t.List {
				if i > 0 {
					r.ws(", ")
				}
				r.expr(item, 0)
			}
		}
		r.sb.WriteByte(')')

	case *BetweenExpr:
		r.expr(t.Expr, precCompare+1)
		if t.Not {
			r.kw(" NOT")
		}
		r.kw(" BETWEEN ")
		r.expr(t.Low, precCompare+1)
		r.kw(" AND ")
		r.expr(t.High, precCompare+1)

	case *LikeExpr:
		r.expr(t.Expr, precCompare+1)
		if t.Not {
			r.kw(" NOT")
		}
		r.space()
		r.kw(t.Op)
		r.space()
		r.expr(t.Pattern, precCompare+1)

	case *IsNullExpr:
		r.expr(t.Expr, precCompare+1)
		if t.Not {
			r.kw(" IS NOT NULL")
		} else {
			r.kw(" IS NULL")
		}

	case *ExistsExpr:
		if t.Not {
			r.kw("NOT ")
		}
		r.kw("EXISTS (")
		r.statement(t.Subquery)
		r.sb.WriteByte(')')

	case *SubqueryExpr:
		r.sb.WriteByte('(')
		r.statement(t.Subquery)
		r.sb.WriteByte(')')

	case *IntervalExpr:
		r.kw("INTERVAL '")
		r.ws(t.Text)
		r.sb.WriteByte('\'')
		if t.Unit != "" {
			r.space()
			r.ws(t.Unit)
		}

	case *TupleExpr:
		r.sb.WriteByte('(')
		for i, item := range t.Exprs {
			if i > 0 {
				r.ws(", ")
			}
			r.expr(item, 0)
		}
		r.sb.WriteByte(')')
	}
}

func (r *renderer) funcCall(fn *FuncCall) {
	r.ws(fn.Name.Value)
	r.sb.WriteByte('(')
	switch {
	case fn.Star:
		r.sb.WriteByte('*')
	case fn.Name.Value == "EXTRACT" && len(fn.Args) == 2:
		r.expr(fn.Args[0], 0)
		r.kw(" FROM ")
		r.expr(fn.Args[1], 0)
	default:
		if fn.Distinct {
			r.kw("DISTINCT ")
		}
		for i, arg := range fn.Args {
			if i > 0 {
				r.ws(", ")
			}
			r.expr(arg, 0)
		}
	}
	r.sb.WriteByte(')')
	if fn.Over != nil {
		r.kw(" OVER (")
		first := true
		if len(fn.Over.PartitionBy) > 0 {
			r.kw("PARTITION BY ")
			for i, e := range fn.Over.PartitionBy {
				if i > 0 {
					r.ws(", ")
				}
				r.expr(e, 0)
			}
			first = false
		}
		if len(fn.Over.OrderBy) > 0 {
			if !first {
				r.space()
			}
			r.kw("ORDER BY ")
			r.orderItems(fn.Over.OrderBy)
			first = false
		}
		if fn.Over.Frame != "" {
			if !first {
				r.space()
			}
			r.ws(fn.Over.Frame)
		}
		r.sb.WriteByte(')')
	}
}
