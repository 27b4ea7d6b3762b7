package sqlparser

import (
	"strings"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// Parse parses one SELECT statement (optionally WITH-prefixed) in the given
// dialect. Trailing input after the statement is a parse error.
func Parse(sql string, dialect Dialect) (*Statement, error) {
	toks, err := lexAll(sql, dialect)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, dialect: dialect}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.peek().Text == ";" {
		p.advance()
	}
	if p.peek().Kind != TokenEOF {
		return nil, p.errorf("unexpected %q after end of statement", p.peek().Text)
	}
	return stmt, nil
}

type parser struct {
	toks    []Token
	pos     int
	dialect Dialect
}

func (p *parser) peek() Token    { return p.toks[p.pos] }
func (p *parser) advance() Token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) errorf(format string, args ...any) error {
	tok := p.peek()
	return errdefs.Parsef(format, args...).
		WithDetail("line", tok.Line).
		WithDetail("col", tok.Col)
}

func (p *parser) atKeyword(kw string) bool { return p.peek().IsKeyword(kw) }

func (p *parser) acceptKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf("expected %s, found %q", kw, p.peek().Text)
	}
	return nil
}

func (p *parser) acceptOp(op string) bool {
	if p.peek().Kind == TokenOp && p.peek().Text == op {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.acceptOp(op) {
		return p.errorf("expected %q, found %q", op, p.peek().Text)
	}
	return nil
}

func (p *parser) parseIdent() (Ident, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenIdent:
		if isReserved(tok) {
			return Ident{}, p.errorf("expected identifier, found reserved word %q", tok.Text)
		}
		p.advance()
		return Ident{Value: tok.Text}, nil
	case TokenQuotedIdent:
		p.advance()
		return Ident{Value: tok.Text, Quoted: true}, nil
	}
	return Ident{}, p.errorf("expected identifier, found %q", tok.Text)
}

func (p *parser) parseStatement() (*Statement, error) {
	stmt := &Statement{}
	if p.acceptKeyword("WITH") {
		for {
			cte, err := p.parseCTE()
			if err != nil {
				return nil, err
			}
			stmt.CTEs = append(stmt.CTEs, cte)
			if !p.acceptOp(",") {
				break
			}
		}
	}
	body, err := p.parseSetExpr()
	if err != nil {
		return nil, err
	}
	stmt.Body = body

	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = items
	}
	if p.acceptKeyword("LIMIT") {
		limit, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Limit = limit
	}
	if p.acceptKeyword("OFFSET") {
		off, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Offset = off
	}
	return stmt, nil
}

func (p *parser) parseCTE() (CTE, error) {
	name, err := p.parseIdent()
	if err != nil {
		return CTE{}, err
	}
	cte := CTE{Name: name}
	if p.acceptOp("(") {
		for {
			col, err := p.parseIdent()
			if err != nil {
				return CTE{}, err
			}
			cte.Columns = append(cte.Columns, col)
			if !p.acceptOp(",") {
				break
			}
		}
		if err := p.expectOp(")"); err != nil {
			return CTE{}, err
		}
	}
	if err := p.expectKeyword("AS"); err != nil {
		return CTE{}, err
	}
	if err := p.expectOp("("); err != nil {
		return CTE{}, err
	}
	sub, err := p.parseStatement()
	if err != nil {
		return CTE{}, err
	}
	if err := p.expectOp(")"); err != nil {
		return CTE{}, err
	}
	cte.Select = sub
	return cte, nil
}

func (p *parser) parseSetExpr() (*SetExpr, error) {
	left, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.atKeyword("UNION"):
			p.advance()
			op = "UNION"
			if p.acceptKeyword("ALL") {
				op = "UNION ALL"
			} else {
				p.acceptKeyword("DISTINCT")
			}
		case p.atKeyword("INTERSECT"):
			p.advance()
			op = "INTERSECT"
		case p.atKeyword("EXCEPT"):
			p.advance()
			op = "EXCEPT"
		default:
			return left, nil
		}
		right, err := p.parseSetOperand()
		if err != nil {
			return nil, err
		}
		left = &SetExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseSetOperand() (*SetExpr, error) {
	if p.peek().Kind == TokenOp && p.peek().Text == "(" {
		p.advance()
		sub, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		// A plain parenthesised SELECT folds into the set tree directly.
		if len(sub.CTEs) == 0 && len(sub.OrderBy) == 0 && sub.Limit == nil && sub.Offset == nil {
			return sub.Body, nil
		}
		return &SetExpr{Sub: sub}, nil
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	return &SetExpr{Select: sel}, nil
}

func (p *parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &SelectStmt{}
	if p.acceptKeyword("DISTINCT") {
		sel.Distinct = true
	} else {
		p.acceptKeyword("ALL")
	}

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		sel.Items = append(sel.Items, item)
		if !p.acceptOp(",") {
			break
		}
	}

	if p.acceptKeyword("FROM") {
		from, err := p.parseFrom()
		if err != nil {
			return nil, err
		}
		sel.From = from
	}
	if p.acceptKeyword("WHERE") {
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = where
	}
	if p.atKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if !p.acceptOp(",") {
				break
			}
		}
	}
	if p.acceptKeyword("HAVING") {
		having, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Having = having
	}
	if p.acceptKeyword("QUALIFY") {
		q, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Qualify = q
	}
	return sel, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	// Bare star.
	if p.peek().Kind == TokenOp && p.peek().Text == "*" {
		p.advance()
		return SelectItem{Star: true}, nil
	}
	// Qualified star: t.* or schema.t.* — probe without committing.
	if tn, ok := p.tryQualifiedStar(); ok {
		return SelectItem{Star: true, StarTable: tn}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: expr}
	if p.acceptKeyword("AS") {
		alias, err := p.parseIdent()
		if err != nil {
			return SelectItem{}, err
		}
		item.Alias = alias
	} else if p.peek().Kind == TokenIdent && !isReserved(p.peek()) {
		tok := p.advance()
		item.Alias = Ident{Value: tok.Text}
	} else if p.peek().Kind == TokenQuotedIdent {
		tok := p.advance()
		item.Alias = Ident{Value: tok.Text, Quoted: true}
	}
	return item, nil
}

// tryQualifiedStar matches ident(.ident)*.* and consumes it on success.
func (p *parser) tryQualifiedStar() (*TableName, bool) {
	start := p.pos
	var parts []Ident
	for {
		tok := p.peek()
		if tok.Kind != TokenIdent && tok.Kind != TokenQuotedIdent {
			break
		}
		if tok.Kind == TokenIdent && isReserved(tok) {
			break
		}
		p.advance()
		parts = append(parts, Ident{Value: tok.Text, Quoted: tok.Kind == TokenQuotedIdent})
		if !p.acceptOp(".") {
			break
		}
		if p.peek().Kind == TokenOp && p.peek().Text == "*" {
			p.advance()
			tn := &TableName{}
			switch len(parts) {
			case 1:
				tn.Table = parts[0]
			case 2:
				tn.Schema, tn.Table = parts[0], parts[1]
			case 3:
				tn.Catalog, tn.Schema, tn.Table = parts[0], parts[1], parts[2]
			default:
				p.pos = start
				return nil, false
			}
			return tn, true
		}
	}
	p.pos = start
	return nil, false
}

func (p *parser) parseFrom() (TableExpr, error) {
	left, err := p.parseTableAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptOp(","):
			right, err := p.parseTableAtom()
			if err != nil {
				return nil, err
			}
			left = &JoinExpr{Type: "CROSS", Left: left, Right: right}

		case p.atKeyword("JOIN") || p.atKeyword("INNER") || p.atKeyword("LEFT") ||
			p.atKeyword("RIGHT") || p.atKeyword("FULL") || p.atKeyword("CROSS"):
			join, err := p.parseJoin(left)
			if err != nil {
				return nil, err
			}
			left = join

		default:
			return left, nil
		}
	}
}

func (p *parser) parseJoin(left TableExpr) (TableExpr, error) {
	joinType := "INNER"
	switch {
	case p.acceptKeyword("INNER"):
	case p.acceptKeyword("LEFT"):
		p.acceptKeyword("OUTER")
		joinType = "LEFT OUTER"
	case p.acceptKeyword("RIGHT"):
		p.acceptKeyword("OUTER")
		joinType = "RIGHT OUTER"
	case p.acceptKeyword("FULL"):
		p.acceptKeyword("OUTER")
		joinType = "FULL OUTER"
	case p.acceptKeyword("CROSS"):
		joinType = "CROSS"
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return nil, err
	}
	right, err := p.parseTableAtom()
	if err != nil {
		return nil, err
	}
	join := &JoinExpr{Type: joinType, Left: left, Right: right}
	if p.acceptKeyword("ON") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		join.On = cond
	} else if p.acceptKeyword("USING") {
		if err := p.expectOp("("); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			join.Using = append(join.Using, col)
			if !p.acceptOp(",") {
				break
			}
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
	} else if joinType != "CROSS" {
		return nil, p.errorf("expected ON or USING after %s JOIN", joinType)
	}
	return join, nil
}

func (p *parser) parseTableAtom() (TableExpr, error) {
	if p.acceptOp("(") {
		sub, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		ref := &SubqueryRef{Select: sub}
		alias, err := p.parseOptionalAlias()
		if err != nil {
			return nil, err
		}
		ref.Alias = alias
		return ref, nil
	}

	name, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	ref := &TableRef{Name: name}
	alias, err := p.parseOptionalAlias()
	if err != nil {
		return nil, err
	}
	ref.Alias = alias
	return ref, nil
}

func (p *parser) parseOptionalAlias() (Ident, error) {
	if p.acceptKeyword("AS") {
		return p.parseIdent()
	}
	tok := p.peek()
	if tok.Kind == TokenQuotedIdent {
		p.advance()
		return Ident{Value: tok.Text, Quoted: true}, nil
	}
	if tok.Kind == TokenIdent && !isReserved(tok) {
		p.advance()
		return Ident{Value: tok.Text}, nil
	}
	return Ident{}, nil
}

func (p *parser) parseTableName() (TableName, error) {
	first, err := p.parseIdent()
	if err != nil {
		return TableName{}, err
	}
	parts := []Ident{first}
	for p.acceptOp(".") {
		next, err := p.parseIdent()
		if err != nil {
			return TableName{}, err
		}
		parts = append(parts, next)
		if len(parts) == 3 {
			break
		}
	}
	tn := TableName{}
	switch len(parts) {
	case 1:
		tn.Table = parts[0]
	case 2:
		tn.Schema, tn.Table = parts[0], parts[1]
	case 3:
		tn.Catalog, tn.Schema, tn.Table = parts[0], parts[1], parts[2]
	}
	return tn, nil
}

func (p *parser) parseOrderItems() ([]OrderItem, error) {
	var items []OrderItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: expr}
		if p.acceptKeyword("ASC") {
		} else if p.acceptKeyword("DESC") {
			item.Desc = true
		}
		if p.acceptKeyword("NULLS") {
			switch {
			case p.acceptKeyword("FIRST"):
				v := true
				item.NullsFirst = &v
			case p.acceptKeyword("LAST"):
				v := false
				item.NullsFirst = &v
			default:
				return nil, p.errorf("expected FIRST or LAST after NULLS")
			}
		}
		items = append(items, item)
		if !p.acceptOp(",") {
			return items, nil
		}
	}
}

// Expression parsing, lowest precedence first.

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.acceptKeyword("NOT") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Expr: inner}, nil
	}
	return p.parsePredicate()
}

var comparisonOps = map[string]bool{
	"=": true, "<": true, ">": true, "<=": true, ">=": true, "<>": true, "!=": true,
}

func (p *parser) parsePredicate() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		switch {
		case tok.Kind == TokenOp && comparisonOps[tok.Text]:
			p.advance()
			op := tok.Text
			if op == "!=" {
				op = "<>"
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinaryExpr{Op: op, Left: left, Right: right}

		case tok.IsKeyword("IS"):
			p.advance()
			not := p.acceptKeyword("NOT")
			switch {
			case p.acceptKeyword("NULL"):
				left = &IsNullExpr{Expr: left, Not: not}
			case p.acceptKeyword("TRUE"):
				cmp := &BinaryExpr{Op: "IS", Left: left, Right: &Literal{Kind: LiteralBool, Text: "TRUE"}}
				if not {
					left = &UnaryExpr{Op: "NOT", Expr: cmp}
				} else {
					left = cmp
				}
			case p.acceptKeyword("FALSE"):
				cmp := &BinaryExpr{Op: "IS", Left: left, Right: &Literal{Kind: LiteralBool, Text: "FALSE"}}
				if not {
					left = &UnaryExpr{Op: "NOT", Expr: cmp}
				} else {
					left = cmp
				}
			default:
				return nil, p.errorf("expected NULL, TRUE or FALSE after IS")
			}

		case tok.IsKeyword("IN"):
			p.advance()
			in, err := p.parseInTail(left, false)
			if err != nil {
				return nil, err
			}
			left = in

		case tok.IsKeyword("BETWEEN"):
			p.advance()
			bt, err := p.parseBetweenTail(left, false)
			if err != nil {
				return nil, err
			}
			left = bt

		case tok.IsKeyword("LIKE") || tok.IsKeyword("ILIKE") || tok.IsKeyword("RLIKE"):
			op := tok.Upper()
			p.advance()
			pattern, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &LikeExpr{Op: op, Expr: left, Pattern: pattern}

		case tok.IsKeyword("NOT"):
			// expr NOT IN / NOT BETWEEN / NOT LIKE
			next := p.toks[p.pos+1]
			if !(next.IsKeyword("IN") || next.IsKeyword("BETWEEN") ||
				next.IsKeyword("LIKE") || next.IsKeyword("ILIKE") || next.IsKeyword("RLIKE")) {
				return left, nil
			}
			p.advance()
			switch {
			case p.acceptKeyword("IN"):
				in, err := p.parseInTail(left, true)
				if err != nil {
					return nil, err
				}
				left = in
			case p.acceptKeyword("BETWEEN"):
				bt, err := p.parseBetweenTail(left, true)
				if err != nil {
					return nil, err
				}
				left = bt
			default:
				op := p.advance().Upper()
				pattern, err := p.parseAdditive()
				if err != nil {
					return nil, err
				}
				left = &LikeExpr{Op: op, Expr: left, Not: true, Pattern: pattern}
			}

		default:
			return left, nil
		}
	}
}

func (p *parser) parseInTail(left Expr, not bool) (Expr, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	in := &InExpr{Expr: left, Not: not}
	if p.atKeyword("SELECT") || p.atKeyword("WITH") {
		sub, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		in.Subquery = sub
	} else {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			in.List = append(in.List, e)
			if !p.acceptOp(",") {
				break
			}
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *parser) parseBetweenTail(left Expr, not bool) (Expr, error) {
	low, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AND"); err != nil {
		return nil, err
	}
	high, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &BetweenExpr{Expr: left, Not: not, Low: low, High: high}, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Kind != TokenOp || (tok.Text != "+" && tok.Text != "-" && tok.Text != "||") {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: tok.Text, Left: left, Right: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Kind != TokenOp || (tok.Text != "*" && tok.Text != "/" && tok.Text != "%") {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: tok.Text, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	tok := p.peek()
	if tok.Kind == TokenOp && (tok.Text == "-" || tok.Text == "+") {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: tok.Text, Expr: inner}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("::") {
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		expr = &CastExpr{Expr: expr, Type: typ}
	}
	return expr, nil
}

// parseTypeName consumes a type like DECIMAL(10, 2) or VARCHAR(64) and
// returns its canonical uppercase spelling.
func (p *parser) parseTypeName() (string, error) {
	tok := p.peek()
	if tok.Kind != TokenIdent {
		return "", p.errorf("expected type name, found %q", tok.Text)
	}
	p.advance()
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(tok.Text))
	// Multi-word types: DOUBLE PRECISION, CHARACTER VARYING.
	for p.peek().Kind == TokenIdent && !isReserved(p.peek()) && p.peekTypeWord() {
		sb.WriteByte(' ')
		sb.WriteString(strings.ToUpper(p.advance().Text))
	}
	if p.acceptOp("(") {
		sb.WriteByte('(')
		first := true
		for {
			if p.peek().Kind != TokenNumber {
				return "", p.errorf("expected number in type arguments, found %q", p.peek().Text)
			}
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(p.advance().Text)
			first = false
			if !p.acceptOp(",") {
				break
			}
		}
		if err := p.expectOp(")"); err != nil {
			return "", err
		}
		sb.WriteByte(')')
	}
	return sb.String(), nil
}

var typeWords = map[string]bool{"PRECISION": true, "VARYING": true, "ZONE": true, "TIME": true, "WITHOUT": true}

func (p *parser) peekTypeWord() bool {
	return typeWords[p.peek().Upper()]
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch {
	case tok.Kind == TokenNumber:
		p.advance()
		return &Literal{Kind: LiteralNumber, Text: tok.Text}, nil

	case tok.Kind == TokenString:
		p.advance()
		return &Literal{Kind: LiteralString, Text: tok.Text}, nil

	case tok.IsKeyword("TRUE"), tok.IsKeyword("FALSE"):
		p.advance()
		return &Literal{Kind: LiteralBool, Text: tok.Upper()}, nil

	case tok.IsKeyword("NULL"):
		p.advance()
		return &Literal{Kind: LiteralNull, Text: "NULL"}, nil

	case tok.IsKeyword("CASE"):
		return p.parseCase()

	case tok.IsKeyword("CAST"):
		return p.parseCast()

	case tok.IsKeyword("EXISTS"):
		p.advance()
		if err := p.expectOp("("); err != nil {
			return nil, err
		}
		sub, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return &ExistsExpr{Subquery: sub}, nil

	case tok.IsKeyword("INTERVAL"):
		return p.parseInterval()

	case tok.Kind == TokenOp && tok.Text == "(":
		return p.parseParenOrSubquery()

	case tok.Kind == TokenOp && tok.Text == "*":
		return nil, p.errorf("unexpected * outside select list")

	case tok.Kind == TokenIdent || tok.Kind == TokenQuotedIdent:
		if isReserved(tok) && tok.Kind == TokenIdent {
			// LEFT( and RIGHT( are string functions despite being join
			// keywords.
			next := p.toks[p.pos+1]
			if (tok.Upper() == "LEFT" || tok.Upper() == "RIGHT") &&
				next.Kind == TokenOp && next.Text == "(" {
				p.advance()
				return p.parseFuncCall(Ident{Value: tok.Text})
			}
			return nil, p.errorf("unexpected keyword %q in expression", tok.Text)
		}
		return p.parseIdentExpr()
	}
	return nil, p.errorf("unexpected token %q", tok.Text)
}

func (p *parser) parseCase() (Expr, error) {
	p.advance()
	caseExpr := &CaseExpr{}
	if !p.atKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		caseExpr.Operand = operand
	}
	for p.acceptKeyword("WHEN") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		caseExpr.Whens = append(caseExpr.Whens, WhenClause{Cond: cond, Then: then})
	}
	if len(caseExpr.Whens) == 0 {
		return nil, p.errorf("CASE requires at least one WHEN arm")
	}
	if p.acceptKeyword("ELSE") {
		els, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		caseExpr.Else = els
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return caseExpr, nil
}

func (p *parser) parseCast() (Expr, error) {
	p.advance()
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	inner, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	typ, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: inner, Type: typ}, nil
}

func (p *parser) parseInterval() (Expr, error) {
	p.advance()
	tok := p.peek()
	if tok.Kind != TokenString {
		return nil, p.errorf("expected string literal after INTERVAL")
	}
	p.advance()
	iv := &IntervalExpr{Text: tok.Text}
	next := p.peek()
	if next.Kind == TokenIdent && !isReserved(next) {
		iv.Unit = strings.ToUpper(p.advance().Text)
	}
	return iv, nil
}

func (p *parser) parseParenOrSubquery() (Expr, error) {
	p.advance()
	if p.atKeyword("SELECT") || p.atKeyword("WITH") {
		sub, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return &SubqueryExpr{Subquery: sub}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.acceptOp(",") {
		tuple := &TupleExpr{Exprs: []Expr{first}}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			tuple.Exprs = append(tuple.Exprs, e)
			if !p.acceptOp(",") {
				break
			}
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return tuple, nil
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return &ParenExpr{Expr: first}, nil
}

// parseIdentExpr handles column references, function calls and qualified
// names starting at an identifier.
func (p *parser) parseIdentExpr() (Expr, error) {
	first := p.advance()
	firstIdent := Ident{Value: first.Text, Quoted: first.Kind == TokenQuotedIdent}

	// Function call.
	if p.peek().Kind == TokenOp && p.peek().Text == "(" && !firstIdent.Quoted {
		return p.parseFuncCall(firstIdent)
	}

	// Qualified column: a.b or a.b.c (table.column or schema.table.column).
	if p.acceptOp(".") {
		second, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		if p.acceptOp(".") {
			third, err := p.parseIdent()
			if err != nil {
				return nil, err
			}
			return &ColumnRef{Schema: firstIdent, Table: second, Column: third}, nil
		}
		return &ColumnRef{Table: firstIdent, Column: second}, nil
	}
	return &ColumnRef{Column: firstIdent}, nil
}

func (p *parser) parseFuncCall(name Ident) (Expr, error) {
	p.advance() // consume (
	fn := &FuncCall{Name: Ident{Value: strings.ToUpper(name.Value)}}

	if p.peek().Kind == TokenOp && p.peek().Text == "*" {
		p.advance()
		fn.Star = true
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return p.parseOptionalOver(fn)
	}

	if p.peek().Kind == TokenOp && p.peek().Text == ")" {
		p.advance()
		return p.parseOptionalOver(fn)
	}

	if p.acceptKeyword("DISTINCT") {
		fn.Distinct = true
	}

	// EXTRACT(part FROM expr) and similar keyword-argument forms.
	if fn.Name.Value == "EXTRACT" {
		part := p.peek()
		if part.Kind != TokenIdent {
			return nil, p.errorf("expected date part in EXTRACT")
		}
		p.advance()
		if err := p.expectKeyword("FROM"); err != nil {
			return nil, err
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		fn.Args = []Expr{&Literal{Kind: LiteralKeyword, Text: strings.ToUpper(part.Text)}, arg}
		return p.parseOptionalOver(fn)
	}

	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fn.Args = append(fn.Args, arg)
		if !p.acceptOp(",") {
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return p.parseOptionalOver(fn)
}

func (p *parser) parseOptionalOver(fn *FuncCall) (Expr, error) {
	if !p.acceptKeyword("OVER") {
		return fn, nil
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	spec := &WindowSpec{}
	if p.acceptKeyword("PARTITION") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			spec.PartitionBy = append(spec.PartitionBy, e)
			if !p.acceptOp(",") {
				break
			}
		}
	}
	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		spec.OrderBy = items
	}
	if p.peek().Kind == TokenIdent {
		frame, err := p.parseWindowFrame()
		if err != nil {
			return nil, err
		}
		spec.Frame = frame
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	fn.Over = spec
	return fn, nil
}

// parseWindowFrame consumes ROWS/RANGE frames and returns the canonical
// uppercase text.
func (p *parser) parseWindowFrame() (string, error) {
	mode := p.peek().Upper()
	if mode != "ROWS" && mode != "RANGE" {
		return "", p.errorf("expected ROWS or RANGE in window frame, found %q", p.peek().Text)
	}
	p.advance()
	var sb strings.Builder
	sb.WriteString(mode)

	bound := func() error {
		switch {
		case p.acceptKeyword("UNBOUNDED"):
			sb.WriteString(" UNBOUNDED")
			switch {
			case p.acceptKeyword("PRECEDING"):
				sb.WriteString(" PRECEDING")
			case p.acceptKeyword("FOLLOWING"):
				sb.WriteString(" FOLLOWING")
			default:
				return p.errorf("expected PRECEDING or FOLLOWING after UNBOUNDED")
			}
		case p.acceptKeyword("CURRENT"):
			if p.peek().Upper() != "ROW" {
				return p.errorf("expected ROW after CURRENT")
			}
			p.advance()
			sb.WriteString(" CURRENT ROW")
		case p.peek().Kind == TokenNumber:
			sb.WriteString(" " + p.advance().Text)
			switch {
			case p.acceptKeyword("PRECEDING"):
				sb.WriteString(" PRECEDING")
			case p.acceptKeyword("FOLLOWING"):
				sb.WriteString(" FOLLOWING")
			default:
				return p.errorf("expected PRECEDING or FOLLOWING after frame offset")
			}
		default:
			return p.errorf("invalid window frame bound %q", p.peek().Text)
		}
		return nil
	}

	if p.acceptKeyword("BETWEEN") {
		sb.WriteString(" BETWEEN")
		if err := bound(); err != nil {
			return "", err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return "", err
		}
		sb.WriteString(" AND")
		if err := bound(); err != nil {
			return "", err
		}
	} else {
		if err := bound(); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
