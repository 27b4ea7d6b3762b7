package sqlparser

import "github.com/ironlayer/ironlayer/pkg/types"

// Dialect aliases the shared dialect type so callers can stay on one import.
type Dialect = types.Dialect

const (
	DialectDatabricks = types.DialectDatabricks
	DialectRedshift   = types.DialectRedshift
)

// Statement is the root of a parsed query: an optional WITH clause, a body
// of one or more selects joined by set operators, and an optional trailing
// ORDER BY / LIMIT that binds to the full body.
type Statement struct {
	CTEs    []CTE
	Body    *SetExpr
	OrderBy []OrderItem
	Limit   Expr
	Offset  Expr
}

// CTE is one WITH entry.
type CTE struct {
	Name    Ident
	Columns []Ident
	Select  *Statement
}

// SetExpr is a select, a parenthesised sub-statement, or a set operation
// over two SetExprs.
type SetExpr struct {
	Select *SelectStmt // leaf when non-nil
	Sub    *Statement  // parenthesised operand carrying its own modifiers
	Op     string      // UNION, UNION ALL, INTERSECT, EXCEPT
	Left   *SetExpr
	Right  *SetExpr
}

// SelectStmt is a single SELECT block.
type SelectStmt struct {
	Distinct bool
	Items    []SelectItem
	From     TableExpr // nil for FROM-less selects
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	Qualify  Expr
}

// SelectItem is one projection. Star items have Star set and an optional
// table qualifier.
type SelectItem struct {
	Expr      Expr
	Alias     Ident
	Star      bool
	StarTable *TableName
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst *bool // nil when unspecified
}

// Ident is an identifier with its quoting preserved. Unquoted identifiers
// compare and render case-insensitively; quoted ones are exact.
type Ident struct {
	Value  string
	Quoted bool
}

// Empty reports whether the identifier is unset.
func (id Ident) Empty() bool { return id.Value == "" }

// TableName is a possibly catalog- and schema-qualified table reference.
type TableName struct {
	Catalog Ident
	Schema  Ident
	Table   Ident
}

// TableExpr is a node in the FROM tree.
type TableExpr interface{ isTableExpr() }

// TableRef is a named table (or CTE) with an optional alias.
type TableRef struct {
	Name  TableName
	Alias Ident
}

// SubqueryRef is a parenthesised select in FROM position.
type SubqueryRef struct {
	Select *Statement
	Alias  Ident
}

// JoinExpr combines two table expressions.
type JoinExpr struct {
	Type  string // INNER, LEFT OUTER, RIGHT OUTER, FULL OUTER, CROSS
	Left  TableExpr
	Right TableExpr
	On    Expr
	Using []Ident
}

func (*TableRef) isTableExpr()    {}
func (*SubqueryRef) isTableExpr() {}
func (*JoinExpr) isTableExpr()    {}

// Expr is any scalar expression node.
type Expr interface{ isExpr() }

// ColumnRef is a column reference with optional schema and table
// qualifiers.
type ColumnRef struct {
	Schema Ident // set only for three-part references
	Table  Ident // alias or table short name; empty when unqualified
	Column Ident
}

// LiteralKind distinguishes literal types for scrubbing and rendering.
type LiteralKind int

const (
	LiteralNumber LiteralKind = iota
	LiteralString
	LiteralBool
	LiteralNull
	// LiteralKeyword renders bare and uppercase, e.g. the DAY in
	// EXTRACT(DAY FROM ts).
	LiteralKeyword
)

// Literal is a constant.
type Literal struct {
	Kind LiteralKind
	Text string // source spelling; bools and NULL render canonically
}

// FuncCall is a function application, optionally windowed.
type FuncCall struct {
	Name     Ident
	Star     bool // COUNT(*)
	Distinct bool
	Args     []Expr
	Over     *WindowSpec
}

// WindowSpec is the OVER clause of a window function.
type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []OrderItem
	Frame       string // raw frame text, e.g. "ROWS BETWEEN ..."
}

// BinaryExpr covers arithmetic, comparison, logical and concat operators.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// UnaryExpr covers NOT, unary minus and unary plus.
type UnaryExpr struct {
	Op   string
	Expr Expr
}

// ParenExpr preserves explicit grouping.
type ParenExpr struct {
	Expr Expr
}

// CaseExpr is CASE [operand] WHEN ... THEN ... [ELSE ...] END.
type CaseExpr struct {
	Operand Expr
	Whens   []WhenClause
	Else    Expr
}

// WhenClause is one WHEN/THEN arm.
type WhenClause struct {
	Cond Expr
	Then Expr
}

// CastExpr is CAST(expr AS type) or expr::type.
type CastExpr struct {
	Expr Expr
	Type string
}

// InExpr is expr [NOT] IN (list | subquery).
type InExpr struct {
	Expr     Expr
	Not      bool
	List     []Expr
	Subquery *Statement
}

// BetweenExpr is expr [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

// LikeExpr is expr [NOT] LIKE|ILIKE|RLIKE pattern.
type LikeExpr struct {
	Op      string
	Expr    Expr
	Not     bool
	Pattern Expr
}

// IsNullExpr is expr IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expr
	Not  bool
}

// ExistsExpr is [NOT] EXISTS (subquery).
type ExistsExpr struct {
	Not      bool
	Subquery *Statement
}

// SubqueryExpr is a scalar subquery.
type SubqueryExpr struct {
	Subquery *Statement
}

// IntervalExpr is INTERVAL '<text>' [unit].
type IntervalExpr struct {
	Text string
	Unit string
}

// TupleExpr is a parenthesised expression list, e.g. (a, b) in comparisons.
type TupleExpr struct {
	Exprs []Expr
}

func (*ColumnRef) isExpr()    {}
func (*Literal) isExpr()      {}
func (*FuncCall) isExpr()     {}
func (*BinaryExpr) isExpr()   {}
func (*UnaryExpr) isExpr()    {}
func (*ParenExpr) isExpr()    {}
func (*CaseExpr) isExpr()     {}
func (*CastExpr) isExpr()     {}
func (*InExpr) isExpr()       {}
func (*BetweenExpr) isExpr()  {}
func (*LikeExpr) isExpr()     {}
func (*IsNullExpr) isExpr()   {}
func (*ExistsExpr) isExpr()   {}
func (*SubqueryExpr) isExpr() {}
func (*IntervalExpr) isExpr() {}
func (*TupleExpr) isExpr()    {}
