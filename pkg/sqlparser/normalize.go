package sqlparser

import (
	"sort"
	"strings"
)

// NormalizeVersion selects the canonicalisation rule set. Bumping the
// version invalidates every previously computed content hash, which is the
// point: hashes commit to the rules that produced them.
type NormalizeVersion int

const (
	// NormalizeV1 strips comments, canonicalises whitespace and keyword
	// case, qualifies tables resolvable against the known-table set,
	// alphabetises CTEs when order allows, and regenerates from the AST.
	NormalizeV1 NormalizeVersion = 1
	// NormalizeV2 additionally qualifies columns against the provided
	// schema and applies deterministic boolean simplification.
	NormalizeV2 NormalizeVersion = 2
)

// String renders the version the way the hash prefix spells it.
func (v NormalizeVersion) String() string {
	if v == NormalizeV2 {
		return "v2"
	}
	return "v1"
}

// Schema maps canonical table names (lowercase, dot-separated) to their
// ordered output columns. It powers table and column qualification.
type Schema map[string][]string

// Normalize parses sql and regenerates its canonical form under the given
// version. The schema may be nil; qualification then only uses what the
// statement itself declares.
func Normalize(sql string, dialect Dialect, version NormalizeVersion, schema Schema) (string, error) {
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return "", err
	}
	normalizeStmt(stmt, version, schema)
	return Render(stmt, dialect), nil
}

func normalizeStmt(stmt *Statement, version NormalizeVersion, schema Schema) {
	qualifyTables(stmt, schema)
	sortCTEs(stmt)
	if version >= NormalizeV2 {
		QualifyColumns(stmt, schema)
		transformExprs(stmt, simplifyBool)
	}
}

// qualifyTables upgrades bare table names to schema-qualified form when
// exactly one known table has that short name. CTE references are left
// alone.
func qualifyTables(stmt *Statement, schema Schema) {
	if len(schema) == 0 {
		return
	}
	// Index short name → candidate full names, sorted for determinism.
	byShort := make(map[string][]string)
	for fqn := range schema {
		parts := strings.Split(fqn, ".")
		short := parts[len(parts)-1]
		byShort[short] = append(byShort[short], fqn)
	}
	for short := range byShort {
		sort.Strings(byShort[short])
	}

	walkTableRefs(stmt, func(ref *TableRef, ctes map[string]bool) {
		if !ref.Name.Schema.Empty() {
			return
		}
		key := identKey(ref.Name.Table)
		if ctes[key] {
			return
		}
		candidates := byShort[key]
		if len(candidates) != 1 {
			return
		}
		parts := strings.Split(candidates[0], ".")
		switch len(parts) {
		case 2:
			ref.Name.Schema = Ident{Value: parts[0]}
			ref.Name.Table = Ident{Value: parts[1]}
		case 3:
			ref.Name.Catalog = Ident{Value: parts[0]}
			ref.Name.Schema = Ident{Value: parts[1]}
			ref.Name.Table = Ident{Value: parts[2]}
		}
	})
}

// sortCTEs alphabetises WITH entries when the sorted order keeps every
// reference pointing at an already-defined CTE. Order stays put otherwise.
func sortCTEs(stmt *Statement) {
	if stmt == nil {
		return
	}
	for i := range stmt.CTEs {
		sortCTEs(stmt.CTEs[i].Select)
	}
	if len(stmt.CTEs) > 1 {
		trySortCTEList(stmt)
	}
	sortCTEsInBody(stmt.Body)
}

func sortCTEsInBody(se *SetExpr) {
	if se == nil {
		return
	}
	if se.Sub != nil {
		sortCTEs(se.Sub)
	}
	if se.Select != nil {
		sortCTEsInSelect(se.Select)
	}
	sortCTEsInBody(se.Left)
	sortCTEsInBody(se.Right)
}

func sortCTEsInSelect(sel *SelectStmt) {
	var visitFrom func(te TableExpr)
	visitFrom = func(te TableExpr) {
		switch t := te.(type) {
		case *SubqueryRef:
			sortCTEs(t.Select)
		case *JoinExpr:
			visitFrom(t.Left)
			visitFrom(t.Right)
		}
	}
	if sel.From != nil {
		visitFrom(sel.From)
	}
	exprs := []Expr{sel.Where, sel.Having, sel.Qualify}
	for _, item := range sel.Items {
		exprs = append(exprs, item.Expr)
	}
	exprs = append(exprs, sel.GroupBy...)
	for _, e := range exprs {
		walkExprSubqueries(e, func(sub *Statement) { sortCTEs(sub) })
	}
}

func trySortCTEList(stmt *Statement) {
	names := make(map[string]int, len(stmt.CTEs))
	for i, cte := range stmt.CTEs {
		names[identKey(cte.Name)] = i
	}

	// refs[i] holds the indexes of sibling CTEs referenced by CTE i.
	refs := make([][]int, len(stmt.CTEs))
	for i := range stmt.CTEs {
		seen := map[int]bool{}
		walkTableRefs(stmt.CTEs[i].Select, func(ref *TableRef, inner map[string]bool) {
			if !ref.Name.Schema.Empty() {
				return
			}
			key := identKey(ref.Name.Table)
			if inner[key] {
				return
			}
			if j, ok := names[key]; ok && j != i {
				seen[j] = true
			}
		})
		for j := range seen {
			refs[i] = append(refs[i], j)
		}
	}

	order := make([]int, len(stmt.CTEs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return identKey(stmt.CTEs[order[a]].Name) < identKey(stmt.CTEs[order[b]].Name)
	})

	pos := make([]int, len(stmt.CTEs))
	for rank, idx := range order {
		pos[idx] = rank
	}
	for i, deps := range refs {
		for _, j := range deps {
			if pos[j] >= pos[i] {
				return // sorted order would introduce a forward reference
			}
		}
	}

	sorted := make([]CTE, len(stmt.CTEs))
	for rank, idx := range order {
		sorted[rank] = stmt.CTEs[idx]
	}
	stmt.CTEs = sorted
}

// simplifyBool applies the deterministic boolean rewrites: double negation,
// TRUE/FALSE short-circuits, NOT over constants. It is applied bottom-up so
// each rule sees already-simplified children.
func simplifyBool(e Expr) Expr {
	switch t := e.(type) {
	case *UnaryExpr:
		if t.Op != "NOT" {
			return e
		}
		switch inner := stripParens(t.Expr).(type) {
		case *UnaryExpr:
			if inner.Op == "NOT" {
				return stripParens(inner.Expr)
			}
		case *Literal:
			if inner.Kind == LiteralBool {
				return negatedBool(inner)
			}
		}
	case *BinaryExpr:
		switch t.Op {
		case "AND":
			if b, ok := boolLiteral(t.Left); ok {
				if b {
					return stripParens(t.Right)
				}
				return falseLit()
			}
			if b, ok := boolLiteral(t.Right); ok {
				if b {
					return stripParens(t.Left)
				}
				return falseLit()
			}
		case "OR":
			if b, ok := boolLiteral(t.Left); ok {
				if b {
					return trueLit()
				}
				return stripParens(t.Right)
			}
			if b, ok := boolLiteral(t.Right); ok {
				if b {
					return trueLit()
				}
				return stripParens(t.Left)
			}
		}
	}
	return e
}

func stripParens(e Expr) Expr {
	for {
		p, ok := e.(*ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

func boolLiteral(e Expr) (bool, bool) {
	lit, ok := stripParens(e).(*Literal)
	if !ok || lit.Kind != LiteralBool {
		return false, false
	}
	return strings.EqualFold(lit.Text, "TRUE"), true
}

func trueLit() Expr  { return &Literal{Kind: LiteralBool, Text: "TRUE"} }
func falseLit() Expr { return &Literal{Kind: LiteralBool, Text: "FALSE"} }

func negatedBool(lit *Literal) Expr {
	if strings.EqualFold(lit.Text, "TRUE") {
		return falseLit()
	}
	return trueLit()
}
