package sqlparser

import (
	"github.com/ironlayer/ironlayer/pkg/types"
)

// RewriteTables retargets catalog/schema pairs across every table reference
// in the statement, leaving CTE references untouched. Rules apply in order;
// the first match wins. Unparseable input comes back unchanged, which keeps
// environment promotion safe: worst case the SQL runs against its original
// schema rather than a half-rewritten one.
func RewriteTables(sql string, rules []types.RewriteRule, dialect Dialect) string {
	if len(rules) == 0 {
		return sql
	}
	stmt, err := Parse(sql, dialect)
	if err != nil {
		return sql
	}
	walkTableRefs(stmt, func(ref *TableRef, ctes map[string]bool) {
		if ref.Name.Schema.Empty() {
			// Bare names are either CTEs or unqualified tables; neither
			// carries a schema to rewrite.
			return
		}
		for _, rule := range rules {
			if !ruleMatches(rule, ref.Name) {
				continue
			}
			if rule.TargetCatalog != "" {
				ref.Name.Catalog = Ident{Value: rule.TargetCatalog}
			} else {
				ref.Name.Catalog = Ident{}
			}
			ref.Name.Schema = Ident{Value: rule.TargetSchema}
			return
		}
	})
	return Render(stmt, dialect)
}

func ruleMatches(rule types.RewriteRule, tn TableName) bool {
	catalog := ""
	if !tn.Catalog.Empty() {
		catalog = identKey(tn.Catalog)
	}
	return catalog == lowerASCII(rule.SourceCatalog) &&
		identKey(tn.Schema) == lowerASCII(rule.SourceSchema)
}
