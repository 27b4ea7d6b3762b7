/*
Package sqlparser provides SQL canonicalisation, content hashing, structural
diffing, table rewriting, and column lineage for the Databricks and Redshift
SELECT dialects.

Everything in the package is built around one pipeline: parse the text into
an AST, transform the AST, and render it back out in a single canonical
spelling. Because the renderer has exactly one way to print every node,
two statements that differ only cosmetically (case, whitespace, comments,
redundant parentheses) collapse to the same canonical text, and that text
is what gets hashed, diffed, and stored.

# Architecture

	                ┌─────────────────────────────┐
	   SQL text ───▶│  Lexer + recursive-descent  │
	                │  parser (per dialect)       │
	                └──────────────┬──────────────┘
	                               │ *Statement (AST)
	                               ▼
	                ┌─────────────────────────────┐
	                │  Normalisation passes       │
	                │  V1: qualify tables,        │
	                │      sort CTEs              │
	                │  V2: + qualify columns,     │
	                │      simplify booleans      │
	                └──────────────┬──────────────┘
	                               │
	          ┌────────────────────┼────────────────────┐
	          ▼                    ▼                    ▼
	  ┌──────────────┐     ┌──────────────┐     ┌──────────────┐
	  │   Render     │     │     Hash     │     │     Diff     │
	  │  canonical   │     │  sha256 over │     │  clause-level│
	  │    text      │     │  version +   │     │  edits and   │
	  │              │     │  text + meta │     │  col changes │
	  └──────────────┘     └──────────────┘     └──────────────┘

RewriteTables and TraceColumnLineage ride the same AST: the rewriter
retargets catalog/schema pairs on table references, and the lineage tracer
resolves each output column back to the physical tables feeding it,
following CTEs and FROM subqueries.

# Canonicalisation Versions

Normalisation is versioned because the canonical text is hashed and the
hashes are persisted. NormalizeV1 applies structural cleanup that needs no
catalog knowledge. NormalizeV2 additionally qualifies bare columns against
a provided Schema and simplifies trivially-true boolean algebra. A digest
always embeds the version that produced it, so bumping the rule set can
never make old and new hashes collide:

	hash, err := sqlparser.Hash(sql, types.DialectDatabricks,
		sqlparser.NormalizeV1, nil, map[string]string{"kind": "FULL_REFRESH"})

Normalisation is a fixed point: feeding its output back through produces
the identical string. Hash stability across deployments depends on this.

# Diff Semantics

Diff never fails. The result distinguishes three states: identical raw
text, cosmetic-only differences (canonical forms match), and real edits.
Real edits are bucketed per clause (where_changed, cte_modified,
set_operand_changed, ...) and named output columns get an added, removed,
or modified entry. Inputs that do not parse yield a conservative
non-cosmetic result so callers rebuild instead of skipping work.

# Dialects

Both dialects share the grammar; they differ in identifier quoting
(backquotes are Databricks-only) and that difference is enforced at lex
time. Unquoted identifiers fold to lower case, quoted identifiers keep
their exact text everywhere: matching, rendering, and hashing.

The parser covers the SELECT surface models are written in: CTEs, set
operations, joins, window functions, QUALIFY, CASE, casts in both
spellings, IN/BETWEEN/LIKE/IS predicates, EXTRACT, and INTERVAL
arithmetic. DDL and DML are out: loaders validate model bodies are
SELECTs long before this package sees them.
*/
package sqlparser
