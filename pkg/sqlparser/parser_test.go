package sqlparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

func TestParseAndRender(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		sql     string
		want    string
	}{
		{
			name:    "simple select",
			dialect: DialectDatabricks,
			sql:     "select a, b from analytics.orders where a > 1",
			want:    "SELECT a, b FROM analytics.orders WHERE a > 1",
		},
		{
			name:    "keywords and identifiers fold case",
			dialect: DialectDatabricks,
			sql:     "SELECT A, B FROM Analytics.Orders WHERE A > 1",
			want:    "SELECT a, b FROM analytics.orders WHERE a > 1",
		},
		{
			name:    "comments are dropped",
			dialect: DialectDatabricks,
			sql:     "select a -- trailing\nfrom t /* block\ncomment */ where a = 1",
			want:    "SELECT a FROM t WHERE a = 1",
		},
		{
			name:    "joins",
			dialect: DialectRedshift,
			sql:     "select o.id, c.name from sales.orders o left join sales.customers c on o.cust_id = c.id",
			want:    "SELECT o.id, c.name FROM sales.orders AS o LEFT OUTER JOIN sales.customers AS c ON o.cust_id = c.id",
		},
		{
			name:    "comma join becomes cross join",
			dialect: DialectRedshift,
			sql:     "select 1 from a, b",
			want:    "SELECT 1 FROM a CROSS JOIN b",
		},
		{
			name:    "group by having",
			dialect: DialectDatabricks,
			sql:     "select region, sum(amount) as total from sales group by region having sum(amount) > 100",
			want:    "SELECT region, SUM(amount) AS total FROM sales GROUP BY region HAVING SUM(amount) > 100",
		},
		{
			name:    "implicit alias becomes AS",
			dialect: DialectDatabricks,
			sql:     "select count(*) cnt from t",
			want:    "SELECT COUNT(*) AS cnt FROM t",
		},
		{
			name:    "cast forms collapse to CAST",
			dialect: DialectRedshift,
			sql:     "select cast(a as int) as a1, b::decimal(10,2) as b1 from t",
			want:    "SELECT CAST(a AS INT) AS a1, CAST(b AS DECIMAL(10, 2)) AS b1 FROM t",
		},
		{
			name:    "case expression",
			dialect: DialectDatabricks,
			sql:     "select case when a > 0 then 'pos' else 'neg' end as sign from t",
			want:    "SELECT CASE WHEN a > 0 THEN 'pos' ELSE 'neg' END AS sign FROM t",
		},
		{
			name:    "window function with frame",
			dialect: DialectDatabricks,
			sql:     "select sum(x) over (partition by k order by d rows between unbounded preceding and current row) as rt from t",
			want:    "SELECT SUM(x) OVER (PARTITION BY k ORDER BY d ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS rt FROM t",
		},
		{
			name:    "union all",
			dialect: DialectRedshift,
			sql:     "select a from t union all select a from u",
			want:    "SELECT a FROM t UNION ALL SELECT a FROM u",
		},
		{
			name:    "in list and between",
			dialect: DialectDatabricks,
			sql:     "select * from t where a in (1, 2, 3) and b between 1 and 9",
			want:    "SELECT * FROM t WHERE a IN (1, 2, 3) AND b BETWEEN 1 AND 9",
		},
		{
			name:    "subquery in from",
			dialect: DialectDatabricks,
			sql:     "select s.n from (select count(*) as n from t) s",
			want:    "SELECT s.n FROM (SELECT COUNT(*) AS n FROM t) AS s",
		},
		{
			name:    "exists subquery",
			dialect: DialectRedshift,
			sql:     "select id from t where exists (select 1 from u where u.id = t.id)",
			want:    "SELECT id FROM t WHERE EXISTS (SELECT 1 FROM u WHERE u.id = t.id)",
		},
		{
			name:    "extract keeps keyword argument",
			dialect: DialectDatabricks,
			sql:     "select extract(day from created_at) as d from t",
			want:    "SELECT EXTRACT(DAY FROM created_at) AS d FROM t",
		},
		{
			name:    "interval arithmetic",
			dialect: DialectRedshift,
			sql:     "select * from t where ts > ts2 - interval '7' day",
			want:    "SELECT * FROM t WHERE ts > ts2 - INTERVAL '7' DAY",
		},
		{
			name:    "quoted identifiers keep case",
			dialect: DialectRedshift,
			sql:     `select "Mixed Case" from "Schema"."Table"`,
			want:    `SELECT "Mixed Case" FROM "Schema"."Table"`,
		},
		{
			name:    "backquoted identifiers in databricks",
			dialect: DialectDatabricks,
			sql:     "select `order count` from `my schema`.t",
			want:    "SELECT `order count` FROM `my schema`.t",
		},
		{
			name:    "qualify clause",
			dialect: DialectDatabricks,
			sql:     "select id, row_number() over (partition by k order by d) as rn from t qualify rn = 1",
			want:    "SELECT id, ROW_NUMBER() OVER (PARTITION BY k ORDER BY d) AS rn FROM t QUALIFY rn = 1",
		},
		{
			name:    "left function despite join keyword",
			dialect: DialectRedshift,
			sql:     "select left(name, 3) as prefix from t",
			want:    "SELECT LEFT(name, 3) AS prefix FROM t",
		},
		{
			name:    "order by limit offset",
			dialect: DialectDatabricks,
			sql:     "select a from t order by a desc nulls last limit 10 offset 5",
			want:    "SELECT a FROM t ORDER BY a DESC NULLS LAST LIMIT 10 OFFSET 5",
		},
		{
			name:    "redundant parens dropped",
			dialect: DialectDatabricks,
			sql:     "select a + (b * c) from t where (a = 1)",
			want:    "SELECT a + b * c FROM t WHERE a = 1",
		},
		{
			name:    "needed parens kept",
			dialect: DialectDatabricks,
			sql:     "select (a + b) * c from t",
			want:    "SELECT (a + b) * c FROM t",
		},
		{
			name:    "count distinct",
			dialect: DialectRedshift,
			sql:     "select count(distinct user_id) as users from events",
			want:    "SELECT COUNT(DISTINCT user_id) AS users FROM events",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Parse(tt.sql, tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Render(stmt, tt.dialect))
		})
	}
}

// Rendering then reparsing must reproduce the same canonical text, or
// content hashes would drift on every load.
func TestRenderRoundTrip(t *testing.T) {
	queries := []string{
		"SELECT a, b FROM analytics.orders WHERE a > 1",
		"SELECT o.id, SUM(o.amount) AS total FROM sales.orders AS o GROUP BY o.id HAVING SUM(o.amount) > 0",
		"WITH daily AS (SELECT dt, COUNT(*) AS n FROM raw.events GROUP BY dt) SELECT * FROM daily WHERE n > 10",
		"SELECT CASE WHEN a IS NULL THEN 0 ELSE a END AS a2, b NOT IN (1, 2) AS flag FROM t",
		"SELECT a FROM t UNION ALL SELECT a FROM u ORDER BY a LIMIT 100",
		"SELECT ROW_NUMBER() OVER (PARTITION BY k ORDER BY d DESC) AS rn FROM t QUALIFY rn = 1",
		"SELECT t1.* FROM t1 INNER JOIN t2 ON t1.id = t2.id CROSS JOIN t3",
		"SELECT -x AS neg, NOT a AND b AS pred FROM t",
	}
	for _, q := range queries {
		t.Run(q[:24], func(t *testing.T) {
			stmt, err := Parse(q, DialectDatabricks)
			require.NoError(t, err)
			once := Render(stmt, DialectDatabricks)
			stmt2, err := Parse(once, DialectDatabricks)
			require.NoError(t, err)
			assert.Equal(t, once, Render(stmt2, DialectDatabricks))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"empty input", ""},
		{"not a select", "DELETE FROM t"},
		{"unterminated string", "select 'abc from t"},
		{"unterminated block comment", "select a /* from t"},
		{"dangling where", "select a from t where"},
		{"trailing garbage", "select a from t banana split extra"},
		{"bad join", "select a from t left join"},
		{"unbalanced paren", "select (a from t"},
		{"case without when", "select case end from t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.sql, DialectDatabricks)
			require.Error(t, err)
			assert.Equal(t, errdefs.KindParse, errdefs.KindOf(err))
		})
	}
}

func TestDialectQuoting(t *testing.T) {
	// Backticks are a Databricks-only spelling.
	_, err := Parse("select `a` from t", DialectRedshift)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindParse, errdefs.KindOf(err))

	stmt, err := Parse("select `a` from t", DialectDatabricks)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `a` FROM t", Render(stmt, DialectDatabricks))
}

func TestParseErrorCarriesPosition(t *testing.T) {
	_, err := Parse("select a,\n  from t", DialectDatabricks)
	require.Error(t, err)
	var e *errdefs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 2, e.Detail["line"])
}

func TestReferencedTables(t *testing.T) {
	sql := `
		WITH base AS (SELECT * FROM raw.events),
		     agg  AS (SELECT * FROM base JOIN raw.users ON 1 = 1)
		SELECT * FROM agg
		WHERE id IN (SELECT id FROM audit.denylist)
	`
	tables, err := ReferencedTables(sql, DialectDatabricks)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit.denylist", "raw.events", "raw.users"}, tables)
}

func TestReferencedTablesShadowedCTE(t *testing.T) {
	// A CTE named like a real table shadows it inside the statement.
	sql := "WITH orders AS (SELECT 1 AS id) SELECT * FROM orders"
	tables, err := ReferencedTables(sql, DialectDatabricks)
	require.NoError(t, err)
	assert.Empty(t, tables)

	// Schema-qualified references are never CTE references.
	sql2 := "WITH orders AS (SELECT 1 AS id) SELECT * FROM sales.orders"
	tables2, err := ReferencedTables(sql2, DialectDatabricks)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.orders"}, tables2)
}

func TestLexerStringEscapes(t *testing.T) {
	stmt, err := Parse(`select 'it''s' as a, 'a\'b' as b from t`, DialectDatabricks)
	require.NoError(t, err)
	out := Render(stmt, DialectDatabricks)
	assert.True(t, strings.Contains(out, `'it''s'`))
	assert.True(t, strings.Contains(out, `'a\'b'`))
}
