package sqlparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineageByColumn(t *testing.T, sql string, schema Schema) map[string]ColumnLineage {
	t.Helper()
	lins, err := TraceColumnLineage(sql, DialectDatabricks, schema)
	require.NoError(t, err)
	out := make(map[string]ColumnLineage, len(lins))
	for _, lin := range lins {
		out[lin.Column] = lin
	}
	return out
}

func TestLineageTransformKinds(t *testing.T) {
	sql := `select
		id,
		amount as amt,
		amount * quantity as total,
		sum(amount) as grand,
		row_number() over (partition by region order by id) as rn,
		42 as answer
	from sales.orders`
	lins := lineageByColumn(t, sql, nil)

	assert.Equal(t, TransformDirect, lins["id"].Transform)
	assert.Equal(t, []LineageSource{{Table: "sales.orders", Column: "id"}}, lins["id"].Sources)

	assert.Equal(t, TransformRename, lins["amt"].Transform)
	assert.Equal(t, []LineageSource{{Table: "sales.orders", Column: "amount"}}, lins["amt"].Sources)

	assert.Equal(t, TransformExpression, lins["total"].Transform)
	assert.Equal(t, []LineageSource{
		{Table: "sales.orders", Column: "amount"},
		{Table: "sales.orders", Column: "quantity"},
	}, lins["total"].Sources)

	assert.Equal(t, TransformAggregate, lins["grand"].Transform)

	assert.Equal(t, TransformWindow, lins["rn"].Transform)
	assert.ElementsMatch(t, []LineageSource{
		{Table: "sales.orders", Column: "id"},
		{Table: "sales.orders", Column: "region"},
	}, lins["rn"].Sources)

	assert.Equal(t, TransformLiteral, lins["answer"].Transform)
	assert.Empty(t, lins["answer"].Sources)
}

func TestLineageFollowsCTEs(t *testing.T) {
	sql := `with base as (select id, amount from sales.orders)
		select id, amount as amt from base`
	lins := lineageByColumn(t, sql, nil)

	assert.Equal(t, []LineageSource{{Table: "sales.orders", Column: "id"}}, lins["id"].Sources)
	assert.Equal(t, []LineageSource{{Table: "sales.orders", Column: "amount"}}, lins["amt"].Sources)
}

func TestLineageCTEColumnList(t *testing.T) {
	sql := `with renamed(a, b) as (select id, amount from sales.orders)
		select a from renamed`
	lins := lineageByColumn(t, sql, nil)
	assert.Equal(t, []LineageSource{{Table: "sales.orders", Column: "id"}}, lins["a"].Sources)
}

func TestLineageFollowsSubqueries(t *testing.T) {
	sql := `select n from (select max(id) as n from raw.events) s`
	lins := lineageByColumn(t, sql, nil)
	assert.Equal(t, []LineageSource{{Table: "raw.events", Column: "id"}}, lins["n"].Sources)
}

func TestLineageJoinWithSchema(t *testing.T) {
	schema := Schema{
		"sales.orders":    {"id", "cust_id", "amount"},
		"sales.customers": {"id", "name"},
	}
	sql := `select name, amount
		from sales.orders o
		join sales.customers c on o.cust_id = c.id`
	lins := lineageByColumn(t, sql, schema)

	assert.Equal(t, []LineageSource{{Table: "sales.customers", Column: "name"}}, lins["name"].Sources)
	assert.Equal(t, []LineageSource{{Table: "sales.orders", Column: "amount"}}, lins["amount"].Sources)
}

func TestLineageUnresolvableStaysBare(t *testing.T) {
	// Two sources, no schema: a bare column cannot be attributed.
	sql := "select id from a join b on 1 = 1"
	lins := lineageByColumn(t, sql, nil)
	assert.Equal(t, []LineageSource{{Column: "id"}}, lins["id"].Sources)
}

func TestLineageStar(t *testing.T) {
	lins, err := TraceColumnLineage("select * from sales.orders", DialectDatabricks, nil)
	require.NoError(t, err)
	require.Len(t, lins, 1)
	assert.Equal(t, TransformStar, lins[0].Transform)
	assert.Equal(t, []LineageSource{{Table: "sales.orders"}}, lins[0].Sources)

	lins, err = TraceColumnLineage("select o.* from sales.orders o", DialectDatabricks, nil)
	require.NoError(t, err)
	require.Len(t, lins, 1)
	assert.Equal(t, []LineageSource{{Table: "sales.orders"}}, lins[0].Sources)
}

func TestLineageQualifiedRefToAlias(t *testing.T) {
	sql := "select o.amount from sales.orders o"
	lins := lineageByColumn(t, sql, nil)
	assert.Equal(t, []LineageSource{{Table: "sales.orders", Column: "amount"}}, lins["amount"].Sources)
}

func TestLineageParseError(t *testing.T) {
	_, err := TraceColumnLineage("nope", DialectDatabricks, nil)
	require.Error(t, err)
}
