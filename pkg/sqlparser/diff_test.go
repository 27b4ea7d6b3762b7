package sqlparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func editKinds(edits []Edit) []string {
	kinds := make([]string, len(edits))
	for i, e := range edits {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestDiffIdentical(t *testing.T) {
	res := Diff("select a from t", "  select a from t\n", DialectDatabricks)
	assert.True(t, res.IsIdentical)
	assert.False(t, res.IsCosmeticOnly)
	assert.False(t, res.Changed())
	assert.Empty(t, res.Edits)
}

func TestDiffCosmeticOnly(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
	}{
		{"case", "select a from t", "SELECT A FROM T"},
		{"whitespace", "select a,b from t", "select a,\n       b\nfrom t"},
		{"comments", "select a from t", "select a /* cols */ from t -- done"},
		{"redundant parens", "select a from t where a > 1", "select a from t where (a > 1)"},
		{"operator spelling", "select a from t where a != 1", "select a from t where a <> 1"},
		{"cte order without references", "with a as (select 1 as x), b as (select 2 as y) select * from a, b",
			"with b as (select 2 as y), a as (select 1 as x) select * from a, b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Diff(tt.old, tt.new, DialectDatabricks)
			assert.False(t, res.IsIdentical)
			assert.True(t, res.IsCosmeticOnly, "edits: %v", res.Edits)
			assert.False(t, res.Changed())
		})
	}
}

func TestDiffColumnChanges(t *testing.T) {
	old := "select id, amount, region as geo from sales.orders"
	tests := []struct {
		name string
		new  string
		want map[string]ColumnChangeKind
	}{
		{
			name: "added",
			new:  "select id, amount, region as geo, tax from sales.orders",
			want: map[string]ColumnChangeKind{"tax": ColumnAdded},
		},
		{
			name: "removed",
			new:  "select id, region as geo from sales.orders",
			want: map[string]ColumnChangeKind{"amount": ColumnRemoved},
		},
		{
			name: "modified",
			new:  "select id, amount * 2 as amount, region as geo from sales.orders",
			want: map[string]ColumnChangeKind{"amount": ColumnModified},
		},
		{
			name: "rename is remove plus add",
			new:  "select id, amount, region as zone from sales.orders",
			want: map[string]ColumnChangeKind{"geo": ColumnRemoved, "zone": ColumnAdded},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Diff(old, tt.new, DialectDatabricks)
			assert.True(t, res.Changed())
			assert.Equal(t, tt.want, res.ColumnChanges)
		})
	}
}

func TestDiffClauseEdits(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		wantKind string
	}{
		{"where", "select a from t", "select a from t where a > 0", "where_changed"},
		{"group by", "select a from t group by a", "select a from t group by a, a", "group_by_changed"},
		{"having", "select a from t group by a having count(*) > 1", "select a from t group by a having count(*) > 2", "having_changed"},
		{"from", "select a from t", "select a from u", "from_changed"},
		{"join", "select a from t", "select a from t join u on t.id = u.id", "from_changed"},
		{"order by", "select a from t order by a", "select a from t order by a desc", "order_by_changed"},
		{"limit", "select a from t limit 10", "select a from t limit 20", "limit_changed"},
		{"distinct", "select a from t", "select distinct a from t", "distinct_changed"},
		{"qualify", "select a, row_number() over (order by a) as rn from t qualify rn = 1",
			"select a, row_number() over (order by a) as rn from t qualify rn = 2", "qualify_changed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Diff(tt.old, tt.new, DialectDatabricks)
			assert.True(t, res.Changed())
			assert.Contains(t, editKinds(res.Edits), tt.wantKind)
		})
	}
}

func TestDiffCTEEdits(t *testing.T) {
	old := "with base as (select 1 as x) select * from base"

	res := Diff(old, "with base as (select 2 as x) select * from base", DialectDatabricks)
	assert.True(t, res.Changed())
	assert.Contains(t, editKinds(res.Edits), "cte_modified")

	res = Diff(old, "with base as (select 1 as x), extra as (select 2 as y) select * from base", DialectDatabricks)
	assert.Contains(t, editKinds(res.Edits), "cte_added")

	res = Diff("with base as (select 1 as x), extra as (select 2 as y) select * from base", old, DialectDatabricks)
	assert.Contains(t, editKinds(res.Edits), "cte_removed")
}

func TestDiffSetOperands(t *testing.T) {
	old := "select a from t union all select a from u"

	res := Diff(old, "select a from t union all select a from v", DialectDatabricks)
	assert.True(t, res.Changed())
	assert.Contains(t, editKinds(res.Edits), "set_operand_changed")

	res = Diff(old, "select a from t union select a from u", DialectDatabricks)
	assert.Contains(t, editKinds(res.Edits), "set_shape_changed")

	res = Diff(old, "select a from t union all select a from u union all select a from v", DialectDatabricks)
	assert.Contains(t, editKinds(res.Edits), "set_shape_changed")
}

func TestDiffStarAndUnnamed(t *testing.T) {
	res := Diff("select * from t", "select t.* from t", DialectDatabricks)
	assert.True(t, res.Changed())
	assert.Contains(t, editKinds(res.Edits), "star_changed")
	assert.Empty(t, res.ColumnChanges, "stars carry no column names")

	res = Diff("select a + 1 from t", "select a + 2 from t", DialectDatabricks)
	assert.True(t, res.Changed())
	assert.Contains(t, editKinds(res.Edits), "unnamed_item_changed")
	assert.Empty(t, res.ColumnChanges)
}

func TestDiffSelectOrderOnly(t *testing.T) {
	res := Diff("select a, b from t", "select b, a from t", DialectDatabricks)
	assert.True(t, res.Changed())
	assert.Contains(t, editKinds(res.Edits), "select_order_changed")
	assert.Empty(t, res.ColumnChanges)
}

// Unparseable input must never look cosmetic; the planner treats it as a
// real change and rebuilds.
func TestDiffParseFailureIsConservative(t *testing.T) {
	res := Diff("select a from t", "select a frum t", DialectDatabricks)
	assert.False(t, res.IsIdentical)
	assert.False(t, res.IsCosmeticOnly)
	assert.True(t, res.Changed())
	require.Len(t, res.Edits, 1)
	assert.Equal(t, "parse_failure", res.Edits[0].Kind)
	assert.Equal(t, "new", res.Edits[0].Detail)

	res = Diff("not sql at all", "select a from t", DialectDatabricks)
	assert.True(t, res.Changed())
	require.Len(t, res.Edits, 1)
	assert.Equal(t, "old", res.Edits[0].Detail)
}

// Two broken inputs that are textually identical are still identical; the
// raw-text check comes before parsing.
func TestDiffBrokenButIdentical(t *testing.T) {
	res := Diff("definitely not sql", "definitely not sql", DialectDatabricks)
	assert.True(t, res.IsIdentical)
}
