package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func model(name string, refs ...string) *types.ModelDefinition {
	return &types.ModelDefinition{Name: name, References: refs}
}

func TestBuildDiamond(t *testing.T) {
	g, err := Build([]*types.ModelDefinition{
		model("s.d", "s.b", "s.c"),
		model("s.b", "s.a"),
		model("s.c", "s.a"),
		model("s.a", "ext.landing"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s.a", "s.b", "s.c", "s.d"}, g.TopoOrder())
	assert.Equal(t, 0, g.Depth("s.a"))
	assert.Equal(t, 1, g.Depth("s.b"))
	assert.Equal(t, 1, g.Depth("s.c"))
	assert.Equal(t, 2, g.Depth("s.d"))

	assert.Equal(t, []string{"s.b", "s.c"}, g.Upstream("s.d"))
	assert.Equal(t, []string{"s.b", "s.c"}, g.Downstream("s.a"))

	// External tables are data sources, not nodes.
	assert.False(t, g.Has("ext.landing"))
	assert.True(t, g.Has("s.a"))
}

func TestTopoTieBreakIsLexicographic(t *testing.T) {
	// Three independent roots must come out in name order.
	g, err := Build([]*types.ModelDefinition{
		model("s.zeta"),
		model("s.alpha"),
		model("s.mid", "s.zeta", "s.alpha"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s.alpha", "s.zeta", "s.mid"}, g.TopoOrder())
}

func TestBuildCycle(t *testing.T) {
	_, err := Build([]*types.ModelDefinition{
		model("s.a", "s.c"),
		model("s.b", "s.a"),
		model("s.c", "s.b"),
	})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindDagCycle, errdefs.KindOf(err))
	assert.Contains(t, err.Error(), "s.a")
	assert.Contains(t, err.Error(), "s.b")
	assert.Contains(t, err.Error(), "s.c")
	assert.Contains(t, err.Error(), " -> ")
}

func TestBuildCycleWithHangers(t *testing.T) {
	// A node downstream of a cycle is not part of the reported cycle.
	_, err := Build([]*types.ModelDefinition{
		model("s.a", "s.b"),
		model("s.b", "s.a"),
		model("s.hanger", "s.a"),
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s.hanger")
}

func TestExplicitDependsOn(t *testing.T) {
	up := model("s.up")
	down := model("s.down", "ext.raw")
	down.DependsOn = []string{"s.up", "s.missing"}
	g, err := Build([]*types.ModelDefinition{up, down})
	require.NoError(t, err)
	assert.Equal(t, []string{"s.up"}, g.Upstream("s.down"), "unknown explicit deps are dropped")
}

func TestSelfReferenceIgnored(t *testing.T) {
	// Incremental models commonly read their own table; that is not an edge.
	g, err := Build([]*types.ModelDefinition{model("s.inc", "s.inc", "ext.raw")})
	require.NoError(t, err)
	assert.Empty(t, g.Upstream("s.inc"))
	assert.Equal(t, []string{"s.inc"}, g.TopoOrder())
}

func TestClosure(t *testing.T) {
	g, err := Build([]*types.ModelDefinition{
		model("s.a"),
		model("s.b", "s.a"),
		model("s.c", "s.b"),
		model("s.d", "s.a"),
		model("s.iso"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s.a", "s.b", "s.c", "s.d"}, g.Closure([]string{"s.a"}))
	assert.Equal(t, []string{"s.b", "s.c"}, g.Closure([]string{"s.b"}))
	assert.Equal(t, []string{"s.iso"}, g.Closure([]string{"s.iso"}))
	assert.Empty(t, g.Closure([]string{"s.unknown"}))
}

func TestAncestors(t *testing.T) {
	g, err := Build([]*types.ModelDefinition{
		model("s.a"),
		model("s.b", "s.a"),
		model("s.c", "s.b"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s.a", "s.b"}, g.Ancestors("s.c"))
	assert.Empty(t, g.Ancestors("s.a"))
}

func TestDepthsWithin(t *testing.T) {
	g, err := Build([]*types.ModelDefinition{
		model("s.a"),
		model("s.b", "s.a"),
		model("s.c", "s.b"),
	})
	require.NoError(t, err)

	// Full chain: depths 0, 1, 2.
	full := map[string]bool{"s.a": true, "s.b": true, "s.c": true}
	assert.Equal(t, map[string]int{"s.a": 0, "s.b": 1, "s.c": 2}, g.DepthsWithin(full))

	// Without the middle node the chain collapses: c has no in-set upstream.
	partial := map[string]bool{"s.a": true, "s.c": true}
	assert.Equal(t, map[string]int{"s.a": 0, "s.c": 0}, g.DepthsWithin(partial))
}

func TestUpstreamWithin(t *testing.T) {
	g, err := Build([]*types.ModelDefinition{
		model("s.a"),
		model("s.b"),
		model("s.c", "s.a", "s.b"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s.a"}, g.UpstreamWithin("s.c", map[string]bool{"s.a": true, "s.c": true}))
	assert.Empty(t, g.UpstreamWithin("s.c", map[string]bool{"s.c": true}))
}
