package sqlparser

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// hashPrefix commits the digest to the rule-set version that produced the
// canonical text. Any normalisation change must bump the version so stale
// hashes can never collide with fresh ones.
const hashPrefix = "ironlayer-canon-"

// Hash normalises sql under the given version and digests it together with
// the sorted metadata. Parse failures propagate; a content hash over text
// we could not canonicalise would be meaningless.
func Hash(sql string, dialect Dialect, version NormalizeVersion, schema Schema, metadata map[string]string) (string, error) {
	normalized, err := Normalize(sql, dialect, version, schema)
	if err != nil {
		return "", err
	}
	return HashNormalized(normalized, version, metadata), nil
}

// HashNormalized digests already-canonical SQL. Metadata entries are fed in
// key order so map iteration cannot leak into the digest. Keys and values
// are framed by distinct separator bytes; without that, ("a", "b=c") and
// ("a=b", "c") would produce the same preimage.
func HashNormalized(normalized string, version NormalizeVersion, metadata map[string]string) string {
	h := sha256.New()
	h.Write([]byte(hashPrefix + version.String() + ":"))
	h.Write([]byte(normalized))

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0x00})
		h.Write([]byte(k))
		h.Write([]byte{0x01})
		h.Write([]byte(metadata[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
