package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxRoundTrip(t *testing.T) {
	box, err := NewBoxFromPassphrase("local-dev-passphrase")
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("whsec_1234567890"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "whsec")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec_1234567890", string(opened))
}

func TestBoxNonceVariesPerSeal(t *testing.T) {
	box, err := NewBoxFromPassphrase("local-dev-passphrase")
	require.NoError(t, err)

	a, err := box.Seal([]byte("same input"))
	require.NoError(t, err)
	b, err := box.Seal([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestBoxWrongKeyFails(t *testing.T) {
	box1, err := NewBoxFromPassphrase("first")
	require.NoError(t, err)
	box2, err := NewBoxFromPassphrase("second")
	require.NoError(t, err)

	sealed, err := box1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = box2.Open(sealed)
	assert.Error(t, err)
}

func TestBoxRejectsTamperedValue(t *testing.T) {
	box, err := NewBoxFromPassphrase("local-dev-passphrase")
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("secret"))
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)-5] ^= 0x01
	_, err = box.Open(string(tampered))
	assert.Error(t, err)
}

func TestBoxKeyValidation(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.Error(t, err)

	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	_, err = NewBox(key)
	assert.NoError(t, err)
}

func TestBoxEmptyInputs(t *testing.T) {
	box, err := NewBoxFromPassphrase("local-dev-passphrase")
	require.NoError(t, err)

	_, err = box.Seal(nil)
	assert.Error(t, err)

	_, err = box.Open("")
	assert.Error(t, err)
}
