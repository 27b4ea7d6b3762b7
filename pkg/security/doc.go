/*
Package security seals webhook signing secrets for storage at rest.

Subscriptions keep two representations of their signing secret: a bcrypt
digest used to verify the secret, and an AES-256-GCM sealed copy the
dispatcher opens to sign payloads. The Box type implements the sealed
side.

# Architecture

	┌────────────────────── SECRET LIFECYCLE ────────────────────────┐
	│                                                                 │
	│  Register subscription                                          │
	│    plaintext ─► bcrypt.GenerateFromPassword ─► secret_hash      │
	│    plaintext ─► Box.Seal ────────────────────► encrypted_secret │
	│    plaintext returned to the caller once, never logged          │
	│                                                                 │
	│  Dispatch delivery                                              │
	│    encrypted_secret ─► Box.Open ─► plaintext                    │
	│    bcrypt.CompareHashAndPassword(secret_hash, plaintext)        │
	│    signature = hmac_sha256(plaintext, body)                     │
	│                                                                 │
	└─────────────────────────────────────────────────────────────────┘

Sealed values are base64 strings with the GCM nonce prepended, so a fresh
nonce is drawn for every Seal and equal plaintexts never produce equal
ciphertexts.

# Key Material

The box key is 32 bytes. Production deployments pass a raw key through
configuration; local mode derives one from a passphrase:

	box, err := security.NewBoxFromPassphrase(cfg.SecretsPassphrase)
	if err != nil {
	    return err
	}
	sealed, err := box.Seal([]byte(secret))

Rotating the key requires resealing every stored secret; the bcrypt digests
are key-independent and survive rotation unchanged.

# Integration Points

  - pkg/engine: seals secrets when webhook subscriptions are registered
  - pkg/events: opens and verifies secrets at delivery time
  - pkg/config: carries the key or passphrase
*/
package security
