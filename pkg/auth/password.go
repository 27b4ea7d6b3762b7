package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

// HashPassword produces a bcrypt digest for storage on the user row.
func HashPassword(clear string) (string, error) {
	if len(clear) < 8 {
		return "", errdefs.Validationf("password must be at least 8 characters")
	}
	if len(clear) > 72 {
		// bcrypt truncates silently beyond 72 bytes
		return "", errdefs.Validationf("password must be at most 72 characters")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(clear), bcrypt.DefaultCost)
	if err != nil {
		return "", errdefs.Unexpectedf("hashing password: %v", err)
	}
	return string(digest), nil
}

// VerifyPassword checks a candidate against the stored digest. The error
// is the same for wrong password and malformed hash so callers cannot
// distinguish the two.
func VerifyPassword(hash, clear string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(clear)) != nil {
		return errdefs.Unauthorizedf("invalid credentials")
	}
	return nil
}
