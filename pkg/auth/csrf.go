package auth

import (
	"crypto/subtle"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

const csrfTokenLen = 32 // hex chars

// CSRF implements the double-submit cookie pattern. The token is opaque
// and unkeyed: safety comes from the attacker being unable to read the
// cookie, not from the token's contents. Bearer and API-key requests carry
// no ambient credential and bypass this check entirely.
type CSRF struct {
	MaxAge time.Duration
}

// NewCSRF applies the default cookie lifetime when none is configured.
func NewCSRF(maxAge time.Duration) *CSRF {
	if maxAge <= 0 {
		maxAge = 12 * time.Hour
	}
	return &CSRF{MaxAge: maxAge}
}

// IssueToken mints a fresh token for the cookie. The cookie must be
// readable by the client (not HttpOnly) so it can echo it in the header.
func (c *CSRF) IssueToken() (string, error) {
	tok, err := randomHex(csrfTokenLen)
	if err != nil {
		return "", errdefs.Unexpectedf("generating csrf token: %v", err)
	}
	return tok, nil
}

// Validate compares the header echo against the cookie value in constant
// time. Both must be present and non-empty.
func (c *CSRF) Validate(cookie, header string) error {
	if cookie == "" {
		return errdefs.CSRFf("csrf cookie missing")
	}
	if header == "" {
		return errdefs.CSRFf("csrf header missing")
	}
	if len(cookie) != len(header) ||
		subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
		return errdefs.CSRFf("csrf token mismatch")
	}
	return nil
}
