// Package auth authenticates callers and decides what they may do.
//
// Three credential paths converge on one Identity value: HMAC-signed JWTs
// (dev mode), externally verified OIDC tokens (prod mode, behind the
// OIDCVerifier interface), and opaque API keys looked up by prefix and
// compared with bcrypt. Tokens carry a jti so individual grants can be
// revoked before expiry; verification consults the revocation store on
// every call.
//
// Authorization is a fixed role lattice, VIEWER < OPERATOR < ENGINEER <
// ADMIN, crossed with the identity kind: service principals never gain the
// human-judgement permissions (approving plans, managing people) no matter
// what role their key carries.
//
// The package also hosts the two abuse brakes that sit in front of
// authentication itself: per-(email, IP) exponential login backoff and the
// CSRF double-submit token check for cookie-carried sessions.
package auth
