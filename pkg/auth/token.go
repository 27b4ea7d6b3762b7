package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Mode selects how bearer tokens are verified.
type Mode string

const (
	ModeDev  Mode = "dev"  // HMAC-SHA256 with a shared secret
	ModeOIDC Mode = "oidc" // delegated to an external verifier
)

// Identity is the authenticated caller every credential path resolves to.
type Identity struct {
	Subject   string
	TenantID  string
	Kind      types.IdentityKind
	Role      types.Role
	Scopes    []string
	JTI       string
	ExpiresAt time.Time
}

// Claims is the JWT payload for dev-mode tokens.
type Claims struct {
	TenantID string             `json:"tenant_id"`
	Kind     types.IdentityKind `json:"identity_kind"`
	Role     types.Role         `json:"role"`
	Scopes   []string           `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// OIDCVerifier validates a token issued by an external identity provider
// and maps its claims onto an Identity. Implementations live outside this
// package; prod deployments must supply one.
type OIDCVerifier interface {
	Verify(ctx context.Context, raw string) (*Identity, error)
}

// RevocationStore persists jti revocations until the underlying token
// would have expired anyway.
type RevocationStore interface {
	InsertRevocation(ctx context.Context, rev types.TokenRevocation) error
	IsRevoked(ctx context.Context, tenantID, jti string) (bool, error)
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Mode   Mode
	Secret []byte
	TTL    time.Duration
	OIDC   OIDCVerifier
	// Clock is injected for tests; nil means time.Now.
	Clock func() time.Time
}

// TokenService issues, verifies, and revokes bearer tokens.
type TokenService struct {
	mode        Mode
	secret      []byte
	ttl         time.Duration
	oidc        OIDCVerifier
	revocations RevocationStore
	now         func() time.Time
}

// NewTokenService validates the configuration for the selected mode.
func NewTokenService(cfg TokenConfig, revocations RevocationStore) (*TokenService, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeDev
	}
	switch cfg.Mode {
	case ModeDev:
		if len(cfg.Secret) < 32 {
			return nil, errdefs.Validationf("dev token mode requires a signing secret of at least 32 bytes")
		}
	case ModeOIDC:
		if cfg.OIDC == nil {
			return nil, errdefs.Validationf("oidc token mode requires a verifier")
		}
	default:
		return nil, errdefs.Validationf("unknown auth mode %q", cfg.Mode)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		mode:        cfg.Mode,
		secret:      cfg.Secret,
		ttl:         cfg.TTL,
		oidc:        cfg.OIDC,
		revocations: revocations,
		now:         now,
	}, nil
}

// Issue mints a dev-mode token for the identity. OIDC deployments issue
// tokens at the provider, so Issue refuses in that mode.
func (s *TokenService) Issue(ctx context.Context, id Identity) (string, *Claims, error) {
	if s.mode != ModeDev {
		return "", nil, errdefs.Validationf("tokens are issued by the identity provider in %s mode", s.mode)
	}
	if id.Subject == "" || id.TenantID == "" {
		return "", nil, errdefs.Validationf("subject and tenant are required")
	}
	if id.Kind == "" {
		id.Kind = types.IdentityUser
	}
	if id.Role == "" {
		id.Role = types.RoleViewer
	}

	issuedAt := s.now().UTC()
	claims := &Claims{
		TenantID: id.TenantID,
		Kind:     id.Kind,
		Role:     id.Role,
		Scopes:   id.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, errdefs.Unexpectedf("signing token: %v", err)
	}
	return signed, claims, nil
}

// Verify authenticates a bearer token and checks it against the
// revocation store.
func (s *TokenService) Verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, errdefs.Unauthorizedf("bearer token is required")
	}

	var id *Identity
	switch s.mode {
	case ModeOIDC:
		verified, err := s.oidc.Verify(ctx, raw)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindUnauthorized, err, "token rejected")
		}
		id = verified
	default:
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errdefs.Unauthorizedf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindUnauthorized, err, "token rejected")
		}
		id = &Identity{
			Subject:  claims.Subject,
			TenantID: claims.TenantID,
			Kind:     claims.Kind,
			Role:     claims.Role,
			Scopes:   claims.Scopes,
			JTI:      claims.ID,
		}
		if claims.ExpiresAt != nil {
			id.ExpiresAt = claims.ExpiresAt.Time
		}
	}

	if id.TenantID == "" || id.Subject == "" {
		return nil, errdefs.Unauthorizedf("token is missing identity claims")
	}
	if id.JTI != "" && s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, id.TenantID, id.JTI)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindUnexpected, err, "revocation lookup failed")
		}
		if revoked {
			return nil, errdefs.Unauthorizedf("token has been revoked")
		}
	}
	return id, nil
}

// Revoke marks a verified token's jti as dead until its natural expiry.
func (s *TokenService) Revoke(ctx context.Context, id *Identity) error {
	if id == nil || id.JTI == "" {
		return errdefs.Validationf("token carries no jti to revoke")
	}
	if s.revocations == nil {
		return errdefs.Unexpectedf("no revocation store configured")
	}
	expires := id.ExpiresAt
	if expires.IsZero() {
		expires = s.now().UTC().Add(s.ttl)
	}
	err := s.revocations.InsertRevocation(ctx, types.TokenRevocation{
		TenantID:  id.TenantID,
		JTI:       id.JTI,
		ExpiresAt: expires,
		RevokedAt: s.now().UTC(),
	})
	if err != nil {
		return err
	}
	tenantLog := log.WithTenant(id.TenantID)
	tenantLog.Info().Str("jti", id.JTI).Msg("token revoked")
	return nil
}
