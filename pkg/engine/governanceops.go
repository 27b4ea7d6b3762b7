package engine

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// auditPageSize bounds each chain-verification read. Verification is O(n)
// over the whole log either way; paging keeps memory flat.
const auditPageSize = 500

// LoginResult carries a freshly issued session token.
type LoginResult struct {
	Token     string     `json:"token"`
	Subject   string     `json:"subject"`
	Role      types.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at,omitempty"`
}

// Login authenticates an email and password for a tenant and issues a
// bearer token. Failures feed the per-(email, IP) backoff ladder; a
// success resets it. Login is the one operation with no identity on the
// context yet, so it performs no RBAC check.
func (e *Engine) Login(ctx context.Context, tenantID, email, password, ip string) (*LoginResult, error) {
	if e.tokens == nil {
		return nil, errdefs.Unauthorizedf("token issuing is not configured")
	}
	if e.backoff != nil {
		if err := e.backoff.Allow(email, ip); err != nil {
			return nil, err
		}
	}
	user, err := e.store.GetUserByEmail(ctx, tenantID, email)
	if err != nil {
		if e.backoff != nil {
			e.backoff.RecordFailure(email, ip)
		}
		// Uniform answer for unknown user and bad password.
		return nil, errdefs.Unauthorizedf("invalid credentials")
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		if e.backoff != nil {
			e.backoff.RecordFailure(email, ip)
		}
		return nil, errdefs.Unauthorizedf("invalid credentials")
	}
	if e.backoff != nil {
		e.backoff.RecordSuccess(email, ip)
	}

	token, claims, err := e.tokens.Issue(ctx, auth.Identity{
		Subject:  user.Email,
		TenantID: user.TenantID,
		Kind:     types.IdentityUser,
		Role:     user.Role,
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.audit.Record(ctx, tenantID, user.Email, "TOKEN_ISSUED", "token", claims.ID, nil); err != nil {
		return nil, err
	}
	res := &LoginResult{Token: token, Subject: user.Email, Role: user.Role}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// IssueServiceToken mints a bearer token for a service principal. Service
// identities never hold approval or people-management permissions
// regardless of the role granted here.
func (e *Engine) IssueServiceToken(ctx context.Context, subject string, role types.Role) (string, error) {
	id, err := e.require(ctx, auth.PermAPIKeyManage)
	if err != nil {
		return "", err
	}
	if e.tokens == nil {
		return "", errdefs.Unauthorizedf("token issuing is not configured")
	}
	if subject == "" {
		return "", errdefs.Validationf("service subject is required")
	}
	token, claims, err := e.tokens.Issue(ctx, auth.Identity{
		Subject:  subject,
		TenantID: id.TenantID,
		Kind:     types.IdentityService,
		Role:     role,
	})
	if err != nil {
		return "", err
	}
	if err := e.record(ctx, id, "SERVICE_TOKEN_ISSUED", "token", claims.ID, map[string]string{
		"subject": subject,
		"role":    string(role),
	}); err != nil {
		return "", err
	}
	return token, nil
}

// RevokeToken revokes the caller's own bearer token by jti. The token
// stays dead until it would have expired anyway.
func (e *Engine) RevokeToken(ctx context.Context) error {
	id, err := governance.IdentityFrom(ctx)
	if err != nil {
		return err
	}
	if e.tokens == nil {
		return errdefs.Unauthorizedf("token issuing is not configured")
	}
	if err := e.tokens.Revoke(ctx, id); err != nil {
		return err
	}
	return e.record(ctx, id, "TOKEN_REVOKED", "token", id.JTI, nil)
}

// VerifyAuditChain re-derives the tenant's audit hash chain and reports
// the first mismatch, if any.
func (e *Engine) VerifyAuditChain(ctx context.Context) (governance.VerifyResult, error) {
	id, err := e.require(ctx, auth.PermAuditRead)
	if err != nil {
		return governance.VerifyResult{}, err
	}
	var entries []types.AuditEntry
	for offset := 0; ; offset += auditPageSize {
		page, err := e.store.ListAudit(ctx, id.TenantID, auditPageSize, offset)
		if err != nil {
			return governance.VerifyResult{}, err
		}
		entries = append(entries, page...)
		if len(page) < auditPageSize {
			break
		}
	}
	return governance.VerifyChain(entries), nil
}

// ListAudit pages through the tenant's audit log in chain order.
func (e *Engine) ListAudit(ctx context.Context, limit, offset int) ([]types.AuditEntry, error) {
	id, err := e.require(ctx, auth.PermAuditRead)
	if err != nil {
		return nil, err
	}
	return e.store.ListAudit(ctx, id.TenantID, limit, offset)
}
