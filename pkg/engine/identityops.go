package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func validRole(role types.Role) bool {
	switch role {
	case types.RoleViewer, types.RoleOperator, types.RoleEngineer, types.RoleAdmin:
		return true
	}
	return false
}

// GetTenant returns the caller's tenant record.
func (e *Engine) GetTenant(ctx context.Context) (*types.Tenant, error) {
	id, err := e.require(ctx, auth.PermTenantManage)
	if err != nil {
		return nil, err
	}
	return e.store.GetTenant(ctx, id.TenantID)
}

// SetTenantLLM toggles the tenant's LLM enrichment opt-in.
func (e *Engine) SetTenantLLM(ctx context.Context, enabled bool) (*types.Tenant, error) {
	id, err := e.require(ctx, auth.PermTenantManage)
	if err != nil {
		return nil, err
	}
	tenant, err := e.store.GetTenant(ctx, id.TenantID)
	if err != nil {
		return nil, err
	}
	tenant.LLMEnabled = enabled
	tenant.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	action := "TENANT_LLM_DISABLED"
	if enabled {
		action = "TENANT_LLM_ENABLED"
	}
	if err := e.record(ctx, id, action, "tenant", tenant.ID, nil); err != nil {
		return nil, err
	}
	return tenant, nil
}

// CreateUser adds a user to the caller's tenant. The password is hashed
// before it is stored and the hash never leaves.
func (e *Engine) CreateUser(ctx context.Context, email, password string, role types.Role) (*types.User, error) {
	id, err := e.require(ctx, auth.PermUserManage)
	if err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errdefs.Validationf("a valid email is required")
	}
	if !validRole(role) {
		return nil, errdefs.Validationf("unknown role %q", role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	user := &types.User{
		ID:           uuid.NewString(),
		TenantID:     id.TenantID,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if err := e.record(ctx, id, "USER_CREATED", "user", user.ID, map[string]string{"email": email, "role": string(role)}); err != nil {
		return nil, err
	}
	out := *user
	out.PasswordHash = ""
	return &out, nil
}

// ListUsers returns the tenant's users with password hashes stripped.
func (e *Engine) ListUsers(ctx context.Context) ([]*types.User, error) {
	id, err := e.require(ctx, auth.PermUserManage)
	if err != nil {
		return nil, err
	}
	users, err := e.store.ListUsers(ctx, id.TenantID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.User, 0, len(users))
	for _, u := range users {
		c := *u
		c.PasswordHash = ""
		out = append(out, &c)
	}
	return out, nil
}

// DeleteUser removes a user. Callers cannot delete themselves: losing
// the last admin by accident is not a recoverable state.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	id, err := e.require(ctx, auth.PermUserManage)
	if err != nil {
		return err
	}
	user, err := e.store.GetUser(ctx, id.TenantID, userID)
	if err != nil {
		return err
	}
	if user.Email == id.Subject {
		return errdefs.New(errdefs.KindConflict, "cannot delete the calling user")
	}
	if err := e.store.DeleteUser(ctx, id.TenantID, userID); err != nil {
		return err
	}
	return e.record(ctx, id, "USER_DELETED", "user", userID, map[string]string{"email": user.Email})
}

// CreateAPIKey mints a service key. The clear key is returned exactly
// once; only its prefix and digest are stored.
func (e *Engine) CreateAPIKey(ctx context.Context, name string, role types.Role) (string, *types.APIKey, error) {
	id, err := e.require(ctx, auth.PermAPIKeyManage)
	if err != nil {
		return "", nil, err
	}
	if !validRole(role) {
		return "", nil, errdefs.Validationf("unknown role %q", role)
	}
	clear, record, err := auth.GenerateAPIKey(id.TenantID, name, role, e.now())
	if err != nil {
		return "", nil, err
	}
	if err := e.store.CreateAPIKey(ctx, record); err != nil {
		return "", nil, err
	}
	if err := e.record(ctx, id, "APIKEY_CREATED", "api_key", record.ID, map[string]string{"name": name, "role": string(role)}); err != nil {
		return "", nil, err
	}
	return clear, record, nil
}

// ListAPIKeys returns the tenant's key records (prefix and digest only).
func (e *Engine) ListAPIKeys(ctx context.Context) ([]*types.APIKey, error) {
	id, err := e.require(ctx, auth.PermAPIKeyManage)
	if err != nil {
		return nil, err
	}
	return e.store.ListAPIKeys(ctx, id.TenantID)
}

// DeleteAPIKey revokes a service key immediately.
func (e *Engine) DeleteAPIKey(ctx context.Context, keyID string) error {
	id, err := e.require(ctx, auth.PermAPIKeyManage)
	if err != nil {
		return err
	}
	if err := e.store.DeleteAPIKey(ctx, id.TenantID, keyID); err != nil {
		return err
	}
	return e.record(ctx, id, "APIKEY_DELETED", "api_key", keyID, nil)
}
