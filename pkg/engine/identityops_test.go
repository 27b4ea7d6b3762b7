package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func TestCreateUserStripsPasswordHash(t *testing.T) {
	h := newHarness(t)
	ctx := identityCtx(types.RoleAdmin)

	user, err := h.eng.CreateUser(ctx, "Dana@Acme.dev", "correct-horse-battery", types.RoleEngineer)
	require.NoError(t, err)
	assert.Equal(t, "dana@acme.dev", user.Email)
	assert.Empty(t, user.PasswordHash)

	// The stored row keeps the digest.
	stored, err := h.store.GetUser(context.Background(), testTenant, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.PasswordHash)

	users, err := h.eng.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Empty(t, users[0].PasswordHash)
}

func TestCreateUserRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := identityCtx(types.RoleAdmin)

	_, err := h.eng.CreateUser(ctx, "not-an-email", "pw", types.RoleViewer)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))

	_, err = h.eng.CreateUser(ctx, "dana@acme.dev", "pw", types.Role("superuser"))
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestDeleteUserCannotRemoveSelf(t *testing.T) {
	h := newHarness(t)
	ctx := identityCtx(types.RoleAdmin)
	seedUser(t, h, "amira@acme.dev", "s3cret-enough", types.RoleAdmin)

	err := h.eng.DeleteUser(ctx, "u-amira@acme.dev")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindConflict))

	seedUser(t, h, "dana@acme.dev", "s3cret-enough", types.RoleViewer)
	require.NoError(t, h.eng.DeleteUser(ctx, "u-dana@acme.dev"))

	users, err := h.eng.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "amira@acme.dev", users[0].Email)
}

func TestIdentityOpsRequireAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := identityCtx(types.RoleEngineer)

	_, err := h.eng.ListUsers(ctx)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindForbidden))

	_, _, err = h.eng.CreateAPIKey(ctx, "ci", types.RoleOperator)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindForbidden))

	_, err = h.eng.SetTenantLLM(ctx, true)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindForbidden))
}

func TestCreateAPIKeyRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := identityCtx(types.RoleAdmin)

	clearKey, record, err := h.eng.CreateAPIKey(ctx, "ci-deploy", types.RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, clearKey)
	assert.NotContains(t, record.Hash, clearKey)

	// The clear key authenticates as the tenant's operator.
	id, err := auth.NewAPIKeyService(h.store).Verify(context.Background(), clearKey)
	require.NoError(t, err)
	assert.Equal(t, testTenant, id.TenantID)
	assert.Equal(t, types.RoleOperator, id.Role)

	keys, err := h.eng.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci-deploy", keys[0].Name)

	require.NoError(t, h.eng.DeleteAPIKey(ctx, record.ID))
	_, err = auth.NewAPIKeyService(h.store).Verify(context.Background(), clearKey)
	require.Error(t, err)
}

func TestSetTenantLLMToggles(t *testing.T) {
	h := newHarness(t)
	ctx := identityCtx(types.RoleAdmin)

	tenant, err := h.eng.SetTenantLLM(ctx, true)
	require.NoError(t, err)
	assert.True(t, tenant.LLMEnabled)

	tenant, err = h.eng.GetTenant(ctx)
	require.NoError(t, err)
	assert.True(t, tenant.LLMEnabled)

	tenant, err = h.eng.SetTenantLLM(ctx, false)
	require.NoError(t, err)
	assert.False(t, tenant.LLMEnabled)
}
