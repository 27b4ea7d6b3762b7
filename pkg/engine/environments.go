package engine

import (
	"context"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// UpsertEnvironment stores a named rewrite-rule set. Rules retarget
// catalog and schema references when plans are handed out for execution.
func (e *Engine) UpsertEnvironment(ctx context.Context, env *types.Environment) (*types.Environment, error) {
	id, err := e.require(ctx, auth.PermEnvManage)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Name == "" {
		return nil, errdefs.Validationf("environment name is required")
	}
	for i, rule := range env.Rules {
		if rule.TargetCatalog == "" && rule.TargetSchema == "" {
			return nil, errdefs.Validationf("rule %d has no target", i)
		}
	}
	now := e.now().UTC()
	env.TenantID = id.TenantID
	env.UpdatedAt = now
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	if err := e.store.UpsertEnvironment(ctx, env); err != nil {
		return nil, err
	}
	if err := e.record(ctx, id, "ENVIRONMENT_UPSERTED", "environment", env.Name, nil); err != nil {
		return nil, err
	}
	return env, nil
}

// GetEnvironment returns one named rewrite-rule set.
func (e *Engine) GetEnvironment(ctx context.Context, name string) (*types.Environment, error) {
	id, err := e.require(ctx, auth.PermModelRead)
	if err != nil {
		return nil, err
	}
	return e.store.GetEnvironment(ctx, id.TenantID, name)
}

// ListEnvironments returns the tenant's environments.
func (e *Engine) ListEnvironments(ctx context.Context) ([]*types.Environment, error) {
	id, err := e.require(ctx, auth.PermModelRead)
	if err != nil {
		return nil, err
	}
	return e.store.ListEnvironments(ctx, id.TenantID)
}

// DeleteEnvironment removes a named rewrite-rule set.
func (e *Engine) DeleteEnvironment(ctx context.Context, name string) error {
	id, err := e.require(ctx, auth.PermEnvManage)
	if err != nil {
		return err
	}
	if err := e.store.DeleteEnvironment(ctx, id.TenantID, name); err != nil {
		return err
	}
	return e.record(ctx, id, "ENVIRONMENT_DELETED", "environment", name, nil)
}
