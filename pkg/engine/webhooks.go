package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
	"golang.org/x/crypto/bcrypt"
)

// CreateWebhook registers an event delivery endpoint. The URL must pass
// the SSRF policy; the signing secret is stored as a bcrypt digest plus a
// sealed copy the dispatcher opens at delivery time.
func (e *Engine) CreateWebhook(ctx context.Context, url string, eventTypes []string, secret string) (*types.WebhookSubscription, error) {
	id, err := e.require(ctx, auth.PermWebhookManage)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, errdefs.Validationf("a signing secret is required")
	}
	if err := e.urlPolicy.Validate(ctx, url); err != nil {
		return nil, err
	}
	if e.box == nil {
		return nil, errdefs.Validationf("secret sealing is not configured")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	sealed, err := e.box.Seal([]byte(secret))
	if err != nil {
		return nil, err
	}
	hook := &types.WebhookSubscription{
		ID:              uuid.NewString(),
		TenantID:        id.TenantID,
		URL:             url,
		EventTypes:      eventTypes,
		SecretHash:      string(digest),
		EncryptedSecret: sealed,
		Active:          true,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.store.CreateWebhook(ctx, hook); err != nil {
		return nil, err
	}
	if err := e.record(ctx, id, "WEBHOOK_CREATED", "webhook", hook.ID, map[string]string{"url": url}); err != nil {
		return nil, err
	}
	return hook, nil
}

// ListWebhooks returns the tenant's delivery endpoints.
func (e *Engine) ListWebhooks(ctx context.Context) ([]*types.WebhookSubscription, error) {
	id, err := e.require(ctx, auth.PermWebhookManage)
	if err != nil {
		return nil, err
	}
	return e.store.ListWebhooks(ctx, id.TenantID)
}

// DeleteWebhook removes a delivery endpoint.
func (e *Engine) DeleteWebhook(ctx context.Context, hookID string) error {
	id, err := e.require(ctx, auth.PermWebhookManage)
	if err != nil {
		return err
	}
	if err := e.store.DeleteWebhook(ctx, id.TenantID, hookID); err != nil {
		return err
	}
	return e.record(ctx, id, "WEBHOOK_DELETED", "webhook", hookID, nil)
}
