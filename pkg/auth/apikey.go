package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/types"
)

const (
	apiKeyScheme     = "ilk"
	apiKeyPrefixLen  = 8  // hex chars, stored in clear for lookup
	apiKeySecretLen  = 32 // hex chars, only the bcrypt digest is stored
	apiKeyBcryptCost = bcrypt.DefaultCost
)

// APIKeyStore is the slice of persistence the key path needs.
type APIKeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*types.APIKey, error)
	TouchAPIKey(ctx context.Context, tenantID, keyID string, usedAt time.Time) error
}

// APIKeyService mints and verifies long-lived keys for service principals.
type APIKeyService struct {
	store APIKeyStore
	now   func() time.Time
}

// NewAPIKeyService wires the key path to its store.
func NewAPIKeyService(store APIKeyStore) *APIKeyService {
	return &APIKeyService{store: store, now: time.Now}
}

// GenerateAPIKey mints a key of the form ilk_<prefix>_<secret>. The clear
// key is returned exactly once; the record carries only prefix and bcrypt
// digest.
func GenerateAPIKey(tenantID, name string, role types.Role, now time.Time) (string, *types.APIKey, error) {
	if tenantID == "" || name == "" {
		return "", nil, errdefs.Validationf("tenant and key name are required")
	}
	if role == "" {
		role = types.RoleViewer
	}

	prefix, err := randomHex(apiKeyPrefixLen)
	if err != nil {
		return "", nil, errdefs.Unexpectedf("generating key prefix: %v", err)
	}
	secret, err := randomHex(apiKeySecretLen)
	if err != nil {
		return "", nil, errdefs.Unexpectedf("generating key secret: %v", err)
	}

	clear := fmt.Sprintf("%s_%s_%s", apiKeyScheme, prefix, secret)
	digest, err := bcrypt.GenerateFromPassword([]byte(clear), apiKeyBcryptCost)
	if err != nil {
		return "", nil, errdefs.Unexpectedf("hashing key: %v", err)
	}

	record := &types.APIKey{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Prefix:    prefix,
		Hash:      string(digest),
		Role:      role,
		CreatedAt: now.UTC(),
	}
	return clear, record, nil
}

// Verify resolves an ilk_ key to its service identity. Lookup is by clear
// prefix; the secret half is only ever checked against the bcrypt digest.
func (s *APIKeyService) Verify(ctx context.Context, clear string) (*Identity, error) {
	prefix, err := splitAPIKey(clear)
	if err != nil {
		return nil, err
	}
	record, err := s.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		if errdefs.IsKind(err, errdefs.KindNotFound) {
			return nil, errdefs.Unauthorizedf("unknown API key")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(record.Hash), []byte(clear)) != nil {
		return nil, errdefs.Unauthorizedf("unknown API key")
	}
	if err := s.store.TouchAPIKey(ctx, record.TenantID, record.ID, s.now().UTC()); err != nil {
		// last-used is advisory; a failed touch must not fail auth
		authLog := log.WithComponent("auth")
		authLog.Warn().Err(err).Msg("failed to record API key use")
	}
	return &Identity{
		Subject:  record.ID,
		TenantID: record.TenantID,
		Kind:     types.IdentityService,
		Role:     record.Role,
	}, nil
}

// splitAPIKey validates the key shape and extracts the lookup prefix.
func splitAPIKey(clear string) (string, error) {
	parts := strings.Split(clear, "_")
	if len(parts) != 3 || parts[0] != apiKeyScheme ||
		len(parts[1]) != apiKeyPrefixLen || len(parts[2]) != apiKeySecretLen {
		return "", errdefs.Unauthorizedf("malformed API key")
	}
	return parts[1], nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}
