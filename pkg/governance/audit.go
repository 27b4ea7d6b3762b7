package governance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// GenesisHash is the zero predecessor for the first entry of each tenant's
// chain.
var GenesisHash = strings.Repeat("0", 64)

// AuditStore is the persistence slice the recorder needs. AppendAudit must
// reject an entry whose (tenant_id, sequence) already exists with a
// conflict or integrity kind so the recorder can retry against the new tip.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry types.AuditEntry) error
	LatestAudit(ctx context.Context, tenantID string) (*types.AuditEntry, error)
	ListAudit(ctx context.Context, tenantID string, limit, offset int) ([]types.AuditEntry, error)
}

// EntryHash derives the chain hash for an entry:
// sha256(previous_hash || canonical_bytes) where canonical bytes are the
// entry's JSON with both hash fields zeroed. JSON field order follows the
// struct declaration, so the encoding is stable.
func EntryHash(previousHash string, entry types.AuditEntry) (string, error) {
	entry.PreviousHash = ""
	entry.EntryHash = ""
	canonical, err := json.Marshal(entry)
	if err != nil {
		return "", errdefs.Unexpectedf("encoding audit entry: %v", err)
	}
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Recorder appends hash-chained audit entries. Writes take the tenant's
// chain tip, derive the next hash, and insert; when a concurrent writer
// wins the race the insert fails and the recorder re-reads the tip and
// retries exactly once.
type Recorder struct {
	store AuditStore
	now   func() time.Time
}

// NewRecorder wires the recorder to its store.
func NewRecorder(store AuditStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record appends one entry to the tenant's chain and returns it.
func (r *Recorder) Record(ctx context.Context, tenantID, actor, action, entityType, entityID string, metadata map[string]string) (*types.AuditEntry, error) {
	if tenantID == "" || actor == "" || action == "" {
		return nil, errdefs.Validationf("tenant, actor and action are required")
	}

	entry, err := r.append(ctx, tenantID, actor, action, entityType, entityID, metadata)
	if err != nil && retryableAuditKind(errdefs.KindOf(err)) {
		tenantLog := log.WithTenant(tenantID)
		tenantLog.Debug().Str("action", action).Msg("audit tip race lost, retrying once")
		entry, err = r.append(ctx, tenantID, actor, action, entityType, entityID, metadata)
	}
	if err != nil {
		return nil, err
	}
	metrics.AuditEntriesTotal.Inc()
	return entry, nil
}

func (r *Recorder) append(ctx context.Context, tenantID, actor, action, entityType, entityID string, metadata map[string]string) (*types.AuditEntry, error) {
	tip, err := r.store.LatestAudit(ctx, tenantID)
	if err != nil && !errdefs.IsKind(err, errdefs.KindNotFound) {
		return nil, err
	}

	prevHash := GenesisHash
	var sequence int64 = 1
	if tip != nil {
		prevHash = tip.EntryHash
		sequence = tip.Sequence + 1
	}

	entry := types.AuditEntry{
		Sequence:     sequence,
		TenantID:     tenantID,
		Actor:        actor,
		Action:       action,
		EntityType:   entityType,
		EntityID:     entityID,
		Metadata:     metadata,
		PreviousHash: prevHash,
		CreatedAt:    r.now().UTC(),
	}
	entry.EntryHash, err = EntryHash(prevHash, entry)
	if err != nil {
		return nil, err
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func retryableAuditKind(kind errdefs.Kind) bool {
	return kind == errdefs.KindConflict || kind == errdefs.KindIntegrity
}

// VerifyResult reports a chain verification pass.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	FirstMismatch  int    `json:"first_mismatch,omitempty"` // sequence only meaningful when !Valid
	Reason         string `json:"reason,omitempty"`
}

// VerifyChain re-derives every hash in order and reports the first entry
// that breaks the chain. Entries must be in ascending sequence order.
func VerifyChain(entries []types.AuditEntry) VerifyResult {
	prevHash := GenesisHash
	var prevSeq int64
	for i, entry := range entries {
		if entry.Sequence != prevSeq+1 {
			return VerifyResult{
				EntriesChecked: i + 1,
				FirstMismatch:  i,
				Reason:         "sequence gap",
			}
		}
		if entry.PreviousHash != prevHash {
			return VerifyResult{
				EntriesChecked: i + 1,
				FirstMismatch:  i,
				Reason:         "previous hash mismatch",
			}
		}
		want, err := EntryHash(prevHash, entry)
		if err != nil || entry.EntryHash != want {
			return VerifyResult{
				EntriesChecked: i + 1,
				FirstMismatch:  i,
				Reason:         "entry hash mismatch",
			}
		}
		prevHash = entry.EntryHash
		prevSeq = entry.Sequence
	}
	return VerifyResult{Valid: true, EntriesChecked: len(entries)}
}
