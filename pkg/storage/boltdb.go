package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

var (
	bucketTenants       = []byte("tenants")
	bucketUsers         = []byte("users")
	bucketAPIKeys       = []byte("api_keys")
	bucketRevocations   = []byte("token_revocations")
	bucketModels        = []byte("models")
	bucketModelVersions = []byte("model_versions")
	bucketPlans         = []byte("plans")
	bucketApprovals     = []byte("approvals")
	bucketRuns          = []byte("runs")
	bucketTelemetry     = []byte("telemetry")
	bucketTelemetryAggs = []byte("telemetry_aggregates")
	bucketAudit         = []byte("audit_log")
	bucketUsage         = []byte("usage_events")
	bucketSubscriptions = []byte("subscriptions")
	bucketWebhooks      = []byte("webhook_subscriptions")
	bucketSchedules     = []byte("schedules")
	bucketEnvironments  = []byte("environments")
)

// keyTimeFormat is fixed width so encoded timestamps sort lexicographically.
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z"

// BoltStore is the single-binary local backend: one bbolt file, JSON
// values, composite tenant/<id> keys. Tenant isolation is purely key
// discipline here; postgres adds row-level security on top.
type BoltStore struct {
	db *bolt.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBoltStore opens (creating if needed) the bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTenants, bucketUsers, bucketAPIKeys, bucketRevocations,
			bucketModels, bucketModelVersions, bucketPlans, bucketApprovals,
			bucketRuns, bucketTelemetry, bucketTelemetryAggs, bucketAudit,
			bucketUsage, bucketSubscriptions, bucketWebhooks, bucketSchedules,
			bucketEnvironments,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error { return s.db.Close() }

// Ping verifies the file handle is still usable.
func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// WithTenantLock serializes fn per tenant with an in-process mutex.
func (s *BoltStore) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	lock, ok := s.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[tenantID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

func compositeKey(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

func putJSON(tx *bolt.Tx, bucket []byte, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errdefs.Unexpectedf("encoding %s record: %v", bucket, err)
	}
	return tx.Bucket(bucket).Put(key, data)
}

// scanPrefix visits every key under prefix in lexicographic order.
func scanPrefix(tx *bolt.Tx, bucket []byte, prefix []byte, fn func(k, v []byte) error) error {
	c := tx.Bucket(bucket).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// --- Tenants ---

func (s *BoltStore) CreateTenant(_ context.Context, tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(tenant.ID)
		if tx.Bucket(bucketTenants).Get(key) != nil {
			return errdefs.Conflictf("tenant %s already exists", tenant.ID)
		}
		return putJSON(tx, bucketTenants, key, tenant)
	})
}

func (s *BoltStore) GetTenant(_ context.Context, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTenants).Get([]byte(id))
		if data == nil {
			return errdefs.NotFoundf("tenant %s not found", id)
		}
		return json.Unmarshal(data, &tenant)
	})
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *BoltStore) ListTenants(_ context.Context) ([]*types.Tenant, error) {
	var tenants []*types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenants).ForEach(func(_, v []byte) error {
			var tenant types.Tenant
			if err := json.Unmarshal(v, &tenant); err != nil {
				return err
			}
			tenants = append(tenants, &tenant)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants, nil
}

func (s *BoltStore) UpdateTenant(_ context.Context, tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(tenant.ID)
		if tx.Bucket(bucketTenants).Get(key) == nil {
			return errdefs.NotFoundf("tenant %s not found", tenant.ID)
		}
		return putJSON(tx, bucketTenants, key, tenant)
	})
}

// --- Users ---

func (s *BoltStore) CreateUser(_ context.Context, user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(user.TenantID, user.ID)
		if tx.Bucket(bucketUsers).Get(key) != nil {
			return errdefs.Conflictf("user %s already exists", user.ID)
		}
		var emailTaken bool
		err := scanPrefix(tx, bucketUsers, compositeKey(user.TenantID, ""), func(_, v []byte) error {
			var existing types.User
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if strings.EqualFold(existing.Email, user.Email) {
				emailTaken = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if emailTaken {
			return errdefs.Conflictf("email %s already registered", user.Email)
		}
		return putJSON(tx, bucketUsers, key, user)
	})
}

func (s *BoltStore) GetUser(_ context.Context, tenantID, id string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get(compositeKey(tenantID, id))
		if data == nil {
			return errdefs.NotFoundf("user %s not found", id)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByEmail(_ context.Context, tenantID, email string) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketUsers, compositeKey(tenantID, ""), func(_, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if strings.EqualFold(user.Email, email) {
				found = &user
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFoundf("user with email %s not found", email)
	}
	return found, nil
}

func (s *BoltStore) ListUsers(_ context.Context, tenantID string) ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketUsers, compositeKey(tenantID, ""), func(_, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *BoltStore) UpdateUser(_ context.Context, user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(user.TenantID, user.ID)
		if tx.Bucket(bucketUsers).Get(key) == nil {
			return errdefs.NotFoundf("user %s not found", user.ID)
		}
		return putJSON(tx, bucketUsers, key, user)
	})
}

func (s *BoltStore) DeleteUser(_ context.Context, tenantID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(tenantID, id)
		if tx.Bucket(bucketUsers).Get(key) == nil {
			return errdefs.NotFoundf("user %s not found", id)
		}
		return tx.Bucket(bucketUsers).Delete(key)
	})
}

func (s *BoltStore) CountUsers(_ context.Context, tenantID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketUsers, compositeKey(tenantID, ""), func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// --- API keys ---

func (s *BoltStore) CreateAPIKey(_ context.Context, key *types.APIKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		k := []byte(key.Prefix)
		if tx.Bucket(bucketAPIKeys).Get(k) != nil {
			return errdefs.Conflictf("api key prefix %s already exists", key.Prefix)
		}
		return putJSON(tx, bucketAPIKeys, k, key)
	})
}

func (s *BoltStore) GetAPIKeyByPrefix(_ context.Context, prefix string) (*types.APIKey, error) {
	var key types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAPIKeys).Get([]byte(prefix))
		if data == nil {
			return errdefs.NotFoundf("api key with prefix %s not found", prefix)
		}
		return json.Unmarshal(data, &key)
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *BoltStore) ListAPIKeys(_ context.Context, tenantID string) ([]*types.APIKey, error) {
	var keys []*types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).ForEach(func(_, v []byte) error {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			if key.TenantID == tenantID {
				keys = append(keys, &key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

func (s *BoltStore) TouchAPIKey(_ context.Context, tenantID, keyID string, usedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketAPIKeys)
		var match *types.APIKey
		var matchKey []byte
		err := bucket.ForEach(func(k, v []byte) error {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			if key.TenantID == tenantID && key.ID == keyID {
				match = &key
				matchKey = append([]byte(nil), k...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if match == nil {
			return errdefs.NotFoundf("api key %s not found", keyID)
		}
		match.LastUsed = usedAt
		return putJSON(tx, bucketAPIKeys, matchKey, match)
	})
}

func (s *BoltStore) DeleteAPIKey(_ context.Context, tenantID, keyID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketAPIKeys)
		var matchKey []byte
		err := bucket.ForEach(func(k, v []byte) error {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			if key.TenantID == tenantID && key.ID == keyID {
				matchKey = append([]byte(nil), k...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if matchKey == nil {
			return errdefs.NotFoundf("api key %s not found", keyID)
		}
		return bucket.Delete(matchKey)
	})
}

// --- Token revocations ---

func (s *BoltStore) InsertRevocation(_ context.Context, rev types.TokenRevocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketRevocations, compositeKey(rev.TenantID, rev.JTI), rev)
	})
}

func (s *BoltStore) IsRevoked(_ context.Context, tenantID, jti string) (bool, error) {
	revoked := false
	err := s.db.View(func(tx *bolt.Tx) error {
		revoked = tx.Bucket(bucketRevocations).Get(compositeKey(tenantID, jti)) != nil
		return nil
	})
	return revoked, err
}

func (s *BoltStore) DeleteExpiredRevocations(_ context.Context, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRevocations)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var rev types.TokenRevocation
			if err := json.Unmarshal(v, &rev); err != nil {
				return err
			}
			if rev.ExpiresAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// --- Models ---

func (s *BoltStore) UpsertModel(_ context.Context, tenantID string, model *types.ModelDefinition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketModels, compositeKey(tenantID, model.Name), model)
	})
}

func (s *BoltStore) GetModel(_ context.Context, tenantID, name string) (*types.ModelDefinition, error) {
	var model types.ModelDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketModels).Get(compositeKey(tenantID, name))
		if data == nil {
			return errdefs.NotFoundf("model %s not found", name)
		}
		return json.Unmarshal(data, &model)
	})
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (s *BoltStore) ListModels(_ context.Context, tenantID string) ([]*types.ModelDefinition, error) {
	var models []*types.ModelDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketModels, compositeKey(tenantID, ""), func(_, v []byte) error {
			var model types.ModelDefinition
			if err := json.Unmarshal(v, &model); err != nil {
				return err
			}
			models = append(models, &model)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// SearchModels matches the term case-insensitively against model names.
func (s *BoltStore) SearchModels(ctx context.Context, tenantID, term string) ([]*types.ModelDefinition, error) {
	models, err := s.ListModels(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	matched := models[:0]
	for _, model := range models {
		if strings.Contains(strings.ToLower(model.Name), needle) {
			matched = append(matched, model)
		}
	}
	return matched, nil
}

func (s *BoltStore) DeleteModel(_ context.Context, tenantID, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(tenantID, name)
		if tx.Bucket(bucketModels).Get(key) == nil {
			return errdefs.NotFoundf("model %s not found", name)
		}
		return tx.Bucket(bucketModels).Delete(key)
	})
}

func (s *BoltStore) SaveModelVersions(_ context.Context, tenantID, revision string, models []*types.ModelDefinition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, model := range models {
			key := compositeKey(tenantID, revision, model.Name)
			if err := putJSON(tx, bucketModelVersions, key, model); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetModelVersions(_ context.Context, tenantID, revision string) ([]*types.ModelDefinition, error) {
	var models []*types.ModelDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketModelVersions, compositeKey(tenantID, revision, ""), func(_, v []byte) error {
			var model types.ModelDefinition
			if err := json.Unmarshal(v, &model); err != nil {
				return err
			}
			models = append(models, &model)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// --- Plans and approvals ---

func (s *BoltStore) CreatePlan(_ context.Context, plan *types.Plan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(plan.TenantID, plan.PlanID)
		if tx.Bucket(bucketPlans).Get(key) != nil {
			return errdefs.Conflictf("plan %s already exists", plan.PlanID)
		}
		return putJSON(tx, bucketPlans, key, plan)
	})
}

func (s *BoltStore) GetPlan(_ context.Context, tenantID, planID string) (*types.Plan, error) {
	var plan types.Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPlans).Get(compositeKey(tenantID, planID))
		if data == nil {
			return errdefs.NotFoundf("plan %s not found", planID)
		}
		return json.Unmarshal(data, &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *BoltStore) ListPlans(_ context.Context, tenantID string, filter PlanFilter) ([]*types.Plan, error) {
	var plans []*types.Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketPlans, compositeKey(tenantID, ""), func(_, v []byte) error {
			var plan types.Plan
			if err := json.Unmarshal(v, &plan); err != nil {
				return err
			}
			if filter.State != "" && plan.State != filter.State {
				return nil
			}
			plans = append(plans, &plan)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.After(plans[j].CreatedAt) })
	return paginate(plans, filter.Offset, filter.Limit), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *BoltStore) UpdatePlanState(_ context.Context, tenantID, planID string, state types.PlanState, updatedAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(tenantID, planID)
		data := tx.Bucket(bucketPlans).Get(key)
		if data == nil {
			return errdefs.NotFoundf("plan %s not found", planID)
		}
		var plan types.Plan
		if err := json.Unmarshal(data, &plan); err != nil {
			return err
		}
		plan.State = state
		plan.UpdatedAt = updatedAt
		return putJSON(tx, bucketPlans, key, &plan)
	})
}

func (s *BoltStore) AddApproval(_ context.Context, approval *types.Approval) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketApprovals)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := compositeKey(approval.TenantID, approval.PlanID, fmt.Sprintf("%020d", seq))
		return putJSON(tx, bucketApprovals, key, approval)
	})
}

func (s *BoltStore) ListApprovals(_ context.Context, tenantID, planID string) ([]types.Approval, error) {
	var approvals []types.Approval
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketApprovals, compositeKey(tenantID, planID, ""), func(_, v []byte) error {
			var approval types.Approval
			if err := json.Unmarshal(v, &approval); err != nil {
				return err
			}
			approvals = append(approvals, approval)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

// --- Runs and telemetry ---

func (s *BoltStore) CreateRun(_ context.Context, run *types.RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(run.TenantID, run.RunID)
		if tx.Bucket(bucketRuns).Get(key) != nil {
			return errdefs.Conflictf("run %s already exists", run.RunID)
		}
		return putJSON(tx, bucketRuns, key, run)
	})
}

func (s *BoltStore) UpdateRun(_ context.Context, run *types.RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(run.TenantID, run.RunID)
		if tx.Bucket(bucketRuns).Get(key) == nil {
			return errdefs.NotFoundf("run %s not found", run.RunID)
		}
		return putJSON(tx, bucketRuns, key, run)
	})
}

func (s *BoltStore) GetRun(_ context.Context, tenantID, runID string) (*types.RunRecord, error) {
	var run types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get(compositeKey(tenantID, runID))
		if data == nil {
			return errdefs.NotFoundf("run %s not found", runID)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) ListRunsByPlan(_ context.Context, tenantID, planID string) ([]*types.RunRecord, error) {
	var runs []*types.RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketRuns, compositeKey(tenantID, ""), func(_, v []byte) error {
			var run types.RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if run.PlanID == planID {
				runs = append(runs, &run)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, nil
}

func (s *BoltStore) InsertTelemetry(_ context.Context, rows []types.TelemetryRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, row := range rows {
			key := compositeKey(row.TenantID, row.Model,
				row.RecordedAt.UTC().Format(keyTimeFormat), row.RunID)
			if err := putJSON(tx, bucketTelemetry, key, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListTelemetry(_ context.Context, tenantID, model string, since time.Time, limit int) ([]types.TelemetryRow, error) {
	var rows []types.TelemetryRow
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketTelemetry, compositeKey(tenantID, model, ""), func(_, v []byte) error {
			var row types.TelemetryRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.RecordedAt.Before(since) {
				return nil
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// key order is oldest first; trim from the front to keep the newest
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows, nil
}

func (s *BoltStore) ListTelemetryBetween(_ context.Context, tenantID string, since, until time.Time) ([]types.TelemetryRow, error) {
	var rows []types.TelemetryRow
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketTelemetry, compositeKey(tenantID, ""), func(_, v []byte) error {
			var row types.TelemetryRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.RecordedAt.Before(since) || row.RecordedAt.After(until) {
				return nil
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *BoltStore) PruneTelemetry(_ context.Context, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTelemetry)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var row types.TelemetryRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.RecordedAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// --- Telemetry aggregates ---

func aggregateKey(agg types.TelemetryAggregate) []byte {
	return compositeKey(agg.TenantID, string(agg.Granularity),
		agg.BucketStart.UTC().Format(keyTimeFormat), agg.Model)
}

func (s *BoltStore) UpsertTelemetryAggregates(_ context.Context, aggs []types.TelemetryAggregate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, agg := range aggs {
			if err := putJSON(tx, bucketTelemetryAggs, aggregateKey(agg), agg); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListTelemetryAggregates(_ context.Context, tenantID, model string, granularity types.AggregateGranularity, since time.Time) ([]types.TelemetryAggregate, error) {
	var aggs []types.TelemetryAggregate
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := compositeKey(tenantID, string(granularity), "")
		return scanPrefix(tx, bucketTelemetryAggs, prefix, func(_, v []byte) error {
			var agg types.TelemetryAggregate
			if err := json.Unmarshal(v, &agg); err != nil {
				return err
			}
			if agg.BucketStart.Before(since) {
				return nil
			}
			if model != "" && agg.Model != model {
				return nil
			}
			aggs = append(aggs, agg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return aggs, nil
}

func (s *BoltStore) PruneTelemetryAggregates(_ context.Context, granularity types.AggregateGranularity, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTelemetryAggs)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var agg types.TelemetryAggregate
			if err := json.Unmarshal(v, &agg); err != nil {
				return err
			}
			if agg.Granularity == granularity && agg.BucketStart.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// --- Audit chain ---

func (s *BoltStore) AppendAudit(_ context.Context, entry types.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(entry.TenantID, fmt.Sprintf("%020d", entry.Sequence))
		if tx.Bucket(bucketAudit).Get(key) != nil {
			return errdefs.Integrityf("audit sequence %d already written for tenant %s", entry.Sequence, entry.TenantID)
		}
		return putJSON(tx, bucketAudit, key, entry)
	})
}

func (s *BoltStore) LatestAudit(_ context.Context, tenantID string) (*types.AuditEntry, error) {
	var tip *types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketAudit, compositeKey(tenantID, ""), func(_, v []byte) error {
			var entry types.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			tip = &entry
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return nil, errdefs.NotFoundf("no audit entries for tenant %s", tenantID)
	}
	return tip, nil
}

func (s *BoltStore) ListAudit(_ context.Context, tenantID string, limit, offset int) ([]types.AuditEntry, error) {
	var entries []types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketAudit, compositeKey(tenantID, ""), func(_, v []byte) error {
			var entry types.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return paginate(entries, offset, limit), nil
}

// --- Usage events ---

func (s *BoltStore) InsertUsage(_ context.Context, events []types.UsageEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, event := range events {
			key := compositeKey(event.TenantID,
				event.CreatedAt.UTC().Format(keyTimeFormat), event.EventID)
			if err := putJSON(tx, bucketUsage, key, event); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) UsageTotals(_ context.Context, tenantID string, eventType types.UsageEventType, since, until time.Time) (int, float64, error) {
	count := 0
	quantity := 0.0
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketUsage, compositeKey(tenantID, ""), func(_, v []byte) error {
			var event types.UsageEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			if event.EventType != eventType {
				return nil
			}
			if event.CreatedAt.Before(since) || event.CreatedAt.After(until) {
				return nil
			}
			count++
			quantity += event.Quantity
			return nil
		})
	})
	return count, quantity, err
}

func (s *BoltStore) ListUsage(_ context.Context, tenantID string, since, until time.Time) ([]types.UsageEvent, error) {
	var events []types.UsageEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketUsage, compositeKey(tenantID, ""), func(_, v []byte) error {
			var event types.UsageEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			if event.CreatedAt.Before(since) || event.CreatedAt.After(until) {
				return nil
			}
			events = append(events, event)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *BoltStore) PruneUsage(_ context.Context, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketUsage)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var event types.UsageEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			if event.CreatedAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// --- Subscriptions ---

func (s *BoltStore) UpsertSubscription(_ context.Context, sub *types.Subscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketSubscriptions, []byte(sub.TenantID), sub)
	})
}

func (s *BoltStore) GetSubscription(_ context.Context, tenantID string) (*types.Subscription, error) {
	var sub types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSubscriptions).Get([]byte(tenantID))
		if data == nil {
			return errdefs.NotFoundf("subscription for tenant %s not found", tenantID)
		}
		return json.Unmarshal(data, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// --- Webhook subscriptions ---

func (s *BoltStore) CreateWebhook(_ context.Context, hook *types.WebhookSubscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(hook.TenantID, hook.ID)
		if tx.Bucket(bucketWebhooks).Get(key) != nil {
			return errdefs.Conflictf("webhook %s already exists", hook.ID)
		}
		return putJSON(tx, bucketWebhooks, key, hook)
	})
}

func (s *BoltStore) GetWebhook(_ context.Context, tenantID, id string) (*types.WebhookSubscription, error) {
	var hook types.WebhookSubscription
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWebhooks).Get(compositeKey(tenantID, id))
		if data == nil {
			return errdefs.NotFoundf("webhook %s not found", id)
		}
		return json.Unmarshal(data, &hook)
	})
	if err != nil {
		return nil, err
	}
	return &hook, nil
}

func (s *BoltStore) ListWebhooks(_ context.Context, tenantID string) ([]*types.WebhookSubscription, error) {
	var hooks []*types.WebhookSubscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketWebhooks, compositeKey(tenantID, ""), func(_, v []byte) error {
			var hook types.WebhookSubscription
			if err := json.Unmarshal(v, &hook); err != nil {
				return err
			}
			hooks = append(hooks, &hook)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return hooks, nil
}

func (s *BoltStore) UpdateWebhook(_ context.Context, hook *types.WebhookSubscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(hook.TenantID, hook.ID)
		if tx.Bucket(bucketWebhooks).Get(key) == nil {
			return errdefs.NotFoundf("webhook %s not found", hook.ID)
		}
		return putJSON(tx, bucketWebhooks, key, hook)
	})
}

func (s *BoltStore) DeleteWebhook(_ context.Context, tenantID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(tenantID, id)
		if tx.Bucket(bucketWebhooks).Get(key) == nil {
			return errdefs.NotFoundf("webhook %s not found", id)
		}
		return tx.Bucket(bucketWebhooks).Delete(key)
	})
}

// --- Schedules ---

func (s *BoltStore) CreateSchedule(_ context.Context, schedule *types.Schedule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(schedule.TenantID, schedule.ID)
		if tx.Bucket(bucketSchedules).Get(key) != nil {
			return errdefs.Conflictf("schedule %s already exists", schedule.ID)
		}
		return putJSON(tx, bucketSchedules, key, schedule)
	})
}

func (s *BoltStore) GetSchedule(_ context.Context, tenantID, id string) (*types.Schedule, error) {
	var schedule types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get(compositeKey(tenantID, id))
		if data == nil {
			return errdefs.NotFoundf("schedule %s not found", id)
		}
		return json.Unmarshal(data, &schedule)
	})
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *BoltStore) ListSchedules(_ context.Context, tenantID string) ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketSchedules, compositeKey(tenantID, ""), func(_, v []byte) error {
			var schedule types.Schedule
			if err := json.Unmarshal(v, &schedule); err != nil {
				return err
			}
			schedules = append(schedules, &schedule)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (s *BoltStore) ListDueSchedules(ctx context.Context, tenantID string, now time.Time) ([]*types.Schedule, error) {
	schedules, err := s.ListSchedules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var due []*types.Schedule
	for _, schedule := range schedules {
		if scheduleDue(schedule, now) {
			due = append(due, schedule)
		}
	}
	return due, nil
}

// scheduleDue is shared by both backends' due computations in tests;
// postgres evaluates the same predicate in SQL.
func scheduleDue(schedule *types.Schedule, now time.Time) bool {
	if !schedule.Enabled || schedule.CadenceSecs <= 0 {
		return false
	}
	if schedule.LastRunAt.IsZero() {
		return true
	}
	return !now.Before(schedule.LastRunAt.Add(time.Duration(schedule.CadenceSecs) * time.Second))
}

func (s *BoltStore) UpdateSchedule(_ context.Context, schedule *types.Schedule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(schedule.TenantID, schedule.ID)
		if tx.Bucket(bucketSchedules).Get(key) == nil {
			return errdefs.NotFoundf("schedule %s not found", schedule.ID)
		}
		return putJSON(tx, bucketSchedules, key, schedule)
	})
}

func (s *BoltStore) DeleteSchedule(_ context.Context, tenantID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(tenantID, id)
		if tx.Bucket(bucketSchedules).Get(key) == nil {
			return errdefs.NotFoundf("schedule %s not found", id)
		}
		return tx.Bucket(bucketSchedules).Delete(key)
	})
}

// --- Fleet counts ---

func (s *BoltStore) CountTenants(_ context.Context) (int, error) {
	return s.countBucket(bucketTenants)
}

func (s *BoltStore) CountModels(_ context.Context) (int, error) {
	return s.countBucket(bucketModels)
}

func (s *BoltStore) countBucket(bucket []byte) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) CountPlansByState(_ context.Context) (map[types.PlanState]int, error) {
	counts := make(map[types.PlanState]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).ForEach(func(_, v []byte) error {
			var plan types.Plan
			if err := json.Unmarshal(v, &plan); err != nil {
				return err
			}
			counts[plan.State]++
			return nil
		})
	})
	return counts, err
}

func (s *BoltStore) CountRunsByStatus(_ context.Context) (map[types.RunStatus]int, error) {
	counts := make(map[types.RunStatus]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run types.RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			counts[run.Status]++
			return nil
		})
	})
	return counts, err
}

// --- Environments ---

func (s *BoltStore) UpsertEnvironment(_ context.Context, env *types.Environment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketEnvironments, compositeKey(env.TenantID, env.Name), env)
	})
}

func (s *BoltStore) GetEnvironment(_ context.Context, tenantID, name string) (*types.Environment, error) {
	var env types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEnvironments).Get(compositeKey(tenantID, name))
		if data == nil {
			return errdefs.NotFoundf("environment %s not found", name)
		}
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *BoltStore) ListEnvironments(_ context.Context, tenantID string) ([]*types.Environment, error) {
	var envs []*types.Environment
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx, bucketEnvironments, compositeKey(tenantID, ""), func(_, v []byte) error {
			var env types.Environment
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			envs = append(envs, &env)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return envs, nil
}

func (s *BoltStore) DeleteEnvironment(_ context.Context, tenantID, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := compositeKey(tenantID, name)
		if tx.Bucket(bucketEnvironments).Get(key) == nil {
			return errdefs.NotFoundf("environment %s not found", name)
		}
		return tx.Bucket(bucketEnvironments).Delete(key)
	})
}
