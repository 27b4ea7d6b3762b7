package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// PostgresStore is the shared multi-tenant backend. Every domain query
// runs inside a transaction that sets ironlayer.tenant_id, so row-level
// security policies fence tenants even if a query forgets its WHERE
// clause. Identity tables (tenants, users, api_keys, token_revocations)
// are read before a tenant is established and are not policy-guarded;
// those queries carry explicit tenant predicates instead.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given DSN and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports connection health.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// tenantTx runs fn inside a transaction whose session variable scopes
// row-level security to tenantID. set_config(..., true) is transaction
// local, so pooled connections never leak a tenant to the next caller.
func (s *PostgresStore) tenantTx(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT set_config('ironlayer.tenant_id', $1, true)`, tenantID); err != nil {
		return fmt.Errorf("failed to set tenant context: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WithTenantLock holds a session-level advisory lock for the duration of
// fn. fn may issue further store calls; they run in their own
// transactions under the same lock.
func (s *PostgresStore) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, tenantID); err != nil {
		return fmt.Errorf("failed to acquire tenant lock: %w", err)
	}
	defer func() {
		// Unlock must run even when ctx is already cancelled, otherwise
		// the lock outlives fn on a pooled session.
		unlockCtx := context.WithoutCancel(ctx)
		_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, tenantID)
	}()

	return fn(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Tenants ---

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, llm_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		tenant.ID, tenant.Name, tenant.LLMEnabled, tenant.CreatedAt, tenant.UpdatedAt)
	if isUniqueViolation(err) {
		return errdefs.Conflictf("tenant %s already exists", tenant.ID)
	}
	return err
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, llm_enabled, created_at, updated_at FROM tenants WHERE id = $1`, id).
		Scan(&tenant.ID, &tenant.Name, &tenant.LLMEnabled, &tenant.CreatedAt, &tenant.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("tenant %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]*types.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, llm_enabled, created_at, updated_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*types.Tenant
	for rows.Next() {
		var tenant types.Tenant
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.LLMEnabled, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &tenant)
	}
	return tenants, rows.Err()
}

func (s *PostgresStore) UpdateTenant(ctx context.Context, tenant *types.Tenant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET name = $2, llm_enabled = $3, updated_at = $4 WHERE id = $1`,
		tenant.ID, tenant.Name, tenant.LLMEnabled, tenant.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("tenant %s not found", tenant.ID)
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *types.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, tenant_id, email, role, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.TenantID, user.Email, string(user.Role), user.PasswordHash,
		user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return errdefs.Conflictf("email %s already registered", user.Email)
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, tenantID, id string) (*types.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, role, password_hash, created_at, updated_at
		 FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, id),
		"user %s not found", id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, tenantID, email string) (*types.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, role, password_hash, created_at, updated_at
		 FROM users WHERE tenant_id = $1 AND lower(email) = lower($2)`, tenantID, email),
		"user with email %s not found", email)
}

func (s *PostgresStore) scanUser(row pgx.Row, notFoundFormat string, args ...any) (*types.User, error) {
	var user types.User
	var role string
	err := row.Scan(&user.ID, &user.TenantID, &user.Email, &role, &user.PasswordHash,
		&user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf(notFoundFormat, args...)
	}
	if err != nil {
		return nil, err
	}
	user.Role = types.Role(role)
	return &user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, tenantID string) ([]*types.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, email, role, password_hash, created_at, updated_at
		 FROM users WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		var user types.User
		var role string
		if err := rows.Scan(&user.ID, &user.TenantID, &user.Email, &role, &user.PasswordHash,
			&user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		user.Role = types.Role(role)
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user *types.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET email = $3, role = $4, password_hash = $5, updated_at = $6
		 WHERE tenant_id = $1 AND id = $2`,
		user.TenantID, user.ID, user.Email, string(user.Role), user.PasswordHash, user.UpdatedAt)
	if isUniqueViolation(err) {
		return errdefs.Conflictf("email %s already registered", user.Email)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("user %s not found", user.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("user %s not found", id)
	}
	return nil
}

func (s *PostgresStore) CountUsers(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}

// --- API keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *types.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (prefix, id, tenant_id, name, hash, role, created_at, last_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.Prefix, key.ID, key.TenantID, key.Name, key.Hash, string(key.Role),
		key.CreatedAt, key.LastUsed)
	if isUniqueViolation(err) {
		return errdefs.Conflictf("api key prefix %s already exists", key.Prefix)
	}
	return err
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*types.APIKey, error) {
	var key types.APIKey
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT prefix, id, tenant_id, name, hash, role, created_at, last_used
		 FROM api_keys WHERE prefix = $1`, prefix).
		Scan(&key.Prefix, &key.ID, &key.TenantID, &key.Name, &key.Hash, &role,
			&key.CreatedAt, &key.LastUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errdefs.NotFoundf("api key with prefix %s not found", prefix)
	}
	if err != nil {
		return nil, err
	}
	key.Role = types.Role(role)
	return &key, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID string) ([]*types.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT prefix, id, tenant_id, name, hash, role, created_at, last_used
		 FROM api_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*types.APIKey
	for rows.Next() {
		var key types.APIKey
		var role string
		if err := rows.Scan(&key.Prefix, &key.ID, &key.TenantID, &key.Name, &key.Hash, &role,
			&key.CreatedAt, &key.LastUsed); err != nil {
			return nil, err
		}
		key.Role = types.Role(role)
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) TouchAPIKey(ctx context.Context, tenantID, keyID string, usedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, keyID, usedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("api key %s not found", keyID)
	}
	return nil
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, tenantID, keyID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM api_keys WHERE tenant_id = $1 AND id = $2`, tenantID, keyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errdefs.NotFoundf("api key %s not found", keyID)
	}
	return nil
}

// --- Token revocations ---

func (s *PostgresStore) InsertRevocation(ctx context.Context, rev types.TokenRevocation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_revocations (tenant_id, jti, expires_at, revoked_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, jti) DO NOTHING`,
		rev.TenantID, rev.JTI, rev.ExpiresAt, rev.RevokedAt)
	return err
}

func (s *PostgresStore) IsRevoked(ctx context.Context, tenantID, jti string) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_revocations WHERE tenant_id = $1 AND jti = $2)`,
		tenantID, jti).Scan(&revoked)
	return revoked, err
}

func (s *PostgresStore) DeleteExpiredRevocations(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM token_revocations WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Models ---

func (s *PostgresStore) UpsertModel(ctx context.Context, tenantID string, model *types.ModelDefinition) error {
	definition, err := json.Marshal(model)
	if err != nil {
		return errdefs.Unexpectedf("encoding model %s: %v", model.Name, err)
	}
	return s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO models (tenant_id, name, definition, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (tenant_id, name) DO UPDATE SET definition = $3, updated_at = now()`,
			tenantID, model.Name, definition)
		return err
	})
}

func (s *PostgresStore) GetModel(ctx context.Context, tenantID, name string) (*types.ModelDefinition, error) {
	var model *types.ModelDefinition
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var definition []byte
		err := tx.QueryRow(ctx,
			`SELECT definition FROM models WHERE tenant_id = $1 AND name = $2`,
			tenantID, name).Scan(&definition)
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("model %s not found", name)
		}
		if err != nil {
			return err
		}
		model = &types.ModelDefinition{}
		return json.Unmarshal(definition, model)
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

func (s *PostgresStore) ListModels(ctx context.Context, tenantID string) ([]*types.ModelDefinition, error) {
	var models []*types.ModelDefinition
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT definition FROM models WHERE tenant_id = $1 ORDER BY name`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var definition []byte
			if err := rows.Scan(&definition); err != nil {
				return err
			}
			var model types.ModelDefinition
			if err := json.Unmarshal(definition, &model); err != nil {
				return err
			}
			models = append(models, &model)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// SearchModels matches the term case-insensitively against model names.
// The term is escaped so LIKE wildcards in user input match literally.
func (s *PostgresStore) SearchModels(ctx context.Context, tenantID, term string) ([]*types.ModelDefinition, error) {
	pattern := "%" + governance.EscapeLike(term) + "%"
	var models []*types.ModelDefinition
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT definition FROM models WHERE tenant_id = $1 AND name ILIKE $2 ESCAPE '\' ORDER BY name`,
			tenantID, pattern)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var definition []byte
			if err := rows.Scan(&definition); err != nil {
				return err
			}
			var model types.ModelDefinition
			if err := json.Unmarshal(definition, &model); err != nil {
				return err
			}
			models = append(models, &model)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

func (s *PostgresStore) DeleteModel(ctx context.Context, tenantID, name string) error {
	return s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM models WHERE tenant_id = $1 AND name = $2`, tenantID, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("model %s not found", name)
		}
		return nil
	})
}

func (s *PostgresStore) SaveModelVersions(ctx context.Context, tenantID, revision string, models []*types.ModelDefinition) error {
	return s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		for _, model := range models {
			definition, err := json.Marshal(model)
			if err != nil {
				return errdefs.Unexpectedf("encoding model %s: %v", model.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO model_versions (tenant_id, revision, name, definition)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (tenant_id, revision, name) DO NOTHING`,
				tenantID, revision, model.Name, definition); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetModelVersions(ctx context.Context, tenantID, revision string) ([]*types.ModelDefinition, error) {
	var models []*types.ModelDefinition
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT definition FROM model_versions
			 WHERE tenant_id = $1 AND revision = $2 ORDER BY name`, tenantID, revision)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var definition []byte
			if err := rows.Scan(&definition); err != nil {
				return err
			}
			var model types.ModelDefinition
			if err := json.Unmarshal(definition, &model); err != nil {
				return err
			}
			models = append(models, &model)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// --- Plans and approvals ---

func (s *PostgresStore) CreatePlan(ctx context.Context, plan *types.Plan) error {
	summary, err := json.Marshal(plan.Summary)
	if err != nil {
		return errdefs.Unexpectedf("encoding plan summary: %v", err)
	}
	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		return errdefs.Unexpectedf("encoding plan steps: %v", err)
	}
	return s.tenantTx(ctx, plan.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO plans (tenant_id, plan_id, base_revision, target_revision, summary, steps, state, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			plan.TenantID, plan.PlanID, plan.BaseRevision, plan.TargetRev,
			summary, steps, string(plan.State), plan.CreatedAt, plan.UpdatedAt)
		if isUniqueViolation(err) {
			return errdefs.Conflictf("plan %s already exists", plan.PlanID)
		}
		return err
	})
}

func (s *PostgresStore) GetPlan(ctx context.Context, tenantID, planID string) (*types.Plan, error) {
	var plan *types.Plan
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		p, err := scanPlan(tx.QueryRow(ctx,
			`SELECT tenant_id, plan_id, base_revision, target_revision, summary, steps, state, created_at, updated_at
			 FROM plans WHERE tenant_id = $1 AND plan_id = $2`, tenantID, planID))
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("plan %s not found", planID)
		}
		if err != nil {
			return err
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func scanPlan(row pgx.Row) (*types.Plan, error) {
	var plan types.Plan
	var summary, steps []byte
	var state string
	err := row.Scan(&plan.TenantID, &plan.PlanID, &plan.BaseRevision, &plan.TargetRev,
		&summary, &steps, &state, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &plan.Summary); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &plan.Steps); err != nil {
		return nil, err
	}
	plan.State = types.PlanState(state)
	return &plan, nil
}

func (s *PostgresStore) ListPlans(ctx context.Context, tenantID string, filter PlanFilter) ([]*types.Plan, error) {
	query := `SELECT tenant_id, plan_id, base_revision, target_revision, summary, steps, state, created_at, updated_at
	          FROM plans WHERE tenant_id = $1`
	args := []any{tenantID}
	if filter.State != "" {
		query += ` AND state = $2`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}

	var plans []*types.Plan
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			plan, err := scanPlan(rows)
			if err != nil {
				return err
			}
			plans = append(plans, plan)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *PostgresStore) UpdatePlanState(ctx context.Context, tenantID, planID string, state types.PlanState, updatedAt time.Time) error {
	return s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE plans SET state = $3, updated_at = $4 WHERE tenant_id = $1 AND plan_id = $2`,
			tenantID, planID, string(state), updatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("plan %s not found", planID)
		}
		return nil
	})
}

func (s *PostgresStore) AddApproval(ctx context.Context, approval *types.Approval) error {
	return s.tenantTx(ctx, approval.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO approvals (tenant_id, plan_id, actor, approved, comment, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			approval.TenantID, approval.PlanID, approval.Actor, approval.Approved,
			approval.Comment, approval.CreatedAt)
		return err
	})
}

func (s *PostgresStore) ListApprovals(ctx context.Context, tenantID, planID string) ([]types.Approval, error) {
	var approvals []types.Approval
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT tenant_id, plan_id, actor, approved, comment, created_at
			 FROM approvals WHERE tenant_id = $1 AND plan_id = $2 ORDER BY id`, tenantID, planID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var approval types.Approval
			if err := rows.Scan(&approval.TenantID, &approval.PlanID, &approval.Actor,
				&approval.Approved, &approval.Comment, &approval.CreatedAt); err != nil {
				return err
			}
			approvals = append(approvals, approval)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

// --- Runs and telemetry ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *types.RunRecord) error {
	return s.tenantTx(ctx, run.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO runs (tenant_id, run_id, plan_id, step_id, model, status, started_at, finished_at, error, cluster, retry_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			run.TenantID, run.RunID, run.PlanID, run.StepID, run.Model, string(run.Status),
			run.StartedAt, run.FinishedAt, run.Error, run.Cluster, run.RetryCount)
		if isUniqueViolation(err) {
			return errdefs.Conflictf("run %s already exists", run.RunID)
		}
		return err
	})
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *types.RunRecord) error {
	return s.tenantTx(ctx, run.TenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE runs SET status = $3, started_at = $4, finished_at = $5, error = $6, cluster = $7, retry_count = $8
			 WHERE tenant_id = $1 AND run_id = $2`,
			run.TenantID, run.RunID, string(run.Status), run.StartedAt, run.FinishedAt,
			run.Error, run.Cluster, run.RetryCount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("run %s not found", run.RunID)
		}
		return nil
	})
}

func (s *PostgresStore) GetRun(ctx context.Context, tenantID, runID string) (*types.RunRecord, error) {
	var run *types.RunRecord
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var r types.RunRecord
		var status string
		err := tx.QueryRow(ctx,
			`SELECT tenant_id, run_id, plan_id, step_id, model, status, started_at, finished_at, error, cluster, retry_count
			 FROM runs WHERE tenant_id = $1 AND run_id = $2`, tenantID, runID).
			Scan(&r.TenantID, &r.RunID, &r.PlanID, &r.StepID, &r.Model, &status,
				&r.StartedAt, &r.FinishedAt, &r.Error, &r.Cluster, &r.RetryCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("run %s not found", runID)
		}
		if err != nil {
			return err
		}
		r.Status = types.RunStatus(status)
		run = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *PostgresStore) ListRunsByPlan(ctx context.Context, tenantID, planID string) ([]*types.RunRecord, error) {
	var runs []*types.RunRecord
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT tenant_id, run_id, plan_id, step_id, model, status, started_at, finished_at, error, cluster, retry_count
			 FROM runs WHERE tenant_id = $1 AND plan_id = $2 ORDER BY started_at`, tenantID, planID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r types.RunRecord
			var status string
			if err := rows.Scan(&r.TenantID, &r.RunID, &r.PlanID, &r.StepID, &r.Model, &status,
				&r.StartedAt, &r.FinishedAt, &r.Error, &r.Cluster, &r.RetryCount); err != nil {
				return err
			}
			r.Status = types.RunStatus(status)
			runs = append(runs, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *PostgresStore) InsertTelemetry(ctx context.Context, rowsIn []types.TelemetryRow) error {
	if len(rowsIn) == 0 {
		return nil
	}
	return s.tenantTx(ctx, rowsIn[0].TenantID, func(tx pgx.Tx) error {
		for _, row := range rowsIn {
			if _, err := tx.Exec(ctx,
				`INSERT INTO telemetry (tenant_id, run_id, model, runtime_secs, shuffle_bytes, input_rows, output_rows, partitions, cluster_id, range_end, recorded_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				row.TenantID, row.RunID, row.Model, row.RuntimeSecs, row.ShuffleBytes,
				row.InputRows, row.OutputRows, row.Partitions, row.ClusterID, row.RangeEnd, row.RecordedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListTelemetry(ctx context.Context, tenantID, model string, since time.Time, limit int) ([]types.TelemetryRow, error) {
	query := `SELECT tenant_id, run_id, model, runtime_secs, shuffle_bytes, input_rows, output_rows, partitions, cluster_id, range_end, recorded_at
	          FROM telemetry WHERE tenant_id = $1 AND model = $2 AND recorded_at >= $3
	          ORDER BY recorded_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	var out []types.TelemetryRow
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, model, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row types.TelemetryRow
			if err := rows.Scan(&row.TenantID, &row.RunID, &row.Model, &row.RuntimeSecs,
				&row.ShuffleBytes, &row.InputRows, &row.OutputRows, &row.Partitions,
				&row.ClusterID, &row.RangeEnd, &row.RecordedAt); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	// callers expect oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) ListTelemetryBetween(ctx context.Context, tenantID string, since, until time.Time) ([]types.TelemetryRow, error) {
	var out []types.TelemetryRow
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT tenant_id, run_id, model, runtime_secs, shuffle_bytes, input_rows, output_rows, partitions, cluster_id, range_end, recorded_at
			 FROM telemetry
			 WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
			 ORDER BY recorded_at`, tenantID, since, until)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row types.TelemetryRow
			if err := rows.Scan(&row.TenantID, &row.RunID, &row.Model, &row.RuntimeSecs,
				&row.ShuffleBytes, &row.InputRows, &row.OutputRows, &row.Partitions,
				&row.ClusterID, &row.RangeEnd, &row.RecordedAt); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PruneTelemetry walks tenants because forced row-level security hides
// rows from any session without a tenant context.
func (s *PostgresStore) PruneTelemetry(ctx context.Context, before time.Time) (int, error) {
	return s.pruneTenantRows(ctx, `DELETE FROM telemetry WHERE tenant_id = $1 AND recorded_at < $2`, before)
}

func (s *PostgresStore) pruneTenantRows(ctx context.Context, query string, before time.Time) (int, error) {
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, tenant := range tenants {
		err := s.tenantTx(ctx, tenant.ID, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, query, tenant.ID, before)
			if err != nil {
				return err
			}
			total += int(tag.RowsAffected())
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// --- Telemetry aggregates ---

func (s *PostgresStore) UpsertTelemetryAggregates(ctx context.Context, aggs []types.TelemetryAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	return s.tenantTx(ctx, aggs[0].TenantID, func(tx pgx.Tx) error {
		for _, agg := range aggs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO telemetry_aggregates (tenant_id, model, granularity, bucket_start, run_count, avg_runtime_secs, total_shuffle_bytes, total_rows, p50_runtime_secs, p95_runtime_secs, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				 ON CONFLICT (tenant_id, model, granularity, bucket_start) DO UPDATE SET
				   run_count = $5, avg_runtime_secs = $6, total_shuffle_bytes = $7,
				   total_rows = $8, p50_runtime_secs = $9, p95_runtime_secs = $10`,
				agg.TenantID, agg.Model, string(agg.Granularity), agg.BucketStart,
				agg.RunCount, agg.AvgRuntime, agg.TotalShuffle, agg.TotalRows,
				agg.P50Runtime, agg.P95Runtime, agg.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListTelemetryAggregates(ctx context.Context, tenantID, model string, granularity types.AggregateGranularity, since time.Time) ([]types.TelemetryAggregate, error) {
	query := `SELECT tenant_id, model, granularity, bucket_start, run_count, avg_runtime_secs, total_shuffle_bytes, total_rows, p50_runtime_secs, p95_runtime_secs, created_at
	          FROM telemetry_aggregates
	          WHERE tenant_id = $1 AND granularity = $2 AND bucket_start >= $3`
	args := []any{tenantID, string(granularity), since}
	if model != "" {
		query += ` AND model = $4`
		args = append(args, model)
	}
	query += ` ORDER BY bucket_start, model`

	var aggs []types.TelemetryAggregate
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var agg types.TelemetryAggregate
			var granularity string
			if err := rows.Scan(&agg.TenantID, &agg.Model, &granularity, &agg.BucketStart,
				&agg.RunCount, &agg.AvgRuntime, &agg.TotalShuffle, &agg.TotalRows,
				&agg.P50Runtime, &agg.P95Runtime, &agg.CreatedAt); err != nil {
				return err
			}
			agg.Granularity = types.AggregateGranularity(granularity)
			aggs = append(aggs, agg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return aggs, nil
}

func (s *PostgresStore) PruneTelemetryAggregates(ctx context.Context, granularity types.AggregateGranularity, before time.Time) (int, error) {
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, tenant := range tenants {
		err := s.tenantTx(ctx, tenant.ID, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`DELETE FROM telemetry_aggregates
				 WHERE tenant_id = $1 AND granularity = $2 AND bucket_start < $3`,
				tenant.ID, string(granularity), before)
			if err != nil {
				return err
			}
			total += int(tag.RowsAffected())
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// --- Audit chain ---

func (s *PostgresStore) AppendAudit(ctx context.Context, entry types.AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return errdefs.Unexpectedf("encoding audit metadata: %v", err)
	}
	return s.tenantTx(ctx, entry.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO audit_log (tenant_id, sequence, actor, action, entity_type, entity_id, metadata, previous_hash, entry_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			entry.TenantID, entry.Sequence, entry.Actor, entry.Action, entry.EntityType,
			entry.EntityID, metadata, entry.PreviousHash, entry.EntryHash, entry.CreatedAt)
		if isUniqueViolation(err) {
			return errdefs.Integrityf("audit sequence %d already written for tenant %s", entry.Sequence, entry.TenantID)
		}
		return err
	})
}

func (s *PostgresStore) LatestAudit(ctx context.Context, tenantID string) (*types.AuditEntry, error) {
	var tip *types.AuditEntry
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		entry, err := scanAudit(tx.QueryRow(ctx,
			`SELECT tenant_id, sequence, actor, action, entity_type, entity_id, metadata, previous_hash, entry_hash, created_at
			 FROM audit_log WHERE tenant_id = $1 ORDER BY sequence DESC LIMIT 1`, tenantID))
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("no audit entries for tenant %s", tenantID)
		}
		if err != nil {
			return err
		}
		tip = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tip, nil
}

func scanAudit(row pgx.Row) (*types.AuditEntry, error) {
	var entry types.AuditEntry
	var metadata []byte
	err := row.Scan(&entry.TenantID, &entry.Sequence, &entry.Actor, &entry.Action,
		&entry.EntityType, &entry.EntityID, &metadata, &entry.PreviousHash,
		&entry.EntryHash, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, tenantID string, limit, offset int) ([]types.AuditEntry, error) {
	query := `SELECT tenant_id, sequence, actor, action, entity_type, entity_id, metadata, previous_hash, entry_hash, created_at
	          FROM audit_log WHERE tenant_id = $1 ORDER BY sequence`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, offset)
	}

	var entries []types.AuditEntry
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			entry, err := scanAudit(rows)
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// --- Usage events ---

func (s *PostgresStore) InsertUsage(ctx context.Context, events []types.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.tenantTx(ctx, events[0].TenantID, func(tx pgx.Tx) error {
		for _, event := range events {
			metadata, err := json.Marshal(event.Metadata)
			if err != nil {
				return errdefs.Unexpectedf("encoding usage metadata: %v", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO usage_events (event_id, tenant_id, event_type, quantity, metadata, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (event_id) DO NOTHING`,
				event.EventID, event.TenantID, string(event.EventType), event.Quantity,
				metadata, event.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) UsageTotals(ctx context.Context, tenantID string, eventType types.UsageEventType, since, until time.Time) (int, float64, error) {
	var count int
	var quantity float64
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT COUNT(*), COALESCE(SUM(quantity), 0)
			 FROM usage_events
			 WHERE tenant_id = $1 AND event_type = $2 AND created_at >= $3 AND created_at <= $4`,
			tenantID, string(eventType), since, until).Scan(&count, &quantity)
	})
	return count, quantity, err
}

func (s *PostgresStore) ListUsage(ctx context.Context, tenantID string, since, until time.Time) ([]types.UsageEvent, error) {
	var events []types.UsageEvent
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT event_id, tenant_id, event_type, quantity, metadata, created_at
			 FROM usage_events
			 WHERE tenant_id = $1 AND created_at >= $2 AND created_at <= $3
			 ORDER BY created_at`, tenantID, since, until)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var event types.UsageEvent
			var eventType string
			var metadata []byte
			if err := rows.Scan(&event.EventID, &event.TenantID, &eventType,
				&event.Quantity, &metadata, &event.CreatedAt); err != nil {
				return err
			}
			event.EventType = types.UsageEventType(eventType)
			if len(metadata) > 0 {
				if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
					return err
				}
			}
			events = append(events, event)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PostgresStore) PruneUsage(ctx context.Context, before time.Time) (int, error) {
	return s.pruneTenantRows(ctx, `DELETE FROM usage_events WHERE tenant_id = $1 AND created_at < $2`, before)
}

// --- Subscriptions ---

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *types.Subscription) error {
	return s.tenantTx(ctx, sub.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO subscriptions (tenant_id, tier, seats, daily_budget_usd, monthly_budget_usd, plan_run_quota, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (tenant_id) DO UPDATE SET
			   tier = $2, seats = $3, daily_budget_usd = $4, monthly_budget_usd = $5,
			   plan_run_quota = $6, updated_at = $8`,
			sub.TenantID, string(sub.Tier), sub.Seats, sub.DailyBudgetUSD,
			sub.MonthlyBudgetUSD, sub.PlanRunQuota, sub.CreatedAt, sub.UpdatedAt)
		return err
	})
}

func (s *PostgresStore) GetSubscription(ctx context.Context, tenantID string) (*types.Subscription, error) {
	var sub *types.Subscription
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var out types.Subscription
		var tier string
		err := tx.QueryRow(ctx,
			`SELECT tenant_id, tier, seats, daily_budget_usd, monthly_budget_usd, plan_run_quota, created_at, updated_at
			 FROM subscriptions WHERE tenant_id = $1`, tenantID).
			Scan(&out.TenantID, &tier, &out.Seats, &out.DailyBudgetUSD,
				&out.MonthlyBudgetUSD, &out.PlanRunQuota, &out.CreatedAt, &out.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("subscription for tenant %s not found", tenantID)
		}
		if err != nil {
			return err
		}
		out.Tier = types.PlanTier(tier)
		sub = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// --- Webhook subscriptions ---

func (s *PostgresStore) CreateWebhook(ctx context.Context, hook *types.WebhookSubscription) error {
	return s.tenantTx(ctx, hook.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO webhook_subscriptions (id, tenant_id, url, event_types, secret_hash, encrypted_secret, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			hook.ID, hook.TenantID, hook.URL, hook.EventTypes, hook.SecretHash,
			hook.EncryptedSecret, hook.Active, hook.CreatedAt)
		if isUniqueViolation(err) {
			return errdefs.Conflictf("webhook %s already exists", hook.ID)
		}
		return err
	})
}

func (s *PostgresStore) GetWebhook(ctx context.Context, tenantID, id string) (*types.WebhookSubscription, error) {
	var hook *types.WebhookSubscription
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var out types.WebhookSubscription
		err := tx.QueryRow(ctx,
			`SELECT id, tenant_id, url, event_types, secret_hash, encrypted_secret, active, created_at
			 FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&out.ID, &out.TenantID, &out.URL, &out.EventTypes, &out.SecretHash,
				&out.EncryptedSecret, &out.Active, &out.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("webhook %s not found", id)
		}
		if err != nil {
			return err
		}
		hook = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hook, nil
}

func (s *PostgresStore) ListWebhooks(ctx context.Context, tenantID string) ([]*types.WebhookSubscription, error) {
	var hooks []*types.WebhookSubscription
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id, tenant_id, url, event_types, secret_hash, encrypted_secret, active, created_at
			 FROM webhook_subscriptions WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var hook types.WebhookSubscription
			if err := rows.Scan(&hook.ID, &hook.TenantID, &hook.URL, &hook.EventTypes,
				&hook.SecretHash, &hook.EncryptedSecret, &hook.Active, &hook.CreatedAt); err != nil {
				return err
			}
			hooks = append(hooks, &hook)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return hooks, nil
}

func (s *PostgresStore) UpdateWebhook(ctx context.Context, hook *types.WebhookSubscription) error {
	return s.tenantTx(ctx, hook.TenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE webhook_subscriptions SET url = $3, event_types = $4, secret_hash = $5, encrypted_secret = $6, active = $7
			 WHERE tenant_id = $1 AND id = $2`,
			hook.TenantID, hook.ID, hook.URL, hook.EventTypes, hook.SecretHash,
			hook.EncryptedSecret, hook.Active)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("webhook %s not found", hook.ID)
		}
		return nil
	})
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, tenantID, id string) error {
	return s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("webhook %s not found", id)
		}
		return nil
	})
}

// --- Schedules ---

func (s *PostgresStore) CreateSchedule(ctx context.Context, schedule *types.Schedule) error {
	return s.tenantTx(ctx, schedule.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO schedules (id, tenant_id, name, repo_path, base_ref, target_ref, cadence_secs, enabled, last_run_at, last_plan_id, last_run_error, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			schedule.ID, schedule.TenantID, schedule.Name, schedule.RepoPath,
			schedule.BaseRef, schedule.TargetRef, schedule.CadenceSecs, schedule.Enabled,
			schedule.LastRunAt, schedule.LastPlanID, schedule.LastRunError,
			schedule.CreatedAt, schedule.UpdatedAt)
		if isUniqueViolation(err) {
			return errdefs.Conflictf("schedule %s already exists", schedule.ID)
		}
		return err
	})
}

func scanSchedule(row pgx.Row) (*types.Schedule, error) {
	var schedule types.Schedule
	err := row.Scan(&schedule.ID, &schedule.TenantID, &schedule.Name, &schedule.RepoPath,
		&schedule.BaseRef, &schedule.TargetRef, &schedule.CadenceSecs, &schedule.Enabled,
		&schedule.LastRunAt, &schedule.LastPlanID, &schedule.LastRunError,
		&schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

const scheduleColumns = `id, tenant_id, name, repo_path, base_ref, target_ref, cadence_secs, enabled, last_run_at, last_plan_id, last_run_error, created_at, updated_at`

func (s *PostgresStore) GetSchedule(ctx context.Context, tenantID, id string) (*types.Schedule, error) {
	var schedule *types.Schedule
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		sched, err := scanSchedule(tx.QueryRow(ctx,
			`SELECT `+scheduleColumns+` FROM schedules WHERE tenant_id = $1 AND id = $2`,
			tenantID, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("schedule %s not found", id)
		}
		if err != nil {
			return err
		}
		schedule = sched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (s *PostgresStore) ListSchedules(ctx context.Context, tenantID string) ([]*types.Schedule, error) {
	return s.querySchedules(ctx, tenantID,
		`SELECT `+scheduleColumns+` FROM schedules WHERE tenant_id = $1 ORDER BY id`, tenantID)
}

func (s *PostgresStore) ListDueSchedules(ctx context.Context, tenantID string, now time.Time) ([]*types.Schedule, error) {
	return s.querySchedules(ctx, tenantID,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE tenant_id = $1 AND enabled AND cadence_secs > 0
		   AND last_run_at + make_interval(secs => cadence_secs) <= $2
		 ORDER BY id`, tenantID, now)
}

func (s *PostgresStore) querySchedules(ctx context.Context, tenantID, query string, args ...any) ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			schedule, err := scanSchedule(rows)
			if err != nil {
				return err
			}
			schedules = append(schedules, schedule)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (s *PostgresStore) UpdateSchedule(ctx context.Context, schedule *types.Schedule) error {
	return s.tenantTx(ctx, schedule.TenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE schedules SET name = $3, repo_path = $4, base_ref = $5, target_ref = $6,
			   cadence_secs = $7, enabled = $8, last_run_at = $9, last_plan_id = $10,
			   last_run_error = $11, updated_at = $12
			 WHERE tenant_id = $1 AND id = $2`,
			schedule.TenantID, schedule.ID, schedule.Name, schedule.RepoPath,
			schedule.BaseRef, schedule.TargetRef, schedule.CadenceSecs, schedule.Enabled,
			schedule.LastRunAt, schedule.LastPlanID, schedule.LastRunError, schedule.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("schedule %s not found", schedule.ID)
		}
		return nil
	})
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, tenantID, id string) error {
	return s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM schedules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("schedule %s not found", id)
		}
		return nil
	})
}

// --- Fleet counts ---

func (s *PostgresStore) CountTenants(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&count)
	return count, err
}

// CountModels sums per-tenant counts; forced row-level security hides
// domain rows from sessions without a tenant context.
func (s *PostgresStore) CountModels(ctx context.Context) (int, error) {
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, tenant := range tenants {
		err := s.tenantTx(ctx, tenant.ID, func(tx pgx.Tx) error {
			var count int
			if err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM models WHERE tenant_id = $1`, tenant.ID).Scan(&count); err != nil {
				return err
			}
			total += count
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (s *PostgresStore) CountPlansByState(ctx context.Context) (map[types.PlanState]int, error) {
	counts := make(map[types.PlanState]int)
	err := s.countGrouped(ctx,
		`SELECT state, COUNT(*) FROM plans WHERE tenant_id = $1 GROUP BY state`,
		func(key string, count int) { counts[types.PlanState(key)] += count })
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *PostgresStore) CountRunsByStatus(ctx context.Context) (map[types.RunStatus]int, error) {
	counts := make(map[types.RunStatus]int)
	err := s.countGrouped(ctx,
		`SELECT status, COUNT(*) FROM runs WHERE tenant_id = $1 GROUP BY status`,
		func(key string, count int) { counts[types.RunStatus(key)] += count })
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *PostgresStore) countGrouped(ctx context.Context, query string, add func(key string, count int)) error {
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		err := s.tenantTx(ctx, tenant.ID, func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, query, tenant.ID)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var key string
				var count int
				if err := rows.Scan(&key, &count); err != nil {
					return err
				}
				add(key, count)
			}
			return rows.Err()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Environments ---

func (s *PostgresStore) UpsertEnvironment(ctx context.Context, env *types.Environment) error {
	rules, err := json.Marshal(env.Rules)
	if err != nil {
		return errdefs.Unexpectedf("encoding environment rules: %v", err)
	}
	return s.tenantTx(ctx, env.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO environments (tenant_id, name, rules, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (tenant_id, name) DO UPDATE SET rules = $3, updated_at = $5`,
			env.TenantID, env.Name, rules, env.CreatedAt, env.UpdatedAt)
		return err
	})
}

func (s *PostgresStore) GetEnvironment(ctx context.Context, tenantID, name string) (*types.Environment, error) {
	var env *types.Environment
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var out types.Environment
		var rules []byte
		err := tx.QueryRow(ctx,
			`SELECT tenant_id, name, rules, created_at, updated_at
			 FROM environments WHERE tenant_id = $1 AND name = $2`, tenantID, name).
			Scan(&out.TenantID, &out.Name, &rules, &out.CreatedAt, &out.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errdefs.NotFoundf("environment %s not found", name)
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(rules, &out.Rules); err != nil {
			return err
		}
		env = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (s *PostgresStore) ListEnvironments(ctx context.Context, tenantID string) ([]*types.Environment, error) {
	var envs []*types.Environment
	err := s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT tenant_id, name, rules, created_at, updated_at
			 FROM environments WHERE tenant_id = $1 ORDER BY name`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var env types.Environment
			var rules []byte
			if err := rows.Scan(&env.TenantID, &env.Name, &rules, &env.CreatedAt, &env.UpdatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal(rules, &env.Rules); err != nil {
				return err
			}
			envs = append(envs, &env)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return envs, nil
}

func (s *PostgresStore) DeleteEnvironment(ctx context.Context, tenantID, name string) error {
	return s.tenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM environments WHERE tenant_id = $1 AND name = $2`, tenantID, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errdefs.NotFoundf("environment %s not found", name)
		}
		return nil
	})
}
