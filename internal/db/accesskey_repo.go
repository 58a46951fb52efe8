package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tenantgate/internal/types"
)

// AccessKeyRepository provides data access for the access_keys table. Only
// the SHA-256 of a key is ever stored.
type AccessKeyRepository struct {
	db DBTX
}

func NewAccessKeyRepository(db DBTX) *AccessKeyRepository {
	return &AccessKeyRepository{db: db}
}

const accessKeyColumns = `id, tenant_id, name, key_hash, key_prefix, created_at, last_used_at, revoked_at`

// Create inserts a new key record.
func (r *AccessKeyRepository) Create(ctx context.Context, k *types.AccessKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO access_keys (id, tenant_id, name, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		k.ID,
		k.TenantID,
		k.Name,
		k.KeyHash,
		k.KeyPrefix,
		nilIfZeroTime(k.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create access key", err)
	}
	return nil
}

// FindAccessKey looks a key up by hash. Revoked keys are returned as-is; the
// caller decides what revocation means.
func (r *AccessKeyRepository) FindAccessKey(ctx context.Context, keyHash string) (types.AccessKey, error) {
	k, err := scanAccessKey(r.db.QueryRow(ctx,
		`SELECT `+accessKeyColumns+` FROM access_keys WHERE key_hash = $1`,
		keyHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.AccessKey{}, types.NewAppError(types.ErrCodeNotFoundAccessKey, "access key not found", nil)
		}
		return types.AccessKey{}, types.NewAppError(types.ErrCodeInternalDB, "failed to look up access key", err)
	}
	return k, nil
}

// List returns all keys of a tenant, newest first.
func (r *AccessKeyRepository) List(ctx context.Context, tenantID string) ([]types.AccessKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+accessKeyColumns+` FROM access_keys
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list access keys", err)
	}
	defer rows.Close()

	out := []types.AccessKey{}
	for rows.Next() {
		k, err := scanAccessKey(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan access key row", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating access key rows", err)
	}
	return out, nil
}

// CountActiveAccessKeys counts a tenant's unrevoked keys.
func (r *AccessKeyRepository) CountActiveAccessKeys(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM access_keys WHERE tenant_id = $1 AND revoked_at IS NULL`,
		tenantID,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count access keys", err)
	}
	return n, nil
}

// RevokeAccessKey sets revoked_at on a key owned by tenantID. It reports
// false when no such key exists for that tenant, including when the key
// exists under another tenant. Revoking an already revoked key matches and
// keeps the original timestamp.
func (r *AccessKeyRepository) RevokeAccessKey(ctx context.Context, keyID, tenantID string) (bool, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`UPDATE access_keys
		 SET revoked_at = COALESCE(revoked_at, NOW())
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING id`,
		keyID,
		tenantID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to revoke access key", err)
	}
	return true, nil
}

// TouchLastUsed records a successful authentication.
func (r *AccessKeyRepository) TouchLastUsed(ctx context.Context, keyID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE access_keys SET last_used_at = NOW() WHERE id = $1`,
		keyID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last_used_at", err)
	}
	return nil
}

func scanAccessKey(row pgx.Row) (types.AccessKey, error) {
	var k types.AccessKey
	err := row.Scan(
		&k.ID,
		&k.TenantID,
		&k.Name,
		&k.KeyHash,
		&k.KeyPrefix,
		&k.CreatedAt,
		&k.LastUsedAt,
		&k.RevokedAt,
	)
	return k, err
}
