package db

import (
	"context"
	"time"

	"tenantgate/internal/types"
)

// RateLimitRepository is a fixed-window counter in the rate_limit_counters
// table. The check and the increment are one UPSERT, so concurrent callers
// never both see the last free slot.
type RateLimitRepository struct {
	db  DBTX
	now func() time.Time
}

func NewRateLimitRepository(db DBTX) *RateLimitRepository {
	return &RateLimitRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// IncrementAndCheck counts one hit against key. When the stored window has
// expired the counter restarts at one.
func (r *RateLimitRepository) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	now := r.now()
	var (
		count   int
		resetAt time.Time
	)
	err := r.db.QueryRow(ctx,
		`INSERT INTO rate_limit_counters (key, count, window_start, expires_at)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE WHEN rate_limit_counters.expires_at <= $2 THEN 1
		                ELSE rate_limit_counters.count + 1 END,
		   window_start = CASE WHEN rate_limit_counters.expires_at <= $2 THEN $2
		                       ELSE rate_limit_counters.window_start END,
		   expires_at = CASE WHEN rate_limit_counters.expires_at <= $2 THEN $3
		                     ELSE rate_limit_counters.expires_at END
		 RETURNING count, expires_at`,
		key,
		now,
		now.Add(window),
	).Scan(&count, &resetAt)
	if err != nil {
		return types.RateLimitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to update rate limit counter", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return types.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// PurgeExpired deletes counters whose window ended before now.
func (r *RateLimitRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rate_limit_counters WHERE expires_at <= $1`, r.now())
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge rate limit counters", err)
	}
	return tag.RowsAffected(), nil
}
