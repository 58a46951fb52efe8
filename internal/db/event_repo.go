package db

import (
	"context"
	"encoding/json"
	"time"

	"tenantgate/internal/types"
)

// deleteBatchSize bounds how many rows a single DELETE removes so a large
// backlog does not hold long row locks.
const deleteBatchSize = 5000

// EventRepository provides data access for retained_events. Events are only
// ever inserted and range-deleted.
type EventRepository struct {
	db DBTX
}

func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Insert records one event for a tenant.
func (r *EventRepository) Insert(ctx context.Context, tenantID, kind string, payload any, createdAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "event payload is not serializable", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO retained_events (tenant_id, kind, payload, created_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		tenantID,
		kind,
		body,
		nilIfZeroTime(createdAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert event", err)
	}
	return nil
}

// DeleteEventsBefore removes the tenant's events with created_at strictly
// before cutoff and returns how many were removed. Deletion happens in
// bounded batches until a batch comes back short.
func (r *EventRepository) DeleteEventsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, types.NewAppError(types.ErrCodeInternalDB, "event deletion interrupted", err)
		}

		tag, err := r.db.Exec(ctx,
			`DELETE FROM retained_events
			 WHERE id IN (
			   SELECT id FROM retained_events
			   WHERE tenant_id = $1 AND created_at < $2
			   LIMIT $3
			 )`,
			tenantID,
			cutoff,
			deleteBatchSize,
		)
		if err != nil {
			return total, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired events", err)
		}

		n := tag.RowsAffected()
		total += n
		if n < deleteBatchSize {
			return total, nil
		}
	}
}
