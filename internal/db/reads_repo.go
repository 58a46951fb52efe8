package db

import (
	"context"

	"tenantgate/internal/types"
)

// AlertRepository serves tenant-scoped alert reads.
type AlertRepository struct {
	db DBTX
}

func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// List returns up to params.Limit+1 alerts for the tenant, newest first, so
// the caller can detect a further page.
func (r *AlertRepository) List(ctx context.Context, tenantID string, params types.ListParams) ([]types.Alert, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, severity, message, created_at FROM alerts
		 WHERE tenant_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		tenantID,
		params.Since,
		params.Limit+1,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query alerts", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		var a types.Alert
		if err := rows.Scan(&a.ID, &a.Severity, &a.Message, &a.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert row", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert rows", err)
	}
	return out, nil
}

// CostRepository serves tenant-scoped cost summary reads.
type CostRepository struct {
	db DBTX
}

func NewCostRepository(db DBTX) *CostRepository {
	return &CostRepository{db: db}
}

// List returns up to params.Limit+1 cost summaries for the tenant, newest
// first.
func (r *CostRepository) List(ctx context.Context, tenantID string, params types.ListParams) ([]types.CostSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, period_start, amount_cents, currency, created_at FROM cost_summaries
		 WHERE tenant_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		tenantID,
		params.Since,
		params.Limit+1,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query cost summaries", err)
	}
	defer rows.Close()

	var out []types.CostSummary
	for rows.Next() {
		var c types.CostSummary
		if err := rows.Scan(&c.ID, &c.PeriodStart, &c.AmountCents, &c.Currency, &c.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan cost summary row", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating cost summary rows", err)
	}
	return out, nil
}
