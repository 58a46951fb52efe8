package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"tenantgate/internal/types"
)

// TenantRepository provides data access for the tenants table.
type TenantRepository struct {
	db DBTX
}

func NewTenantRepository(db DBTX) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantPlanColumns = `id, plan, stripe_subscription_id, stripe_customer_id, plan_updated_at`

// Create inserts a tenant. A second tenant for the same owner is a conflict.
func (r *TenantRepository) Create(ctx context.Context, t *types.Tenant) error {
	plan := t.Plan
	if plan == "" {
		plan = types.PlanFree
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO tenants (id, owner_user_id, name, plan, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		t.ID,
		t.OwnerUserID,
		t.Name,
		string(plan),
		nilIfZeroTime(t.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "user already has a tenant", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create tenant", err)
	}
	return nil
}

// GetTenantPlan returns the billing projection of one tenant.
func (r *TenantRepository) GetTenantPlan(ctx context.Context, tenantID string) (types.TenantPlan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tenantPlanColumns+` FROM tenants WHERE id = $1`,
		tenantID,
	)
	tp, err := scanTenantPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return types.TenantPlan{}, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
		}
		return types.TenantPlan{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load tenant plan", err)
	}
	return tp, nil
}

// LockTenantPlan is GetTenantPlan with a row lock held until the enclosing
// transaction ends. It must run inside WithTx.
func (r *TenantRepository) LockTenantPlan(ctx context.Context, tenantID string) (types.TenantPlan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tenantPlanColumns+` FROM tenants WHERE id = $1 FOR UPDATE`,
		tenantID,
	)
	tp, err := scanTenantPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return types.TenantPlan{}, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
		}
		return types.TenantPlan{}, types.NewAppError(types.ErrCodeInternalDB, "failed to lock tenant", err)
	}
	return tp, nil
}

// AtomicUpdateTenantPlan applies upd in a single UPDATE ... RETURNING. The
// tenant is selected by TenantID, or by MatchSubscriptionID when TenantID is
// empty. Writing a subscription id already held by another tenant is a
// conflict.
func (r *TenantRepository) AtomicUpdateTenantPlan(ctx context.Context, upd types.TenantPlanUpdate) (types.TenantPlan, error) {
	if upd.Plan == "" {
		return types.TenantPlan{}, types.NewAppError(types.ErrCodeValidationMissingField, "plan is required", nil)
	}

	sets := []string{"plan = $1", "plan_updated_at = NOW()"}
	args := []any{string(upd.Plan)}

	if upd.SubscriptionID.Set {
		args = append(args, upd.SubscriptionID.Value)
		sets = append(sets, fmt.Sprintf("stripe_subscription_id = $%d", len(args)))
	}
	if upd.CustomerID.Set {
		args = append(args, upd.CustomerID.Value)
		sets = append(sets, fmt.Sprintf("stripe_customer_id = $%d", len(args)))
	}

	var where string
	switch {
	case upd.TenantID != "":
		args = append(args, upd.TenantID)
		where = fmt.Sprintf("id = $%d", len(args))
	case upd.MatchSubscriptionID != "":
		args = append(args, upd.MatchSubscriptionID)
		where = fmt.Sprintf("stripe_subscription_id = $%d", len(args))
	default:
		return types.TenantPlan{}, types.NewAppError(types.ErrCodeValidationMissingField, "tenant selector is required", nil)
	}

	query := fmt.Sprintf(`UPDATE tenants SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), where, tenantPlanColumns)

	tp, err := scanTenantPlan(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows), isInvalidText(err):
			return types.TenantPlan{}, types.NewAppError(types.ErrCodeNotFoundTenant, "no tenant matches the billing event", nil)
		case isUniqueViolation(err):
			return types.TenantPlan{}, types.NewAppError(types.ErrCodeConflictSubscription, "subscription is linked to another tenant", err)
		default:
			return types.TenantPlan{}, types.NewAppError(types.ErrCodeInternalDB, "failed to update tenant plan", err)
		}
	}
	return tp, nil
}

// ListTenantPlans returns up to limit tenants with id greater than afterID,
// ordered by id. An empty afterID starts from the beginning.
func (r *TenantRepository) ListTenantPlans(ctx context.Context, afterID string, limit int) ([]types.TenantPlan, error) {
	var after *string
	if afterID != "" {
		after = &afterID
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+tenantPlanColumns+` FROM tenants
		 WHERE ($1::uuid IS NULL OR id > $1::uuid)
		 ORDER BY id
		 LIMIT $2`,
		after,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tenants", err)
	}
	defer rows.Close()

	var out []types.TenantPlan
	for rows.Next() {
		tp, err := scanTenantPlan(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tenant row", err)
		}
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating tenant rows", err)
	}
	return out, nil
}

func scanTenantPlan(row pgx.Row) (types.TenantPlan, error) {
	var (
		tp   types.TenantPlan
		plan string
	)
	if err := row.Scan(&tp.TenantID, &plan, &tp.SubscriptionID, &tp.CustomerID, &tp.PlanUpdatedAt); err != nil {
		return types.TenantPlan{}, err
	}
	tp.Plan = types.PlanCode(plan)
	return tp, nil
}
