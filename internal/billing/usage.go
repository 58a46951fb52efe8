package billing

import (
	"context"

	"tenantgate/internal/types"
)

// TenantPlanReader returns the billing projection of a tenant.
type TenantPlanReader interface {
	GetTenantPlan(ctx context.Context, tenantID string) (types.TenantPlan, error)
}

// KeyCounter counts a tenant's unrevoked access keys.
type KeyCounter interface {
	CountActiveAccessKeys(ctx context.Context, tenantID string) (int, error)
}

// TenantUsage is a tenant's plan, entitlements and current consumption.
type TenantUsage struct {
	TenantID       string         `json:"tenant_id"`
	Plan           types.PlanCode `json:"plan"`
	SubscriptionID *string        `json:"subscription_id,omitempty"`
	Entitlements   Entitlements   `json:"entitlements"`
	ActiveKeys     int            `json:"active_keys"`
}

// UsageService reports usage against plan entitlements and enforces the
// access key quota.
type UsageService struct {
	plans    TenantPlanReader
	keys     KeyCounter
	registry *Registry
}

func NewUsageService(plans TenantPlanReader, keys KeyCounter, registry *Registry) *UsageService {
	return &UsageService{plans: plans, keys: keys, registry: registry}
}

// GetTenantUsage returns the tenant's current plan and usage.
func (s *UsageService) GetTenantUsage(ctx context.Context, tenantID string) (TenantUsage, error) {
	tp, err := s.plans.GetTenantPlan(ctx, tenantID)
	if err != nil {
		return TenantUsage{}, err
	}
	n, err := s.keys.CountActiveAccessKeys(ctx, tenantID)
	if err != nil {
		return TenantUsage{}, err
	}
	ent := s.registry.EntitlementsFor(tp.Plan)
	return TenantUsage{
		TenantID:       tp.TenantID,
		Plan:           ent.Plan,
		SubscriptionID: tp.SubscriptionID,
		Entitlements:   ent,
		ActiveKeys:     n,
	}, nil
}

// CheckKeyLimit returns limit_access_keys_exceeded when issuing count more
// keys would exceed the tenant's plan. A MaxKeys of zero is unlimited.
func (s *UsageService) CheckKeyLimit(ctx context.Context, tenantID string, count int) error {
	tp, err := s.plans.GetTenantPlan(ctx, tenantID)
	if err != nil {
		return err
	}
	ent := s.registry.EntitlementsFor(tp.Plan)
	if ent.Limits.MaxKeys == 0 {
		return nil
	}

	current, err := s.keys.CountActiveAccessKeys(ctx, tenantID)
	if err != nil {
		return err
	}
	if current+count > ent.Limits.MaxKeys {
		return types.NewAppErrorWithDetails(
			types.ErrCodeLimitAccessKeys,
			"access key limit reached for current plan",
			nil,
			map[string]any{
				"current": current,
				"limit":   ent.Limits.MaxKeys,
				"plan":    string(ent.Plan),
			},
		)
	}
	return nil
}
