package types

import "time"

// PlanCode identifies a billing tier. Valid codes are whatever the plan
// registry was loaded with; PlanFree always exists.
type PlanCode string

const (
	PlanFree       PlanCode = "free"
	PlanPro        PlanCode = "pro"
	PlanEnterprise PlanCode = "enterprise"
)

// User is a human account created at signup.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Tenant is the billing and access unit. Exactly one Tenant exists per User.
type Tenant struct {
	ID                   string    `json:"id" db:"id"`
	OwnerUserID          string    `json:"owner_user_id" db:"owner_user_id"`
	Name                 string    `json:"name" db:"name"`
	Plan                 PlanCode  `json:"plan" db:"plan"`
	StripeSubscriptionID *string   `json:"-" db:"stripe_subscription_id"`
	StripeCustomerID     *string   `json:"-" db:"stripe_customer_id"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// TenantPlan is the billing projection of a Tenant read and written by the
// reconciler and the retention job.
type TenantPlan struct {
	TenantID       string     `json:"tenant_id"`
	Plan           PlanCode   `json:"plan"`
	SubscriptionID *string    `json:"subscription_id,omitempty"`
	CustomerID     *string    `json:"customer_id,omitempty"`
	PlanUpdatedAt  *time.Time `json:"plan_updated_at,omitempty"`
}

// NullableUpdate describes a write to a nullable column. The zero value
// leaves the column untouched.
type NullableUpdate struct {
	Set   bool
	Value *string
}

// SetTo returns an update that writes v.
func SetTo(v string) NullableUpdate {
	return NullableUpdate{Set: true, Value: &v}
}

// SetNull returns an update that clears the column.
func SetNull() NullableUpdate {
	return NullableUpdate{Set: true}
}

// TenantPlanUpdate is a single "set latest" write to a tenant's plan fields.
// Exactly one of TenantID or MatchSubscriptionID selects the tenant.
type TenantPlanUpdate struct {
	TenantID            string
	MatchSubscriptionID string

	Plan           PlanCode
	SubscriptionID NullableUpdate
	CustomerID     NullableUpdate
}

// AccessKey is a bearer credential scoped to one tenant. Only the SHA-256 of
// the secret is stored. RevokedAt, once set, is never cleared.
type AccessKey struct {
	ID         string     `json:"id" db:"id"`
	TenantID   string     `json:"-" db:"tenant_id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// IsRevoked reports whether the key has a revocation timestamp, past or future.
func (k *AccessKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Alert is a tenant-scoped notification record exposed through the read API.
type Alert struct {
	ID        string    `json:"id" db:"id"`
	Severity  string    `json:"severity" db:"severity"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CostSummary is a per-period spend aggregate exposed through the read API.
type CostSummary struct {
	ID          string    `json:"id" db:"id"`
	PeriodStart time.Time `json:"period_start" db:"period_start"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	Currency    string    `json:"currency" db:"currency"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
