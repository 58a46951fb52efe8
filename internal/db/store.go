package db

import (
	"context"
	"time"

	"tenantgate/internal/types"
)

// Store is the narrow capability surface used by the authentication,
// reconciliation and retention paths.
type Store interface {
	GetTenantPlan(ctx context.Context, tenantID string) (types.TenantPlan, error)
	AtomicUpdateTenantPlan(ctx context.Context, upd types.TenantPlanUpdate) (types.TenantPlan, error)
	FindAccessKey(ctx context.Context, keyHash string) (types.AccessKey, error)
	RevokeAccessKey(ctx context.Context, keyID, tenantID string) (bool, error)
	DeleteEventsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}

// PgStore implements Store by delegating to the table repositories.
type PgStore struct {
	*TenantRepository
	*AccessKeyRepository
	*EventRepository
}

var _ Store = (*PgStore)(nil)

func NewStore(db DBTX) *PgStore {
	return &PgStore{
		TenantRepository:    NewTenantRepository(db),
		AccessKeyRepository: NewAccessKeyRepository(db),
		EventRepository:     NewEventRepository(db),
	}
}
