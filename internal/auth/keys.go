package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"tenantgate/internal/billing"
	"tenantgate/internal/db"
	"tenantgate/internal/types"
)

const (
	// KeyPrefix marks tenantgate access keys so they are recognisable in
	// logs and secret scanners.
	KeyPrefix = "tg_live_"

	keySecretBytes = 32
	displayPrefix  = len(KeyPrefix) + 6
)

// invalidKeyMessage is the only message an unauthenticated caller sees.
const invalidKeyMessage = "invalid or missing access key"

// HashKey returns the hex SHA-256 of a raw key, the only form persisted.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// GenerateKey returns a new raw key and its display prefix.
func GenerateKey() (raw, prefix string, err error) {
	b := make([]byte, keySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = KeyPrefix + hex.EncodeToString(b)
	return raw, raw[:displayPrefix], nil
}

// KeyStore is the data access needed to authenticate a key.
type KeyStore interface {
	FindAccessKey(ctx context.Context, keyHash string) (types.AccessKey, error)
	TouchLastUsed(ctx context.Context, keyID string) error
}

// KeyAuthenticator resolves raw access keys to their tenant.
type KeyAuthenticator struct {
	store  KeyStore
	logger *slog.Logger
}

func NewKeyAuthenticator(store KeyStore, logger *slog.Logger) *KeyAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyAuthenticator{store: store, logger: logger}
}

// Authenticate returns the actor for rawKey. An empty, unknown or revoked
// key yields the same auth_token_invalid error; a store failure is returned
// as-is so it surfaces as a 500 rather than a 401.
func (a *KeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (types.Actor, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return types.Actor{}, errInvalidKey()
	}

	hash := HashKey(rawKey)
	key, err := a.store.FindAccessKey(ctx, hash)
	if err != nil {
		if types.IsNotFound(err) {
			return types.Actor{}, errInvalidKey()
		}
		return types.Actor{}, err
	}

	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return types.Actor{}, errInvalidKey()
	}
	if key.IsRevoked() {
		a.logger.InfoContext(ctx, "revoked access key presented", "key_id", key.ID, "tenant_id", key.TenantID)
		return types.Actor{}, errInvalidKey()
	}

	if err := a.store.TouchLastUsed(ctx, key.ID); err != nil {
		a.logger.WarnContext(ctx, "failed to record key usage", "key_id", key.ID, "error", err)
	}

	return types.Actor{
		ID:       key.ID,
		Type:     types.ActorTypeAccessKey,
		TenantID: key.TenantID,
	}, nil
}

func errInvalidKey() error {
	return types.NewAppError(types.ErrCodeAuthTokenInvalid, invalidKeyMessage, nil)
}

// KeyWriter persists newly issued keys.
type KeyWriter interface {
	Create(ctx context.Context, k *types.AccessKey) error
}

// KeyLimiter enforces the plan's key quota before issuance.
type KeyLimiter interface {
	CheckKeyLimit(ctx context.Context, tenantID string, count int) error
}

// KeyIssueTx runs fn in one transaction that holds tenantID's row lock, with
// keys and limiter bound to that transaction. Concurrent issuance for the
// same tenant is serialised from the quota check to the insert.
type KeyIssueTx interface {
	WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context, keys KeyWriter, limiter KeyLimiter) error) error
}

// IssuedKey is returned exactly once; Secret is never stored.
type IssuedKey struct {
	Key    types.AccessKey
	Secret string
}

// KeyIssuer creates access keys for a tenant.
type KeyIssuer struct {
	tx     KeyIssueTx
	clock  types.Clock
	logger *slog.Logger
}

func NewKeyIssuer(tx KeyIssueTx, clock types.Clock, logger *slog.Logger) *KeyIssuer {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyIssuer{tx: tx, clock: clock, logger: logger}
}

// Issue creates a key named name for tenantID once the plan quota allows it.
func (i *KeyIssuer) Issue(ctx context.Context, tenantID, name string) (IssuedKey, error) {
	if tenantID == "" {
		return IssuedKey{}, types.NewAppError(types.ErrCodeValidationMissingField, "tenant is required", nil)
	}

	raw, prefix, err := GenerateKey()
	if err != nil {
		return IssuedKey{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate key", err)
	}

	k := types.AccessKey{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      strings.TrimSpace(name),
		KeyHash:   HashKey(raw),
		KeyPrefix: prefix,
		CreatedAt: i.clock.Now(),
	}
	err = i.tx.WithTenantLock(ctx, tenantID, func(ctx context.Context, keys KeyWriter, limiter KeyLimiter) error {
		if err := limiter.CheckKeyLimit(ctx, tenantID, 1); err != nil {
			return err
		}
		return keys.Create(ctx, &k)
	})
	if err != nil {
		return IssuedKey{}, err
	}

	i.logger.InfoContext(ctx, "access key issued", "tenant_id", tenantID, "key_id", k.ID)
	return IssuedKey{Key: k, Secret: raw}, nil
}

// PgKeyIssueTx implements KeyIssueTx with SELECT ... FOR UPDATE on the
// tenant row.
type PgKeyIssueTx struct {
	tx       *db.TxManager
	registry *billing.Registry
}

func NewPgKeyIssueTx(tx *db.TxManager, registry *billing.Registry) *PgKeyIssueTx {
	return &PgKeyIssueTx{tx: tx, registry: registry}
}

// WithTenantLock implements KeyIssueTx.
func (m *PgKeyIssueTx) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context, keys KeyWriter, limiter KeyLimiter) error) error {
	return m.tx.WithTx(ctx, func(q db.DBTX) error {
		tenants := db.NewTenantRepository(q)
		if _, err := tenants.LockTenantPlan(ctx, tenantID); err != nil {
			return err
		}
		keys := db.NewAccessKeyRepository(q)
		return fn(ctx, keys, billing.NewUsageService(tenants, keys, m.registry))
	})
}
