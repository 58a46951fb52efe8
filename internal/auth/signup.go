package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tenantgate/internal/db"
	"tenantgate/internal/types"
)

const bcryptCost = 12

// maxPasswordBytes is bcrypt's input limit. The validator's max counts
// characters, so multi-byte passwords are checked separately.
const maxPasswordBytes = 72

// PasswordHasher abstracts bcrypt so tests can run without its cost.
type PasswordHasher interface {
	GenerateFromPassword(password string) (string, error)
}

type bcryptHasher struct{ cost int }

func (b bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// UserCreator and TenantCreator are the transaction-scoped writers used by
// signup.
type UserCreator interface {
	Create(ctx context.Context, u *types.User) error
}

type TenantCreator interface {
	Create(ctx context.Context, t *types.Tenant) error
}

// SignupTxManager runs fn in one transaction with writers bound to it.
type SignupTxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, users UserCreator, tenants TenantCreator) error) error
}

// EmailChecker reports whether an email is already registered.
type EmailChecker interface {
	EmailExists(ctx context.Context, email string) (bool, error)
}

// SignupRequest is the validated signup input.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// SignupResult identifies the created user and tenant.
type SignupResult struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
}

// SignupServiceConfig holds the dependencies of SignupService.
type SignupServiceConfig struct {
	Emails    EmailChecker
	TxManager SignupTxManager
	Hasher    PasswordHasher
	Clock     types.Clock
	Logger    *slog.Logger
}

// SignupService creates a user and their tenant atomically.
type SignupService struct {
	emails   EmailChecker
	tx       SignupTxManager
	hasher   PasswordHasher
	validate *validator.Validate
	clock    types.Clock
	logger   *slog.Logger
}

func NewSignupService(cfg SignupServiceConfig) *SignupService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = bcryptHasher{cost: bcryptCost}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SignupService{
		emails:   cfg.Emails,
		tx:       cfg.TxManager,
		hasher:   hasher,
		validate: validator.New(),
		clock:    clock,
		logger:   logger,
	}
}

// Signup validates req, rejects a registered email with
// conflict_email_exists, and creates the User and a free Tenant in one
// transaction. Nothing is written when any step fails.
func (s *SignupService) Signup(ctx context.Context, req SignupRequest) (SignupResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return SignupResult{}, validationError(err)
	}
	if len(req.Password) > maxPasswordBytes {
		return SignupResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationPassword, "invalid signup request", nil,
			map[string]any{"fields": map[string]any{"password": "max_bytes"}})
	}

	exists, err := s.emails.EmailExists(ctx, req.Email)
	if err != nil {
		return SignupResult{}, err
	}
	if exists {
		return SignupResult{}, types.NewAppError(types.ErrCodeConflictEmail, "email already registered", nil)
	}

	hash, err := s.hasher.GenerateFromPassword(req.Password)
	if err != nil {
		return SignupResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	now := s.clock.Now()
	user := &types.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	tenant := &types.Tenant{
		ID:          uuid.NewString(),
		OwnerUserID: user.ID,
		Name:        workspaceName(req.Email),
		Plan:        types.PlanFree,
		CreatedAt:   now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context, users UserCreator, tenants TenantCreator) error {
		if err := users.Create(ctx, user); err != nil {
			return err
		}
		return tenants.Create(ctx, tenant)
	})
	if err != nil {
		return SignupResult{}, err
	}

	s.logger.InfoContext(ctx, "signup completed", "user_id", user.ID, "tenant_id", tenant.ID)
	return SignupResult{UserID: user.ID, TenantID: tenant.ID}, nil
}

func workspaceName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return fmt.Sprintf("%s's workspace", local)
}

// validationError turns validator output into a field map. Only field names
// and failed tags leave the service.
func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeValidationInvalidParams, "invalid signup request", err)
	}

	fields := make(map[string]any, len(verrs))
	code := types.ErrCodeValidationInvalidParams
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		fields[field] = fe.Tag()
		switch {
		case fe.Tag() == "required":
			code = types.ErrCodeValidationMissingField
		case field == "email" && code != types.ErrCodeValidationMissingField:
			code = types.ErrCodeValidationInvalidEmail
		case field == "password" && code == types.ErrCodeValidationInvalidParams:
			code = types.ErrCodeValidationPassword
		}
	}
	return types.NewAppErrorWithDetails(code, "invalid signup request", nil, map[string]any{"fields": fields})
}

// PgSignupTx implements SignupTxManager over a db.TxManager.
type PgSignupTx struct {
	tx *db.TxManager
}

func NewPgSignupTx(tx *db.TxManager) *PgSignupTx {
	return &PgSignupTx{tx: tx}
}

// RunInTx implements SignupTxManager.
func (m *PgSignupTx) RunInTx(ctx context.Context, fn func(ctx context.Context, users UserCreator, tenants TenantCreator) error) error {
	return m.tx.WithTx(ctx, func(q db.DBTX) error {
		return fn(ctx, db.NewUserRepository(q), db.NewTenantRepository(q))
	})
}
