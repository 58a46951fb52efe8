package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenantgate/internal/auth"
	"tenantgate/internal/core"
	"tenantgate/internal/types"
)

// AccessKeyRepo is the key storage used by key management.
type AccessKeyRepo interface {
	List(ctx context.Context, tenantID string) ([]types.AccessKey, error)
	RevokeAccessKey(ctx context.Context, keyID, tenantID string) (bool, error)
}

// KeyIssuer creates a key and returns its secret once.
type KeyIssuer interface {
	Issue(ctx context.Context, tenantID, name string) (auth.IssuedKey, error)
}

// CreateAccessKeyRequest is the body of POST /v1/keys.
type CreateAccessKeyRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// AccessKeyResponse is key metadata. The hash never leaves the service.
type AccessKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// AccessKeySecretResponse is returned by create only.
type AccessKeySecretResponse struct {
	AccessKeyResponse
	Secret string `json:"secret"`
}

type revokeResponse struct {
	ID      string `json:"id"`
	Revoked bool   `json:"revoked"`
}

// AccessKeyHandler manages a tenant's access keys. Mounted behind session
// auth: the tenant always comes from the session, never from the request.
type AccessKeyHandler struct {
	repo      AccessKeyRepo
	issuer    KeyIssuer
	validator *core.Validator
	logger    *slog.Logger
}

func NewAccessKeyHandler(repo AccessKeyRepo, issuer KeyIssuer, v *core.Validator, logger *slog.Logger) *AccessKeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(logger)
	}
	return &AccessKeyHandler{repo: repo, issuer: issuer, validator: v, logger: logger}
}

func (h *AccessKeyHandler) RegisterRoutes(r chi.Router) {
	r.Get("/keys", h.List)
	r.Post("/keys", h.Create)
	r.Delete("/keys/{id}", h.Revoke)
}

// List handles GET /v1/keys.
func (h *AccessKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := sessionTenant(w, r)
	if !ok {
		return
	}

	keys, err := h.repo.List(r.Context(), tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	data := make([]AccessKeyResponse, 0, len(keys))
	for _, k := range keys {
		data = append(data, toAccessKeyResponse(k))
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: data})
}

// Create handles POST /v1/keys. The secret appears in this response only.
func (h *AccessKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := sessionTenant(w, r)
	if !ok {
		return
	}

	var req CreateAccessKeyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	issued, err := h.issuer.Issue(r.Context(), tenantID, req.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: AccessKeySecretResponse{
		AccessKeyResponse: toAccessKeyResponse(issued.Key),
		Secret:            issued.Secret,
	}})
}

// Revoke handles DELETE /v1/keys/{id}. Keys that are missing, malformed, or
// owned by another tenant all produce the same 404. Revoking twice succeeds.
func (h *AccessKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := sessionTenant(w, r)
	if !ok {
		return
	}

	keyID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(keyID); err != nil {
		core.Error(w, r, errKeyNotFound())
		return
	}

	revoked, err := h.repo.RevokeAccessKey(r.Context(), keyID, tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !revoked {
		core.Error(w, r, errKeyNotFound())
		return
	}

	h.logger.InfoContext(r.Context(), "access key revoked", "tenant_id", tenantID, "key_id", keyID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: revokeResponse{ID: keyID, Revoked: true}})
}

func errKeyNotFound() error {
	return types.NewAppError(types.ErrCodeNotFoundAccessKey, "access key not found", nil)
}

func toAccessKeyResponse(k types.AccessKey) AccessKeyResponse {
	return AccessKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
	}
}

// sessionTenant returns the tenant of the authenticated actor, writing a 401
// when the middleware did not supply one.
func sessionTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := types.GetTenantID(r.Context())
	if tenantID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionInvalid, "invalid session", nil))
		return "", false
	}
	return tenantID, true
}
