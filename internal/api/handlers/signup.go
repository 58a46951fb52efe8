package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tenantgate/internal/auth"
	"tenantgate/internal/core"
)

// SignupService creates a user and their tenant.
type SignupService interface {
	Signup(ctx context.Context, req auth.SignupRequest) (auth.SignupResult, error)
}

// SignupHandler serves self-service signup. Throttling happens in middleware
// before this handler reads the body.
type SignupHandler struct {
	service SignupService
	logger  *slog.Logger
}

func NewSignupHandler(service SignupService, logger *slog.Logger) *SignupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignupHandler{service: service, logger: logger}
}

func (h *SignupHandler) RegisterRoutes(r chi.Router) {
	r.Post("/signup", h.Signup)
}

// Signup handles POST /v1/signup and answers 201 {userId, tenantId}.
func (h *SignupHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.Signup(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, res)
}
