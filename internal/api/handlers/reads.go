package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tenantgate/internal/billing"
	"tenantgate/internal/core"
	"tenantgate/internal/types"
)

// AlertLister returns a tenant's alerts, newest first, at most Limit+1 rows.
type AlertLister interface {
	List(ctx context.Context, tenantID string, params types.ListParams) ([]types.Alert, error)
}

// CostLister returns a tenant's cost summaries, newest first, at most
// Limit+1 rows.
type CostLister interface {
	List(ctx context.Context, tenantID string, params types.ListParams) ([]types.CostSummary, error)
}

// UsageReader reports a tenant's plan, entitlements and usage.
type UsageReader interface {
	GetTenantUsage(ctx context.Context, tenantID string) (billing.TenantUsage, error)
}

// ReadHandler serves the access-key scoped read endpoints. The tenant comes
// from the authenticated key and nothing in the request can change it.
type ReadHandler struct {
	alerts AlertLister
	costs  CostLister
	usage  UsageReader
	logger *slog.Logger
}

func NewReadHandler(alerts AlertLister, costs CostLister, usage UsageReader, logger *slog.Logger) *ReadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadHandler{alerts: alerts, costs: costs, usage: usage, logger: logger}
}

func (h *ReadHandler) RegisterRoutes(r chi.Router) {
	r.Get("/alerts", h.ListAlerts)
	r.Get("/costs", h.ListCosts)
	r.Get("/tenant", h.GetTenant)
}

// ListAlerts handles GET /v1/alerts?limit=&since=.
func (h *ReadHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := keyTenant(w, r)
	if !ok {
		return
	}
	params := types.ParseListParams(r.URL.Query())

	items, err := h.alerts.List(r.Context(), tenantID, params)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing alerts failed", "tenant_id", tenantID, "error", err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, types.NewListResponse(items, params.Limit))
}

// ListCosts handles GET /v1/costs?limit=&since=.
func (h *ReadHandler) ListCosts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := keyTenant(w, r)
	if !ok {
		return
	}
	params := types.ParseListParams(r.URL.Query())

	items, err := h.costs.List(r.Context(), tenantID, params)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "listing costs failed", "tenant_id", tenantID, "error", err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, types.NewListResponse(items, params.Limit))
}

// GetTenant handles GET /v1/tenant.
func (h *ReadHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := keyTenant(w, r)
	if !ok {
		return
	}

	usage, err := h.usage.GetTenantUsage(r.Context(), tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: usage})
}

func keyTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := types.GetTenantID(r.Context())
	if tenantID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid or missing access key", nil))
		return "", false
	}
	return tenantID, true
}
