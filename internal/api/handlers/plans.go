package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tenantgate/internal/billing"
	"tenantgate/internal/core"
)

// PlanCatalog lists the configured plan definitions.
type PlanCatalog interface {
	Plans() []billing.PlanDefinition
}

// PlanHandler publishes the plan table.
type PlanHandler struct {
	catalog PlanCatalog
}

func NewPlanHandler(catalog PlanCatalog) *PlanHandler {
	return &PlanHandler{catalog: catalog}
}

func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.List)
}

// List handles GET /v1/plans.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.catalog.Plans()})
}
