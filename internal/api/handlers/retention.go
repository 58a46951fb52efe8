package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tenantgate/internal/core"
	"tenantgate/internal/scheduler"
)

// RetentionRunner executes one retention pass.
type RetentionRunner interface {
	Run(ctx context.Context, now time.Time) (scheduler.RetentionResult, error)
}

// defaultRunTimeout applies when the handler is built without a budget.
const defaultRunTimeout = 10 * time.Minute

// RetentionHandler lets the scheduler trigger retention over HTTP. It is
// mounted behind the scheduler secret.
type RetentionHandler struct {
	runner     RetentionRunner
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewRetentionHandler builds the handler. runTimeout bounds a run in place of
// the request deadline.
func NewRetentionHandler(runner RetentionRunner, runTimeout time.Duration, logger *slog.Logger) *RetentionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &RetentionHandler{runner: runner, runTimeout: runTimeout, logger: logger}
}

func (h *RetentionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/internal/retention/run", h.Run)
}

// Run handles POST /internal/retention/run. The body is optional; when
// present it may carry a reference_time for backfills.
//
// The run does not inherit the request deadline or cancellation: it gets
// runTimeout of its own and the write deadline is pushed out to match.
func (h *RetentionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var payload scheduler.RetentionPayload
	if r.ContentLength > 0 {
		if err := core.DecodeJSON(w, r, &payload); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.runTimeout)
	defer cancel()
	// Recorders and some wrappers cannot move deadlines; the run proceeds anyway.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(h.runTimeout + 5*time.Second))

	res, err := h.runner.Run(ctx, payload.Now())
	if err != nil {
		h.logger.ErrorContext(ctx, "retention run failed",
			"deleted", res.DeletedCount,
			"tenants", res.TenantsProcessed,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, res)
}
