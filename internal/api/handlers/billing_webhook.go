// Package handlers contains the HTTP handlers of the tenantgate API. Each
// handler declares the narrow interfaces it needs and registers its own
// routes; the entry point decides which protection group they land in.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tenantgate/internal/billing"
	"tenantgate/internal/core"
	"tenantgate/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads at 64 KiB.
const maxWebhookBodySize = 64 * 1024

// SignatureVerifier authenticates a raw webhook payload against its
// Stripe-Signature header.
type SignatureVerifier interface {
	Verify(payload []byte, header string) error
}

// EventApplier reconciles one decoded billing event.
type EventApplier interface {
	Apply(ctx context.Context, e billing.Event) (billing.Outcome, error)
}

// BillingWebhookHandler receives Stripe events. It is unauthenticated; the
// signature is the credential.
type BillingWebhookHandler struct {
	verifier SignatureVerifier
	applier  EventApplier
	decode   func([]byte) (billing.Event, error)
	logger   *slog.Logger
}

func NewBillingWebhookHandler(verifier SignatureVerifier, applier EventApplier, logger *slog.Logger) *BillingWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingWebhookHandler{
		verifier: verifier,
		applier:  applier,
		decode:   billing.DecodeEvent,
		logger:   logger,
	}
}

func (h *BillingWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

type webhookAck struct {
	Received bool `json:"received"`
}

// Handle verifies, decodes and applies one event.
//
//   - bad or missing signature: 400 upstream_signature_invalid, nothing written
//   - verified but undecodable, unknown, or unmatched: 200, so Stripe stops
//   - persistence or Stripe API failure: 5xx, so Stripe redelivers
func (h *BillingWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnContext(ctx, "webhook payload too large", "limit", tooLarge.Limit)
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook payload too large", err))
			return
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read webhook payload", err))
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.WarnContext(ctx, "webhook signature rejected", "error", err)
		core.Error(w, r, err)
		return
	}

	event, err := h.decode(payload)
	if err != nil {
		// Signed by Stripe but not something we can read; redelivery won't help.
		h.logger.ErrorContext(ctx, "verified webhook could not be decoded", "error", err)
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
		return
	}

	outcome, err := h.applier.Apply(ctx, event)
	if err != nil {
		h.logger.ErrorContext(ctx, "billing event not applied",
			"event_id", event.Meta().ID,
			"event_type", event.Meta().Type,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "billing event processed",
		"event_id", event.Meta().ID,
		"event_type", event.Meta().Type,
		"outcome", outcome,
	)
	core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
}
