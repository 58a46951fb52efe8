package billing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"tenantgate/internal/types"
)

// PlanWriter is the single write the reconciler performs. Each call is one
// atomic "set latest" statement, so replaying an event is harmless.
type PlanWriter interface {
	AtomicUpdateTenantPlan(ctx context.Context, upd types.TenantPlanUpdate) (types.TenantPlan, error)
}

// SubscriptionPriceFetcher looks up the current price of a subscription when
// a checkout event does not carry it.
type SubscriptionPriceFetcher interface {
	GetSubscriptionPriceID(ctx context.Context, subscriptionID string) (string, error)
}

// EventRecorder receives one observation per applied event.
type EventRecorder interface {
	RecordBillingEvent(kind, outcome string)
}

// Outcome describes what Apply did with an event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ReconcilerConfig holds the reconciler's collaborators. Prices and Metrics
// are optional.
type ReconcilerConfig struct {
	Registry *Registry
	Store    PlanWriter
	Prices   SubscriptionPriceFetcher
	Metrics  EventRecorder
	Logger   *slog.Logger
}

// Reconciler applies billing events to tenant plan state. Events may arrive
// duplicated or out of order; the last one received wins.
type Reconciler struct {
	registry *Registry
	store    PlanWriter
	prices   SubscriptionPriceFetcher
	metrics  EventRecorder
	logger   *slog.Logger
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		registry: cfg.Registry,
		store:    cfg.Store,
		prices:   cfg.Prices,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Apply performs the plan write for e. A nil error with OutcomeSkipped means
// the event was well-formed but could not be matched to a tenant; the caller
// should still acknowledge it. A non-nil error means persistence or the
// Stripe API failed and the event should be redelivered.
func (r *Reconciler) Apply(ctx context.Context, e Event) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	switch ev := e.(type) {
	case CheckoutCompleted:
		outcome, err = r.applyCheckout(ctx, ev)
	case SubscriptionUpdated:
		outcome, err = r.applySubscriptionUpdated(ctx, ev)
	case SubscriptionDeleted:
		outcome, err = r.applySubscriptionDeleted(ctx, ev)
	default:
		r.logger.InfoContext(ctx, "ignoring billing event",
			"event_id", e.Meta().ID,
			"event_type", e.Meta().Type,
		)
		outcome = OutcomeIgnored
	}

	if r.metrics != nil {
		r.metrics.RecordBillingEvent(KindOf(e), string(outcome))
	}
	return outcome, err
}

func (r *Reconciler) applyCheckout(ctx context.Context, ev CheckoutCompleted) (Outcome, error) {
	if _, err := uuid.Parse(ev.TenantID); err != nil {
		r.logger.WarnContext(ctx, "checkout completed without a usable tenant reference",
			"event_id", ev.ID,
			"client_reference_id", ev.TenantID,
		)
		return OutcomeSkipped, nil
	}
	if ev.SubscriptionID == "" {
		r.logger.WarnContext(ctx, "checkout completed without a subscription",
			"event_id", ev.ID,
			"tenant_id", ev.TenantID,
		)
		return OutcomeSkipped, nil
	}

	priceID := ev.PriceID
	if priceID == "" && r.prices != nil {
		fetched, err := r.prices.GetSubscriptionPriceID(ctx, ev.SubscriptionID)
		switch {
		case err == nil:
			priceID = fetched
		case types.IsNotFound(err):
			r.logger.WarnContext(ctx, "subscription not found at stripe, using fallback plan",
				"event_id", ev.ID,
				"subscription_id", ev.SubscriptionID,
			)
		default:
			return OutcomeFailed, err
		}
	}

	plan := r.registry.PlanCodeForPriceID(priceID)
	if _, known := r.registry.Resolve(priceID); !known {
		r.logger.WarnContext(ctx, "unmapped checkout price, using fallback plan",
			"event_id", ev.ID,
			"price_id", priceID,
			"plan", plan,
		)
	}

	upd := types.TenantPlanUpdate{
		TenantID:       ev.TenantID,
		Plan:           plan,
		SubscriptionID: types.SetTo(ev.SubscriptionID),
	}
	if ev.CustomerID != "" {
		upd.CustomerID = types.SetTo(ev.CustomerID)
	}

	return r.write(ctx, ev.EventMeta, upd)
}

func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, ev SubscriptionUpdated) (Outcome, error) {
	if ev.SubscriptionID == "" {
		r.logger.WarnContext(ctx, "subscription update without subscription id", "event_id", ev.ID)
		return OutcomeSkipped, nil
	}
	if ev.ItemCount > 1 {
		r.logger.WarnContext(ctx, "subscription has multiple items, using the first",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
			"items", ev.ItemCount,
		)
	}

	plan, ok := r.registry.Resolve(ev.PriceID)
	if !ok {
		r.logger.WarnContext(ctx, "unmapped subscription price, downgrading to free",
			"event_id", ev.ID,
			"subscription_id", ev.SubscriptionID,
			"price_id", ev.PriceID,
		)
		plan = types.PlanFree
	}

	return r.write(ctx, ev.EventMeta, types.TenantPlanUpdate{
		MatchSubscriptionID: ev.SubscriptionID,
		Plan:                plan,
	})
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) (Outcome, error) {
	if ev.SubscriptionID == "" {
		r.logger.WarnContext(ctx, "subscription deletion without subscription id", "event_id", ev.ID)
		return OutcomeSkipped, nil
	}

	return r.write(ctx, ev.EventMeta, types.TenantPlanUpdate{
		MatchSubscriptionID: ev.SubscriptionID,
		Plan:                types.PlanFree,
		SubscriptionID:      types.SetNull(),
	})
}

func (r *Reconciler) write(ctx context.Context, meta EventMeta, upd types.TenantPlanUpdate) (Outcome, error) {
	tp, err := r.store.AtomicUpdateTenantPlan(ctx, upd)
	if err != nil {
		if types.IsNotFound(err) || types.IsConflict(err) {
			r.logger.WarnContext(ctx, "billing event matched no tenant",
				"event_id", meta.ID,
				"event_type", meta.Type,
				"tenant_id", upd.TenantID,
				"subscription_id", upd.MatchSubscriptionID,
				"error", err,
			)
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, err
	}

	r.logger.InfoContext(ctx, "tenant plan updated",
		"event_id", meta.ID,
		"event_type", meta.Type,
		"tenant_id", tp.TenantID,
		"plan", tp.Plan,
	)
	return OutcomeApplied, nil
}
