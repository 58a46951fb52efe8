package billing

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

// EventMeta is the envelope shared by all billing events.
type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

// Meta returns the envelope.
func (m EventMeta) Meta() EventMeta { return m }

// Event is a decoded, already-verified Stripe event. The concrete type is one
// of CheckoutCompleted, SubscriptionUpdated, SubscriptionDeleted or
// UnknownEvent.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// CheckoutCompleted is checkout.session.completed. PriceID is only set when
// the session carried an expanded subscription.
type CheckoutCompleted struct {
	EventMeta
	TenantID       string
	SubscriptionID string
	CustomerID     string
	PriceID        string
}

// SubscriptionUpdated is customer.subscription.updated. PriceID comes from the
// first subscription item; ItemCount records how many items were present.
type SubscriptionUpdated struct {
	EventMeta
	SubscriptionID string
	PriceID        string
	ItemCount      int
}

// SubscriptionDeleted is customer.subscription.deleted.
type SubscriptionDeleted struct {
	EventMeta
	SubscriptionID string
}

// UnknownEvent is any event type the reconciler does not act on.
type UnknownEvent struct {
	EventMeta
}

func (CheckoutCompleted) isEvent()   {}
func (SubscriptionUpdated) isEvent() {}
func (SubscriptionDeleted) isEvent() {}
func (UnknownEvent) isEvent()        {}

// Event kinds, used as metric labels.
const (
	KindCheckoutCompleted   = "checkout_completed"
	KindSubscriptionUpdated = "subscription_updated"
	KindSubscriptionDeleted = "subscription_deleted"
	KindUnknown             = "unknown"
)

// KindOf returns the metric label for e.
func KindOf(e Event) string {
	switch e.(type) {
	case CheckoutCompleted:
		return KindCheckoutCompleted
	case SubscriptionUpdated:
		return KindSubscriptionUpdated
	case SubscriptionDeleted:
		return KindSubscriptionDeleted
	default:
		return KindUnknown
	}
}

// DecodeEvent turns a verified webhook payload into an Event. Only an
// unparseable envelope is an error; missing fields inside a known event
// degrade to empty strings.
func DecodeEvent(payload []byte) (Event, error) {
	var env stripe.Event
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}

	meta := EventMeta{
		ID:   env.ID,
		Type: string(env.Type),
	}
	if env.Created > 0 {
		meta.Created = time.Unix(env.Created, 0).UTC()
	}

	var raw json.RawMessage
	if env.Data != nil {
		raw = env.Data.Raw
	}

	switch env.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := decodeObject(raw, &s); err != nil {
			return nil, err
		}
		return checkoutFromSession(meta, &s), nil

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := decodeObject(raw, &sub); err != nil {
			return nil, err
		}
		priceID, n := firstPrice(&sub)
		return SubscriptionUpdated{EventMeta: meta, SubscriptionID: sub.ID, PriceID: priceID, ItemCount: n}, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeObject(raw, &sub); err != nil {
			return nil, err
		}
		return SubscriptionDeleted{EventMeta: meta, SubscriptionID: sub.ID}, nil

	default:
		return UnknownEvent{EventMeta: meta}, nil
	}
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode stripe event object: %w", err)
	}
	return nil
}

func checkoutFromSession(meta EventMeta, s *stripe.CheckoutSession) CheckoutCompleted {
	out := CheckoutCompleted{EventMeta: meta, TenantID: s.ClientReferenceID}
	if out.TenantID == "" && s.Metadata != nil {
		out.TenantID = s.Metadata["tenant_id"]
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
		out.PriceID, _ = firstPrice(s.Subscription)
	}
	return out
}

// firstPrice returns the price of item 0 and the number of items.
func firstPrice(sub *stripe.Subscription) (string, int) {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", 0
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return "", len(sub.Items.Data)
	}
	return item.Price.ID, len(sub.Items.Data)
}
