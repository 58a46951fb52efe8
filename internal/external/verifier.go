package external

import (
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"tenantgate/internal/types"
)

// DefaultWebhookTolerance is the maximum accepted age of a signed payload.
const DefaultWebhookTolerance = 5 * time.Minute

// StripeVerifier checks the Stripe-Signature header of webhook deliveries.
type StripeVerifier struct {
	secret    types.SecretString
	tolerance time.Duration
}

func NewStripeVerifier(secret types.SecretString, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// Verify returns upstream_signature_invalid unless header is a valid
// signature of payload made with the configured secret within the
// tolerance. The payload must be the exact bytes received.
func (v *StripeVerifier) Verify(payload []byte, header string) error {
	if header == "" {
		return types.NewAppError(types.ErrCodeUpstreamSignature, "missing Stripe-Signature header", nil)
	}
	if v.secret.IsEmpty() {
		return types.NewAppError(types.ErrCodeUpstreamSignature, "webhook secret not configured", nil)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret.Unmask(), v.tolerance); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamSignature, "invalid webhook signature", err)
	}
	return nil
}
