package external

import (
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"tenantgate/internal/types"
)

const testWebhookSecret = "whsec_test_secret"

func signedHeader(payload []byte, secret string, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
		Scheme:    "v1",
	}).Header
}

func TestStripeVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	v := NewStripeVerifier(types.SecretString(testWebhookSecret), 5*time.Minute)

	tests := []struct {
		name    string
		payload []byte
		header  string
		wantErr bool
	}{
		{"valid", payload, signedHeader(payload, testWebhookSecret, time.Now()), false},
		{"missing header", payload, "", true},
		{"wrong secret", payload, signedHeader(payload, "whsec_other", time.Now()), true},
		{"tampered body", []byte(`{"id":"evt_2"}`), signedHeader(payload, testWebhookSecret, time.Now()), true},
		{"too old", payload, signedHeader(payload, testWebhookSecret, time.Now().Add(-10*time.Minute)), true},
		{"garbage", payload, "t=abc,v1=zz", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.payload, tt.header)
			if tt.wantErr {
				if got := types.ErrorCodeOf(err); got != types.ErrCodeUpstreamSignature {
					t.Fatalf("code = %s, want %s", got, types.ErrCodeUpstreamSignature)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStripeVerifier_NoSecretConfigured(t *testing.T) {
	payload := []byte(`{}`)
	v := NewStripeVerifier("", 0)
	if err := v.Verify(payload, signedHeader(payload, testWebhookSecret, time.Now())); err == nil {
		t.Fatal("expected rejection without a configured secret")
	}
}
