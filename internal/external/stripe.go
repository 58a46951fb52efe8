package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"tenantgate/internal/types"
)

const defaultStripeAPIBase = "https://api.stripe.com"

// StripeClientConfig configures a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string
	Logger    *slog.Logger
}

// StripeClient reads subscription state from the Stripe REST API through
// BaseClient. It is the price source for checkout events that do not embed
// their subscription.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient builds a client with the default retry policy and a
// breaker named "stripe".
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	base := NewBaseClient(httpClient, BreakerSettings{Name: "stripe"}, DefaultRetryPolicy(), "tenantgate/1.0", opts...)
	return newStripeClient(base, cfg)
}

func newStripeClient(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultStripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// GetSubscriptionPriceID returns the price id of the first item of the
// subscription. An unknown subscription is not_found_subscription; a
// subscription without items returns "".
func (s *StripeClient) GetSubscriptionPriceID(ctx context.Context, subscriptionID string) (string, error) {
	if subscriptionID == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "subscription id is required", nil)
	}

	resp, err := s.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", handleStripeError(resp, "GetSubscriptionPriceID")
	}

	var sub stripe.Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe subscription", err)
	}

	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		s.logger.WarnContext(ctx, "stripe subscription has no priced items", "subscription_id", subscriptionID)
		return "", nil
	}
	if n := len(sub.Items.Data); n > 1 {
		s.logger.InfoContext(ctx, "stripe subscription has several items; using the first",
			"subscription_id", subscriptionID, "items", n)
	}
	return sub.Items.Data[0].Price.ID, nil
}

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := s.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	return s.base.Do(req)
}

type stripeErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleStripeError maps a non-200 Stripe response to an AppError. 404
// becomes not_found_subscription; everything else is upstream_stripe.
func handleStripeError(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var env stripeErrorEnvelope
	msg := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}

	if resp.StatusCode == http.StatusNotFound {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, fmt.Sprintf("%s: %s", op, msg), nil)
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe returned %d: %s", op, resp.StatusCode, msg),
		nil,
		map[string]any{"stripe_code": env.Error.Code, "stripe_type": env.Error.Type},
	)
}
