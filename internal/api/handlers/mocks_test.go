package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"tenantgate/internal/auth"
	"tenantgate/internal/billing"
	"tenantgate/internal/scheduler"
	"tenantgate/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withTenant returns ctx carrying an authenticated actor for tenantID.
func withTenant(ctx context.Context, actorType types.ActorType, tenantID string) context.Context {
	return types.WithActor(ctx, types.Actor{ID: "actor-1", Type: actorType, TenantID: tenantID})
}

// withURLParam attaches a chi route param so handlers can be called directly.
func withURLParam(ctx context.Context, key, value string) context.Context {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return context.WithValue(ctx, chi.RouteCtxKey, rctx)
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

// --- billing ---

type fakePlanWriter struct {
	updates []types.TenantPlanUpdate
	err     error
}

func (f *fakePlanWriter) AtomicUpdateTenantPlan(_ context.Context, upd types.TenantPlanUpdate) (types.TenantPlan, error) {
	f.updates = append(f.updates, upd)
	if f.err != nil {
		return types.TenantPlan{}, f.err
	}
	id := upd.TenantID
	if id == "" {
		id = "tenant-by-sub"
	}
	return types.TenantPlan{TenantID: id, Plan: upd.Plan}, nil
}

type fakePriceFetcher struct {
	prices map[string]string
}

func (f *fakePriceFetcher) GetSubscriptionPriceID(_ context.Context, subID string) (string, error) {
	p, ok := f.prices[subID]
	if !ok {
		return "", types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return p, nil
}

type mockApplier struct {
	applyFn func(ctx context.Context, e billing.Event) (billing.Outcome, error)
	calls   int
}

func (m *mockApplier) Apply(ctx context.Context, e billing.Event) (billing.Outcome, error) {
	m.calls++
	if m.applyFn != nil {
		return m.applyFn(ctx, e)
	}
	return billing.OutcomeApplied, nil
}

// --- retention ---

type mockRetentionRunner struct {
	runFn func(ctx context.Context, now time.Time) (scheduler.RetentionResult, error)
	calls []time.Time
}

func (m *mockRetentionRunner) Run(ctx context.Context, now time.Time) (scheduler.RetentionResult, error) {
	m.calls = append(m.calls, now)
	if m.runFn != nil {
		return m.runFn(ctx, now)
	}
	return scheduler.RetentionResult{Message: "retention run completed"}, nil
}

// --- signup ---

type mockSignupService struct {
	signupFn func(ctx context.Context, req auth.SignupRequest) (auth.SignupResult, error)
	got      *auth.SignupRequest
}

func (m *mockSignupService) Signup(ctx context.Context, req auth.SignupRequest) (auth.SignupResult, error) {
	m.got = &req
	if m.signupFn != nil {
		return m.signupFn(ctx, req)
	}
	return auth.SignupResult{UserID: "user-1", TenantID: "tenant-1"}, nil
}

// --- access keys ---

type mockAccessKeyRepo struct {
	listFn   func(ctx context.Context, tenantID string) ([]types.AccessKey, error)
	revokeFn func(ctx context.Context, keyID, tenantID string) (bool, error)

	revokeCalls int
}

func (m *mockAccessKeyRepo) List(ctx context.Context, tenantID string) ([]types.AccessKey, error) {
	if m.listFn != nil {
		return m.listFn(ctx, tenantID)
	}
	return []types.AccessKey{}, nil
}

func (m *mockAccessKeyRepo) RevokeAccessKey(ctx context.Context, keyID, tenantID string) (bool, error) {
	m.revokeCalls++
	if m.revokeFn != nil {
		return m.revokeFn(ctx, keyID, tenantID)
	}
	return false, nil
}

type mockKeyIssuer struct {
	issueFn func(ctx context.Context, tenantID, name string) (auth.IssuedKey, error)
}

func (m *mockKeyIssuer) Issue(ctx context.Context, tenantID, name string) (auth.IssuedKey, error) {
	return m.issueFn(ctx, tenantID, name)
}

// --- reads ---

type mockAlertLister struct {
	listFn func(ctx context.Context, tenantID string, p types.ListParams) ([]types.Alert, error)
}

func (m *mockAlertLister) List(ctx context.Context, tenantID string, p types.ListParams) ([]types.Alert, error) {
	return m.listFn(ctx, tenantID, p)
}

type mockCostLister struct {
	listFn func(ctx context.Context, tenantID string, p types.ListParams) ([]types.CostSummary, error)
}

func (m *mockCostLister) List(ctx context.Context, tenantID string, p types.ListParams) ([]types.CostSummary, error) {
	return m.listFn(ctx, tenantID, p)
}

type mockUsageReader struct {
	usage billing.TenantUsage
	err   error
}

func (m *mockUsageReader) GetTenantUsage(_ context.Context, tenantID string) (billing.TenantUsage, error) {
	if m.err != nil {
		return billing.TenantUsage{}, m.err
	}
	u := m.usage
	u.TenantID = tenantID
	return u, nil
}
