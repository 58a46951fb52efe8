package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tenantgate/internal/types"
)

const testTenantID = "7f1c2a52-4a8e-4c4e-9a51-7b1f0e3c9d10"

type mockPlanWriter struct {
	mock.Mock
}

func (m *mockPlanWriter) AtomicUpdateTenantPlan(ctx context.Context, upd types.TenantPlanUpdate) (types.TenantPlan, error) {
	args := m.Called(ctx, upd)
	return args.Get(0).(types.TenantPlan), args.Error(1)
}

type mockPriceFetcher struct {
	mock.Mock
}

func (m *mockPriceFetcher) GetSubscriptionPriceID(ctx context.Context, subscriptionID string) (string, error) {
	args := m.Called(ctx, subscriptionID)
	return args.String(0), args.Error(1)
}

type recordedEvent struct{ kind, outcome string }

type fakeRecorder struct {
	events []recordedEvent
}

func (f *fakeRecorder) RecordBillingEvent(kind, outcome string) {
	f.events = append(f.events, recordedEvent{kind, outcome})
}

func setupReconciler(t *testing.T) (*Reconciler, *mockPlanWriter, *mockPriceFetcher, *fakeRecorder) {
	t.Helper()
	store := new(mockPlanWriter)
	prices := new(mockPriceFetcher)
	rec := &fakeRecorder{}
	r := NewReconciler(ReconcilerConfig{
		Registry: newTestRegistry(t),
		Store:    store,
		Prices:   prices,
		Metrics:  rec,
	})
	return r, store, prices, rec
}

func TestApply_CheckoutWritesPlanSubscriptionAndCustomer(t *testing.T) {
	r, store, prices, rec := setupReconciler(t)

	prices.On("GetSubscriptionPriceID", mock.Anything, "sub_1").Return("price_ent", nil)
	store.On("AtomicUpdateTenantPlan", mock.Anything, types.TenantPlanUpdate{
		TenantID:       testTenantID,
		Plan:           types.PlanEnterprise,
		SubscriptionID: types.SetTo("sub_1"),
		CustomerID:     types.SetTo("cus_1"),
	}).Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanEnterprise}, nil)

	out, err := r.Apply(context.Background(), CheckoutCompleted{
		EventMeta:      EventMeta{ID: "evt_1"},
		TenantID:       testTenantID,
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	store.AssertExpectations(t)
	prices.AssertExpectations(t)
	assert.Equal(t, []recordedEvent{{KindCheckoutCompleted, "applied"}}, rec.events)
}

func TestApply_CheckoutUsesEmbeddedPriceWithoutFetching(t *testing.T) {
	r, store, prices, _ := setupReconciler(t)

	store.On("AtomicUpdateTenantPlan", mock.Anything, mock.MatchedBy(func(u types.TenantPlanUpdate) bool {
		return u.Plan == types.PlanPro && u.TenantID == testTenantID
	})).Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanPro}, nil)

	out, err := r.Apply(context.Background(), CheckoutCompleted{
		TenantID:       testTenantID,
		SubscriptionID: "sub_1",
		PriceID:        "price_pro",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	prices.AssertNotCalled(t, "GetSubscriptionPriceID", mock.Anything, mock.Anything)
}

func TestApply_CheckoutUnknownPriceUsesFallbackPaidTier(t *testing.T) {
	r, store, prices, _ := setupReconciler(t)

	prices.On("GetSubscriptionPriceID", mock.Anything, "sub_1").Return("price_mystery", nil)
	store.On("AtomicUpdateTenantPlan", mock.Anything, mock.MatchedBy(func(u types.TenantPlanUpdate) bool {
		return u.Plan == types.PlanPro && !u.CustomerID.Set
	})).Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanPro}, nil)

	out, err := r.Apply(context.Background(), CheckoutCompleted{TenantID: testTenantID, SubscriptionID: "sub_1"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	store.AssertExpectations(t)
}

func TestApply_CheckoutStripeNotFoundUsesFallback(t *testing.T) {
	r, store, prices, _ := setupReconciler(t)

	prices.On("GetSubscriptionPriceID", mock.Anything, "sub_1").
		Return("", types.NewAppError(types.ErrCodeNotFoundTenant, "gone", nil))
	store.On("AtomicUpdateTenantPlan", mock.Anything, mock.MatchedBy(func(u types.TenantPlanUpdate) bool {
		return u.Plan == types.PlanPro
	})).Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanPro}, nil)

	out, err := r.Apply(context.Background(), CheckoutCompleted{TenantID: testTenantID, SubscriptionID: "sub_1"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
}

func TestApply_CheckoutStripeUnavailableFails(t *testing.T) {
	r, store, prices, rec := setupReconciler(t)

	upstream := types.NewAppError(types.ErrCodeUpstreamUnavailable, "stripe down", nil)
	prices.On("GetSubscriptionPriceID", mock.Anything, "sub_1").Return("", upstream)

	out, err := r.Apply(context.Background(), CheckoutCompleted{TenantID: testTenantID, SubscriptionID: "sub_1"})

	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, OutcomeFailed, out)
	store.AssertNotCalled(t, "AtomicUpdateTenantPlan", mock.Anything, mock.Anything)
	assert.Equal(t, "failed", rec.events[0].outcome)
}

func TestApply_CheckoutSkipsBadReferences(t *testing.T) {
	r, store, _, _ := setupReconciler(t)

	out, err := r.Apply(context.Background(), CheckoutCompleted{TenantID: "not-a-uuid", SubscriptionID: "sub_1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)

	out, err = r.Apply(context.Background(), CheckoutCompleted{TenantID: testTenantID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)

	store.AssertNotCalled(t, "AtomicUpdateTenantPlan", mock.Anything, mock.Anything)
}

func TestApply_SubscriptionUpdatedMapsPrice(t *testing.T) {
	r, store, _, _ := setupReconciler(t)

	store.On("AtomicUpdateTenantPlan", mock.Anything, types.TenantPlanUpdate{
		MatchSubscriptionID: "sub_1",
		Plan:                types.PlanEnterprise,
	}).Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanEnterprise}, nil)

	out, err := r.Apply(context.Background(), SubscriptionUpdated{SubscriptionID: "sub_1", PriceID: "price_ent", ItemCount: 1})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	store.AssertExpectations(t)
}

func TestApply_SubscriptionUpdatedUnknownPriceFallsBackToFree(t *testing.T) {
	r, store, _, _ := setupReconciler(t)

	store.On("AtomicUpdateTenantPlan", mock.Anything, types.TenantPlanUpdate{
		MatchSubscriptionID: "sub_1",
		Plan:                types.PlanFree,
	}).Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanFree}, nil)

	out, err := r.Apply(context.Background(), SubscriptionUpdated{SubscriptionID: "sub_1", PriceID: "price_mystery", ItemCount: 3})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	store.AssertExpectations(t)
}

func TestApply_SubscriptionDeletedClearsSubscription(t *testing.T) {
	r, store, _, _ := setupReconciler(t)

	store.On("AtomicUpdateTenantPlan", mock.Anything, types.TenantPlanUpdate{
		MatchSubscriptionID: "sub_1",
		Plan:                types.PlanFree,
		SubscriptionID:      types.SetNull(),
	}).Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanFree}, nil)

	out, err := r.Apply(context.Background(), SubscriptionDeleted{SubscriptionID: "sub_1"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	store.AssertExpectations(t)
}

func TestApply_ReplayIsHarmless(t *testing.T) {
	r, store, _, _ := setupReconciler(t)

	ev := SubscriptionDeleted{EventMeta: EventMeta{ID: "evt_dup"}, SubscriptionID: "sub_1"}
	store.On("AtomicUpdateTenantPlan", mock.Anything, mock.Anything).
		Return(types.TenantPlan{TenantID: testTenantID, Plan: types.PlanFree}, nil).Twice()

	for i := 0; i < 2; i++ {
		out, err := r.Apply(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, out)
	}
	store.AssertNumberOfCalls(t, "AtomicUpdateTenantPlan", 2)
}

func TestApply_NoMatchingTenantIsSkipped(t *testing.T) {
	r, store, _, rec := setupReconciler(t)

	store.On("AtomicUpdateTenantPlan", mock.Anything, mock.Anything).
		Return(types.TenantPlan{}, types.NewAppError(types.ErrCodeNotFoundTenant, "no tenant", nil))

	out, err := r.Apply(context.Background(), SubscriptionDeleted{SubscriptionID: "sub_orphan"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Equal(t, []recordedEvent{{KindSubscriptionDeleted, "skipped"}}, rec.events)
}

func TestApply_PersistenceFailureIsReturned(t *testing.T) {
	r, store, _, _ := setupReconciler(t)

	dbErr := types.NewAppError(types.ErrCodeInternalDB, "db down", errors.New("conn refused"))
	store.On("AtomicUpdateTenantPlan", mock.Anything, mock.Anything).Return(types.TenantPlan{}, dbErr)

	out, err := r.Apply(context.Background(), SubscriptionUpdated{SubscriptionID: "sub_1", PriceID: "price_pro"})

	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, OutcomeFailed, out)
}

func TestApply_UnknownEventIgnored(t *testing.T) {
	r, store, _, rec := setupReconciler(t)

	out, err := r.Apply(context.Background(), UnknownEvent{EventMeta: EventMeta{Type: "invoice.paid"}})

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	store.AssertNotCalled(t, "AtomicUpdateTenantPlan", mock.Anything, mock.Anything)
	assert.Equal(t, []recordedEvent{{KindUnknown, "ignored"}}, rec.events)
}
