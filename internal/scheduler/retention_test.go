package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tenantgate/internal/billing"
	"tenantgate/internal/types"
)

// memoryRetentionStore keeps events per tenant and applies the same
// created_at < cutoff rule as the SQL repository.
type memoryRetentionStore struct {
	mu       sync.Mutex
	tenants  []types.TenantPlan
	events   map[string][]time.Time
	failFor  map[string]error
	stall    map[string]bool
	listErr  error
	pageArgs []string
}

func (s *memoryRetentionStore) ListTenantPlans(_ context.Context, afterID string, limit int) ([]types.TenantPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageArgs = append(s.pageArgs, afterID)
	if s.listErr != nil {
		return nil, s.listErr
	}

	sorted := append([]types.TenantPlan(nil), s.tenants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TenantID < sorted[j].TenantID })

	var out []types.TenantPlan
	for _, tp := range sorted {
		if tp.TenantID > afterID {
			out = append(out, tp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryRetentionStore) DeleteEventsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	if s.stall[tenantID] {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[tenantID]; err != nil {
		return 0, err
	}
	var kept []time.Time
	var deleted int64
	for _, at := range s.events[tenantID] {
		if at.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, at)
	}
	s.events[tenantID] = kept
	return deleted, nil
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, lockID, workerID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocker) Release(ctx context.Context, lockID, workerID string) error {
	return m.Called(ctx, lockID, workerID).Error(0)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Start(ctx context.Context, jobType string) (int64, error) {
	args := m.Called(ctx, jobType)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRecorder) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	return m.Called(ctx, id, status, items, jobErr).Error(0)
}

type fakePurger struct {
	calls int
	err   error
}

func (p *fakePurger) PurgeExpired(context.Context) (int64, error) {
	p.calls++
	return 3, p.err
}

type fakeRetentionMetrics struct {
	deleted  int64
	tenants  int
	failures int
}

func (m *fakeRetentionMetrics) RecordRetentionRun(deleted int64, tenants, failures int) {
	m.deleted, m.tenants, m.failures = deleted, tenants, failures
}

func testRegistry(t *testing.T) *billing.Registry {
	t.Helper()
	reg, err := billing.NewRegistry(billing.DefaultPlans(), nil, types.PlanPro)
	require.NoError(t, err)
	return reg
}

var runNow = time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return runNow.Add(-time.Duration(n) * 24 * time.Hour) }

func TestRetention_ProPlanKeepsThirtyDays(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{{TenantID: "t-pro", Plan: types.PlanPro}},
		events:  map[string][]time.Time{"t-pro": {daysAgo(45), daysAgo(10)}},
	}
	svc := NewRetentionService(RetentionServiceConfig{Store: store, Registry: testRegistry(t)})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.DeletedCount)
	assert.Equal(t, 1, res.TenantsProcessed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "retention run completed", res.Message)
	assert.Equal(t, []time.Time{daysAgo(10)}, store.events["t-pro"])
}

func TestRetention_PerPlanCutoffs(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{
			{TenantID: "a-free", Plan: types.PlanFree},
			{TenantID: "b-ent", Plan: types.PlanEnterprise},
			{TenantID: "c-unknown", Plan: "legacy"},
		},
		events: map[string][]time.Time{
			"a-free":    {daysAgo(8), daysAgo(6)},
			"b-ent":     {daysAgo(400), daysAgo(200)},
			"c-unknown": {daysAgo(8)},
		},
	}
	svc := NewRetentionService(RetentionServiceConfig{Store: store, Registry: testRegistry(t)})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.DeletedCount)
	assert.Equal(t, 3, res.TenantsProcessed)
	assert.Len(t, store.events["b-ent"], 1)
}

func TestRetention_CutoffIsStrict(t *testing.T) {
	svc := NewRetentionService(RetentionServiceConfig{Registry: testRegistry(t)})
	cutoff := svc.Cutoff(types.PlanPro, runNow)
	assert.Equal(t, daysAgo(30), cutoff)

	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{{TenantID: "t", Plan: types.PlanPro}},
		events:  map[string][]time.Time{"t": {cutoff}},
	}
	svc = NewRetentionService(RetentionServiceConfig{Store: store, Registry: testRegistry(t)})
	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Zero(t, res.DeletedCount, "an event exactly at the cutoff is kept")
}

func TestRetention_TenantFailureDoesNotAbort(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{
			{TenantID: "t1", Plan: types.PlanFree},
			{TenantID: "t2", Plan: types.PlanFree},
			{TenantID: "t3", Plan: types.PlanFree},
		},
		events: map[string][]time.Time{
			"t1": {daysAgo(30)},
			"t3": {daysAgo(30)},
		},
		failFor: map[string]error{"t2": errors.New("statement timeout")},
	}
	metrics := &fakeRetentionMetrics{}
	svc := NewRetentionService(RetentionServiceConfig{Store: store, Registry: testRegistry(t), Metrics: metrics})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.DeletedCount)
	assert.Equal(t, 3, res.TenantsProcessed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "t2", res.Errors[0].TenantID)
	assert.Contains(t, res.Errors[0].Error, "statement timeout")
	assert.Contains(t, res.Message, "1 tenant errors")

	assert.Equal(t, int64(2), metrics.deleted)
	assert.Equal(t, 1, metrics.failures)
}

func TestRetention_SecondRunDeletesNothing(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{
			{TenantID: "t1", Plan: types.PlanFree},
			{TenantID: "t2", Plan: types.PlanPro},
		},
		events: map[string][]time.Time{
			"t1": {daysAgo(10), daysAgo(1)},
			"t2": {daysAgo(10)},
		},
	}
	svc := NewRetentionService(RetentionServiceConfig{Store: store, Registry: testRegistry(t)})

	first, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.DeletedCount)

	second, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Zero(t, second.DeletedCount)
	assert.Equal(t, first.TenantsProcessed, second.TenantsProcessed)
	assert.Equal(t, []time.Time{daysAgo(1)}, store.events["t1"])
	assert.Equal(t, []time.Time{daysAgo(10)}, store.events["t2"])
}

func TestRetention_StalledTenantTimesOutAndLaterTenantsRun(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{
			{TenantID: "a", Plan: types.PlanFree},
			{TenantID: "b", Plan: types.PlanFree},
		},
		events: map[string][]time.Time{"b": {daysAgo(30)}},
		stall:  map[string]bool{"a": true},
	}
	svc := NewRetentionService(RetentionServiceConfig{
		Store:    store,
		Registry: testRegistry(t),
		Config: RetentionConfig{
			BatchSize:     1,
			Concurrency:   1,
			TenantTimeout: 50 * time.Millisecond,
			RunTimeout:    5 * time.Second,
		},
	})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)
	assert.Equal(t, 2, res.TenantsProcessed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a", res.Errors[0].TenantID)
	assert.Contains(t, res.Errors[0].Error, context.DeadlineExceeded.Error())
	assert.Empty(t, store.events["b"])
}

func TestRetention_RunTimeoutBoundsTheRun(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{{TenantID: "a", Plan: types.PlanFree}, {TenantID: "b", Plan: types.PlanFree}},
		events:  map[string][]time.Time{},
		stall:   map[string]bool{"a": true},
	}
	svc := NewRetentionService(RetentionServiceConfig{
		Store:    store,
		Registry: testRegistry(t),
		Config: RetentionConfig{
			BatchSize:     1,
			Concurrency:   1,
			TenantTimeout: time.Minute,
			RunTimeout:    30 * time.Millisecond,
		},
	})

	res, err := svc.Run(context.Background(), runNow)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "retention run aborted", res.Message)
}

func TestRetention_PagesByKeyset(t *testing.T) {
	store := &memoryRetentionStore{events: map[string][]time.Time{}}
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("t%02d", i)
		store.tenants = append(store.tenants, types.TenantPlan{TenantID: id, Plan: types.PlanFree})
		store.events[id] = []time.Time{daysAgo(100)}
	}
	svc := NewRetentionService(RetentionServiceConfig{
		Store:    store,
		Registry: testRegistry(t),
		Config:   RetentionConfig{BatchSize: 3, Concurrency: 2},
	})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, 7, res.TenantsProcessed)
	assert.Equal(t, int64(7), res.DeletedCount)
	assert.Equal(t, []string{"", "t02", "t05"}, store.pageArgs)
}

func TestRetention_FullLastPageTriggersOneMoreQuery(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{{TenantID: "a"}, {TenantID: "b"}},
		events:  map[string][]time.Time{},
	}
	svc := NewRetentionService(RetentionServiceConfig{
		Store: store, Registry: testRegistry(t), Config: RetentionConfig{BatchSize: 2},
	})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TenantsProcessed)
	assert.Equal(t, []string{"", "b"}, store.pageArgs)
}

func TestRetention_ListFailureAborts(t *testing.T) {
	store := &memoryRetentionStore{listErr: types.NewAppError(types.ErrCodeInternalDB, "failed to list tenants", nil)}
	history := new(mockRecorder)
	history.On("Start", mock.Anything, JobRetention).Return(int64(9), nil)
	history.On("Finish", mock.Anything, int64(9), "failed", 0, mock.Anything).Return(nil)

	svc := NewRetentionService(RetentionServiceConfig{Store: store, Registry: testRegistry(t), History: history})

	res, err := svc.Run(context.Background(), runNow)
	assert.Equal(t, types.ErrCodeInternalDB, types.ErrorCodeOf(err))
	assert.Equal(t, "retention run aborted", res.Message)
	history.AssertExpectations(t)
}

func TestRetention_LockHeldElsewhere(t *testing.T) {
	store := &memoryRetentionStore{}
	locks := new(mockLocker)
	locks.On("Acquire", mock.Anything, JobRetention, mock.Anything, 15*time.Minute).Return(false, nil)

	svc := NewRetentionService(RetentionServiceConfig{Store: store, Registry: testRegistry(t), Locks: locks})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, "retention run already in progress", res.Message)
	assert.Zero(t, res.DeletedCount)
	assert.Empty(t, store.pageArgs)
	locks.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetention_LockReleasedAndHistoryRecorded(t *testing.T) {
	store := &memoryRetentionStore{
		tenants: []types.TenantPlan{{TenantID: "t1", Plan: types.PlanFree}},
		events:  map[string][]time.Time{"t1": {daysAgo(9)}},
	}
	locks := new(mockLocker)
	locks.On("Acquire", mock.Anything, JobRetention, mock.Anything, time.Minute).Return(true, nil)
	locks.On("Release", mock.Anything, JobRetention, mock.Anything).Return(nil)

	history := new(mockRecorder)
	history.On("Start", mock.Anything, JobRetention).Return(int64(1), nil)
	history.On("Finish", mock.Anything, int64(1), "success", 1, nil).Return(nil)

	purger := &fakePurger{}
	svc := NewRetentionService(RetentionServiceConfig{
		Store:    store,
		Registry: testRegistry(t),
		Locks:    locks,
		History:  history,
		Counters: purger,
		Config:   RetentionConfig{LockTTL: time.Minute},
	})

	res, err := svc.Run(context.Background(), runNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)
	assert.Equal(t, 1, purger.calls)
	locks.AssertExpectations(t)
	history.AssertExpectations(t)
}

func TestRetention_LockErrorIsReturned(t *testing.T) {
	locks := new(mockLocker)
	locks.On("Acquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", nil))

	svc := NewRetentionService(RetentionServiceConfig{Store: &memoryRetentionStore{}, Registry: testRegistry(t), Locks: locks})
	_, err := svc.Run(context.Background(), runNow)
	assert.Equal(t, types.ErrCodeInternalDB, types.ErrorCodeOf(err))
}

func TestRetention_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewRetentionService(RetentionServiceConfig{Store: &memoryRetentionStore{}, Registry: testRegistry(t)})
	_, err := svc.Run(ctx, runNow)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetentionPayload_Now(t *testing.T) {
	ref := time.Date(2026, 2, 6, 3, 0, 0, 0, time.FixedZone("x", 3600))
	assert.Equal(t, ref.UTC(), RetentionPayload{ReferenceTime: &ref}.Now())
	assert.WithinDuration(t, time.Now(), RetentionPayload{}.Now(), time.Second)
}
