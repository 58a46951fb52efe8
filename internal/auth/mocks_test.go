package auth

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"tenantgate/internal/types"
)

type mockKeyStore struct {
	mock.Mock
}

func (m *mockKeyStore) FindAccessKey(ctx context.Context, keyHash string) (types.AccessKey, error) {
	args := m.Called(ctx, keyHash)
	return args.Get(0).(types.AccessKey), args.Error(1)
}

func (m *mockKeyStore) TouchLastUsed(ctx context.Context, keyID string) error {
	return m.Called(ctx, keyID).Error(0)
}

type mockKeyWriter struct {
	mock.Mock
}

func (m *mockKeyWriter) Create(ctx context.Context, k *types.AccessKey) error {
	return m.Called(ctx, k).Error(0)
}

type mockKeyLimiter struct {
	mock.Mock
}

func (m *mockKeyLimiter) CheckKeyLimit(ctx context.Context, tenantID string, count int) error {
	return m.Called(ctx, tenantID, count).Error(0)
}

type mockEmailChecker struct {
	mock.Mock
}

func (m *mockEmailChecker) EmailExists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

type mockUserCreator struct {
	mock.Mock
}

func (m *mockUserCreator) Create(ctx context.Context, u *types.User) error {
	return m.Called(ctx, u).Error(0)
}

type mockTenantCreator struct {
	mock.Mock
}

func (m *mockTenantCreator) Create(ctx context.Context, t *types.Tenant) error {
	return m.Called(ctx, t).Error(0)
}

// fakeTx runs the callback with the configured writers, recording whether
// it committed.
type fakeTx struct {
	users     *mockUserCreator
	tenants   *mockTenantCreator
	committed bool
}

func (f *fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context, users UserCreator, tenants TenantCreator) error) error {
	if err := fn(ctx, f.users, f.tenants); err != nil {
		return err
	}
	f.committed = true
	return nil
}

// fakeKeyTx hands the configured writer and limiter to the callback while
// holding a per-tenant mutex, the in-memory stand-in for the row lock.
type fakeKeyTx struct {
	keys    KeyWriter
	limiter KeyLimiter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (f *fakeKeyTx) WithTenantLock(ctx context.Context, tenantID string, fn func(ctx context.Context, keys KeyWriter, limiter KeyLimiter) error) error {
	f.mu.Lock()
	if f.locks == nil {
		f.locks = make(map[string]*sync.Mutex)
	}
	l, ok := f.locks[tenantID]
	if !ok {
		l = new(sync.Mutex)
		f.locks[tenantID] = l
	}
	f.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx, f.keys, f.limiter)
}

type plainHasher struct{ err error }

func (h plainHasher) GenerateFromPassword(p string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + p, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
