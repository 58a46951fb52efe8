package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"tenantgate/internal/types"
)

func signupRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/signup", nil)
	req.RemoteAddr = ip + ":5555"
	return req
}

func TestSignupRateLimit_AllowedSetsHeaders(t *testing.T) {
	srv := newTestServer(t)
	reset := time.Now().Add(time.Hour)
	store := &MockRateLimitStore{Result: types.RateLimitResult{Allowed: true, Remaining: 4, ResetAt: reset}}
	srv.RateLimitStore = store

	rec := httptest.NewRecorder()
	srv.SignupRateLimit(http.HandlerFunc(okHandler)).ServeHTTP(rec, signupRequest("192.0.2.10"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.Calls) != 1 {
		t.Fatalf("store calls = %d", len(store.Calls))
	}
	call := store.Calls[0]
	if call.Key != "signup:192.0.2.10" || call.Limit != defaultSignupLimit || call.Window != defaultSignupWindow {
		t.Errorf("call = %+v", call)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "5" || rec.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("headers = %v", rec.Header())
	}
	if rec.Header().Get("X-RateLimit-Reset") != strconv.FormatInt(reset.Unix(), 10) {
		t.Errorf("reset header = %q", rec.Header().Get("X-RateLimit-Reset"))
	}
}

func TestSignupRateLimit_SixthAttemptRejectedBeforeHandler(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.RateLimit.SignupLimit = 5
	srv.Config.RateLimit.SignupWindow = time.Hour

	count := 0
	srv.RateLimitStore = &MockRateLimitStore{
		IncrementAndCheckFunc: func(_ context.Context, _ string, limit int, window time.Duration) (types.RateLimitResult, error) {
			count++
			return types.RateLimitResult{
				Allowed:   count <= limit,
				Remaining: max(limit-count, 0),
				ResetAt:   time.Now().Add(window),
			}, nil
		},
	}

	handled := 0
	h := srv.SignupRateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled++
		w.WriteHeader(http.StatusCreated)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, signupRequest("192.0.2.20"))
	}

	if handled != 5 {
		t.Errorf("handler ran %d times, want 5", handled)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth status = %d, want 429", last.Code)
	}
	retry, err := strconv.Atoi(last.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 3600 {
		t.Errorf("Retry-After = %q", last.Header().Get("Retry-After"))
	}
	if got := decodeError(t, last).Code; got != string(types.ErrCodeRateLimit) {
		t.Errorf("code = %q", got)
	}
}

func TestSignupRateLimit_RotatingForwardedForDoesNotEvadeLimit(t *testing.T) {
	srv := newTestServer(t)
	store := &MockRateLimitStore{Result: types.RateLimitResult{Allowed: true, Remaining: 1, ResetAt: time.Now().Add(time.Hour)}}
	srv.RateLimitStore = store

	h := srv.SignupRateLimit(http.HandlerFunc(okHandler))
	for i := 0; i < 6; i++ {
		req := signupRequest("192.0.2.30")
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	for _, call := range store.Calls {
		if call.Key != "signup:192.0.2.30" {
			t.Fatalf("key = %q, want the connection address", call.Key)
		}
	}
}

func TestSignupRateLimit_TrustedProxyHop(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Server.TrustedProxyHops = 1
	store := &MockRateLimitStore{Result: types.RateLimitResult{Allowed: true, Remaining: 4, ResetAt: time.Now().Add(time.Hour)}}
	srv.RateLimitStore = store

	req := signupRequest("10.0.0.1")
	req.Header.Set("X-Forwarded-For", "203.0.113.99, 198.51.100.7")
	srv.SignupRateLimit(http.HandlerFunc(okHandler)).ServeHTTP(httptest.NewRecorder(), req)

	if len(store.Calls) != 1 || store.Calls[0].Key != "signup:198.51.100.7" {
		t.Errorf("calls = %+v", store.Calls)
	}
}

func TestSignupRateLimit_StoreErrorFailsOpen(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &MockRateLimitStore{Err: errors.New("redis down")}

	rec := httptest.NewRecorder()
	srv.SignupRateLimit(http.HandlerFunc(okHandler)).ServeHTTP(rec, signupRequest("192.0.2.30"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSignupRateLimit_NoStorePassesThrough(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.SignupRateLimit(http.HandlerFunc(okHandler)).ServeHTTP(rec, signupRequest("192.0.2.40"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		reset time.Time
		want  int
	}{
		{now.Add(90 * time.Second), 90},
		{now.Add(1500 * time.Millisecond), 2},
		{now, 1},
		{now.Add(-time.Minute), 1},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.reset, now); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.reset.Sub(now), got, tt.want)
		}
	}
}
