package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"tenantgate/internal/config"
)

// testLogger discards everything below error.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Auth.SchedulerSecret = "scheduler-secret-0123456789"
	srv, err := NewServer(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

// decodeError reads the error envelope from a recorded response.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestNewServer_Success(t *testing.T) {
	cfg := &config.Config{Environment: "local"}
	srv, err := NewServer(cfg, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Config != cfg {
		t.Error("Config not set")
	}
	if srv.Validator == nil {
		t.Error("Validator not initialized")
	}
	if srv.Router() == nil || srv.Handler() == nil {
		t.Error("router not initialized")
	}
}

func TestNewServer_NilConfig(t *testing.T) {
	if _, err := NewServer(nil, testLogger()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewServer_NilLogger(t *testing.T) {
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestShutdown_RunsHooksInReverseOrder(t *testing.T) {
	srv := newTestServer(t)
	var order []int
	srv.OnShutdown = []func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("hook order = %v, want [2 1]", order)
	}
}
