package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aerodocs/aipdeck/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := Middleware(nil, IPKeyFunc, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareDeniesWithEnvelope(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer func() { _ = m.Close() }()

	reqID := func(r *http.Request) string { return "req-123" }
	h := Middleware(m, IPKeyFunc, reqID)(okHandler())

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
	var apiErr model.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if apiErr.Error.Code != model.ErrCodeRateLimited {
		t.Errorf("error code = %q, want %q", apiErr.Error.Code, model.ErrCodeRateLimited)
	}
	if apiErr.Meta.RequestID != "req-123" {
		t.Errorf("request id = %q, want req-123", apiErr.Meta.RequestID)
	}
}

func TestMiddlewareDifferentIPsIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer func() { _ = m.Close() }()
	h := Middleware(m, IPKeyFunc, nil)(okHandler())

	for _, addr := range []string{"10.0.0.1:5000", "10.0.0.2:5000"} {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("first request from %s: status = %d, want 200", addr, rec.Code)
		}
	}
}

type errLimiter struct{}

func (errLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("limiter down")
}
func (errLimiter) Close() error { return nil }

func TestMiddlewareFailsOpen(t *testing.T) {
	h := Middleware(errLimiter{}, IPKeyFunc, nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("limiter errors must fail open, status = %d", rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		remoteAddr string
		xff        string
		want       string
	}{
		{"10.0.0.1:5000", "", "10.0.0.1"},
		{"10.0.0.1:5000", "1.2.3.4", "10.0.0.1"}, // X-Forwarded-For is not trusted.
		{"[::1]:8080", "", "[::1]"},
		{"bare-host", "", "bare-host"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if tt.xff != "" {
			req.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := IPKeyFunc(req); got != tt.want {
			t.Errorf("IPKeyFunc(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
