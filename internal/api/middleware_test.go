package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/rekindle/internal/redis"
)

type stubChecker struct {
	result *redis.RateLimitResult
	err    error
	keys   []string
}

func (s *stubChecker) Check(ctx context.Context, key string) (*redis.RateLimitResult, error) {
	s.keys = append(s.keys, key)
	return s.result, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8:1234"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	wrapped := RateLimitMiddleware(nil, zap.NewNop(), IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_Allowed(t *testing.T) {
	checker := &stubChecker{result: &redis.RateLimitResult{Allowed: true, Remaining: 7, ResetAt: time.Unix(1700000000, 0)}}
	wrapped := RateLimitMiddleware(checker, zap.NewNop(), IPKeyFunc)(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "7" {
		t.Errorf("expected remaining 7, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != "1700000000" {
		t.Errorf("expected reset 1700000000, got %q", got)
	}
	if len(checker.keys) != 1 || checker.keys[0] != "ip:10.0.0.1:5555" {
		t.Errorf("unexpected keys %v", checker.keys)
	}
}

func TestRateLimitMiddleware_Denied(t *testing.T) {
	checker := &stubChecker{result: &redis.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(30 * time.Second)}}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	wrapped := RateLimitMiddleware(checker, zap.NewNop(), IPKeyFunc)(next)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if called {
		t.Error("next handler should not run when the limit is exceeded")
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
}

func TestRateLimitMiddleware_LimiterErrorFailsOpen(t *testing.T) {
	checker := &stubChecker{err: errors.New("redis down")}
	wrapped := RateLimitMiddleware(checker, zap.NewNop(), IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_EmptyKeySkipsCheck(t *testing.T) {
	checker := &stubChecker{}
	wrapped := RateLimitMiddleware(checker, zap.NewNop(), func(*http.Request) string { return "" })(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(checker.keys) != 0 {
		t.Errorf("limiter should not be consulted, got keys %v", checker.keys)
	}
}
