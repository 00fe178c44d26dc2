package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iotquery/iotquery/internal/auth"
	"github.com/iotquery/iotquery/internal/nlquery"
)

func TestAskEndpointRateLimitedPerCaller(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"IOTQUERY_QUERY_RATE_LIMIT": "0.01",
		"IOTQUERY_QUERY_RATE_BURST": "1",
	})
	h := NewHandler(cfg, Dependencies{Queries: &fakeQueryService{result: nlquery.Result{Success: true}}})

	ask := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/query/ask", strings.NewReader(`{"question":"how many alerts"}`))
		req.RemoteAddr = remoteAddr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := ask("10.0.0.1:5000"); rr.Code != http.StatusOK {
		t.Fatalf("first ask status = %d", rr.Code)
	}
	limited := ask("10.0.0.1:5001")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("second ask status = %d, want 429", limited.Code)
	}
	if !strings.Contains(limited.Body.String(), "RATE_LIMITED") || limited.Header().Get("Retry-After") == "" {
		t.Fatalf("body = %s headers = %v", limited.Body.String(), limited.Header())
	}
	if rr := ask("10.0.0.2:5000"); rr.Code != http.StatusOK {
		t.Fatalf("other caller status = %d", rr.Code)
	}
}

func TestRateLimitDoesNotApplyToReadRoutes(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"IOTQUERY_QUERY_RATE_LIMIT": "0.01",
		"IOTQUERY_QUERY_RATE_BURST": "1",
	})
	h := NewHandler(cfg, Dependencies{Queries: &fakeQueryService{}})
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/query/providers", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("providers call %d status = %d", i, rr.Code)
		}
	}
}

func TestQuestionLimiterRefillsAndPrunes(t *testing.T) {
	now := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	limiter := newQuestionLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	if delay := limiter.reserve("principal:ops"); delay != 0 {
		t.Fatalf("first reserve delay = %v", delay)
	}
	if delay := limiter.reserve("principal:ops"); delay <= 0 || delay > time.Second {
		t.Fatalf("second reserve delay = %v, want (0,1s]", delay)
	}
	now = now.Add(time.Second)
	if delay := limiter.reserve("principal:ops"); delay != 0 {
		t.Fatalf("reserve after refill delay = %v", delay)
	}

	now = now.Add(2 * idleLimiterTTL)
	limiter.reserve("principal:dash")
	if _, ok := limiter.callers["principal:ops"]; ok {
		t.Fatal("idle caller was not pruned")
	}
}

func TestCallerKeyPrefersPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/query/ask", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	if got := callerKey(req); got != "addr:10.1.2.3" {
		t.Fatalf("callerKey() = %q", got)
	}
	ctx := auth.WithIdentity(context.Background(), auth.Identity{Principal: "ops", Roles: []string{auth.RoleQueryReader}})
	if got := callerKey(req.WithContext(ctx)); got != "principal:ops" {
		t.Fatalf("callerKey() = %q", got)
	}
}
