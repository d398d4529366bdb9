package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quotaforge/gateway/config"
	"github.com/quotaforge/gateway/handler"
	"github.com/quotaforge/gateway/metrics"
	"github.com/quotaforge/gateway/quota"
	"github.com/quotaforge/gateway/redisclient"
	"github.com/quotaforge/gateway/router"
	"github.com/quotaforge/gateway/upstream"
)

// newGateway wires the full stack (router, middleware, quota engine,
// mock upstream) against an in-memory Redis, exactly as main.go wires
// it against a real one. No network access or external services are
// required to run this test.
func newGateway(t *testing.T) http.Handler {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := redisclient.NewFromRedis(rdb)

	cfg := &config.Config{
		MaxBodyBytes:    1 << 20,
		UpstreamTimeout: 2 * time.Second,
		Keys: map[string]config.KeyLimits{
			"sk-live": {InputTokensPerWindow: 100, OutputTokensPerWindow: 200, RequestsPerWindow: 3},
		},
	}

	log := zerolog.Nop()
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	engine := quota.NewEngine(rdb, 1, 60, 60*time.Second, 500*time.Millisecond, log)

	mock := upstream.NewMock()
	admission := handler.NewAdmissionHandler(engine, mock, cfg, log, reg)
	health := handler.NewHealthHandler(store)
	models := handler.NewModelsHandler(mock)

	return router.NewRouter(cfg, log, admission, health, models, nil)
}

func chatBody(maxTokens int) string {
	return `{"model":"gpt-4o-mini","max_tokens":` +
		strconv.Itoa(maxTokens) +
		`,"messages":[{"role":"user","content":"say hi"}]}`
}

// Scenario S2: with rpm=3, three concurrent-looking admissions succeed
// and a fourth within the same window is rejected with a Retry-After
// hint, exercising the full HTTP path: auth -> admit -> mock upstream
// -> commit -> rate-limit headers.
func TestEndToEndRequestsPerMinuteCeiling(t *testing.T) {
	gw := newGateway(t)

	var lastRejected *httptest.ResponseRecorder
	admitted := 0
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody(10)))
		req.Header.Set("Authorization", "Bearer sk-live")
		req.Header.Set("Content-Type", "application/json")
		gw.ServeHTTP(rec, req)

		if rec.Code == http.StatusOK {
			admitted++
		} else {
			lastRejected = rec
		}
	}

	if admitted != 3 {
		t.Fatalf("expected exactly 3 admissions under rpm=3, got %d", admitted)
	}
	if lastRejected == nil {
		t.Fatalf("expected a 4th request to be rejected")
	}
	if lastRejected.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", lastRejected.Code)
	}
	if lastRejected.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on rejection")
	}

	var body map[string]map[string]string
	if err := json.Unmarshal(lastRejected.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rejection body: %v", err)
	}
	if body["error"]["code"] != "rate_limit_exceeded" {
		t.Fatalf("expected rate_limit_exceeded error code, got %+v", body)
	}
}

// Scenario S1: a single admitted request reconciles its reservation
// with the mock upstream's actual usage, and the rate-limit headers on
// a follow-up request reflect the reconciled counts rather than the
// original reservation.
func TestEndToEndAdmitAndReconcileNarrowsRemaining(t *testing.T) {
	gw := newGateway(t)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody(20)))
	req.Header.Set("Authorization", "Bearer sk-live")
	req.Header.Set("Content-Type", "application/json")
	gw.ServeHTTP(first, req)

	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	if first.Header().Get("X-RateLimit-Remaining-Tokens") == "" {
		t.Fatalf("expected remaining-tokens header on admitted response")
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(first.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["usage"]; !ok {
		t.Fatalf("expected usage in mock upstream response, got %+v", resp)
	}

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req2.Header.Set("Authorization", "Bearer sk-live")
	gw.ServeHTTP(second, req2)
	if second.Code != http.StatusOK {
		t.Fatalf("expected /v1/models to succeed once authenticated, got %d", second.Code)
	}

	// The first request reserved 9 input / 20 output tokens and the mock
	// reported 1 / 6, so the follow-up sees 200-6-20=174 output tokens
	// remaining; without reconciliation it would see 200-20-20=160.
	third := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody(20)))
	req3.Header.Set("Authorization", "Bearer sk-live")
	req3.Header.Set("Content-Type", "application/json")
	gw.ServeHTTP(third, req3)
	if third.Code != http.StatusOK {
		t.Fatalf("expected follow-up 200, got %d: %s", third.Code, third.Body.String())
	}
	if got := third.Header().Get("X-RateLimit-Remaining-Tokens"); got != "174" {
		t.Fatalf("expected X-RateLimit-Remaining-Tokens=174 after reconcile, got %q", got)
	}
}

func TestEndToEndHealthEndpointReportsStoreReachable(t *testing.T) {
	gw := newGateway(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
