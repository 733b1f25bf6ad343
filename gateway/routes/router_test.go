package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tickechain/gateway/middleware"
)

const routerSecret = "router-test-secret"

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write(caller.Address[:1])
	})
}

func newTestRouter(limits map[string]middleware.RateLimit) http.Handler {
	return New(Config{
		RPC:           callerEcho(),
		LogStream:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }),
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: routerSecret, AllowAnonymous: true}, nil),
		RateLimiter:   middleware.NewRateLimiter(limits, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{}, nil),
	})
}

func TestRouterHealthz(t *testing.T) {
	router := newTestRouter(nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestRouterRPCAuthentication(t *testing.T) {
	router := newTestRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}")))
	if rec.Body.String() != "anonymous" {
		t.Fatalf("expected anonymous request, got %q", rec.Body.String())
	}

	token, err := middleware.SignToken(routerSecret, [20]byte{0x7f}, nil, "", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Body.String() != "\x7f" {
		t.Fatalf("expected caller to reach handler, got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestRouterRateLimitsRPC(t *testing.T) {
	router := newTestRouter(map[string]middleware.RateLimit{RateLimitRPC: {RequestsPerMinute: 1, Burst: 1}})
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/logs", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("log stream should use its own limit, got %d", rec.Code)
	}
}

func TestRouterExposesMetrics(t *testing.T) {
	router := newTestRouter(nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `tkt_http_requests_total{method="POST",route="rpc",status="200"} 1`) {
		t.Fatalf("expected rpc request counter in metrics output")
	}
}

func TestRouterAnswersPreflight(t *testing.T) {
	router := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "https://tickets.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
