package api

import (
    "net/http"
    "net/http/httptest"
    "testing"

    "shipcore/internal/config"
)

func TestRateLimitThrottlesMerchantAPIOnly(t *testing.T) {
    s := &Server{Cfg: config.Config{RateRPS: 1, RateBurst: 1}}
    mux := http.NewServeMux()
    ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
    mux.HandleFunc("/v1/orders", ok)
    mux.HandleFunc("/v1/webhooks/payment", ok)
    mux.HandleFunc("/healthz", ok)
    h := s.Middleware(mux)

    get := func(path string) int {
        rec := httptest.NewRecorder()
        h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
        return rec.Code
    }

    // Burst of 1: the first merchant call passes, the second is throttled.
    if code := get("/v1/orders"); code != http.StatusOK {
        t.Fatalf("first merchant request: got %d", code)
    }
    if code := get("/v1/orders"); code != http.StatusTooManyRequests {
        t.Fatalf("second merchant request should be throttled, got %d", code)
    }

    // Provider webhooks and ops probes bypass the limiter entirely.
    for i := 0; i < 5; i++ {
        if code := get("/v1/webhooks/payment"); code != http.StatusOK {
            t.Fatalf("webhook request %d throttled: got %d", i, code)
        }
        if code := get("/healthz"); code != http.StatusOK {
            t.Fatalf("health probe %d throttled: got %d", i, code)
        }
    }

    // An exhausted bucket still refuses the next merchant call.
    if code := get("/v1/orders"); code != http.StatusTooManyRequests {
        t.Fatalf("merchant request after webhook traffic should stay throttled, got %d", code)
    }
}

func TestRateLimitDisabledWhenUnconfigured(t *testing.T) {
    s := &Server{Cfg: config.Config{}}
    mux := http.NewServeMux()
    mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
    h := s.Middleware(mux)
    for i := 0; i < 10; i++ {
        rec := httptest.NewRecorder()
        h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
        if rec.Code != http.StatusOK {
            t.Fatalf("request %d throttled with no limit configured: got %d", i, rec.Code)
        }
    }
}
