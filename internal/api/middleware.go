package api

import (
    "log"
    "net/http"
    "strings"
    "time"

    "golang.org/x/time/rate"

    "shipcore/internal/metrics"
)

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (rec *statusRecorder) WriteHeader(code int) {
    rec.status = code
    rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
    if f, ok := rec.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}

// Middleware chains request logging, HTTP metrics, and the merchant-facing
// rate limit. Webhook ingestion and ops endpoints bypass the limiter:
// throttling provider retries only delays reconciliation.
func (s *Server) Middleware(next http.Handler) http.Handler {
    var limiter *rate.Limiter
    if s.Cfg.RateRPS > 0 {
        limiter = rate.NewLimiter(rate.Limit(s.Cfg.RateRPS), s.Cfg.RateBurst)
    }
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if limiter != nil && !exemptFromLimit(r.URL.Path) && !limiter.Allow() {
            writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded", "", r.URL.Path)
            return
        }
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        label := pathLabel(r.URL.Path)
        metrics.HTTPRequests.WithLabelValues(r.Method, label, statusClass(rec.status)).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, label, statusClass(rec.status)).Observe(dur.Seconds())
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
    })
}

func exemptFromLimit(path string) bool {
    return strings.HasPrefix(path, "/v1/webhooks/") ||
        path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// pathLabel keeps metric cardinality bounded: ids collapse into their
// collection prefix.
func pathLabel(path string) string {
    parts := strings.Split(strings.Trim(path, "/"), "/")
    if len(parts) >= 2 && parts[0] == "v1" {
        return "/v1/" + parts[1]
    }
    return path
}

func statusClass(code int) string {
    switch {
    case code < 300:
        return "2xx"
    case code < 400:
        return "3xx"
    case code < 500:
        return "4xx"
    default:
        return "5xx"
    }
}
