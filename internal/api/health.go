package api

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "shipcore/internal/metrics"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Store construction already validated connectivity; a deeper probe
    // would need a cheap read here.
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// MetricsHandler serves the engine's dedicated Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
    metrics.RegisterDefault()
    return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
