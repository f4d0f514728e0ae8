package api

import (
    "crypto/sha256"
    "encoding/hex"
    "io"
    "log"
    "net/http"
    "strings"

    "shipcore/internal/courier"
    "shipcore/internal/metrics"
    "shipcore/internal/reconcile"
    "shipcore/internal/webhooks"
)

// CourierWebhookHandler handles POST /v1/webhooks/courier/{provider}. A
// provider without a configured secret fails closed: its callbacks are
// rejected the same way as a bad signature.
func (s *Server) CourierWebhookHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    provider := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/courier/")
    if provider == r.URL.Path || provider == "" || strings.Contains(provider, "/") {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing provider", r.URL.Path)
        return
    }
    provider = strings.ToLower(provider)

    body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
        return
    }
    secret, ok := s.Registry.WebhookSecret(provider)
    if !ok || !webhooks.VerifyHMAC(secret, body, r.Header.Get("X-Signature")) {
        metrics.WebhookEvents.WithLabelValues("courier", "rejected").Inc()
        writeProblem(w, http.StatusUnauthorized, "Invalid signature", "", r.URL.Path)
        return
    }

    snap, externalID, err := courier.ParseWebhook(provider, body)
    if err != nil {
        metrics.WebhookEvents.WithLabelValues("courier", "malformed").Inc()
        writeProblem(w, http.StatusBadRequest, "Invalid payload", err.Error(), r.URL.Path)
        return
    }
    if snap.Code == "" {
        // Scan types we do not track (bag added, facility sort). Acknowledge.
        log.Printf("courier webhook: ignoring untracked scan for awb %s", snap.AWB)
        metrics.WebhookEvents.WithLabelValues("courier", "ignored").Inc()
        writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
        return
    }

    hash := sha256.Sum256(body)
    ev := reconcile.CourierEvent{
        AWB:         snap.AWB,
        Code:        snap.Code,
        Location:    snap.Location,
        Description: snap.Description,
        At:          snap.At,
    }
    ctx, _ := s.withMerchant(r)
    claim, err := s.Rec.ProcessCourierEvent(ctx, provider, externalID, hex.EncodeToString(hash[:]), ev)
    s.respondClaim(w, r, "courier", claim, err)
}
