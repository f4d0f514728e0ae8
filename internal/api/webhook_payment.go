package api

import (
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "io"
    "log"
    "net/http"
    "time"

    "shipcore/internal/metrics"
    "shipcore/internal/reconcile"
    "shipcore/internal/store"
)

// paymentWebhookEnvelope is the provider's event wrapper. Only the entities
// we act on are decoded.
type paymentWebhookEnvelope struct {
    Event   string `json:"event"`
    Payload struct {
        Payment struct {
            Entity struct {
                ID      string `json:"id"`
                OrderID string `json:"order_id"`
                Amount  int64  `json:"amount"`
                ErrCode string `json:"error_code"`
                ErrDesc string `json:"error_description"`
            } `json:"entity"`
        } `json:"payment"`
        Refund struct {
            Entity struct {
                ID        string `json:"id"`
                PaymentID string `json:"payment_id"`
                Amount    int64  `json:"amount"`
            } `json:"entity"`
        } `json:"refund"`
    } `json:"payload"`
    CreatedAt int64 `json:"created_at"`
}

// PaymentWebhookHandler handles POST /v1/webhooks/payment. The signature is
// verified over the exact raw bytes received; a missing or wrong signature
// gets the same generic rejection.
func (s *Server) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
        return
    }
    if !s.Payments.VerifyWebhookSignature(body, r.Header.Get("X-Razorpay-Signature")) {
        metrics.WebhookEvents.WithLabelValues("payment", "rejected").Inc()
        writeProblem(w, http.StatusUnauthorized, "Invalid signature", "", r.URL.Path)
        return
    }

    var env paymentWebhookEnvelope
    if err := json.Unmarshal(body, &env); err != nil {
        metrics.WebhookEvents.WithLabelValues("payment", "malformed").Inc()
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }

    switch env.Event {
    case "payment.authorized", "payment.captured", "payment.failed", "refund.processed":
    default:
        // Acknowledge unsupported types so the provider stops resending them.
        log.Printf("payment webhook: ignoring event type %q", env.Event)
        metrics.WebhookEvents.WithLabelValues("payment", "ignored").Inc()
        writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
        return
    }

    externalID := r.Header.Get("X-Razorpay-Event-Id")
    hash := sha256.Sum256(body)
    payloadHash := hex.EncodeToString(hash[:])
    if externalID == "" {
        externalID = payloadHash
    }

    ev := reconcile.PaymentEvent{
        ProviderOrderID:   env.Payload.Payment.Entity.OrderID,
        ProviderPaymentID: env.Payload.Payment.Entity.ID,
        Amount:            env.Payload.Payment.Entity.Amount,
        ErrorCode:         env.Payload.Payment.Entity.ErrCode,
        ErrorDescription:  env.Payload.Payment.Entity.ErrDesc,
    }
    if env.Event == "refund.processed" {
        ev.ProviderPaymentID = env.Payload.Refund.Entity.PaymentID
        ev.Amount = env.Payload.Refund.Entity.Amount
    }
    if env.CreatedAt > 0 {
        ev.At = time.Unix(env.CreatedAt, 0).UTC()
    }

    ctx, _ := s.withMerchant(r)
    claim, err := s.Rec.ProcessPaymentEvent(ctx, externalID, payloadHash, env.Event, ev)
    s.respondClaim(w, r, "payment", claim, err)
}

// respondClaim maps a claim outcome to the wire: processed and duplicate
// both acknowledge; an in-flight duplicate asks the provider to retry later.
func (s *Server) respondClaim(w http.ResponseWriter, r *http.Request, source string, claim store.Claim, err error) {
    if err != nil {
        metrics.WebhookEvents.WithLabelValues(source, "error").Inc()
        writeProblem(w, http.StatusInternalServerError, "Event processing failed", err.Error(), r.URL.Path)
        return
    }
    switch claim {
    case store.ClaimAcquired:
        metrics.WebhookEvents.WithLabelValues(source, "processed").Inc()
        writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
    case store.ClaimDuplicateProcessed:
        metrics.WebhookEvents.WithLabelValues(source, "duplicate").Inc()
        writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
    case store.ClaimDuplicatePending:
        metrics.WebhookEvents.WithLabelValues(source, "pending").Inc()
        writeProblem(w, http.StatusConflict, "Event in flight", "a concurrent delivery holds this event", r.URL.Path)
    }
}
