package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"

    "shipcore/internal/model"
    "shipcore/internal/payment"
    "shipcore/internal/store"
)

// PaymentOrdersHandler handles POST /v1/payments/orders: creates the
// provider-side order a checkout needs and moves the order to
// PAYMENT_PENDING.
func (s *Server) PaymentOrdersHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req model.CreatePaymentOrderRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    ctx, merchant := s.withMerchant(r)
    o, err := s.Store.GetOrder(ctx, req.OrderID)
    if errors.Is(err, store.ErrNotFound) || (err == nil && o.MerchantID != merchant) {
        writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create payment order failed", err.Error(), r.URL.Path)
        return
    }
    if o.COD {
        writeProblem(w, http.StatusConflict, "Payment not applicable", "order is cash on delivery", r.URL.Path)
        return
    }
    if o.Status != model.OrderCreated && o.Status != model.OrderPaymentPending {
        writeProblem(w, http.StatusConflict, "Payment not applicable", "status "+string(o.Status), r.URL.Path)
        return
    }
    if p, err := s.Store.ActivePaymentForOrder(ctx, o.ID); err == nil && p.Status == model.PaymentCaptured {
        writeProblem(w, http.StatusConflict, "Payment not applicable", "order already paid", r.URL.Path)
        return
    }
    amount := req.Amount
    if amount == 0 {
        amount = o.Amount
    }

    attemptID := uuid.NewString()
    po, err := s.Payments.CreateOrder(ctx, amount, o.Currency, attemptID, map[string]string{"orderId": o.ID})
    if err != nil {
        var ae *payment.APIError
        if errors.As(err, &ae) {
            writeProblem(w, http.StatusUnprocessableEntity, "Payment provider rejected", ae.Error(), r.URL.Path)
            return
        }
        writeProblem(w, http.StatusBadGateway, "Payment provider unavailable", err.Error(), r.URL.Path)
        return
    }

    p := model.Payment{
        ID:              attemptID,
        OrderID:         o.ID,
        ProviderOrderID: po.ID,
        Amount:          amount,
        Status:          model.PaymentCreated,
        CreatedAt:       time.Now().UTC(),
    }
    if err := s.Store.CreatePayment(ctx, p); err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create payment order failed", err.Error(), r.URL.Path)
        return
    }
    // First attempt moves the order into PAYMENT_PENDING; retries are no-ops.
    _, _ = s.Store.UpdateOrderStatus(ctx, o.ID, model.OrderCreated, model.OrderPaymentPending, time.Now().UTC())
    writeJSON(w, http.StatusCreated, map[string]any{
        "paymentId":       p.ID,
        "providerOrderId": po.ID,
        "amount":          amount,
        "currency":        o.Currency,
    })
}

// PaymentVerifyHandler handles POST /v1/payments/verify: the checkout
// callback path. The signature binds provider order and payment ids; a bad
// one is rejected before any state changes.
func (s *Server) PaymentVerifyHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req model.VerifyPaymentRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if !s.Payments.VerifySignature(req.ProviderOrderID, req.ProviderPaymentID, req.Signature) {
        writeProblem(w, http.StatusUnauthorized, "Invalid signature", "", r.URL.Path)
        return
    }
    ctx, _ := s.withMerchant(r)
    if err := s.Rec.ApplyPaymentVerified(ctx, req.ProviderOrderID, req.ProviderPaymentID); err != nil {
        writeProblem(w, http.StatusInternalServerError, "Verify failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

// PaymentByIDHandler handles GET /v1/payments/{id} and POST
// /v1/payments/{id}/refund.
func (s *Server) PaymentByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]

    ctx, merchant := s.withMerchant(r)
    p, err := s.Store.GetPayment(ctx, id)
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Payment not found", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get payment failed", err.Error(), r.URL.Path)
        return
    }
    if o, err := s.Store.GetOrder(ctx, p.OrderID); err != nil || o.MerchantID != merchant {
        writeProblem(w, http.StatusNotFound, "Payment not found", "", r.URL.Path)
        return
    }

    if len(parts) > 1 && parts[1] == "refund" {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        s.refundPayment(w, r, p)
        return
    }

    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    writeJSON(w, http.StatusOK, p)
}

// refundPayment passes a refund through to the provider. Local bookkeeping
// happens when the refund.processed webhook lands, so a refund accepted here
// shows up on the payment record slightly later.
func (s *Server) refundPayment(w http.ResponseWriter, r *http.Request, p model.Payment) {
    var req struct {
        Amount int64             `json:"amount"`
        Notes  map[string]string `json:"notes,omitempty"`
    }
    if r.Body != nil {
        _ = json.NewDecoder(r.Body).Decode(&req)
    }
    if p.Status != model.PaymentCaptured {
        writeProblem(w, http.StatusConflict, "Refund not allowed", "payment not captured", r.URL.Path)
        return
    }
    if req.Amount < 0 || req.Amount > p.Amount-p.RefundedAmount {
        writeProblem(w, http.StatusBadRequest, "Invalid refund amount", "", r.URL.Path)
        return
    }
    ctx := r.Context()
    ref, err := s.Payments.CreateRefund(ctx, p.ProviderPaymentID, req.Amount, req.Notes)
    if err != nil {
        var ae *payment.APIError
        if errors.As(err, &ae) {
            writeProblem(w, http.StatusUnprocessableEntity, "Refund rejected", ae.Error(), r.URL.Path)
            return
        }
        writeProblem(w, http.StatusBadGateway, "Refund failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusAccepted, ref)
}
