package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"

    "shipcore/internal/metrics"
    "shipcore/internal/model"
    "shipcore/internal/shipping"
    "shipcore/internal/store"
)

// OrdersHandler handles POST /v1/orders
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req model.CreateOrderRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.Amount <= 0 {
        writeProblem(w, http.StatusBadRequest, "Invalid order", "amount must be positive", r.URL.Path)
        return
    }
    ctx, merchant := s.withMerchant(r)
    o := model.Order{
        ID:         uuid.NewString(),
        MerchantID: merchant,
        Reference:  req.Reference,
        Amount:     req.Amount,
        Currency:   req.Currency,
        COD:        req.COD,
        Status:     model.OrderCreated,
        CreatedAt:  time.Now().UTC(),
    }
    if o.Currency == "" {
        o.Currency = "INR"
    }
    if err := s.Store.CreateOrder(ctx, o); err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create order failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusCreated, o)
}

// OrderByIDHandler handles GET /v1/orders/{id}, POST /v1/orders/{id}/cancel,
// and the event streams under /v1/orders/{id}/events/.
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]

    if len(parts) > 2 && parts[1] == "events" {
        switch parts[2] {
        case "stream":
            s.orderEventsSSE(w, r, id)
            return
        case "ws":
            s.orderEventsWS(w, r, id)
            return
        }
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }

    if len(parts) > 1 && parts[1] == "cancel" {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        s.cancelOrder(w, r, id)
        return
    }

    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    ctx, merchant := s.withMerchant(r)
    o, err := s.Store.GetOrder(ctx, id)
    if errors.Is(err, store.ErrNotFound) || (err == nil && o.MerchantID != merchant) {
        writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get order failed", err.Error(), r.URL.Path)
        return
    }
    // Attach the active shipment and payment views when present.
    resp := map[string]any{"order": o}
    if sh, err := s.Store.ActiveShipmentForOrder(ctx, id); err == nil {
        resp["shipment"] = sh
    }
    if p, err := s.Store.ActivePaymentForOrder(ctx, id); err == nil {
        resp["payment"] = p
    }
    writeJSON(w, http.StatusOK, resp)
}

// cancelOrder enforces the cancellation boundary: an order is cancellable
// until its parcel is picked up. A booked but unpicked shipment is cancelled
// at the courier first; if that fails, the order stays as it was.
func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request, id string) {
    ctx, merchant := s.withMerchant(r)
    o, err := s.Store.GetOrder(ctx, id)
    if errors.Is(err, store.ErrNotFound) || (err == nil && o.MerchantID != merchant) {
        writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Cancel order failed", err.Error(), r.URL.Path)
        return
    }
    if o.Status == model.OrderCancelled {
        writeJSON(w, http.StatusOK, o) // already done
        return
    }
    if !o.Status.CanTransition(model.OrderCancelled) {
        writeProblem(w, http.StatusConflict, "Order not cancellable", "status "+string(o.Status), r.URL.Path)
        return
    }

    if sh, err := s.Store.ActiveShipmentForOrder(ctx, id); err == nil {
        cErr := s.Orch.CancelShipment(ctx, merchant, sh.ID)
        if errors.Is(cErr, shipping.ErrNotCancellable) {
            writeProblem(w, http.StatusConflict, "Order not cancellable", "shipment already picked up", r.URL.Path)
            return
        }
        if cErr != nil {
            writeProblem(w, http.StatusBadGateway, "Cancel shipment failed", cErr.Error(), r.URL.Path)
            return
        }
    } else if !errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusInternalServerError, "Cancel order failed", err.Error(), r.URL.Path)
        return
    }

    now := time.Now().UTC()
    ok, err := s.Store.UpdateOrderStatus(ctx, id, o.Status, model.OrderCancelled, now)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Cancel order failed", err.Error(), r.URL.Path)
        return
    }
    if !ok {
        // Status moved underneath us; report the conflict rather than retry.
        writeProblem(w, http.StatusConflict, "Order not cancellable", "status changed concurrently", r.URL.Path)
        return
    }
    metrics.Transitions.WithLabelValues("order", "applied").Inc()
    s.Pub.Emit(ctx, merchant, "order.cancelled", map[string]any{"orderId": id})
    s.Broker.Publish(id, SSEEvent{Type: "order.cancelled", Data: map[string]any{"orderId": id}})

    o, _ = s.Store.GetOrder(ctx, id)
    writeJSON(w, http.StatusOK, o)
}
