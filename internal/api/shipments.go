package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"

    "shipcore/internal/courier"
    "shipcore/internal/model"
    "shipcore/internal/reconcile"
    "shipcore/internal/shipping"
    "shipcore/internal/store"
)

// ShipmentsHandler handles POST /v1/shipments
func (s *Server) ShipmentsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req model.CreateShipmentRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.OrderID == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid shipment request", "orderId required", r.URL.Path)
        return
    }
    ctx, merchant := s.withMerchant(r)
    resp, err := s.Orch.CreateShipment(ctx, merchant, req)
    if err != nil {
        var rej *shipping.ProviderRejected
        switch {
        case errors.Is(err, shipping.ErrOrderNotFound):
            writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
        case errors.Is(err, shipping.ErrInvalidRequest):
            writeProblem(w, http.StatusBadRequest, "Invalid shipment request", err.Error(), r.URL.Path)
        case errors.Is(err, shipping.ErrOrderNotPayable), errors.Is(err, shipping.ErrActiveShipment):
            writeProblem(w, http.StatusConflict, "Shipment not allowed", err.Error(), r.URL.Path)
        case errors.Is(err, shipping.ErrNoProvider):
            writeProblem(w, http.StatusUnprocessableEntity, "No provider available", "no courier serves the destination pincode", r.URL.Path)
        case errors.Is(err, courier.ErrUnknownProvider):
            writeProblem(w, http.StatusUnprocessableEntity, "Unknown provider", err.Error(), r.URL.Path)
        case errors.As(err, &rej):
            writeProblem(w, http.StatusUnprocessableEntity, "Provider rejected shipment", rej.Error(), r.URL.Path)
        default:
            writeProblem(w, http.StatusBadGateway, "Shipment booking failed", err.Error(), r.URL.Path)
        }
        return
    }
    writeJSON(w, http.StatusCreated, resp)
}

// ShipmentByIDHandler handles GET /v1/shipments/{id} and the cancel/refresh
// subresources.
func (s *Server) ShipmentByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/shipments/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]

    if len(parts) > 1 && parts[1] == "cancel" {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        ctx, merchant := s.withMerchant(r)
        err := s.Orch.CancelShipment(ctx, merchant, id)
        switch {
        case err == nil:
            sh, _ := s.Store.GetShipment(ctx, id)
            writeJSON(w, http.StatusOK, sh)
        case errors.Is(err, shipping.ErrShipmentNotFound):
            writeProblem(w, http.StatusNotFound, "Shipment not found", "", r.URL.Path)
        case errors.Is(err, shipping.ErrNotCancellable):
            writeProblem(w, http.StatusConflict, "Shipment not cancellable", err.Error(), r.URL.Path)
        default:
            writeProblem(w, http.StatusBadGateway, "Cancel failed", err.Error(), r.URL.Path)
        }
        return
    }

    if len(parts) > 1 && parts[1] == "refresh" {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        s.refreshShipment(w, r, id)
        return
    }

    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    ctx, merchant := s.withMerchant(r)
    sh, err := s.Store.GetShipment(ctx, id)
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Shipment not found", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get shipment failed", err.Error(), r.URL.Path)
        return
    }
    if o, err := s.Store.GetOrder(ctx, sh.OrderID); err != nil || o.MerchantID != merchant {
        writeProblem(w, http.StatusNotFound, "Shipment not found", "", r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, sh)
}

// refreshShipment polls the courier for the current tracking status and runs
// the snapshot through reconciliation, covering shipments whose webhooks
// never arrived.
func (s *Server) refreshShipment(w http.ResponseWriter, r *http.Request, id string) {
    ctx, merchant := s.withMerchant(r)
    snap, err := s.Orch.RefreshTracking(ctx, merchant, id)
    switch {
    case errors.Is(err, shipping.ErrShipmentNotFound):
        writeProblem(w, http.StatusNotFound, "Shipment not found", "", r.URL.Path)
        return
    case err != nil:
        writeProblem(w, http.StatusBadGateway, "Tracking poll failed", err.Error(), r.URL.Path)
        return
    }
    if snap.Code != "" {
        ev := reconcile.CourierEvent{
            AWB:         snap.AWB,
            Code:        snap.Code,
            Location:    snap.Location,
            Description: snap.Description,
            At:          snap.At,
        }
        if err := s.Rec.ApplyCourierSnapshot(ctx, ev); err != nil {
            writeProblem(w, http.StatusInternalServerError, "Reconcile failed", err.Error(), r.URL.Path)
            return
        }
    }
    sh, err := s.Store.GetShipment(ctx, id)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get shipment failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"shipment": sh, "tracking": snap})
}
