package courier

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "testing"

    "shipcore/internal/model"
)

func TestShiprocketCreateShipmentCOD(t *testing.T) {
    var got srOrderReq
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Header.Get("Authorization") != "Bearer tok" {
            t.Errorf("wrong auth header: %q", r.Header.Get("Authorization"))
        }
        _ = json.NewDecoder(r.Body).Decode(&got)
        _, _ = w.Write([]byte(`{"shipment_id":42,"awb_code":"SR555","etd":"2026-09-02 18:00:00"}`))
    }))
    defer srv.Close()

    s := NewShiprocket(srv.URL, "tok")
    req := validShipmentRequest()
    req.PaymentMode = model.PaymentModeCOD
    req.CODAmount = 150000
    res, err := s.CreateShipment(context.Background(), req)
    if err != nil {
        t.Fatalf("create failed: %v", err)
    }
    if res.AWB != "SR555" || res.ProviderShipmentID != "42" {
        t.Fatalf("unexpected result: %+v", res)
    }
    if got.PaymentMethod != "COD" || got.CODCharges != 1500 {
        t.Fatalf("COD fields not mapped: %+v", got)
    }
}

func TestShiprocketCancelAfterPickup(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(400)
        _, _ = w.Write([]byte(`{"message":"cannot cancel","error_code":"SHIPMENT_PICKED"}`))
    }))
    defer srv.Close()

    s := NewShiprocket(srv.URL, "tok")
    if err := s.CancelShipment(context.Background(), "42"); !errors.Is(err, ErrAlreadyPickedUp) {
        t.Fatalf("expected ErrAlreadyPickedUp, got %v", err)
    }
}

func TestShiprocketTrackingStatusMapping(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _, _ = w.Write([]byte(`{"tracking_data":{"awb_code":"SR1","current_status":"RTO INITIATED","current_location":"Hub DEL"}}`))
    }))
    defer srv.Close()

    s := NewShiprocket(srv.URL, "tok")
    snap, err := s.GetTrackingStatus(context.Background(), "SR1")
    if err != nil {
        t.Fatalf("tracking failed: %v", err)
    }
    if snap.Code != "rto_initiated" {
        t.Fatalf("unexpected code: %q", snap.Code)
    }
}
