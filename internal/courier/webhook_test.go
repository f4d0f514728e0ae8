package courier

import (
    "errors"
    "testing"
)

func TestParseWebhookDelhivery(t *testing.T) {
    body := []byte(`{"Shipment":{"AWB":"DL1","ScanID":"scan-9","Status":{"Status":"Delivered","StatusDateTime":"2026-08-29T12:00:00Z","StatusLocation":"BLR","Instructions":"left with neighbour"}}}`)
    snap, id, err := ParseWebhook("delhivery", body)
    if err != nil {
        t.Fatalf("parse failed: %v", err)
    }
    if snap.AWB != "DL1" || snap.Code != "delivered" || id != "scan-9" {
        t.Fatalf("unexpected parse: %+v id=%q", snap, id)
    }
}

func TestParseWebhookShiprocketDigestFallback(t *testing.T) {
    body := []byte(`{"awb":"SR1","current_status":"IN TRANSIT","location":"DEL"}`)
    snap, id, err := ParseWebhook("shiprocket", body)
    if err != nil {
        t.Fatalf("parse failed: %v", err)
    }
    if snap.Code != "in_transit" {
        t.Fatalf("unexpected code: %q", snap.Code)
    }
    if id == "" {
        t.Fatalf("expected digest fallback id")
    }
    _, id2, _ := ParseWebhook("shiprocket", body)
    if id != id2 {
        t.Fatalf("digest id must be stable for identical payloads")
    }
}

func TestParseWebhookUnknownProvider(t *testing.T) {
    if _, _, err := ParseWebhook("carrier-x", []byte(`{}`)); !errors.Is(err, ErrUnknownProvider) {
        t.Fatalf("expected ErrUnknownProvider, got %v", err)
    }
}

func TestParseWebhookMissingAWB(t *testing.T) {
    if _, _, err := ParseWebhook("delhivery", []byte(`{"Shipment":{}}`)); err == nil {
        t.Fatalf("expected error for missing awb")
    }
}
