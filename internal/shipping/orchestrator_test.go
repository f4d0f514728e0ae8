package shipping

import (
    "context"
    "errors"
    "testing"
    "time"

    "shipcore/internal/config"
    "shipcore/internal/courier"
    "shipcore/internal/model"
    "shipcore/internal/store"
)

type stubGateway struct {
    createCalls int
    createErr   error
    cancelErr   error
    awb         string
}

func (g *stubGateway) CreateShipment(ctx context.Context, req courier.ShipmentRequest) (courier.ShipmentResult, error) {
    g.createCalls++
    if g.createErr != nil {
        return courier.ShipmentResult{}, g.createErr
    }
    awb := g.awb
    if awb == "" {
        awb = "AWB1"
    }
    return courier.ShipmentResult{AWB: awb, ProviderShipmentID: "ps1"}, nil
}
func (g *stubGateway) CancelShipment(ctx context.Context, id string) error { return g.cancelErr }
func (g *stubGateway) GetTrackingStatus(ctx context.Context, awb string) (courier.TrackingSnapshot, error) {
    return courier.TrackingSnapshot{AWB: awb, Code: "in_transit"}, nil
}

func newRig(t *testing.T, gw courier.Gateway) (*Orchestrator, *store.Memory) {
    t.Helper()
    s := store.NewMemory()
    reg := &courier.Registry{}
    reg.Register(config.CourierConfig{Name: "stub", Enabled: true, Priority: 1}, gw)
    return NewOrchestrator(s, reg), s
}

func seedOrder(t *testing.T, s store.Store, status model.OrderStatus, cod bool) model.Order {
    t.Helper()
    o := model.Order{
        ID: "ord1", MerchantID: "m1", Amount: 50000, Currency: "INR",
        COD: cod, Status: status, CreatedAt: time.Now().UTC(),
    }
    if err := s.CreateOrder(context.Background(), o); err != nil {
        t.Fatalf("seed order: %v", err)
    }
    return o
}

func shipReq() model.CreateShipmentRequest {
    return model.CreateShipmentRequest{
        OrderID: "ord1",
        Consignee: model.Consignee{
            Name: "Asha Rao", Phone: "9876543210",
            Line1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001",
        },
        WeightKg: 1.2, Pieces: 1, DeclaredValue: 50000,
        PaymentMode: model.PaymentModePrepaid,
    }
}

func TestCreateShipmentHappyPath(t *testing.T) {
    gw := &stubGateway{}
    o, s := newRig(t, gw)
    seedOrder(t, s, model.OrderPaymentReceived, false)
    ctx := context.Background()

    resp, err := o.CreateShipment(ctx, "m1", shipReq())
    if err != nil {
        t.Fatalf("create failed: %v", err)
    }
    if resp.AWB != "AWB1" || resp.Provider != "stub" {
        t.Fatalf("unexpected response: %+v", resp)
    }
    sh, err := s.GetShipment(ctx, resp.ShipmentID)
    if err != nil || sh.Status != model.ShipmentCreated {
        t.Fatalf("shipment not persisted as CREATED: %+v err=%v", sh, err)
    }
    // Booking never advances the order; only the pickup event does.
    ord, _ := s.GetOrder(ctx, "ord1")
    if ord.Status != model.OrderPaymentReceived {
        t.Fatalf("order must stay put after booking, got %s", ord.Status)
    }
}

func TestCreateShipmentCODFromCreated(t *testing.T) {
    o, s := newRig(t, &stubGateway{})
    seedOrder(t, s, model.OrderCreated, true)
    req := shipReq()
    req.PaymentMode = model.PaymentModeCOD
    req.CODAmount = 50000

    if _, err := o.CreateShipment(context.Background(), "m1", req); err != nil {
        t.Fatalf("COD order must be shippable from CREATED: %v", err)
    }
}

func TestCreateShipmentUnpaidPrepaidRejected(t *testing.T) {
    gw := &stubGateway{}
    o, s := newRig(t, gw)
    seedOrder(t, s, model.OrderCreated, false)

    _, err := o.CreateShipment(context.Background(), "m1", shipReq())
    if !errors.Is(err, ErrOrderNotPayable) {
        t.Fatalf("expected ErrOrderNotPayable, got %v", err)
    }
    if gw.createCalls != 0 {
        t.Fatalf("gate must reject before any provider call")
    }
}

func TestCreateShipmentWrongMerchant(t *testing.T) {
    o, s := newRig(t, &stubGateway{})
    seedOrder(t, s, model.OrderPaymentReceived, false)
    if _, err := o.CreateShipment(context.Background(), "m2", shipReq()); !errors.Is(err, ErrOrderNotFound) {
        t.Fatalf("expected ErrOrderNotFound for foreign merchant, got %v", err)
    }
}

func TestCreateShipmentActiveConflict(t *testing.T) {
    gw := &stubGateway{}
    o, s := newRig(t, gw)
    seedOrder(t, s, model.OrderPaymentReceived, false)
    ctx := context.Background()

    if _, err := o.CreateShipment(ctx, "m1", shipReq()); err != nil {
        t.Fatalf("first create failed: %v", err)
    }
    if _, err := o.CreateShipment(ctx, "m1", shipReq()); !errors.Is(err, ErrActiveShipment) {
        t.Fatalf("expected ErrActiveShipment, got %v", err)
    }
}

func TestProviderRejectionPersistsNothing(t *testing.T) {
    gw := &stubGateway{createErr: &courier.ProviderError{Provider: "stub", Code: "PIN_NOT_SERVICEABLE", Message: "nope"}}
    o, s := newRig(t, gw)
    seedOrder(t, s, model.OrderPaymentReceived, false)
    ctx := context.Background()

    _, err := o.CreateShipment(ctx, "m1", shipReq())
    var rej *ProviderRejected
    if !errors.As(err, &rej) || rej.Code != "PIN_NOT_SERVICEABLE" {
        t.Fatalf("expected ProviderRejected, got %v", err)
    }
    if _, err := s.ActiveShipmentForOrder(ctx, "ord1"); !errors.Is(err, store.ErrNotFound) {
        t.Fatalf("failed booking must leave no shipment record")
    }
    // The order is untouched and a retry can succeed.
    gw.createErr = nil
    if _, err := o.CreateShipment(ctx, "m1", shipReq()); err != nil {
        t.Fatalf("retry after rejection failed: %v", err)
    }
}

func TestCancelShipmentBeforePickup(t *testing.T) {
    gw := &stubGateway{}
    o, s := newRig(t, gw)
    seedOrder(t, s, model.OrderPaymentReceived, false)
    ctx := context.Background()

    resp, err := o.CreateShipment(ctx, "m1", shipReq())
    if err != nil {
        t.Fatalf("create failed: %v", err)
    }
    if err := o.CancelShipment(ctx, "m1", resp.ShipmentID); err != nil {
        t.Fatalf("cancel failed: %v", err)
    }
    sh, _ := s.GetShipment(ctx, resp.ShipmentID)
    if sh.Status != model.ShipmentCancelled || sh.CancelledAt == nil {
        t.Fatalf("shipment not cancelled: %+v", sh)
    }
    // A cancelled shipment frees the order for a new booking.
    if _, err := o.CreateShipment(ctx, "m1", shipReq()); err != nil {
        t.Fatalf("rebooking after cancel failed: %v", err)
    }
}

func TestCancelShipmentAfterPickup(t *testing.T) {
    gw := &stubGateway{cancelErr: courier.ErrAlreadyPickedUp}
    o, s := newRig(t, gw)
    seedOrder(t, s, model.OrderPaymentReceived, false)
    ctx := context.Background()

    resp, err := o.CreateShipment(ctx, "m1", shipReq())
    if err != nil {
        t.Fatalf("create failed: %v", err)
    }
    if err := o.CancelShipment(ctx, "m1", resp.ShipmentID); !errors.Is(err, ErrNotCancellable) {
        t.Fatalf("expected ErrNotCancellable, got %v", err)
    }
    sh, _ := s.GetShipment(ctx, resp.ShipmentID)
    if sh.Status != model.ShipmentCreated {
        t.Fatalf("refused cancel must not change local status, got %s", sh.Status)
    }
}

func TestCancelShipmentLocallyAdvanced(t *testing.T) {
    o, s := newRig(t, &stubGateway{})
    seedOrder(t, s, model.OrderPaymentReceived, false)
    ctx := context.Background()

    resp, err := o.CreateShipment(ctx, "m1", shipReq())
    if err != nil {
        t.Fatalf("create failed: %v", err)
    }
    _, _ = s.UpdateShipmentStatus(ctx, resp.ShipmentID, model.ShipmentCreated, model.ShipmentPickedUp, time.Now().UTC())
    if err := o.CancelShipment(ctx, "m1", resp.ShipmentID); !errors.Is(err, ErrNotCancellable) {
        t.Fatalf("expected ErrNotCancellable for picked-up shipment, got %v", err)
    }
}

func TestRefreshTracking(t *testing.T) {
    o, s := newRig(t, &stubGateway{})
    seedOrder(t, s, model.OrderPaymentReceived, false)
    ctx := context.Background()

    resp, err := o.CreateShipment(ctx, "m1", shipReq())
    if err != nil {
        t.Fatalf("create failed: %v", err)
    }
    snap, err := o.RefreshTracking(ctx, "m1", resp.ShipmentID)
    if err != nil {
        t.Fatalf("refresh failed: %v", err)
    }
    if snap.Code != "in_transit" || snap.AWB != "AWB1" {
        t.Fatalf("unexpected snapshot: %+v", snap)
    }
}
