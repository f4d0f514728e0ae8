// Package shipping coordinates shipment creation and cancellation: order
// payability gates, provider selection, and the guarantee that a failed
// provider call leaves no record behind.
package shipping

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/google/uuid"

    "shipcore/internal/courier"
    "shipcore/internal/metrics"
    "shipcore/internal/model"
    "shipcore/internal/store"
)

var (
    ErrOrderNotFound      = errors.New("order not found")
    ErrOrderNotPayable    = errors.New("order not in a shippable state")
    ErrShipmentNotFound   = errors.New("shipment not found")
    ErrActiveShipment     = errors.New("order already has an active shipment")
    ErrNotCancellable     = errors.New("shipment can no longer be cancelled")
    ErrNoProvider         = courier.ErrNoProviderAvailable
    ErrInvalidRequest     = errors.New("invalid shipment request")
)

// ProviderRejected wraps a terminal courier refusal so the API layer can
// surface the provider's own code and message.
type ProviderRejected struct {
    Provider string
    Code     string
    Message  string
}

func (e *ProviderRejected) Error() string {
    return fmt.Sprintf("%s rejected shipment: %s (%s)", e.Provider, e.Message, e.Code)
}

type Orchestrator struct {
    store    store.Store
    registry *courier.Registry
}

func NewOrchestrator(s store.Store, r *courier.Registry) *Orchestrator {
    return &Orchestrator{store: s, registry: r}
}

// CreateShipment books a consignment with a courier for a shippable order.
// The provider call happens before any local write: if it fails, nothing is
// persisted and the caller may retry. The order itself does not advance here;
// it moves to SHIPPED only on the courier's pickup event.
func (o *Orchestrator) CreateShipment(ctx context.Context, merchantID string, req model.CreateShipmentRequest) (model.CreateShipmentResponse, error) {
    var resp model.CreateShipmentResponse

    order, err := o.store.GetOrder(ctx, req.OrderID)
    if errors.Is(err, store.ErrNotFound) {
        return resp, ErrOrderNotFound
    }
    if err != nil {
        return resp, err
    }
    if order.MerchantID != merchantID {
        return resp, ErrOrderNotFound
    }
    if !shippable(order) {
        return resp, fmt.Errorf("%w: status %s", ErrOrderNotPayable, order.Status)
    }
    if _, err := o.store.ActiveShipmentForOrder(ctx, order.ID); err == nil {
        return resp, ErrActiveShipment
    } else if !errors.Is(err, store.ErrNotFound) {
        return resp, err
    }

    creq := courier.ShipmentRequest{
        OrderID:       order.ID,
        Consignee:     req.Consignee,
        WeightKg:      req.WeightKg,
        Dimensions:    req.Dimensions,
        Pieces:        req.Pieces,
        DeclaredValue: req.DeclaredValue,
        PaymentMode:   req.PaymentMode,
        CODAmount:     req.CODAmount,
        PickupDate:    req.PickupDate,
        PickupSlot:    req.PickupSlot,
    }
    if err := creq.Validate(); err != nil {
        return resp, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
    }

    name := req.Provider
    var gw courier.Gateway
    if name != "" {
        gw, err = o.registry.Resolve(name)
    } else {
        name, gw, err = o.registry.AutoSelect(req.Consignee.Pincode)
    }
    if err != nil {
        return resp, err
    }

    start := time.Now()
    result, err := gw.CreateShipment(ctx, creq)
    metrics.ProviderCallDuration.WithLabelValues(name, "create_shipment").Observe(time.Since(start).Seconds())
    if err != nil {
        var pe *courier.ProviderError
        if errors.As(err, &pe) {
            metrics.ShipmentsCreated.WithLabelValues(name, "rejected").Inc()
            return resp, &ProviderRejected{Provider: pe.Provider, Code: pe.Code, Message: pe.Message}
        }
        metrics.ShipmentsCreated.WithLabelValues(name, "error").Inc()
        return resp, err
    }

    sh := model.Shipment{
        ID:            uuid.NewString(),
        OrderID:       order.ID,
        Provider:      name,
        AWB:           result.AWB,
        Status:        model.ShipmentCreated,
        WeightKg:      req.WeightKg,
        Dimensions:    req.Dimensions,
        Pieces:        req.Pieces,
        DeclaredValue: req.DeclaredValue,
        CODAmount:     req.CODAmount,
        EstDelivery:   result.EstDelivery,
        CreatedAt:     time.Now().UTC(),
    }
    if err := o.store.CreateShipment(ctx, sh); err != nil {
        if errors.Is(err, store.ErrConflict) {
            // Lost a race with a concurrent create. The booked consignment is
            // orphaned at the courier; log the AWB for manual cancellation.
            log.Printf("shipping: duplicate active shipment for order %s, orphaned awb %s at %s", order.ID, result.AWB, name)
            return resp, ErrActiveShipment
        }
        log.Printf("shipping: persist failed for order %s, orphaned awb %s at %s: %v", order.ID, result.AWB, name, err)
        return resp, err
    }
    metrics.ShipmentsCreated.WithLabelValues(name, "created").Inc()

    resp = model.CreateShipmentResponse{
        ShipmentID:  sh.ID,
        AWB:         sh.AWB,
        Provider:    sh.Provider,
        EstDelivery: sh.EstDelivery,
    }
    return resp, nil
}

// CancelShipment cancels a consignment that has not been picked up. Once the
// courier has the parcel the answer is ErrNotCancellable whether we learn it
// locally or from the provider.
func (o *Orchestrator) CancelShipment(ctx context.Context, merchantID, shipmentID string) error {
    sh, err := o.store.GetShipment(ctx, shipmentID)
    if errors.Is(err, store.ErrNotFound) {
        return ErrShipmentNotFound
    }
    if err != nil {
        return err
    }
    order, err := o.store.GetOrder(ctx, sh.OrderID)
    if err != nil {
        return err
    }
    if order.MerchantID != merchantID {
        return ErrShipmentNotFound
    }
    if sh.Status == model.ShipmentCancelled {
        return nil // already done
    }
    if sh.Status != model.ShipmentCreated {
        return fmt.Errorf("%w: status %s", ErrNotCancellable, sh.Status)
    }

    gw, err := o.registry.Resolve(sh.Provider)
    if err != nil {
        return err
    }
    start := time.Now()
    err = gw.CancelShipment(ctx, sh.AWB)
    metrics.ProviderCallDuration.WithLabelValues(sh.Provider, "cancel_shipment").Observe(time.Since(start).Seconds())
    if errors.Is(err, courier.ErrAlreadyPickedUp) {
        // Our record lags the courier's reality; the pickup webhook will
        // catch the status up.
        return fmt.Errorf("%w: already picked up", ErrNotCancellable)
    }
    if err != nil {
        return err
    }

    ok, err := o.store.UpdateShipmentStatus(ctx, sh.ID, model.ShipmentCreated, model.ShipmentCancelled, time.Now().UTC())
    if err != nil {
        return err
    }
    if !ok {
        // A tracking event advanced the shipment between our check and the
        // provider cancel succeeding. Courier accepted the cancel, so trust it.
        log.Printf("shipping: shipment %s moved during cancel, leaving status as stored", sh.ID)
    }
    return nil
}

// RefreshTracking polls the courier for the current status of a shipment and
// returns the snapshot. The caller decides whether to reconcile it.
func (o *Orchestrator) RefreshTracking(ctx context.Context, merchantID, shipmentID string) (courier.TrackingSnapshot, error) {
    sh, err := o.store.GetShipment(ctx, shipmentID)
    if errors.Is(err, store.ErrNotFound) {
        return courier.TrackingSnapshot{}, ErrShipmentNotFound
    }
    if err != nil {
        return courier.TrackingSnapshot{}, err
    }
    order, err := o.store.GetOrder(ctx, sh.OrderID)
    if err != nil {
        return courier.TrackingSnapshot{}, err
    }
    if order.MerchantID != merchantID {
        return courier.TrackingSnapshot{}, ErrShipmentNotFound
    }
    gw, err := o.registry.Resolve(sh.Provider)
    if err != nil {
        return courier.TrackingSnapshot{}, err
    }
    start := time.Now()
    snap, err := gw.GetTrackingStatus(ctx, sh.AWB)
    metrics.ProviderCallDuration.WithLabelValues(sh.Provider, "track").Observe(time.Since(start).Seconds())
    if err != nil {
        return courier.TrackingSnapshot{}, err
    }
    if snap.AWB == "" {
        snap.AWB = sh.AWB
    }
    return snap, nil
}

// shippable: prepaid orders ship after payment; COD orders ship straight from
// CREATED.
func shippable(o model.Order) bool {
    if o.Status == model.OrderPaymentReceived {
        return true
    }
    return o.COD && o.Status == model.OrderCreated
}
