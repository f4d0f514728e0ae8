// Package courier abstracts heterogeneous courier APIs behind one contract.
// Each adapter encapsulates the wire format and authentication of exactly one
// provider and never leaks provider-specific types past the Gateway interface.
package courier

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "shipcore/internal/model"
)

// ShipmentRequest is the provider-neutral consignment request.
type ShipmentRequest struct {
    OrderID       string
    Consignee     model.Consignee
    WeightKg      float64
    Dimensions    *model.Dimensions
    Pieces        int
    DeclaredValue int64
    PaymentMode   string // PREPAID | COD
    CODAmount     int64
    PickupDate    string
    PickupSlot    string
}

// ShipmentResult is what a successful provider call yields.
type ShipmentResult struct {
    AWB                string
    ProviderShipmentID string
    EstDelivery        *time.Time
}

// TrackingSnapshot is a provider-neutral tracking status, used for the
// on-demand fallback poll when no webhook arrived in the expected window.
type TrackingSnapshot struct {
    AWB         string
    Code        string // picked_up, in_transit, out_for_delivery, delivered, ndr, rto_initiated, rto_delivered
    Location    string
    At          time.Time
    Description string
}

type Gateway interface {
    CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error)
    // CancelShipment is only valid before pickup; after pickup it returns
    // ErrAlreadyPickedUp so callers do not retry it as transient.
    CancelShipment(ctx context.Context, providerShipmentID string) error
    GetTrackingStatus(ctx context.Context, awb string) (TrackingSnapshot, error)
}

// ErrAlreadyPickedUp marks a cancellation attempted after courier pickup.
var ErrAlreadyPickedUp = errors.New("shipment already picked up")

// ProviderError is an explicit refusal from the courier (unserviceable
// pincode, bad payload). It is terminal for the attempt, unlike transport
// errors, which stay plain and are safe to retry.
type ProviderError struct {
    Provider string
    Code     string
    Message  string
}

func (e *ProviderError) Error() string {
    return fmt.Sprintf("%s rejected: %s (%s)", e.Provider, e.Message, e.Code)
}

// Validate rejects malformed requests before any network call.
func (r ShipmentRequest) Validate() error {
    if strings.TrimSpace(r.Consignee.Name) == "" {
        return errors.New("consignee name required")
    }
    if strings.TrimSpace(r.Consignee.Phone) == "" {
        return errors.New("consignee phone required")
    }
    if strings.TrimSpace(r.Consignee.Line1) == "" || strings.TrimSpace(r.Consignee.City) == "" || strings.TrimSpace(r.Consignee.State) == "" {
        return errors.New("consignee address incomplete")
    }
    if len(r.Consignee.Pincode) != 6 {
        return errors.New("pincode must be 6 digits")
    }
    for _, c := range r.Consignee.Pincode {
        if c < '0' || c > '9' {
            return errors.New("pincode must be 6 digits")
        }
    }
    if r.WeightKg <= 0 {
        return errors.New("weight must be positive")
    }
    if r.Pieces <= 0 {
        return errors.New("pieces must be positive")
    }
    if r.DeclaredValue <= 0 {
        return errors.New("declared value must be positive")
    }
    if d := r.Dimensions; d != nil && (d.LengthCm <= 0 || d.WidthCm <= 0 || d.HeightCm <= 0) {
        return errors.New("dimensions must be positive")
    }
    switch r.PaymentMode {
    case model.PaymentModePrepaid:
    case model.PaymentModeCOD:
        if r.CODAmount < 0 {
            return errors.New("cod amount must be non-negative")
        }
    default:
        return fmt.Errorf("invalid payment mode: %s", r.PaymentMode)
    }
    return nil
}
