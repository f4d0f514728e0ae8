package model

import "time"

// Order is a merchant sale tracked through payment and fulfillment.
type Order struct {
    ID         string      `json:"id"`
    MerchantID string      `json:"merchantId"`
    Reference  string      `json:"reference,omitempty"`
    Amount     int64       `json:"amount"` // smallest currency unit
    Currency   string      `json:"currency"`
    COD        bool        `json:"cod"`
    Status     OrderStatus `json:"status"`
    CreatedAt  time.Time   `json:"createdAt"`

    // Audit timestamps for the key transitions.
    PaymentReceivedAt *time.Time `json:"paymentReceivedAt,omitempty"`
    ShippedAt         *time.Time `json:"shippedAt,omitempty"`
    DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
    CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
}

// Payment is one payment attempt against an order. A captured payment is
// immutable afterwards except for linked refund bookkeeping.
type Payment struct {
    ID                string        `json:"id"`
    OrderID           string        `json:"orderId"`
    ProviderOrderID   string        `json:"providerOrderId"`
    ProviderPaymentID string        `json:"providerPaymentId,omitempty"`
    Amount            int64         `json:"amount"`
    Status            PaymentStatus `json:"status"`
    CapturedAt        *time.Time    `json:"capturedAt,omitempty"`
    ErrorCode         string        `json:"errorCode,omitempty"`
    ErrorMessage      string        `json:"errorMessage,omitempty"`
    RefundedAmount    int64         `json:"refundedAmount,omitempty"`
    CreatedAt         time.Time     `json:"createdAt"`
}

// Shipment is a single courier consignment for an order.
type Shipment struct {
    ID            string         `json:"id"`
    OrderID       string         `json:"orderId"`
    Provider      string         `json:"provider"`
    AWB           string         `json:"awb"`
    Status        ShipmentStatus `json:"status"`
    WeightKg      float64        `json:"weightKg"`
    Dimensions    *Dimensions    `json:"dimensions,omitempty"`
    Pieces        int            `json:"pieces"`
    DeclaredValue int64          `json:"declaredValue"`
    CODAmount     int64          `json:"codAmount,omitempty"`
    EstDelivery   *time.Time     `json:"estDelivery,omitempty"`
    CreatedAt     time.Time      `json:"createdAt"`
    PickedUpAt    *time.Time     `json:"pickedUpAt,omitempty"`
    DeliveredAt   *time.Time     `json:"deliveredAt,omitempty"`
    CancelledAt   *time.Time     `json:"cancelledAt,omitempty"`
}

// Dimensions in centimeters.
type Dimensions struct {
    LengthCm float64 `json:"lengthCm"`
    WidthCm  float64 `json:"widthCm"`
    HeightCm float64 `json:"heightCm"`
}

// WebhookEvent is idempotency bookkeeping for inbound provider events.
// Created on first sight of an external event id, mutated only to stamp
// processed_at, never deleted.
type WebhookEvent struct {
    Source      string     `json:"source"` // payment | courier
    ExternalID  string     `json:"externalId"`
    PayloadHash string     `json:"payloadHash"`
    ReceivedAt  time.Time  `json:"receivedAt"`
    ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Consignee identifies the delivery recipient.
type Consignee struct {
    Name     string `json:"name"`
    Phone    string `json:"phone"`
    Email    string `json:"email,omitempty"`
    Line1    string `json:"line1"`
    Line2    string `json:"line2,omitempty"`
    City     string `json:"city"`
    State    string `json:"state"`
    Pincode  string `json:"pincode"`
    Landmark string `json:"landmark,omitempty"`
}

// CreateOrderRequest is the minimal order intake needed to drive fulfillment.
type CreateOrderRequest struct {
    Reference string `json:"reference,omitempty"`
    Amount    int64  `json:"amount"`
    Currency  string `json:"currency,omitempty"`
    COD       bool   `json:"cod,omitempty"`
}

// CreateShipmentRequest is the provider-neutral shipment intake.
type CreateShipmentRequest struct {
    OrderID       string      `json:"orderId"`
    Provider      string      `json:"provider,omitempty"` // empty -> auto-select
    Consignee     Consignee   `json:"consignee"`
    WeightKg      float64     `json:"weightKg"`
    Dimensions    *Dimensions `json:"dimensions,omitempty"`
    Pieces        int         `json:"pieces"`
    DeclaredValue int64       `json:"declaredValue"`
    PaymentMode   string      `json:"paymentMode"` // PREPAID | COD
    CODAmount     int64       `json:"codAmount,omitempty"`
    PickupDate    string      `json:"pickupDate,omitempty"`
    PickupSlot    string      `json:"pickupSlot,omitempty"`
}

type CreateShipmentResponse struct {
    ShipmentID  string     `json:"shipmentId"`
    AWB         string     `json:"awb"`
    Provider    string     `json:"provider"`
    EstDelivery *time.Time `json:"estDelivery,omitempty"`
}

type CreatePaymentOrderRequest struct {
    OrderID string `json:"orderId"`
    Amount  int64  `json:"amount"`
}

type VerifyPaymentRequest struct {
    ProviderOrderID   string `json:"providerOrderId"`
    ProviderPaymentID string `json:"providerPaymentId"`
    Signature         string `json:"signature"`
}

const (
    PaymentModePrepaid = "PREPAID"
    PaymentModeCOD     = "COD"
)

// Subscription registers a merchant endpoint for fulfillment notifications.
type Subscription struct {
    ID         string   `json:"id"`
    MerchantID string   `json:"merchantId"`
    URL        string   `json:"url"`
    Events     []string `json:"events"`
    Secret     string   `json:"secret,omitempty"`
}

type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}
