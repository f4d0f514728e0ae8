package store

import (
    "context"
    "errors"
    "time"

    "shipcore/internal/model"
)

// Store is the persistence interface for the fulfillment engine. Status
// updates are compare-and-set on the current status so cascades stay correct
// under duplicate and out-of-order event delivery.
type Store interface {
    // Orders
    CreateOrder(ctx context.Context, o model.Order) error
    GetOrder(ctx context.Context, id string) (model.Order, error)
    // UpdateOrderStatus moves the order from -> to and stamps the matching
    // audit timestamp. Returns false (no error) when the current status is
    // not `from`.
    UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) (bool, error)

    // Payments
    CreatePayment(ctx context.Context, p model.Payment) error
    GetPayment(ctx context.Context, id string) (model.Payment, error)
    GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (model.Payment, error)
    GetPaymentByProviderPaymentID(ctx context.Context, providerPaymentID string) (model.Payment, error)
    ActivePaymentForOrder(ctx context.Context, orderID string) (model.Payment, error)
    MarkPaymentAuthorized(ctx context.Context, id, providerPaymentID string) (bool, error)
    MarkPaymentCaptured(ctx context.Context, id, providerPaymentID string, at time.Time) (bool, error)
    MarkPaymentFailed(ctx context.Context, id, code, message string) (bool, error)
    AddPaymentRefund(ctx context.Context, id string, amount int64) error

    // Shipments
    CreateShipment(ctx context.Context, s model.Shipment) error
    GetShipment(ctx context.Context, id string) (model.Shipment, error)
    GetShipmentByAWB(ctx context.Context, awb string) (model.Shipment, error)
    // ActiveShipmentForOrder returns the non-cancelled shipment for an order,
    // or ErrNotFound.
    ActiveShipmentForOrder(ctx context.Context, orderID string) (model.Shipment, error)
    UpdateShipmentStatus(ctx context.Context, id string, from, to model.ShipmentStatus, at time.Time) (bool, error)

    // Webhook event bookkeeping. ClaimWebhookEvent is atomic with respect to
    // concurrent duplicate deliveries: exactly one caller gets ClaimAcquired.
    ClaimWebhookEvent(ctx context.Context, source, externalID, payloadHash string) (Claim, error)
    MarkWebhookProcessed(ctx context.Context, source, externalID string) error

    // Merchant notification subscriptions and outbound deliveries.
    CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
    ListSubscriptions(ctx context.Context, merchantID string) ([]model.Subscription, error)
    DeleteSubscription(ctx context.Context, merchantID, id string) error
    GetSubscriptionsForEvent(ctx context.Context, merchantID, eventType string) ([]model.Subscription, error)
    EnqueueWebhook(ctx context.Context, merchantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

    // Transact runs fn against a transactional view; all mutations commit
    // together or not at all.
    Transact(ctx context.Context, fn func(Store) error) error
}

// Claim is the outcome of the webhook-event claim step.
type Claim int

const (
    // ClaimAcquired: first sight of this event id; caller must process it.
    ClaimAcquired Claim = iota
    // ClaimDuplicateProcessed: already applied; acknowledge without effects.
    ClaimDuplicateProcessed
    // ClaimDuplicatePending: claimed by a concurrent or crashed delivery and
    // not yet stamped processed; caller should let the provider retry.
    ClaimDuplicatePending
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")
