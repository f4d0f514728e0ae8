// Package reconcile applies validated external events to Order, Payment,
// and Shipment records under transactional, idempotent rules. Every cascade
// checks the current state before transitioning; an inapplicable transition
// is a benign no-op, never an error, because events arrive at-least-once and
// in no guaranteed business order.
package reconcile

import (
    "context"
    "errors"
    "log"
    "time"

    "shipcore/internal/metrics"
    "shipcore/internal/model"
    "shipcore/internal/store"
)

// Notifier fans an applied transition out to merchant webhooks and live
// streams. Called only after the transaction commits.
type Notifier interface {
    Notify(ctx context.Context, merchantID, orderID, eventType string, data map[string]any)
}

type Reconciler struct {
    store    store.Store
    notifier Notifier
}

func New(s store.Store, n Notifier) *Reconciler {
    return &Reconciler{store: s, notifier: n}
}

// PaymentEvent is the normalized payload of one payment-provider webhook.
type PaymentEvent struct {
    ProviderOrderID   string
    ProviderPaymentID string
    Amount            int64
    ErrorCode         string
    ErrorDescription  string
    At                time.Time
}

// CourierEvent is the normalized payload of one courier tracking update.
type CourierEvent struct {
    AWB         string
    Code        string // picked_up, in_transit, out_for_delivery, delivered, ndr, rto_initiated, rto_delivered
    Location    string
    Description string
    At          time.Time
}

// note is a notification deferred until after commit.
type note struct {
    merchantID string
    orderID    string
    eventType  string
    data       map[string]any
}

// ProcessPaymentEvent claims the external event id and, if this is its first
// sight, applies the typed transition. Claim, application, and the processed
// stamp commit in one transaction so a failure releases the claim for the
// provider's retry.
func (r *Reconciler) ProcessPaymentEvent(ctx context.Context, externalID, payloadHash, eventType string, ev PaymentEvent) (store.Claim, error) {
    return r.process(ctx, "payment", externalID, payloadHash, func(tx store.Store, notes *[]note) error {
        switch eventType {
        case "payment.authorized":
            return r.paymentAuthorized(ctx, tx, ev, notes)
        case "payment.captured":
            return r.paymentCaptured(ctx, tx, ev, notes)
        case "payment.failed":
            return r.paymentFailed(ctx, tx, ev, notes)
        case "refund.processed":
            return r.refundProcessed(ctx, tx, ev, notes)
        }
        // ingestor filters types; anything else is discarded quietly
        log.Printf("reconcile: unhandled payment event type %s", eventType)
        return nil
    })
}

// ProcessCourierEvent is the courier-side twin. External ids are only unique
// per provider, so the claim key carries the provider name.
func (r *Reconciler) ProcessCourierEvent(ctx context.Context, provider, externalID, payloadHash string, ev CourierEvent) (store.Claim, error) {
    return r.process(ctx, "courier", provider+":"+externalID, payloadHash, func(tx store.Store, notes *[]note) error {
        return r.courierEvent(ctx, tx, ev, notes)
    })
}

// ApplyPaymentVerified records a capture confirmed by explicit checkout
// verification rather than a webhook.
func (r *Reconciler) ApplyPaymentVerified(ctx context.Context, providerOrderID, providerPaymentID string) error {
    var notes []note
    ev := PaymentEvent{ProviderOrderID: providerOrderID, ProviderPaymentID: providerPaymentID, At: time.Now().UTC()}
    err := r.store.Transact(ctx, func(tx store.Store) error {
        return r.paymentCaptured(ctx, tx, ev, &notes)
    })
    if err != nil {
        return err
    }
    r.emit(ctx, notes)
    return nil
}

// ApplyCourierSnapshot feeds a polled tracking snapshot through the same
// transition rules as a webhook, without idempotency bookkeeping: the
// current-state checks already make reapplication harmless.
func (r *Reconciler) ApplyCourierSnapshot(ctx context.Context, snap CourierEvent) error {
    var notes []note
    err := r.store.Transact(ctx, func(tx store.Store) error {
        return r.courierEvent(ctx, tx, snap, &notes)
    })
    if err != nil {
        return err
    }
    r.emit(ctx, notes)
    return nil
}

func (r *Reconciler) process(ctx context.Context, source, externalID, payloadHash string, apply func(store.Store, *[]note) error) (store.Claim, error) {
    var claim store.Claim
    var notes []note
    err := r.store.Transact(ctx, func(tx store.Store) error {
        c, err := tx.ClaimWebhookEvent(ctx, source, externalID, payloadHash)
        if err != nil {
            return err
        }
        claim = c
        if c != store.ClaimAcquired {
            return nil
        }
        if err := apply(tx, &notes); err != nil {
            return err
        }
        return tx.MarkWebhookProcessed(ctx, source, externalID)
    })
    if err != nil {
        return claim, err
    }
    if claim == store.ClaimAcquired {
        r.emit(ctx, notes)
    }
    return claim, nil
}

func (r *Reconciler) paymentAuthorized(ctx context.Context, tx store.Store, ev PaymentEvent, notes *[]note) error {
    pay, err := tx.GetPaymentByProviderOrderID(ctx, ev.ProviderOrderID)
    if errors.Is(err, store.ErrNotFound) {
        r.discard("payment", "payment.authorized for unknown provider order %s", ev.ProviderOrderID)
        return nil
    }
    if err != nil { return err }
    applied, err := tx.MarkPaymentAuthorized(ctx, pay.ID, ev.ProviderPaymentID)
    if err != nil { return err }
    r.count("payment", applied)
    return nil
}

func (r *Reconciler) paymentCaptured(ctx context.Context, tx store.Store, ev PaymentEvent, notes *[]note) error {
    pay, err := tx.GetPaymentByProviderOrderID(ctx, ev.ProviderOrderID)
    if errors.Is(err, store.ErrNotFound) {
        r.discard("payment", "payment.captured for unknown provider order %s", ev.ProviderOrderID)
        return nil
    }
    if err != nil { return err }
    at := ev.At
    if at.IsZero() { at = time.Now().UTC() }
    applied, err := tx.MarkPaymentCaptured(ctx, pay.ID, ev.ProviderPaymentID, at)
    if err != nil { return err }
    r.count("payment", applied)
    order, err := tx.GetOrder(ctx, pay.OrderID)
    if errors.Is(err, store.ErrNotFound) {
        r.discard("order", "payment %s references missing order %s", pay.ID, pay.OrderID)
        return nil
    }
    if err != nil { return err }
    if applied {
        *notes = append(*notes, note{order.MerchantID, order.ID, "payment.captured", map[string]any{
            "paymentId": pay.ID, "providerPaymentId": ev.ProviderPaymentID, "amount": pay.Amount,
        }})
    }
    // Cascade only from PAYMENT_PENDING; a no-op here handles duplicate and
    // late deliveries.
    ok, err := r.cascadeOrder(ctx, tx, order.ID, []model.OrderStatus{model.OrderPaymentPending}, model.OrderPaymentReceived, at)
    if err != nil { return err }
    if ok {
        *notes = append(*notes, note{order.MerchantID, order.ID, "order.payment_received", map[string]any{"orderId": order.ID}})
    }
    return nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, tx store.Store, ev PaymentEvent, notes *[]note) error {
    pay, err := tx.GetPaymentByProviderOrderID(ctx, ev.ProviderOrderID)
    if errors.Is(err, store.ErrNotFound) {
        r.discard("payment", "payment.failed for unknown provider order %s", ev.ProviderOrderID)
        return nil
    }
    if err != nil { return err }
    applied, err := tx.MarkPaymentFailed(ctx, pay.ID, ev.ErrorCode, ev.ErrorDescription)
    if err != nil { return err }
    r.count("payment", applied)
    // Order stays PAYMENT_PENDING so the merchant can retry payment.
    if applied {
        if order, err := tx.GetOrder(ctx, pay.OrderID); err == nil {
            *notes = append(*notes, note{order.MerchantID, order.ID, "payment.failed", map[string]any{
                "paymentId": pay.ID, "errorCode": ev.ErrorCode,
            }})
        }
    }
    return nil
}

func (r *Reconciler) refundProcessed(ctx context.Context, tx store.Store, ev PaymentEvent, notes *[]note) error {
    pay, err := tx.GetPaymentByProviderPaymentID(ctx, ev.ProviderPaymentID)
    if errors.Is(err, store.ErrNotFound) {
        r.discard("payment", "refund for unknown provider payment %s", ev.ProviderPaymentID)
        return nil
    }
    if err != nil { return err }
    if err := tx.AddPaymentRefund(ctx, pay.ID, ev.Amount); err != nil { return err }
    r.count("payment", true)
    if order, err := tx.GetOrder(ctx, pay.OrderID); err == nil {
        *notes = append(*notes, note{order.MerchantID, order.ID, "payment.refunded", map[string]any{
            "paymentId": pay.ID, "amount": ev.Amount,
        }})
    }
    return nil
}

func (r *Reconciler) courierEvent(ctx context.Context, tx store.Store, ev CourierEvent, notes *[]note) error {
    to, ok := shipmentStatusForCode(ev.Code)
    if !ok {
        log.Printf("reconcile: unknown courier status code %q for awb %s", ev.Code, ev.AWB)
        return nil
    }
    sh, err := tx.GetShipmentByAWB(ctx, ev.AWB)
    if errors.Is(err, store.ErrNotFound) {
        r.discard("shipment", "courier event for unknown awb %s", ev.AWB)
        return nil
    }
    if err != nil { return err }
    at := ev.At
    if at.IsZero() { at = time.Now().UTC() }
    if !sh.Status.CanTransition(to) {
        log.Printf("reconcile: shipment %s %s -> %s not applicable, ignoring", sh.ID, sh.Status, to)
        metrics.Transitions.WithLabelValues("shipment", "noop").Inc()
        return nil
    }
    applied, err := tx.UpdateShipmentStatus(ctx, sh.ID, sh.Status, to, at)
    if err != nil { return err }
    r.count("shipment", applied)
    if !applied {
        return nil
    }
    order, err := tx.GetOrder(ctx, sh.OrderID)
    if errors.Is(err, store.ErrNotFound) {
        r.discard("order", "shipment %s references missing order %s", sh.ID, sh.OrderID)
        return nil
    }
    if err != nil { return err }
    *notes = append(*notes, note{order.MerchantID, order.ID, "shipment." + ev.Code, map[string]any{
        "shipmentId": sh.ID, "awb": sh.AWB, "location": ev.Location, "description": ev.Description,
    }})

    switch to {
    case model.ShipmentPickedUp:
        froms := []model.OrderStatus{model.OrderPaymentReceived}
        if order.COD {
            froms = append(froms, model.OrderCreated)
        }
        ok, err := r.cascadeOrder(ctx, tx, order.ID, froms, model.OrderShipped, at)
        if err != nil { return err }
        if ok {
            *notes = append(*notes, note{order.MerchantID, order.ID, "order.shipped", map[string]any{"orderId": order.ID}})
        }
    case model.ShipmentDelivered:
        // Tolerate a delivered scan landing before the picked-up scan: the
        // order may still sit anywhere before SHIPPED.
        froms := []model.OrderStatus{model.OrderShipped, model.OrderPaymentReceived}
        if order.COD {
            froms = append(froms, model.OrderCreated)
        }
        ok, err := r.cascadeOrder(ctx, tx, order.ID, froms, model.OrderDelivered, at)
        if err != nil { return err }
        if ok {
            *notes = append(*notes, note{order.MerchantID, order.ID, "order.delivered", map[string]any{"orderId": order.ID}})
        }
    case model.ShipmentRTOInitiated:
        ok, err := r.cascadeOrder(ctx, tx, order.ID, []model.OrderStatus{model.OrderShipped}, model.OrderReturnInitiated, at)
        if err != nil { return err }
        if ok {
            *notes = append(*notes, note{order.MerchantID, order.ID, "order.return_initiated", map[string]any{"orderId": order.ID}})
        }
    }
    return nil
}

// cascadeOrder tries a compare-and-set from each acceptable current status.
// A missing order or an inapplicable current status is a benign no-op.
func (r *Reconciler) cascadeOrder(ctx context.Context, tx store.Store, orderID string, froms []model.OrderStatus, to model.OrderStatus, at time.Time) (bool, error) {
    for _, from := range froms {
        ok, err := tx.UpdateOrderStatus(ctx, orderID, from, to, at)
        if errors.Is(err, store.ErrNotFound) {
            return false, nil
        }
        if err != nil { return false, err }
        if ok {
            metrics.Transitions.WithLabelValues("order", "applied").Inc()
            return true, nil
        }
    }
    metrics.Transitions.WithLabelValues("order", "noop").Inc()
    return false, nil
}

func shipmentStatusForCode(code string) (model.ShipmentStatus, bool) {
    switch code {
    case "picked_up":
        return model.ShipmentPickedUp, true
    case "in_transit":
        return model.ShipmentInTransit, true
    case "out_for_delivery":
        return model.ShipmentOutForDelivery, true
    case "delivered":
        return model.ShipmentDelivered, true
    case "ndr":
        return model.ShipmentNDR, true
    case "rto_initiated":
        return model.ShipmentRTOInitiated, true
    case "rto_delivered":
        return model.ShipmentRTODelivered, true
    }
    return "", false
}

func (r *Reconciler) emit(ctx context.Context, notes []note) {
    if r.notifier == nil {
        return
    }
    for _, n := range notes {
        r.notifier.Notify(ctx, n.merchantID, n.orderID, n.eventType, n.data)
    }
}

func (r *Reconciler) count(entity string, applied bool) {
    result := "applied"
    if !applied {
        result = "noop"
    }
    metrics.Transitions.WithLabelValues(entity, result).Inc()
}

func (r *Reconciler) discard(entity, format string, args ...any) {
    log.Printf("reconcile: "+format+", discarding", args...)
    metrics.Transitions.WithLabelValues(entity, "discarded").Inc()
}
