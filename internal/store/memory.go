package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"

    "shipcore/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set and by the
// package tests. All methods serialize on one mutex.
type Memory struct {
    mu sync.Mutex
    c  core
}

func NewMemory() *Memory {
    return &Memory{c: core{
        orders:        map[string]model.Order{},
        payments:      map[string]model.Payment{},
        payByProvider: map[string]string{},
        payByOrder:    map[string]string{},
        shipments:     map[string]model.Shipment{},
        shipByAWB:     map[string]string{},
        events:        map[string]*model.WebhookEvent{},
        subs:          map[string]model.Subscription{},
        deliveries:    map[string]*memDelivery{},
    }}
}

// Transact holds the store lock for the whole callback. A single-process
// store cannot roll back; Postgres is the durability story, this exists for
// dev mode and tests.
func (m *Memory) Transact(ctx context.Context, fn func(Store) error) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    return fn(&m.c)
}

func (m *Memory) CreateOrder(ctx context.Context, o model.Order) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.CreateOrder(ctx, o)
}
func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.GetOrder(ctx, id)
}
func (m *Memory) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.UpdateOrderStatus(ctx, id, from, to, at)
}
func (m *Memory) CreatePayment(ctx context.Context, p model.Payment) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.CreatePayment(ctx, p)
}
func (m *Memory) GetPayment(ctx context.Context, id string) (model.Payment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.GetPayment(ctx, id)
}
func (m *Memory) GetPaymentByProviderOrderID(ctx context.Context, poid string) (model.Payment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.GetPaymentByProviderOrderID(ctx, poid)
}
func (m *Memory) GetPaymentByProviderPaymentID(ctx context.Context, ppid string) (model.Payment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.GetPaymentByProviderPaymentID(ctx, ppid)
}
func (m *Memory) ActivePaymentForOrder(ctx context.Context, orderID string) (model.Payment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.ActivePaymentForOrder(ctx, orderID)
}
func (m *Memory) MarkPaymentAuthorized(ctx context.Context, id, ppid string) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.MarkPaymentAuthorized(ctx, id, ppid)
}
func (m *Memory) MarkPaymentCaptured(ctx context.Context, id, ppid string, at time.Time) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.MarkPaymentCaptured(ctx, id, ppid, at)
}
func (m *Memory) MarkPaymentFailed(ctx context.Context, id, code, msg string) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.MarkPaymentFailed(ctx, id, code, msg)
}
func (m *Memory) AddPaymentRefund(ctx context.Context, id string, amount int64) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.AddPaymentRefund(ctx, id, amount)
}
func (m *Memory) CreateShipment(ctx context.Context, s model.Shipment) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.CreateShipment(ctx, s)
}
func (m *Memory) GetShipment(ctx context.Context, id string) (model.Shipment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.GetShipment(ctx, id)
}
func (m *Memory) GetShipmentByAWB(ctx context.Context, awb string) (model.Shipment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.GetShipmentByAWB(ctx, awb)
}
func (m *Memory) ActiveShipmentForOrder(ctx context.Context, orderID string) (model.Shipment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.ActiveShipmentForOrder(ctx, orderID)
}
func (m *Memory) UpdateShipmentStatus(ctx context.Context, id string, from, to model.ShipmentStatus, at time.Time) (bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.UpdateShipmentStatus(ctx, id, from, to, at)
}
func (m *Memory) ClaimWebhookEvent(ctx context.Context, source, externalID, hash string) (Claim, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.ClaimWebhookEvent(ctx, source, externalID, hash)
}
func (m *Memory) MarkWebhookProcessed(ctx context.Context, source, externalID string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.MarkWebhookProcessed(ctx, source, externalID)
}
func (m *Memory) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.CreateSubscription(ctx, sub)
}
func (m *Memory) ListSubscriptions(ctx context.Context, merchantID string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.ListSubscriptions(ctx, merchantID)
}
func (m *Memory) DeleteSubscription(ctx context.Context, merchantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.DeleteSubscription(ctx, merchantID, id)
}
func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, merchantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.GetSubscriptionsForEvent(ctx, merchantID, eventType)
}
func (m *Memory) EnqueueWebhook(ctx context.Context, merchantID, subID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.EnqueueWebhook(ctx, merchantID, subID, eventType, url, secret, payload)
}
func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.FetchDueWebhookDeliveries(ctx, limit)
}
func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.c.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// core holds the actual state; its methods assume the caller owns the lock.
type core struct {
    orders        map[string]model.Order
    payments      map[string]model.Payment
    payByProvider map[string]string // provider order id -> payment id
    payByOrder    map[string]string // order id -> latest payment id
    shipments     map[string]model.Shipment
    shipByAWB     map[string]string
    events        map[string]*model.WebhookEvent // source/externalId
    subs          map[string]model.Subscription
    deliveries    map[string]*memDelivery
}

// Transact inside a transact: same view.
func (c *core) Transact(ctx context.Context, fn func(Store) error) error { return fn(c) }

func (c *core) CreateOrder(ctx context.Context, o model.Order) error {
    if _, ok := c.orders[o.ID]; ok { return ErrConflict }
    c.orders[o.ID] = o
    return nil
}

func (c *core) GetOrder(ctx context.Context, id string) (model.Order, error) {
    o, ok := c.orders[id]
    if !ok { return model.Order{}, ErrNotFound }
    return o, nil
}

func (c *core) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) (bool, error) {
    o, ok := c.orders[id]
    if !ok { return false, ErrNotFound }
    if o.Status != from { return false, nil }
    o.Status = to
    stampOrder(&o, to, at)
    c.orders[id] = o
    return true, nil
}

func stampOrder(o *model.Order, to model.OrderStatus, at time.Time) {
    t := at
    switch to {
    case model.OrderPaymentReceived:
        o.PaymentReceivedAt = &t
    case model.OrderShipped:
        o.ShippedAt = &t
    case model.OrderDelivered:
        o.DeliveredAt = &t
    case model.OrderCancelled:
        o.CancelledAt = &t
    }
}

func (c *core) CreatePayment(ctx context.Context, p model.Payment) error {
    if _, ok := c.payments[p.ID]; ok { return ErrConflict }
    c.payments[p.ID] = p
    if p.ProviderOrderID != "" { c.payByProvider[p.ProviderOrderID] = p.ID }
    c.payByOrder[p.OrderID] = p.ID
    return nil
}

func (c *core) GetPayment(ctx context.Context, id string) (model.Payment, error) {
    p, ok := c.payments[id]
    if !ok { return model.Payment{}, ErrNotFound }
    return p, nil
}

func (c *core) GetPaymentByProviderOrderID(ctx context.Context, poid string) (model.Payment, error) {
    id, ok := c.payByProvider[poid]
    if !ok { return model.Payment{}, ErrNotFound }
    return c.payments[id], nil
}

func (c *core) GetPaymentByProviderPaymentID(ctx context.Context, ppid string) (model.Payment, error) {
    for _, p := range c.payments {
        if p.ProviderPaymentID == ppid && ppid != "" {
            return p, nil
        }
    }
    return model.Payment{}, ErrNotFound
}

func (c *core) ActivePaymentForOrder(ctx context.Context, orderID string) (model.Payment, error) {
    id, ok := c.payByOrder[orderID]
    if !ok { return model.Payment{}, ErrNotFound }
    return c.payments[id], nil
}

func (c *core) MarkPaymentAuthorized(ctx context.Context, id, ppid string) (bool, error) {
    p, ok := c.payments[id]
    if !ok { return false, ErrNotFound }
    if p.Status != model.PaymentCreated { return false, nil }
    p.Status = model.PaymentAuthorized
    p.ProviderPaymentID = ppid
    c.payments[id] = p
    return true, nil
}

func (c *core) MarkPaymentCaptured(ctx context.Context, id, ppid string, at time.Time) (bool, error) {
    p, ok := c.payments[id]
    if !ok { return false, ErrNotFound }
    if p.Status != model.PaymentCreated && p.Status != model.PaymentAuthorized { return false, nil }
    t := at
    p.Status = model.PaymentCaptured
    p.ProviderPaymentID = ppid
    p.CapturedAt = &t
    c.payments[id] = p
    return true, nil
}

func (c *core) MarkPaymentFailed(ctx context.Context, id, code, msg string) (bool, error) {
    p, ok := c.payments[id]
    if !ok { return false, ErrNotFound }
    if p.Status == model.PaymentCaptured || p.Status == model.PaymentFailed { return false, nil }
    p.Status = model.PaymentFailed
    p.ErrorCode = code
    p.ErrorMessage = msg
    c.payments[id] = p
    return true, nil
}

func (c *core) AddPaymentRefund(ctx context.Context, id string, amount int64) error {
    p, ok := c.payments[id]
    if !ok { return ErrNotFound }
    p.RefundedAmount += amount
    c.payments[id] = p
    return nil
}

func (c *core) CreateShipment(ctx context.Context, s model.Shipment) error {
    if _, ok := c.shipments[s.ID]; ok { return ErrConflict }
    for _, other := range c.shipments {
        if other.OrderID == s.OrderID && other.Status.Active() {
            return ErrConflict
        }
    }
    c.shipments[s.ID] = s
    if s.AWB != "" { c.shipByAWB[s.AWB] = s.ID }
    return nil
}

func (c *core) GetShipment(ctx context.Context, id string) (model.Shipment, error) {
    s, ok := c.shipments[id]
    if !ok { return model.Shipment{}, ErrNotFound }
    return s, nil
}

func (c *core) GetShipmentByAWB(ctx context.Context, awb string) (model.Shipment, error) {
    id, ok := c.shipByAWB[awb]
    if !ok { return model.Shipment{}, ErrNotFound }
    return c.shipments[id], nil
}

func (c *core) ActiveShipmentForOrder(ctx context.Context, orderID string) (model.Shipment, error) {
    for _, s := range c.shipments {
        if s.OrderID == orderID && s.Status.Active() {
            return s, nil
        }
    }
    return model.Shipment{}, ErrNotFound
}

func (c *core) UpdateShipmentStatus(ctx context.Context, id string, from, to model.ShipmentStatus, at time.Time) (bool, error) {
    s, ok := c.shipments[id]
    if !ok { return false, ErrNotFound }
    if s.Status != from { return false, nil }
    t := at
    s.Status = to
    switch to {
    case model.ShipmentPickedUp:
        s.PickedUpAt = &t
    case model.ShipmentDelivered:
        s.DeliveredAt = &t
    case model.ShipmentCancelled:
        s.CancelledAt = &t
    }
    c.shipments[id] = s
    return true, nil
}

func (c *core) ClaimWebhookEvent(ctx context.Context, source, externalID, hash string) (Claim, error) {
    key := source + "/" + externalID
    if ev, ok := c.events[key]; ok {
        if ev.ProcessedAt != nil {
            return ClaimDuplicateProcessed, nil
        }
        return ClaimDuplicatePending, nil
    }
    c.events[key] = &model.WebhookEvent{
        Source:      source,
        ExternalID:  externalID,
        PayloadHash: hash,
        ReceivedAt:  time.Now().UTC(),
    }
    return ClaimAcquired, nil
}

func (c *core) MarkWebhookProcessed(ctx context.Context, source, externalID string) error {
    ev, ok := c.events[source+"/"+externalID]
    if !ok { return ErrNotFound }
    t := time.Now().UTC()
    ev.ProcessedAt = &t
    return nil
}

func (c *core) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
    if sub.ID == "" { sub.ID = uuid.New().String() }
    c.subs[sub.ID] = sub
    return sub, nil
}

func (c *core) ListSubscriptions(ctx context.Context, merchantID string) ([]model.Subscription, error) {
    out := []model.Subscription{}
    for _, s := range c.subs {
        if s.MerchantID == merchantID { out = append(out, s) }
    }
    return out, nil
}

func (c *core) DeleteSubscription(ctx context.Context, merchantID, id string) error {
    s, ok := c.subs[id]
    if !ok || s.MerchantID != merchantID { return ErrNotFound }
    delete(c.subs, id)
    return nil
}

func (c *core) GetSubscriptionsForEvent(ctx context.Context, merchantID, eventType string) ([]model.Subscription, error) {
    out := []model.Subscription{}
    for _, s := range c.subs {
        if s.MerchantID != merchantID { continue }
        for _, e := range s.Events {
            if e == eventType || e == "*" {
                out = append(out, s)
                break
            }
        }
    }
    return out, nil
}

func (c *core) EnqueueWebhook(ctx context.Context, merchantID, subID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    c.deliveries[id] = &memDelivery{
        WebhookDelivery: WebhookDelivery{
            ID: id, MerchantID: merchantID, SubscriptionID: subID,
            EventType: eventType, URL: url, Secret: secret,
            Payload: payload, Status: "pending",
        },
        NextAttemptAt: time.Now(),
    }
    return id, nil
}

func (c *core) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    out := []WebhookDelivery{}
    now := time.Now()
    for _, d := range c.deliveries {
        if len(out) >= limit { break }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
        }
    }
    return out, nil
}

func (c *core) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
    d, ok := c.deliveries[id]
    if !ok { return ErrNotFound }
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        t := time.Now()
        d.DeliveredAt = &t
        return nil
    }
    d.Attempts++
    d.Status = "retry"
    d.LastError = lastError
    if nextAttemptAt != nil {
        d.NextAttemptAt = *nextAttemptAt
    } else {
        d.NextAttemptAt = time.Now().Add(time.Minute)
    }
    return nil
}

func (c *core) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
    d, ok := c.deliveries[id]
    if !ok { return ErrNotFound }
    d.Status = "failed"
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}
