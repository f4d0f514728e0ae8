package model

type OrderStatus string

const (
    OrderCreated         OrderStatus = "CREATED"
    OrderPaymentPending  OrderStatus = "PAYMENT_PENDING"
    OrderPaymentReceived OrderStatus = "PAYMENT_RECEIVED"
    OrderShipped         OrderStatus = "SHIPPED"
    OrderDelivered       OrderStatus = "DELIVERED"
    OrderCancelled       OrderStatus = "CANCELLED"
    OrderReturnInitiated OrderStatus = "RETURN_INITIATED"
    OrderDisputed        OrderStatus = "DISPUTED"
)

type PaymentStatus string

const (
    PaymentCreated    PaymentStatus = "CREATED"
    PaymentAuthorized PaymentStatus = "AUTHORIZED"
    PaymentCaptured   PaymentStatus = "CAPTURED"
    PaymentFailed     PaymentStatus = "FAILED"
)

type ShipmentStatus string

const (
    ShipmentCreated        ShipmentStatus = "CREATED"
    ShipmentPickedUp       ShipmentStatus = "PICKED_UP"
    ShipmentInTransit      ShipmentStatus = "IN_TRANSIT"
    ShipmentOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
    ShipmentDelivered      ShipmentStatus = "DELIVERED"
    ShipmentNDR            ShipmentStatus = "NDR"
    ShipmentRTOInitiated   ShipmentStatus = "RTO_INITIATED"
    ShipmentRTODelivered   ShipmentStatus = "RTO_DELIVERED"
    ShipmentCancelled      ShipmentStatus = "CANCELLED"
)

// orderNext holds the allowed forward transitions. Terminal states
// (DELIVERED, CANCELLED) have no entries and accept nothing further.
var orderNext = map[OrderStatus]map[OrderStatus]bool{
    OrderCreated: {
        OrderPaymentPending: true,
        OrderShipped:        true, // COD ships without payment
        OrderCancelled:      true,
    },
    OrderPaymentPending: {
        OrderPaymentReceived: true,
        OrderCancelled:       true,
    },
    OrderPaymentReceived: {
        OrderShipped:   true,
        OrderCancelled: true,
    },
    OrderShipped: {
        OrderDelivered:       true,
        OrderReturnInitiated: true,
        OrderDisputed:        true,
    },
    OrderReturnInitiated: {
        OrderDisputed: true,
    },
}

// CanTransition reports whether an order may move from its current status to
// the target. The happy path is monotonic; exception branches are explicit.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
    return orderNext[s][to]
}

// Terminal reports whether the order accepts no further automatic transitions.
func (s OrderStatus) Terminal() bool {
    return s == OrderDelivered || s == OrderCancelled
}

// Courier events arrive at-least-once and out of business order, so every
// forward jump along the delivery progression is legal: a DELIVERED scan may
// be processed before the PICKED_UP scan ever lands.
var shipmentNext = map[ShipmentStatus]map[ShipmentStatus]bool{
    ShipmentCreated: {
        ShipmentPickedUp:       true,
        ShipmentInTransit:      true,
        ShipmentOutForDelivery: true,
        ShipmentDelivered:      true,
        ShipmentNDR:            true,
        ShipmentRTOInitiated:   true,
        ShipmentCancelled:      true,
    },
    ShipmentPickedUp: {
        ShipmentInTransit:      true,
        ShipmentOutForDelivery: true,
        ShipmentDelivered:      true,
        ShipmentNDR:            true,
        ShipmentRTOInitiated:   true,
    },
    ShipmentInTransit: {
        ShipmentOutForDelivery: true,
        ShipmentDelivered:      true,
        ShipmentNDR:            true,
        ShipmentRTOInitiated:   true,
    },
    ShipmentOutForDelivery: {
        ShipmentDelivered:    true,
        ShipmentNDR:          true,
        ShipmentRTOInitiated: true,
    },
    ShipmentNDR: {
        ShipmentOutForDelivery: true,
        ShipmentDelivered:      true,
        ShipmentRTOInitiated:   true,
    },
    ShipmentRTOInitiated: {
        ShipmentRTODelivered: true,
    },
}

func (s ShipmentStatus) CanTransition(to ShipmentStatus) bool {
    return shipmentNext[s][to]
}

// Active reports whether the shipment still occupies its order. A cancelled
// shipment frees the order for a new consignment.
func (s ShipmentStatus) Active() bool {
    return s != ShipmentCancelled
}
