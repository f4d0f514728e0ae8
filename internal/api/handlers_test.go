package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"

    "shipcore/internal/config"
    "shipcore/internal/courier"
    "shipcore/internal/model"
    "shipcore/internal/webhooks"
)

const (
    testPaymentSecret = "whsec_test"
    testCourierSecret = "courier_secret"
)

type stubGateway struct {
    cancelErr error
}

func (g *stubGateway) CreateShipment(ctx context.Context, req courier.ShipmentRequest) (courier.ShipmentResult, error) {
    return courier.ShipmentResult{AWB: "AWB1", ProviderShipmentID: "ps1"}, nil
}
func (g *stubGateway) CancelShipment(ctx context.Context, id string) error { return g.cancelErr }
func (g *stubGateway) GetTrackingStatus(ctx context.Context, awb string) (courier.TrackingSnapshot, error) {
    return courier.TrackingSnapshot{AWB: awb, Code: "in_transit"}, nil
}

// newTestServer runs on the in-memory store with a fake payment provider and
// a stub courier registered under the delhivery name so its webhook payloads
// parse.
func newTestServer(t *testing.T, gw courier.Gateway) *Server {
    t.Helper()
    pp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _, _ = w.Write([]byte(`{"id":"porder_1","amount":50000,"currency":"INR","status":"created"}`))
    }))
    t.Cleanup(pp.Close)

    cfg := config.Config{
        Payment: config.PaymentConfig{
            KeyID: "key_test", KeySecret: "secret_test",
            WebhookSecret: testPaymentSecret, BaseURL: pp.URL,
        },
        WebhookMaxAttempts: 3,
    }
    srv, err := NewServer(cfg)
    if err != nil {
        t.Fatalf("new server: %v", err)
    }
    if gw == nil {
        gw = &stubGateway{}
    }
    srv.Registry.Register(config.CourierConfig{
        Name: "delhivery", Enabled: true, Priority: 1, WebhookSecret: testCourierSecret,
    }, gw)
    return srv
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
    t.Helper()
    var rd *bytes.Reader
    if body != nil {
        b, _ := json.Marshal(body)
        rd = bytes.NewReader(b)
    } else {
        rd = bytes.NewReader(nil)
    }
    req := httptest.NewRequest(method, path, rd)
    rr := httptest.NewRecorder()
    h(rr, req)
    return rr
}

func createOrder(t *testing.T, srv *Server, cod bool) model.Order {
    t.Helper()
    rr := doJSON(t, srv.OrdersHandler, http.MethodPost, "/v1/orders", model.CreateOrderRequest{Amount: 50000, COD: cod})
    if rr.Code != 201 {
        t.Fatalf("create order: %d %s", rr.Code, rr.Body.String())
    }
    var o model.Order
    _ = json.Unmarshal(rr.Body.Bytes(), &o)
    return o
}

func createPaymentOrder(t *testing.T, srv *Server, orderID string) string {
    t.Helper()
    rr := doJSON(t, srv.PaymentOrdersHandler, http.MethodPost, "/v1/payments/orders", model.CreatePaymentOrderRequest{OrderID: orderID})
    if rr.Code != 201 {
        t.Fatalf("create payment order: %d %s", rr.Code, rr.Body.String())
    }
    var out struct {
        ProviderOrderID string `json:"providerOrderId"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &out)
    return out.ProviderOrderID
}

func postPaymentWebhook(t *testing.T, srv *Server, eventID string, body []byte, secret string) *httptest.ResponseRecorder {
    t.Helper()
    req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(body))
    req.Header.Set("X-Razorpay-Signature", webhooks.SignHMAC(secret, body))
    req.Header.Set("X-Razorpay-Event-Id", eventID)
    rr := httptest.NewRecorder()
    srv.PaymentWebhookHandler(rr, req)
    return rr
}

func postCourierWebhook(t *testing.T, srv *Server, scanID, awb, status string) *httptest.ResponseRecorder {
    t.Helper()
    body := []byte(fmt.Sprintf(
        `{"Shipment":{"AWB":%q,"ScanID":%q,"Status":{"Status":%q,"StatusDateTime":"2026-08-29T10:00:00Z","StatusLocation":"BLR"}}}`,
        awb, scanID, status))
    req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/courier/delhivery", bytes.NewReader(body))
    req.Header.Set("X-Signature", webhooks.SignHMAC(testCourierSecret, body))
    rr := httptest.NewRecorder()
    srv.CourierWebhookHandler(rr, req)
    return rr
}

func capturedBody(providerOrderID string) []byte {
    return []byte(fmt.Sprintf(
        `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"ppay_1","order_id":%q,"amount":50000}}},"created_at":1756450000}`,
        providerOrderID))
}

func orderStatus(t *testing.T, srv *Server, id string) model.OrderStatus {
    t.Helper()
    o, err := srv.Store.GetOrder(context.Background(), id)
    if err != nil {
        t.Fatalf("get order: %v", err)
    }
    return o.Status
}

func TestPrepaidOrderLifecycle(t *testing.T) {
    srv := newTestServer(t, nil)
    o := createOrder(t, srv, false)
    poid := createPaymentOrder(t, srv, o.ID)
    if got := orderStatus(t, srv, o.ID); got != model.OrderPaymentPending {
        t.Fatalf("expected PAYMENT_PENDING, got %s", got)
    }

    rr := postPaymentWebhook(t, srv, "evt1", capturedBody(poid), testPaymentSecret)
    if rr.Code != 200 {
        t.Fatalf("payment webhook: %d %s", rr.Code, rr.Body.String())
    }
    if got := orderStatus(t, srv, o.ID); got != model.OrderPaymentReceived {
        t.Fatalf("expected PAYMENT_RECEIVED, got %s", got)
    }

    rr = doJSON(t, srv.ShipmentsHandler, http.MethodPost, "/v1/shipments", model.CreateShipmentRequest{
        OrderID: o.ID,
        Consignee: model.Consignee{
            Name: "Asha Rao", Phone: "9876543210",
            Line1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001",
        },
        WeightKg: 1, Pieces: 1, DeclaredValue: 50000,
        PaymentMode: model.PaymentModePrepaid,
    })
    if rr.Code != 201 {
        t.Fatalf("create shipment: %d %s", rr.Code, rr.Body.String())
    }

    if rr := postCourierWebhook(t, srv, "scan1", "AWB1", "Picked up"); rr.Code != 200 {
        t.Fatalf("pickup webhook: %d %s", rr.Code, rr.Body.String())
    }
    if got := orderStatus(t, srv, o.ID); got != model.OrderShipped {
        t.Fatalf("expected SHIPPED, got %s", got)
    }

    if rr := postCourierWebhook(t, srv, "scan2", "AWB1", "Delivered"); rr.Code != 200 {
        t.Fatalf("delivered webhook: %d %s", rr.Code, rr.Body.String())
    }
    if got := orderStatus(t, srv, o.ID); got != model.OrderDelivered {
        t.Fatalf("expected DELIVERED, got %s", got)
    }
}

func TestPaymentWebhookTamperedSignature(t *testing.T) {
    srv := newTestServer(t, nil)
    o := createOrder(t, srv, false)
    poid := createPaymentOrder(t, srv, o.ID)

    rr := postPaymentWebhook(t, srv, "evt1", capturedBody(poid), "wrong_secret")
    if rr.Code != 401 {
        t.Fatalf("expected 401 for bad signature, got %d", rr.Code)
    }
    if got := orderStatus(t, srv, o.ID); got != model.OrderPaymentPending {
        t.Fatalf("rejected webhook must not change state, got %s", got)
    }

    // Missing signature gets the same response.
    req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payment", bytes.NewReader(capturedBody(poid)))
    rec := httptest.NewRecorder()
    srv.PaymentWebhookHandler(rec, req)
    if rec.Code != 401 {
        t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
    }
}

func TestPaymentWebhookReplay(t *testing.T) {
    srv := newTestServer(t, nil)
    o := createOrder(t, srv, false)
    poid := createPaymentOrder(t, srv, o.ID)
    body := capturedBody(poid)

    if rr := postPaymentWebhook(t, srv, "evt1", body, testPaymentSecret); rr.Code != 200 {
        t.Fatalf("first delivery: %d", rr.Code)
    }
    rr := postPaymentWebhook(t, srv, "evt1", body, testPaymentSecret)
    if rr.Code != 200 {
        t.Fatalf("replay must be acknowledged, got %d", rr.Code)
    }
    var out map[string]string
    _ = json.Unmarshal(rr.Body.Bytes(), &out)
    if out["status"] != "duplicate" {
        t.Fatalf("expected duplicate ack, got %v", out)
    }
    if got := orderStatus(t, srv, o.ID); got != model.OrderPaymentReceived {
        t.Fatalf("replay mutated order: %s", got)
    }
}

func TestPaymentWebhookIgnoresUnsupportedEvent(t *testing.T) {
    srv := newTestServer(t, nil)
    body := []byte(`{"event":"invoice.paid","payload":{}}`)
    rr := postPaymentWebhook(t, srv, "evt1", body, testPaymentSecret)
    if rr.Code != 200 {
        t.Fatalf("unsupported type must be acknowledged, got %d", rr.Code)
    }
}

func TestCourierWebhookRejectedWithoutSecret(t *testing.T) {
    srv := newTestServer(t, nil)
    // shiprocket adapter exists but no config block registered a secret
    body := []byte(`{"awb":"SR1","current_status":"DELIVERED"}`)
    req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/courier/shiprocket", bytes.NewReader(body))
    req.Header.Set("X-Signature", webhooks.SignHMAC("anything", body))
    rr := httptest.NewRecorder()
    srv.CourierWebhookHandler(rr, req)
    if rr.Code != 401 {
        t.Fatalf("provider without secret must fail closed, got %d", rr.Code)
    }
}

func TestCODOrderShipsWithoutPayment(t *testing.T) {
    srv := newTestServer(t, nil)
    o := createOrder(t, srv, true)

    // Payment order creation is refused for COD.
    rr := doJSON(t, srv.PaymentOrdersHandler, http.MethodPost, "/v1/payments/orders", model.CreatePaymentOrderRequest{OrderID: o.ID})
    if rr.Code != 409 {
        t.Fatalf("expected 409 for COD payment order, got %d", rr.Code)
    }

    rr = doJSON(t, srv.ShipmentsHandler, http.MethodPost, "/v1/shipments", model.CreateShipmentRequest{
        OrderID: o.ID,
        Consignee: model.Consignee{
            Name: "Asha Rao", Phone: "9876543210",
            Line1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001",
        },
        WeightKg: 1, Pieces: 1, DeclaredValue: 50000,
        PaymentMode: model.PaymentModeCOD, CODAmount: 50000,
    })
    if rr.Code != 201 {
        t.Fatalf("COD shipment from CREATED: %d %s", rr.Code, rr.Body.String())
    }
    if rr := postCourierWebhook(t, srv, "scan1", "AWB1", "Picked up"); rr.Code != 200 {
        t.Fatalf("pickup webhook: %d", rr.Code)
    }
    if got := orderStatus(t, srv, o.ID); got != model.OrderShipped {
        t.Fatalf("expected SHIPPED, got %s", got)
    }
}

func TestCancelOrderBeforeAndAfterPickup(t *testing.T) {
    srv := newTestServer(t, nil)

    // Before any shipment: cancel goes through.
    o1 := createOrder(t, srv, false)
    rr := doJSON(t, srv.OrderByIDHandler, http.MethodPost, "/v1/orders/"+o1.ID+"/cancel", nil)
    if rr.Code != 200 {
        t.Fatalf("cancel before shipment: %d %s", rr.Code, rr.Body.String())
    }
    if got := orderStatus(t, srv, o1.ID); got != model.OrderCancelled {
        t.Fatalf("expected CANCELLED, got %s", got)
    }

    // After pickup: the boundary holds.
    o2 := createOrder(t, srv, true)
    rr = doJSON(t, srv.ShipmentsHandler, http.MethodPost, "/v1/shipments", model.CreateShipmentRequest{
        OrderID: o2.ID,
        Consignee: model.Consignee{
            Name: "Asha Rao", Phone: "9876543210",
            Line1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001",
        },
        WeightKg: 1, Pieces: 1, DeclaredValue: 50000,
        PaymentMode: model.PaymentModeCOD, CODAmount: 50000,
    })
    if rr.Code != 201 {
        t.Fatalf("create shipment: %d", rr.Code)
    }
    if rr := postCourierWebhook(t, srv, "scanX", "AWB1", "Picked up"); rr.Code != 200 {
        t.Fatalf("pickup webhook: %d", rr.Code)
    }
    rr = doJSON(t, srv.OrderByIDHandler, http.MethodPost, "/v1/orders/"+o2.ID+"/cancel", nil)
    if rr.Code != 409 {
        t.Fatalf("expected 409 after pickup, got %d %s", rr.Code, rr.Body.String())
    }
    if got := orderStatus(t, srv, o2.ID); got != model.OrderShipped {
        t.Fatalf("refused cancel must not change state, got %s", got)
    }
}

func TestVerifyPayment(t *testing.T) {
    srv := newTestServer(t, nil)
    o := createOrder(t, srv, false)
    poid := createPaymentOrder(t, srv, o.ID)

    sig := webhooks.SignHMAC("secret_test", []byte(poid+"|ppay_1"))
    rr := doJSON(t, srv.PaymentVerifyHandler, http.MethodPost, "/v1/payments/verify", model.VerifyPaymentRequest{
        ProviderOrderID: poid, ProviderPaymentID: "ppay_1", Signature: sig,
    })
    if rr.Code != 200 {
        t.Fatalf("verify: %d %s", rr.Code, rr.Body.String())
    }
    if got := orderStatus(t, srv, o.ID); got != model.OrderPaymentReceived {
        t.Fatalf("expected PAYMENT_RECEIVED, got %s", got)
    }

    rr = doJSON(t, srv.PaymentVerifyHandler, http.MethodPost, "/v1/payments/verify", model.VerifyPaymentRequest{
        ProviderOrderID: poid, ProviderPaymentID: "ppay_2", Signature: sig,
    })
    if rr.Code != 401 {
        t.Fatalf("expected 401 for mismatched signature, got %d", rr.Code)
    }
}

func TestSubscriptions(t *testing.T) {
    srv := newTestServer(t, nil)
    rr := doJSON(t, srv.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{
        URL: "https://merchant.example/hooks", Events: []string{"order.shipped"}, Secret: "s",
    })
    if rr.Code != 201 {
        t.Fatalf("create subscription: %d %s", rr.Code, rr.Body.String())
    }
    var sub model.Subscription
    _ = json.Unmarshal(rr.Body.Bytes(), &sub)
    if sub.Secret != "" {
        t.Fatalf("secret must not be echoed back")
    }

    rr = doJSON(t, srv.SubscriptionsHandler, http.MethodGet, "/v1/subscriptions", nil)
    if rr.Code != 200 {
        t.Fatalf("list subscriptions: %d", rr.Code)
    }

    rr = doJSON(t, srv.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
    if rr.Code != 204 {
        t.Fatalf("delete subscription: %d", rr.Code)
    }

    rr = doJSON(t, srv.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "not-a-url", Events: []string{"x"}})
    if rr.Code != 400 {
        t.Fatalf("expected 400 for bad url, got %d", rr.Code)
    }
}

func TestRefreshShipmentReconcilesSnapshot(t *testing.T) {
    srv := newTestServer(t, nil)
    o := createOrder(t, srv, true)
    rr := doJSON(t, srv.ShipmentsHandler, http.MethodPost, "/v1/shipments", model.CreateShipmentRequest{
        OrderID: o.ID,
        Consignee: model.Consignee{
            Name: "Asha Rao", Phone: "9876543210",
            Line1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001",
        },
        WeightKg: 1, Pieces: 1, DeclaredValue: 50000,
        PaymentMode: model.PaymentModeCOD, CODAmount: 50000,
    })
    if rr.Code != 201 {
        t.Fatalf("create shipment: %d", rr.Code)
    }
    var resp model.CreateShipmentResponse
    _ = json.Unmarshal(rr.Body.Bytes(), &resp)

    // stubGateway reports in_transit; the poll must apply it.
    rr = doJSON(t, srv.ShipmentByIDHandler, http.MethodPost, "/v1/shipments/"+resp.ShipmentID+"/refresh", nil)
    if rr.Code != 200 {
        t.Fatalf("refresh: %d %s", rr.Code, rr.Body.String())
    }
    sh, err := srv.Store.GetShipment(context.Background(), resp.ShipmentID)
    if err != nil || sh.Status != model.ShipmentInTransit {
        t.Fatalf("snapshot not reconciled: %+v err=%v", sh, err)
    }
}
