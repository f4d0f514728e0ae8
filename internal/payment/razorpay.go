// Package payment wraps the Razorpay order, capture, refund, and signature
// verification operations behind one adapter.
package payment

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "shipcore/internal/config"
    "shipcore/internal/webhooks"
)

type Client struct {
    baseURL       string
    keyID         string
    keySecret     string
    webhookSecret string
    http          *http.Client
}

func NewClient(cfg config.PaymentConfig) *Client {
    base := cfg.BaseURL
    if base == "" {
        base = "https://api.razorpay.com"
    }
    return &Client{
        baseURL:       strings.TrimRight(base, "/"),
        keyID:         cfg.KeyID,
        keySecret:     cfg.KeySecret,
        webhookSecret: cfg.WebhookSecret,
        http:          &http.Client{Timeout: 10 * time.Second},
    }
}

// ProviderOrder is the provider-side order created before checkout.
type ProviderOrder struct {
    ID       string `json:"id"`
    Amount   int64  `json:"amount"`
    Currency string `json:"currency"`
    Receipt  string `json:"receipt"`
    Status   string `json:"status"`
}

// PaymentSnapshot mirrors the provider's payment entity.
type PaymentSnapshot struct {
    ID       string `json:"id"`
    OrderID  string `json:"order_id"`
    Amount   int64  `json:"amount"`
    Status   string `json:"status"`
    ErrCode  string `json:"error_code"`
    ErrDesc  string `json:"error_description"`
    Captured bool   `json:"captured"`
}

type RefundSnapshot struct {
    ID        string `json:"id"`
    PaymentID string `json:"payment_id"`
    Amount    int64  `json:"amount"`
    Status    string `json:"status"`
}

// APIError is an explicit provider refusal, distinct from transport errors
// so callers can decide retry-ability.
type APIError struct {
    Code        string `json:"code"`
    Description string `json:"description"`
}

func (e *APIError) Error() string {
    return fmt.Sprintf("payment provider: %s (%s)", e.Description, e.Code)
}

// CreateOrder creates a provider order. Amount is in the smallest currency
// unit; receipt must be unique per attempt.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (ProviderOrder, error) {
    if amount <= 0 {
        return ProviderOrder{}, &APIError{Code: "BAD_REQUEST_ERROR", Description: "amount must be positive"}
    }
    if currency == "" {
        currency = "INR"
    }
    body := map[string]any{"amount": amount, "currency": currency, "receipt": receipt}
    if len(notes) > 0 {
        body["notes"] = notes
    }
    var out ProviderOrder
    if err := c.call(ctx, http.MethodPost, "/v1/orders", body, &out); err != nil {
        return ProviderOrder{}, err
    }
    return out, nil
}

// VerifySignature checks the checkout callback signature: HMAC-SHA256 over
// "orderID|paymentID" with the key secret, constant-time compare. Malformed
// input yields false, never an error.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
    if orderID == "" || paymentID == "" || signature == "" {
        return false
    }
    return webhooks.VerifyHMAC(c.keySecret, []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature applies the same HMAC discipline to the full raw
// webhook body.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
    if c.webhookSecret == "" || signatureHeader == "" {
        return false
    }
    return webhooks.VerifyHMAC(c.webhookSecret, rawBody, signatureHeader)
}

func (c *Client) CapturePayment(ctx context.Context, paymentID string, amount int64) (PaymentSnapshot, error) {
    var out PaymentSnapshot
    body := map[string]any{"amount": amount}
    if err := c.call(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/capture", body, &out); err != nil {
        return PaymentSnapshot{}, err
    }
    return out, nil
}

// CreateRefund refunds a captured payment. amount == 0 refunds in full.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (RefundSnapshot, error) {
    body := map[string]any{}
    if amount > 0 {
        body["amount"] = amount
    }
    if len(notes) > 0 {
        body["notes"] = notes
    }
    var out RefundSnapshot
    if err := c.call(ctx, http.MethodPost, "/v1/payments/"+paymentID+"/refund", body, &out); err != nil {
        return RefundSnapshot{}, err
    }
    return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
    var rd io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return err }
        rd = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
    if err != nil { return err }
    req.SetBasicAuth(c.keyID, c.keySecret)
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(req)
    if err != nil {
        return fmt.Errorf("payment: %w", err)
    }
    defer func() { _ = resp.Body.Close() }()
    if resp.StatusCode >= 400 && resp.StatusCode < 500 {
        var env struct {
            Error APIError `json:"error"`
        }
        _ = json.NewDecoder(resp.Body).Decode(&env)
        if env.Error.Code == "" {
            env.Error.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
        }
        return &env.Error
    }
    if resp.StatusCode >= 500 {
        return fmt.Errorf("payment: upstream %d", resp.StatusCode)
    }
    if out == nil {
        return nil
    }
    return json.NewDecoder(resp.Body).Decode(out)
}
