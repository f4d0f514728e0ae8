package courier

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "shipcore/internal/model"
)

// Delhivery implements Gateway against the Delhivery consignment API.
type Delhivery struct {
    baseURL string
    apiKey  string
    http    *http.Client
}

func NewDelhivery(baseURL, apiKey string) *Delhivery {
    return &Delhivery{
        baseURL: strings.TrimRight(baseURL, "/"),
        apiKey:  apiKey,
        http:    &http.Client{Timeout: 10 * time.Second},
    }
}

type dlShipmentReq struct {
    OrderID       string  `json:"order"`
    Name          string  `json:"name"`
    Phone         string  `json:"phone"`
    Address       string  `json:"add"`
    City          string  `json:"city"`
    State         string  `json:"state"`
    Pin           string  `json:"pin"`
    WeightGm      int     `json:"weight"`
    Quantity      int     `json:"quantity"`
    PaymentMode   string  `json:"payment_mode"` // Prepaid | COD
    CODAmount     float64 `json:"cod_amount,omitempty"`
    DeclaredValue float64 `json:"total_amount"`
    PickupDate    string  `json:"pickup_date,omitempty"`
}

type dlShipmentResp struct {
    Waybill    string `json:"waybill"`
    RefNum     string `json:"refnum"`
    ExpectedAt string `json:"expected_delivery_date"`
}

type dlError struct {
    Error struct {
        Code    string `json:"code"`
        Message string `json:"message"`
    } `json:"error"`
}

func (d *Delhivery) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error) {
    if err := req.Validate(); err != nil {
        return ShipmentResult{}, err
    }
    mode := "Prepaid"
    if req.PaymentMode == model.PaymentModeCOD {
        mode = "COD"
    }
    addr := req.Consignee.Line1
    if req.Consignee.Line2 != "" {
        addr += ", " + req.Consignee.Line2
    }
    body := dlShipmentReq{
        OrderID:       req.OrderID,
        Name:          req.Consignee.Name,
        Phone:         req.Consignee.Phone,
        Address:       addr,
        City:          req.Consignee.City,
        State:         req.Consignee.State,
        Pin:           req.Consignee.Pincode,
        WeightGm:      int(req.WeightKg * 1000),
        Quantity:      req.Pieces,
        PaymentMode:   mode,
        CODAmount:     float64(req.CODAmount) / 100,
        DeclaredValue: float64(req.DeclaredValue) / 100,
        PickupDate:    req.PickupDate,
    }
    var out dlShipmentResp
    if err := d.call(ctx, http.MethodPost, "/api/cmu/create", body, &out); err != nil {
        return ShipmentResult{}, err
    }
    res := ShipmentResult{AWB: out.Waybill, ProviderShipmentID: out.RefNum}
    if out.ExpectedAt != "" {
        if t, err := time.Parse("2006-01-02", out.ExpectedAt); err == nil {
            res.EstDelivery = &t
        }
    }
    return res, nil
}

func (d *Delhivery) CancelShipment(ctx context.Context, providerShipmentID string) error {
    body := map[string]any{"refnum": providerShipmentID, "cancellation": true}
    err := d.call(ctx, http.MethodPost, "/api/p/edit", body, nil)
    var pe *ProviderError
    if errors.As(err, &pe) && pe.Code == "ALREADY_MANIFESTED" {
        return ErrAlreadyPickedUp
    }
    return err
}

type dlTrackResp struct {
    Waybill  string `json:"waybill"`
    Status   string `json:"status"`
    Location string `json:"location"`
    At       string `json:"status_date_time"`
    Remarks  string `json:"instructions"`
}

func (d *Delhivery) GetTrackingStatus(ctx context.Context, awb string) (TrackingSnapshot, error) {
    var out dlTrackResp
    if err := d.call(ctx, http.MethodGet, "/api/v1/packages/"+awb, nil, &out); err != nil {
        return TrackingSnapshot{}, err
    }
    snap := TrackingSnapshot{
        AWB:         out.Waybill,
        Code:        delhiveryStatusCode(out.Status),
        Location:    out.Location,
        Description: out.Remarks,
    }
    if t, err := time.Parse(time.RFC3339, out.At); err == nil {
        snap.At = t
    }
    return snap, nil
}

// delhiveryStatusCode maps Delhivery scan statuses to neutral codes.
func delhiveryStatusCode(s string) string {
    switch strings.ToLower(s) {
    case "picked up", "manifested picked":
        return "picked_up"
    case "in transit":
        return "in_transit"
    case "dispatched", "out for delivery":
        return "out_for_delivery"
    case "delivered":
        return "delivered"
    case "pending", "undelivered":
        return "ndr"
    case "rto initiated", "returned":
        return "rto_initiated"
    case "rto delivered":
        return "rto_delivered"
    }
    return ""
}

// call issues one authenticated request. 4xx responses become ProviderError;
// transport failures and 5xx stay plain so callers may retry them.
func (d *Delhivery) call(ctx context.Context, method, path string, body, out any) error {
    var rd io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return err }
        rd = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, rd)
    if err != nil { return err }
    req.Header.Set("Authorization", "Token "+d.apiKey)
    req.Header.Set("Content-Type", "application/json")
    resp, err := d.http.Do(req)
    if err != nil {
        return fmt.Errorf("delhivery: %w", err)
    }
    defer func() { _ = resp.Body.Close() }()
    if resp.StatusCode >= 400 && resp.StatusCode < 500 {
        var de dlError
        _ = json.NewDecoder(resp.Body).Decode(&de)
        if de.Error.Code == "" {
            de.Error.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
        }
        return &ProviderError{Provider: "delhivery", Code: de.Error.Code, Message: de.Error.Message}
    }
    if resp.StatusCode >= 500 {
        return fmt.Errorf("delhivery: upstream %d", resp.StatusCode)
    }
    if out == nil {
        return nil
    }
    return json.NewDecoder(resp.Body).Decode(out)
}
