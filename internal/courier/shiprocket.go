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

// Shiprocket implements Gateway against the Shiprocket aggregator API.
type Shiprocket struct {
    baseURL string
    token   string
    http    *http.Client
}

func NewShiprocket(baseURL, token string) *Shiprocket {
    return &Shiprocket{
        baseURL: strings.TrimRight(baseURL, "/"),
        token:   token,
        http:    &http.Client{Timeout: 10 * time.Second},
    }
}

type srOrderReq struct {
    OrderID         string  `json:"order_id"`
    BillingName     string  `json:"billing_customer_name"`
    BillingPhone    string  `json:"billing_phone"`
    BillingEmail    string  `json:"billing_email,omitempty"`
    BillingAddress  string  `json:"billing_address"`
    BillingAddress2 string  `json:"billing_address_2,omitempty"`
    BillingCity     string  `json:"billing_city"`
    BillingState    string  `json:"billing_state"`
    BillingPincode  string  `json:"billing_pincode"`
    PaymentMethod   string  `json:"payment_method"` // Prepaid | COD
    SubTotal        float64 `json:"sub_total"`
    CODCharges      float64 `json:"cod_charges,omitempty"`
    Weight          float64 `json:"weight"` // kg
    Length          float64 `json:"length,omitempty"`
    Breadth         float64 `json:"breadth,omitempty"`
    Height          float64 `json:"height,omitempty"`
    Units           int     `json:"units"`
    PickupDate      string  `json:"pickup_scheduled_date,omitempty"`
}

type srOrderResp struct {
    ShipmentID int64  `json:"shipment_id"`
    AWBCode    string `json:"awb_code"`
    ETD        string `json:"etd"`
    Status     string `json:"status"`
}

type srError struct {
    Message   string `json:"message"`
    ErrorCode string `json:"status_code,omitempty"`
    Code      string `json:"error_code,omitempty"`
}

func (s *Shiprocket) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error) {
    if err := req.Validate(); err != nil {
        return ShipmentResult{}, err
    }
    method := "Prepaid"
    if req.PaymentMode == model.PaymentModeCOD {
        method = "COD"
    }
    body := srOrderReq{
        OrderID:         req.OrderID,
        BillingName:     req.Consignee.Name,
        BillingPhone:    req.Consignee.Phone,
        BillingEmail:    req.Consignee.Email,
        BillingAddress:  req.Consignee.Line1,
        BillingAddress2: req.Consignee.Line2,
        BillingCity:     req.Consignee.City,
        BillingState:    req.Consignee.State,
        BillingPincode:  req.Consignee.Pincode,
        PaymentMethod:   method,
        SubTotal:        float64(req.DeclaredValue) / 100,
        CODCharges:      float64(req.CODAmount) / 100,
        Weight:          req.WeightKg,
        Units:           req.Pieces,
        PickupDate:      req.PickupDate,
    }
    if d := req.Dimensions; d != nil {
        body.Length, body.Breadth, body.Height = d.LengthCm, d.WidthCm, d.HeightCm
    }
    var out srOrderResp
    if err := s.call(ctx, http.MethodPost, "/v1/external/shipments/create/adhoc", body, &out); err != nil {
        return ShipmentResult{}, err
    }
    res := ShipmentResult{AWB: out.AWBCode, ProviderShipmentID: fmt.Sprint(out.ShipmentID)}
    if out.ETD != "" {
        if t, err := time.Parse("2006-01-02 15:04:05", out.ETD); err == nil {
            res.EstDelivery = &t
        }
    }
    return res, nil
}

func (s *Shiprocket) CancelShipment(ctx context.Context, providerShipmentID string) error {
    body := map[string]any{"ids": []string{providerShipmentID}}
    err := s.call(ctx, http.MethodPost, "/v1/external/orders/cancel", body, nil)
    var pe *ProviderError
    if errors.As(err, &pe) && pe.Code == "SHIPMENT_PICKED" {
        return ErrAlreadyPickedUp
    }
    return err
}

type srTrackResp struct {
    TrackingData struct {
        AWB           string `json:"awb_code"`
        CurrentStatus string `json:"current_status"`
        Location      string `json:"current_location"`
        UpdatedAt     string `json:"updated_time_stamp"`
        Remark        string `json:"remark"`
    } `json:"tracking_data"`
}

func (s *Shiprocket) GetTrackingStatus(ctx context.Context, awb string) (TrackingSnapshot, error) {
    var out srTrackResp
    if err := s.call(ctx, http.MethodGet, "/v1/external/courier/track/awb/"+awb, nil, &out); err != nil {
        return TrackingSnapshot{}, err
    }
    td := out.TrackingData
    snap := TrackingSnapshot{
        AWB:         td.AWB,
        Code:        shiprocketStatusCode(td.CurrentStatus),
        Location:    td.Location,
        Description: td.Remark,
    }
    if t, err := time.Parse(time.RFC3339, td.UpdatedAt); err == nil {
        snap.At = t
    }
    return snap, nil
}

func shiprocketStatusCode(s string) string {
    switch strings.ToUpper(s) {
    case "PICKED UP", "SHIPPED":
        return "picked_up"
    case "IN TRANSIT":
        return "in_transit"
    case "OUT FOR DELIVERY":
        return "out_for_delivery"
    case "DELIVERED":
        return "delivered"
    case "UNDELIVERED", "NDR":
        return "ndr"
    case "RTO INITIATED":
        return "rto_initiated"
    case "RTO DELIVERED":
        return "rto_delivered"
    }
    return ""
}

func (s *Shiprocket) call(ctx context.Context, method, path string, body, out any) error {
    var rd io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return err }
        rd = bytes.NewReader(b)
    }
    req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
    if err != nil { return err }
    req.Header.Set("Authorization", "Bearer "+s.token)
    req.Header.Set("Content-Type", "application/json")
    resp, err := s.http.Do(req)
    if err != nil {
        return fmt.Errorf("shiprocket: %w", err)
    }
    defer func() { _ = resp.Body.Close() }()
    if resp.StatusCode >= 400 && resp.StatusCode < 500 {
        var se srError
        _ = json.NewDecoder(resp.Body).Decode(&se)
        code := se.Code
        if code == "" { code = fmt.Sprintf("HTTP_%d", resp.StatusCode) }
        return &ProviderError{Provider: "shiprocket", Code: code, Message: se.Message}
    }
    if resp.StatusCode >= 500 {
        return fmt.Errorf("shiprocket: upstream %d", resp.StatusCode)
    }
    if out == nil {
        return nil
    }
    return json.NewDecoder(resp.Body).Decode(out)
}
