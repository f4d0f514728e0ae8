package courier

import (
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "fmt"
    "time"
)

// dlWebhook is Delhivery's scan push payload.
type dlWebhook struct {
    Shipment struct {
        AWB    string `json:"AWB"`
        Status struct {
            Status         string `json:"Status"`
            StatusDateTime string `json:"StatusDateTime"`
            Location       string `json:"StatusLocation"`
            Instructions   string `json:"Instructions"`
        } `json:"Status"`
        ScanID string `json:"ScanID"`
    } `json:"Shipment"`
}

// srWebhook is Shiprocket's tracking push payload.
type srWebhook struct {
    AWB       string `json:"awb"`
    Status    string `json:"current_status"`
    Timestamp string `json:"current_timestamp"`
    Location  string `json:"location"`
    Remark    string `json:"remark"`
    ScanID    string `json:"scan_id"`
}

// ParseWebhook decodes a provider's tracking callback into a neutral snapshot
// and the provider-scoped external event id. When the payload carries no scan
// id, the id is a digest of the body so duplicate pushes still collapse.
func ParseWebhook(provider string, body []byte) (TrackingSnapshot, string, error) {
    switch provider {
    case "delhivery":
        var p dlWebhook
        if err := json.Unmarshal(body, &p); err != nil {
            return TrackingSnapshot{}, "", fmt.Errorf("delhivery webhook: %w", err)
        }
        if p.Shipment.AWB == "" {
            return TrackingSnapshot{}, "", fmt.Errorf("delhivery webhook: missing awb")
        }
        snap := TrackingSnapshot{
            AWB:         p.Shipment.AWB,
            Code:        delhiveryStatusCode(p.Shipment.Status.Status),
            Location:    p.Shipment.Status.Location,
            Description: p.Shipment.Status.Instructions,
        }
        if t, err := time.Parse(time.RFC3339, p.Shipment.Status.StatusDateTime); err == nil {
            snap.At = t
        }
        id := p.Shipment.ScanID
        if id == "" {
            id = bodyDigest(body)
        }
        return snap, id, nil
    case "shiprocket":
        var p srWebhook
        if err := json.Unmarshal(body, &p); err != nil {
            return TrackingSnapshot{}, "", fmt.Errorf("shiprocket webhook: %w", err)
        }
        if p.AWB == "" {
            return TrackingSnapshot{}, "", fmt.Errorf("shiprocket webhook: missing awb")
        }
        snap := TrackingSnapshot{
            AWB:         p.AWB,
            Code:        shiprocketStatusCode(p.Status),
            Location:    p.Location,
            Description: p.Remark,
        }
        if t, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
            snap.At = t
        }
        id := p.ScanID
        if id == "" {
            id = bodyDigest(body)
        }
        return snap, id, nil
    }
    return TrackingSnapshot{}, "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}

func bodyDigest(body []byte) string {
    h := sha256.Sum256(body)
    return hex.EncodeToString(h[:])
}
