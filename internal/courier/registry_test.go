package courier

import (
    "context"
    "errors"
    "testing"

    "shipcore/internal/config"
)

type fakeGateway struct {
    created   int
    cancelErr error
}

func (f *fakeGateway) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error) {
    f.created++
    return ShipmentResult{AWB: "FAKE123"}, nil
}
func (f *fakeGateway) CancelShipment(ctx context.Context, id string) error { return f.cancelErr }
func (f *fakeGateway) GetTrackingStatus(ctx context.Context, awb string) (TrackingSnapshot, error) {
    return TrackingSnapshot{AWB: awb}, nil
}

func TestAutoSelectPriorityOrder(t *testing.T) {
    r := &Registry{}
    r.Register(config.CourierConfig{Name: "second", Enabled: true, Priority: 2}, &fakeGateway{})
    r.Register(config.CourierConfig{Name: "first", Enabled: true, Priority: 1}, &fakeGateway{})

    name, gw, err := r.AutoSelect("110001")
    if err != nil {
        t.Fatalf("auto-select failed: %v", err)
    }
    if name != "first" || gw == nil {
        t.Fatalf("expected first by priority, got %q", name)
    }
}

func TestAutoSelectPincodePrefix(t *testing.T) {
    r := &Registry{}
    r.Register(config.CourierConfig{Name: "north", Enabled: true, Priority: 1, Pincodes: []string{"11", "12"}}, &fakeGateway{})
    r.Register(config.CourierConfig{Name: "everywhere", Enabled: true, Priority: 2}, &fakeGateway{})

    name, _, err := r.AutoSelect("560001")
    if err != nil {
        t.Fatalf("auto-select failed: %v", err)
    }
    if name != "everywhere" {
        t.Fatalf("expected fallback to everywhere, got %q", name)
    }
    name, _, _ = r.AutoSelect("110001")
    if name != "north" {
        t.Fatalf("expected north for 110001, got %q", name)
    }
}

func TestAutoSelectSkipsDisabled(t *testing.T) {
    r := &Registry{}
    r.Register(config.CourierConfig{Name: "off", Enabled: false, Priority: 1}, &fakeGateway{})
    if _, _, err := r.AutoSelect("110001"); !errors.Is(err, ErrNoProviderAvailable) {
        t.Fatalf("expected ErrNoProviderAvailable, got %v", err)
    }
}

func TestResolveUnknownAndDisabled(t *testing.T) {
    r := &Registry{}
    r.Register(config.CourierConfig{Name: "off", Enabled: false, Priority: 1}, &fakeGateway{})
    if _, err := r.Resolve("nope"); !errors.Is(err, ErrUnknownProvider) {
        t.Fatalf("expected ErrUnknownProvider, got %v", err)
    }
    if _, err := r.Resolve("off"); !errors.Is(err, ErrUnknownProvider) {
        t.Fatalf("expected disabled provider rejected, got %v", err)
    }
}

func TestWebhookSecretFailsClosed(t *testing.T) {
    r := &Registry{}
    r.Register(config.CourierConfig{Name: "withsecret", Enabled: true, Priority: 1, WebhookSecret: "s3cr3t"}, &fakeGateway{})
    r.Register(config.CourierConfig{Name: "nosecret", Enabled: true, Priority: 2}, &fakeGateway{})

    if sec, ok := r.WebhookSecret("withsecret"); !ok || sec != "s3cr3t" {
        t.Fatalf("expected secret, got %q ok=%v", sec, ok)
    }
    if _, ok := r.WebhookSecret("nosecret"); ok {
        t.Fatalf("provider without secret must fail closed")
    }
    if _, ok := r.WebhookSecret("unknown"); ok {
        t.Fatalf("unknown provider must fail closed")
    }
}

func TestNewRegistryRejectsUnknownAdapter(t *testing.T) {
    _, err := NewRegistry([]config.CourierConfig{{Name: "carrier-x", Enabled: true}})
    if err == nil {
        t.Fatalf("expected error for unknown adapter")
    }
}
