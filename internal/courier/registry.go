package courier

import (
    "errors"
    "fmt"
    "sort"
    "strings"

    "shipcore/internal/config"
)

var (
    ErrUnknownProvider     = errors.New("unknown provider")
    ErrNoProviderAvailable = errors.New("no provider available")
)

// Registry holds the configured gateways keyed by name and implements the
// auto-select policy: first enabled provider in priority order whose
// configured pincode prefixes cover the destination.
type Registry struct {
    entries []entry
}

type entry struct {
    name          string
    priority      int
    enabled       bool
    pincodes      []string
    webhookSecret string
    gw            Gateway
}

// NewRegistry builds a registry from courier config blocks, constructing the
// adapter each block names. Selection order is fixed at startup.
func NewRegistry(cfgs []config.CourierConfig) (*Registry, error) {
    r := &Registry{}
    for _, c := range cfgs {
        var gw Gateway
        switch strings.ToLower(c.Name) {
        case "delhivery":
            gw = NewDelhivery(c.BaseURL, c.APIKey)
        case "shiprocket":
            gw = NewShiprocket(c.BaseURL, c.APIKey)
        default:
            return nil, fmt.Errorf("no adapter for courier %q", c.Name)
        }
        r.Register(c, gw)
    }
    return r, nil
}

// Register adds a gateway under the config block's name. Exposed separately
// so tests can install fakes.
func (r *Registry) Register(c config.CourierConfig, gw Gateway) {
    r.entries = append(r.entries, entry{
        name:          strings.ToLower(c.Name),
        priority:      c.Priority,
        enabled:       c.Enabled,
        pincodes:      c.Pincodes,
        webhookSecret: c.WebhookSecret,
        gw:            gw,
    })
    sort.SliceStable(r.entries, func(i, j int) bool { return r.entries[i].priority < r.entries[j].priority })
}

// Resolve returns the gateway for an explicitly named provider.
func (r *Registry) Resolve(name string) (Gateway, error) {
    name = strings.ToLower(name)
    for _, e := range r.entries {
        if e.name == name {
            if !e.enabled {
                return nil, fmt.Errorf("%w: %s is disabled", ErrUnknownProvider, name)
            }
            return e.gw, nil
        }
    }
    return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// AutoSelect picks the first enabled provider, in priority order, serviceable
// for the destination pincode. Ties break by declared priority, never by load
// or cost.
func (r *Registry) AutoSelect(pincode string) (string, Gateway, error) {
    for _, e := range r.entries {
        if !e.enabled {
            continue
        }
        if serviceable(e.pincodes, pincode) {
            return e.name, e.gw, nil
        }
    }
    return "", nil, ErrNoProviderAvailable
}

// WebhookSecret returns the shared secret for a provider's tracking
// callbacks. ok is false when the provider is unknown or has no secret, in
// which case its webhooks must be rejected.
func (r *Registry) WebhookSecret(name string) (string, bool) {
    name = strings.ToLower(name)
    for _, e := range r.entries {
        if e.name == name && e.enabled && e.webhookSecret != "" {
            return e.webhookSecret, true
        }
    }
    return "", false
}

// serviceable: empty prefix list means serviceable everywhere.
func serviceable(prefixes []string, pincode string) bool {
    if len(prefixes) == 0 {
        return true
    }
    for _, p := range prefixes {
        if strings.HasPrefix(pincode, p) {
            return true
        }
    }
    return false
}
