package api

import (
    "context"
    "net/http"
    "strings"

    "shipcore/internal/config"
    "shipcore/internal/courier"
    "shipcore/internal/payment"
    "shipcore/internal/reconcile"
    "shipcore/internal/shipping"
    "shipcore/internal/store"
    "shipcore/internal/webhooks"
)

type Server struct {
    Cfg      config.Config
    Store    store.Store
    Registry *courier.Registry
    Payments *payment.Client
    Orch     *shipping.Orchestrator
    Rec      *reconcile.Reconciler
    Pub      *webhooks.Publisher
    Broker   EventBroker
}

// NewServer wires the engine from config. Without a database URL it runs on
// the in-memory store, which is enough for dev and tests.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if err := sp.Migrate(context.Background()); err != nil {
            return nil, err
        }
        s = sp
    }

    var broker EventBroker
    if cfg.RedisURL != "" {
        rb, err := NewRedisBroker(cfg.RedisURL)
        if err != nil {
            return nil, err
        }
        broker = rb
    } else {
        broker = NewBroker()
    }

    reg, err := courier.NewRegistry(cfg.Couriers)
    if err != nil {
        return nil, err
    }

    srv := &Server{
        Cfg:      cfg,
        Store:    s,
        Registry: reg,
        Payments: payment.NewClient(cfg.Payment),
        Orch:     shipping.NewOrchestrator(s, reg),
        Pub:      webhooks.NewPublisher(s),
        Broker:   broker,
    }
    srv.Rec = reconcile.New(s, notifier{srv})
    return srv, nil
}

// notifier fans applied transitions out to merchant webhook subscriptions and
// to live order-event streams.
type notifier struct {
    s *Server
}

func (n notifier) Notify(ctx context.Context, merchantID, orderID, eventType string, data map[string]any) {
    n.s.Pub.Emit(ctx, merchantID, eventType, data)
    n.s.Broker.Publish(orderID, SSEEvent{Type: eventType, Data: data})
}

func (s *Server) withMerchant(r *http.Request) (context.Context, string) {
    // Merchant identity comes from the gateway in front of us; no auth here.
    merchant := r.Header.Get("X-Merchant-Id")
    if merchant == "" {
        merchant = "m_demo"
    }
    ctx := context.WithValue(r.Context(), ctxKeyMerchant{}, merchant)
    return ctx, merchant
}

type ctxKeyMerchant struct{}

// NewWebhookWorker creates the background worker for outbound deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts)
}
