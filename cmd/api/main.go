package main

import (
    "flag"
    "log"
    "net/http"
    "os"
    "time"

    "shipcore/internal/api"
    "shipcore/internal/config"
)

func main() {
    cfgPath := flag.String("config", os.Getenv("CONFIG"), "path to YAML config")
    flag.Parse()

    cfg, err := config.Load(*cfgPath)
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Orders
    mux.HandleFunc("/v1/orders", srvDeps.OrdersHandler)
    mux.HandleFunc("/v1/orders/", srvDeps.OrderByIDHandler) // includes /cancel, /events/stream, /events/ws

    // Shipments
    mux.HandleFunc("/v1/shipments", srvDeps.ShipmentsHandler)
    mux.HandleFunc("/v1/shipments/", srvDeps.ShipmentByIDHandler) // includes /cancel, /refresh

    // Payments
    mux.HandleFunc("/v1/payments/orders", srvDeps.PaymentOrdersHandler)
    mux.HandleFunc("/v1/payments/verify", srvDeps.PaymentVerifyHandler)
    mux.HandleFunc("/v1/payments/", srvDeps.PaymentByIDHandler) // includes /refund

    // Inbound provider webhooks
    mux.HandleFunc("/v1/webhooks/payment", srvDeps.PaymentWebhookHandler)
    mux.HandleFunc("/v1/webhooks/courier/", srvDeps.CourierWebhookHandler)

    // Merchant notification subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Health and metrics
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.Handle("/metrics", srvDeps.MetricsHandler())

    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srvDeps.Middleware(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on :%s", cfg.Port)
    // Start the outbound webhook worker
    worker := srvDeps.NewWebhookWorker()
    worker.Start()

    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}
