package store

// WebhookDelivery is one pending outbound merchant notification.
type WebhookDelivery struct {
    ID             string
    MerchantID     string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}
