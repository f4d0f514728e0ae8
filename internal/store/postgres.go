package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "time"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5/pgconn"
    _ "github.com/jackc/pgx/v5/stdlib"

    "shipcore/internal/model"
)

// querier is satisfied by *sql.DB and *sql.Tx so the same methods serve both
// direct calls and the Transact view.
type querier interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Postgres struct {
    db *sql.DB
    q  querier
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil { return nil, err }
    if err := db.Ping(); err != nil { return nil, err }
    return &Postgres{db: db, q: db}, nil
}

// Migrate creates the engine's tables (dev helper; schema management proper
// lives outside the engine).
func (p *Postgres) Migrate(ctx context.Context) error {
    stmts := []string{
        `CREATE TABLE IF NOT EXISTS orders (
            id TEXT PRIMARY KEY,
            merchant_id TEXT NOT NULL,
            reference TEXT,
            amount BIGINT NOT NULL,
            currency TEXT NOT NULL,
            cod BOOLEAN NOT NULL DEFAULT false,
            status TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            payment_received_at TIMESTAMPTZ,
            shipped_at TIMESTAMPTZ,
            delivered_at TIMESTAMPTZ,
            cancelled_at TIMESTAMPTZ
        )`,
        `CREATE TABLE IF NOT EXISTS payments (
            id TEXT PRIMARY KEY,
            order_id TEXT NOT NULL REFERENCES orders(id),
            provider_order_id TEXT UNIQUE,
            provider_payment_id TEXT,
            amount BIGINT NOT NULL,
            status TEXT NOT NULL,
            captured_at TIMESTAMPTZ,
            error_code TEXT,
            error_message TEXT,
            refunded_amount BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
        `CREATE TABLE IF NOT EXISTS shipments (
            id TEXT PRIMARY KEY,
            order_id TEXT NOT NULL REFERENCES orders(id),
            provider TEXT NOT NULL,
            awb TEXT UNIQUE,
            status TEXT NOT NULL,
            weight_kg DOUBLE PRECISION NOT NULL,
            length_cm DOUBLE PRECISION,
            width_cm DOUBLE PRECISION,
            height_cm DOUBLE PRECISION,
            pieces INT NOT NULL,
            declared_value BIGINT NOT NULL,
            cod_amount BIGINT NOT NULL DEFAULT 0,
            est_delivery TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            picked_up_at TIMESTAMPTZ,
            delivered_at TIMESTAMPTZ,
            cancelled_at TIMESTAMPTZ
        )`,
        // One active (non-cancelled) shipment per order.
        `CREATE UNIQUE INDEX IF NOT EXISTS shipments_active_order
            ON shipments(order_id) WHERE status <> 'CANCELLED'`,
        // The claim step serializes concurrent duplicate deliveries on this
        // primary key, not on in-process locking: multiple engine instances
        // may run concurrently.
        `CREATE TABLE IF NOT EXISTS webhook_events (
            source TEXT NOT NULL,
            external_id TEXT NOT NULL,
            payload_hash TEXT NOT NULL,
            received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            processed_at TIMESTAMPTZ,
            PRIMARY KEY (source, external_id)
        )`,
        `CREATE TABLE IF NOT EXISTS subscriptions (
            id TEXT PRIMARY KEY,
            merchant_id TEXT NOT NULL,
            url TEXT NOT NULL,
            events JSONB NOT NULL,
            secret TEXT
        )`,
        `CREATE TABLE IF NOT EXISTS webhook_deliveries (
            id TEXT PRIMARY KEY,
            merchant_id TEXT NOT NULL,
            subscription_id TEXT,
            event_type TEXT NOT NULL,
            url TEXT NOT NULL,
            secret TEXT,
            payload BYTEA NOT NULL,
            status TEXT NOT NULL,
            attempts INT NOT NULL DEFAULT 0,
            next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_error TEXT,
            response_code INT,
            latency_ms INT,
            delivered_at TIMESTAMPTZ,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
    }
    for _, s := range stmts {
        if _, err := p.db.ExecContext(ctx, s); err != nil { return err }
    }
    return nil
}

// Transact runs fn in one database transaction.
func (p *Postgres) Transact(ctx context.Context, fn func(Store) error) error {
    if _, ok := p.q.(*sql.Tx); ok {
        // already transactional
        return fn(p)
    }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    if err := fn(&Postgres{db: p.db, q: tx}); err != nil { return err }
    return tx.Commit()
}

func (p *Postgres) CreateOrder(ctx context.Context, o model.Order) error {
    _, err := p.q.ExecContext(ctx, `INSERT INTO orders (id, merchant_id, reference, amount, currency, cod, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
        o.ID, o.MerchantID, nullIfEmpty(o.Reference), o.Amount, o.Currency, o.COD, string(o.Status), o.CreatedAt)
    return mapUniqueViolation(err)
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
    var o model.Order
    var ref sql.NullString
    var st string
    var prAt, shAt, dlAt, caAt sql.NullTime
    err := p.q.QueryRowContext(ctx, `SELECT id, merchant_id, COALESCE(reference,''), amount, currency, cod, status, created_at,
        payment_received_at, shipped_at, delivered_at, cancelled_at FROM orders WHERE id=$1`, id).
        Scan(&o.ID, &o.MerchantID, &ref, &o.Amount, &o.Currency, &o.COD, &st, &o.CreatedAt, &prAt, &shAt, &dlAt, &caAt)
    if errors.Is(err, sql.ErrNoRows) { return o, ErrNotFound }
    if err != nil { return o, err }
    o.Reference = ref.String
    o.Status = model.OrderStatus(st)
    if prAt.Valid { o.PaymentReceivedAt = &prAt.Time }
    if shAt.Valid { o.ShippedAt = &shAt.Time }
    if dlAt.Valid { o.DeliveredAt = &dlAt.Time }
    if caAt.Valid { o.CancelledAt = &caAt.Time }
    return o, nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) (bool, error) {
    res, err := p.q.ExecContext(ctx, `UPDATE orders SET status=$1,
        payment_received_at = CASE WHEN $1='PAYMENT_RECEIVED' THEN $2 ELSE payment_received_at END,
        shipped_at          = CASE WHEN $1='SHIPPED' THEN $2 ELSE shipped_at END,
        delivered_at        = CASE WHEN $1='DELIVERED' THEN $2 ELSE delivered_at END,
        cancelled_at        = CASE WHEN $1='CANCELLED' THEN $2 ELSE cancelled_at END
        WHERE id=$3 AND status=$4`, string(to), at, id, string(from))
    if err != nil { return false, err }
    n, _ := res.RowsAffected()
    if n > 0 { return true, nil }
    // distinguish missing order from inapplicable transition
    var exists bool
    if err := p.q.QueryRowContext(ctx, `SELECT true FROM orders WHERE id=$1`, id).Scan(&exists); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return false, ErrNotFound }
        return false, err
    }
    return false, nil
}

func (p *Postgres) CreatePayment(ctx context.Context, pay model.Payment) error {
    _, err := p.q.ExecContext(ctx, `INSERT INTO payments (id, order_id, provider_order_id, provider_payment_id, amount, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
        pay.ID, pay.OrderID, nullIfEmpty(pay.ProviderOrderID), nullIfEmpty(pay.ProviderPaymentID), pay.Amount, string(pay.Status), pay.CreatedAt)
    return mapUniqueViolation(err)
}

func (p *Postgres) scanPayment(row *sql.Row) (model.Payment, error) {
    var pay model.Payment
    var poid, ppid, ecode, emsg sql.NullString
    var st string
    var capAt sql.NullTime
    err := row.Scan(&pay.ID, &pay.OrderID, &poid, &ppid, &pay.Amount, &st, &capAt, &ecode, &emsg, &pay.RefundedAmount, &pay.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return pay, ErrNotFound }
    if err != nil { return pay, err }
    pay.ProviderOrderID = poid.String
    pay.ProviderPaymentID = ppid.String
    pay.Status = model.PaymentStatus(st)
    pay.ErrorCode = ecode.String
    pay.ErrorMessage = emsg.String
    if capAt.Valid { pay.CapturedAt = &capAt.Time }
    return pay, nil
}

const paymentCols = `id, order_id, provider_order_id, provider_payment_id, amount, status, captured_at, error_code, error_message, refunded_amount, created_at`

func (p *Postgres) GetPayment(ctx context.Context, id string) (model.Payment, error) {
    return p.scanPayment(p.q.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE id=$1`, id))
}

func (p *Postgres) GetPaymentByProviderOrderID(ctx context.Context, poid string) (model.Payment, error) {
    return p.scanPayment(p.q.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE provider_order_id=$1`, poid))
}

func (p *Postgres) GetPaymentByProviderPaymentID(ctx context.Context, ppid string) (model.Payment, error) {
    return p.scanPayment(p.q.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE provider_payment_id=$1 ORDER BY created_at DESC LIMIT 1`, ppid))
}

func (p *Postgres) ActivePaymentForOrder(ctx context.Context, orderID string) (model.Payment, error) {
    return p.scanPayment(p.q.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE order_id=$1 ORDER BY created_at DESC LIMIT 1`, orderID))
}

func (p *Postgres) MarkPaymentAuthorized(ctx context.Context, id, ppid string) (bool, error) {
    res, err := p.q.ExecContext(ctx, `UPDATE payments SET status='AUTHORIZED', provider_payment_id=$2 WHERE id=$1 AND status='CREATED'`, id, ppid)
    if err != nil { return false, err }
    n, _ := res.RowsAffected()
    return n > 0, nil
}

func (p *Postgres) MarkPaymentCaptured(ctx context.Context, id, ppid string, at time.Time) (bool, error) {
    res, err := p.q.ExecContext(ctx, `UPDATE payments SET status='CAPTURED', provider_payment_id=$2, captured_at=$3
        WHERE id=$1 AND status IN ('CREATED','AUTHORIZED')`, id, ppid, at)
    if err != nil { return false, err }
    n, _ := res.RowsAffected()
    return n > 0, nil
}

func (p *Postgres) MarkPaymentFailed(ctx context.Context, id, code, message string) (bool, error) {
    res, err := p.q.ExecContext(ctx, `UPDATE payments SET status='FAILED', error_code=$2, error_message=$3
        WHERE id=$1 AND status NOT IN ('CAPTURED','FAILED')`, id, code, message)
    if err != nil { return false, err }
    n, _ := res.RowsAffected()
    return n > 0, nil
}

func (p *Postgres) AddPaymentRefund(ctx context.Context, id string, amount int64) error {
    res, err := p.q.ExecContext(ctx, `UPDATE payments SET refunded_amount=refunded_amount+$2 WHERE id=$1`, id, amount)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) CreateShipment(ctx context.Context, s model.Shipment) error {
    var l, w, h any
    if s.Dimensions != nil {
        l, w, h = s.Dimensions.LengthCm, s.Dimensions.WidthCm, s.Dimensions.HeightCm
    }
    _, err := p.q.ExecContext(ctx, `INSERT INTO shipments (id, order_id, provider, awb, status, weight_kg, length_cm, width_cm, height_cm, pieces, declared_value, cod_amount, est_delivery, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
        s.ID, s.OrderID, s.Provider, nullIfEmpty(s.AWB), string(s.Status), s.WeightKg, l, w, h, s.Pieces, s.DeclaredValue, s.CODAmount, s.EstDelivery, s.CreatedAt)
    return mapUniqueViolation(err)
}

// mapUniqueViolation turns Postgres unique violations (23505) into
// ErrConflict so callers see the same sentinel the memory store returns.
func mapUniqueViolation(err error) error {
    var pgErr *pgconn.PgError
    if errors.As(err, &pgErr) && pgErr.Code == "23505" {
        return ErrConflict
    }
    return err
}

const shipmentCols = `id, order_id, provider, COALESCE(awb,''), status, weight_kg, length_cm, width_cm, height_cm, pieces, declared_value, cod_amount, est_delivery, created_at, picked_up_at, delivered_at, cancelled_at`

func (p *Postgres) scanShipment(row *sql.Row) (model.Shipment, error) {
    var s model.Shipment
    var st string
    var l, w, h sql.NullFloat64
    var est, puAt, dlAt, caAt sql.NullTime
    err := row.Scan(&s.ID, &s.OrderID, &s.Provider, &s.AWB, &st, &s.WeightKg, &l, &w, &h, &s.Pieces, &s.DeclaredValue, &s.CODAmount, &est, &s.CreatedAt, &puAt, &dlAt, &caAt)
    if errors.Is(err, sql.ErrNoRows) { return s, ErrNotFound }
    if err != nil { return s, err }
    s.Status = model.ShipmentStatus(st)
    if l.Valid && w.Valid && h.Valid {
        s.Dimensions = &model.Dimensions{LengthCm: l.Float64, WidthCm: w.Float64, HeightCm: h.Float64}
    }
    if est.Valid { s.EstDelivery = &est.Time }
    if puAt.Valid { s.PickedUpAt = &puAt.Time }
    if dlAt.Valid { s.DeliveredAt = &dlAt.Time }
    if caAt.Valid { s.CancelledAt = &caAt.Time }
    return s, nil
}

func (p *Postgres) GetShipment(ctx context.Context, id string) (model.Shipment, error) {
    return p.scanShipment(p.q.QueryRowContext(ctx, `SELECT `+shipmentCols+` FROM shipments WHERE id=$1`, id))
}

func (p *Postgres) GetShipmentByAWB(ctx context.Context, awb string) (model.Shipment, error) {
    return p.scanShipment(p.q.QueryRowContext(ctx, `SELECT `+shipmentCols+` FROM shipments WHERE awb=$1`, awb))
}

func (p *Postgres) ActiveShipmentForOrder(ctx context.Context, orderID string) (model.Shipment, error) {
    return p.scanShipment(p.q.QueryRowContext(ctx, `SELECT `+shipmentCols+` FROM shipments WHERE order_id=$1 AND status <> 'CANCELLED'`, orderID))
}

func (p *Postgres) UpdateShipmentStatus(ctx context.Context, id string, from, to model.ShipmentStatus, at time.Time) (bool, error) {
    res, err := p.q.ExecContext(ctx, `UPDATE shipments SET status=$1,
        picked_up_at = CASE WHEN $1='PICKED_UP' THEN $2 ELSE picked_up_at END,
        delivered_at = CASE WHEN $1='DELIVERED' THEN $2 ELSE delivered_at END,
        cancelled_at = CASE WHEN $1='CANCELLED' THEN $2 ELSE cancelled_at END
        WHERE id=$3 AND status=$4`, string(to), at, id, string(from))
    if err != nil { return false, err }
    n, _ := res.RowsAffected()
    if n > 0 { return true, nil }
    var exists bool
    if err := p.q.QueryRowContext(ctx, `SELECT true FROM shipments WHERE id=$1`, id).Scan(&exists); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return false, ErrNotFound }
        return false, err
    }
    return false, nil
}

func (p *Postgres) ClaimWebhookEvent(ctx context.Context, source, externalID, hash string) (Claim, error) {
    res, err := p.q.ExecContext(ctx, `INSERT INTO webhook_events (source, external_id, payload_hash, received_at)
        VALUES ($1,$2,$3,now()) ON CONFLICT (source, external_id) DO NOTHING`, source, externalID, hash)
    if err != nil { return 0, err }
    if n, _ := res.RowsAffected(); n > 0 { return ClaimAcquired, nil }
    var processed sql.NullTime
    if err := p.q.QueryRowContext(ctx, `SELECT processed_at FROM webhook_events WHERE source=$1 AND external_id=$2`, source, externalID).Scan(&processed); err != nil {
        return 0, err
    }
    if processed.Valid { return ClaimDuplicateProcessed, nil }
    return ClaimDuplicatePending, nil
}

func (p *Postgres) MarkWebhookProcessed(ctx context.Context, source, externalID string) error {
    res, err := p.q.ExecContext(ctx, `UPDATE webhook_events SET processed_at=now() WHERE source=$1 AND external_id=$2`, source, externalID)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
    if sub.ID == "" { sub.ID = uuid.New().String() }
    ev, _ := json.Marshal(sub.Events)
    _, err := p.q.ExecContext(ctx, `INSERT INTO subscriptions (id, merchant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
        sub.ID, sub.MerchantID, sub.URL, ev, nullIfEmpty(sub.Secret))
    if err != nil { return model.Subscription{}, err }
    return sub, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, merchantID string) ([]model.Subscription, error) {
    rows, err := p.q.QueryContext(ctx, `SELECT id, url, COALESCE(secret,''), events FROM subscriptions WHERE merchant_id=$1 ORDER BY id`, merchantID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        s.MerchantID = merchantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, merchantID, id string) error {
    res, err := p.q.ExecContext(ctx, `DELETE FROM subscriptions WHERE merchant_id=$1 AND id=$2`, merchantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, merchantID, eventType string) ([]model.Subscription, error) {
    rows, err := p.q.QueryContext(ctx, `SELECT id, url, COALESCE(secret,''), events FROM subscriptions
        WHERE merchant_id=$1 AND (events @> to_jsonb(ARRAY[$2::text]) OR events @> to_jsonb(ARRAY['*'::text]))`, merchantID, eventType)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        s.MerchantID = merchantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, merchantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.q.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, merchant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`, id, merchantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.q.QueryContext(ctx, `SELECT id, merchant_id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.MerchantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.q.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.q.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.q.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}
