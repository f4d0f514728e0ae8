package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "time"

    "github.com/gorilla/websocket"

    "shipcore/internal/store"
)

// orderEventsSSE streams fulfillment events for one order as server-sent
// events, with heartbeats so intermediaries keep the connection open.
func (s *Server) orderEventsSSE(w http.ResponseWriter, r *http.Request, orderID string) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    ctx, merchant := s.withMerchant(r)
    o, err := s.Store.GetOrder(ctx, orderID)
    if errors.Is(err, store.ErrNotFound) || (err == nil && o.MerchantID != merchant) {
        writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get order failed", err.Error(), r.URL.Path)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok {
        writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
        return
    }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")

    ch := s.Broker.Subscribe(orderID)
    defer s.Broker.Unsubscribe(orderID, ch)

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"orderId\":\"%s\",\"ts\":\"%s\"}\n\n", orderID, time.Now().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()

    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            heartbeat()
        }
    }
}

var upgrader = websocket.Upgrader{
    ReadBufferSize:  1024,
    WriteBufferSize: 1024,
    // Browser clients carry no custom headers; the merchant header check on
    // the order lookup is the gate.
    CheckOrigin: func(r *http.Request) bool { return true },
}

// orderEventsWS is the WebSocket twin of the SSE stream.
func (s *Server) orderEventsWS(w http.ResponseWriter, r *http.Request, orderID string) {
    ctx, merchant := s.withMerchant(r)
    o, err := s.Store.GetOrder(ctx, orderID)
    if errors.Is(err, store.ErrNotFound) || (err == nil && o.MerchantID != merchant) {
        writeProblem(w, http.StatusNotFound, "Order not found", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Get order failed", err.Error(), r.URL.Path)
        return
    }
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer conn.Close()

    ch := s.Broker.Subscribe(orderID)
    defer s.Broker.Unsubscribe(orderID, ch)

    // Read pump: discard inbound frames, detect close.
    done := make(chan struct{})
    go func() {
        defer close(done)
        for {
            if _, _, err := conn.ReadMessage(); err != nil {
                return
            }
        }
    }()

    ping := time.NewTicker(15 * time.Second)
    defer ping.Stop()
    for {
        select {
        case <-done:
            return
        case evt := <-ch:
            _ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
            if err := conn.WriteJSON(evt); err != nil {
                return
            }
        case <-ping.C:
            _ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
            if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
                return
            }
        }
    }
}
