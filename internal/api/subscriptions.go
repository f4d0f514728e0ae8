package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "net/url"
    "strings"

    "github.com/google/uuid"

    "shipcore/internal/model"
    "shipcore/internal/store"
)

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url must be absolute http(s)", r.URL.Path)
            return
        }
        if len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "at least one event type required", r.URL.Path)
            return
        }
        ctx, merchant := s.withMerchant(r)
        sub, err := s.Store.CreateSubscription(ctx, model.Subscription{
            ID:         uuid.NewString(),
            MerchantID: merchant,
            URL:        req.URL,
            Events:     req.Events,
            Secret:     req.Secret,
        })
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        sub.Secret = ""
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        ctx, merchant := s.withMerchant(r)
        items, err := s.Store.ListSubscriptions(ctx, merchant)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
            return
        }
        for i := range items {
            items[i].Secret = ""
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodDelete {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if id == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    ctx, merchant := s.withMerchant(r)
    if err := s.Store.DeleteSubscription(ctx, merchant, id); err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Subscription not found", "", r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
        return
    }
    w.WriteHeader(http.StatusNoContent)
}
