package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/quotaforge/gateway/redisclient"
)

// HealthHandler implements GET /health.
type HealthHandler struct {
	redis *redisclient.Client
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(redis *redisclient.Client) *HealthHandler {
	return &HealthHandler{redis: redis}
}

type healthBody struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// Health reports 200 when the coordination store is reachable, 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := healthBody{Status: "ok", Store: "ok"}
	status := http.StatusOK
	if err := h.redis.Ping(ctx); err != nil {
		body.Status = "degraded"
		body.Store = "unreachable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
