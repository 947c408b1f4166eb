package handler

import (
	"net/http"

	"github.com/filipexyz/hookd/internal/dedup"
	hookdnats "github.com/filipexyz/hookd/internal/nats"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	nats  *hookdnats.Client
	index *dedup.Index
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(nc *hookdnats.Client, idx *dedup.Index) *HealthHandler {
	return &HealthHandler{nats: nc, index: idx}
}

// Health reports process liveness and broker connectivity.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	natsOK := h.nats != nil && h.nats.IsConnected()
	if !natsOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": map[bool]string{true: "ok", false: "degraded"}[natsOK],
		"nats":   natsOK,
	})
}

// Ready reports intake readiness: the dedup index rebuild must have
// completed, otherwise accepting traffic risks double-appends.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.index.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"reason": "dedup index rebuild in progress",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
