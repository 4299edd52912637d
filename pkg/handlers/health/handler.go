package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models/api"
	"github.com/iddaa-lens/redpacket/pkg/service"
)

// StateSource reports the accessibility service state
type StateSource interface {
	State() service.State
}

// Handler answers bridge liveness checks
type Handler struct {
	source    StateSource
	logger    *logger.Logger
	now       func() time.Time
	startedAt time.Time
}

// NewHandler creates a health handler; uptime counts from this call
func NewHandler(source StateSource, log *logger.Logger) *Handler {
	h := &Handler{
		source: source,
		logger: log,
		now:    time.Now,
	}
	h.startedAt = h.now().UTC()
	return h
}

// HealthCheck handles GET /health. The bridge is live whenever it answers,
// so the status is always ok; the service state is reported alongside.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	response := api.HealthResponse{
		Status:        "ok",
		ServiceState:  h.source.State().String(),
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(now.Sub(h.startedAt) / time.Second),
		Timestamp:     now,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "health_encode_failed").
			Str("service_state", response.ServiceState).
			Msg("Failed to write health response")
		return
	}

	h.logger.Debug().
		Str("action", "health_check").
		Str("service_state", response.ServiceState).
		Int64("uptime_seconds", response.UptimeSeconds).
		Str("remote_addr", r.RemoteAddr).
		Msg("Bridge health reported")
}
