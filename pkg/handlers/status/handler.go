package status

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models/api"
	"github.com/iddaa-lens/redpacket/pkg/service"
)

// Snapshotter computes the current service status
type Snapshotter interface {
	Snapshot(ctx context.Context) service.Status
}

// Handler serves the service status
type Handler struct {
	source Snapshotter
	logger *logger.Logger
}

// NewHandler creates a status handler
func NewHandler(source Snapshotter, log *logger.Logger) *Handler {
	return &Handler{source: source, logger: log}
}

// Status handles GET /status. It always answers 200; running=false is a
// state, not an error.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snapshot := h.source.Snapshot(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.Response{Success: true, Data: snapshot}); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "status_encode_failed").
			Str("endpoint", "/status").
			Msg("Failed to encode status response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
