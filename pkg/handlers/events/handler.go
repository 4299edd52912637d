package events

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
	"github.com/iddaa-lens/redpacket/pkg/models/api"
)

// maxBodyBytes caps one inbound event
const maxBodyBytes = 1 << 20

// Dispatcher routes decoded events into the job registry
type Dispatcher interface {
	DispatchUIEvent(ctx context.Context, event *models.UIEvent) int
	DispatchNotification(ctx context.Context, notification *models.Notification) bool
}

// Handler receives events forwarded by the OS bridge
type Handler struct {
	dispatcher Dispatcher
	logger     *logger.Logger
}

// NewHandler creates a new events handler
func NewHandler(dispatcher Dispatcher, log *logger.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		logger:     log,
	}
}

// UI handles POST /events/ui
func (h *Handler) UI(w http.ResponseWriter, r *http.Request) {
	var event models.UIEvent
	if !h.decode(w, r, &event) {
		return
	}
	event.Normalize(time.Now())

	delivered := h.dispatcher.DispatchUIEvent(r.Context(), &event)
	h.respond(w, r, api.DispatchResponse{
		EventID:   event.ID,
		Delivered: delivered,
		Handled:   delivered > 0,
	})
}

// Notification handles POST /events/notification
func (h *Handler) Notification(w http.ResponseWriter, r *http.Request) {
	var notification models.Notification
	if !h.decode(w, r, &notification) {
		return
	}
	notification.Normalize(time.Now())

	handled := h.dispatcher.DispatchNotification(r.Context(), &notification)
	delivered := 0
	if handled {
		delivered = 1
	}
	h.respond(w, r, api.DispatchResponse{
		EventID:   notification.ID,
		Delivered: delivered,
		Handled:   handled,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		logger.WithContext(r.Context(), "events-handler").Warn().
			Err(err).
			Str("action", "decode_failed").
			Str("endpoint", r.URL.Path).
			Msg("Rejected malformed event")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(api.Response{Success: false, Message: "invalid event body"})
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, data api.DispatchResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.Response{Success: true, Data: data}); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "encode_failed").
			Str("endpoint", r.URL.Path).
			Msg("Failed to encode dispatch response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
