package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models/api"
	"github.com/iddaa-lens/redpacket/pkg/settings"
)

type flagRequest struct {
	Value *bool `json:"value"`
}

type flagResponse struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
}

// Handler exposes boolean preference flags to the settings UI
type Handler struct {
	store  settings.Store
	logger *logger.Logger
}

// NewHandler creates a settings handler
func NewHandler(store settings.Store, log *logger.Logger) *Handler {
	return &Handler{store: store, logger: log}
}

// GetFlag handles GET /settings/{key}
func (h *Handler) GetFlag(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value := h.store.Bool(r.Context(), key, false)
	h.respond(w, http.StatusOK, api.Response{Success: true, Data: flagResponse{Key: key, Value: value}})
}

// PutFlag handles PUT /settings/{key}
func (h *Handler) PutFlag(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req flagRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.Value == nil {
		h.respond(w, http.StatusBadRequest, api.Response{Success: false, Message: "body must be {\"value\": bool}"})
		return
	}

	if err := h.store.SetBool(r.Context(), key, *req.Value); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, settings.ErrEmptyKey) {
			status = http.StatusBadRequest
		}
		h.logger.Error().
			Err(err).
			Str("action", "settings_write_failed").
			Str("key", key).
			Msg("Failed to write preference flag")
		h.respond(w, status, api.Response{Success: false, Message: "failed to write flag"})
		return
	}

	h.logger.Info().
		Str("action", "settings_updated").
		Str("key", key).
		Bool("value", *req.Value).
		Msg("Preference flag updated")
	h.respond(w, http.StatusOK, api.Response{Success: true, Data: flagResponse{Key: key, Value: *req.Value}})
}

func (h *Handler) respond(w http.ResponseWriter, status int, body api.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Str("action", "encode_failed").Msg("Failed to encode settings response")
	}
}
