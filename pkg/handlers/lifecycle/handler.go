package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iddaa-lens/redpacket/pkg/jobs"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models/api"
	"github.com/iddaa-lens/redpacket/pkg/service"
)

// Service is the lifecycle surface driven by OS callbacks
type Service interface {
	OnCreate(ctx context.Context) (jobs.BuildReport, error)
	OnServiceConnected(ctx context.Context) service.Instance
	OnInterrupt(ctx context.Context)
	OnDestroy(ctx context.Context)
	State() service.State
}

// Listener is the notification listener surface driven by OS callbacks
type Listener interface {
	OnListenerConnected(ctx context.Context)
	OnListenerDisconnected(ctx context.Context)
	IsRunning() bool
}

// ServiceList accepts the OS enabled-services listing
type ServiceList interface {
	Set(ids []string)
}

// Handler turns bridge callbacks into lifecycle transitions
type Handler struct {
	service  Service
	listener Listener
	services ServiceList
	logger   *logger.Logger
}

// NewHandler creates a lifecycle handler
func NewHandler(svc Service, listener Listener, services ServiceList, log *logger.Logger) *Handler {
	return &Handler{
		service:  svc,
		listener: listener,
		services: services,
		logger:   log,
	}
}

// Create handles POST /lifecycle/create. It rebuilds the job registry after a
// destroy and answers 409 while the registry is still built.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.OnCreate(r.Context())
	if errors.Is(err, service.ErrAlreadyCreated) {
		h.respondError(w, http.StatusConflict, "service is already created")
		return
	}
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "create_failed").
			Msg("Failed to create service jobs")
		h.respondError(w, http.StatusInternalServerError, "failed to create service")
		return
	}

	h.respond(w, r, http.StatusOK, api.CreateResponse{
		Registered: report.Registered,
		Failed:     len(report.Failed),
		Overwrote:  report.Overwrote,
	})
}

// Connect handles POST /lifecycle/connect
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	instance := h.service.OnServiceConnected(r.Context())
	h.respond(w, r, http.StatusOK, instance)
}

// Interrupt handles POST /lifecycle/interrupt
func (h *Handler) Interrupt(w http.ResponseWriter, r *http.Request) {
	h.service.OnInterrupt(r.Context())
	h.respond(w, r, http.StatusOK, map[string]string{"state": h.service.State().String()})
}

// Destroy handles POST /lifecycle/destroy
func (h *Handler) Destroy(w http.ResponseWriter, r *http.Request) {
	h.service.OnDestroy(r.Context())
	h.respond(w, r, http.StatusOK, map[string]string{"state": h.service.State().String()})
}

// ListenerConnect handles POST /listener/connect
func (h *Handler) ListenerConnect(w http.ResponseWriter, r *http.Request) {
	h.listener.OnListenerConnected(r.Context())
	h.respond(w, r, http.StatusOK, map[string]bool{"running": h.listener.IsRunning()})
}

// ListenerDisconnect handles POST /listener/disconnect
func (h *Handler) ListenerDisconnect(w http.ResponseWriter, r *http.Request) {
	h.listener.OnListenerDisconnected(r.Context())
	h.respond(w, r, http.StatusOK, map[string]bool{"running": h.listener.IsRunning()})
}

// EnabledServices handles PUT /subsystem/enabled-services
func (h *Handler) EnabledServices(w http.ResponseWriter, r *http.Request) {
	var req api.EnabledServicesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.logger.Warn().
			Err(err).
			Str("action", "decode_failed").
			Str("endpoint", r.URL.Path).
			Msg("Rejected malformed enabled-services listing")
		h.respondError(w, http.StatusBadRequest, "invalid enabled-services body")
		return
	}

	ids := make([]string, 0, len(req.Services))
	for _, id := range req.Services {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	h.services.Set(ids)

	h.logger.Info().
		Str("action", "enabled_services_updated").
		Int("count", len(ids)).
		Msg("OS enabled-services listing replaced")
	h.respond(w, r, http.StatusOK, api.EnabledServicesRequest{Services: ids})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(api.Response{Success: true, Data: data}); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "encode_failed").
			Str("endpoint", r.URL.Path).
			Msg("Failed to encode lifecycle response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.Response{Success: false, Message: message})
}
