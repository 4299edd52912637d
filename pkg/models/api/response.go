package api

import "time"

// HealthResponse is the bridge liveness report
type HealthResponse struct {
	Status        string    `json:"status"`
	ServiceState  string    `json:"service_state"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// CreateResponse reports the job registry built by POST /lifecycle/create
type CreateResponse struct {
	Registered []string `json:"registered"`
	Failed     int      `json:"failed"`
	Overwrote  []string `json:"overwrote,omitempty"`
}

// DispatchResponse reports what one inbound event reached
type DispatchResponse struct {
	EventID   string `json:"event_id"`
	Delivered int    `json:"delivered"`
	Handled   bool   `json:"handled"`
}

// EnabledServicesRequest replaces the OS enabled-services listing
type EnabledServicesRequest struct {
	Services []string `json:"services"`
}

// Response is the generic API envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Message string      `json:"message,omitempty"`
}
