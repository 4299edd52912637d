package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models/api"
	"github.com/iddaa-lens/redpacket/pkg/service"
)

type fixedState service.State

func (f fixedState) State() service.State { return service.State(f) }

func TestHealthCheck_ReportsUptimeAndState(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := start
	h := &Handler{
		source:    fixedState(service.StateConnected),
		logger:    logger.Nop(),
		now:       func() time.Time { return clock },
		startedAt: start,
	}
	clock = start.Add(90 * time.Second)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "connected", resp.ServiceState)
	assert.Equal(t, int64(90), resp.UptimeSeconds)
	assert.True(t, resp.StartedAt.Equal(start))
	assert.True(t, resp.Timestamp.Equal(clock))
}

func TestHealthCheck_LiveWhileDisconnected(t *testing.T) {
	h := NewHandler(fixedState(service.StateDisconnected), logger.Nop())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "disconnected", resp.ServiceState)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
}
