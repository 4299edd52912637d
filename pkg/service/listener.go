package service

import (
	"context"
	"sync"

	"github.com/iddaa-lens/redpacket/pkg/broadcast"
	"github.com/iddaa-lens/redpacket/pkg/jobs"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
)

// NotificationListenerMinAPI is the first platform API level with a
// notification listener subsystem
const NotificationListenerMinAPI = 18

// Platform describes the host OS capabilities
type Platform struct {
	APILevel int
}

// SupportsNotificationListener reports whether notification events can exist
func (p Platform) SupportsNotificationListener() bool {
	return p.APILevel >= NotificationListenerMinAPI
}

// NotificationListener tracks the notification listener sub-service. On
// platforms without the subsystem every call is a no-op and IsRunning is false.
type NotificationListener struct {
	platform    Platform
	broadcaster broadcast.Broadcaster
	logger      *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewNotificationListener creates a disconnected listener
func NewNotificationListener(platform Platform, b broadcast.Broadcaster, log *logger.Logger) *NotificationListener {
	if b == nil {
		b = broadcast.Multi()
	}
	if log == nil {
		log = logger.New("notification-listener")
	}
	return &NotificationListener{platform: platform, broadcaster: b, logger: log}
}

// OnListenerConnected marks the listener connected and broadcasts it
func (n *NotificationListener) OnListenerConnected(ctx context.Context) {
	n.transition(ctx, true, models.SignalNotifyListenerConnected)
}

// OnListenerDisconnected marks the listener disconnected and broadcasts it
func (n *NotificationListener) OnListenerDisconnected(ctx context.Context) {
	n.transition(ctx, false, models.SignalNotifyListenerDisconnected)
}

// IsRunning reports whether the listener is connected on a supported platform
func (n *NotificationListener) IsRunning() bool {
	if !n.platform.SupportsNotificationListener() {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

func (n *NotificationListener) transition(ctx context.Context, connected bool, signal models.Signal) {
	if !n.platform.SupportsNotificationListener() {
		n.logger.Debug().
			Int("api_level", n.platform.APILevel).
			Str("action", "listener_unsupported").
			Msg("Notification listener not supported on this platform")
		return
	}

	n.mu.Lock()
	changed := n.connected != connected
	n.connected = connected
	n.mu.Unlock()

	if !changed {
		return
	}

	n.logger.Info().
		Str("action", "listener_state").
		Bool("connected", connected).
		Msg("Notification listener state changed")

	err := jobs.SafeCall(func() error { return n.broadcaster.Broadcast(ctx, signal) })
	if err != nil {
		n.logger.Error().
			Err(err).
			Str("action", "broadcast_failed").
			Str("signal", string(signal)).
			Msg("Failed to broadcast listener signal")
	}
}
