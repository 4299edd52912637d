package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iddaa-lens/redpacket/pkg/jobs"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
	"github.com/iddaa-lens/redpacket/pkg/settings"
)

// NotificationGating selects which flags the notification path checks.
//
// The UI path always requires consent and the job's enable flag. Under
// NotificationGatingNone, the default, the notification path checks neither.
type NotificationGating string

const (
	NotificationGatingNone             NotificationGating = "none"
	NotificationGatingConsentAndEnable NotificationGating = "consent_and_enable"
)

// ParseNotificationGating parses a configured gating name
func ParseNotificationGating(s string) (NotificationGating, error) {
	switch g := NotificationGating(strings.ToLower(strings.TrimSpace(s))); g {
	case "", NotificationGatingNone:
		return NotificationGatingNone, nil
	case NotificationGatingConsentAndEnable:
		return g, nil
	default:
		return NotificationGatingNone, fmt.Errorf("unknown notification gating %q", s)
	}
}

// Dispatcher routes inbound UI and notification events to registered jobs.
// Job failures are logged and isolated; nothing is returned to the caller
// beyond how many handlers ran.
type Dispatcher struct {
	lifecycle *Lifecycle
	settings  settings.Reader
	platform  Platform
	gating    NotificationGating
	toggle    settings.Store
	logger    *logger.Logger
	now       func() time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithNotificationGating sets the notification path gating
func WithNotificationGating(g NotificationGating) DispatcherOption {
	return func(d *Dispatcher) { d.gating = g }
}

// WithNotificationToggle makes the notification path depend on the
// notification_service_enable flag in store, off until it is set
func WithNotificationToggle(store settings.Store) DispatcherOption {
	return func(d *Dispatcher) { d.toggle = store }
}

// WithPlatform sets the platform used to gate the notification path
func WithPlatform(p Platform) DispatcherOption {
	return func(d *Dispatcher) { d.platform = p }
}

// WithDispatcherLogger sets the dispatcher logger
func WithDispatcherLogger(l *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over lifecycle's registry
func NewDispatcher(lifecycle *Lifecycle, reader settings.Reader, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		lifecycle: lifecycle,
		settings:  reader,
		platform:  Platform{APILevel: NotificationListenerMinAPI},
		gating:    NotificationGatingNone,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.New("event-dispatcher")
	}
	return d
}

// Gating returns the configured notification gating
func (d *Dispatcher) Gating() NotificationGating {
	return d.gating
}

// DispatchUIEvent delivers event to every enabled job targeting its source
// application, provided consent is granted. It returns the number of jobs
// whose handler was invoked.
func (d *Dispatcher) DispatchUIEvent(ctx context.Context, event *models.UIEvent) int {
	if event == nil {
		return 0
	}
	registry := d.lifecycle.Registry()
	if registry == nil || registry.Len() == 0 {
		return 0
	}
	if !d.settings.IsConsentGranted(ctx) {
		return 0
	}

	start := time.Now()
	event.Normalize(d.now())
	eventLogger := d.logger.WithEvent(event.ID, event.SourceApplicationID)

	delivered, failures := 0, 0
	registry.ForEachMatching(event.SourceApplicationID, func(job jobs.Job) {
		if !d.jobEnabled(ctx, event.SourceApplicationID, job) {
			return
		}
		delivered++
		if err := jobs.SafeCall(func() error { return job.OnReceiveJob(ctx, event) }); err != nil {
			failures++
			eventLogger.LogJobFailure(event.SourceApplicationID, "receive", err)
		}
	})

	eventLogger.LogDispatch("ui", event.SourceApplicationID, delivered, failures, time.Since(start))
	return delivered
}

// DispatchNotification delivers notification to the job keyed by its package
// name. It requires an active instance and a platform with a notification
// listener, and the notification_service_enable flag when a toggle store is
// configured. Consent and enable flags are only checked under
// NotificationGatingConsentAndEnable. It reports whether a handler ran.
func (d *Dispatcher) DispatchNotification(ctx context.Context, notification *models.Notification) bool {
	if notification == nil || !d.platform.SupportsNotificationListener() {
		return false
	}
	if d.toggle != nil && !d.toggle.Bool(ctx, settings.KeyNotificationServiceEnable, false) {
		return false
	}
	if _, ok := d.lifecycle.Active(); !ok {
		return false
	}
	registry := d.lifecycle.Registry()
	if registry == nil {
		return false
	}

	start := time.Now()
	notification.Normalize(d.now())
	eventLogger := d.logger.WithEvent(notification.ID, notification.PackageName)

	delivered, failures := 0, 0
	registry.WithLookup(notification.PackageName, func(job jobs.Job) {
		if d.gating == NotificationGatingConsentAndEnable {
			if !d.settings.IsConsentGranted(ctx) || !d.jobEnabled(ctx, notification.PackageName, job) {
				return
			}
		}
		delivered++
		if err := jobs.SafeCall(func() error { return job.OnNotificationPosted(ctx, notification) }); err != nil {
			failures++
			eventLogger.LogJobFailure(notification.PackageName, "notification", err)
		}
	})

	eventLogger.LogDispatch("notification", notification.PackageName, delivered, failures, time.Since(start))
	return delivered > 0
}

func (d *Dispatcher) jobEnabled(ctx context.Context, target string, job jobs.Job) bool {
	enabled := false
	err := jobs.SafeCall(func() error {
		enabled = job.IsEnabled(ctx)
		return nil
	})
	if err != nil {
		d.logger.LogJobFailure(target, "is_enabled", err)
		return false
	}
	return enabled
}
