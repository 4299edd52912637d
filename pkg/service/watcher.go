package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iddaa-lens/redpacket/pkg/logger"
)

// DefaultStatusSchedule polls service status every 30 seconds
const DefaultStatusSchedule = "@every 30s"

// Status is a point-in-time view of the service
type Status struct {
	State           string    `json:"state"`
	Running         bool      `json:"running"`
	ListenerRunning bool      `json:"listener_running"`
	JobTargets      []string  `json:"job_targets"`
	CheckedAt       time.Time `json:"checked_at"`
}

// StatusWatcher polls IsRunning on a cron schedule and logs transitions.
// IsRunning is a pull check, so anything that needs to notice the OS
// disabling the service has to poll it.
type StatusWatcher struct {
	cron      *cron.Cron
	schedule  string
	lifecycle *Lifecycle
	listener  *NotificationListener
	logger    *logger.Logger

	mu       sync.Mutex
	last     Status
	checked  bool
	onChange []func(Status)
}

// NewStatusWatcher creates a watcher; listener may be nil
func NewStatusWatcher(lifecycle *Lifecycle, listener *NotificationListener, schedule string, log *logger.Logger) *StatusWatcher {
	if schedule == "" {
		schedule = DefaultStatusSchedule
	}
	if log == nil {
		log = logger.New("status-watcher")
	}
	return &StatusWatcher{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		schedule:  schedule,
		lifecycle: lifecycle,
		listener:  listener,
		logger:    log,
	}
}

// OnChange registers fn to run after every status transition
func (w *StatusWatcher) OnChange(fn func(Status)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

// Start schedules the status check
func (w *StatusWatcher) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.CheckOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule status check %q: %w", w.schedule, err)
	}

	w.logger.Info().
		Str("action", "start").
		Str("schedule", w.schedule).
		Msg("Starting status watcher")
	w.cron.Start()
	return nil
}

// Stop waits for a running check to finish
func (w *StatusWatcher) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info().Str("action", "stopped").Msg("Status watcher stopped")
}

// Snapshot computes the current status without recording it
func (w *StatusWatcher) Snapshot(ctx context.Context) Status {
	status := Status{
		State:     w.lifecycle.State().String(),
		Running:   w.lifecycle.IsRunning(ctx),
		CheckedAt: time.Now().UTC(),
	}
	if w.listener != nil {
		status.ListenerRunning = w.listener.IsRunning()
	}
	if registry := w.lifecycle.Registry(); registry != nil {
		status.JobTargets = registry.Targets()
	}
	return status
}

// CheckOnce takes a snapshot, logs it if it changed since the last check and
// notifies OnChange callbacks
func (w *StatusWatcher) CheckOnce(ctx context.Context) Status {
	status := w.Snapshot(ctx)

	w.mu.Lock()
	changed := !w.checked ||
		w.last.Running != status.Running ||
		w.last.ListenerRunning != status.ListenerRunning ||
		w.last.State != status.State
	w.last = status
	w.checked = true
	callbacks := slices.Clone(w.onChange)
	w.mu.Unlock()

	if !changed {
		return status
	}

	w.logger.Info().
		Str("action", "status_changed").
		Str("state", status.State).
		Bool("running", status.Running).
		Bool("listener_running", status.ListenerRunning).
		Int("job_count", len(status.JobTargets)).
		Msg("Service status changed")

	for _, fn := range callbacks {
		fn(status)
	}
	return status
}

// Last returns the most recent recorded status
func (w *StatusWatcher) Last() (Status, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.checked
}
