package jobs

import (
	"context"

	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
	"github.com/iddaa-lens/redpacket/pkg/settings"
)

// Job reacts to the UI and notification events of one target application
type Job interface {
	// OnCreateJob is called exactly once, before any event is delivered
	OnCreateJob(ctx context.Context, host Host) error

	// OnStopJob is called exactly once at teardown; the job is never reused
	OnStopJob()

	// TargetApplicationID returns the package name whose events this job wants
	TargetApplicationID() string

	// IsEnabled reports the job's enable flag; read on every dispatch
	IsEnabled(ctx context.Context) bool

	// OnReceiveJob handles one accessibility event. It must return promptly.
	OnReceiveJob(ctx context.Context, event *models.UIEvent) error

	// OnNotificationPosted handles one status-bar notification
	OnNotificationPosted(ctx context.Context, notification *models.Notification) error
}

// Factory builds one job. The fixed job list is a slice of factories.
type Factory func() (Job, error)

// Host is what the service hands each job on creation
type Host interface {
	Settings() settings.Store
	Logger() *logger.Logger
	Actions() Actuator
}

// ActionKind names a simulated user gesture
type ActionKind string

const (
	ActionClick            ActionKind = "click"
	ActionOpenNotification ActionKind = "open_notification"
	ActionBack             ActionKind = "back"
	ActionHome             ActionKind = "home"
)

// Action is one gesture a job asks the host to perform
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target,omitempty"`
}

// Actuator performs gestures on the device
type Actuator interface {
	Perform(ctx context.Context, action Action) error
}

type host struct {
	settings settings.Store
	logger   *logger.Logger
	actions  Actuator
}

// NewHost bundles the collaborators jobs receive in OnCreateJob
func NewHost(store settings.Store, log *logger.Logger, actions Actuator) Host {
	if log == nil {
		log = logger.New("jobs")
	}
	if actions == nil {
		actions = NopActuator{}
	}
	return &host{settings: store, logger: log, actions: actions}
}

func (h *host) Settings() settings.Store { return h.settings }
func (h *host) Logger() *logger.Logger { return h.logger }
func (h *host) Actions() Actuator { return h.actions }

// NopActuator drops every action
type NopActuator struct{}

func (NopActuator) Perform(context.Context, Action) error { return nil }

// LogActuator records actions in the log instead of touching a device
type LogActuator struct {
	logger *logger.Logger
}

// NewLogActuator creates an actuator that only logs
func NewLogActuator(log *logger.Logger) *LogActuator {
	return &LogActuator{logger: log}
}

func (a *LogActuator) Perform(ctx context.Context, action Action) error {
	a.logger.Info().
		Str("action", "perform").
		Str("kind", string(action.Kind)).
		Str("target", action.Target).
		Msg("Simulated gesture")
	return nil
}
