// Package service runs the red packet accessibility service: it owns the job
// registry, tracks the connect/disconnect lifecycle driven by the OS
// subsystem's callbacks and routes inbound events to jobs.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iddaa-lens/redpacket/pkg/broadcast"
	"github.com/iddaa-lens/redpacket/pkg/jobs"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
)

var (
	ErrIdentityRequired = errors.New("service identity is required")
	ErrAlreadyCreated   = errors.New("service already created")
)

// State is the lifecycle state of the accessibility service
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Instance is the handle of a connected service
type Instance struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Toaster shows a short user-visible status message
type Toaster interface {
	Toast(ctx context.Context, message string)
}

// LogToaster writes toasts to the log
type LogToaster struct {
	logger *logger.Logger
}

// NewLogToaster creates a toaster backed by log
func NewLogToaster(log *logger.Logger) *LogToaster {
	return &LogToaster{logger: log}
}

func (t *LogToaster) Toast(_ context.Context, message string) {
	t.logger.Info().Str("action", "toast").Msg(message)
}

const (
	toastConnected   = "Red packet service connected"
	toastInterrupted = "Red packet service interrupted"
)

// LifecycleConfig wires a Lifecycle
type LifecycleConfig struct {
	Identity    string            // identity the OS lists for this service when enabled
	Factories   []jobs.Factory    // fixed job list, built on OnCreate
	Host        jobs.Host         // handed to every job's OnCreateJob
	Guard       *jobs.GuardConfig // nil disables job guarding
	Broadcaster broadcast.Broadcaster
	Toaster     Toaster
	Services    ServiceLister
	Logger      *logger.Logger
}

// Lifecycle is the state machine behind the OS connect, interrupt and
// destroy callbacks. It is the only holder of the active instance and
// the job registry; callers share it explicitly instead of through a global.
type Lifecycle struct {
	identity    string
	factories   []jobs.Factory
	host        jobs.Host
	guard       *jobs.GuardConfig
	broadcaster broadcast.Broadcaster
	toaster     Toaster
	services    ServiceLister
	logger      *logger.Logger
	now         func() time.Time

	mu       sync.RWMutex
	state    State
	active   *Instance
	registry *jobs.Registry
}

// NewLifecycle validates cfg and returns a disconnected lifecycle
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	if cfg.Identity == "" {
		return nil, ErrIdentityRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("service-lifecycle")
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = broadcast.Multi()
	}
	if cfg.Toaster == nil {
		cfg.Toaster = NewLogToaster(cfg.Logger)
	}
	if cfg.Services == nil {
		cfg.Services = NewMemoryServiceList()
	}

	return &Lifecycle{
		identity:    cfg.Identity,
		factories:   append([]jobs.Factory(nil), cfg.Factories...),
		host:        cfg.Host,
		guard:       cfg.Guard,
		broadcaster: cfg.Broadcaster,
		toaster:     cfg.Toaster,
		services:    cfg.Services,
		logger:      cfg.Logger,
		now:         time.Now,
		state:       StateDisconnected,
	}, nil
}

// OnCreate builds the job registry. Calling it again before OnDestroy is a
// no-op returning ErrAlreadyCreated, so jobs are never initialized twice.
func (l *Lifecycle) OnCreate(ctx context.Context) (jobs.BuildReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.registry != nil {
		l.logger.Warn().
			Str("action", "create_ignored").
			Msg("OnCreate called on a created service")
		return jobs.BuildReport{}, ErrAlreadyCreated
	}

	opts := []jobs.Option{jobs.WithLogger(l.logger)}
	if l.guard != nil {
		opts = append(opts, jobs.WithGuard(l.guard))
	}
	registry, report := jobs.Build(ctx, l.factories, l.host, opts...)
	l.registry = registry

	l.logger.LogLifecycle("create", l.state.String(), l.state.String(), registry.Len())
	return report, nil
}

// OnServiceConnected records a new active instance, replacing any previous
// one, then broadcasts SERVICE_CONNECTED and shows a toast.
func (l *Lifecycle) OnServiceConnected(ctx context.Context) Instance {
	instance := Instance{
		ID:          uuid.New().String(),
		Identity:    l.identity,
		ConnectedAt: l.now(),
	}

	l.mu.Lock()
	from := l.state
	replaced := l.active != nil
	l.active = &instance
	l.state = StateConnected
	jobCount := l.jobCountLocked()
	l.mu.Unlock()

	if replaced {
		l.logger.Warn().
			Str("action", "instance_replaced").
			Str("instance_id", instance.ID).
			Msg("Service connected again, replacing active instance")
	}
	l.logger.LogLifecycle("connected", from.String(), StateConnected.String(), jobCount)

	l.emit(ctx, models.SignalServiceConnected)
	l.toast(ctx, toastConnected)
	return instance
}

// OnInterrupt reports a transient interruption. Jobs keep running and the
// active instance is untouched.
func (l *Lifecycle) OnInterrupt(ctx context.Context) {
	l.mu.RLock()
	state := l.state
	jobCount := l.jobCountLocked()
	l.mu.RUnlock()

	l.logger.LogLifecycle("interrupt", state.String(), state.String(), jobCount)
	l.toast(ctx, toastInterrupted)
}

// OnDestroy stops every job, clears the active instance and broadcasts
// SERVICE_DISCONNECTED if the service was connected. Safe to call repeatedly
// and without a prior connect.
func (l *Lifecycle) OnDestroy(ctx context.Context) {
	l.mu.Lock()
	from := l.state
	wasConnected := l.active != nil
	registry := l.registry
	l.registry = nil
	l.active = nil
	l.state = StateDisconnected
	l.mu.Unlock()

	// Teardown waits for in-flight dispatch; the lifecycle lock is released
	// first so a handler querying the lifecycle cannot deadlock it.
	stopped := 0
	if registry != nil {
		stopped = registry.Teardown()
	}

	l.logger.LogLifecycle("destroy", from.String(), StateDisconnected.String(), stopped)

	if wasConnected {
		l.emit(ctx, models.SignalServiceDisconnected)
	}
}

// State returns the current lifecycle state
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Active returns the active instance, if connected
func (l *Lifecycle) Active() (Instance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.active == nil {
		return Instance{}, false
	}
	return *l.active, true
}

// Registry returns the live job registry, nil before OnCreate or after OnDestroy
func (l *Lifecycle) Registry() *jobs.Registry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry
}

// IsRunning reports whether an instance is active and the OS currently lists
// this service among its enabled services. It is a point-in-time check.
func (l *Lifecycle) IsRunning(ctx context.Context) bool {
	if _, ok := l.Active(); !ok {
		return false
	}

	enabled, err := l.services.EnabledServices(ctx)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("action", "enabled_services_failed").
			Msg("Could not read enabled services")
		return false
	}
	for _, id := range enabled {
		if id == l.identity {
			return true
		}
	}
	return false
}

func (l *Lifecycle) jobCountLocked() int {
	if l.registry == nil {
		return 0
	}
	return l.registry.Len()
}

// emit and toast are best effort: failures are logged, never returned
func (l *Lifecycle) emit(ctx context.Context, signal models.Signal) {
	err := jobs.SafeCall(func() error { return l.broadcaster.Broadcast(ctx, signal) })
	if err != nil {
		l.logger.Error().
			Err(err).
			Str("action", "broadcast_failed").
			Str("signal", string(signal)).
			Msg("Failed to broadcast service signal")
	}
}

func (l *Lifecycle) toast(ctx context.Context, message string) {
	err := jobs.SafeCall(func() error {
		l.toaster.Toast(ctx, message)
		return nil
	})
	if err != nil {
		l.logger.Error().
			Err(err).
			Str("action", "toast_failed").
			Str("message", message).
			Msg("Failed to show toast")
	}
}
