package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
)

// GuardedJob wraps a job with panic recovery and a circuit breaker so that
// a misbehaving job stops receiving events instead of failing repeatedly
type GuardedJob struct {
	job     Job
	target  string
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// GuardConfig holds configuration for the job guard
type GuardConfig struct {
	MaxConsecutiveFailures uint32        // Failures in a row before the breaker opens
	OpenTimeout            time.Duration // How long the breaker stays open before probing
	Interval               time.Duration // Closed-state counter reset period, 0 keeps counts
}

// DefaultGuardConfig returns sensible defaults for guarded jobs
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		MaxConsecutiveFailures: 5,
		OpenTimeout:            30 * time.Second,
		Interval:               0,
	}
}

// NewGuardedJob wraps job. Wrapping an already guarded job returns it unchanged.
// The target id is read once; a job that panics there is guarded under an
// empty id. config is not modified.
func NewGuardedJob(job Job, config *GuardConfig, log *logger.Logger) *GuardedJob {
	if g, ok := job.(*GuardedJob); ok {
		return g
	}
	target, _ := targetOf(job)
	return newGuardedJob(job, target, config, log)
}

func newGuardedJob(job Job, target string, config *GuardConfig, log *logger.Logger) *GuardedJob {
	if g, ok := job.(*GuardedJob); ok {
		return g
	}
	cfg := *DefaultGuardConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 1
	}
	if log == nil {
		log = logger.New("guarded-job")
	}

	jobLogger := log.WithJob(target)
	maxFailures := cfg.MaxConsecutiveFailures

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			jobLogger.Warn().
				Str("action", "breaker_state_change").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Job circuit breaker changed state")
		},
	})

	return &GuardedJob{
		job:     job,
		target:  target,
		breaker: breaker,
		logger:  jobLogger,
	}
}

// Unwrap returns the guarded job
func (g *GuardedJob) Unwrap() Job {
	return g.job
}

// State returns the breaker state
func (g *GuardedJob) State() gobreaker.State {
	return g.breaker.State()
}

func (g *GuardedJob) OnCreateJob(ctx context.Context, host Host) error {
	return SafeCall(func() error { return g.job.OnCreateJob(ctx, host) })
}

func (g *GuardedJob) OnStopJob() {
	err := SafeCall(func() error {
		g.job.OnStopJob()
		return nil
	})
	if err != nil {
		g.logger.LogJobFailure(g.target, "stop", err)
	}
}

// TargetApplicationID returns the id recorded when the job was wrapped
func (g *GuardedJob) TargetApplicationID() string {
	return g.target
}

// IsEnabled reports false while the breaker is open or when the job panics
func (g *GuardedJob) IsEnabled(ctx context.Context) bool {
	if g.breaker.State() == gobreaker.StateOpen {
		return false
	}
	enabled := false
	err := SafeCall(func() error {
		enabled = g.job.IsEnabled(ctx)
		return nil
	})
	if err != nil {
		g.logger.LogJobFailure(g.target, "is_enabled", err)
		return false
	}
	return enabled
}

func (g *GuardedJob) OnReceiveJob(ctx context.Context, event *models.UIEvent) error {
	return g.execute(func() error { return g.job.OnReceiveJob(ctx, event) })
}

func (g *GuardedJob) OnNotificationPosted(ctx context.Context, notification *models.Notification) error {
	return g.execute(func() error { return g.job.OnNotificationPosted(ctx, notification) })
}

func (g *GuardedJob) execute(fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, SafeCall(fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrJobCircuitOpen, g.target)
	}
	return err
}

var _ Job = (*GuardedJob)(nil)
