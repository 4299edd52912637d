package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/iddaa-lens/redpacket/pkg/logger"
)

// Registry owns the fixed set of jobs built at service creation.
//
// The job set never changes after Build. Dispatch holds the read lock for
// the whole delivery; Teardown takes the write lock, so no handler runs
// while jobs are being stopped. Handlers must not call back into the
// registry.
//
// Target ids are read once at registration and kept next to each job.
type Registry struct {
	mu       sync.RWMutex
	entries  []entry
	byTarget map[string]Job
	stopped  bool
	logger   *logger.Logger
}

type entry struct {
	job    Job
	target string
}

// BuildFailure records a factory that did not produce a registered job
type BuildFailure struct {
	Index int
	Err   error
}

// BuildReport summarises one Build call
type BuildReport struct {
	Registered []string       // target ids in registration order
	Failed     []BuildFailure // skipped factories
	Overwrote  []string       // ids whose keyed entry was replaced by a later job
}

type buildOptions struct {
	logger *logger.Logger
	guard  *GuardConfig
}

// Option configures Build
type Option func(*buildOptions)

// WithLogger sets the registry logger
func WithLogger(l *logger.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithGuard wraps every registered job in a GuardedJob
func WithGuard(cfg *GuardConfig) Option {
	return func(o *buildOptions) {
		if cfg == nil {
			cfg = DefaultGuardConfig()
		}
		o.guard = cfg
	}
}

// Build instantiates every factory in order and calls OnCreateJob on it.
// A factory that fails, returns nil, panics, or whose OnCreateJob fails is
// logged and skipped; the remaining factories are still registered.
//
// Two jobs may declare the same target id. The later one wins the keyed
// entry used by the notification path, while both stay in the ordered
// list used by UI dispatch and teardown.
func Build(ctx context.Context, factories []Factory, host Host, opts ...Option) (*Registry, BuildReport) {
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.New("job-registry")
	}

	r := &Registry{
		entries:  make([]entry, 0, len(factories)),
		byTarget: make(map[string]Job, len(factories)),
		logger:   o.logger,
	}
	var report BuildReport

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, factory := range factories {
		job, target, err := createJob(ctx, factory, host)
		if err != nil {
			r.logger.Error().
				Err(err).
				Int("index", i).
				Str("action", "register_job_failed").
				Msg("Skipping job that failed to initialize")
			report.Failed = append(report.Failed, BuildFailure{Index: i, Err: err})
			continue
		}

		if o.guard != nil {
			job = newGuardedJob(job, target, o.guard, r.logger)
		}

		if _, exists := r.byTarget[target]; exists {
			r.logger.Warn().
				Str("job_target", target).
				Int("index", i).
				Str("action", "register_job_overwrite").
				Msg("Duplicate target id, later job replaces keyed entry")
			report.Overwrote = append(report.Overwrote, target)
		}

		r.entries = append(r.entries, entry{job: job, target: target})
		r.byTarget[target] = job
		report.Registered = append(report.Registered, target)

		r.logger.Info().
			Str("action", "register_job").
			Str("job_target", target).
			Bool("guarded", o.guard != nil).
			Msg("Registered job")
	}

	r.logger.Info().
		Str("action", "registry_built").
		Int("job_count", len(r.entries)).
		Int("failed_count", len(report.Failed)).
		Msg("Job registry built")

	return r, report
}

func createJob(ctx context.Context, factory Factory, host Host) (Job, string, error) {
	if factory == nil {
		return nil, "", ErrNilFactory
	}

	var job Job
	err := SafeCall(func() error {
		var ferr error
		job, ferr = factory()
		return ferr
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to construct job: %w", err)
	}
	if job == nil {
		return nil, "", ErrNilJob
	}

	target, err := targetOf(job)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read job target: %w", err)
	}
	if target == "" {
		return nil, "", ErrEmptyTarget
	}

	if err := SafeCall(func() error { return job.OnCreateJob(ctx, host) }); err != nil {
		return nil, "", fmt.Errorf("failed to create job %s: %w", target, err)
	}
	return job, target, nil
}

func targetOf(job Job) (string, error) {
	var target string
	err := SafeCall(func() error {
		target = job.TargetApplicationID()
		return nil
	})
	return target, err
}

// Lookup returns the job keyed by target id
func (r *Registry) Lookup(targetApplicationID string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return nil, false
	}
	job, ok := r.byTarget[targetApplicationID]
	return job, ok
}

// All returns the jobs in registration order
func (r *Registry) All() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e.job)
	}
	return all
}

// Targets returns the target ids recorded at registration, in order
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil
	}
	targets := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		targets = append(targets, e.target)
	}
	return targets
}

// Len returns the number of registered jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stopped reports whether Teardown has run
func (r *Registry) Stopped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stopped
}

// ForEachMatching calls fn for every job whose target equals
// targetApplicationID, in registration order, under the read lock.
// It returns false without calling fn when the registry is empty or stopped.
func (r *Registry) ForEachMatching(targetApplicationID string, fn func(Job)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped || len(r.entries) == 0 {
		return false
	}
	for _, e := range r.entries {
		if e.target == targetApplicationID {
			fn(e.job)
		}
	}
	return true
}

// WithLookup calls fn with the keyed job for targetApplicationID under the
// read lock. It reports whether a job was found.
func (r *Registry) WithLookup(targetApplicationID string, fn func(Job)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return false
	}
	job, ok := r.byTarget[targetApplicationID]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// Teardown stops every job in registration order and clears the registry.
// Only the first call stops jobs; it returns how many were stopped.
func (r *Registry) Teardown() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return 0
	}
	r.stopped = true

	r.logger.Info().
		Str("action", "teardown_initiated").
		Int("job_count", len(r.entries)).
		Msg("Stopping registered jobs")

	stopped := 0
	for _, e := range r.entries {
		err := SafeCall(func() error {
			e.job.OnStopJob()
			return nil
		})
		if err != nil {
			r.logger.LogJobFailure(e.target, "stop", err)
		}
		stopped++
	}

	r.entries = nil
	r.byTarget = make(map[string]Job)

	r.logger.Info().
		Str("action", "teardown_complete").
		Int("stopped_count", stopped).
		Msg("Job registry torn down")

	return stopped
}
