package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/redpacket/pkg/broadcast"
	"github.com/iddaa-lens/redpacket/pkg/jobs"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/models"
	"github.com/iddaa-lens/redpacket/pkg/settings"
)

const testIdentity = "com.yuhaiyang.redpacket/.RedPacketService"

type fakeJob struct {
	target     string
	enableKey  string
	store      settings.Reader
	createErr  error
	receiveErr error
	panics     bool

	created       atomic.Int32
	stopped       atomic.Int32
	received      atomic.Int32
	notifications atomic.Int32
}

func (f *fakeJob) OnCreateJob(ctx context.Context, host jobs.Host) error {
	f.created.Add(1)
	f.store = host.Settings()
	return f.createErr
}

func (f *fakeJob) OnStopJob() { f.stopped.Add(1) }

func (f *fakeJob) TargetApplicationID() string { return f.target }

func (f *fakeJob) IsEnabled(ctx context.Context) bool {
	return f.store.IsJobEnabled(ctx, f.enableKey)
}

func (f *fakeJob) OnReceiveJob(ctx context.Context, event *models.UIEvent) error {
	f.received.Add(1)
	if f.panics {
		panic("handler bug")
	}
	return f.receiveErr
}

func (f *fakeJob) OnNotificationPosted(ctx context.Context, notification *models.Notification) error {
	f.notifications.Add(1)
	if f.panics {
		panic("handler bug")
	}
	return nil
}

func newFakeJob(target, name string) *fakeJob {
	return &fakeJob{target: target, enableKey: jobs.EnableKey(name)}
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	signals []models.Signal
	err     error
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, signal models.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return r.err
}

func (r *recordingBroadcaster) count(signal models.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s == signal {
			n++
		}
	}
	return n
}

type panicToaster struct{}

func (panicToaster) Toast(context.Context, string) { panic("toast window leaked") }

type fixture struct {
	store       *settings.MemoryStore
	services    *MemoryServiceList
	broadcaster *recordingBroadcaster
	lifecycle   *Lifecycle
	dispatcher  *Dispatcher
}

func newFixture(t *testing.T, js ...jobs.Job) *fixture {
	t.Helper()
	factories := make([]jobs.Factory, 0, len(js))
	for _, j := range js {
		j := j
		factories = append(factories, func() (jobs.Job, error) { return j, nil })
	}
	return newFixtureWithFactories(t, factories...)
}

func newFixtureWithFactories(t *testing.T, factories ...jobs.Factory) *fixture {
	t.Helper()
	f := &fixture{
		store:       settings.NewMemoryStore(),
		services:    NewMemoryServiceList(testIdentity),
		broadcaster: &recordingBroadcaster{},
	}

	lifecycle, err := NewLifecycle(LifecycleConfig{
		Identity:    testIdentity,
		Factories:   factories,
		Host:        jobs.NewHost(f.store, logger.Nop(), jobs.NopActuator{}),
		Broadcaster: f.broadcaster,
		Services:    f.services,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)
	f.lifecycle = lifecycle
	f.dispatcher = NewDispatcher(lifecycle, f.store, WithDispatcherLogger(logger.Nop()))

	_, err = lifecycle.OnCreate(context.Background())
	require.NoError(t, err)
	return f
}

func (f *fixture) enable(t *testing.T, key string, value bool) {
	t.Helper()
	require.NoError(t, f.store.SetBool(context.Background(), key, value))
}

func uiEvent(app string) *models.UIEvent {
	return &models.UIEvent{Type: models.EventWindowStateChanged, SourceApplicationID: app}
}

func TestNewLifecycle_RequiresIdentity(t *testing.T) {
	_, err := NewLifecycle(LifecycleConfig{})
	assert.ErrorIs(t, err, ErrIdentityRequired)
}

func TestDispatchUIEvent_Scenario(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	beta := newFakeJob("app.beta", "beta")
	f := newFixture(t, alpha, beta)

	f.enable(t, settings.KeyAgreement, true)
	f.enable(t, alpha.enableKey, true)
	f.enable(t, beta.enableKey, false)

	assert.Equal(t, 1, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.alpha")))
	assert.Equal(t, int32(1), alpha.received.Load())
	assert.Equal(t, int32(0), beta.received.Load())

	assert.Equal(t, 0, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.beta")))
	assert.Equal(t, int32(0), beta.received.Load())

	assert.Equal(t, 0, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.gamma")))
	assert.Equal(t, int32(1), alpha.received.Load())
	assert.Equal(t, int32(0), beta.received.Load())
}

func TestDispatchUIEvent_ConsentIsGlobalKillSwitch(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.enable(t, alpha.enableKey, true)

	for _, consent := range []bool{false, true, false} {
		f.enable(t, settings.KeyAgreement, consent)
		f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.alpha"))
	}
	assert.Equal(t, int32(1), alpha.received.Load(), "only the consented dispatch should be delivered")
}

func TestDispatchUIEvent_NormalizesEvent(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.enable(t, settings.KeyAgreement, true)
	f.enable(t, alpha.enableKey, true)

	event := uiEvent(" app.alpha ")
	assert.Equal(t, 1, f.dispatcher.DispatchUIEvent(ctx, event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.ReceivedAt.IsZero())
	assert.Equal(t, 0, f.dispatcher.DispatchUIEvent(ctx, nil))
}

func TestDispatchUIEvent_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	panicking := newFakeJob("app.dup", "first")
	panicking.panics = true
	failing := newFakeJob("app.dup", "second")
	failing.receiveErr = errors.New("node vanished")
	healthy := newFakeJob("app.dup", "third")
	f := newFixture(t, panicking, failing, healthy)

	f.enable(t, settings.KeyAgreement, true)
	for _, j := range []*fakeJob{panicking, failing, healthy} {
		f.enable(t, j.enableKey, true)
	}

	assert.NotPanics(t, func() {
		assert.Equal(t, 3, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.dup")))
	})
	assert.Equal(t, int32(1), healthy.received.Load(), "later duplicates still receive the event")
}

func TestDispatchNotification_IgnoresConsent(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.lifecycle.OnServiceConnected(ctx)

	f.enable(t, settings.KeyAgreement, false)
	f.enable(t, alpha.enableKey, false)

	assert.True(t, f.dispatcher.DispatchNotification(ctx, &models.Notification{PackageName: "app.alpha"}))
	assert.Equal(t, int32(1), alpha.notifications.Load())
	assert.False(t, f.dispatcher.DispatchNotification(ctx, &models.Notification{PackageName: "app.gamma"}))
	assert.False(t, f.dispatcher.DispatchNotification(ctx, nil))
}

func TestDispatchNotification_ConsentAndEnableGating(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.lifecycle.OnServiceConnected(ctx)
	gated := NewDispatcher(f.lifecycle, f.store,
		WithNotificationGating(NotificationGatingConsentAndEnable),
		WithDispatcherLogger(logger.Nop()))
	n := &models.Notification{PackageName: "app.alpha"}

	assert.False(t, gated.DispatchNotification(ctx, n))

	f.enable(t, settings.KeyAgreement, true)
	assert.False(t, gated.DispatchNotification(ctx, n))

	f.enable(t, alpha.enableKey, true)
	assert.True(t, gated.DispatchNotification(ctx, n))
	assert.Equal(t, int32(1), alpha.notifications.Load())
}

func TestDispatchNotification_ServiceToggle(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.lifecycle.OnServiceConnected(ctx)
	toggled := NewDispatcher(f.lifecycle, f.store,
		WithNotificationToggle(f.store),
		WithDispatcherLogger(logger.Nop()))
	n := &models.Notification{PackageName: "app.alpha"}

	assert.False(t, toggled.DispatchNotification(ctx, n), "notification mode is off by default")
	assert.Equal(t, int32(0), alpha.notifications.Load())

	f.enable(t, settings.KeyNotificationServiceEnable, true)
	assert.True(t, toggled.DispatchNotification(ctx, n))
	assert.Equal(t, int32(1), alpha.notifications.Load())

	f.enable(t, settings.KeyNotificationServiceEnable, false)
	assert.False(t, toggled.DispatchNotification(ctx, n))
	assert.Equal(t, int32(1), alpha.notifications.Load())

	// the UI path ignores the notification toggle
	f.enable(t, settings.KeyAgreement, true)
	f.enable(t, alpha.enableKey, true)
	assert.Equal(t, 1, toggled.DispatchUIEvent(ctx, uiEvent("app.alpha")))
}

func TestDispatchNotification_RequiresActiveInstance(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)

	assert.False(t, f.dispatcher.DispatchNotification(ctx, &models.Notification{PackageName: "app.alpha"}))
	assert.Equal(t, int32(0), alpha.notifications.Load())
}

func TestDispatchNotification_UnsupportedPlatform(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.lifecycle.OnServiceConnected(ctx)
	old := NewDispatcher(f.lifecycle, f.store, WithPlatform(Platform{APILevel: 16}), WithDispatcherLogger(logger.Nop()))

	assert.NotPanics(t, func() {
		assert.False(t, old.DispatchNotification(ctx, &models.Notification{PackageName: "app.alpha"}))
	})
	assert.Equal(t, int32(0), alpha.notifications.Load())
}

func TestDispatchNotification_DuplicateUsesLaterJob(t *testing.T) {
	ctx := context.Background()
	first := newFakeJob("app.dup", "first")
	second := newFakeJob("app.dup", "second")
	f := newFixture(t, first, second)
	f.lifecycle.OnServiceConnected(ctx)

	assert.True(t, f.dispatcher.DispatchNotification(ctx, &models.Notification{PackageName: "app.dup"}))
	assert.Equal(t, int32(0), first.notifications.Load())
	assert.Equal(t, int32(1), second.notifications.Load())
}

func TestDispatchNotification_HandlerPanicIsIsolated(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	alpha.panics = true
	f := newFixture(t, alpha)
	f.lifecycle.OnServiceConnected(ctx)

	assert.NotPanics(t, func() {
		assert.True(t, f.dispatcher.DispatchNotification(ctx, &models.Notification{PackageName: "app.alpha"}))
	})
}

func TestLifecycle_ConnectThenDestroy(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)

	assert.Equal(t, StateDisconnected, f.lifecycle.State())

	instance := f.lifecycle.OnServiceConnected(ctx)
	assert.Equal(t, StateConnected, f.lifecycle.State())
	active, ok := f.lifecycle.Active()
	require.True(t, ok)
	assert.Equal(t, instance, active)
	assert.Equal(t, testIdentity, active.Identity)

	f.lifecycle.OnDestroy(ctx)
	assert.Equal(t, StateDisconnected, f.lifecycle.State())
	_, ok = f.lifecycle.Active()
	assert.False(t, ok)
	assert.Nil(t, f.lifecycle.Registry())

	assert.Equal(t, 1, f.broadcaster.count(models.SignalServiceConnected))
	assert.Equal(t, 1, f.broadcaster.count(models.SignalServiceDisconnected))
	assert.Equal(t, int32(1), alpha.stopped.Load())
}

func TestLifecycle_DestroyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.enable(t, settings.KeyAgreement, true)
	f.enable(t, alpha.enableKey, true)
	f.lifecycle.OnServiceConnected(ctx)

	f.lifecycle.OnDestroy(ctx)
	f.lifecycle.OnDestroy(ctx)

	assert.Equal(t, int32(1), alpha.stopped.Load())
	assert.Equal(t, 1, f.broadcaster.count(models.SignalServiceDisconnected))

	assert.Equal(t, 0, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.alpha")))
	assert.False(t, f.dispatcher.DispatchNotification(ctx, &models.Notification{PackageName: "app.alpha"}))
	assert.Equal(t, int32(0), alpha.received.Load())
	assert.Equal(t, int32(0), alpha.notifications.Load())
}

func TestLifecycle_DestroyWithoutConnect(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)

	assert.NotPanics(t, func() { f.lifecycle.OnDestroy(ctx) })
	assert.Equal(t, int32(1), alpha.stopped.Load())
	assert.Equal(t, 0, f.broadcaster.count(models.SignalServiceDisconnected))

	empty, err := NewLifecycle(LifecycleConfig{Identity: testIdentity, Logger: logger.Nop()})
	require.NoError(t, err)
	assert.NotPanics(t, func() { empty.OnDestroy(ctx) })
}

func TestLifecycle_InterruptKeepsRunning(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.lifecycle.OnServiceConnected(ctx)
	require.True(t, f.lifecycle.IsRunning(ctx))

	f.lifecycle.OnInterrupt(ctx)

	assert.True(t, f.lifecycle.IsRunning(ctx))
	assert.Equal(t, StateConnected, f.lifecycle.State())
	assert.Equal(t, int32(0), alpha.stopped.Load())
}

func TestLifecycle_IsRunningNeedsEnabledListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.False(t, f.lifecycle.IsRunning(ctx), "not connected")

	f.lifecycle.OnServiceConnected(ctx)
	assert.True(t, f.lifecycle.IsRunning(ctx))

	f.services.Set([]string{"com.other/.Service"})
	assert.False(t, f.lifecycle.IsRunning(ctx), "OS no longer lists the service")

	failing, err := NewLifecycle(LifecycleConfig{
		Identity: testIdentity,
		Logger:   logger.Nop(),
		Services: ServiceListerFunc(func(context.Context) ([]string, error) {
			return nil, errors.New("binder died")
		}),
	})
	require.NoError(t, err)
	failing.OnServiceConnected(ctx)
	assert.False(t, failing.IsRunning(ctx))
}

func TestLifecycle_ConnectReplacesInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.lifecycle.OnServiceConnected(ctx)
	second := f.lifecycle.OnServiceConnected(ctx)

	assert.NotEqual(t, first.ID, second.ID)
	active, ok := f.lifecycle.Active()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
}

func TestLifecycle_CreateOnce(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)

	_, err := f.lifecycle.OnCreate(ctx)
	assert.ErrorIs(t, err, ErrAlreadyCreated)
	assert.Equal(t, int32(1), alpha.created.Load(), "jobs must not be initialized twice")
}

func TestLifecycle_FailedJobDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	broken := newFakeJob("app.broken", "broken")
	broken.createErr = errors.New("missing permission")
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, broken, alpha)

	f.enable(t, settings.KeyAgreement, true)
	f.enable(t, alpha.enableKey, true)
	f.enable(t, broken.enableKey, true)

	registry := f.lifecycle.Registry()
	require.NotNil(t, registry)
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, 1, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.alpha")))
	assert.Equal(t, 0, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.broken")))
}

func TestLifecycle_SideEffectsAreBestEffort(t *testing.T) {
	ctx := context.Background()
	lifecycle, err := NewLifecycle(LifecycleConfig{
		Identity:    testIdentity,
		Broadcaster: &recordingBroadcaster{err: errors.New("no receivers")},
		Toaster:     panicToaster{},
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		lifecycle.OnServiceConnected(ctx)
		lifecycle.OnInterrupt(ctx)
		lifecycle.OnDestroy(ctx)
	})
	assert.Equal(t, StateDisconnected, lifecycle.State())
}

func TestLifecycle_GuardedJobs(t *testing.T) {
	ctx := context.Background()
	failing := newFakeJob("app.alpha", "alpha")
	failing.receiveErr = errors.New("always fails")
	store := settings.NewMemoryStore()

	lifecycle, err := NewLifecycle(LifecycleConfig{
		Identity:  testIdentity,
		Factories: []jobs.Factory{func() (jobs.Job, error) { return failing, nil }},
		Host:      jobs.NewHost(store, logger.Nop(), nil),
		Guard:     &jobs.GuardConfig{MaxConsecutiveFailures: 2, OpenTimeout: time.Hour},
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	_, err = lifecycle.OnCreate(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetBool(ctx, settings.KeyAgreement, true))
	require.NoError(t, store.SetBool(ctx, failing.enableKey, true))
	dispatcher := NewDispatcher(lifecycle, store, WithDispatcherLogger(logger.Nop()))

	for i := 0; i < 5; i++ {
		dispatcher.DispatchUIEvent(ctx, uiEvent("app.alpha"))
	}
	assert.Equal(t, int32(2), failing.received.Load(), "breaker should stop delivery after two failures")
}

func TestDispatcher_ConcurrentChannelsAndDestroy(t *testing.T) {
	ctx := context.Background()
	alpha := newFakeJob("app.alpha", "alpha")
	f := newFixture(t, alpha)
	f.enable(t, settings.KeyAgreement, true)
	f.enable(t, alpha.enableKey, true)
	f.lifecycle.OnServiceConnected(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.alpha"))
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				f.dispatcher.DispatchNotification(ctx, &models.Notification{PackageName: "app.alpha"})
				f.lifecycle.IsRunning(ctx)
			}
		}()
	}
	f.lifecycle.OnDestroy(ctx)
	wg.Wait()

	assert.Equal(t, int32(1), alpha.stopped.Load())
	received := alpha.received.Load()
	assert.Equal(t, 0, f.dispatcher.DispatchUIEvent(ctx, uiEvent("app.alpha")))
	assert.Equal(t, received, alpha.received.Load())
}

func TestParseNotificationGating(t *testing.T) {
	g, err := ParseNotificationGating("")
	require.NoError(t, err)
	assert.Equal(t, NotificationGatingNone, g)

	g, err = ParseNotificationGating(" Consent_And_Enable ")
	require.NoError(t, err)
	assert.Equal(t, NotificationGatingConsentAndEnable, g)

	_, err = ParseNotificationGating("strict")
	assert.Error(t, err)
}

func TestNotificationListener(t *testing.T) {
	ctx := context.Background()
	hub := broadcast.NewHub(4)
	unsub, signals := hub.Subscribe()
	defer unsub()

	listener := NewNotificationListener(Platform{APILevel: 23}, hub, logger.Nop())
	assert.False(t, listener.IsRunning())

	listener.OnListenerConnected(ctx)
	listener.OnListenerConnected(ctx)
	assert.True(t, listener.IsRunning())
	assert.Equal(t, models.SignalNotifyListenerConnected, <-signals)

	listener.OnListenerDisconnected(ctx)
	assert.False(t, listener.IsRunning())
	assert.Equal(t, models.SignalNotifyListenerDisconnected, <-signals)
	assert.Len(t, signals, 0, "repeated connect must not broadcast twice")

	legacy := NewNotificationListener(Platform{APILevel: 17}, hub, logger.Nop())
	legacy.OnListenerConnected(ctx)
	assert.False(t, legacy.IsRunning())
	assert.Len(t, signals, 0)
}
