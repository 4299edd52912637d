package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iddaa-lens/redpacket/internal/config"
	"github.com/iddaa-lens/redpacket/pkg/broadcast"
	"github.com/iddaa-lens/redpacket/pkg/database/lock"
	"github.com/iddaa-lens/redpacket/pkg/database/pool"
	"github.com/iddaa-lens/redpacket/pkg/jobs"
	"github.com/iddaa-lens/redpacket/pkg/jobs/wechat"
	"github.com/iddaa-lens/redpacket/pkg/logger"
	"github.com/iddaa-lens/redpacket/pkg/server"
	"github.com/iddaa-lens/redpacket/pkg/service"
	"github.com/iddaa-lens/redpacket/pkg/settings"
)

// registeredJobs is the fixed job list built on service creation
var registeredJobs = []jobs.Factory{
	wechat.New,
}

func main() {
	var (
		check = flag.Bool("check", false, "Run one status check, print it and exit")
		dev   = flag.Bool("dev", false, "Use in-memory settings with consent and every job enabled")
	)
	flag.Parse()

	logger.SetupLogger()
	log := logger.New("redpacket-service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().
			Err(err).
			Str("action", "config_failed").
			Msg("Failed to load configuration")
	}
	if *dev {
		cfg.IsDev = true
		cfg.Settings.Backend = config.SettingsBackendMemory
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *check, log); err != nil {
		log.Fatal().
			Err(err).
			Str("action", "service_failed").
			Msg("Red packet service exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, checkOnly bool, log *logger.Logger) error {
	store, db, err := openSettings(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()

		if cfg.Service.SingleInstance {
			release, err := acquireInstanceLock(ctx, db, cfg.Service.Identity, log)
			if err != nil {
				return err
			}
			defer release()
		}
	}

	if cfg.IsDev {
		if err := seedDevSettings(ctx, store); err != nil {
			return err
		}
	}

	hub := broadcast.NewHub(16)
	defer hub.Close()
	broadcasters := []broadcast.Broadcaster{hub}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		rb, err := broadcast.NewRedisBroadcaster(client, cfg.Redis.Channel)
		if err != nil {
			return err
		}
		broadcasters = append(broadcasters, rb)
		log.Info().
			Str("action", "redis_connected").
			Str("channel", rb.Channel()).
			Msg("Publishing service signals to redis")
	}
	signals := broadcast.Multi(broadcasters...)

	gating, err := service.ParseNotificationGating(cfg.Service.NotificationGating)
	if err != nil {
		return err
	}
	platform := service.Platform{APILevel: cfg.Service.APILevel}
	services := service.NewMemoryServiceList(cfg.Service.EnabledServices...)

	var guard *jobs.GuardConfig
	if cfg.Service.GuardJobs {
		guard = &jobs.GuardConfig{
			MaxConsecutiveFailures: cfg.Service.GuardMaxFailures,
			OpenTimeout:            cfg.Service.GuardOpenTimeout,
		}
	}

	lifecycle, err := service.NewLifecycle(service.LifecycleConfig{
		Identity:    cfg.Service.Identity,
		Factories:   registeredJobs,
		Host:        jobs.NewHost(store, log, jobs.NewLogActuator(log)),
		Guard:       guard,
		Broadcaster: signals,
		Services:    services,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	report, err := lifecycle.OnCreate(ctx)
	if err != nil {
		return err
	}
	for _, failure := range report.Failed {
		log.Warn().
			Err(failure.Err).
			Int("index", failure.Index).
			Str("action", "job_skipped").
			Msg("Job was not registered")
	}
	// Teardown runs on every exit path; repeated calls are no-ops
	defer lifecycle.OnDestroy(context.Background())

	listener := service.NewNotificationListener(platform, signals, log)
	dispatcherOpts := []service.DispatcherOption{
		service.WithNotificationGating(gating),
		service.WithPlatform(platform),
		service.WithDispatcherLogger(log),
	}
	if cfg.Service.NotificationToggle {
		dispatcherOpts = append(dispatcherOpts, service.WithNotificationToggle(store))
	}
	dispatcher := service.NewDispatcher(lifecycle, store, dispatcherOpts...)
	watcher := service.NewStatusWatcher(lifecycle, listener, cfg.Service.StatusSchedule, log)

	if checkOnly {
		status := watcher.CheckOnce(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	srv, err := server.New(cfg.Addr(), server.Dependencies{
		Lifecycle:  lifecycle,
		Listener:   listener,
		Services:   services,
		Dispatcher: dispatcher,
		Status:     watcher,
		Settings:   store,
	}, log)
	if err != nil {
		return err
	}

	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	unsubscribe, received := hub.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig, ok := <-received:
				if !ok {
					return nil
				}
				log.Info().
					Str("action", "service_signal").
					Str("signal", string(sig)).
					Msg("Service signal broadcast")
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("action", "shutdown").Msg("Shutting down red packet service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		lifecycle.OnDestroy(shutdownCtx)
		return nil
	})

	log.Info().
		Str("action", "service_started").
		Str("addr", cfg.Addr()).
		Int("job_count", len(report.Registered)).
		Str("notification_gating", string(dispatcher.Gating())).
		Msg("Red packet service started")

	return g.Wait()
}

func openSettings(ctx context.Context, cfg *config.Config, log *logger.Logger) (settings.Store, *pgxpool.Pool, error) {
	if cfg.Settings.Backend != config.SettingsBackendPostgres {
		return settings.NewMemoryStore(), nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := pool.New(connectCtx, cfg.DatabaseURL(), pool.DefaultConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to settings database: %w", err)
	}

	store := settings.NewPostgresStore(db, cfg.Settings.Table, log)
	if err := store.EnsureSchema(connectCtx); err != nil {
		db.Close()
		return nil, nil, err
	}

	stats := pool.GetStats(db)
	log.Info().
		Str("action", "db_connected").
		Int32("max_conns", stats.MaxConns).
		Int32("total_conns", stats.TotalConns).
		Msg("Settings database connection pool established")

	return store, db, nil
}

// acquireInstanceLock pins one pooled connection for the advisory lock so a
// second process sharing the database cannot run the same identity
func acquireInstanceLock(ctx context.Context, db *pgxpool.Pool, identity string, log *logger.Logger) (func(), error) {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
	}

	instanceLock := lock.New(conn, identity, log)
	acquired, err := instanceLock.TryAcquire(ctx)
	if err != nil {
		conn.Release()
		return nil, err
	}
	if !acquired {
		conn.Release()
		return nil, fmt.Errorf("%w: %s", lock.ErrHeldElsewhere, identity)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := instanceLock.Release(releaseCtx); err != nil {
			log.Warn().Err(err).Str("action", "lock_release_failed").Msg("Failed to release instance lock")
		}
		conn.Release()
	}, nil
}

// seedDevSettings grants consent, turns on notification mode and enables
// the WeChat job
func seedDevSettings(ctx context.Context, store settings.Store) error {
	for _, key := range []string{
		settings.KeyAgreement,
		settings.KeyNotificationServiceEnable,
		jobs.EnableKey(wechat.Name),
	} {
		if err := store.SetBool(ctx, key, true); err != nil {
			return err
		}
	}
	return nil
}
