// Package app assembles the monitor and runs its session lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/technosupport/ts-vms-monitor/internal/anomalies"
	"github.com/technosupport/ts-vms-monitor/internal/api"
	"github.com/technosupport/ts-vms-monitor/internal/auth"
	"github.com/technosupport/ts-vms-monitor/internal/backend"
	"github.com/technosupport/ts-vms-monitor/internal/cache"
	"github.com/technosupport/ts-vms-monitor/internal/cameras"
	"github.com/technosupport/ts-vms-monitor/internal/config"
	"github.com/technosupport/ts-vms-monitor/internal/dispatch"
	"github.com/technosupport/ts-vms-monitor/internal/loader"
	"github.com/technosupport/ts-vms-monitor/internal/logger"
	"github.com/technosupport/ts-vms-monitor/internal/realtime"
	"github.com/technosupport/ts-vms-monitor/internal/relay"
	"github.com/technosupport/ts-vms-monitor/internal/store"
)

const clientName = "ts-vms-monitor"

type App struct {
	cfg       config.Config
	log       zerolog.Logger
	sessionID string

	redis *redis.Client
	nats  *nats.Conn

	Creds      *auth.Credentials
	Store      *store.Store
	Cache      *cache.Cache
	Client     *backend.Client
	Loader     *loader.Loader
	Scheduler  *loader.Scheduler
	Channel    *realtime.Channel
	Dispatcher *dispatch.Dispatcher
	Cameras    *cameras.Service
	Anomalies  *anomalies.Service
	Notifier   *AlertNotifier
	Relay      *relay.Publisher
	Status     *api.Server

	streams *cameras.StreamTracker
	watcher *auth.TokenWatcher

	// logins tracks in-flight initial loads so shutdown can wait for them
	logins sync.WaitGroup

	// sessionMu orders finishLogin against logout
	sessionMu sync.Mutex
	// loaded is set once the initial load of a session has finished
	loaded atomic.Bool
	// epoch advances on every logout; a login finishing under an older
	// epoch belongs to an ended session
	epoch atomic.Uint64
}

// New builds every component from cfg. Optional infrastructure that cannot
// be reached (redis, nats) is logged and replaced or skipped.
func New(cfg config.Config) (*App, error) {
	a := &App{
		cfg:       cfg,
		log:       logger.WithComponent("app"),
		sessionID: cfg.Session.ID,
	}
	if a.sessionID == "" {
		a.sessionID = uuid.New().String()
	}

	a.Creds = auth.NewCredentials("")
	a.Store = store.New()
	a.Cache = a.newCache()

	client, err := backend.NewClient(cfg.API.BaseURL, a.Creds, backend.Options{
		Timeout:   config.Millis(cfg.API.TimeoutMS),
		UserAgent: cfg.API.UserAgent,
		Logger:    logger.WithComponent("backend"),
	})
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}
	a.Client = client

	a.Loader = loader.New(client, a.Cache, a.Store, loader.Options{
		Limits: loader.Limits{
			Anomalies:       cfg.Anomalies.Limit,
			RecentAnomalies: cfg.Anomalies.RecentLimit,
		},
		Logger: logger.WithComponent("loader"),
	})
	a.Scheduler = loader.NewScheduler(loader.SchedulerConfig{
		Interval: config.Millis(cfg.Cache.RefreshIntervalMS),
		MaxAge:   config.Millis(cfg.Cache.StaleAfterMS),
		Backoff:  config.Millis(cfg.Cache.RefreshBackoffMS),
	}, a.Loader, func() bool {
		return a.loaded.Load() && a.Creds.Token() != ""
	})

	a.Channel = realtime.New(realtime.Config{
		URL:              cfg.RealtimeURL(),
		ColdStartDelay:   config.Millis(cfg.Realtime.ColdStartDelayMS),
		RetryDelay:       config.Millis(cfg.Realtime.RetryDelayMS),
		ReconnectDelay:   config.Millis(cfg.Realtime.ReconnectDelayMS),
		HandshakeTimeout: config.Millis(cfg.Realtime.HandshakeTimeoutMS),
		MaxAttempts:      cfg.Realtime.MaxAttempts,
		EventBuffer:      cfg.Realtime.EventBuffer,
		Logger:           logger.WithComponent("realtime"),
	})
	a.Dispatcher = dispatch.New(a.Store, a.Channel, logger.WithComponent("dispatch"))

	a.streams = cameras.NewStreamTracker(cameras.DefaultTrackerSize, config.Millis(cfg.Cameras.StreamDedupTTLMS))
	a.Cameras = cameras.NewService(client, a.Store, a.Loader, a.streams, cfg.Cameras.PublicSubdomain, logger.WithComponent("cameras"))
	a.Anomalies = anomalies.NewService(client, a.Store, a.Loader, logger.WithComponent("anomalies"))

	a.Notifier = NewAlertNotifier(a.Store, logger.WithComponent("alerts"))
	a.Notifier.Attach(a.Channel)

	if cfg.Relay.NATSURL != "" {
		nc, err := relay.Connect(cfg.Relay.NATSURL, clientName)
		if err != nil {
			a.log.Warn().Err(err).Msg("relay disabled")
		} else {
			a.nats = nc
			a.Relay = relay.NewPublisher(nc, relay.Config{
				Subject:    cfg.Relay.Subject,
				SessionID:  a.sessionID,
				MaxRetries: cfg.Relay.MaxRetries,
				Logger:     logger.WithComponent("relay"),
			})
			a.Relay.Attach(a.Channel)
		}
	}

	a.Status = api.NewServer(api.Deps{
		Store:     a.Store,
		Channel:   a.Channel,
		Loader:    a.Loader,
		Anomalies: a.Anomalies,
		Cameras:   a.Cameras,
		Logger:    logger.WithComponent("api"),

		AllowedOrigins: cfg.Status.AllowedOrigins,
	})

	if cfg.Auth.TokenFile != "" {
		a.watcher = auth.NewTokenWatcher(cfg.Auth.TokenFile, a.Creds, logger.WithComponent("auth"))
	}
	return a, nil
}

func (a *App) newCache() *cache.Cache {
	opts := cache.Options{
		Expiry: time.Duration(a.cfg.Cache.ExpirySeconds) * time.Second,
		Logger: logger.WithComponent("cache"),
	}

	if a.cfg.Cache.Backend == "redis" {
		rc := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rc.Ping(ctx).Err(); err != nil {
			a.log.Warn().Err(err).Str("addr", a.cfg.Cache.RedisAddr).Msg("redis unavailable, using in-memory cache")
			_ = rc.Close()
		} else {
			a.redis = rc
			retention := time.Duration(a.cfg.Cache.RetentionSeconds) * time.Second
			return cache.New(
				cache.NewRedisBackend(rc, a.cfg.Cache.Namespace, retention),
				cache.NewRedisFlags(rc, a.cfg.Cache.Namespace, a.sessionID),
				opts,
			)
		}
	}
	return cache.New(cache.NewMemoryBackend(a.cfg.Cache.MaxEntries), &cache.MemoryFlags{}, opts)
}

// SessionID identifies this run for the cache fresh-load flag and relay messages.
func (a *App) SessionID() string { return a.sessionID }

// wireSession connects credential changes to the channel and the loader.
// A login (no credential -> credential) loads every resource and then
// hands the credential to the channel; a rotated credential goes straight
// to the channel; a revoked one tears it down.
func (a *App) wireSession(ctx context.Context) {
	a.Channel.OnStateChange(func(s realtime.State) {
		a.Store.SetConnectionState(string(s))
	})

	var mu sync.Mutex
	current := ""
	a.Creds.OnChange(func(token string) {
		mu.Lock()
		login := current == "" && token != ""
		current = token
		mu.Unlock()

		if !login {
			a.Channel.SetCredential(token)
			return
		}
		epoch := a.epoch.Load()
		a.logins.Add(1)
		go func() {
			defer a.logins.Done()
			a.loadAll(ctx)
			if !a.finishLogin(epoch) {
				a.log.Info().Msg("session ended during initial load")
			}
		}()
	})

	if a.watcher != nil {
		a.watcher.OnLogout(a.logout)
	}
}

func (a *App) loadAll(ctx context.Context) {
	start := time.Now()
	failed := 0
	for kind, err := range a.Loader.LoadAll(ctx) {
		if err != nil {
			failed++
			a.log.Warn().Err(err).Str("kind", string(kind)).Msg("initial load failed")
		}
	}
	a.log.Info().Int("failed", failed).Dur("took", time.Since(start)).Msg("initial load complete")
}

// finishLogin marks the session loaded and hands the credential to the
// channel, unless a logout happened since the login started.
func (a *App) finishLogin(epoch uint64) bool {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.epoch.Load() != epoch {
		return false
	}
	a.loaded.Store(true)
	a.Channel.SetCredential(a.Creds.Token())
	return true
}

// logout ends the session: the channel is already torn down by the
// revoked credential; the view and cache are cleared and any load still
// running is superseded.
func (a *App) logout() {
	a.sessionMu.Lock()
	a.epoch.Add(1)
	a.loaded.Store(false)
	a.sessionMu.Unlock()

	a.Loader.EndSession(context.Background())
	a.streams.Reset()
	a.log.Info().Msg("session ended")
}

// Run starts every component and blocks until ctx is cancelled or the
// status server fails. A final checkpoint is written on the way out.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.wireSession(ctx)

	g.Go(func() error {
		a.Dispatcher.Run(ctx, a.Channel.Events())
		return nil
	})
	if a.Relay != nil {
		g.Go(func() error {
			a.Relay.Run(ctx)
			return nil
		})
	}
	if a.cfg.Status.Listen != "" {
		g.Go(func() error {
			return a.Status.ListenAndServe(ctx, a.cfg.Status.Listen)
		})
	}
	a.Loader.StartCheckpoints(ctx, config.Millis(a.cfg.Cache.CheckpointIntervalMS))
	a.Scheduler.Start(ctx)

	if a.cfg.Auth.Token != "" {
		a.Creds.Set(a.cfg.Auth.Token)
	}
	if a.watcher != nil {
		a.watcher.Start(ctx)
	}

	a.log.Info().Str("session_id", a.sessionID).Str("api", a.cfg.API.BaseURL).Msg("monitor started")
	<-ctx.Done()

	err := g.Wait()
	a.logins.Wait()
	a.Scheduler.Stop()
	a.Channel.Close()
	a.Loader.Checkpoint(context.Background())
	a.Close()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info().Msg("monitor stopped")
	return err
}

// Close releases external connections.
func (a *App) Close() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.nats.Close()
		}
		a.nats = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
}
