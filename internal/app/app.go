// Package app builds the long-lived services of the watcher from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/api"
	"github.com/JakeFAU/release-watcher/internal/batch"
	"github.com/JakeFAU/release-watcher/internal/clock/system"
	"github.com/JakeFAU/release-watcher/internal/command"
	"github.com/JakeFAU/release-watcher/internal/config"
	"github.com/JakeFAU/release-watcher/internal/diff"
	"github.com/JakeFAU/release-watcher/internal/dispatcher"
	"github.com/JakeFAU/release-watcher/internal/extract"
	collyfetcher "github.com/JakeFAU/release-watcher/internal/fetcher/colly"
	"github.com/JakeFAU/release-watcher/internal/fetcher/retry"
	"github.com/JakeFAU/release-watcher/internal/id/uuid"
	"github.com/JakeFAU/release-watcher/internal/metrics"
	"github.com/JakeFAU/release-watcher/internal/policy/ratelimit"
	"github.com/JakeFAU/release-watcher/internal/release"
	"github.com/JakeFAU/release-watcher/internal/scheduler"
	"github.com/JakeFAU/release-watcher/internal/service"
	"github.com/JakeFAU/release-watcher/internal/sink/logsink"
	"github.com/JakeFAU/release-watcher/internal/sink/telegram"
	"github.com/JakeFAU/release-watcher/internal/storage/local"
	"github.com/JakeFAU/release-watcher/internal/storage/memory"
	"github.com/JakeFAU/release-watcher/internal/storage/postgres"
	"github.com/JakeFAU/release-watcher/internal/store"
)

// StartNotice is sent to the owner chat when the loop starts.
const StartNotice = "Я запущен заново"

// statePersister is implemented by every storage backend.
type statePersister interface {
	store.Persister
	store.SubscriberPersister
}

// App holds the wired services.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Commands  *command.Router
	API       *api.Server
	closers   []func()
}

// New wires every component described by cfg. It fails fast when the state
// storage cannot be opened or loaded.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}

	sources, err := cfg.ReleaseSources()
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	clock := system.New(loc)

	persister, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}
	known := store.NewKnownItems(persister)
	if err := known.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load known items: %w", err)
	}
	registry := store.NewRegistry(persister)
	if err := registry.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Fetch.RatePerHost, Burst: cfg.Fetch.Burst})
	base, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
		Proxy:     cfg.Fetch.Proxy,
	}, limiter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	rater := extract.NewRatingClient(base, cfg.Rating.BaseURL)
	rules, err := extract.NewSet(sources,
		extract.NewMegashara(rater, logger.Named("megashara")),
		extract.NewLordsfilm(),
		extract.NewNewstudio(clock),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build rules: %w", err)
	}
	fetcher := retry.New(base, retry.Policy{
		MaxRetries: cfg.Fetch.Retry.MaxRetries,
		Backoff:    cfg.Fetch.Retry.Backoff,
	}, familySelector(rules, cfg.Fetch.Retry.Families), logger.Named("retry"))

	sink, err := newSink(cfg.Telegram, cfg.Fetch.Proxy, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	formatter := dispatcher.NewFormatter(dispatcher.Filter{
		ExcludeGenres:  cfg.Filters.ExcludeGenres,
		AllowCountries: cfg.Filters.AllowCountries,
	}, cfg.Filters.ExcludeTitleMarkers)
	batcher := batch.New(fetcher, rules, formatter, batch.Config{
		LaunchDelay: cfg.Batch.LaunchDelay,
		Pause:       cfg.Batch.Pause,
		PauseEvery:  cfg.Batch.PauseEvery,
		MaxInFlight: cfg.Batch.MaxInFlight,
	}, logger.Named("batch"))

	a.Scheduler = scheduler.New(scheduler.Config{
		Interval:         cfg.Scheduler.Interval,
		WarmupCooldown:   cfg.Scheduler.WarmupCooldown,
		RecoveryInterval: cfg.Scheduler.RecoveryInterval,
		SkipFirstAlert:   cfg.Scheduler.SkipFirstAlert,
	}, sources, scheduler.Deps{
		Differ:    diff.New(fetcher, rules, known, logger.Named("diff")),
		Extractor: batcher,
		Notifier:  dispatcher.New(formatter, sink, registry, logger.Named("dispatcher")),
		Known:     known,
		IDs:       uuid.New(),
		Clock:     clock,
		Logger:    logger.Named("scheduler"),
	})

	a.Service = service.New(service.Config{
		RecentLimit: cfg.Lookup.RecentLimit,
		DefaultCode: cfg.Lookup.DefaultCode,
		OwnerChatID: cfg.Telegram.OwnerID,
	}, service.Deps{
		Rules:    rules,
		Known:    known,
		Registry: registry,
		Renderer: batcher,
		Poller:   a.Scheduler,
		Fetcher:  base,
		Sink:     sink,
		Logger:   logger.Named("service"),
	})
	a.Commands = command.NewRouter(a.Service, cfg.Lookup.DefaultCode, logger.Named("command"))
	a.API = api.NewServer(api.Config{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, a.Service, a.Commands, nil, logger.Named("api"))

	logger.Info("application services initialized",
		zap.Int("sources", len(sources)),
		zap.Int("subscribers", registry.Len()),
		zap.String("state_backend", cfg.State.Backend),
	)
	return a, nil
}

func (a *App) openState(ctx context.Context) (statePersister, error) {
	switch a.cfg.State.Backend {
	case config.BackendPostgres:
		pg := a.cfg.State.Postgres
		st, err := postgres.New(ctx, postgres.Config{
			DSN:             pg.DSN,
			ItemsTable:      pg.ItemsTable,
			SubscriberTable: pg.SubscriberTable,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres state: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case config.BackendMemory:
		return memory.NewStateStore(), nil
	default:
		st, err := local.New(local.Config{BaseDir: a.cfg.State.Dir})
		if err != nil {
			return nil, fmt.Errorf("open state directory: %w", err)
		}
		return st, nil
	}
}

func newSink(cfg config.TelegramConfig, proxy string, logger *zap.Logger) (release.Sink, error) {
	if cfg.Token == "" {
		logger.Warn("telegram.token not set; messages will only be logged")
		return logsink.New(logger.Named("sink")), nil
	}
	sink, err := telegram.New(telegram.Config{
		Token:   cfg.Token,
		APIBase: cfg.APIBase,
		Proxy:   proxy,
	}, logger.Named("telegram"))
	if err != nil {
		return nil, fmt.Errorf("build telegram sink: %w", err)
	}
	return sink, nil
}

// familySelector applies retries to identifiers whose rule family is listed.
func familySelector(rules *extract.Set, families []string) retry.Selector {
	return func(rawURL string) bool {
		src, _, ok := rules.Resolve(rawURL)
		return ok && slices.Contains(families, string(src.Family))
	}
}

// Serve runs the poll loop and the HTTP server until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.API.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Service.NotifyOwner(ctx, StartNotice)

	loopDone := make(chan error, 1)
	go func() {
		a.logger.Info("poll loop started")
		loopDone <- a.Scheduler.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
			return
		}
		serveErr <- nil
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("poll loop stopped", zap.Error(err))
	}
	return <-serveErr
}

// Close releases storage connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
