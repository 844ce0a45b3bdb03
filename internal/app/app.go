// Package app wires the services together: config, logging, storage,
// the Graph sync stack, the task engine, the cron scheduler, and the
// Telegram notifier. CLI commands construct an App and call into the
// service they need; daemon mode additionally runs Start/Stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatsync/internal/alerts"
	"chatsync/internal/config"
	"chatsync/internal/eventbus"
	"chatsync/internal/gitops"
	"chatsync/internal/graph"
	"chatsync/internal/notifier"
	"chatsync/internal/pipeline"
	"chatsync/internal/runtime/supervisor"
	"chatsync/internal/schedule"
	"chatsync/internal/sheet"
	"chatsync/internal/stats"
	"chatsync/internal/storage"
	"chatsync/internal/syncer"
	"chatsync/internal/task/engine"
	logx "chatsync/pkg/logx"
)

// Long-running composite jobs get their own timeout instead of the
// engine default, which is sized for single syncs.
const pipelineTimeout = 2 * time.Hour

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	engine *engine.Service
	sched  *schedule.Service
	notif  *notifier.Service

	msgs   *syncer.Service
	roster *sheet.Service
	stats  *stats.Service
	pipe   *pipeline.Service
	pub    *gitops.Publisher
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("database.busy_timeout", cfg.Database.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	gcfg, err := mapGraphConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := graph.New(gcfg, log.With(logx.String("comp", "graph")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)

	msgs := syncer.New(store, client, cfg.Graph, log.With(logx.String("comp", "sync")), bus, engineSvc)
	roster := sheet.New(store, cfg.Sheet, log.With(logx.String("comp", "sheet")))
	aggSvc := stats.New(store, cfg.Aggregate, cfg.Graph.CorePages, log.With(logx.String("comp", "stats")))

	th, err := alerts.FromConfig(cfg.Alerts)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Aggregate.Timezone)
	if err != nil {
		return nil, fmt.Errorf("aggregate.timezone: %w", err)
	}
	aggregate := func(c context.Context, start, end string) error {
		_, err := aggSvc.Aggregate(c, start, end)
		return err
	}
	pipe := pipeline.New(msgs, roster, aggregate, store, th, loc,
		log.With(logx.String("comp", "pipeline")), bus)

	ncfg, err := notifier.FromConfig(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	var sender notifier.Sender
	if ncfg.Enabled {
		sender, err = notifier.NewTelegramSender(cfg.Notifier.Token, cfg.Notifier.ChatID)
		if err != nil {
			return nil, err
		}
	}
	notifSvc := notifier.New(ncfg, store, sender, log.With(logx.String("comp", "notifier")), bus)

	schedSvc, err := schedule.New(schedule.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "schedule")))
	if err != nil {
		return nil, err
	}

	pub := gitops.New(cfg.Publish, log.With(logx.String("comp", "publish")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  engineSvc,
		sched:   schedSvc,
		notif:   notifSvc,
		msgs:    msgs,
		roster:  roster,
		stats:   aggSvc,
		pipe:    pipe,
		pub:     pub,
	}, nil
}

func (a *App) Config() *config.Config       { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger          { return a.log }
func (a *App) Store() *storage.Store        { return a.store }
func (a *App) Syncer() *syncer.Service      { return a.msgs }
func (a *App) Roster() *sheet.Service       { return a.roster }
func (a *App) Stats() *stats.Service        { return a.stats }
func (a *App) Pipeline() *pipeline.Service  { return a.pipe }
func (a *App) Publisher() *gitops.Publisher { return a.pub }

// Done is closed when the supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs daemon mode: task engine, notifier, cron triggers, config
// hot reload, and systemd readiness/watchdog notifications.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Warn+ log lines go out through the notifier once both sides agree.
	if cfg.Logging.Alert.Enabled && a.notif.Enabled() {
		a.logs.SetAlertSink(a.notif)
	}

	a.engine.Start(a.sup.Context())
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	if err := a.registerTriggers(cfg); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.watchReloads()

	a.notifySystemd()
	a.log.Info("daemon started",
		logx.String("daily_at", cfg.Scheduler.DailyAt),
		logx.String("incremental_every", cfg.Scheduler.IncrementalEvery),
		logx.Bool("scheduler", cfg.Scheduler.Enabled))
	return nil
}

// registerTriggers installs the cron entries. Triggers only enqueue;
// the engine owns execution, retries, and overlap skipping.
func (a *App) registerTriggers(cfg *config.Config) error {
	err := a.sched.AddDaily("pipeline.daily", cfg.Scheduler.DailyAt, func(ctx context.Context) {
		a.enqueue(engine.Task{
			Name:    "pipeline.daily",
			Timeout: pipelineTimeout,
			Run: func(c context.Context) error {
				_, err := a.pipe.Daily(c)
				return err
			},
			Opt: engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		})
	})
	if err != nil {
		return fmt.Errorf("scheduler.daily_at: %w", err)
	}

	if cfg.Scheduler.IncrementalEvery == "" {
		return nil
	}
	every, err := config.ParseDurationField("scheduler.incremental_every", cfg.Scheduler.IncrementalEvery)
	if err != nil {
		return err
	}
	return a.sched.AddEvery("sync.incremental", every, func(ctx context.Context) {
		a.enqueue(engine.Task{
			Name: "sync.incremental",
			Run: func(c context.Context) error {
				_, err := a.msgs.Sync(c, syncer.Options{Kind: "incremental"})
				return err
			},
			Opt: engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		})
	})
}

func (a *App) enqueue(t engine.Task) {
	if err := a.engine.Enqueue(t); err != nil {
		if errors.Is(err, engine.ErrOverlapSkip) {
			a.log.Info("trigger skipped: previous run still active", logx.String("task", t.Name))
			return
		}
		a.log.Warn("trigger enqueue failed", logx.String("task", t.Name), logx.Err(err))
	}
}

// watchReloads applies hot-reloadable config sections as they commit.
// Storage, graph, and scheduler changes need a restart and only warn.
func (a *App) watchReloads() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest pending config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyReload(ctx context.Context, old, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	})

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}

	if old != nil && (old.Database != cfg.Database || old.Scheduler != cfg.Scheduler) {
		a.log.Warn("database/scheduler config changed; restart required to take effect")
	}
	a.log.Info("config applied")
}

// Stop shuts down in trigger-to-sink order so queued work drains.
func (a *App) Stop(ctx context.Context) {
	a.notifySystemdStopping()

	a.sched.Stop(ctx)
	a.engine.Stop(ctx)
	a.notif.Stop(ctx)

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

// Close releases resources for one-shot CLI runs that never Start.
func (a *App) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

func mapGraphConfig(cfg *config.Config) (graph.Config, error) {
	spacing, err := config.ParseDurationOrDefault("graph.min_call_spacing",
		cfg.Graph.MinCallSpacing, config.DefaultMinCallSpacing)
	if err != nil {
		return graph.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("graph.request_timeout",
		cfg.Graph.RequestTimeout, config.DefaultRequestTimeout)
	if err != nil {
		return graph.Config{}, err
	}
	return graph.Config{
		BaseURL:        cfg.Graph.BaseURL,
		APIVersion:     cfg.Graph.APIVersion,
		CallsPerMinute: cfg.Graph.CallsPerMinute,
		MinSpacing:     spacing,
		PageSize:       cfg.Graph.PageSize,
		Timeout:        timeout,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationField("engine.default_timeout", cfg.Engine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("engine.max_queue_delay", cfg.Engine.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        true,
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		DefaultTimeout: timeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    cfg.Engine.HistorySize,
		RetryMax:       cfg.Engine.RetryMax,
	}, nil
}
