package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tickd/internal/config"
	"tickd/internal/eventbus"
	"tickd/internal/observability/debughttp"
	"tickd/internal/runtime/supervisor"
	"tickd/internal/storage"
	"tickd/internal/timer"
	logx "tickd/pkg/logx"
)

// App wires config, logging, the timer scheduler and the fire history.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sched *timer.Scheduler
	debug *debughttp.Service

	jobs *jobSet

	unsubFires func()
	stopOnce   sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, base := logx.New(mapLogConfig(cfg))
	log := base.Named("app")

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, base)
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("fire history enabled", logx.String("driver", sc.Driver))
	}

	schedLog := base.Named("timer")
	sched := timer.New(
		timer.WithConfig(cfg.Scheduler.TimerConfig()),
		timer.WithLogger(schedLog),
		timer.WithBus(bus),
	)

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	src := debughttp.Sources{Timers: sched.Snapshot}
	if store != nil {
		src.Fires = store.RecentFires
	}
	debug := debughttp.New(dcfg, src, base.Named("debughttp"))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
		debug:   debug,
		jobs:    newJobSet(sched, base.Named("jobs")),
	}, nil
}

func (a *App) Scheduler() *timer.Scheduler { return a.sched }

func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.logs.Logger().Named("config"))

	// The recorder subscribes before any job is registered so no fire is missed.
	if a.store != nil {
		fires, unsub := a.bus.Subscribe(256, timer.EventFired)
		a.unsubFires = unsub
		rec := &recorder{store: a.store, jobs: a.jobs, log: a.logs.Logger().Named("history")}
		a.sup.GoRestart("history.recorder", func(c context.Context) error {
			return rec.run(c, fires)
		}, 250*time.Millisecond, 5*time.Second)
	}

	if err := a.sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.jobs.reconcile(a.cfgm.Get().Jobs)
	a.debug.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)

	a.log.Info("tickd started", logx.String("config", a.cfgPath), logx.Int("jobs", a.jobs.len()))
	return nil
}

// applyConfig applies a reloaded config. Logging and jobs change live;
// scheduler and storage settings need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, jd := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "jobs":
			a.log.Debug("job changes", logx.Any("added", jd.Added), logx.Any("removed", jd.Removed), logx.Any("changed", jd.Changed))
			a.jobs.reconcile(newCfg.Jobs)
		case "debug":
			dcfg, err := mapDebugConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
				continue
			}
			a.debug.Reconfigure(a.sup.Context(), dcfg)
		case "scheduler", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
}

// Stop shuts the app down. Each step gets its own timeout so one stuck
// component cannot hold the rest.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		step := func(name string, timeout time.Duration, fn func(context.Context) error) {
			c, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			if err := fn(c); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step failed", logx.String("step", name), logx.Err(err))
				return
			}
			a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
		}

		step("debughttp", 2*time.Second, func(c context.Context) error {
			a.debug.Stop(c)
			return nil
		})
		step("scheduler", 2*time.Second, func(c context.Context) error {
			done := make(chan struct{})
			go func() {
				a.sched.Stop()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
		// Cancel only after the worker is gone so the recorder sees every fire.
		if a.sup != nil {
			a.sup.Cancel()
			step("supervisor", 2*time.Second, func(c context.Context) error {
				if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
		if a.unsubFires != nil {
			a.unsubFires()
		}
		if a.store != nil {
			step("storage", time.Second, func(context.Context) error { return a.store.Close() })
		}
		a.log.Info("tickd stopped")
		_ = a.logs.Close()
	})
	return errors.Join(errs...)
}
